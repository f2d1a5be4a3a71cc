package devserver

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/zyeachat/pkg/model"
	"github.com/NicolasHaas/zyeachat/pkg/protocol"
	"github.com/NicolasHaas/zyeachat/pkg/protocol/pb"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 25 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 64
)

// peer is one open WebSocket connection. A user may hold several.
type peer struct {
	userID string
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
}

func (p *peer) close() {
	p.once.Do(func() { close(p.done) })
}

func (p *peer) goingAway() {
	_ = p.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
		time.Now().Add(writeWait))
}

// Hub relays realtime frames between connected users.
type Hub struct {
	store   *Store
	metrics *Metrics

	mu    sync.RWMutex
	peers map[string]map[*peer]struct{}
}

func NewHub(st *Store, m *Metrics) *Hub {
	return &Hub{
		store:   st,
		metrics: m,
		peers:   make(map[string]map[*peer]struct{}),
	}
}

func (h *Hub) register(p *peer) {
	h.mu.Lock()
	set := h.peers[p.userID]
	if set == nil {
		set = make(map[*peer]struct{})
		h.peers[p.userID] = set
	}
	set[p] = struct{}{}
	h.mu.Unlock()

	h.metrics.ConnectionsActive.Inc()
	h.metrics.ConnectionsTotal.Inc()
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	if set := h.peers[p.userID]; set != nil {
		delete(set, p)
		if len(set) == 0 {
			delete(h.peers, p.userID)
		}
	}
	h.mu.Unlock()

	h.metrics.ConnectionsActive.Dec()
}

// Online reports how many connections userID currently holds.
func (h *Hub) Online(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers[userID])
}

// CloseAll drops every connection, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, set := range h.peers {
		for p := range set {
			p.close()
		}
	}
}

// SendTo queues a frame for every connection of userID and reports whether
// at least one connection took it. Slow connections drop the frame.
func (h *Hub) SendTo(userID, event string, payload any) bool {
	f, err := protocol.NewFrame(event, payload)
	if err != nil {
		slog.Error("build frame", "event", event, "err", err)
		return false
	}
	data, err := protocol.Marshal(f)
	if err != nil {
		slog.Error("marshal frame", "event", event, "err", err)
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := false
	for p := range h.peers[userID] {
		select {
		case p.send <- data:
			delivered = true
		default:
			slog.Warn("send buffer full, dropping frame", "user_id", userID, "event", event)
		}
	}
	if delivered {
		h.metrics.Relayed.WithLabelValues(event).Inc()
	} else {
		h.metrics.Undelivered.WithLabelValues(event).Inc()
	}
	return delivered
}

// serve runs one upgraded connection until it fails or ctx ends.
func (h *Hub) serve(ctx context.Context, ws *websocket.Conn, userID string) {
	p := &peer{
		userID: userID,
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
	h.register(p)
	slog.Info("realtime connected", "user_id", userID, "remote", ws.RemoteAddr())

	go h.writeLoop(ctx, p)
	h.readLoop(ctx, p)

	p.close()
	h.unregister(p)
	_ = ws.Close()
	slog.Info("realtime disconnected", "user_id", userID)
}

func (h *Hub) writeLoop(ctx context.Context, p *peer) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer func() { _ = p.ws.Close() }()

	for {
		select {
		case data := <-p.send:
			_ = p.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("write failed", "user_id", p.userID, "err", err)
				return
			}
		case <-ticker.C:
			if err := p.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-p.done:
			p.goingAway()
			return
		case <-ctx.Done():
			p.close()
			p.goingAway()
			return
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, p *peer) {
	p.ws.SetReadLimit(protocol.MaxFrameSize)
	_ = p.ws.SetReadDeadline(time.Now().Add(pongWait))
	p.ws.SetPongHandler(func(string) error {
		return p.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := p.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("read failed", "user_id", p.userID, "err", err)
			}
			return
		}
		_ = p.ws.SetReadDeadline(time.Now().Add(pongWait))

		f, err := protocol.Unmarshal(data)
		if err != nil {
			slog.Warn("bad frame", "user_id", p.userID, "err", err)
			continue
		}
		h.metrics.Frames.WithLabelValues(f.Event).Inc()
		h.dispatch(ctx, p, f)
	}
}

func (h *Hub) dispatch(ctx context.Context, p *peer, f *protocol.Frame) {
	switch f.Event {
	case protocol.EventJoin:
		var claimed string
		if err := f.Decode(&claimed); err == nil && claimed != p.userID {
			slog.Warn("join for another user ignored", "user_id", p.userID, "claimed", claimed)
			return
		}
		slog.Debug("joined", "user_id", p.userID)

	case protocol.EventSendMessage:
		var req pb.SendMessage
		if err := f.Decode(&req); err != nil {
			slog.Warn("bad sendMessage", "user_id", p.userID, "err", err)
			return
		}
		h.handleSendMessage(ctx, p.userID, &req)

	case protocol.EventCallUser:
		var req pb.CallUser
		if err := f.Decode(&req); err != nil || req.ReceiverID == "" {
			slog.Warn("bad callUser", "user_id", p.userID, "err", err)
			return
		}
		h.handleCallUser(ctx, p.userID, &req)

	case protocol.EventCallAccepted:
		var req pb.CallAccepted
		if err := f.Decode(&req); err != nil || req.CallerID == "" {
			slog.Warn("bad callAccepted", "user_id", p.userID, "err", err)
			return
		}
		req.ReceiverID = p.userID
		h.SendTo(req.CallerID, protocol.EventCallAccepted, &req)

	case protocol.EventCallRejected:
		var req pb.CallRejected
		if err := f.Decode(&req); err != nil || req.CallerID == "" {
			slog.Warn("bad callRejected", "user_id", p.userID, "err", err)
			return
		}
		req.ReceiverID = p.userID
		h.SendTo(req.CallerID, protocol.EventCallRejected, &req)

	case protocol.EventEndCall:
		var req pb.EndCall
		if err := f.Decode(&req); err != nil || req.ReceiverID == "" {
			slog.Warn("bad endCall", "user_id", p.userID, "err", err)
			return
		}
		h.SendTo(req.ReceiverID, protocol.EventCallEnded, &pb.CallEnded{CallerID: p.userID})

	default:
		slog.Debug("unhandled event", "user_id", p.userID, "event", f.Event)
	}
}

// handleSendMessage stamps the message with an id and the sender's profile,
// counts it as unread for the receiver and echoes it to the sender's devices.
func (h *Hub) handleSendMessage(ctx context.Context, senderID string, req *pb.SendMessage) {
	if req.ReceiverID == "" {
		slog.Warn("sendMessage without receiver", "user_id", senderID)
		return
	}
	msg := &model.Message{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		ReceiverID:     req.ReceiverID,
		Text:           req.Text,
		Type:           req.Type,
		User:           &model.Sender{ID: senderID},
		CreatedAt:      time.Now().UTC(),
	}
	if msg.Type == "" {
		msg.Type = model.MessageText
	}
	if err := msg.Validate(); err != nil {
		slog.Warn("message rejected", "user_id", senderID, "err", err)
		return
	}
	if msg.ConversationID == "" {
		msg.ConversationID = directConversationID(senderID, req.ReceiverID)
	}

	if u, err := h.store.GetUser(ctx, senderID); err != nil {
		slog.Error("load sender", "user_id", senderID, "err", err)
	} else if u != nil {
		msg.User.Name = u.Name
		msg.User.Avatar = u.Avatar
	}

	if err := h.store.IncrementUnread(ctx, msg.ConversationID, req.ReceiverID, senderID); err != nil {
		slog.Error("count unread", "err", err)
	}

	h.SendTo(req.ReceiverID, protocol.EventReceiveMessage, msg)
	h.SendTo(senderID, protocol.EventReceiveMessage, msg)
}

func (h *Hub) handleCallUser(ctx context.Context, callerID string, req *pb.CallUser) {
	call := &model.IncomingCall{
		CallerID:     callerID,
		CallerName:   req.CallerName,
		CallerAvatar: req.CallerAvatar,
		ChannelName:  req.ChannelName,
		IsVideo:      req.IsVideo,
	}
	if call.CallerName == "" {
		if u, err := h.store.GetUser(ctx, callerID); err == nil && u != nil {
			call.CallerName = u.Name
			if call.CallerAvatar == "" {
				call.CallerAvatar = u.Avatar
			}
		}
	}
	if call.ChannelName == "" {
		call.ChannelName = uuid.NewString()
	}
	if !h.SendTo(req.ReceiverID, protocol.EventIncomingCall, call) {
		slog.Info("callee offline", "caller", callerID, "receiver", req.ReceiverID)
	}
}

// directConversationID is stable regardless of who writes first.
func directConversationID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// upgrader accepts any origin; the dev server is not meant to face browsers.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}
