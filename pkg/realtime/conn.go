package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/zyeachat/pkg/protocol"
	"github.com/NicolasHaas/zyeachat/pkg/version"
)

// Conn is one open realtime connection.
type Conn interface {
	// ReadFrame blocks until the next frame arrives or the connection fails.
	ReadFrame() (*protocol.Frame, error)
	WriteFrame(f *protocol.Frame) error
	Close() error
}

// Dialer opens connections for a user.
type Dialer interface {
	Dial(ctx context.Context, userID, token string) (Conn, error)
}

const writeTimeout = 10 * time.Second

// WebsocketDialer connects to the backend's WebSocket endpoint. The user id
// goes in the query string and the token in the Authorization header.
type WebsocketDialer struct {
	URL    string
	Dialer *websocket.Dialer // optional; websocket.DefaultDialer when nil
}

func (d *WebsocketDialer) Dial(ctx context.Context, userID, token string) (Conn, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("realtime: parse url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	q.Set("userId", userID)
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime: dial %s: %w (status %d)", u.Host, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("realtime: dial %s: %w", u.Host, err)
	}
	return NewWebsocketConn(ws), nil
}

// WebsocketConn adapts a gorilla connection to Conn. Writes are serialised;
// gorilla allows only one concurrent writer.
type WebsocketConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func NewWebsocketConn(ws *websocket.Conn) *WebsocketConn {
	ws.SetReadLimit(protocol.MaxFrameSize)
	return &WebsocketConn{ws: ws}
}

// ReadFrame skips malformed frames rather than failing the connection.
func (c *WebsocketConn) ReadFrame() (*protocol.Frame, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if kind != websocket.TextMessage {
			continue
		}
		f, err := protocol.Unmarshal(data)
		if err != nil {
			slog.Warn("skip malformed realtime frame", "err", err)
			continue
		}
		return f, nil
	}
}

func (c *WebsocketConn) WriteFrame(f *protocol.Frame) error {
	data, err := protocol.Marshal(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *WebsocketConn) Close() error {
	c.mu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	return c.ws.Close()
}

// isClosedErr reports errors that mean the peer or we closed the socket.
func isClosedErr(err error) bool {
	if err == nil {
		return false
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}
