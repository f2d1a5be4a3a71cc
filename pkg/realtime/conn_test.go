package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NicolasHaas/zyeachat/pkg/model"
	"github.com/NicolasHaas/zyeachat/pkg/protocol"
	pb "github.com/NicolasHaas/zyeachat/pkg/protocol/pb"
)

func TestWebsocketDialerRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	gotAuth := make(chan string, 1)
	gotJoin := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization") + " " + r.URL.Query().Get("userId")
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer ws.Close()

		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		f, err := protocol.Unmarshal(data)
		if err != nil {
			t.Errorf("server unmarshal: %v", err)
			return
		}
		var join string
		_ = f.Decode(&join)
		gotJoin <- join

		// A junk frame first: it must be skipped, not fatal.
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"payload":{}}`))
		out, _ := protocol.NewFrame(protocol.EventCallEnded, pb.CallEnded{CallerID: "9"})
		data, _ = protocol.Marshal(out)
		_ = ws.WriteMessage(websocket.TextMessage, data)

		// Hold the socket open until the client closes.
		_, _, _ = ws.ReadMessage()
	}))
	defer srv.Close()

	m := NewManager(&WebsocketDialer{URL: strings.Replace(srv.URL, "http://", "ws://", 1) + "/socket"}, nil)
	ended := make(chan string, 1)
	On(m.Bus(), protocol.EventCallEnded, func(e pb.CallEnded) { ended <- e.CallerID })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Connect(ctx, "42", "secret"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer m.Disconnect("test done")

	if got := <-gotAuth; got != "Bearer secret 42" {
		t.Errorf("handshake = %q", got)
	}
	select {
	case join := <-gotJoin:
		if join != "42" {
			t.Errorf("join = %q", join)
		}
	case <-ctx.Done():
		t.Fatal("no join frame")
	}
	select {
	case id := <-ended:
		if id != "9" {
			t.Errorf("callEnded caller = %q", id)
		}
	case <-ctx.Done():
		t.Fatal("no callEnded event")
	}
}

func TestWebsocketDialerHTTPScheme(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, _, _ = ws.ReadMessage()
		ws.Close()
	}))
	defer srv.Close()

	d := &WebsocketDialer{URL: srv.URL}
	conn, err := d.Dial(context.Background(), "1", "")
	if err != nil {
		t.Fatalf("Dial over http:// url: %v", err)
	}
	f, _ := protocol.NewFrame(protocol.EventReceiveMessage, model.Message{Text: "x"})
	if err := conn.WriteFrame(f); err != nil {
		t.Errorf("WriteFrame: %v", err)
	}
	_ = conn.Close()
}
