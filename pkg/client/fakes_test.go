package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/NicolasHaas/zyeachat/pkg/model"
	"github.com/NicolasHaas/zyeachat/pkg/protocol"
	"github.com/NicolasHaas/zyeachat/pkg/realtime"
	"github.com/NicolasHaas/zyeachat/pkg/tokenstore"
)

var errNetwork = errors.New("network unreachable")

// fakeBackend serves users and unread counts keyed by token.
type fakeBackend struct {
	mu       sync.Mutex
	users    map[string]model.User
	unread   map[string]model.UnreadSummary
	down     bool // every call fails with errNetwork
	meCalls  int
	logouts  []string
	pushRegs map[string]string // token -> push token
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		users:    make(map[string]model.User),
		unread:   make(map[string]model.UnreadSummary),
		pushRegs: make(map[string]string),
	}
}

func (b *fakeBackend) addUser(token, id, name string) {
	b.mu.Lock()
	b.users[token] = model.User{ID: id, Name: name}
	b.mu.Unlock()
}

func (b *fakeBackend) revoke(token string) {
	b.mu.Lock()
	delete(b.users, token)
	b.mu.Unlock()
}

func (b *fakeBackend) setUnread(token string, s model.UnreadSummary) {
	b.mu.Lock()
	b.unread[token] = s
	b.mu.Unlock()
}

func (b *fakeBackend) setDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

func (b *fakeBackend) check(token string) error {
	if b.down {
		return errNetwork
	}
	if _, ok := b.users[token]; !ok {
		return model.ErrUnauthorized
	}
	return nil
}

func (b *fakeBackend) Me(_ context.Context, token string) (*model.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.meCalls++
	if err := b.check(token); err != nil {
		return nil, err
	}
	u := b.users[token]
	return &u, nil
}

func (b *fakeBackend) Unread(_ context.Context, token string) (model.UnreadSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(token); err != nil {
		return model.UnreadSummary{}, err
	}
	return b.unread[token], nil
}

func (b *fakeBackend) Logout(_ context.Context, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logouts = append(b.logouts, token)
	return b.check(token)
}

func (b *fakeBackend) RegisterPushToken(_ context.Context, token, push string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.check(token); err != nil {
		return err
	}
	b.pushRegs[token] = push
	return nil
}

func (b *fakeBackend) MeCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.meCalls
}

// fakeConn and fakeDialer stand in for the WebSocket transport.
type fakeConn struct {
	dialer *fakeDialer
	userID string
	in     chan *protocol.Frame
	done   chan struct{}

	mu      sync.Mutex
	written []*protocol.Frame
	closed  bool
}

func (c *fakeConn) ReadFrame() (*protocol.Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.done:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteFrame(f *protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.ErrClosedPipe
	}
	c.written = append(c.written, f)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()
	c.dialer.release()
	return nil
}

func (c *fakeConn) deliver(t *testing.T, event string, payload any) {
	t.Helper()
	f, err := protocol.NewFrame(event, payload)
	if err != nil {
		t.Fatal(err)
	}
	c.in <- f
}

// sent returns written frames for event.
func (c *fakeConn) sent(event string) []*protocol.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*protocol.Frame
	for _, f := range c.written {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	open    int
	maxOpen int
	fail    error
}

func (d *fakeDialer) Dial(_ context.Context, userID, _ string) (realtime.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return nil, d.fail
	}
	c := &fakeConn{dialer: d, userID: userID, in: make(chan *protocol.Frame, 16), done: make(chan struct{})}
	d.conns = append(d.conns, c)
	d.open++
	if d.open > d.maxOpen {
		d.maxOpen = d.open
	}
	return c, nil
}

func (d *fakeDialer) release() {
	d.mu.Lock()
	d.open--
	d.mu.Unlock()
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) stats() (dials, open, maxOpen int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns), d.open, d.maxOpen
}

// recorders for UI collaborators.

type recordingNavigator struct {
	mu     sync.Mutex
	routes []Route
}

func (n *recordingNavigator) Navigate(r Route) {
	n.mu.Lock()
	n.routes = append(n.routes, r)
	n.mu.Unlock()
}

func (n *recordingNavigator) all() []Route {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Route(nil), n.routes...)
}

type recordingBadge struct {
	mu     sync.Mutex
	values []int
}

func (b *recordingBadge) SetBadge(n int) error {
	b.mu.Lock()
	b.values = append(b.values, n)
	b.mu.Unlock()
	return nil
}

func (b *recordingBadge) last() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.values) == 0 {
		return -1
	}
	return b.values[len(b.values)-1]
}

type recordingNotifier struct {
	mu    sync.Mutex
	shown []Notification
}

func (r *recordingNotifier) Notify(n Notification) error {
	r.mu.Lock()
	r.shown = append(r.shown, n)
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) all() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.shown...)
}

// harness bundles an engine with its fakes.
type harness struct {
	engine   *Engine
	backend  *fakeBackend
	dialer   *fakeDialer
	store    *tokenstore.Memory
	nav      *recordingNavigator
	badge    *recordingBadge
	notifier *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		backend:  newFakeBackend(),
		dialer:   &fakeDialer{},
		store:    tokenstore.NewMemory(),
		nav:      &recordingNavigator{},
		badge:    &recordingBadge{},
		notifier: &recordingNotifier{},
	}
	cfg := DefaultConfig()
	cfg.PollInterval = time.Hour
	cfg.ChatListPollInterval = time.Hour
	h.engine = NewEngine(cfg, Dependencies{
		Store:     h.store,
		Backend:   h.backend,
		Realtime:  realtime.NewManager(h.dialer, nil),
		Navigator: h.nav,
		Badge:     h.badge,
		Notifier:  h.notifier,
	})
	t.Cleanup(func() { _ = h.engine.Close() })
	return h
}

func (h *harness) storedToken(t *testing.T) string {
	t.Helper()
	tok, err := h.store.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
