package realtime

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/NicolasHaas/zyeachat/pkg/protocol"
)

// fakeConn is an in-memory Conn. Frames pushed with deliver are returned by
// ReadFrame; written frames are recorded.
type fakeConn struct {
	dialer *fakeDialer
	userID string
	in     chan *protocol.Frame

	mu      sync.Mutex
	written []*protocol.Frame
	closed  bool
	done    chan struct{}
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
		return errors.New("write on closed conn")
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
	c.dialer.closed()
	return nil
}

func (c *fakeConn) deliver(event string, payload any) {
	f, err := protocol.NewFrame(event, payload)
	if err != nil {
		panic(err)
	}
	c.in <- f
}

// drop simulates the network going away.
func (c *fakeConn) drop() { _ = c.Close() }

func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, f := range c.written {
		out[i] = f.Event
	}
	return out
}

// fakeDialer counts open connections and remembers the peak.
type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	open    int
	maxOpen int
	fail    error
}

func (d *fakeDialer) Dial(_ context.Context, userID, _ string) (Conn, error) {
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

func (d *fakeDialer) closed() {
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
