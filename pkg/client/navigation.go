package client

import (
	"context"
	"sync"

	"github.com/NicolasHaas/zyeachat/pkg/model"
)

// Screen names a destination in the app's navigation stack.
type Screen string

const (
	ScreenLogin      Screen = "Login"
	ScreenMain       Screen = "Main"
	ScreenChatDetail Screen = "ChatDetail"
	ScreenCall       Screen = "Call"
)

// CallParams are handed to the call screen.
type CallParams struct {
	PartnerID   string
	UserName    string
	Avatar      string
	ChannelName string
	IsVideo     bool
	IsIncoming  bool
}

// Route is one navigation request. Chat is set for ScreenChatDetail and
// Call for ScreenCall.
type Route struct {
	Screen Screen
	Chat   *model.ChatTarget
	Call   *CallParams
}

// Navigator moves the UI to a route.
type Navigator interface {
	Navigate(r Route)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(r Route)

func (f NavigatorFunc) Navigate(r Route) { f(r) }

// ReadySignal is closed once the navigation container can accept routes.
type ReadySignal struct {
	once sync.Once
	ch   chan struct{}
}

func NewReadySignal() *ReadySignal {
	return &ReadySignal{ch: make(chan struct{})}
}

// MarkReady releases everything waiting on the signal. Safe to call twice.
func (r *ReadySignal) MarkReady() {
	r.once.Do(func() { close(r.ch) })
}

// Ready returns a channel closed when navigation is ready.
func (r *ReadySignal) Ready() <-chan struct{} { return r.ch }

func (r *ReadySignal) IsReady() bool {
	select {
	case <-r.ch:
		return true
	default:
		return false
	}
}

// router defers routes until the ReadySignal fires. Only the latest
// deferred route is delivered, and a route never lands after a newer one.
type router struct {
	nav   Navigator
	ready *ReadySignal

	mu         sync.Mutex
	seq        uint64
	pending    *Route
	pendingSeq uint64
	waiting    bool

	navMu     sync.Mutex
	delivered uint64
}

func newRouter(nav Navigator, ready *ReadySignal) *router {
	return &router{nav: nav, ready: ready}
}

// Go navigates now when ready, otherwise once ready or never if ctx ends
// first.
func (r *router) Go(ctx context.Context, route Route) {
	if r.nav == nil {
		return
	}

	r.mu.Lock()
	r.seq++
	seq := r.seq
	if r.ready.IsReady() {
		r.pending = nil
		r.mu.Unlock()
		r.deliver(seq, route)
		return
	}
	r.pending = &route
	r.pendingSeq = seq
	if r.waiting {
		r.mu.Unlock()
		return
	}
	r.waiting = true
	r.mu.Unlock()

	go func() {
		select {
		case <-r.ready.Ready():
		case <-ctx.Done():
		}
		r.mu.Lock()
		next, nextSeq := r.pending, r.pendingSeq
		r.pending = nil
		r.waiting = false
		r.mu.Unlock()

		if next != nil && ctx.Err() == nil {
			r.deliver(nextSeq, *next)
		}
	}()
}

// deliver navigates unless a newer route has already been delivered.
func (r *router) deliver(seq uint64, route Route) {
	r.navMu.Lock()
	defer r.navMu.Unlock()
	if seq <= r.delivered {
		return
	}
	r.delivered = seq
	r.nav.Navigate(route)
}
