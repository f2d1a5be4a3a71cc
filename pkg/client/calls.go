package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/NicolasHaas/zyeachat/pkg/model"
	"github.com/NicolasHaas/zyeachat/pkg/protocol"
	pb "github.com/NicolasHaas/zyeachat/pkg/protocol/pb"
	"github.com/NicolasHaas/zyeachat/pkg/realtime"
)

// CallState is the lifecycle of the pending incoming call.
type CallState int

const (
	CallIdle CallState = iota
	CallRinging
	CallAccepted
	CallRejected
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallRinging:
		return "ringing"
	case CallAccepted:
		return "accepted"
	case CallRejected:
		return "rejected"
	default:
		return fmt.Sprintf("CallState(%d)", int(s))
	}
}

// Emitter sends realtime events. realtime.Manager implements it.
type Emitter interface {
	Emit(event string, payload any) bool
}

// CallCoordinator holds at most one pending incoming call. A newer
// incomingCall replaces the pending one.
type CallCoordinator struct {
	emit     Emitter
	selfID   func() string
	navigate func(Route)

	mu      sync.Mutex
	state   CallState
	pending *model.IncomingCall

	// OnChange observes every transition. Called without locks held.
	OnChange func(state CallState, call *model.IncomingCall)
}

// NewCallCoordinator wires the coordinator to an emitter, the local user id
// and navigation.
func NewCallCoordinator(emit Emitter, selfID func() string, navigate func(Route)) *CallCoordinator {
	return &CallCoordinator{emit: emit, selfID: selfID, navigate: navigate}
}

// Attach subscribes the coordinator to incomingCall and callEnded.
func (c *CallCoordinator) Attach(bus *realtime.Bus) []*realtime.Subscription {
	return []*realtime.Subscription{
		realtime.On(bus, protocol.EventIncomingCall, func(call model.IncomingCall) {
			if err := c.HandleIncoming(call); err != nil {
				slog.Warn("ignore incoming call", "err", err)
			}
		}),
		realtime.On(bus, protocol.EventCallEnded, func(ev pb.CallEnded) {
			c.HandleEnded(ev.CallerID)
		}),
	}
}

// HandleIncoming makes call the pending call and starts ringing.
func (c *CallCoordinator) HandleIncoming(call model.IncomingCall) error {
	if err := call.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.pending != nil && c.state == CallRinging {
		slog.Info("incoming call replaces pending call", "previous", c.pending.CallerID, "caller", call.CallerID)
	}
	c.pending = &call
	c.state = CallRinging
	c.mu.Unlock()

	slog.Info("incoming call", "caller", call.CallerID, "video", call.IsVideo)
	c.changed(CallRinging, &call)
	return nil
}

// HandleEnded stops ringing when the caller hangs up first. Reports
// whether the pending call was cleared.
func (c *CallCoordinator) HandleEnded(callerID string) bool {
	c.mu.Lock()
	if c.state != CallRinging || c.pending == nil || c.pending.CallerID != callerID {
		c.mu.Unlock()
		return false
	}
	c.pending = nil
	c.state = CallIdle
	c.mu.Unlock()

	slog.Info("incoming call ended by caller", "caller", callerID)
	c.changed(CallIdle, nil)
	return true
}

// Accept answers the ringing call: notifies the caller and opens the call
// screen.
func (c *CallCoordinator) Accept() (CallParams, error) {
	c.mu.Lock()
	if c.state != CallRinging || c.pending == nil {
		c.mu.Unlock()
		return CallParams{}, model.ErrNoPendingCall
	}
	call := *c.pending
	c.pending = nil
	c.state = CallAccepted
	c.mu.Unlock()

	if !c.emit.Emit(protocol.EventCallAccepted, pb.CallAccepted{
		CallerID:    call.CallerID,
		ReceiverID:  c.selfID(),
		ChannelName: call.ChannelName,
	}) {
		slog.Warn("callAccepted not delivered, realtime offline", "caller", call.CallerID)
	}

	params := CallParams{
		PartnerID:   call.CallerID,
		UserName:    call.CallerName,
		Avatar:      call.CallerAvatar,
		ChannelName: call.ChannelName,
		IsVideo:     call.IsVideo,
		IsIncoming:  true,
	}
	c.changed(CallAccepted, &call)
	if c.navigate != nil {
		c.navigate(Route{Screen: ScreenCall, Call: &params})
	}
	return params, nil
}

// Reject declines the ringing call and returns to idle.
func (c *CallCoordinator) Reject() error {
	c.mu.Lock()
	if c.state != CallRinging || c.pending == nil {
		c.mu.Unlock()
		return model.ErrNoPendingCall
	}
	call := *c.pending
	c.pending = nil
	c.state = CallRejected
	c.mu.Unlock()

	if !c.emit.Emit(protocol.EventCallRejected, pb.CallRejected{
		CallerID:   call.CallerID,
		ReceiverID: c.selfID(),
	}) {
		slog.Warn("callRejected not delivered, realtime offline", "caller", call.CallerID)
	}
	c.changed(CallRejected, &call)

	c.mu.Lock()
	// A new call may have arrived in between.
	idle := c.state == CallRejected
	if idle {
		c.state = CallIdle
	}
	c.mu.Unlock()
	if idle {
		c.changed(CallIdle, nil)
	}
	return nil
}

// Dismiss drops any pending call without signalling the caller.
func (c *CallCoordinator) Dismiss() {
	c.mu.Lock()
	was := c.state
	c.pending = nil
	c.state = CallIdle
	c.mu.Unlock()
	if was != CallIdle {
		c.changed(CallIdle, nil)
	}
}

func (c *CallCoordinator) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns the ringing call, if any.
func (c *CallCoordinator) Pending() (model.IncomingCall, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return model.IncomingCall{}, false
	}
	return *c.pending, true
}

func (c *CallCoordinator) changed(s CallState, call *model.IncomingCall) {
	if c.OnChange != nil {
		c.OnChange(s, call)
	}
}

// navigateFunc adapts the engine router for the coordinator.
func navigateFunc(ctx context.Context, r *router) func(Route) {
	return func(route Route) { r.Go(ctx, route) }
}
