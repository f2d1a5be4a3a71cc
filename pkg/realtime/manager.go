// Package realtime owns the client's single realtime connection and routes
// its events to subscribers.
package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/NicolasHaas/zyeachat/pkg/protocol"
)

// State of the managed connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StateFunc observes state transitions. It is called without locks held.
type StateFunc func(state State, userID string)

// Manager holds at most one connection, keyed to the user it was opened
// for. Switching users always closes the previous connection before the
// next one is dialed.
type Manager struct {
	dialer Dialer
	bus    *Bus

	// opMu serialises Connect, Disconnect and Resume.
	opMu sync.Mutex

	mu      sync.RWMutex
	state   State
	userID  string // user the connection should belong to; "" when none expected
	token   string
	conn    Conn
	onState StateFunc
}

// NewManager creates a manager. A nil bus gets a fresh one.
func NewManager(dialer Dialer, bus *Bus) *Manager {
	if bus == nil {
		bus = NewBus()
	}
	return &Manager{dialer: dialer, bus: bus}
}

// Bus returns the bus frames are published on.
func (m *Manager) Bus() *Bus { return m.bus }

// Subscribe is shorthand for m.Bus().Subscribe.
func (m *Manager) Subscribe(event string, fn Handler) *Subscription {
	return m.bus.Subscribe(event, fn)
}

// OnStateChange sets the state observer.
func (m *Manager) OnStateChange(fn StateFunc) {
	m.mu.Lock()
	m.onState = fn
	m.mu.Unlock()
}

// Connect opens the connection for userID and announces it with a join
// frame. Already connected for the same user and token is a no-op; any
// other existing connection is closed first.
func (m *Manager) Connect(ctx context.Context, userID, token string) error {
	if userID == "" {
		return fmt.Errorf("realtime: connect: empty user id")
	}
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	same := m.conn != nil && m.userID == userID && m.token == token
	m.mu.RUnlock()
	if same {
		return nil
	}

	m.closeCurrent("user changed")

	m.mu.Lock()
	m.userID, m.token = userID, token
	m.mu.Unlock()

	return m.dial(ctx)
}

// Disconnect closes the connection and forgets the expected user.
func (m *Manager) Disconnect(reason string) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.closeCurrent(reason)

	m.mu.Lock()
	m.userID, m.token = "", ""
	m.mu.Unlock()
}

// Resume is called when the app returns to the foreground. A lost
// connection is re-dialed; a live one re-announces its user.
func (m *Manager) Resume(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	userID, conn := m.userID, m.conn
	m.mu.RUnlock()

	switch {
	case userID == "":
		return nil
	case conn == nil:
		slog.Info("realtime reconnecting", "user_id", userID)
		return m.dial(ctx)
	default:
		if err := conn.WriteFrame(joinFrame(userID)); err != nil {
			slog.Warn("realtime rejoin failed", "user_id", userID, "err", err)
		}
		return nil
	}
}

// Emit sends event with payload. Without a connection it does nothing and
// returns false.
func (m *Manager) Emit(event string, payload any) bool {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		slog.Debug("realtime emit dropped, not connected", "event", event)
		return false
	}

	f, err := protocol.NewFrame(event, payload)
	if err != nil {
		slog.Warn("realtime emit", "event", event, "err", err)
		return false
	}
	if err := conn.WriteFrame(f); err != nil {
		slog.Warn("realtime emit", "event", event, "err", err)
		return false
	}
	return true
}

// Connected reports whether a live connection exists.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateConnected
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// UserID returns the user a connection is expected for, even while it is
// temporarily lost.
func (m *Manager) UserID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userID
}

// dial must be called with opMu held.
func (m *Manager) dial(ctx context.Context) error {
	m.mu.RLock()
	userID, token := m.userID, m.token
	m.mu.RUnlock()

	m.setState(StateConnecting)

	conn, err := m.dialer.Dial(ctx, userID, token)
	if err != nil {
		m.setState(StateDisconnected)
		return fmt.Errorf("realtime: connect %s: %w", userID, err)
	}
	if err := conn.WriteFrame(joinFrame(userID)); err != nil {
		_ = conn.Close()
		m.setState(StateDisconnected)
		return fmt.Errorf("realtime: join %s: %w", userID, err)
	}

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	m.setState(StateConnected)

	go m.readLoop(conn)
	slog.Info("realtime connected", "user_id", userID)
	return nil
}

// closeCurrent must be called with opMu held.
func (m *Manager) closeCurrent(reason string) {
	m.mu.Lock()
	conn, userID := m.conn, m.userID
	m.conn = nil
	m.mu.Unlock()

	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil && !isClosedErr(err) {
		slog.Debug("realtime close", "err", err)
	}
	m.setState(StateDisconnected)
	slog.Info("realtime disconnected", "user_id", userID, "reason", reason)
}

func (m *Manager) current(conn Conn) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conn == conn
}

// readLoop publishes frames until conn fails or is replaced. A lost
// connection keeps the expected user so Resume can re-dial.
func (m *Manager) readLoop(conn Conn) {
	for {
		f, err := conn.ReadFrame()
		if err != nil {
			m.mu.Lock()
			lost := m.conn == conn
			if lost {
				m.conn = nil
			}
			userID := m.userID
			m.mu.Unlock()

			if lost {
				_ = conn.Close()
				m.setState(StateDisconnected)
				if isClosedErr(err) {
					slog.Info("realtime connection closed by peer", "user_id", userID)
				} else {
					slog.Warn("realtime connection lost", "user_id", userID, "err", err)
				}
			}
			return
		}
		if !m.current(conn) {
			return
		}
		m.bus.Publish(f)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	fn, userID := m.onState, m.userID
	m.mu.Unlock()
	if changed && fn != nil {
		fn(s, userID)
	}
}

// joinFrame carries the bare user id as its payload.
func joinFrame(userID string) *protocol.Frame {
	f, _ := protocol.NewFrame(protocol.EventJoin, userID)
	return f
}
