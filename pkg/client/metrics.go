package client

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks client runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Realtime counters
	Connects       atomic.Int64 // realtime connections established
	Disconnects    atomic.Int64 // realtime connections closed or lost
	EventsReceived atomic.Int64 // realtime events handled

	// Session counters
	SessionsResolved atomic.Int64 // successful "who am I" resolutions
	ForcedLogouts    atomic.Int64 // sessions dropped on auth failure or logout
	AccountSwitches  atomic.Int64 // token replaced via deep link or SetToken
	DeepLinks        atomic.Int64 // deep links handled

	// Unread counters
	UnreadPolls    atomic.Int64 // unread refreshes issued
	UnreadFailures atomic.Int64 // unread refreshes that failed

	// Notification counters
	Notifications atomic.Int64 // local notifications shown
	IncomingCalls atomic.Int64 // incomingCall events accepted for ringing
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	Connects       int64 `json:"connects"`
	Disconnects    int64 `json:"disconnects"`
	EventsReceived int64 `json:"events_received"`

	SessionsResolved int64 `json:"sessions_resolved"`
	ForcedLogouts    int64 `json:"forced_logouts"`
	AccountSwitches  int64 `json:"account_switches"`
	DeepLinks        int64 `json:"deep_links"`

	UnreadPolls    int64 `json:"unread_polls"`
	UnreadFailures int64 `json:"unread_failures"`

	Notifications int64 `json:"notifications"`
	IncomingCalls int64 `json:"incoming_calls"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:           uptime.Truncate(time.Second).String(),
		UptimeSeconds:    int64(uptime.Seconds()),
		Connects:         m.Connects.Load(),
		Disconnects:      m.Disconnects.Load(),
		EventsReceived:   m.EventsReceived.Load(),
		SessionsResolved: m.SessionsResolved.Load(),
		ForcedLogouts:    m.ForcedLogouts.Load(),
		AccountSwitches:  m.AccountSwitches.Load(),
		DeepLinks:        m.DeepLinks.Load(),
		UnreadPolls:      m.UnreadPolls.Load(),
		UnreadFailures:   m.UnreadFailures.Load(),
		Notifications:    m.Notifications.Load(),
		IncomingCalls:    m.IncomingCalls.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connects", s.Connects,
		"disconnects", s.Disconnects,
		"events", s.EventsReceived,
		"forced_logouts", s.ForcedLogouts,
		"unread_polls", s.UnreadPolls,
		"unread_failures", s.UnreadFailures,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
