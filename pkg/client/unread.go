package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/NicolasHaas/zyeachat/pkg/model"
)

// Default poll intervals. The app-level poll and the chat list poll run at
// different rates; both are kept.
const (
	DefaultPollInterval         = 30 * time.Second
	DefaultChatListPollInterval = 10 * time.Second
)

// Badge mirrors the unread count onto the app icon.
type Badge interface {
	SetBadge(n int) error
}

// UnreadFetcher loads the server's unread summary for the current session.
type UnreadFetcher func(ctx context.Context) (model.UnreadSummary, error)

// UnreadSync keeps the unread count and the badge in line with the server.
// Refresh sets the exact server total; Bump is an optimistic +1 between
// polls.
type UnreadSync struct {
	fetch            UnreadFetcher
	badge            Badge
	metrics          *Metrics
	interval         time.Duration
	chatListInterval time.Duration

	group singleflight.Group

	mu      sync.Mutex
	count   int
	gen     uint64 // bumped by Reset; stale refreshes are discarded
	focused bool
	focus   chan struct{}
}

// NewUnreadSync creates a synchroniser. Zero intervals take the defaults.
func NewUnreadSync(fetch UnreadFetcher, badge Badge, interval, chatListInterval time.Duration) *UnreadSync {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if chatListInterval <= 0 {
		chatListInterval = DefaultChatListPollInterval
	}
	return &UnreadSync{
		fetch:            fetch,
		badge:            badge,
		interval:         interval,
		chatListInterval: chatListInterval,
		focus:            make(chan struct{}, 1),
	}
}

// Count returns the current unread count.
func (u *UnreadSync) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.count
}

// Refresh fetches the server total and applies it. Concurrent callers share
// one fetch within a session generation. On error the previous value is kept.
func (u *UnreadSync) Refresh(ctx context.Context) (int, error) {
	u.mu.Lock()
	gen := u.gen
	u.mu.Unlock()

	v, err, _ := u.group.Do(fmt.Sprintf("unread-%d", gen), func() (any, error) {
		if u.metrics != nil {
			u.metrics.UnreadPolls.Add(1)
		}
		sum, err := u.fetch(ctx)
		if err != nil {
			if u.metrics != nil && !errors.Is(err, model.ErrNoSession) {
				u.metrics.UnreadFailures.Add(1)
			}
			return nil, err
		}
		return sum.Total(), nil
	})
	if err != nil {
		return u.Count(), err
	}

	total := v.(int)
	u.mu.Lock()
	if u.gen != gen {
		// Reset happened while fetching; the result belongs to the old session.
		n := u.count
		u.mu.Unlock()
		return n, nil
	}
	changed := u.count != total
	u.count = total
	u.mu.Unlock()

	if changed {
		slog.Debug("unread count", "total", total)
	}
	u.setBadge(total)
	return total, nil
}

// Bump adds one unread message.
func (u *UnreadSync) Bump() int {
	u.mu.Lock()
	u.count++
	n := u.count
	u.mu.Unlock()
	u.setBadge(n)
	return n
}

// Reset zeroes the count and badge, and discards in-flight refreshes.
func (u *UnreadSync) Reset() {
	u.mu.Lock()
	u.count = 0
	u.gen++
	u.mu.Unlock()
	u.setBadge(0)
}

// SetChatListFocused switches to the faster chat list interval while the
// chat list is visible. Gaining focus triggers an immediate refresh.
func (u *UnreadSync) SetChatListFocused(focused bool) {
	u.mu.Lock()
	changed := u.focused != focused
	u.focused = focused
	u.mu.Unlock()
	if !changed {
		return
	}
	select {
	case u.focus <- struct{}{}:
	default:
	}
}

func (u *UnreadSync) currentInterval() (time.Duration, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.focused {
		return u.chatListInterval, true
	}
	return u.interval, false
}

// Run polls until ctx is done. Failures wait for the next tick.
func (u *UnreadSync) Run(ctx context.Context) {
	interval, _ := u.currentInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u.poll(ctx)
		case <-u.focus:
			next, focused := u.currentInterval()
			if next != interval {
				interval = next
				ticker.Reset(interval)
			}
			if focused {
				u.poll(ctx)
			}
		}
	}
}

func (u *UnreadSync) poll(ctx context.Context) {
	if _, err := u.Refresh(ctx); err != nil {
		switch {
		case errors.Is(err, model.ErrNoSession):
		case errors.Is(err, context.Canceled):
		default:
			slog.Warn("unread poll failed", "err", err)
		}
	}
}

func (u *UnreadSync) setBadge(n int) {
	if u.badge == nil {
		return
	}
	if err := u.badge.SetBadge(n); err != nil {
		slog.Warn("set badge", "count", n, "err", err)
	}
}
