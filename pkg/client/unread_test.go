package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/NicolasHaas/zyeachat/pkg/model"
)

type scriptedFetch struct {
	mu    sync.Mutex
	sum   model.UnreadSummary
	err   error
	calls atomic.Int32
	gate  chan struct{} // when set, fetches block until closed
}

func (s *scriptedFetch) fetch(ctx context.Context) (model.UnreadSummary, error) {
	s.calls.Add(1)
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sum, s.err
}

func (s *scriptedFetch) set(sum model.UnreadSummary, err error) {
	s.mu.Lock()
	s.sum, s.err = sum, err
	s.mu.Unlock()
}

func TestRefreshMatchesServerTotal(t *testing.T) {
	f := &scriptedFetch{}
	f.set(model.UnreadSummary{Conversations: 4, Groups: 6}, nil)
	badge := &recordingBadge{}
	u := NewUnreadSync(f.fetch, badge, 0, 0)

	for i := 0; i < 3; i++ {
		got, err := u.Refresh(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if got != 10 || u.Count() != 10 || badge.last() != 10 {
			t.Fatalf("poll %d: got %d count %d badge %d, want 10", i, got, u.Count(), badge.last())
		}
	}
}

func TestRefreshFailureKeepsStaleValue(t *testing.T) {
	f := &scriptedFetch{}
	f.set(model.UnreadSummary{Conversations: 2}, nil)
	badge := &recordingBadge{}
	u := NewUnreadSync(f.fetch, badge, 0, 0)
	_, _ = u.Refresh(context.Background())

	f.set(model.UnreadSummary{}, errNetwork)
	got, err := u.Refresh(context.Background())
	if !errors.Is(err, errNetwork) {
		t.Fatalf("Refresh = %v, want network error", err)
	}
	if got != 2 || badge.last() != 2 {
		t.Errorf("stale value lost: got %d badge %d", got, badge.last())
	}
}

func TestBumpThenRefreshCorrects(t *testing.T) {
	f := &scriptedFetch{}
	f.set(model.UnreadSummary{Conversations: 1}, nil)
	badge := &recordingBadge{}
	u := NewUnreadSync(f.fetch, badge, 0, 0)

	u.Bump()
	u.Bump()
	if u.Count() != 2 || badge.last() != 2 {
		t.Fatalf("after bumps count %d badge %d", u.Count(), badge.last())
	}
	if got, _ := u.Refresh(context.Background()); got != 1 {
		t.Errorf("Refresh = %d, want server total 1", got)
	}
}

func TestResetDiscardsInFlightRefresh(t *testing.T) {
	f := &scriptedFetch{gate: make(chan struct{})}
	f.set(model.UnreadSummary{Conversations: 9}, nil)
	badge := &recordingBadge{}
	u := NewUnreadSync(f.fetch, badge, 0, 0)

	done := make(chan int)
	go func() {
		n, _ := u.Refresh(context.Background())
		done <- n
	}()
	waitFor(t, "fetch start", func() bool { return f.calls.Load() == 1 })

	u.Reset()
	close(f.gate)
	<-done

	if u.Count() != 0 || badge.last() != 0 {
		t.Errorf("after reset count %d badge %d, want 0/0", u.Count(), badge.last())
	}
}

func TestRefreshAfterResetDoesNotJoinPreviousSession(t *testing.T) {
	gateA := make(chan struct{})
	var account atomic.Value
	account.Store("a")
	var startedA atomic.Bool
	fetch := func(ctx context.Context) (model.UnreadSummary, error) {
		if account.Load() == "a" {
			startedA.Store(true)
			<-gateA
			return model.UnreadSummary{Conversations: 99}, nil
		}
		return model.UnreadSummary{Conversations: 1}, nil
	}
	badge := &recordingBadge{}
	u := NewUnreadSync(fetch, badge, 0, 0)

	doneA := make(chan struct{})
	go func() {
		_, _ = u.Refresh(context.Background())
		close(doneA)
	}()
	waitFor(t, "session a fetch start", startedA.Load)

	u.Reset()
	account.Store("b")

	n, err := u.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if n != 1 || u.Count() != 1 || badge.last() != 1 {
		t.Errorf("session b refresh = %d, count %d, badge %d; want 1", n, u.Count(), badge.last())
	}

	close(gateA)
	<-doneA
	if u.Count() != 1 || badge.last() != 1 {
		t.Errorf("late session a result leaked: count %d badge %d", u.Count(), badge.last())
	}
}

func TestConcurrentRefreshesShareOneFetch(t *testing.T) {
	f := &scriptedFetch{gate: make(chan struct{})}
	f.set(model.UnreadSummary{Groups: 3}, nil)
	u := NewUnreadSync(f.fetch, nil, 0, 0)

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = u.Refresh(context.Background())
		}(i)
	}
	waitFor(t, "first fetch", func() bool { return f.calls.Load() >= 1 })
	time.Sleep(20 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	for i, r := range results {
		if r != 3 {
			t.Errorf("result[%d] = %d, want 3", i, r)
		}
	}
	if n := f.calls.Load(); n >= 5 {
		t.Errorf("fetches = %d, want collapsed", n)
	}
}

func TestRunPollsAndFocusRefreshes(t *testing.T) {
	f := &scriptedFetch{}
	f.set(model.UnreadSummary{Conversations: 1}, nil)
	u := NewUnreadSync(f.fetch, nil, time.Hour, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		u.Run(ctx)
	}()

	time.Sleep(30 * time.Millisecond)
	if n := f.calls.Load(); n != 0 {
		t.Fatalf("slow interval polled %d times", n)
	}

	u.SetChatListFocused(true)
	waitFor(t, "chat list polls", func() bool { return f.calls.Load() >= 3 })
	if u.Count() != 1 {
		t.Errorf("count = %d, want 1", u.Count())
	}

	u.SetChatListFocused(false)
	time.Sleep(30 * time.Millisecond)
	before := f.calls.Load()
	time.Sleep(50 * time.Millisecond)
	if after := f.calls.Load(); after != before {
		t.Errorf("unfocused polling continued at chat list rate: %d -> %d", before, after)
	}

	cancel()
	<-done
}

func TestRunIgnoresNoSession(t *testing.T) {
	f := &scriptedFetch{}
	f.set(model.UnreadSummary{}, model.ErrNoSession)
	badge := &recordingBadge{}
	u := NewUnreadSync(f.fetch, badge, 0, 0)
	u.poll(context.Background())
	if len(badge.values) != 0 {
		t.Errorf("badge touched without a session: %v", badge.values)
	}
}
