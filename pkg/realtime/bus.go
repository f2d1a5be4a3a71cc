package realtime

import (
	"log/slog"
	"sync"

	"github.com/NicolasHaas/zyeachat/pkg/protocol"
)

// Handler receives one frame. Handlers run on the connection's read
// goroutine, in subscription order, one frame at a time.
type Handler func(f *protocol.Frame)

type subscriber struct {
	id uint64
	fn Handler
}

// Bus fans realtime frames out to subscribers by event name.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string][]subscriber
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscriber)}
}

// Subscription removes its handler from the bus when disposed.
type Subscription struct {
	bus   *Bus
	event string
	id    uint64
	once  sync.Once
}

// Unsubscribe removes the handler. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.bus.remove(s.event, s.id)
	})
}

// Subscribe registers fn for event.
func (b *Bus) Subscribe(event string, fn Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[event] = append(b.subs[event], subscriber{id: id, fn: fn})
	return &Subscription{bus: b, event: event, id: id}
}

func (b *Bus) remove(event string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[event]
	for i, s := range list {
		if s.id == id {
			next := make([]subscriber, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(b.subs, event)
			} else {
				b.subs[event] = next
			}
			return
		}
	}
}

// Count returns the number of handlers registered for event.
func (b *Bus) Count(event string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[event])
}

// Publish delivers f to every handler subscribed to f.Event.
func (b *Bus) Publish(f *protocol.Frame) {
	b.mu.RLock()
	list := b.subs[f.Event]
	b.mu.RUnlock()

	// list is never mutated in place, so iterating without the lock is safe.
	for _, s := range list {
		s.fn(f)
	}
}

// On subscribes a typed handler: the payload is decoded into T first.
// Frames that fail to decode are logged and dropped.
func On[T any](b *Bus, event string, fn func(T)) *Subscription {
	return b.Subscribe(event, func(f *protocol.Frame) {
		var v T
		if err := f.Decode(&v); err != nil {
			slog.Warn("drop realtime frame", "event", f.Event, "err", err)
			return
		}
		fn(v)
	})
}
