package events

import (
	"sync"
	"sync/atomic"

	"gitsync/pkg/logging"
)

// DefaultRecentEvents is how many events a bus keeps for Recent.
const DefaultRecentEvents = 500

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event, which is counted and logged.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID uint64
	closed bool

	recentMu  sync.Mutex
	recent    []Event
	recentPos int
	recentCap int

	dropped atomic.Uint64
	onDrop  func(Event)
}

type subscription struct {
	ch      chan Event
	dropped atomic.Uint64
	once    sync.Once
}

// NewBus creates a bus remembering up to recent events. Zero or less uses
// DefaultRecentEvents.
func NewBus(recent int) *Bus {
	if recent <= 0 {
		recent = DefaultRecentEvents
	}
	return &Bus{
		subs:      make(map[uint64]*subscription),
		recentCap: recent,
	}
}

// OnDrop registers a callback invoked for every dropped delivery, such as a
// metrics counter. It must not block.
func (b *Bus) OnDrop(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

// Subscribe returns a channel receiving every event published from now on and
// a cancel func that unsubscribes and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 0 {
		buffer = 0
	}
	sub := &subscription{ch: make(chan Event, buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			sub.close()
		}
	}
	return sub.ch, cancel
}

func (s *subscription) close() {
	s.once.Do(func() { close(s.ch) })
}

// Publish delivers e to every subscriber without blocking and records it in
// the recent list.
func (b *Bus) Publish(e Event) {
	b.remember(e)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for id, sub := range b.subs {
		select {
		case sub.ch <- e:
		default:
			n := sub.dropped.Add(1)
			b.dropped.Add(1)
			if n == 1 {
				logging.Warn("Events", "Subscriber %d is not keeping up, dropping %s event for %s", id, e.Reason, e.Application)
			} else {
				logging.Debug("Events", "Subscriber %d dropped %d events so far", id, n)
			}
			if b.onDrop != nil {
				b.onDrop(e)
			}
		}
	}
}

// Dropped returns how many deliveries were dropped since the bus was created.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Subscribers returns the number of active subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes everyone. Later publishes are only remembered.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		sub.close()
		delete(b.subs, id)
	}
}

func (b *Bus) remember(e Event) {
	b.recentMu.Lock()
	defer b.recentMu.Unlock()
	if len(b.recent) < b.recentCap {
		b.recent = append(b.recent, e)
		return
	}
	b.recent[b.recentPos] = e
	b.recentPos = (b.recentPos + 1) % b.recentCap
}

// Recent returns up to limit remembered events, newest first. An empty
// application matches every event; limit <= 0 returns all matches.
func (b *Bus) Recent(application string, limit int) []Event {
	b.recentMu.Lock()
	defer b.recentMu.Unlock()

	var out []Event
	n := len(b.recent)
	for i := 0; i < n; i++ {
		// Walk backwards from the newest entry.
		idx := (b.recentPos - 1 - i + n) % n
		if len(b.recent) < b.recentCap {
			idx = n - 1 - i
		}
		e := b.recent[idx]
		if application != "" && e.Application != application {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
