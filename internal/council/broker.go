package council

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/agentcouncil/internal/types"
)

const defaultSubscriberBuffer = 256

// Filter selects the events a subscriber receives. Empty fields match
// everything.
type Filter struct {
	ConversationID types.ConversationID
	SessionID      types.CouncilSessionID
}

// Match reports whether ev passes the filter.
func (f Filter) Match(ev Event) bool {
	if f.ConversationID != "" && f.ConversationID != ev.ConversationID {
		return false
	}
	if f.SessionID != "" && f.SessionID != ev.SessionID {
		return false
	}
	return true
}

type subscriber struct {
	filter Filter
	ch     chan Event
}

// Broker fans council events out to subscribers. Publish never blocks; a
// subscriber that falls behind loses events.
type Broker struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	nextID uint64
	buffer int
	seq    atomic.Uint64
	drops  atomic.Uint64
}

// NewBroker creates a broker whose subscriber channels hold buffer events.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	return &Broker{
		subs:   make(map[uint64]*subscriber),
		buffer: buffer,
	}
}

// Subscribe registers a subscriber. The returned function unsubscribes and
// closes the channel; it is safe to call more than once.
func (b *Broker) Subscribe(f Filter) (<-chan Event, func()) {
	sub := &subscriber{filter: f, ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(sub.ch)
			b.mu.Unlock()
		})
	}
}

// Publish stamps ev with a sequence number and delivers it to every matching
// subscriber.
func (b *Broker) Publish(ev Event) {
	ev.Seq = b.seq.Add(1)
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.filter.Match(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.drops.Add(1)
			slog.Warn("council subscriber lagging, event dropped",
				"session_id", string(ev.SessionID),
				"type", string(ev.Type),
				"seq", ev.Seq,
			)
		}
	}
}

// Dropped returns the number of events lost to slow subscribers.
func (b *Broker) Dropped() uint64 { return b.drops.Load() }

// Subscribers returns the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
