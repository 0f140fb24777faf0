package events

import (
	"log/slog"
	"sync"
	"time"
)

// Event types carried on the bus
const (
	TypeOverlay     = "overlay"
	TypeBundleReady = "bundle.ready"
	TypePipeline    = "pipeline"
)

// Event is one fire-and-forget notification
type Event struct {
	Type string    `json:"type"`
	Data any       `json:"data,omitempty"`
	At   time.Time `json:"at"`
}

// Bus fans events out to subscribers without ever blocking the publisher.
// A subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	next   int
	buffer int
	logger *slog.Logger
}

type subscriber struct {
	ch    chan Event
	types map[string]bool // nil accepts every type
}

func (s *subscriber) accepts(typ string) bool {
	return s.types == nil || s.types[typ]
}

// NewBus creates a bus whose subscribers buffer up to buffer events
func NewBus(logger *slog.Logger, buffer int) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer < 1 {
		buffer = 1
	}
	return &Bus{subs: make(map[int]*subscriber), buffer: buffer, logger: logger}
}

// Publish delivers an event to every subscriber of its type that has room
// and returns how many received it. Zero subscribers is not an error.
func (b *Bus) Publish(typ string, data any) int {
	ev := Event{Type: typ, Data: data, At: time.Now()}

	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for id, sub := range b.subs {
		if !sub.accepts(typ) {
			continue
		}
		select {
		case sub.ch <- ev:
			delivered++
		default:
			b.logger.Warn("dropping event for slow subscriber", "type", typ, "subscriber", id)
		}
	}
	return delivered
}

// Subscribe registers a new subscriber for the given event types, or for
// every type when none are given. The returned cancel func unsubscribes and
// closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(types ...string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, b.buffer)}
	if len(types) > 0 {
		sub.types = make(map[string]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
}

// Subscribers returns the number of active subscribers
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
