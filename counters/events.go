package counters

import (
	"sync"
	"sync/atomic"
)

// Event is a typed, named occurrence published on the EventStream: circuit
// breaker state transitions, adaptive concurrency changes, dropped-hook
// notifications, and similar threshold crossings that don't fit a simple
// monotonic counter.
type Event struct {
	// Kind names the event, e.g. "circuit.state_change",
	// "adaptive.concurrency_change", "hook.panic".
	Kind string

	// Source identifies the component instance that published the event
	// (grounded on spec.md §9's "explicit Counters handle" design note —
	// no hidden globals, every publisher is addressable).
	Source string

	// Fields carries event-specific, JSON-marshalable data.
	Fields map[string]any
}

// Subscriber receives Events from an EventStream. Per spec.md §6, a
// subscriber that consumes slowly must never back-pressure the publisher:
// the channel is drop-on-overflow, and DroppedCount reports how many events
// that subscriber has missed.
type Subscriber struct {
	ch      chan Event
	dropped atomic.Uint64
}

// C returns the channel of delivered events.
func (s *Subscriber) C() <-chan Event { return s.ch }

// DroppedCount returns how many events were dropped because this
// subscriber's buffer was full.
func (s *Subscriber) DroppedCount() uint64 { return s.dropped.Load() }

// EventStream is a multi-consumer broadcast stream. Publishers and
// subscribers are independent tasks exchanging messages — no inheritance,
// no dynamic dispatch over a listener hierarchy (spec.md §9).
type EventStream struct {
	mu          sync.RWMutex
	subscribers []*Subscriber
	bufferSize  int
}

// NewEventStream creates an EventStream with the default per-subscriber
// buffer size.
func NewEventStream() *EventStream {
	return &EventStream{bufferSize: 64}
}

// Subscribe registers a new subscriber and returns its handle. Callers must
// keep draining C() for the lifetime of their interest in the stream;
// there's no Unsubscribe because subscribers are expected to live for the
// duration of an Engine run (spec.md §3 "Lifecycles").
func (es *EventStream) Subscribe() *Subscriber {
	s := &Subscriber{ch: make(chan Event, es.bufferSize)}
	es.mu.Lock()
	es.subscribers = append(es.subscribers, s)
	es.mu.Unlock()
	return s
}

// Publish sends ev to every current subscriber, dropping it for any whose
// buffer is full rather than blocking the publisher.
func (es *EventStream) Publish(ev Event) {
	es.mu.RLock()
	defer es.mu.RUnlock()

	for _, s := range es.subscribers {
		select {
		case s.ch <- ev:
		default:
			s.dropped.Add(1)
		}
	}
}
