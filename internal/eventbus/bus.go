// Package eventbus implements the internal topic-based pub/sub bus
// (spec.md §4.11): asynchronous delivery, single-`*`-segment wildcard
// topic matching, and a bounded dead-letter sink (SPEC_FULL §4.6
// supplement). Adapted from the teacher's internal/events/bus.go,
// generalized from a fixed CloudEvent envelope to an arbitrary
// topic/payload pair, and extended with the dead-letter ring the
// distilled spec requires but the teacher's bus lacks. Publish runs each
// matching handler on its own goroutine; there are no per-subscriber
// buffers, so no delivery is dropped for lack of space.
//
// Per spec.md §4.10/§9, this bus is auxiliary: the orchestrator talks to
// the dispatcher directly. It exists for decoupled cross-component
// signalling (e.g. "process.detected", "error.escalated").
package eventbus

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/moverstatus/moverd/internal/logging"
)

// Event is the envelope carried on the bus.
type Event struct {
	Topic     string
	Payload   any
	Timestamp time.Time
}

// DeadLetter is one failed-delivery record retained for diagnostics.
type DeadLetter struct {
	Event     Event
	Topic     string // the subscription pattern that failed, not the event's literal topic
	Reason    string
	Timestamp time.Time
}

// Handler processes one Event. A Handler that panics is recovered and
// logged; it never reaches the publisher (spec.md §4.11).
type Handler func(Event)

type subscription struct {
	pattern string
	handler Handler
}

// Bus is a topic-based pub/sub dispatcher with a bounded dead-letter
// sink. Zero value is not usable; construct with New.
type Bus struct {
	mu            sync.RWMutex
	subscriptions []subscription
	logger        *slog.Logger

	deadLettersMu  sync.Mutex
	deadLetters    []DeadLetter
	maxDeadLetters int
}

// New returns a Bus retaining at most maxDeadLetters dead-letter
// records.
func New(maxDeadLetters int, logger *slog.Logger) *Bus {
	if maxDeadLetters <= 0 {
		maxDeadLetters = 100
	}
	return &Bus{
		logger:         logging.Default(logger),
		maxDeadLetters: maxDeadLetters,
	}
}

// Subscribe registers handler for topics matching pattern. A pattern
// segment of "*" matches exactly one topic segment (segments split on
// "."); patterns otherwise match literally.
func (b *Bus) Subscribe(pattern string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = append(b.subscriptions, subscription{pattern: pattern, handler: handler})
}

// Unsubscribe removes every subscription registered for pattern.
func (b *Bus) Unsubscribe(pattern string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.subscriptions[:0]
	for _, s := range b.subscriptions {
		if s.pattern != pattern {
			kept = append(kept, s)
		}
	}
	b.subscriptions = kept
}

// Publish delivers payload on topic to every matching subscriber,
// asynchronously, one goroutine per matching handler. A handler panic
// is recovered, logged, and recorded as a dead letter; it never
// propagates to the caller.
func (b *Bus) Publish(topic string, payload any) {
	event := Event{Topic: topic, Payload: payload, Timestamp: time.Now()}

	b.mu.RLock()
	matched := make([]subscription, 0, len(b.subscriptions))
	for _, s := range b.subscriptions {
		if topicMatches(s.pattern, topic) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range matched {
		go b.deliver(s, event)
	}
}

func (b *Bus) deliver(s subscription, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.recordDeadLetter(s.pattern, event, "handler panic")
			b.logger.Error("event bus handler panicked",
				logging.NewFields().Component("eventbus").Operation("deliver").
					Resource("topic", event.Topic).Args()...)
		}
	}()
	s.handler(event)
}

func (b *Bus) recordDeadLetter(pattern string, event Event, reason string) {
	b.deadLettersMu.Lock()
	defer b.deadLettersMu.Unlock()

	b.deadLetters = append(b.deadLetters, DeadLetter{
		Event:     event,
		Topic:     pattern,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	if len(b.deadLetters) > b.maxDeadLetters {
		b.deadLetters = b.deadLetters[len(b.deadLetters)-b.maxDeadLetters:]
	}
}

// DeadLetters returns a copy of the retained failed-delivery records,
// oldest first.
func (b *Bus) DeadLetters() []DeadLetter {
	b.deadLettersMu.Lock()
	defer b.deadLettersMu.Unlock()
	out := make([]DeadLetter, len(b.deadLetters))
	copy(out, b.deadLetters)
	return out
}

// SubscriberCount reports how many subscriptions are currently
// registered across all patterns.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

func topicMatches(pattern, topic string) bool {
	patternSegs := strings.Split(pattern, ".")
	topicSegs := strings.Split(topic, ".")
	if len(patternSegs) != len(topicSegs) {
		return false
	}
	for i, p := range patternSegs {
		if p == "*" {
			continue
		}
		if p != topicSegs[i] {
			return false
		}
	}
	return true
}
