// Package relay is an in-process publish/subscribe channel between producers
// (the process supervisor and the OAuth broker) and presentation consumers.
//
// Delivery is synchronous and fire-and-forget: Publish calls every handler
// registered for the topic at the moment of publication, in registration
// order, on the publisher's goroutine. Nothing is queued or replayed, so a
// consumer that subscribes late never sees earlier events.
package relay

import (
	"log/slog"
	"sync"
	"time"
)

// Topics published by streamctl components.
const (
	TopicProcessOutput = "process-output"
	TopicProcessError  = "process-error"
	TopicProcessExit   = "process-exit"
	TopicOAuthUpdate   = "oauth-update"
)

// Event is one published notification.
type Event struct {
	Topic   string    `json:"topic"`
	Payload any       `json:"payload"`
	Time    time.Time `json:"time"`
}

// Handler receives events. Handlers run on the publisher's goroutine and
// should return quickly.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Relay routes events from topics to handlers.
type Relay struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[string][]subscription
	all    []subscription
	logger *slog.Logger
}

// New creates an empty relay.
func New() *Relay {
	return &Relay{
		topics: make(map[string][]subscription),
		logger: slog.With("component", "relay"),
	}
}

// Subscribe registers h for topic and returns a function that removes it.
func (r *Relay) Subscribe(topic string, h Handler) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.topics[topic] = append(r.topics[topic], subscription{id: id, handler: h})

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.topics[topic] = remove(r.topics[topic], id)
		if len(r.topics[topic]) == 0 {
			delete(r.topics, topic)
		}
	}
}

// SubscribeAll registers h for every topic. All-topic handlers run after
// the topic-specific ones.
func (r *Relay) SubscribeAll(h Handler) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.all = append(r.all, subscription{id: id, handler: h})

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.all = remove(r.all, id)
	}
}

// Publish delivers payload to the current subscribers of topic. It returns
// the number of handlers invoked; zero means the event was dropped.
func (r *Relay) Publish(topic string, payload any) int {
	ev := Event{Topic: topic, Payload: payload, Time: time.Now()}

	// Snapshot so handlers can subscribe or unsubscribe without deadlocking.
	r.mu.RLock()
	handlers := make([]Handler, 0, len(r.topics[topic])+len(r.all))
	for _, s := range r.topics[topic] {
		handlers = append(handlers, s.handler)
	}
	for _, s := range r.all {
		handlers = append(handlers, s.handler)
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		r.deliver(h, ev)
	}
	return len(handlers)
}

// deliver isolates the publisher from a panicking consumer.
func (r *Relay) deliver(h Handler, ev Event) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("event handler panicked", "topic", ev.Topic, "panic", p)
		}
	}()
	h(ev)
}

func remove(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
