package ipc

import (
	"sync"

	"github.com/groblegark/pairlock/internal/idgen"
)

// subscriberQueueSize bounds each subscriber's outbound queue. A full queue
// drops new events for that subscriber only; publishing never blocks.
const subscriberQueueSize = 64

// Subscriber is one registered event consumer.
type Subscriber struct {
	ID string
	ch chan Event
}

// Events returns the subscriber's delivery channel. It is closed when the
// subscriber is removed from the hub.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Hub fans published events out to all current subscribers.
type Hub struct {
	mu   sync.Mutex
	subs map[string]*Subscriber
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]*Subscriber)}
}

// Add registers a new subscriber.
func (h *Hub) Add() (*Subscriber, error) {
	id, err := idgen.NewSubscriptionID()
	if err != nil {
		return nil, err
	}
	sub := &Subscriber{ID: id, ch: make(chan Event, subscriberQueueSize)}

	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()
	return sub, nil
}

// Remove unregisters a subscriber and closes its channel. Safe to call for
// a subscriber that was already removed.
func (h *Hub) Remove(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.ID]; ok {
		delete(h.subs, sub.ID)
		close(sub.ch)
	}
}

// Publish delivers the event to every subscriber with queue space. Slow
// subscribers miss events rather than slowing the publisher down.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			// Queue full, drop for this subscriber.
		}
	}
}

// Len returns the number of current subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
