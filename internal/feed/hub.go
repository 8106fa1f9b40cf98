// Package feed fans dose and notification events out to live subscribers.
package feed

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the escalation engine.
const (
	EventDoseTaken        = "dose.taken"
	EventDoseEscalated    = "dose.escalated"
	EventCaretakerCalled  = "caretaker.called"
	EventNotificationSent = "notification.sent"
)

// Event is one live update. OwnerID and PatientIdentity decide who may see it;
// events with neither are broadcast to everyone.
type Event struct {
	Type            string         `json:"type"`
	ScheduleID      string         `json:"schedule_id,omitempty"`
	OwnerID         string         `json:"-"`
	PatientIdentity string         `json:"-"`
	DateKey         string         `json:"date_key,omitempty"`
	Data            map[string]any `json:"data,omitempty"`
	At              time.Time      `json:"at"`
}

// VisibleTo reports whether a user may receive e.
func (e Event) VisibleTo(userID, email string) bool {
	if e.OwnerID == "" && e.PatientIdentity == "" {
		return true
	}
	return e.OwnerID == userID || e.PatientIdentity == email
}

// Subscription receives events on C until it is closed.
type Subscription struct {
	C       <-chan Event
	ch      chan Event
	filter  func(Event) bool
	dropped atomic.Int64
}

// Dropped reports how many events were discarded because C was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Hub is a non-blocking publish/subscribe fan-out. Publish never waits on a
// subscriber; a full subscriber buffer drops the event for that subscriber.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	buffer int
	closed bool
}

// NewHub creates a hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	return &Hub{subs: make(map[*Subscription]struct{}), buffer: buffer}
}

// Subscribe registers a subscriber. A nil filter accepts every event.
func (h *Hub) Subscribe(filter func(Event) bool) *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{C: ch, ch: ch, filter: filter}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Publish delivers e to every matching subscriber without blocking.
func (h *Hub) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.filter != nil && !sub.filter(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
		}
	}
}

// Len reports the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close unsubscribes everyone. Later subscriptions are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		close(sub.ch)
	}
	h.subs = make(map[*Subscription]struct{})
	h.closed = true
}
