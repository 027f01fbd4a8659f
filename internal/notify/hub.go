// Package notify fans queue state changes out to in-process observers.
//
// The UI subscribes here to keep badges and queue views current without
// polling the store. Events carry a hub-assigned sequence number so an
// observer can always order what it saw; delivery is synchronous on the
// publishing goroutine, which keeps each observer's view consistent with the
// store state that produced the event.
package notify

import (
	"sync"
	"time"

	"fieldq/internal/outbox"
)

// Event kinds published by the engine.
const (
	KindEnqueued   = "enqueued"
	KindSuperseded = "superseded"
	KindSubmitting = "submitting"
	KindSubmitted  = "submitted"
	KindFailed     = "failed"
	KindRetrying   = "retrying"
	KindRemoved    = "removed"
	KindPruned     = "pruned"
)

// Event describes a single queue state change.
type Event struct {
	// Seq increases by one per published event. A subscriber that sees
	// Seq N has seen every event up to N.
	Seq       uint64
	Timestamp time.Time
	Kind      string
	ItemID    string
	MeetingID string
	Status    outbox.Status

	// PendingCount is the number of undelivered debriefs after this event
	// was committed, so observers can render a badge without a store query.
	PendingCount int
}

// Hub distributes events to subscribers.
type Hub struct {
	mu          sync.Mutex
	seq         uint64
	subscribers map[int]func(Event)
	nextID      int
}

// NewHub creates an event hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[int]func(Event))}
}

// Subscribe registers an observer callback. Callbacks run synchronously on
// the publishing goroutine and must not block; slow consumers should hand
// the event to their own channel. The returned function removes the
// subscription.
func (h *Hub) Subscribe(fn func(Event)) (unsubscribe func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.subscribers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subscribers, id)
		})
	}
}

// Publish assigns the next sequence number and delivers the event to every
// subscriber. The hub lock is held across delivery so events arrive at each
// subscriber in sequence order.
func (h *Hub) Publish(event Event) Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	event.Seq = h.seq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	for _, fn := range h.subscribers {
		fn(event)
	}
	return event
}

// LastSeq returns the sequence number of the most recently published event.
func (h *Hub) LastSeq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}
