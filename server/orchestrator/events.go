package orchestrator

import (
	"sync"
	"time"

	"github.com/hrygo/dealsense/store"
)

// EventType tags a negotiation lifecycle event.
type EventType string

const (
	EventStarted   EventType = "negotiation_started"
	EventStatus    EventType = "status_changed"
	EventDealFound EventType = "deal_found"
	EventCompleted EventType = "negotiation_completed"
	EventFailed    EventType = "negotiation_failed"
)

// Event is delivered to subscribers as the orchestrator advances sessions.
// The deal fields are set on deal_found only.
type Event struct {
	Type        EventType    `json:"type"`
	SessionID   string       `json:"session_id"`
	Status      store.Status `json:"status,omitempty"`
	Round       int          `json:"round,omitempty"`
	Message     string       `json:"message,omitempty"`
	FinalPrice  float64      `json:"final_price,omitempty"`
	Savings     float64      `json:"savings,omitempty"`
	DiscountPct float64      `json:"discount_pct,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// EventBus fans negotiation events out to subscribers. Publishing never
// blocks: a subscriber that cannot keep up loses events rather than stalling
// the round loop.
type EventBus struct {
	mu          sync.Mutex
	nextID      int
	subscribers map[int]chan Event
}

// NewEventBus creates an event bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given channel buffer. The
// returned function unsubscribes and closes the channel.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Publish delivers the event to every subscriber that has buffer room.
func (b *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
