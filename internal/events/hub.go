// Package events is the in-process fan-out for live orchestrator events.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names an event stream
type Type string

const (
	TypeStatus     Type = "status"
	TypeHealth     Type = "health"
	TypeTier       Type = "tier"
	TypeIncident   Type = "incident"
	TypeEscalation Type = "escalation"
)

// Event is one message on the hub
type Event struct {
	ID        string      `json:"id"`
	Type      Type        `json:"type"`
	ServiceID string      `json:"service_id,omitempty"`
	At        time.Time   `json:"at"`
	Data      interface{} `json:"data,omitempty"`
}

const (
	defaultSubscriberBuffer = 64
	defaultHistory          = 100
)

// Hub delivers events to every subscriber. A subscriber that falls behind
// loses events rather than blocking publishers.
type Hub struct {
	mu      sync.RWMutex
	subs    map[chan Event]struct{}
	buffer  int
	history []Event
	keep    int
	dropped uint64
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		subs:   make(map[chan Event]struct{}),
		buffer: defaultSubscriberBuffer,
		keep:   defaultHistory,
	}
}

// Publish stamps and delivers an event
func (h *Hub) Publish(t Type, serviceID string, data interface{}) Event {
	ev := Event{
		ID:        uuid.New().String(),
		Type:      t,
		ServiceID: serviceID,
		At:        time.Now().UTC(),
		Data:      data,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.history = append(h.history, ev)
	if len(h.history) > h.keep {
		h.history = h.history[len(h.history)-h.keep:]
	}

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.dropped++
		}
	}
	return ev
}

// Subscribe returns a channel of future events and a function that ends
// the subscription and closes the channel
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Recent returns up to n of the latest events, oldest first
func (h *Hub) Recent(n int) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n <= 0 || n > len(h.history) {
		n = len(h.history)
	}
	out := make([]Event, n)
	copy(out, h.history[len(h.history)-n:])
	return out
}

// Subscribers returns the number of live subscriptions
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers
func (h *Hub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}
