// Package notify broadcasts pipeline progress events to in-process
// subscribers. The HTTP layer exposes subscriptions as SSE streams.
package notify

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventKind distinguishes first-time extractions from refinements of
// previously extracted statements.
type EventKind string

const (
	EventNew    EventKind = "new"
	EventUpdate EventKind = "update"
)

// Event is a single pipeline progress notification scoped to a theme. ThreadID
// is set for chat-sourced events so a client can follow its own conversation.
type Event struct {
	Kind      EventKind `json:"kind"`
	Topic     string    `json:"topic"`
	ThemeID   string    `json:"theme_id"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier publishes events. Engines hold this narrow interface so tests can
// swap in a recorder.
type Notifier interface {
	Publish(event Event)
}

// Hub fans events out to subscribers. Slow subscribers drop events rather
// than block the pipeline.
type Hub struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

type subscriber struct {
	themeID string
	ch      chan Event
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for events on themeID (empty string means
// all themes). The returned cancel func must be called to release the
// subscription.
func (h *Hub) Subscribe(themeID string, buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = subscriber{themeID: themeID, ch: ch}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub.ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every matching subscriber without blocking.
func (h *Hub) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.themeID != "" && sub.themeID != event.ThemeID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			zap.L().Debug("notify: dropping event for slow subscriber",
				zap.String("topic", event.Topic),
				zap.String("theme_id", event.ThemeID))
		}
	}
}

// Noop discards all events.
type Noop struct{}

func (Noop) Publish(Event) {}
