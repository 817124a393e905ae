// Package live streams message events to connected chat clients over
// WebSocket, so UIs see a placeholder resolve without polling.
package live

import (
	"sync"

	"github.com/Niceiyke/Code-cli/internal/domain"
)

// Event types published to session subscribers.
const (
	EventMessageCreated = "message.created"
	EventMessageUpdated = "message.updated"
)

// Event is one update pushed to subscribers of a session.
type Event struct {
	Type    string          `json:"type"`
	Message *domain.Message `json:"message"`
}

// subscriberBuffer bounds per-subscriber queues; a subscriber that falls
// this far behind misses events rather than blocking the publisher.
const subscriberBuffer = 16

// Hub fans message events out to per-session subscribers. Delivery is
// best-effort and in-memory, matching the rest of the relay's
// no-guarantees stance.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe registers a new subscriber for a session and returns its event
// channel.
func (h *Hub) Subscribe(sessionID string) chan Event {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan Event]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber. The channel is closed so readers
// drain and exit.
func (h *Hub) Unsubscribe(sessionID string, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subs[sessionID]
	if !ok {
		return
	}
	if _, ok := set[ch]; !ok {
		return
	}
	delete(set, ch)
	if len(set) == 0 {
		delete(h.subs, sessionID)
	}
	close(ch)
}

// Publish delivers an event to every subscriber of the session. Sends
// never block: a full subscriber queue drops the event.
func (h *Hub) Publish(sessionID string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[sessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
