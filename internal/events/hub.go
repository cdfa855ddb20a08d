// Package events streams session state changes to browser tabs.
package events

import (
	"log/slog"
	"sync"

	"github.com/ashureev/meshchat/internal/session"
)

// DefaultBuffer is the per-subscriber event buffer.
const DefaultBuffer = 64

// Hub fans session events out to every subscriber of one workspace.
// Slow subscribers lose events rather than block the publisher.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan session.Event]struct{}
	closed bool
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[chan session.Event]struct{}),
		logger: logger,
	}
}

// Subscribe registers a subscriber. The returned channel is closed by the
// unsubscribe function or when the hub closes.
func (h *Hub) Subscribe(buffer int) (<-chan session.Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan session.Event, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

// Notify publishes an event without blocking.
func (h *Hub) Notify(e session.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.logger.Debug("dropping event for slow subscriber", "type", e.Type)
		}
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		close(ch)
		delete(h.subs, ch)
	}
}
