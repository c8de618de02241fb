// Package hub is the in-process fan-out channel for observer sessions. It is
// deliberately not a message log: an observer that is not connected at
// publish time never sees that event.
package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
)

const (
	EventSignalDetected        = "signal-detected"
	EventSignalsCleared        = "signals-cleared"
	EventSensorLocationUpdated = "sensor-location-updated"
)

// sessionBuffer bounds how far a slow observer may fall behind before it is
// evicted instead of stalling the publisher.
const sessionBuffer = 256

type envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// Session is one connected observer. Frames arrive on Send in publish order;
// the channel is closed on unsubscribe or eviction.
type Session struct {
	Send chan []byte
}

type Hub struct {
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[*Session]bool
}

func New(logger *slog.Logger) *Hub {
	return &Hub{
		logger:   logger,
		sessions: make(map[*Session]bool),
	}
}

func (h *Hub) Subscribe() *Session {
	s := &Session{Send: make(chan []byte, sessionBuffer)}
	h.mu.Lock()
	h.sessions[s] = true
	h.mu.Unlock()
	return s
}

func (h *Hub) Unsubscribe(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[s] {
		delete(h.sessions, s)
		close(s.Send)
	}
}

// Publish delivers a named event to every connected session, fire and
// forget. A session whose buffer is full is dropped; the publisher never
// blocks on an observer.
func (h *Hub) Publish(event string, payload any) {
	frame, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		if h.logger != nil {
			h.logger.Error("marshal broadcast event", "event", event, "err", err)
		}
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sessions {
		select {
		case s.Send <- frame:
		default:
			if h.logger != nil {
				h.logger.Warn("observer send buffer full, evicting session", "event", event)
			}
			delete(h.sessions, s)
			close(s.Send)
		}
	}
}

// SessionCount is used by status reporting.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
