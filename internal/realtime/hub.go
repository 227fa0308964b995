package realtime

import (
	"sync"

	"catalog-import-service/internal/metrics"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SubscriberBuffer is the outbound buffer of each subscriber
const SubscriberBuffer = 16

// Subscriber is one live event stream of a session
type Subscriber struct {
	ID        uuid.UUID
	SessionID string
	Outbound  chan Envelope
	closed    bool
}

// Hub is the per-session subscriber registry. Delivery is best effort: a
// full subscriber buffer drops the message.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Subscriber]bool
	logger   *logrus.Entry
}

// NewHub creates a new Hub
func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]map[*Subscriber]bool),
		logger:   logger.WithField("component", "progress-hub"),
	}
}

// Subscribe registers a new subscriber for a session
func (h *Hub) Subscribe(sessionID string) *Subscriber {
	sub := &Subscriber{
		ID:        uuid.New(),
		SessionID: sessionID,
		Outbound:  make(chan Envelope, SubscriberBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.sessions[sessionID]
	if !ok {
		subs = make(map[*Subscriber]bool)
		h.sessions[sessionID] = subs
	}
	subs[sub] = true

	h.logger.WithFields(logrus.Fields{
		"session_id":    sessionID,
		"subscriber_id": sub.ID,
	}).Debug("Subscriber registered")

	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call
// more than once and after CloseSession.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.sessions[sub.SessionID]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.sessions, sub.SessionID)
		}
	}
	h.closeLocked(sub)
}

// Deliver fans an envelope out to the session's local subscribers. A final
// envelope deregisters the session afterwards.
func (h *Hub) Deliver(env Envelope) {
	h.mu.RLock()
	for sub := range h.sessions[env.SessionID] {
		select {
		case sub.Outbound <- env:
		default:
			metrics.BroadcastDropped.Inc()
			h.logger.WithFields(logrus.Fields{
				"session_id":    env.SessionID,
				"subscriber_id": sub.ID,
				"event":         env.Type,
			}).Warn("Dropping event; subscriber buffer full")
		}
	}
	h.mu.RUnlock()

	if env.Final {
		h.CloseSession(env.SessionID)
	}
}

// CloseSession deregisters every subscriber of a session and closes their
// channels, ending their streams
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	for sub := range subs {
		h.closeLocked(sub)
	}
	delete(h.sessions, sessionID)
}

// CloseAll ends every live stream. Used on server shutdown so open SSE
// connections do not hold the server open.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sessionID, subs := range h.sessions {
		for sub := range subs {
			h.closeLocked(sub)
		}
		delete(h.sessions, sessionID)
	}
}

// SubscriberCount returns the number of live subscribers of a session
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

func (h *Hub) closeLocked(sub *Subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	close(sub.Outbound)
}
