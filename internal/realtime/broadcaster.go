package realtime

import (
	"context"

	"catalog-import-service/internal/models"
	"github.com/sirupsen/logrus"
)

// Broadcaster publishes session events to subscribers on every replica.
// Without a bus, delivery is local only. Failures are logged and never
// returned, so a broken transport cannot stall an import.
type Broadcaster struct {
	hub    *Hub
	bus    Bus
	logger *logrus.Entry
}

// NewBroadcaster creates a new Broadcaster. bus may be nil.
func NewBroadcaster(hub *Hub, bus Bus, logger *logrus.Logger) *Broadcaster {
	return &Broadcaster{
		hub:    hub,
		bus:    bus,
		logger: logger.WithField("component", "progress-broadcaster"),
	}
}

// Hub returns the local subscriber registry
func (b *Broadcaster) Hub() *Hub {
	return b.hub
}

// Start runs the bus forwarder into the local hub
func (b *Broadcaster) Start(ctx context.Context) error {
	if b.bus == nil {
		return nil
	}
	return b.bus.StartForwarder(ctx, b.hub.Deliver)
}

// Publish sends an event for a session
func (b *Broadcaster) Publish(ctx context.Context, sessionID string, ev Event) {
	env, err := NewEnvelope(sessionID, ev)
	if err != nil {
		b.logger.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"kind":       models.ErrorKindSystem,
		}).Error("Failed to encode event")
		return
	}

	if b.bus == nil {
		b.hub.Deliver(env)
		return
	}

	if err := b.bus.Publish(ctx, env); err != nil {
		b.logger.WithError(err).WithFields(logrus.Fields{
			"session_id": sessionID,
			"event":      env.Type,
			"kind":       models.ErrorKindNetwork,
			"code":       models.CodeBroadcastFailed,
		}).Warn("Event bus unavailable, delivering locally")
		b.hub.Deliver(env)
	}
}

// CloseSession ends the local streams of a session
func (b *Broadcaster) CloseSession(sessionID string) {
	b.hub.CloseSession(sessionID)
}
