package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"catalog-import-service/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Import session lifecycle subjects
const (
	SessionCreated   = "import.session.created"
	SessionCompleted = "import.session.completed"
	SessionFailed    = "import.session.failed"
	SessionCancelled = "import.session.cancelled"
)

// SubjectForStatus returns the lifecycle subject of a terminal status
func SubjectForStatus(status models.SessionStatus) string {
	switch status {
	case models.SessionStatusCompleted:
		return SessionCompleted
	case models.SessionStatusFailed:
		return SessionFailed
	case models.SessionStatusCancelled:
		return SessionCancelled
	}
	return ""
}

// SessionEvent is the payload of an import session lifecycle event
type SessionEvent struct {
	EventType         string    `json:"event_type"`
	TenantID          string    `json:"tenant_id"`
	SessionID         string    `json:"session_id"`
	UserID            string    `json:"user_id,omitempty"`
	FileName          string    `json:"file_name"`
	Status            string    `json:"status"`
	TotalRecords      int       `json:"total_records"`
	SuccessfulRecords int       `json:"successful_records"`
	FailedRecords     int       `json:"failed_records"`
	SkippedRecords    int       `json:"skipped_records"`
	Timestamp         time.Time `json:"timestamp"`
}

// Connect opens a NATS connection that reconnects forever
func Connect(url, name string) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return conn, nil
}

// Publisher publishes import session lifecycle events
type Publisher struct {
	conn   *nats.Conn
	logger *logrus.Entry
}

// NewPublisher creates a publisher on an existing connection
func NewPublisher(conn *nats.Conn, logger *logrus.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger.WithField("component", "events.publisher"),
	}
}

// PublishSessionEvent publishes a lifecycle event for the session
func (p *Publisher) PublishSessionEvent(ctx context.Context, eventType string, session *models.UploadSession) error {
	if p == nil || p.conn == nil || eventType == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	event := SessionEvent{
		EventType:         eventType,
		TenantID:          session.TenantID,
		SessionID:         session.ID.String(),
		UserID:            session.UserID,
		FileName:          session.FileName,
		Status:            string(session.Status),
		TotalRecords:      session.TotalRecords,
		SuccessfulRecords: session.SuccessfulRecords,
		FailedRecords:     session.FailedRecords,
		SkippedRecords:    session.SkippedRecords,
		Timestamp:         time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", eventType, err)
	}
	if err := p.conn.Publish(eventType, data); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", eventType, err)
	}

	p.logger.WithFields(logrus.Fields{
		"event_type": eventType,
		"session_id": event.SessionID,
		"tenant_id":  event.TenantID,
	}).Debug("Published session event")
	return nil
}

// IsConnected returns true if connected to NATS
func (p *Publisher) IsConnected() bool {
	return p != nil && p.conn != nil && p.conn.IsConnected()
}
