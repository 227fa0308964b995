package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"catalog-import-service/internal/clients"
	"catalog-import-service/internal/models"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// Approval decision subjects published by the approval service
const (
	ApprovalGranted  = "approval.granted"
	ApprovalRejected = "approval.rejected"
)

const approvalHandlerTimeout = 30 * time.Second

// ApprovalEvent is the part of an approval event this service reads
type ApprovalEvent struct {
	EventType         string                `json:"event_type"`
	TenantID          string                `json:"tenant_id"`
	ApprovalRequestID string                `json:"approval_request_id"`
	ActionType        string                `json:"action_type"`
	ResourceType      string                `json:"resource_type"`
	ResourceID        string                `json:"resource_id"`
	Status            string                `json:"status"`
	ApproverID        string                `json:"approver_id,omitempty"`
	DecisionReason    string                `json:"decision_reason,omitempty"`
	Overrides         []models.FieldMapping `json:"overrides,omitempty"`
}

// ApprovalDecisionHandler applies a decision to the waiting session
type ApprovalDecisionHandler interface {
	HandleApprovalDecision(ctx context.Context, decision models.ApprovalDecision) error
}

// ApprovalSubscriber consumes approval decisions for import sessions
type ApprovalSubscriber struct {
	conn    *nats.Conn
	handler ApprovalDecisionHandler
	subs    []*nats.Subscription
	logger  *logrus.Entry
}

// NewApprovalSubscriber creates a subscriber on an existing connection
func NewApprovalSubscriber(conn *nats.Conn, handler ApprovalDecisionHandler, logger *logrus.Logger) *ApprovalSubscriber {
	return &ApprovalSubscriber{
		conn:    conn,
		handler: handler,
		logger:  logger.WithField("component", "approval-subscriber"),
	}
}

// Start subscribes to approval decisions
func (s *ApprovalSubscriber) Start() error {
	for _, subject := range []string{ApprovalGranted, ApprovalRejected} {
		subject := subject
		sub, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
			if err := s.handleMessage(subject, msg.Data); err != nil {
				s.logger.WithError(err).WithField("subject", subject).Error("Failed to apply approval decision")
			}
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	s.logger.WithField("subjects", []string{ApprovalGranted, ApprovalRejected}).Info("Import approval subscriber started")
	return nil
}

func (s *ApprovalSubscriber) handleMessage(subject string, data []byte) error {
	var event ApprovalEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("failed to unmarshal %s event: %w", subject, err)
	}

	decision, ok := DecisionFromEvent(subject, event)
	if !ok {
		s.logger.WithField("resource_type", event.ResourceType).Debug("Ignoring non-import approval event")
		return nil
	}

	s.logger.WithFields(logrus.Fields{
		"approval_id": event.ApprovalRequestID,
		"session_id":  event.ResourceID,
		"approved":    decision.Approved,
	}).Info("Received import approval decision")

	ctx, cancel := context.WithTimeout(context.Background(), approvalHandlerTimeout)
	defer cancel()
	return s.handler.HandleApprovalDecision(ctx, decision)
}

// DecisionFromEvent converts an approval event into a decision. ok is false
// for events about other resource types.
func DecisionFromEvent(subject string, event ApprovalEvent) (models.ApprovalDecision, bool) {
	if event.ResourceType != clients.ImportApprovalResourceType {
		return models.ApprovalDecision{}, false
	}

	approved := subject == ApprovalGranted
	if event.Status != "" {
		approved = event.Status == "approved"
	}

	return models.ApprovalDecision{
		ApprovalRequestID: event.ApprovalRequestID,
		Approved:          approved,
		Reasoning:         event.DecisionReason,
		Overrides:         event.Overrides,
		DecidedBy:         event.ApproverID,
	}, true
}

// Stop removes the subscriptions
func (s *ApprovalSubscriber) Stop() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
	s.logger.Info("Import approval subscriber stopped")
}
