package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"catalog-import-service/internal/models"
)

// EventType is the wire discriminator of an event
type EventType string

const (
	EventProgress           EventType = "progress"
	EventCompleted          EventType = "completed"
	EventError              EventType = "error"
	EventMappingSuggestions EventType = "mapping_suggestions"
	EventValidationUpdate   EventType = "validation_update"
)

// Event is the closed set of session events. Only types in this file implement it.
type Event interface {
	Type() EventType
	// Final marks the last event of a session stream
	Final() bool
	sealed()
}

// ProgressEvent carries the session counters after each batch
type ProgressEvent struct {
	models.SessionProgress
}

// CompletedEvent is sent once when a session reaches a terminal status
type CompletedEvent struct {
	SessionID         string               `json:"sessionId"`
	Status            models.SessionStatus `json:"status"`
	TotalRecords      int                  `json:"totalRecords"`
	ProcessedRecords  int                  `json:"processedRecords"`
	SuccessfulRecords int                  `json:"successfulRecords"`
	FailedRecords     int                  `json:"failedRecords"`
	SkippedRecords    int                  `json:"skippedRecords"`
	DurationMs        int64                `json:"durationMs"`
}

// ErrorEvent reports a session or batch error. Terminal is set when the
// session ended failed.
type ErrorEvent struct {
	SessionID   string           `json:"sessionId"`
	Kind        models.ErrorKind `json:"kind"`
	Code        string           `json:"code"`
	Message     string           `json:"message"`
	Remediation string           `json:"remediation,omitempty"`
	Recoverable bool             `json:"recoverable"`
	Terminal    bool             `json:"terminal"`
}

// MappingSuggestionsEvent carries the resolver output for a session
type MappingSuggestionsEvent struct {
	SessionID           string                   `json:"sessionId"`
	Mappings            []models.FieldMapping    `json:"mappings"`
	Unmapped            []models.UnmappedField   `json:"unmapped,omitempty"`
	Conflicts           []models.MappingConflict `json:"conflicts,omitempty"`
	MissingRequired     []string                 `json:"missingRequired,omitempty"`
	AggregateConfidence int                      `json:"aggregateConfidence"`
}

// ValidationUpdateEvent carries the latest validation run
type ValidationUpdateEvent struct {
	SessionID string `json:"sessionId"`
	models.ValidationSummary
}

func (ProgressEvent) Type() EventType           { return EventProgress }
func (CompletedEvent) Type() EventType          { return EventCompleted }
func (ErrorEvent) Type() EventType              { return EventError }
func (MappingSuggestionsEvent) Type() EventType { return EventMappingSuggestions }
func (ValidationUpdateEvent) Type() EventType   { return EventValidationUpdate }

func (ProgressEvent) Final() bool           { return false }
func (CompletedEvent) Final() bool          { return true }
func (e ErrorEvent) Final() bool            { return e.Terminal }
func (MappingSuggestionsEvent) Final() bool { return false }
func (ValidationUpdateEvent) Final() bool   { return false }

func (ProgressEvent) sealed()           {}
func (CompletedEvent) sealed()          {}
func (ErrorEvent) sealed()              {}
func (MappingSuggestionsEvent) sealed() {}
func (ValidationUpdateEvent) sealed()   {}

// NewErrorEvent builds an ErrorEvent from an ImportError
func NewErrorEvent(sessionID string, err *models.ImportError, terminal bool) ErrorEvent {
	return ErrorEvent{
		SessionID:   sessionID,
		Kind:        err.Kind,
		Code:        err.Code,
		Message:     err.Message,
		Remediation: err.Remediation,
		Recoverable: err.Recoverable(),
		Terminal:    terminal,
	}
}

// Envelope is the wire form of an event
type Envelope struct {
	Type      EventType       `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Final     bool            `json:"final,omitempty"`
}

// NewEnvelope encodes an event for a session
func NewEnvelope(sessionID string, ev Event) (Envelope, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s event: %w", ev.Type(), err)
	}
	return Envelope{
		Type:      ev.Type(),
		SessionID: sessionID,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Final:     ev.Final(),
	}, nil
}

// DecodeEnvelope decodes the payload into its concrete event type
func DecodeEnvelope(env Envelope) (Event, error) {
	switch env.Type {
	case EventProgress:
		var ev ProgressEvent
		return decodeInto(env, &ev)
	case EventCompleted:
		var ev CompletedEvent
		return decodeInto(env, &ev)
	case EventError:
		var ev ErrorEvent
		return decodeInto(env, &ev)
	case EventMappingSuggestions:
		var ev MappingSuggestionsEvent
		return decodeInto(env, &ev)
	case EventValidationUpdate:
		var ev ValidationUpdateEvent
		return decodeInto(env, &ev)
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
}

func decodeInto[T Event](env Envelope, ev *T) (Event, error) {
	if err := json.Unmarshal(env.Data, ev); err != nil {
		return nil, fmt.Errorf("failed to decode %s event: %w", env.Type, err)
	}
	return *ev, nil
}
