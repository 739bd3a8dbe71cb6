package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event is the envelope for messages published after a reconciliation commits
type Event struct {
	ID             string          `json:"event_id"`
	Type           string          `json:"type"`
	Version        int             `json:"version"`
	OccurredAt     time.Time       `json:"occurred_at"`
	CorrelationID  string          `json:"correlation_id,omitempty"`
	CausationID    string          `json:"causation_id,omitempty"`
	OrganizationID string          `json:"organization_id,omitempty"`
	Data           json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, organizationID string, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s data: %w", eventType, err)
	}

	return &Event{
		ID:             ulid.Make().String(),
		Type:           eventType,
		Version:        1,
		OccurredAt:     time.Now().UTC(),
		OrganizationID: organizationID,
		Data:           dataBytes,
	}, nil
}

// WithCorrelation adds correlation and causation IDs
func (e *Event) WithCorrelation(correlationID, causationID string) *Event {
	e.CorrelationID = correlationID
	e.CausationID = causationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v any) error {
	return json.Unmarshal(e.Data, v)
}

// Notification event types
const (
	EventReceipt        = "notification.receipt"
	EventDisputeAlert   = "notification.dispute_alert"
	EventIntegrityAlert = "notification.integrity_alert"
)

// SubjectPrefix prefixes every published subject
const SubjectPrefix = "events."

// Subject returns the broker subject for an event type
func Subject(eventType string) string {
	return SubjectPrefix + eventType
}
