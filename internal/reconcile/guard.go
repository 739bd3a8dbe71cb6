package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"recoveryops/internal/webhook"
)

// Status is the recorded outcome of an event
type Status string

const (
	StatusClaimed        Status = "claimed"
	StatusProcessed      Status = "processed"
	StatusDuplicate      Status = "duplicate"
	StatusOrphan         Status = "orphan"
	StatusIgnored        Status = "ignored"
	StatusUnknownAccount Status = "unknown_account"
	StatusAlarm          Status = "alarm"
)

// Replayable reports whether an event with this outcome was left unapplied
// and may be re-run by an operator.
func (s Status) Replayable() bool {
	switch s {
	case StatusOrphan, StatusUnknownAccount, StatusAlarm:
		return true
	}
	return false
}

var (
	// ErrEventNotFound is returned when no marker exists for an event id
	ErrEventNotFound = errors.New("event not found")
	// ErrNotReplayable is returned when replaying an event that was applied
	ErrNotReplayable = errors.New("event is not replayable")
)

// ProcessedEvent is the durable marker of an event the engine has seen
type ProcessedEvent struct {
	EventID     string     `json:"event_id"`
	Kind        string     `json:"kind"`
	Outcome     Status     `json:"outcome"`
	Detail      string     `json:"detail,omitempty"`
	Payload     []byte     `json:"-"`
	ClaimedAt   time.Time  `json:"claimed_at"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
}

// EventStore persists processed-event markers
type EventStore interface {
	// Insert adds the marker unless one exists, reporting whether it did
	Insert(ctx context.Context, e *ProcessedEvent) (bool, error)
	// Finalize records the outcome. A nil payload leaves the stored payload unchanged.
	Finalize(ctx context.Context, eventID string, outcome Status, detail string, payload []byte) error
	Delete(ctx context.Context, eventID string) error
	Get(ctx context.Context, eventID string) (*ProcessedEvent, error)
	GetForUpdate(ctx context.Context, eventID string) (*ProcessedEvent, error)
}

// ClaimResult says whether the caller owns an event
type ClaimResult int

const (
	Claimed ClaimResult = iota
	AlreadyProcessed
)

// Guard claims events so that each is applied at most once. The claim is made
// in the same transaction as the writes it protects: a concurrent claimant of
// the same id blocks on the uncommitted row and sees AlreadyProcessed once the
// owner commits, or claims the event itself if the owner rolls back.
type Guard struct {
	logger *slog.Logger
}

// NewGuard creates a guard
func NewGuard(logger *slog.Logger) *Guard {
	return &Guard{logger: logger}
}

// Claim inserts the marker for evt
func (g *Guard) Claim(ctx context.Context, store EventStore, evt webhook.Event) (ClaimResult, error) {
	inserted, err := store.Insert(ctx, &ProcessedEvent{
		EventID:   evt.ID,
		Kind:      evt.Kind,
		Outcome:   StatusClaimed,
		ClaimedAt: time.Now().UTC(),
	})
	if err != nil {
		return 0, fmt.Errorf("claiming event %s: %w", evt.ID, err)
	}
	if !inserted {
		g.logger.Info("event already processed", "event_id", evt.ID, "kind", evt.Kind)
		return AlreadyProcessed, nil
	}
	return Claimed, nil
}

// Finalize records the outcome of a claimed event. The verified payload is kept
// for outcomes an operator may want to replay.
func (g *Guard) Finalize(ctx context.Context, store EventStore, evt webhook.Event, outcome Status, detail string) error {
	var payload []byte
	if outcome.Replayable() {
		payload = evt.Raw
	}
	if err := store.Finalize(ctx, evt.ID, outcome, detail, payload); err != nil {
		return fmt.Errorf("finalizing event %s: %w", evt.ID, err)
	}
	return nil
}

// Release removes the marker so the event can be claimed again
func (g *Guard) Release(ctx context.Context, store EventStore, eventID string) error {
	if err := store.Delete(ctx, eventID); err != nil {
		return fmt.Errorf("releasing event %s: %w", eventID, err)
	}
	return nil
}
