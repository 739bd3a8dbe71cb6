// Package reconcile applies verified processor events to payments, invoices,
// organizations and the ledger, exactly once per event id.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"recoveryops/internal/common/database"
	"recoveryops/internal/common/metrics"
	"recoveryops/internal/invoice"
	"recoveryops/internal/ledger"
	"recoveryops/internal/notify"
	"recoveryops/internal/organization"
	"recoveryops/internal/payment"
	"recoveryops/internal/processor"
	"recoveryops/internal/webhook"
)

// Alarm reasons
const (
	ReasonInvalidAmount               = "invalid_amount"
	ReasonReconciliationInconsistency = "reconciliation_inconsistency"
	ReasonInvalidMetadata             = "invalid_metadata"
)

// Outcome is the result of processing one event
type Outcome struct {
	EventID string `json:"event_id"`
	Kind    string `json:"kind"`
	Status  Status `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
	// Notifications are to be fired once the outcome is committed
	Notifications []notify.Notification `json:"-"`
}

// Engine routes events to their handlers inside one unit of work
type Engine struct {
	uow     UnitOfWork
	guard   *Guard
	refunds processor.RefundLister
	logger  *slog.Logger
}

// NewEngine creates an engine. refunds may be nil, in which case refunds
// missing from a payload are derived from the charge's refunded total.
func NewEngine(uow UnitOfWork, refunds processor.RefundLister, logger *slog.Logger) *Engine {
	return &Engine{
		uow:     uow,
		guard:   NewGuard(logger),
		refunds: refunds,
		logger:  logger,
	}
}

// Process applies evt once. A nil error means the event may be acknowledged,
// whatever its outcome; an error means the processor should redeliver.
func (e *Engine) Process(ctx context.Context, evt webhook.Event) (Outcome, error) {
	return e.run(ctx, evt, false)
}

// Replay re-applies an event whose recorded outcome left it unapplied
func (e *Engine) Replay(ctx context.Context, eventID string) (Outcome, error) {
	marker, err := e.Lookup(ctx, eventID)
	if err != nil {
		return Outcome{}, err
	}
	if !marker.Outcome.Replayable() {
		return Outcome{}, fmt.Errorf("%w: %s has outcome %s", ErrNotReplayable, eventID, marker.Outcome)
	}
	if len(marker.Payload) == 0 {
		return Outcome{}, fmt.Errorf("%w: %s has no stored payload", ErrNotReplayable, eventID)
	}

	evt, err := webhook.Decode(marker.Payload)
	if err != nil {
		return Outcome{}, err
	}

	e.logger.Info("replaying event", "event_id", eventID, "kind", evt.Kind, "previous_outcome", marker.Outcome)
	return e.run(ctx, evt, true)
}

// Lookup returns the marker recorded for an event
func (e *Engine) Lookup(ctx context.Context, eventID string) (*ProcessedEvent, error) {
	var marker *ProcessedEvent
	err := e.uow.Do(ctx, func(s Stores) error {
		var err error
		marker, err = s.Events.Get(ctx, eventID)
		return err
	})
	if err != nil {
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
		}
		return nil, err
	}
	return marker, nil
}

func (e *Engine) run(ctx context.Context, evt webhook.Event, replay bool) (Outcome, error) {
	cmd, parseErr := Parse(evt)
	if parseErr == nil {
		var err error
		if cmd, err = e.enrich(ctx, cmd); err != nil {
			return Outcome{}, err
		}
	}

	var out Outcome
	err := e.uow.Do(ctx, func(s Stores) error {
		out = Outcome{EventID: evt.ID, Kind: evt.Kind}

		if replay {
			marker, err := s.Events.GetForUpdate(ctx, evt.ID)
			if err != nil {
				return fmt.Errorf("locking event %s: %w", evt.ID, err)
			}
			if !marker.Outcome.Replayable() {
				return fmt.Errorf("%w: %s has outcome %s", ErrNotReplayable, evt.ID, marker.Outcome)
			}
			if err := e.guard.Release(ctx, s.Events, evt.ID); err != nil {
				return err
			}
		}

		claim, err := e.guard.Claim(ctx, s.Events, evt)
		if err != nil {
			return err
		}
		if claim == AlreadyProcessed {
			out.Status = StatusDuplicate
			return nil
		}
		if parseErr != nil {
			return parseErr
		}

		res, err := e.dispatch(ctx, s, evt, cmd)
		switch {
		case errors.Is(err, ErrOrphanEvent):
			res = result{status: StatusOrphan, detail: err.Error()}
		case errors.Is(err, organization.ErrUnknownAccount):
			res = result{status: StatusUnknownAccount, detail: err.Error()}
		case err != nil:
			return err
		}

		if err := e.guard.Finalize(ctx, s.Events, evt, res.status, res.detail); err != nil {
			return err
		}
		out.Status = res.status
		out.Detail = res.detail
		out.Notifications = res.notifications
		return nil
	})

	if err != nil {
		reason, alarm := alarmReason(err)
		if !alarm {
			e.logger.Error("event processing failed",
				"error", err,
				"event_id", evt.ID,
				"kind", evt.Kind,
			)
			return Outcome{}, err
		}
		return e.recordAlarm(ctx, evt, reason, err, replay)
	}

	switch out.Status {
	case StatusOrphan, StatusUnknownAccount:
		e.logger.Warn("event acknowledged without changes",
			"event_id", evt.ID,
			"kind", evt.Kind,
			"outcome", out.Status,
			"detail", out.Detail,
		)
	case StatusDuplicate:
	default:
		e.logger.Info("event processed",
			"event_id", evt.ID,
			"kind", evt.Kind,
			"outcome", out.Status,
			"detail", out.Detail,
		)
	}
	metrics.EventsProcessedTotal.WithLabelValues(KindLabel(evt.Kind), string(out.Status)).Inc()
	return out, nil
}

// recordAlarm stores the marker of an event whose core transaction was rolled
// back for a data-integrity violation, so the event is not reapplied on
// redelivery and an operator can replay it once the data is corrected.
func (e *Engine) recordAlarm(ctx context.Context, evt webhook.Event, reason string, cause error, replay bool) (Outcome, error) {
	detail := fmt.Sprintf("%s: %v", reason, cause)
	out := Outcome{EventID: evt.ID, Kind: evt.Kind, Status: StatusAlarm, Detail: detail}

	err := e.uow.Do(ctx, func(s Stores) error {
		out.Status = StatusAlarm
		marker, err := s.Events.GetForUpdate(ctx, evt.ID)
		switch {
		case database.IsNotFound(err):
			inserted, err := s.Events.Insert(ctx, &ProcessedEvent{
				EventID:   evt.ID,
				Kind:      evt.Kind,
				Outcome:   StatusAlarm,
				Detail:    detail,
				Payload:   evt.Raw,
				ClaimedAt: time.Now().UTC(),
			})
			if err != nil {
				return err
			}
			if !inserted {
				out.Status = StatusDuplicate
			}
			return nil
		case err != nil:
			return err
		case replay && marker.Outcome.Replayable():
			return s.Events.Finalize(ctx, evt.ID, StatusAlarm, detail, evt.Raw)
		default:
			// Applied or alarmed by another delivery in the meantime.
			out.Status = StatusDuplicate
			return nil
		}
	})
	if err != nil {
		e.logger.Error("recording alarm failed",
			"error", err,
			"alarm_error", cause,
			"event_id", evt.ID,
			"kind", evt.Kind,
		)
		return Outcome{}, fmt.Errorf("recording alarm for %s: %w", evt.ID, err)
	}

	metrics.EventsProcessedTotal.WithLabelValues(KindLabel(evt.Kind), string(out.Status)).Inc()
	if out.Status == StatusDuplicate {
		out.Detail = ""
		return out, nil
	}

	metrics.ReconciliationAlarmsTotal.WithLabelValues(reason).Inc()
	e.logger.Error("reconciliation alarm",
		"error", cause,
		"reason", reason,
		"event_id", evt.ID,
		"kind", evt.Kind,
		"replay", replay,
	)
	out.Notifications = []notify.Notification{{
		Kind:    notify.KindIntegrityAlert,
		EventID: evt.ID,
		Reason:  reason,
		Detail:  detail,
	}}
	return out, nil
}

// enrich fills in refunds a charge.refunded payload did not list
func (e *Engine) enrich(ctx context.Context, cmd Command) (Command, error) {
	c, ok := cmd.(ChargeRefunded)
	if !ok || len(c.Refunds) > 0 || e.refunds == nil {
		return cmd, nil
	}

	refunds, err := e.refunds.ListRefunds(ctx, c.Account, c.ChargeID)
	if err != nil {
		return nil, fmt.Errorf("fetching refunds for %s: %w", c.ChargeID, err)
	}
	c.Refunds = refunds
	return c, nil
}

func alarmReason(err error) (string, bool) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		return ReasonInvalidAmount, true
	case errors.Is(err, invoice.ErrReconciliationInconsistency),
		errors.Is(err, payment.ErrInconsistentRefund):
		return ReasonReconciliationInconsistency, true
	case errors.Is(err, ErrInvalidMetadata):
		return ReasonInvalidMetadata, true
	}
	return "", false
}

// KindLabel bounds metric label cardinality to the kinds the engine handles
func KindLabel(kind string) string {
	switch kind {
	case KindAccountUpdated, KindPaymentSucceeded, KindPaymentFailed, KindChargeRefunded, KindDisputeCreated:
		return kind
	}
	return "other"
}
