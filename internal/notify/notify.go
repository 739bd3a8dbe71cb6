// Package notify delivers side effects of a committed reconciliation: payer
// receipts, dispute alerts and data-integrity alerts. Delivery is best effort
// and never affects the outcome of the event that produced it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"recoveryops/internal/common/metrics"
	"recoveryops/internal/common/money"
)

// Kind identifies a notification
type Kind string

const (
	KindReceipt        Kind = "receipt"
	KindDisputeAlert   Kind = "dispute_alert"
	KindIntegrityAlert Kind = "integrity_alert"
)

// ErrNoRecipient is returned when a notification has nowhere to go
var ErrNoRecipient = errors.New("no recipient")

// DefaultTimeout bounds one Fire call
const DefaultTimeout = 10 * time.Second

// Notification describes one side effect
type Notification struct {
	Kind           Kind         `json:"kind"`
	EventID        string       `json:"event_id"`
	OrganizationID string       `json:"organization_id,omitempty"`
	To             string       `json:"to,omitempty"`
	PaymentID      string       `json:"payment_id,omitempty"`
	Amount         *money.Money `json:"amount,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	Detail         string       `json:"detail,omitempty"`
}

// Notifier delivers a notification
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, n Notification) error

// Notify calls f
func (f NotifierFunc) Notify(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

// Fire delivers notifications after the caller's work has committed. It runs
// under a context detached from ctx's cancellation, so a client hanging up
// does not cut delivery short. Errors and panics are logged and counted.
func Fire(ctx context.Context, notifier Notifier, logger *slog.Logger, timeout time.Duration, notifications []Notification) {
	if len(notifications) == 0 {
		return
	}
	if notifier == nil {
		for _, n := range notifications {
			metrics.NotificationsTotal.WithLabelValues(string(n.Kind), "skipped").Inc()
		}
		return
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	for _, n := range notifications {
		err := deliver(ctx, notifier, n)
		switch {
		case err == nil:
			metrics.NotificationsTotal.WithLabelValues(string(n.Kind), "sent").Inc()
		case errors.Is(err, ErrNoRecipient):
			metrics.NotificationsTotal.WithLabelValues(string(n.Kind), "skipped").Inc()
			logger.Warn("notification skipped",
				"kind", n.Kind,
				"event_id", n.EventID,
				"organization_id", n.OrganizationID,
			)
		default:
			metrics.NotificationsTotal.WithLabelValues(string(n.Kind), "failed").Inc()
			logger.Error("notification failed",
				"error", err,
				"kind", n.Kind,
				"event_id", n.EventID,
				"organization_id", n.OrganizationID,
			)
		}
	}
}

func deliver(ctx context.Context, notifier Notifier, n Notification) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("notifier panic: %v", rec)
		}
	}()
	return notifier.Notify(ctx, n)
}
