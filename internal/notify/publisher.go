package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"recoveryops/internal/common/events"
	"recoveryops/internal/common/nats"
)

// EventPublisher publishes event envelopes to the broker
type EventPublisher interface {
	Publish(ctx context.Context, event *events.Event) error
}

var eventTypes = map[Kind]string{
	KindReceipt:        events.EventReceipt,
	KindDisputeAlert:   events.EventDisputeAlert,
	KindIntegrityAlert: events.EventIntegrityAlert,
}

// Publisher hands notifications to the broker for cmd/notifier to deliver
type Publisher struct {
	publisher EventPublisher
}

// NewPublisher creates a broker-backed notifier
func NewPublisher(publisher EventPublisher) *Publisher {
	return &Publisher{publisher: publisher}
}

// Notify publishes n as an event envelope
func (p *Publisher) Notify(ctx context.Context, n Notification) error {
	eventType, ok := eventTypes[n.Kind]
	if !ok {
		return fmt.Errorf("unknown notification kind %q", n.Kind)
	}

	evt, err := events.NewEvent(eventType, n.OrganizationID, n)
	if err != nil {
		return err
	}
	evt.WithCorrelation("", n.EventID)

	return p.publisher.Publish(ctx, evt)
}

// Handler returns a subscriber handler that decodes published notifications
// and delivers them through notifier.
func Handler(notifier Notifier, logger *slog.Logger) nats.MessageHandler {
	return func(ctx context.Context, evt *events.Event) error {
		var n Notification
		if err := evt.DecodeData(&n); err != nil {
			// A malformed envelope will not get better on redelivery.
			logger.Error("dropping undecodable notification", "error", err, "envelope_id", evt.ID, "type", evt.Type)
			return nil
		}
		err := notifier.Notify(ctx, n)
		if errors.Is(err, ErrNoRecipient) {
			logger.Warn("notification has no recipient", "kind", n.Kind, "event_id", n.EventID)
			return nil
		}
		return err
	}
}
