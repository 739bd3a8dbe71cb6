package notify

import (
	"context"
	"fmt"
	"log/slog"
)

// EmailNotifier renders notifications as emails
type EmailNotifier struct {
	sender        Sender
	from          string
	operatorEmail string
	logger        *slog.Logger
}

// NewEmailNotifier creates an email notifier. Integrity alerts without an
// explicit recipient go to operatorEmail.
func NewEmailNotifier(sender Sender, from, operatorEmail string, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		sender:        sender,
		from:          from,
		operatorEmail: operatorEmail,
		logger:        logger,
	}
}

// Notify renders and sends one notification
func (e *EmailNotifier) Notify(ctx context.Context, n Notification) error {
	to := n.To
	if to == "" && n.Kind == KindIntegrityAlert {
		to = e.operatorEmail
	}
	if to == "" {
		return fmt.Errorf("%s for event %s: %w", n.Kind, n.EventID, ErrNoRecipient)
	}

	subject, html, text, err := Render(n)
	if err != nil {
		return err
	}

	if err := e.sender.Send(ctx, Message{
		From:    e.from,
		To:      to,
		Subject: subject,
		HTML:    html,
		Text:    text,
	}); err != nil {
		return fmt.Errorf("sending %s: %w", n.Kind, err)
	}

	e.logger.Info("notification sent",
		"kind", n.Kind,
		"event_id", n.EventID,
		"organization_id", n.OrganizationID,
	)
	return nil
}
