package notify

import (
	"fmt"
	"log/slog"
	"time"
)

// Delivery modes
const (
	ModeLog   = "log"
	ModeEmail = "email"
	ModeNATS  = "nats"
)

// Config holds notification configuration
type Config struct {
	Mode          string        `envconfig:"NOTIFY_MODE" default:"log"`
	From          string        `envconfig:"NOTIFY_FROM" default:"payments@recoveryops.local"`
	OperatorEmail string        `envconfig:"NOTIFY_OPERATOR_EMAIL"`
	Timeout       time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"10s"`
	PostmarkToken string        `envconfig:"POSTMARK_SERVER_TOKEN"`
	PostmarkURL   string        `envconfig:"POSTMARK_API_URL" default:"https://api.postmarkapp.com/email"`
}

// NewSender returns the Postmark sender when a token is configured, otherwise a
// sender that only logs.
func NewSender(cfg Config, logger *slog.Logger) Sender {
	if cfg.PostmarkToken != "" {
		return NewPostmarkSender(cfg.PostmarkURL, cfg.PostmarkToken)
	}
	logger.Warn("no email provider configured, notifications will be logged only")
	return NewLogSender(logger)
}

// Validate checks the mode and the settings it needs
func (c Config) Validate() error {
	switch c.Mode {
	case ModeEmail:
		if c.PostmarkToken == "" {
			return fmt.Errorf("NOTIFY_MODE=email requires POSTMARK_SERVER_TOKEN")
		}
		return nil
	case ModeLog, ModeNATS:
		return nil
	default:
		return fmt.Errorf("unknown NOTIFY_MODE %q", c.Mode)
	}
}

// NewNotifier returns the notifier for cfg.Mode. In nats mode notifications
// are handed to publisher for cmd/notifier to deliver; other modes send email
// from this process.
func NewNotifier(cfg Config, publisher EventPublisher, logger *slog.Logger) Notifier {
	if cfg.Mode == ModeNATS && publisher != nil {
		return NewPublisher(publisher)
	}
	return NewEmailNotifier(NewSender(cfg, logger), cfg.From, cfg.OperatorEmail, logger)
}
