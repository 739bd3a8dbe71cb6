// Package processor reads auxiliary detail from the payment processor's API
// that event payloads do not always carry.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"

	"recoveryops/internal/common/metrics"
	"recoveryops/internal/common/money"
)

// Config holds processor API configuration
type Config struct {
	APIKey string `envconfig:"STRIPE_API_KEY"`
	// APIURL overrides the API base URL, e.g. for stripe-mock
	APIURL string `envconfig:"STRIPE_API_URL"`
}

// Refund is a processor refund that moved money back to the payer
type Refund struct {
	ID     string
	Amount money.Money
}

// RefundLister lists the refunds issued against a charge
type RefundLister interface {
	ListRefunds(ctx context.Context, account, chargeID string) ([]Refund, error)
}

// RefundFromStripe converts a processor refund, reporting false for refunds that
// did not (or will not) move money.
func RefundFromStripe(r *stripe.Refund) (Refund, bool) {
	if r == nil || r.ID == "" {
		return Refund{}, false
	}
	switch r.Status {
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return Refund{}, false
	}
	return Refund{
		ID:     r.ID,
		Amount: money.New(r.Amount, money.ParseCurrency(string(r.Currency))),
	}, true
}

// StripeClient implements RefundLister against the Stripe API
type StripeClient struct {
	client *stripe.Client
	logger *slog.Logger
}

// NewStripeClient creates a client, or returns nil when no API key is configured
func NewStripeClient(cfg Config, logger *slog.Logger) *StripeClient {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}

	var opts []stripe.ClientOption
	if cfg.APIURL != "" {
		opts = append(opts, stripe.WithBackends(stripe.NewBackendsWithConfig(&stripe.BackendConfig{
			URL: stripe.String(cfg.APIURL),
		})))
	}

	return &StripeClient{
		client: stripe.NewClient(cfg.APIKey, opts...),
		logger: logger,
	}
}

// ListRefunds lists the refunds of a charge, on the connected account when one is given
func (c *StripeClient) ListRefunds(ctx context.Context, account, chargeID string) ([]Refund, error) {
	params := &stripe.RefundListParams{Charge: stripe.String(chargeID)}
	if account != "" {
		params.SetStripeAccount(account)
	}

	var refunds []Refund
	for r, err := range c.client.V1Refunds.List(ctx, params) {
		if err != nil {
			metrics.ProcessorRequestsTotal.WithLabelValues("list_refunds", "error").Inc()
			return nil, fmt.Errorf("listing refunds for %s: %w", chargeID, err)
		}
		if refund, ok := RefundFromStripe(r); ok {
			refunds = append(refunds, refund)
		}
	}

	metrics.ProcessorRequestsTotal.WithLabelValues("list_refunds", "ok").Inc()
	c.logger.Debug("refunds fetched from processor",
		"charge_id", chargeID,
		"account", account,
		"count", len(refunds),
	)
	return refunds, nil
}
