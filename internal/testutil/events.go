package testutil

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"

	"recoveryops/internal/webhook"
)

// Logger returns a logger that discards output
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Object is a processor API object in its JSON form
type Object = map[string]any

// EventJSON renders a processor event envelope around object
func EventJSON(t testing.TB, id, kind, account string, object Object) []byte {
	t.Helper()
	envelope := map[string]any{
		"id":          id,
		"object":      "event",
		"type":        kind,
		"api_version": "2025-03-31.basil",
		"created":     time.Now().Unix(),
		"livemode":    false,
		"data":        map[string]any{"object": object},
	}
	if account != "" {
		envelope["account"] = account
	}
	body, err := json.Marshal(envelope)
	require.NoError(t, err)
	return body
}

// Event builds a decoded event as the authenticator would return it
func Event(t testing.TB, id, kind, account string, object Object) webhook.Event {
	t.Helper()
	evt, err := webhook.Decode(EventJSON(t, id, kind, account, object))
	require.NoError(t, err)
	return evt
}

// Sign returns a valid signature header for payload
func Sign(secret string, payload []byte) string {
	signed := stripewebhook.GenerateTestSignedPayload(&stripewebhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	return signed.Header
}

// PaymentIntent builds a payment intent object
func PaymentIntent(id string, amount int64, metadata map[string]string, receiptEmail string) Object {
	obj := Object{
		"id":              id,
		"object":          "payment_intent",
		"amount":          amount,
		"amount_received": amount,
		"currency":        "usd",
		"status":          "succeeded",
		"metadata":        metadata,
	}
	if receiptEmail != "" {
		obj["receipt_email"] = receiptEmail
	}
	return obj
}

// FailedPaymentIntent builds a payment intent whose last attempt failed
func FailedPaymentIntent(id string, amount int64, metadata map[string]string, code, message string) Object {
	return Object{
		"id":       id,
		"object":   "payment_intent",
		"amount":   amount,
		"currency": "usd",
		"status":   "requires_payment_method",
		"metadata": metadata,
		"last_payment_error": Object{
			"type":    "card_error",
			"code":    code,
			"message": message,
		},
	}
}

// Charge builds a charge. The refunds list is included only when refunds is non-nil.
func Charge(id, paymentIntent string, amount, amountRefunded int64, refunds []Object) Object {
	obj := Object{
		"id":              id,
		"object":          "charge",
		"amount":          amount,
		"amount_refunded": amountRefunded,
		"currency":        "usd",
		"refunded":        amountRefunded == amount,
	}
	if paymentIntent != "" {
		obj["payment_intent"] = paymentIntent
	}
	if refunds != nil {
		obj["refunds"] = Object{
			"object":   "list",
			"has_more": false,
			"url":      "/v1/charges/" + id + "/refunds",
			"data":     refunds,
		}
	}
	return obj
}

// Refund builds a succeeded refund
func Refund(id string, amount int64) Object {
	return Object{
		"id":       id,
		"object":   "refund",
		"amount":   amount,
		"currency": "usd",
		"status":   "succeeded",
	}
}

// Dispute builds a dispute
func Dispute(id, charge, paymentIntent string, amount int64, reason string) Object {
	return Object{
		"id":             id,
		"object":         "dispute",
		"amount":         amount,
		"currency":       "usd",
		"charge":         charge,
		"payment_intent": paymentIntent,
		"reason":         reason,
		"status":         "needs_response",
	}
}

// Account builds a connected account
func Account(id string, chargesEnabled, payoutsEnabled bool) Object {
	return Object{
		"id":              id,
		"object":          "account",
		"charges_enabled": chargesEnabled,
		"payouts_enabled": payoutsEnabled,
	}
}
