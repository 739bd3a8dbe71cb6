// Package webhook verifies inbound payment-processor notifications and turns
// them into typed events. Only the verified payload is trusted downstream.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
)

// SignatureHeader is the header carrying the processor's signature
const SignatureHeader = "Stripe-Signature"

var (
	// ErrMissingSignature is returned when no signature header was sent
	ErrMissingSignature = errors.New("missing signature")
	// ErrInvalidSignature is returned when the signature does not verify
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrMalformedEvent is returned when a stored payload cannot be decoded
	ErrMalformedEvent = errors.New("malformed event")
)

// Event is a verified processor notification
type Event struct {
	ID       string          `json:"id"`
	Kind     string          `json:"kind"`
	Account  string          `json:"account,omitempty"`
	Created  time.Time       `json:"created"`
	Livemode bool            `json:"livemode"`
	Object   json.RawMessage `json:"-"`
	// Raw is the exact body that was verified
	Raw []byte `json:"-"`
}

// Authenticator verifies processor signatures against a shared secret
type Authenticator struct {
	secret    string
	tolerance time.Duration
}

// NewAuthenticator creates an authenticator. A zero tolerance uses the
// processor library's default of five minutes.
func NewAuthenticator(secret string, tolerance time.Duration) *Authenticator {
	if tolerance <= 0 {
		tolerance = stripewebhook.DefaultTolerance
	}
	return &Authenticator{secret: secret, tolerance: tolerance}
}

// Configured reports whether a signing secret is set
func (a *Authenticator) Configured() bool {
	return strings.TrimSpace(a.secret) != ""
}

// Verify checks sigHeader against the unmodified body and decodes the event
func (a *Authenticator) Verify(body []byte, sigHeader string) (Event, error) {
	if strings.TrimSpace(sigHeader) == "" {
		return Event{}, ErrMissingSignature
	}

	evt, err := stripewebhook.ConstructEventWithOptions(body, sigHeader, a.secret, stripewebhook.ConstructEventOptions{
		Tolerance:                a.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	return fromStripe(evt, body), nil
}

// Decode rebuilds an event from a body that was verified earlier and stored
func Decode(raw []byte) (Event, error) {
	var evt stripe.Event
	if err := json.Unmarshal(raw, &evt); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if evt.ID == "" || evt.Type == "" {
		return Event{}, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}
	return fromStripe(evt, raw), nil
}

func fromStripe(evt stripe.Event, raw []byte) Event {
	out := Event{
		ID:       evt.ID,
		Kind:     string(evt.Type),
		Account:  evt.Account,
		Created:  time.Unix(evt.Created, 0).UTC(),
		Livemode: evt.Livemode,
		Raw:      raw,
	}
	if evt.Data != nil {
		out.Object = evt.Data.Raw
	}
	return out
}
