package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	stripe "github.com/stripe/stripe-go/v82"

	"recoveryops/internal/common/money"
	"recoveryops/internal/processor"
	"recoveryops/internal/webhook"
)

// Event kinds the engine acts on. Every other kind is acknowledged and ignored.
const (
	KindAccountUpdated   = "account.updated"
	KindPaymentSucceeded = "payment_intent.succeeded"
	KindPaymentFailed    = "payment_intent.payment_failed"
	KindChargeRefunded   = "charge.refunded"
	KindDisputeCreated   = "charge.dispute.created"
)

// Metadata keys set on payment intents when the CRM creates them
const (
	MetaOrganizationID = "organization_id"
	MetaInvoiceID      = "invoice_id"
	MetaResidentID     = "resident_id"
)

var (
	// ErrInvalidMetadata is returned when an event lacks fields its kind requires
	ErrInvalidMetadata = errors.New("invalid event metadata")
	// ErrOrphanEvent is returned for an event with no legal place in the payment lifecycle
	ErrOrphanEvent = errors.New("orphan event")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Command is a parsed, validated event. The set of implementations is closed.
type Command interface {
	command()
}

// AccountUpdated carries a connected account's capability flags
type AccountUpdated struct {
	AccountID      string `validate:"required"`
	ChargesEnabled bool
	PayoutsEnabled bool
}

// PaymentSucceeded records a captured payment
type PaymentSucceeded struct {
	Account            string
	OrganizationID     string `validate:"required_without=Account"`
	ProcessorPaymentID string `validate:"required"`
	AmountMinor        int64
	Currency           money.Currency `validate:"required,len=3"`
	InvoiceID          string
	ResidentID         string
	ReceiptEmail       string
}

// Amount returns the captured amount
func (c PaymentSucceeded) Amount() money.Money {
	return money.New(c.AmountMinor, c.Currency)
}

// PaymentFailed records a payment attempt that did not capture
type PaymentFailed struct {
	Account            string
	OrganizationID     string `validate:"required_without=Account"`
	ProcessorPaymentID string `validate:"required"`
	AmountMinor        int64
	Currency           money.Currency `validate:"required,len=3"`
	InvoiceID          string
	ResidentID         string
	FailureCode        string
	FailureMessage     string
}

// Amount returns the attempted amount
func (c PaymentFailed) Amount() money.Money {
	return money.New(c.AmountMinor, c.Currency)
}

// ChargeRefunded carries every refund issued against a charge so far.
// Refunds is empty when the payload did not list them.
type ChargeRefunded struct {
	Account            string
	ChargeID           string         `validate:"required"`
	ProcessorPaymentID string         `validate:"required"`
	AmountRefunded     int64          `validate:"gte=0"`
	Currency           money.Currency `validate:"required,len=3"`
	Refunds            []processor.Refund
}

// DisputeCreated records a payer dispute against a payment
type DisputeCreated struct {
	Account            string
	DisputeID          string `validate:"required"`
	ProcessorPaymentID string `validate:"required"`
	AmountMinor        int64
	Currency           money.Currency
	Reason             string
}

// Ignored is any kind the engine does not act on
type Ignored struct {
	Kind string
}

func (AccountUpdated) command()   {}
func (PaymentSucceeded) command() {}
func (PaymentFailed) command()    {}
func (ChargeRefunded) command()   {}
func (DisputeCreated) command()   {}
func (Ignored) command()          {}

// Parse maps an event to its command and validates the fields the command needs.
func Parse(evt webhook.Event) (Command, error) {
	var (
		cmd Command
		err error
	)

	switch evt.Kind {
	case KindAccountUpdated:
		cmd, err = parseAccountUpdated(evt)
	case KindPaymentSucceeded:
		cmd, err = parsePaymentSucceeded(evt)
	case KindPaymentFailed:
		cmd, err = parsePaymentFailed(evt)
	case KindChargeRefunded:
		cmd, err = parseChargeRefunded(evt)
	case KindDisputeCreated:
		cmd, err = parseDisputeCreated(evt)
	default:
		return Ignored{Kind: evt.Kind}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := validate.Struct(cmd); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrInvalidMetadata, evt.Kind, evt.ID, err)
	}
	return cmd, nil
}

func decodeObject(evt webhook.Event, v any) error {
	if len(evt.Object) == 0 {
		return fmt.Errorf("%w: %s %s has no data object", ErrInvalidMetadata, evt.Kind, evt.ID)
	}
	if err := json.Unmarshal(evt.Object, v); err != nil {
		return fmt.Errorf("%w: decoding %s %s: %v", ErrInvalidMetadata, evt.Kind, evt.ID, err)
	}
	return nil
}

func parseAccountUpdated(evt webhook.Event) (Command, error) {
	var acct stripe.Account
	if err := decodeObject(evt, &acct); err != nil {
		return nil, err
	}
	return AccountUpdated{
		AccountID:      acct.ID,
		ChargesEnabled: acct.ChargesEnabled,
		PayoutsEnabled: acct.PayoutsEnabled,
	}, nil
}

func parsePaymentSucceeded(evt webhook.Event) (Command, error) {
	var pi stripe.PaymentIntent
	if err := decodeObject(evt, &pi); err != nil {
		return nil, err
	}
	amount := pi.AmountReceived
	if amount == 0 {
		amount = pi.Amount
	}
	return PaymentSucceeded{
		Account:            evt.Account,
		OrganizationID:     pi.Metadata[MetaOrganizationID],
		ProcessorPaymentID: pi.ID,
		AmountMinor:        amount,
		Currency:           money.ParseCurrency(string(pi.Currency)),
		InvoiceID:          pi.Metadata[MetaInvoiceID],
		ResidentID:         pi.Metadata[MetaResidentID],
		ReceiptEmail:       pi.ReceiptEmail,
	}, nil
}

func parsePaymentFailed(evt webhook.Event) (Command, error) {
	var pi stripe.PaymentIntent
	if err := decodeObject(evt, &pi); err != nil {
		return nil, err
	}
	cmd := PaymentFailed{
		Account:            evt.Account,
		OrganizationID:     pi.Metadata[MetaOrganizationID],
		ProcessorPaymentID: pi.ID,
		AmountMinor:        pi.Amount,
		Currency:           money.ParseCurrency(string(pi.Currency)),
		InvoiceID:          pi.Metadata[MetaInvoiceID],
		ResidentID:         pi.Metadata[MetaResidentID],
	}
	if pi.LastPaymentError != nil {
		cmd.FailureCode = string(pi.LastPaymentError.Code)
		cmd.FailureMessage = pi.LastPaymentError.Msg
	}
	return cmd, nil
}

// chargePaymentID names the payment a charge belongs to. Charges created
// through a payment intent are recorded under the intent's id.
func chargePaymentID(ch *stripe.Charge) string {
	if ch == nil {
		return ""
	}
	if ch.PaymentIntent != nil && ch.PaymentIntent.ID != "" {
		return ch.PaymentIntent.ID
	}
	return ch.ID
}

func parseChargeRefunded(evt webhook.Event) (Command, error) {
	var ch stripe.Charge
	if err := decodeObject(evt, &ch); err != nil {
		return nil, err
	}
	cmd := ChargeRefunded{
		Account:            evt.Account,
		ChargeID:           ch.ID,
		ProcessorPaymentID: chargePaymentID(&ch),
		AmountRefunded:     ch.AmountRefunded,
		Currency:           money.ParseCurrency(string(ch.Currency)),
	}
	if ch.Refunds != nil {
		for _, r := range ch.Refunds.Data {
			if refund, ok := processor.RefundFromStripe(r); ok {
				cmd.Refunds = append(cmd.Refunds, refund)
			}
		}
	}
	return cmd, nil
}

func parseDisputeCreated(evt webhook.Event) (Command, error) {
	var d stripe.Dispute
	if err := decodeObject(evt, &d); err != nil {
		return nil, err
	}
	paymentID := ""
	if d.PaymentIntent != nil && d.PaymentIntent.ID != "" {
		paymentID = d.PaymentIntent.ID
	} else {
		paymentID = chargePaymentID(d.Charge)
	}
	return DisputeCreated{
		Account:            evt.Account,
		DisputeID:          d.ID,
		ProcessorPaymentID: paymentID,
		AmountMinor:        d.Amount,
		Currency:           money.ParseCurrency(string(d.Currency)),
		Reason:             string(d.Reason),
	}, nil
}
