package payment

import (
	"errors"
	"fmt"
	"time"

	"recoveryops/internal/common/money"
)

// Status is the lifecycle state of a payment
type Status string

const (
	// StatusNone is the state of a processor payment this system has not recorded
	StatusNone      Status = ""
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
	StatusDisputed  Status = "disputed"
)

var transitions = map[Status][]Status{
	StatusNone:      {StatusSucceeded, StatusFailed},
	StatusSucceeded: {StatusRefunded, StatusDisputed},
	StatusRefunded:  {StatusRefunded},
}

// CanTransition reports whether the lifecycle allows moving from s to next
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

var (
	// ErrInvalidTransition is returned for a lifecycle move the payment cannot make
	ErrInvalidTransition = errors.New("invalid payment transition")
	// ErrInconsistentRefund is returned when a refund contradicts the payment it reverses
	ErrInconsistentRefund = errors.New("refund inconsistent with payment")
)

// Payment is one processor charge attempt
type Payment struct {
	ID                 string         `json:"id"`
	OrganizationID     string         `json:"organization_id"`
	ProcessorPaymentID string         `json:"processor_payment_id"`
	InvoiceID          *string        `json:"invoice_id,omitempty"`
	ResidentID         string         `json:"resident_id,omitempty"`
	Amount             int64          `json:"amount"`
	AmountRefunded     int64          `json:"amount_refunded"`
	Currency           money.Currency `json:"currency"`
	Status             Status         `json:"status"`
	ReceiptEmail       string         `json:"receipt_email,omitempty"`
	FailureCode        string         `json:"failure_code,omitempty"`
	FailureMessage     string         `json:"failure_message,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// New records the first lifecycle event of a processor payment. Only succeeded
// and failed may create a payment.
func New(id, organizationID, processorPaymentID string, amount money.Money, status Status) (*Payment, error) {
	if id == "" || organizationID == "" || processorPaymentID == "" {
		return nil, errors.New("id, organization_id and processor_payment_id are required")
	}
	if !StatusNone.CanTransition(status) {
		return nil, fmt.Errorf("%w: cannot create payment as %q", ErrInvalidTransition, status)
	}

	now := time.Now().UTC()
	return &Payment{
		ID:                 id,
		OrganizationID:     organizationID,
		ProcessorPaymentID: processorPaymentID,
		Amount:             amount.AmountMinor,
		Currency:           amount.Currency,
		Status:             status,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// Money returns the payment amount
func (p *Payment) Money() money.Money {
	return money.New(p.Amount, p.Currency)
}

// Transition moves the payment to next if the lifecycle allows it
func (p *Payment) Transition(next Status) error {
	if !p.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, p.Status, next, p.ProcessorPaymentID)
	}
	p.Status = next
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// CanRefund reports whether a refund may be applied in the current state
func (p *Payment) CanRefund() bool {
	return p.Status.CanTransition(StatusRefunded)
}

// ApplyRefund records amount as refunded and moves the payment to refunded
func (p *Payment) ApplyRefund(amount money.Money) error {
	if amount.Currency != p.Currency {
		return fmt.Errorf("%w: payment %s is in %s, refund in %s", ErrInconsistentRefund, p.ID, p.Currency, amount.Currency)
	}
	if p.AmountRefunded+amount.AmountMinor > p.Amount {
		return fmt.Errorf("%w: refunds of %d exceed payment %s amount %d",
			ErrInconsistentRefund, p.AmountRefunded+amount.AmountMinor, p.ID, p.Amount)
	}
	if err := p.Transition(StatusRefunded); err != nil {
		return err
	}
	p.AmountRefunded += amount.AmountMinor
	return nil
}

// Refund is one processor refund against a payment
type Refund struct {
	ID                string         `json:"id"`
	PaymentID         string         `json:"payment_id"`
	ProcessorRefundID string         `json:"processor_refund_id"`
	Amount            int64          `json:"amount"`
	Currency          money.Currency `json:"currency"`
	CreatedAt         time.Time      `json:"created_at"`
}

// NewRefund creates a refund record
func NewRefund(id, paymentID, processorRefundID string, amount money.Money) *Refund {
	return &Refund{
		ID:                id,
		PaymentID:         paymentID,
		ProcessorRefundID: processorRefundID,
		Amount:            amount.AmountMinor,
		Currency:          amount.Currency,
		CreatedAt:         time.Now().UTC(),
	}
}
