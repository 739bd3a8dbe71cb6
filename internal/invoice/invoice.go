// Package invoice holds resident invoices and applies settlement facts to their
// running balances.
package invoice

import (
	"errors"
	"fmt"
	"time"

	"recoveryops/internal/common/money"
)

// Status is the settlement state of an invoice
type Status string

const (
	StatusOpen          Status = "open"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusVoid          Status = "void"
)

// ErrReconciliationInconsistency signals that a settlement fact contradicts the
// invoice's recorded balance. It is a data-integrity alarm and is never clamped.
var ErrReconciliationInconsistency = errors.New("reconciliation inconsistency")

// Invoice is a bill to one resident of one organization. Amounts are minor units.
type Invoice struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	ResidentID     string         `json:"resident_id"`
	Currency       money.Currency `json:"currency"`
	Total          int64          `json:"total"`
	AmountPaid     int64          `json:"amount_paid"`
	AmountDue      int64          `json:"amount_due"`
	Status         Status         `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// New creates an open invoice for total
func New(id, organizationID, residentID string, total money.Money) (*Invoice, error) {
	if id == "" || organizationID == "" {
		return nil, errors.New("id and organization_id are required")
	}
	if total.AmountMinor < 0 {
		return nil, errors.New("total must not be negative")
	}

	now := time.Now().UTC()
	inv := &Invoice{
		ID:             id,
		OrganizationID: organizationID,
		ResidentID:     residentID,
		Currency:       total.Currency,
		Total:          total.AmountMinor,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	inv.recompute()
	return inv, nil
}

// DeriveStatus computes status from total and amount paid: paid once nothing is
// due, partially paid while something but not everything is paid, open otherwise.
func DeriveStatus(total, amountPaid int64) Status {
	switch {
	case total-amountPaid <= 0:
		return StatusPaid
	case amountPaid > 0:
		return StatusPartiallyPaid
	default:
		return StatusOpen
	}
}

func (inv *Invoice) recompute() {
	inv.AmountDue = inv.Total - inv.AmountPaid
	if inv.Status != StatusVoid {
		inv.Status = DeriveStatus(inv.Total, inv.AmountPaid)
	}
}

// ApplyPayment increases the amount paid by amount
func (inv *Invoice) ApplyPayment(amount money.Money) error {
	if err := inv.checkSettlement(amount); err != nil {
		return err
	}

	paid := inv.AmountPaid + amount.AmountMinor
	if paid > inv.Total {
		return fmt.Errorf("%w: invoice %s overpaid (total %d, paid %d)", ErrReconciliationInconsistency, inv.ID, inv.Total, paid)
	}

	inv.AmountPaid = paid
	inv.recompute()
	inv.UpdatedAt = time.Now().UTC()
	return nil
}

// ApplyRefund decreases the amount paid by amount
func (inv *Invoice) ApplyRefund(amount money.Money) error {
	if err := inv.checkSettlement(amount); err != nil {
		return err
	}

	paid := inv.AmountPaid - amount.AmountMinor
	if paid < 0 {
		return fmt.Errorf("%w: refund of %d exceeds %d collected on invoice %s", ErrReconciliationInconsistency, amount.AmountMinor, inv.AmountPaid, inv.ID)
	}

	inv.AmountPaid = paid
	inv.recompute()
	inv.UpdatedAt = time.Now().UTC()
	return nil
}

func (inv *Invoice) checkSettlement(amount money.Money) error {
	if inv.Status == StatusVoid {
		return fmt.Errorf("%w: invoice %s is void", ErrReconciliationInconsistency, inv.ID)
	}
	if amount.Currency != inv.Currency {
		return fmt.Errorf("%w: invoice %s is in %s, settlement in %s", ErrReconciliationInconsistency, inv.ID, inv.Currency, amount.Currency)
	}
	if amount.AmountMinor <= 0 {
		return fmt.Errorf("%w: non-positive settlement %d on invoice %s", ErrReconciliationInconsistency, amount.AmountMinor, inv.ID)
	}
	return nil
}

// Validate checks the balance invariants
func (inv *Invoice) Validate() error {
	if inv.AmountDue != inv.Total-inv.AmountPaid {
		return fmt.Errorf("%w: amount due %d != total %d - paid %d", ErrReconciliationInconsistency, inv.AmountDue, inv.Total, inv.AmountPaid)
	}
	if inv.AmountPaid < 0 || inv.AmountDue < 0 {
		return fmt.Errorf("%w: negative balance on invoice %s", ErrReconciliationInconsistency, inv.ID)
	}
	if inv.Status != StatusVoid && inv.Status != DeriveStatus(inv.Total, inv.AmountPaid) {
		return fmt.Errorf("%w: status %s does not match balance", ErrReconciliationInconsistency, inv.Status)
	}
	return nil
}
