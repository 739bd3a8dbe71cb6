package invoice

import (
	"context"
	"fmt"
	"log/slog"

	"recoveryops/internal/common/database"
	"recoveryops/internal/common/money"
)

// Store persists invoices
type Store interface {
	// GetForUpdate loads an invoice and locks its row until the transaction ends
	GetForUpdate(ctx context.Context, id string) (*Invoice, error)
	Get(ctx context.Context, id string) (*Invoice, error)
	Create(ctx context.Context, inv *Invoice) error
	UpdateBalance(ctx context.Context, inv *Invoice) error
}

// Reconciler applies payment and refund facts to invoice balances. Callers
// guarantee each fact is applied once; the reconciler only guards the balance.
type Reconciler struct {
	store  Store
	logger *slog.Logger
}

// NewReconciler creates a reconciler over a transaction-bound store
func NewReconciler(store Store, logger *slog.Logger) *Reconciler {
	return &Reconciler{store: store, logger: logger}
}

// ApplyPayment adds amount to the invoice's paid balance
func (r *Reconciler) ApplyPayment(ctx context.Context, organizationID, invoiceID string, amount money.Money) (*Invoice, error) {
	return r.apply(ctx, organizationID, invoiceID, "payment", amount, (*Invoice).ApplyPayment)
}

// ApplyRefund removes amount from the invoice's paid balance
func (r *Reconciler) ApplyRefund(ctx context.Context, organizationID, invoiceID string, amount money.Money) (*Invoice, error) {
	return r.apply(ctx, organizationID, invoiceID, "refund", amount, (*Invoice).ApplyRefund)
}

func (r *Reconciler) apply(ctx context.Context, organizationID, invoiceID, fact string, amount money.Money, fn func(*Invoice, money.Money) error) (*Invoice, error) {
	inv, err := r.store.GetForUpdate(ctx, invoiceID)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("%w: invoice %s not found", ErrReconciliationInconsistency, invoiceID)
		}
		return nil, fmt.Errorf("loading invoice %s: %w", invoiceID, err)
	}

	if inv.OrganizationID != organizationID {
		return nil, fmt.Errorf("%w: invoice %s belongs to another organization", ErrReconciliationInconsistency, invoiceID)
	}

	before := inv.Status
	if err := fn(inv, amount); err != nil {
		return nil, err
	}

	if err := r.store.UpdateBalance(ctx, inv); err != nil {
		return nil, fmt.Errorf("updating invoice %s: %w", invoiceID, err)
	}

	r.logger.Info("invoice reconciled",
		"invoice_id", inv.ID,
		"organization_id", inv.OrganizationID,
		"fact", fact,
		"amount", amount.AmountMinor,
		"amount_paid", inv.AmountPaid,
		"amount_due", inv.AmountDue,
		"status_before", before,
		"status", inv.Status,
	)

	return inv, nil
}
