package reconcile

import (
	"context"

	"recoveryops/internal/invoice"
	"recoveryops/internal/ledger"
	"recoveryops/internal/organization"
	"recoveryops/internal/payment"
)

// Stores are the repositories bound to one transaction
type Stores struct {
	Events        EventStore
	Payments      payment.Store
	Invoices      invoice.Store
	Organizations organization.Store
	Ledger        ledger.Store
}

// UnitOfWork runs fn inside a single transaction that commits only when fn
// returns nil. Implementations may re-run fn after a retryable conflict, so fn
// must not carry state between calls.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(Stores) error) error
}
