package testutil

import (
	"context"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recoveryops/internal/common/database"
	"recoveryops/internal/common/money"
	"recoveryops/internal/invoice"
	"recoveryops/internal/payment"
	"recoveryops/internal/reconcile"
)

func TestMemPayments_InvoiceReference(t *testing.T) {
	store := NewMemStore()
	inv, err := invoice.New("inv_1", "org_1", "res_1", money.New(45000, money.USD))
	require.NoError(t, err)
	store.AddInvoice(*inv)

	tests := []struct {
		name      string
		invoiceID string
		wantFK    bool
	}{
		{name: "existing invoice", invoiceID: "inv_1"},
		{name: "missing invoice", invoiceID: "inv_ghost", wantFK: true},
		{name: "no invoice"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := payment.New(ulid.Make().String(), "org_1", "pi_"+tt.name, money.New(1000, money.USD), payment.StatusSucceeded)
			require.NoError(t, err)
			if tt.invoiceID != "" {
				id := tt.invoiceID
				p.InvoiceID = &id
			}

			err = store.Do(context.Background(), func(s reconcile.Stores) error {
				return s.Payments.Create(context.Background(), p)
			})
			if tt.wantFK {
				assert.True(t, database.IsForeignKeyViolation(err))
				_, ok := store.Payment(p.ProcessorPaymentID)
				assert.False(t, ok)
				return
			}
			require.NoError(t, err)
			_, ok := store.Payment(p.ProcessorPaymentID)
			assert.True(t, ok)
		})
	}
}
