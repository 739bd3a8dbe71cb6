package invoice_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recoveryops/internal/common/money"
	"recoveryops/internal/invoice"
	"recoveryops/internal/reconcile"
	tu "recoveryops/internal/testutil"
)

func seed(t *testing.T) *tu.MemStore {
	t.Helper()
	store := tu.NewMemStore()
	inv, err := invoice.New("inv_1", "org_1", "res_1", money.New(45000, money.USD))
	require.NoError(t, err)
	store.AddInvoice(*inv)
	return store
}

func apply(t *testing.T, store *tu.MemStore, fn func(r *invoice.Reconciler) error) error {
	t.Helper()
	return store.Do(context.Background(), func(s reconcile.Stores) error {
		return fn(invoice.NewReconciler(s.Invoices, tu.Logger()))
	})
}

func TestReconciler_PaymentAndRefund(t *testing.T) {
	ctx := context.Background()
	store := seed(t)

	err := apply(t, store, func(r *invoice.Reconciler) error {
		inv, err := r.ApplyPayment(ctx, "org_1", "inv_1", money.New(45000, money.USD))
		if err != nil {
			return err
		}
		assert.Equal(t, invoice.StatusPaid, inv.Status)
		return nil
	})
	require.NoError(t, err)

	err = apply(t, store, func(r *invoice.Reconciler) error {
		_, err := r.ApplyRefund(ctx, "org_1", "inv_1", money.New(15000, money.USD))
		return err
	})
	require.NoError(t, err)

	inv, ok := store.Invoice("inv_1")
	require.True(t, ok)
	assert.Equal(t, int64(30000), inv.AmountPaid)
	assert.Equal(t, int64(15000), inv.AmountDue)
	assert.Equal(t, invoice.StatusPartiallyPaid, inv.Status)
}

func TestReconciler_Inconsistencies(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		apply func(r *invoice.Reconciler) error
	}{
		{"unknown invoice", func(r *invoice.Reconciler) error {
			_, err := r.ApplyPayment(ctx, "org_1", "inv_missing", money.New(100, money.USD))
			return err
		}},
		{"invoice of another organization", func(r *invoice.Reconciler) error {
			_, err := r.ApplyPayment(ctx, "org_2", "inv_1", money.New(100, money.USD))
			return err
		}},
		{"overpayment", func(r *invoice.Reconciler) error {
			_, err := r.ApplyPayment(ctx, "org_1", "inv_1", money.New(45001, money.USD))
			return err
		}},
		{"refund of nothing collected", func(r *invoice.Reconciler) error {
			_, err := r.ApplyRefund(ctx, "org_1", "inv_1", money.New(100, money.USD))
			return err
		}},
		{"currency mismatch", func(r *invoice.Reconciler) error {
			_, err := r.ApplyPayment(ctx, "org_1", "inv_1", money.New(100, money.EUR))
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seed(t)
			err := apply(t, store, tt.apply)
			assert.ErrorIs(t, err, invoice.ErrReconciliationInconsistency)

			inv, _ := store.Invoice("inv_1")
			assert.Equal(t, int64(0), inv.AmountPaid)
			assert.Equal(t, invoice.StatusOpen, inv.Status)
		})
	}
}
