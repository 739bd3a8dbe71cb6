package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recoveryops/internal/common/money"
)

func mustAccount(t *testing.T, id string, code AccountCode) *Account {
	t.Helper()
	a, err := NewAccount(id, "org_1", code, money.USD)
	require.NoError(t, err)
	return a
}

func TestNewAccount(t *testing.T) {
	cash := mustAccount(t, "acc_cash", CashInTransit)
	assert.Equal(t, AccountTypeAsset, cash.AccountType)
	assert.Equal(t, NormalBalanceDebit, cash.NormalBalance)
	assert.Equal(t, "Cash in Transit", cash.Name)

	refunds := mustAccount(t, "acc_ref", RefundExpense)
	assert.Equal(t, AccountTypeExpense, refunds.AccountType)
	assert.Equal(t, NormalBalanceDebit, refunds.NormalBalance)

	_, err := NewAccount("acc_x", "org_1", AccountCode("suspense"), money.USD)
	assert.ErrorIs(t, err, ErrUnknownAccountCode)

	_, err = NewAccount("acc_x", "", CashInTransit, money.USD)
	assert.Error(t, err)
}

func TestTransactionBuilder(t *testing.T) {
	cash := mustAccount(t, "acc_cash", CashInTransit)
	ar := mustAccount(t, "acc_ar", AccountsReceivable)
	amount := money.New(45000, money.USD)

	t.Run("balanced pair", func(t *testing.T) {
		txn, err := NewTransactionBuilder("txn_1", "org_1", ReferencePayment, "pay_1", money.USD).
			WithDescription("payment captured").
			Debit("ent_1", cash, amount).
			Credit("ent_2", ar, amount).
			Build()
		require.NoError(t, err)

		assert.Equal(t, amount, txn.Amount)
		require.Len(t, txn.Entries, 2)
		assert.Equal(t, EntryTypeDebit, txn.Entries[0].EntryType)
		assert.Equal(t, 1, txn.Entries[0].Sequence)
		assert.Equal(t, EntryTypeCredit, txn.Entries[1].EntryType)
		assert.Equal(t, 2, txn.Entries[1].Sequence)
		assert.NoError(t, txn.Validate())
	})

	t.Run("unbalanced", func(t *testing.T) {
		_, err := NewTransactionBuilder("txn_2", "org_1", ReferencePayment, "pay_2", money.USD).
			Debit("ent_1", cash, amount).
			Credit("ent_2", ar, money.New(100, money.USD)).
			Build()
		assert.ErrorIs(t, err, ErrUnbalanced)
	})

	t.Run("single entry", func(t *testing.T) {
		_, err := NewTransactionBuilder("txn_3", "org_1", ReferencePayment, "pay_3", money.USD).
			Debit("ent_1", cash, amount).
			Build()
		assert.Error(t, err)
	})

	t.Run("zero amount", func(t *testing.T) {
		_, err := NewTransactionBuilder("txn_4", "org_1", ReferencePayment, "pay_4", money.USD).
			Debit("ent_1", cash, money.Zero(money.USD)).
			Credit("ent_2", ar, money.Zero(money.USD)).
			Build()
		assert.ErrorIs(t, err, ErrNonPositiveAmount)
	})

	t.Run("currency mismatch", func(t *testing.T) {
		_, err := NewTransactionBuilder("txn_5", "org_1", ReferencePayment, "pay_5", money.USD).
			Debit("ent_1", cash, money.New(100, money.CAD)).
			Credit("ent_2", ar, money.New(100, money.CAD)).
			Build()
		assert.Error(t, err)
	})

	t.Run("account from another organization", func(t *testing.T) {
		other, err := NewAccount("acc_other", "org_2", AccountsReceivable, money.USD)
		require.NoError(t, err)
		_, err = NewTransactionBuilder("txn_6", "org_1", ReferencePayment, "pay_6", money.USD).
			Debit("ent_1", cash, amount).
			Credit("ent_2", other, amount).
			Build()
		assert.Error(t, err)
	})
}

func TestCalculateBalance(t *testing.T) {
	cash := mustAccount(t, "acc_cash", CashInTransit)
	ar := mustAccount(t, "acc_ar", AccountsReceivable)
	refunds := mustAccount(t, "acc_ref", RefundExpense)

	payment, err := NewTransactionBuilder("txn_1", "org_1", ReferencePayment, "pay_1", money.USD).
		Debit("e1", cash, money.New(45000, money.USD)).
		Credit("e2", ar, money.New(45000, money.USD)).
		Build()
	require.NoError(t, err)

	refund, err := NewTransactionBuilder("txn_2", "org_1", ReferenceRefund, "ref_1", money.USD).
		Debit("e3", refunds, money.New(15000, money.USD)).
		Credit("e4", cash, money.New(15000, money.USD)).
		Build()
	require.NoError(t, err)

	entries := append(payment.Entries, refund.Entries...)

	assert.Equal(t, int64(30000), CalculateBalance(cash, entries))
	assert.Equal(t, int64(-45000), CalculateBalance(ar, entries))
	assert.Equal(t, int64(15000), CalculateBalance(refunds, entries))

	var total int64
	for _, e := range entries {
		if e.EntryType == EntryTypeDebit {
			total += e.Amount.AmountMinor
		} else {
			total -= e.Amount.AmountMinor
		}
	}
	assert.Zero(t, total, "debits must equal credits across the ledger")
}

func TestNewBalance(t *testing.T) {
	ar := mustAccount(t, "acc_ar", AccountsReceivable)
	b := NewBalance(ar, 100, 400, 3)
	assert.Equal(t, money.New(-300, money.USD), b.Balance)
	assert.Equal(t, int64(3), b.EntryCount)
}
