package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"recoveryops/internal/common/database"
	"recoveryops/internal/common/money"
	"recoveryops/internal/ledger/domain"
)

var (
	// ErrInvalidAmount is returned when asked to post a zero or negative amount
	ErrInvalidAmount = errors.New("invalid ledger amount")
	// ErrDuplicateReference is returned when a reference already has a transaction
	ErrDuplicateReference = errors.New("reference already posted")
)

// Store is the ledger persistence used by the Writer and the read Service
type Store interface {
	EnsureAccount(ctx context.Context, organizationID string, code domain.AccountCode, currency money.Currency) (*domain.Account, error)
	GetAccountByCode(ctx context.Context, organizationID string, code domain.AccountCode, currency money.Currency) (*domain.Account, error)
	ListAccounts(ctx context.Context, organizationID string) ([]*domain.Account, error)
	InsertTransaction(ctx context.Context, txn *domain.Transaction) error
	GetTransaction(ctx context.Context, organizationID, id string) (*domain.Transaction, error)
	GetTransactionByReference(ctx context.Context, refType domain.ReferenceType, refID string) (*domain.Transaction, error)
	AccountTotals(ctx context.Context, accountID string) (debits, credits, count int64, err error)
}

// Reference identifies the financial fact a transaction records
type Reference struct {
	Type           domain.ReferenceType
	ID             string
	OrganizationID string
	Description    string
}

// Writer appends balanced double-entry transactions. It must be given a Store
// bound to the caller's database transaction so the transaction row and both of
// its entries commit or roll back together with the rest of the unit of work.
type Writer struct {
	store  Store
	logger *slog.Logger
}

// NewWriter creates a ledger writer
func NewWriter(store Store, logger *slog.Logger) *Writer {
	return &Writer{store: store, logger: logger}
}

// Post records amount as one debit and one credit between two of the
// organization's accounts.
func (w *Writer) Post(ctx context.Context, debit, credit domain.AccountCode, amount money.Money, ref Reference) (*domain.Transaction, error) {
	if amount.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: %s for %s %s", ErrInvalidAmount, amount, ref.Type, ref.ID)
	}
	if debit == credit {
		return nil, fmt.Errorf("debit and credit accounts must differ (%s)", debit)
	}

	debitAccount, err := w.store.EnsureAccount(ctx, ref.OrganizationID, debit, amount.Currency)
	if err != nil {
		return nil, err
	}
	creditAccount, err := w.store.EnsureAccount(ctx, ref.OrganizationID, credit, amount.Currency)
	if err != nil {
		return nil, err
	}

	txn, err := domain.NewTransactionBuilder(ulid.Make().String(), ref.OrganizationID, ref.Type, ref.ID, amount.Currency).
		WithDescription(ref.Description).
		Debit(ulid.Make().String(), debitAccount, amount).
		Credit(ulid.Make().String(), creditAccount, amount).
		Build()
	if err != nil {
		return nil, fmt.Errorf("building transaction: %w", err)
	}

	if err := w.store.InsertTransaction(ctx, txn); err != nil {
		if errors.Is(err, database.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s %s", ErrDuplicateReference, ref.Type, ref.ID)
		}
		return nil, err
	}

	w.logger.Debug("ledger transaction posted",
		"transaction_id", txn.ID,
		"organization_id", txn.OrganizationID,
		"reference_type", txn.ReferenceType,
		"reference_id", txn.ReferenceID,
		"debit", debit,
		"credit", credit,
		"amount", txn.Amount.AmountMinor,
		"currency", txn.Amount.Currency,
	)

	return txn, nil
}

// PostPaymentCaptured records Dr Cash-in-transit / Cr Accounts-Receivable
func (w *Writer) PostPaymentCaptured(ctx context.Context, organizationID, paymentID string, amount money.Money) (*domain.Transaction, error) {
	return w.Post(ctx, domain.CashInTransit, domain.AccountsReceivable, amount, Reference{
		Type:           domain.ReferencePayment,
		ID:             paymentID,
		OrganizationID: organizationID,
		Description:    "payment captured",
	})
}

// PostRefundIssued records Dr Refund-expense / Cr Cash-in-transit
func (w *Writer) PostRefundIssued(ctx context.Context, organizationID, refundID string, amount money.Money) (*domain.Transaction, error) {
	return w.Post(ctx, domain.RefundExpense, domain.CashInTransit, amount, Reference{
		Type:           domain.ReferenceRefund,
		ID:             refundID,
		OrganizationID: organizationID,
		Description:    "refund issued",
	})
}
