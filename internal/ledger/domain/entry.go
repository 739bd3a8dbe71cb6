package domain

import (
	"errors"
	"time"

	"recoveryops/internal/common/money"
)

// EntryType represents the side of a ledger entry
type EntryType string

const (
	EntryTypeDebit  EntryType = "debit"
	EntryTypeCredit EntryType = "credit"
)

// ReferenceType names the record a ledger transaction was posted for
type ReferenceType string

const (
	ReferencePayment ReferenceType = "payment"
	ReferenceRefund  ReferenceType = "refund"
)

var (
	// ErrUnbalanced is returned when debits and credits differ
	ErrUnbalanced = errors.New("transaction must be balanced (debits must equal credits)")
	// ErrNonPositiveAmount is returned for zero or negative entry amounts
	ErrNonPositiveAmount = errors.New("amount must be positive")
)

// Entry represents a single ledger entry
type Entry struct {
	ID            string      `json:"id"`
	TransactionID string      `json:"transaction_id"`
	AccountID     string      `json:"account_id"`
	AccountCode   AccountCode `json:"account_code,omitempty"`
	EntryType     EntryType   `json:"entry_type"`
	Amount        money.Money `json:"amount"`
	Sequence      int         `json:"sequence"`
	CreatedAt     time.Time   `json:"created_at"`
}

// NewEntry creates a new ledger entry
func NewEntry(id, transactionID string, account *Account, entryType EntryType, amount money.Money, sequence int) (*Entry, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if transactionID == "" {
		return nil, errors.New("transaction_id is required")
	}
	if account == nil || account.ID == "" {
		return nil, errors.New("account is required")
	}
	if amount.AmountMinor <= 0 {
		return nil, ErrNonPositiveAmount
	}

	return &Entry{
		ID:            id,
		TransactionID: transactionID,
		AccountID:     account.ID,
		AccountCode:   account.Code,
		EntryType:     entryType,
		Amount:        amount,
		Sequence:      sequence,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Transaction is an atomic, balanced group of entries posted for one reference.
// Transactions are never updated once written; corrections are new transactions.
type Transaction struct {
	ID             string        `json:"id"`
	OrganizationID string        `json:"organization_id"`
	ReferenceType  ReferenceType `json:"reference_type"`
	ReferenceID    string        `json:"reference_id"`
	Description    string        `json:"description,omitempty"`
	Amount         money.Money   `json:"amount"`
	CreatedAt      time.Time     `json:"created_at"`
	Entries        []*Entry      `json:"entries,omitempty"`
}

// TransactionBuilder helps construct valid ledger transactions
type TransactionBuilder struct {
	txn     *Transaction
	entries []*Entry
	debits  int64
	credits int64
	seq     int
	err     error
}

// NewTransactionBuilder creates a new transaction builder
func NewTransactionBuilder(id, organizationID string, refType ReferenceType, refID string, currency money.Currency) *TransactionBuilder {
	if id == "" || organizationID == "" {
		return &TransactionBuilder{err: errors.New("id and organization_id are required")}
	}
	if refType == "" || refID == "" {
		return &TransactionBuilder{err: errors.New("reference is required")}
	}

	return &TransactionBuilder{
		txn: &Transaction{
			ID:             id,
			OrganizationID: organizationID,
			ReferenceType:  refType,
			ReferenceID:    refID,
			Amount:         money.Zero(currency),
			CreatedAt:      time.Now().UTC(),
		},
		entries: make([]*Entry, 0, 2),
	}
}

// WithDescription sets the description
func (b *TransactionBuilder) WithDescription(description string) *TransactionBuilder {
	if b.err != nil {
		return b
	}
	b.txn.Description = description
	return b
}

// Debit adds a debit entry
func (b *TransactionBuilder) Debit(entryID string, account *Account, amount money.Money) *TransactionBuilder {
	return b.add(entryID, account, EntryTypeDebit, amount)
}

// Credit adds a credit entry
func (b *TransactionBuilder) Credit(entryID string, account *Account, amount money.Money) *TransactionBuilder {
	return b.add(entryID, account, EntryTypeCredit, amount)
}

func (b *TransactionBuilder) add(entryID string, account *Account, entryType EntryType, amount money.Money) *TransactionBuilder {
	if b.err != nil {
		return b
	}

	if amount.Currency != b.txn.Amount.Currency {
		b.err = errors.New("entry currency must match transaction currency")
		return b
	}
	if account != nil && account.Currency != amount.Currency {
		b.err = errors.New("entry currency must match account currency")
		return b
	}
	if account != nil && account.OrganizationID != b.txn.OrganizationID {
		b.err = errors.New("account belongs to another organization")
		return b
	}

	b.seq++
	entry, err := NewEntry(entryID, b.txn.ID, account, entryType, amount, b.seq)
	if err != nil {
		b.err = err
		return b
	}

	b.entries = append(b.entries, entry)
	if entryType == EntryTypeDebit {
		b.debits += amount.AmountMinor
	} else {
		b.credits += amount.AmountMinor
	}
	return b
}

// Build validates and returns the transaction
func (b *TransactionBuilder) Build() (*Transaction, error) {
	if b.err != nil {
		return nil, b.err
	}

	if len(b.entries) < 2 {
		return nil, errors.New("transaction must have at least two entries")
	}

	if b.debits != b.credits {
		return nil, ErrUnbalanced
	}

	b.txn.Amount.AmountMinor = b.debits
	b.txn.Entries = b.entries

	return b.txn, nil
}

// Validate re-checks that a transaction's entries balance against its amount
func (t *Transaction) Validate() error {
	if len(t.Entries) < 2 {
		return errors.New("transaction must have at least two entries")
	}

	var debits, credits int64
	for _, entry := range t.Entries {
		if entry.Amount.Currency != t.Amount.Currency {
			return errors.New("entry currency does not match transaction currency")
		}
		if entry.EntryType == EntryTypeDebit {
			debits += entry.Amount.AmountMinor
		} else {
			credits += entry.Amount.AmountMinor
		}
	}

	if debits != credits {
		return ErrUnbalanced
	}
	if debits != t.Amount.AmountMinor {
		return errors.New("entry totals do not match transaction amount")
	}

	return nil
}

// CalculateBalance returns the signed balance of an account given entries
func CalculateBalance(account *Account, entries []*Entry) int64 {
	var debits, credits int64
	for _, entry := range entries {
		if entry.AccountID != account.ID {
			continue
		}
		if entry.EntryType == EntryTypeDebit {
			debits += entry.Amount.AmountMinor
		} else {
			credits += entry.Amount.AmountMinor
		}
	}
	return NewBalance(account, debits, credits, 0).Balance.AmountMinor
}
