package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"

	"recoveryops/internal/common/database"
	"recoveryops/internal/common/money"
	"recoveryops/internal/ledger/domain"
)

// Store provides ledger data access. It runs against the pool or, inside the
// reconciliation unit of work, against the caller's transaction.
type Store struct {
	q database.Querier
}

// New creates a new ledger store
func New(q database.Querier) *Store {
	return &Store{q: q}
}

const accountColumns = `id, organization_id, code, name, account_type, normal_balance, currency, created_at`

// EnsureAccount returns the organization's account for code, creating it on first use
func (s *Store) EnsureAccount(ctx context.Context, organizationID string, code domain.AccountCode, currency money.Currency) (*domain.Account, error) {
	account, err := domain.NewAccount(ulid.Make().String(), organizationID, code, currency)
	if err != nil {
		return nil, err
	}

	_, err = s.q.Exec(ctx, `
		INSERT INTO ledger_accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (organization_id, code, currency) DO NOTHING
	`,
		account.ID,
		account.OrganizationID,
		account.Code,
		account.Name,
		account.AccountType,
		account.NormalBalance,
		account.Currency,
		account.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("ensuring account %s: %w", code, err)
	}

	return s.GetAccountByCode(ctx, organizationID, code, currency)
}

// GetAccountByCode retrieves an account by organization, code and currency
func (s *Store) GetAccountByCode(ctx context.Context, organizationID string, code domain.AccountCode, currency money.Currency) (*domain.Account, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM ledger_accounts
		WHERE organization_id = $1 AND code = $2 AND currency = $3
	`, organizationID, code, currency)
	return scanAccount(row)
}

// ListAccounts lists an organization's accounts
func (s *Store) ListAccounts(ctx context.Context, organizationID string) ([]*domain.Account, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+accountColumns+`
		FROM ledger_accounts
		WHERE organization_id = $1
		ORDER BY code, currency
	`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// InsertTransaction writes a transaction and its entries. A second transaction for
// the same reference is rejected with database.ErrAlreadyExists without aborting
// the surrounding database transaction.
func (s *Store) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	if err := txn.Validate(); err != nil {
		return err
	}

	tag, err := s.q.Exec(ctx, `
		INSERT INTO ledger_transactions (
			id, organization_id, reference_type, reference_id, description,
			amount, currency, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (reference_type, reference_id) DO NOTHING
	`,
		txn.ID,
		txn.OrganizationID,
		txn.ReferenceType,
		txn.ReferenceID,
		txn.Description,
		txn.Amount.AmountMinor,
		txn.Amount.Currency,
		txn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction for %s %s: %w", txn.ReferenceType, txn.ReferenceID, database.ErrAlreadyExists)
	}

	for _, entry := range txn.Entries {
		_, err := s.q.Exec(ctx, `
			INSERT INTO ledger_entries (
				id, transaction_id, account_id, entry_type, amount, currency,
				sequence, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			entry.ID,
			entry.TransactionID,
			entry.AccountID,
			entry.EntryType,
			entry.Amount.AmountMinor,
			entry.Amount.Currency,
			entry.Sequence,
			entry.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting entry: %w", err)
		}
	}

	return nil
}

const transactionColumns = `id, organization_id, reference_type, reference_id, description, amount, currency, created_at`

// GetTransaction retrieves a transaction with its entries
func (s *Store) GetTransaction(ctx context.Context, organizationID, id string) (*domain.Transaction, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM ledger_transactions
		WHERE organization_id = $1 AND id = $2
	`, organizationID, id)
	return s.withEntries(ctx, row)
}

// GetTransactionByReference retrieves the transaction posted for a reference
func (s *Store) GetTransactionByReference(ctx context.Context, refType domain.ReferenceType, refID string) (*domain.Transaction, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+transactionColumns+`
		FROM ledger_transactions
		WHERE reference_type = $1 AND reference_id = $2
	`, refType, refID)
	return s.withEntries(ctx, row)
}

func (s *Store) withEntries(ctx context.Context, row pgx.Row) (*domain.Transaction, error) {
	txn, err := scanTransaction(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.q.Query(ctx, `
		SELECT e.id, e.transaction_id, e.account_id, a.code, e.entry_type,
			   e.amount, e.currency, e.sequence, e.created_at
		FROM ledger_entries e
		JOIN ledger_accounts a ON a.id = e.account_id
		WHERE e.transaction_id = $1
		ORDER BY e.sequence
	`, txn.ID)
	if err != nil {
		return nil, fmt.Errorf("getting entries: %w", err)
	}
	defer rows.Close()

	txn.Entries, err = scanEntries(rows)
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// AccountTotals sums an account's entries. Balances are never stored.
func (s *Store) AccountTotals(ctx context.Context, accountID string) (debits, credits, count int64, err error) {
	err = s.q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount) FILTER (WHERE entry_type = 'debit'), 0),
			   COALESCE(SUM(amount) FILTER (WHERE entry_type = 'credit'), 0),
			   COUNT(*)
		FROM ledger_entries
		WHERE account_id = $1
	`, accountID).Scan(&debits, &credits, &count)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("summing entries: %w", err)
	}
	return debits, credits, count, nil
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(
		&a.ID, &a.OrganizationID, &a.Code, &a.Name,
		&a.AccountType, &a.NormalBalance, &a.Currency, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning account: %w", err)
	}
	return &a, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	var amount int64
	var currency string
	err := row.Scan(
		&t.ID, &t.OrganizationID, &t.ReferenceType, &t.ReferenceID,
		&t.Description, &amount, &currency, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning transaction: %w", err)
	}
	t.Amount = money.New(amount, money.Currency(currency))
	return &t, nil
}

func scanEntries(rows pgx.Rows) ([]*domain.Entry, error) {
	var entries []*domain.Entry
	for rows.Next() {
		var e domain.Entry
		var amount int64
		var currency string
		err := rows.Scan(
			&e.ID, &e.TransactionID, &e.AccountID, &e.AccountCode, &e.EntryType,
			&amount, &currency, &e.Sequence, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		e.Amount = money.New(amount, money.Currency(currency))
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
