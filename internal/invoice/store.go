package invoice

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"recoveryops/internal/common/database"
)

// PostgresStore implements Store
type PostgresStore struct {
	q database.Querier
}

// NewPostgresStore creates a store over the pool or a transaction
func NewPostgresStore(q database.Querier) *PostgresStore {
	return &PostgresStore{q: q}
}

const invoiceColumns = `id, organization_id, resident_id, currency, total, amount_paid, amount_due, status, created_at, updated_at`

// Get retrieves an invoice
func (s *PostgresStore) Get(ctx context.Context, id string) (*Invoice, error) {
	return scanInvoice(s.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
}

// GetForUpdate retrieves an invoice and locks the row
func (s *PostgresStore) GetForUpdate(ctx context.Context, id string) (*Invoice, error) {
	return scanInvoice(s.q.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1 FOR UPDATE`, id))
}

// Create inserts an invoice
func (s *PostgresStore) Create(ctx context.Context, inv *Invoice) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		inv.ID, inv.OrganizationID, inv.ResidentID, inv.Currency,
		inv.Total, inv.AmountPaid, inv.AmountDue, inv.Status,
		inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("invoice %s: %w", inv.ID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("creating invoice: %w", err)
	}
	return nil
}

// UpdateBalance writes the reconciled balance and status
func (s *PostgresStore) UpdateBalance(ctx context.Context, inv *Invoice) error {
	if err := inv.Validate(); err != nil {
		return err
	}

	tag, err := s.q.Exec(ctx, `
		UPDATE invoices
		SET amount_paid = $2, amount_due = $3, status = $4, updated_at = $5
		WHERE id = $1
	`, inv.ID, inv.AmountPaid, inv.AmountDue, inv.Status, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(
		&inv.ID, &inv.OrganizationID, &inv.ResidentID, &inv.Currency,
		&inv.Total, &inv.AmountPaid, &inv.AmountDue, &inv.Status,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning invoice: %w", err)
	}
	return &inv, nil
}
