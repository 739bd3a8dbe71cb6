package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"recoveryops/internal/common/database"
)

// Store persists payments and refunds
type Store interface {
	// GetByProcessorIDForUpdate loads and locks the payment for a processor id
	GetByProcessorIDForUpdate(ctx context.Context, processorPaymentID string) (*Payment, error)
	Get(ctx context.Context, id string) (*Payment, error)
	Create(ctx context.Context, p *Payment) error
	Update(ctx context.Context, p *Payment) error
	RefundExists(ctx context.Context, processorRefundID string) (bool, error)
	CreateRefund(ctx context.Context, r *Refund) error
	ListRefunds(ctx context.Context, paymentID string) ([]*Refund, error)
}

// PostgresStore implements Store
type PostgresStore struct {
	q database.Querier
}

// NewPostgresStore creates a store over the pool or a transaction
func NewPostgresStore(q database.Querier) *PostgresStore {
	return &PostgresStore{q: q}
}

const paymentColumns = `id, organization_id, processor_payment_id, invoice_id, resident_id, amount,
	amount_refunded, currency, status, receipt_email, failure_code, failure_message,
	created_at, updated_at`

// Get retrieves a payment by ID
func (s *PostgresStore) Get(ctx context.Context, id string) (*Payment, error) {
	return scanPayment(s.q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

// GetByProcessorIDForUpdate retrieves a payment by processor id and locks the row
func (s *PostgresStore) GetByProcessorIDForUpdate(ctx context.Context, processorPaymentID string) (*Payment, error) {
	return scanPayment(s.q.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE processor_payment_id = $1
		FOR UPDATE
	`, processorPaymentID))
}

// Create inserts a payment
func (s *PostgresStore) Create(ctx context.Context, p *Payment) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		p.ID, p.OrganizationID, p.ProcessorPaymentID, p.InvoiceID, p.ResidentID, p.Amount,
		p.AmountRefunded, p.Currency, p.Status, p.ReceiptEmail, p.FailureCode, p.FailureMessage,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("payment %s: %w", p.ProcessorPaymentID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("creating payment: %w", err)
	}
	return nil
}

// Update writes the payment's lifecycle fields
func (s *PostgresStore) Update(ctx context.Context, p *Payment) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE payments
		SET status = $2, amount_refunded = $3, updated_at = $4
		WHERE id = $1
	`, p.ID, p.Status, p.AmountRefunded, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

// RefundExists reports whether a processor refund is already recorded
func (s *PostgresStore) RefundExists(ctx context.Context, processorRefundID string) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM refunds WHERE processor_refund_id = $1)
	`, processorRefundID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking refund: %w", err)
	}
	return exists, nil
}

// CreateRefund inserts a refund
func (s *PostgresStore) CreateRefund(ctx context.Context, r *Refund) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO refunds (id, payment_id, processor_refund_id, amount, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, r.ID, r.PaymentID, r.ProcessorRefundID, r.Amount, r.Currency, r.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("refund %s: %w", r.ProcessorRefundID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("creating refund: %w", err)
	}
	return nil
}

// ListRefunds lists a payment's refunds in creation order
func (s *PostgresStore) ListRefunds(ctx context.Context, paymentID string) ([]*Refund, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, payment_id, processor_refund_id, amount, currency, created_at
		FROM refunds
		WHERE payment_id = $1
		ORDER BY created_at, id
	`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("listing refunds: %w", err)
	}
	defer rows.Close()

	var refunds []*Refund
	for rows.Next() {
		var r Refund
		if err := rows.Scan(&r.ID, &r.PaymentID, &r.ProcessorRefundID, &r.Amount, &r.Currency, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning refund: %w", err)
		}
		refunds = append(refunds, &r)
	}
	return refunds, rows.Err()
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID, &p.OrganizationID, &p.ProcessorPaymentID, &p.InvoiceID, &p.ResidentID, &p.Amount,
		&p.AmountRefunded, &p.Currency, &p.Status, &p.ReceiptEmail, &p.FailureCode, &p.FailureMessage,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning payment: %w", err)
	}
	return &p, nil
}
