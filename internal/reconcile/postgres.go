package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"recoveryops/internal/common/database"
	"recoveryops/internal/invoice"
	ledgerstore "recoveryops/internal/ledger/store"
	"recoveryops/internal/organization"
	"recoveryops/internal/payment"
)

// PostgresUnitOfWork runs each unit in a read-committed transaction, retrying
// serialization failures and deadlocks.
type PostgresUnitOfWork struct {
	db      *database.DB
	retries int
}

// NewPostgresUnitOfWork creates a unit of work over db
func NewPostgresUnitOfWork(db *database.DB, retries int) *PostgresUnitOfWork {
	return &PostgresUnitOfWork{db: db, retries: retries}
}

// Do runs fn with every store bound to one transaction
func (u *PostgresUnitOfWork) Do(ctx context.Context, fn func(Stores) error) error {
	return database.Retry(ctx, u.retries, func() error {
		return u.db.WithTx(ctx, func(tx pgx.Tx) error {
			return fn(BindStores(tx))
		})
	})
}

// BindStores returns the Postgres stores over q
func BindStores(q database.Querier) Stores {
	return Stores{
		Events:        NewPostgresEventStore(q),
		Payments:      payment.NewPostgresStore(q),
		Invoices:      invoice.NewPostgresStore(q),
		Organizations: organization.NewPostgresStore(q),
		Ledger:        ledgerstore.New(q),
	}
}

// PostgresEventStore implements EventStore over processed_events
type PostgresEventStore struct {
	q database.Querier
}

// NewPostgresEventStore creates an event store
func NewPostgresEventStore(q database.Querier) *PostgresEventStore {
	return &PostgresEventStore{q: q}
}

const eventColumns = `event_id, kind, outcome, detail, payload, claimed_at, finalized_at`

// Insert claims an event id. A concurrent insert of the same id blocks until
// the first transaction ends.
func (s *PostgresEventStore) Insert(ctx context.Context, e *ProcessedEvent) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		INSERT INTO processed_events (event_id, kind, outcome, detail, payload, claimed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING
	`, e.EventID, e.Kind, e.Outcome, e.Detail, nullableJSON(e.Payload), e.ClaimedAt)
	if err != nil {
		return false, fmt.Errorf("inserting processed event: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Finalize records an event's outcome
func (s *PostgresEventStore) Finalize(ctx context.Context, eventID string, outcome Status, detail string, payload []byte) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE processed_events
		SET outcome = $2, detail = $3, payload = COALESCE($4, payload), finalized_at = NOW()
		WHERE event_id = $1
	`, eventID, outcome, detail, nullableJSON(payload))
	if err != nil {
		return fmt.Errorf("finalizing processed event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("processed event %s: %w", eventID, database.ErrNotFound)
	}
	return nil
}

// Delete removes an event's marker
func (s *PostgresEventStore) Delete(ctx context.Context, eventID string) error {
	_, err := s.q.Exec(ctx, `DELETE FROM processed_events WHERE event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("deleting processed event: %w", err)
	}
	return nil
}

// Get retrieves an event's marker
func (s *PostgresEventStore) Get(ctx context.Context, eventID string) (*ProcessedEvent, error) {
	return scanEvent(s.q.QueryRow(ctx, `SELECT `+eventColumns+` FROM processed_events WHERE event_id = $1`, eventID))
}

// GetForUpdate retrieves and locks an event's marker
func (s *PostgresEventStore) GetForUpdate(ctx context.Context, eventID string) (*ProcessedEvent, error) {
	return scanEvent(s.q.QueryRow(ctx, `
		SELECT `+eventColumns+`
		FROM processed_events
		WHERE event_id = $1
		FOR UPDATE
	`, eventID))
}

func scanEvent(row pgx.Row) (*ProcessedEvent, error) {
	var e ProcessedEvent
	err := row.Scan(&e.EventID, &e.Kind, &e.Outcome, &e.Detail, &e.Payload, &e.ClaimedAt, &e.FinalizedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning processed event: %w", err)
	}
	return &e, nil
}

// nullableJSON maps an empty payload to SQL NULL
func nullableJSON(payload []byte) any {
	if len(payload) == 0 {
		return nil
	}
	return string(payload)
}
