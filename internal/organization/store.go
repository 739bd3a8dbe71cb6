package organization

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

const orgColumns = `id, name, contact_email, processor_account_id, charges_enabled, payouts_enabled,
	capabilities_updated_at, created_at, updated_at`

// Get retrieves an organization
func (s *PostgresStore) Get(ctx context.Context, id string) (*Organization, error) {
	return scanOrganization(s.q.QueryRow(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id))
}

// GetByProcessorAccountForUpdate retrieves and locks the organization owning an account
func (s *PostgresStore) GetByProcessorAccountForUpdate(ctx context.Context, processorAccountID string) (*Organization, error) {
	return scanOrganization(s.q.QueryRow(ctx, `
		SELECT `+orgColumns+`
		FROM organizations
		WHERE processor_account_id = $1
		FOR UPDATE
	`, processorAccountID))
}

// Create inserts an organization
func (s *PostgresStore) Create(ctx context.Context, org *Organization) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO organizations (`+orgColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		org.ID, org.Name, org.ContactEmail, org.ProcessorAccountID,
		org.Capabilities.ChargesEnabled, org.Capabilities.PayoutsEnabled, org.Capabilities.UpdatedAt,
		org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("organization %s: %w", org.ID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("creating organization: %w", err)
	}
	return nil
}

// UpdateCapabilities writes the capability flags
func (s *PostgresStore) UpdateCapabilities(ctx context.Context, org *Organization) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE organizations
		SET charges_enabled = $2, payouts_enabled = $3, capabilities_updated_at = $4, updated_at = $5
		WHERE id = $1
	`, org.ID, org.Capabilities.ChargesEnabled, org.Capabilities.PayoutsEnabled, org.Capabilities.UpdatedAt, org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating capabilities: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return database.ErrNotFound
	}
	return nil
}

func scanOrganization(row pgx.Row) (*Organization, error) {
	var o Organization
	err := row.Scan(
		&o.ID, &o.Name, &o.ContactEmail, &o.ProcessorAccountID,
		&o.Capabilities.ChargesEnabled, &o.Capabilities.PayoutsEnabled, &o.Capabilities.UpdatedAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, fmt.Errorf("scanning organization: %w", err)
	}
	return &o, nil
}
