package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	wrap := func(code string) error {
		return fmt.Errorf("exec: %w", &pgconn.PgError{Code: code})
	}

	assert.True(t, IsUniqueViolation(wrap("23505")))
	assert.True(t, IsForeignKeyViolation(wrap("23503")))
	assert.True(t, IsSerializationFailure(wrap("40001")))
	assert.True(t, IsDeadlock(wrap("40P01")))
	assert.True(t, IsRetryable(wrap("40001")))
	assert.True(t, IsRetryable(wrap("40P01")))
	assert.False(t, IsRetryable(wrap("23505")))
	assert.False(t, IsRetryable(errors.New("boom")))

	assert.True(t, IsNotFound(fmt.Errorf("get: %w", pgx.ErrNoRows)))
	assert.True(t, IsNotFound(ErrNotFound))
	assert.False(t, IsNotFound(errors.New("boom")))
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("retries conflicts until success", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, 3, func() error {
			calls++
			if calls < 3 {
				return &pgconn.PgError{Code: "40P01"}
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := Retry(ctx, 3, func() error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, 2, func() error {
			calls++
			return &pgconn.PgError{Code: "40001"}
		})
		require.Error(t, err)
		assert.True(t, IsSerializationFailure(err))
		assert.Equal(t, 2, calls)
	})
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/app?sslmode=disable", migrateURL("postgres://u:p@db:5432/app?sslmode=disable"))
	assert.Equal(t, "pgx5://db/app", migrateURL("postgresql://db/app"))
	assert.Equal(t, "pgx5://db/app", migrateURL("pgx5://db/app"))
}

func TestEmbeddedMigrations(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	up, err := migrationsFS.ReadFile("migrations/000001_reconciliation.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(up), "UNIQUE (reference_type, reference_id)")
	assert.Contains(t, string(up), "CHECK (amount_due = total - amount_paid)")
}
