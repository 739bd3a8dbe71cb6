package organization

import (
	"context"
	"fmt"
	"log/slog"

	"recoveryops/internal/common/database"
)

// Store persists organizations
type Store interface {
	Get(ctx context.Context, id string) (*Organization, error)
	// GetByProcessorAccountForUpdate loads and locks the organization owning a processor account
	GetByProcessorAccountForUpdate(ctx context.Context, processorAccountID string) (*Organization, error)
	UpdateCapabilities(ctx context.Context, org *Organization) error
}

// Synchronizer mirrors processor account capabilities onto organizations
type Synchronizer struct {
	store  Store
	logger *slog.Logger
}

// NewSynchronizer creates a synchronizer over a transaction-bound store
func NewSynchronizer(store Store, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{store: store, logger: logger}
}

// SyncCapabilities merges the processor's flags into the owning organization.
// An account no organization owns yields ErrUnknownAccount and writes nothing.
func (s *Synchronizer) SyncCapabilities(ctx context.Context, processorAccountID string, chargesEnabled, payoutsEnabled bool) (*Organization, error) {
	org, err := s.store.GetByProcessorAccountForUpdate(ctx, processorAccountID)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, processorAccountID)
		}
		return nil, fmt.Errorf("loading organization for %s: %w", processorAccountID, err)
	}

	wasComplete := org.OnboardingComplete()
	changed := org.MergeCapabilities(chargesEnabled, payoutsEnabled)

	if err := s.store.UpdateCapabilities(ctx, org); err != nil {
		return nil, fmt.Errorf("updating capabilities: %w", err)
	}

	s.logger.Info("organization capabilities synced",
		"organization_id", org.ID,
		"processor_account_id", processorAccountID,
		"charges_enabled", chargesEnabled,
		"payouts_enabled", payoutsEnabled,
		"changed", changed,
		"onboarding_complete", org.OnboardingComplete(),
		"onboarding_was_complete", wasComplete,
	)

	return org, nil
}

// Resolve finds the organization an event belongs to: by explicit id when the
// payload names one, otherwise by the connected processor account.
func Resolve(ctx context.Context, store Store, organizationID, processorAccountID string) (*Organization, error) {
	if organizationID != "" {
		org, err := store.Get(ctx, organizationID)
		if err != nil {
			if database.IsNotFound(err) {
				return nil, fmt.Errorf("%w: organization %s", ErrUnknownAccount, organizationID)
			}
			return nil, fmt.Errorf("loading organization %s: %w", organizationID, err)
		}
		return org, nil
	}

	if processorAccountID == "" {
		return nil, fmt.Errorf("%w: no organization or account on event", ErrUnknownAccount)
	}

	org, err := store.GetByProcessorAccountForUpdate(ctx, processorAccountID)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, processorAccountID)
		}
		return nil, fmt.Errorf("loading organization for %s: %w", processorAccountID, err)
	}
	return org, nil
}
