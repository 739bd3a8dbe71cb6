package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"recoveryops/internal/common/database"
	"recoveryops/internal/common/money"
	"recoveryops/internal/ledger/domain"
	"recoveryops/internal/ledger/store"
)

// Service provides read-only ledger queries for operators
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a ledger service backed by the database pool
func NewService(db *database.DB, logger *slog.Logger) *Service {
	return NewServiceWithStore(store.New(db), logger)
}

// NewServiceWithStore creates a ledger service over any Store
func NewServiceWithStore(s Store, logger *slog.Logger) *Service {
	return &Service{store: s, logger: logger}
}

// ListAccounts lists an organization's accounts
func (s *Service) ListAccounts(ctx context.Context, organizationID string) ([]*domain.Account, error) {
	return s.store.ListAccounts(ctx, organizationID)
}

// GetTransaction retrieves a transaction with its entries
func (s *Service) GetTransaction(ctx context.Context, organizationID, id string) (*domain.Transaction, error) {
	return s.store.GetTransaction(ctx, organizationID, id)
}

// GetTransactionByReference retrieves the transaction posted for a payment or refund
func (s *Service) GetTransactionByReference(ctx context.Context, refType domain.ReferenceType, refID string) (*domain.Transaction, error) {
	return s.store.GetTransactionByReference(ctx, refType, refID)
}

// GetAccountBalance returns the balance of an account as the signed sum of its entries
func (s *Service) GetAccountBalance(ctx context.Context, organizationID string, code domain.AccountCode, currency money.Currency) (domain.Balance, error) {
	if _, err := domain.LookupAccountCode(code); err != nil {
		return domain.Balance{}, err
	}

	account, err := s.store.GetAccountByCode(ctx, organizationID, code, currency)
	if err != nil {
		return domain.Balance{}, fmt.Errorf("getting account %s: %w", code, err)
	}

	debits, credits, count, err := s.store.AccountTotals(ctx, account.ID)
	if err != nil {
		return domain.Balance{}, err
	}

	return domain.NewBalance(account, debits, credits, count), nil
}

// GetBalances returns the balance of every account the organization holds
func (s *Service) GetBalances(ctx context.Context, organizationID string) ([]domain.Balance, error) {
	accounts, err := s.store.ListAccounts(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	balances := make([]domain.Balance, 0, len(accounts))
	for _, account := range accounts {
		debits, credits, count, err := s.store.AccountTotals(ctx, account.ID)
		if err != nil {
			return nil, err
		}
		balances = append(balances, domain.NewBalance(account, debits, credits, count))
	}
	return balances, nil
}
