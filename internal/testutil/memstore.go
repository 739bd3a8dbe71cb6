// Package testutil provides an in-memory unit of work and event fixtures for
// exercising the reconciliation engine without a database.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"

	"recoveryops/internal/common/database"
	"recoveryops/internal/common/money"
	"recoveryops/internal/invoice"
	"recoveryops/internal/ledger"
	"recoveryops/internal/ledger/domain"
	"recoveryops/internal/organization"
	"recoveryops/internal/payment"
	"recoveryops/internal/reconcile"
)

type state struct {
	events   map[string]reconcile.ProcessedEvent
	payments map[string]payment.Payment
	refunds  map[string]payment.Refund
	invoices map[string]invoice.Invoice
	orgs     map[string]organization.Organization
	accounts map[string]domain.Account
	txns     map[string]domain.Transaction
}

func newState() state {
	return state{
		events:   map[string]reconcile.ProcessedEvent{},
		payments: map[string]payment.Payment{},
		refunds:  map[string]payment.Refund{},
		invoices: map[string]invoice.Invoice{},
		orgs:     map[string]organization.Organization{},
		accounts: map[string]domain.Account{},
		txns:     map[string]domain.Transaction{},
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s state) clone() state {
	return state{
		events:   cloneMap(s.events),
		payments: cloneMap(s.payments),
		refunds:  cloneMap(s.refunds),
		invoices: cloneMap(s.invoices),
		orgs:     cloneMap(s.orgs),
		accounts: cloneMap(s.accounts),
		txns:     cloneMap(s.txns),
	}
}

// MemStore is an in-memory reconcile.UnitOfWork. Units run one at a time under
// a store-wide lock and roll back to a snapshot when they fail, which gives the
// same claim semantics as the unique key on processed_events.
type MemStore struct {
	mu       sync.Mutex
	st       state
	accesses atomic.Int64
	failNext error
}

// NewMemStore creates an empty store
func NewMemStore() *MemStore {
	return &MemStore{st: newState()}
}

// Accesses counts units of work and store calls made so far
func (m *MemStore) Accesses() int64 {
	return m.accesses.Load()
}

// FailNext makes the next unit of work fail with err before running
func (m *MemStore) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// Do implements reconcile.UnitOfWork
func (m *MemStore) Do(ctx context.Context, fn func(reconcile.Stores) error) (err error) {
	m.accesses.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failNext != nil {
		err, m.failNext = m.failNext, nil
		return err
	}

	snapshot := m.st.clone()
	committed := false
	defer func() {
		if !committed {
			m.st = snapshot
		}
	}()

	if err := fn(m.stores()); err != nil {
		return err
	}
	committed = true
	return nil
}

func (m *MemStore) stores() reconcile.Stores {
	return reconcile.Stores{
		Events:        memEvents{m},
		Payments:      memPayments{m},
		Invoices:      memInvoices{m},
		Organizations: memOrganizations{m},
		Ledger:        memLedger{m},
	}
}

// AddOrganization seeds an organization
func (m *MemStore) AddOrganization(org organization.Organization) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.orgs[org.ID] = org
}

// AddInvoice seeds an invoice
func (m *MemStore) AddInvoice(inv invoice.Invoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.invoices[inv.ID] = inv
}

// Organization returns an organization by id
func (m *MemStore) Organization(id string) (organization.Organization, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	org, ok := m.st.orgs[id]
	return org, ok
}

// Invoice returns an invoice by id
func (m *MemStore) Invoice(id string) (invoice.Invoice, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.st.invoices[id]
	return inv, ok
}

// Payments returns every payment
func (m *MemStore) Payments() []payment.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]payment.Payment, 0, len(m.st.payments))
	for _, p := range m.st.payments {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessorPaymentID < out[j].ProcessorPaymentID })
	return out
}

// Payment returns a payment by processor id
func (m *MemStore) Payment(processorPaymentID string) (payment.Payment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.st.payments {
		if p.ProcessorPaymentID == processorPaymentID {
			return p, true
		}
	}
	return payment.Payment{}, false
}

// Refunds returns every refund
func (m *MemStore) Refunds() []payment.Refund {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]payment.Refund, 0, len(m.st.refunds))
	for _, r := range m.st.refunds {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProcessorRefundID < out[j].ProcessorRefundID })
	return out
}

// Transactions returns every ledger transaction
func (m *MemStore) Transactions() []domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Transaction, 0, len(m.st.txns))
	for _, t := range m.st.txns {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Event returns the marker for an event id
func (m *MemStore) Event(id string) (reconcile.ProcessedEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.st.events[id]
	return e, ok
}

// LedgerStore returns a ledger.Store for use outside a unit of work
func (m *MemStore) LedgerStore() ledger.Store {
	return lockedLedger{m}
}

// events

type memEvents struct{ m *MemStore }

func (s memEvents) Insert(_ context.Context, e *reconcile.ProcessedEvent) (bool, error) {
	s.m.accesses.Add(1)
	if _, ok := s.m.st.events[e.EventID]; ok {
		return false, nil
	}
	s.m.st.events[e.EventID] = *e
	return true, nil
}

func (s memEvents) Finalize(_ context.Context, eventID string, outcome reconcile.Status, detail string, payload []byte) error {
	s.m.accesses.Add(1)
	e, ok := s.m.st.events[eventID]
	if !ok {
		return fmt.Errorf("processed event %s: %w", eventID, database.ErrNotFound)
	}
	e.Outcome = outcome
	e.Detail = detail
	if payload != nil {
		e.Payload = payload
	}
	now := e.ClaimedAt
	e.FinalizedAt = &now
	s.m.st.events[eventID] = e
	return nil
}

func (s memEvents) Delete(_ context.Context, eventID string) error {
	s.m.accesses.Add(1)
	delete(s.m.st.events, eventID)
	return nil
}

func (s memEvents) Get(_ context.Context, eventID string) (*reconcile.ProcessedEvent, error) {
	s.m.accesses.Add(1)
	e, ok := s.m.st.events[eventID]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &e, nil
}

func (s memEvents) GetForUpdate(ctx context.Context, eventID string) (*reconcile.ProcessedEvent, error) {
	return s.Get(ctx, eventID)
}

// payments

type memPayments struct{ m *MemStore }

func (s memPayments) GetByProcessorIDForUpdate(_ context.Context, processorPaymentID string) (*payment.Payment, error) {
	s.m.accesses.Add(1)
	for _, p := range s.m.st.payments {
		if p.ProcessorPaymentID == processorPaymentID {
			return &p, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s memPayments) Get(_ context.Context, id string) (*payment.Payment, error) {
	s.m.accesses.Add(1)
	p, ok := s.m.st.payments[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &p, nil
}

func (s memPayments) Create(_ context.Context, p *payment.Payment) error {
	s.m.accesses.Add(1)
	for _, existing := range s.m.st.payments {
		if existing.ProcessorPaymentID == p.ProcessorPaymentID {
			return fmt.Errorf("payment %s: %w", p.ProcessorPaymentID, database.ErrAlreadyExists)
		}
	}
	if p.InvoiceID != nil {
		if _, ok := s.m.st.invoices[*p.InvoiceID]; !ok {
			return fmt.Errorf("inserting payment: %w", &pgconn.PgError{
				Code:           "23503",
				Message:        "insert or update on table \"payments\" violates foreign key constraint",
				ConstraintName: "payments_invoice_id_fkey",
			})
		}
	}
	s.m.st.payments[p.ID] = *p
	return nil
}

func (s memPayments) Update(_ context.Context, p *payment.Payment) error {
	s.m.accesses.Add(1)
	if _, ok := s.m.st.payments[p.ID]; !ok {
		return database.ErrNotFound
	}
	s.m.st.payments[p.ID] = *p
	return nil
}

func (s memPayments) RefundExists(_ context.Context, processorRefundID string) (bool, error) {
	s.m.accesses.Add(1)
	_, ok := s.m.st.refunds[processorRefundID]
	return ok, nil
}

func (s memPayments) CreateRefund(_ context.Context, r *payment.Refund) error {
	s.m.accesses.Add(1)
	if _, ok := s.m.st.refunds[r.ProcessorRefundID]; ok {
		return fmt.Errorf("refund %s: %w", r.ProcessorRefundID, database.ErrAlreadyExists)
	}
	s.m.st.refunds[r.ProcessorRefundID] = *r
	return nil
}

func (s memPayments) ListRefunds(_ context.Context, paymentID string) ([]*payment.Refund, error) {
	s.m.accesses.Add(1)
	var out []*payment.Refund
	for _, r := range s.m.st.refunds {
		if r.PaymentID == paymentID {
			out = append(out, &r)
		}
	}
	return out, nil
}

// invoices

type memInvoices struct{ m *MemStore }

func (s memInvoices) Get(_ context.Context, id string) (*invoice.Invoice, error) {
	s.m.accesses.Add(1)
	inv, ok := s.m.st.invoices[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &inv, nil
}

func (s memInvoices) GetForUpdate(ctx context.Context, id string) (*invoice.Invoice, error) {
	return s.Get(ctx, id)
}

func (s memInvoices) Create(_ context.Context, inv *invoice.Invoice) error {
	s.m.accesses.Add(1)
	if _, ok := s.m.st.invoices[inv.ID]; ok {
		return fmt.Errorf("invoice %s: %w", inv.ID, database.ErrAlreadyExists)
	}
	s.m.st.invoices[inv.ID] = *inv
	return nil
}

func (s memInvoices) UpdateBalance(_ context.Context, inv *invoice.Invoice) error {
	s.m.accesses.Add(1)
	if _, ok := s.m.st.invoices[inv.ID]; !ok {
		return database.ErrNotFound
	}
	if inv.AmountDue != inv.Total-inv.AmountPaid || inv.AmountPaid < 0 {
		return fmt.Errorf("invoice %s violates balance check", inv.ID)
	}
	s.m.st.invoices[inv.ID] = *inv
	return nil
}

// organizations

type memOrganizations struct{ m *MemStore }

func (s memOrganizations) Get(_ context.Context, id string) (*organization.Organization, error) {
	s.m.accesses.Add(1)
	org, ok := s.m.st.orgs[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &org, nil
}

func (s memOrganizations) GetByProcessorAccountForUpdate(_ context.Context, processorAccountID string) (*organization.Organization, error) {
	s.m.accesses.Add(1)
	for _, org := range s.m.st.orgs {
		if org.ProcessorAccountID != nil && *org.ProcessorAccountID == processorAccountID {
			return &org, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s memOrganizations) UpdateCapabilities(_ context.Context, org *organization.Organization) error {
	s.m.accesses.Add(1)
	if _, ok := s.m.st.orgs[org.ID]; !ok {
		return database.ErrNotFound
	}
	s.m.st.orgs[org.ID] = *org
	return nil
}

// ledger

type memLedger struct{ m *MemStore }

func (s memLedger) EnsureAccount(ctx context.Context, organizationID string, code domain.AccountCode, currency money.Currency) (*domain.Account, error) {
	if a, err := s.GetAccountByCode(ctx, organizationID, code, currency); err == nil {
		return a, nil
	}
	a, err := domain.NewAccount(ulid.Make().String(), organizationID, code, currency)
	if err != nil {
		return nil, err
	}
	s.m.st.accounts[a.ID] = *a
	return a, nil
}

func (s memLedger) GetAccountByCode(_ context.Context, organizationID string, code domain.AccountCode, currency money.Currency) (*domain.Account, error) {
	s.m.accesses.Add(1)
	for _, a := range s.m.st.accounts {
		if a.OrganizationID == organizationID && a.Code == code && a.Currency == currency {
			return &a, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s memLedger) ListAccounts(_ context.Context, organizationID string) ([]*domain.Account, error) {
	s.m.accesses.Add(1)
	var out []*domain.Account
	for _, a := range s.m.st.accounts {
		if a.OrganizationID == organizationID {
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Code != out[j].Code {
			return out[i].Code < out[j].Code
		}
		return out[i].Currency < out[j].Currency
	})
	return out, nil
}

func (s memLedger) InsertTransaction(_ context.Context, txn *domain.Transaction) error {
	s.m.accesses.Add(1)
	if err := txn.Validate(); err != nil {
		return err
	}
	for _, t := range s.m.st.txns {
		if t.ReferenceType == txn.ReferenceType && t.ReferenceID == txn.ReferenceID {
			return fmt.Errorf("transaction for %s %s: %w", txn.ReferenceType, txn.ReferenceID, database.ErrAlreadyExists)
		}
	}
	s.m.st.txns[txn.ID] = *txn
	return nil
}

func (s memLedger) GetTransaction(_ context.Context, organizationID, id string) (*domain.Transaction, error) {
	s.m.accesses.Add(1)
	t, ok := s.m.st.txns[id]
	if !ok || t.OrganizationID != organizationID {
		return nil, database.ErrNotFound
	}
	return &t, nil
}

func (s memLedger) GetTransactionByReference(_ context.Context, refType domain.ReferenceType, refID string) (*domain.Transaction, error) {
	s.m.accesses.Add(1)
	for _, t := range s.m.st.txns {
		if t.ReferenceType == refType && t.ReferenceID == refID {
			return &t, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s memLedger) AccountTotals(_ context.Context, accountID string) (debits, credits, count int64, err error) {
	s.m.accesses.Add(1)
	for _, t := range s.m.st.txns {
		for _, e := range t.Entries {
			if e.AccountID != accountID {
				continue
			}
			count++
			if e.EntryType == domain.EntryTypeDebit {
				debits += e.Amount.AmountMinor
			} else {
				credits += e.Amount.AmountMinor
			}
		}
	}
	return debits, credits, count, nil
}

// lockedLedger serializes ledger reads made outside a unit of work
type lockedLedger struct{ m *MemStore }

func (l lockedLedger) inner() memLedger { return memLedger{l.m} }

func (l lockedLedger) EnsureAccount(ctx context.Context, organizationID string, code domain.AccountCode, currency money.Currency) (*domain.Account, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	return l.inner().EnsureAccount(ctx, organizationID, code, currency)
}

func (l lockedLedger) GetAccountByCode(ctx context.Context, organizationID string, code domain.AccountCode, currency money.Currency) (*domain.Account, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	return l.inner().GetAccountByCode(ctx, organizationID, code, currency)
}

func (l lockedLedger) ListAccounts(ctx context.Context, organizationID string) ([]*domain.Account, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	return l.inner().ListAccounts(ctx, organizationID)
}

func (l lockedLedger) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	return l.inner().InsertTransaction(ctx, txn)
}

func (l lockedLedger) GetTransaction(ctx context.Context, organizationID, id string) (*domain.Transaction, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	return l.inner().GetTransaction(ctx, organizationID, id)
}

func (l lockedLedger) GetTransactionByReference(ctx context.Context, refType domain.ReferenceType, refID string) (*domain.Transaction, error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	return l.inner().GetTransactionByReference(ctx, refType, refID)
}

func (l lockedLedger) AccountTotals(ctx context.Context, accountID string) (debits, credits, count int64, err error) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	return l.inner().AccountTotals(ctx, accountID)
}
