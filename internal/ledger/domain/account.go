package domain

import (
	"errors"
	"time"

	"recoveryops/internal/common/money"
)

// AccountType represents the type of ledger account
type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeEquity    AccountType = "equity"
	AccountTypeRevenue   AccountType = "revenue"
	AccountTypeExpense   AccountType = "expense"
)

// NormalBalance represents the normal balance side of an account
type NormalBalance string

const (
	NormalBalanceDebit  NormalBalance = "debit"
	NormalBalanceCredit NormalBalance = "credit"
)

// AccountCode is the semantic name of an organization's ledger account.
type AccountCode string

const (
	CashInTransit      AccountCode = "cash_in_transit"
	AccountsReceivable AccountCode = "accounts_receivable"
	RefundExpense      AccountCode = "refund_expense"
)

// ErrUnknownAccountCode is returned for codes outside the chart of accounts
var ErrUnknownAccountCode = errors.New("unknown account code")

// ChartEntry describes one account every organization carries
type ChartEntry struct {
	Code        AccountCode
	Name        string
	AccountType AccountType
}

var chart = map[AccountCode]ChartEntry{
	CashInTransit:      {CashInTransit, "Cash in Transit", AccountTypeAsset},
	AccountsReceivable: {AccountsReceivable, "Accounts Receivable", AccountTypeAsset},
	RefundExpense:      {RefundExpense, "Refund Expense", AccountTypeExpense},
}

// LookupAccountCode returns the chart entry for code
func LookupAccountCode(code AccountCode) (ChartEntry, error) {
	entry, ok := chart[code]
	if !ok {
		return ChartEntry{}, ErrUnknownAccountCode
	}
	return entry, nil
}

// Account represents a ledger account owned by one organization in one currency
type Account struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	Code           AccountCode    `json:"code"`
	Name           string         `json:"name"`
	AccountType    AccountType    `json:"account_type"`
	NormalBalance  NormalBalance  `json:"normal_balance"`
	Currency       money.Currency `json:"currency"`
	CreatedAt      time.Time      `json:"created_at"`
}

// NewAccount creates an account for a chart code
func NewAccount(id, organizationID string, code AccountCode, currency money.Currency) (*Account, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if organizationID == "" {
		return nil, errors.New("organization_id is required")
	}
	if currency == "" {
		return nil, errors.New("currency is required")
	}

	entry, err := LookupAccountCode(code)
	if err != nil {
		return nil, err
	}

	return &Account{
		ID:             id,
		OrganizationID: organizationID,
		Code:           code,
		Name:           entry.Name,
		AccountType:    entry.AccountType,
		NormalBalance:  GetNormalBalance(entry.AccountType),
		Currency:       currency,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// GetNormalBalance returns the normal balance for an account type
func GetNormalBalance(accountType AccountType) NormalBalance {
	switch accountType {
	case AccountTypeAsset, AccountTypeExpense:
		return NormalBalanceDebit
	case AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue:
		return NormalBalanceCredit
	default:
		return NormalBalanceDebit
	}
}

// Balance is an account balance derived from the sum of its entries.
type Balance struct {
	AccountID  string      `json:"account_id"`
	Code       AccountCode `json:"code"`
	Debits     money.Money `json:"debits"`
	Credits    money.Money `json:"credits"`
	Balance    money.Money `json:"balance"`
	EntryCount int64       `json:"entry_count"`
}

// NewBalance signs the entry totals by the account's normal balance
func NewBalance(account *Account, debits, credits, entryCount int64) Balance {
	signed := debits - credits
	if account.NormalBalance == NormalBalanceCredit {
		signed = credits - debits
	}
	return Balance{
		AccountID:  account.ID,
		Code:       account.Code,
		Debits:     money.New(debits, account.Currency),
		Credits:    money.New(credits, account.Currency),
		Balance:    money.New(signed, account.Currency),
		EntryCount: entryCount,
	}
}
