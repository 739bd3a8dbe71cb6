package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recoveryops/internal/common/money"
)

func TestStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusNone, StatusSucceeded, true},
		{StatusNone, StatusFailed, true},
		{StatusNone, StatusRefunded, false},
		{StatusNone, StatusDisputed, false},
		{StatusSucceeded, StatusRefunded, true},
		{StatusSucceeded, StatusDisputed, true},
		{StatusSucceeded, StatusFailed, false},
		{StatusRefunded, StatusRefunded, true},
		{StatusRefunded, StatusDisputed, false},
		{StatusFailed, StatusSucceeded, false},
		{StatusFailed, StatusRefunded, false},
		{StatusDisputed, StatusRefunded, false},
	}

	for _, tt := range tests {
		name := string(tt.from) + "->" + string(tt.to)
		if tt.from == StatusNone {
			name = "none->" + string(tt.to)
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestNew(t *testing.T) {
	p, err := New("pay_1", "org_1", "pi_1", money.New(45000, money.USD), StatusSucceeded)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, p.Status)
	assert.Equal(t, money.New(45000, money.USD), p.Money())

	_, err = New("pay_2", "org_1", "pi_2", money.New(45000, money.USD), StatusRefunded)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPayment_ApplyRefund(t *testing.T) {
	p, err := New("pay_1", "org_1", "pi_1", money.New(45000, money.USD), StatusSucceeded)
	require.NoError(t, err)

	require.NoError(t, p.ApplyRefund(money.New(15000, money.USD)))
	assert.Equal(t, StatusRefunded, p.Status)
	assert.Equal(t, int64(15000), p.AmountRefunded)

	require.NoError(t, p.ApplyRefund(money.New(30000, money.USD)))
	assert.Equal(t, int64(45000), p.AmountRefunded)

	err = p.ApplyRefund(money.New(1, money.USD))
	assert.ErrorIs(t, err, ErrInconsistentRefund)
	assert.Equal(t, int64(45000), p.AmountRefunded)

	err = p.ApplyRefund(money.New(1, money.CAD))
	assert.ErrorIs(t, err, ErrInconsistentRefund)
}

func TestPayment_RefundFailed(t *testing.T) {
	p, err := New("pay_1", "org_1", "pi_1", money.New(45000, money.USD), StatusFailed)
	require.NoError(t, err)

	assert.False(t, p.CanRefund())
	assert.ErrorIs(t, p.ApplyRefund(money.New(100, money.USD)), ErrInvalidTransition)
	assert.ErrorIs(t, p.Transition(StatusSucceeded), ErrInvalidTransition)
}
