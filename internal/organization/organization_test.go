package organization

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOnboardingComplete(t *testing.T) {
	tests := []struct {
		charges, payouts bool
		want             bool
	}{
		{false, false, false},
		{true, false, false},
		{false, true, false},
		{true, true, true},
	}

	for _, tt := range tests {
		org := &Organization{Capabilities: Capabilities{ChargesEnabled: tt.charges, PayoutsEnabled: tt.payouts}}
		assert.Equal(t, tt.want, org.OnboardingComplete(), "charges=%v payouts=%v", tt.charges, tt.payouts)
	}
}

func TestMergeCapabilities(t *testing.T) {
	org := &Organization{ID: "org_1"}

	assert.True(t, org.MergeCapabilities(true, false))
	assert.NotNil(t, org.Capabilities.UpdatedAt)
	assert.False(t, org.OnboardingComplete())

	assert.False(t, org.MergeCapabilities(true, false), "same flags are not a change")

	assert.True(t, org.MergeCapabilities(true, true))
	assert.True(t, org.OnboardingComplete())
}
