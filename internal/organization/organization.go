package organization

import (
	"errors"
	"time"
)

// ErrUnknownAccount is returned when no organization owns a processor account
var ErrUnknownAccount = errors.New("unknown processor account")

// Capabilities mirrors the processor-side flags of an organization's account
type Capabilities struct {
	ChargesEnabled bool       `json:"charges_enabled"`
	PayoutsEnabled bool       `json:"payouts_enabled"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

// Organization is a tenant operating one or more houses
type Organization struct {
	ID                 string       `json:"id"`
	Name               string       `json:"name"`
	ContactEmail       string       `json:"contact_email,omitempty"`
	ProcessorAccountID *string      `json:"processor_account_id,omitempty"`
	Capabilities       Capabilities `json:"capabilities"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// OnboardingComplete is derived from the capability flags and never stored
func (o *Organization) OnboardingComplete() bool {
	return o.Capabilities.ChargesEnabled && o.Capabilities.PayoutsEnabled
}

// MergeCapabilities applies processor flags and reports whether anything changed
func (o *Organization) MergeCapabilities(chargesEnabled, payoutsEnabled bool) bool {
	changed := o.Capabilities.ChargesEnabled != chargesEnabled || o.Capabilities.PayoutsEnabled != payoutsEnabled

	now := time.Now().UTC()
	o.Capabilities.ChargesEnabled = chargesEnabled
	o.Capabilities.PayoutsEnabled = payoutsEnabled
	o.Capabilities.UpdatedAt = &now
	o.UpdatedAt = now
	return changed
}
