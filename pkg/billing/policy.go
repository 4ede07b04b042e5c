package billing

import "time"

// Policy holds the tunable business rules shared by the billing services
type Policy struct {
	TrialDays           int
	TrialCooldownMonths int
	TrialMaxUsers       int
	TrialMaxBranches    int
	TrialPlanName       string

	GraceDays int
	Currency  string

	MaxPaymentRetries int
	// RetryIntervalsDays is indexed by the current retry count, clamped to the last entry
	RetryIntervalsDays []int

	ExtendThresholdDays  int
	DowngradeWindowDays  int
	SuspensionCancelDays int
	MaxAdvancePeriods    int

	RenewalLookahead    time.Duration
	CreditValidity      time.Duration
	VerificationLockTTL time.Duration
}

// DefaultPolicy returns the production defaults
func DefaultPolicy() Policy {
	return Policy{
		TrialDays:            7,
		TrialCooldownMonths:  6,
		TrialMaxUsers:        100,
		TrialMaxBranches:     10,
		TrialPlanName:        "Free Trial",
		GraceDays:            7,
		Currency:             "NGN",
		MaxPaymentRetries:    3,
		RetryIntervalsDays:   []int{1, 3, 7},
		ExtendThresholdDays:  30,
		DowngradeWindowDays:  2,
		SuspensionCancelDays: 30,
		MaxAdvancePeriods:    12,
		RenewalLookahead:     24 * time.Hour,
		CreditValidity:       365 * 24 * time.Hour,
		VerificationLockTTL:  30 * time.Second,
	}
}

// withDefaults fills zero values from DefaultPolicy
func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.TrialDays == 0 && p.Currency == "" && len(p.RetryIntervalsDays) == 0 {
		return d
	}
	if p.TrialDays <= 0 {
		p.TrialDays = d.TrialDays
	}
	if p.TrialCooldownMonths <= 0 {
		p.TrialCooldownMonths = d.TrialCooldownMonths
	}
	if p.TrialMaxUsers <= 0 {
		p.TrialMaxUsers = d.TrialMaxUsers
	}
	if p.TrialMaxBranches <= 0 {
		p.TrialMaxBranches = d.TrialMaxBranches
	}
	if p.TrialPlanName == "" {
		p.TrialPlanName = d.TrialPlanName
	}
	if p.GraceDays < 0 {
		p.GraceDays = d.GraceDays
	}
	if p.Currency == "" {
		p.Currency = d.Currency
	}
	if p.MaxPaymentRetries <= 0 {
		p.MaxPaymentRetries = d.MaxPaymentRetries
	}
	if len(p.RetryIntervalsDays) == 0 {
		p.RetryIntervalsDays = d.RetryIntervalsDays
	}
	if p.ExtendThresholdDays <= 0 {
		p.ExtendThresholdDays = d.ExtendThresholdDays
	}
	if p.DowngradeWindowDays < 0 {
		p.DowngradeWindowDays = d.DowngradeWindowDays
	}
	if p.SuspensionCancelDays <= 0 {
		p.SuspensionCancelDays = d.SuspensionCancelDays
	}
	if p.MaxAdvancePeriods <= 0 {
		p.MaxAdvancePeriods = d.MaxAdvancePeriods
	}
	if p.RenewalLookahead <= 0 {
		p.RenewalLookahead = d.RenewalLookahead
	}
	if p.CreditValidity <= 0 {
		p.CreditValidity = d.CreditValidity
	}
	if p.VerificationLockTTL <= 0 {
		p.VerificationLockTTL = d.VerificationLockTTL
	}
	return p
}
