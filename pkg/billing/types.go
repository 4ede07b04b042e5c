package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantbilling/pkg/payment"
	"github.com/platinummonkey/tenantbilling/pkg/period"
)

// Tier orders plans for upgrade/downgrade classification
type Tier string

const (
	Tier1 Tier = "tier1"
	Tier2 Tier = "tier2"
	Tier3 Tier = "tier3"
	Tier4 Tier = "tier4"
)

// Rank returns the tier's position, 0 for unknown tiers
func (t Tier) Rank() int {
	switch t {
	case Tier1:
		return 1
	case Tier2:
		return 2
	case Tier3:
		return 3
	case Tier4:
		return 4
	default:
		return 0
	}
}

// Valid reports whether t is a known tier
func (t Tier) Valid() bool {
	return t.Rank() > 0
}

// IndustryOther is the industry of plans available to every tenant
const IndustryOther = "Other"

// Plan is a purchasable plan
type Plan struct {
	ID            uuid.UUID     `json:"id"`
	Name          string        `json:"name" yaml:"name"`
	Description   string        `json:"description,omitempty" yaml:"description"`
	Industry      string        `json:"industry" yaml:"industry"`
	MaxUsers      int           `json:"max_users" yaml:"max_users"`
	MaxBranches   int           `json:"max_branches" yaml:"max_branches"`
	PriceMinor    int64         `json:"price_minor" yaml:"price_minor"`
	BillingPeriod period.Period `json:"billing_period" yaml:"billing_period"`
	TierLevel     Tier          `json:"tier_level" yaml:"tier_level"`
	IsActive      bool          `json:"is_active" yaml:"is_active"`
	Discontinued  bool          `json:"discontinued" yaml:"discontinued"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Available reports whether the plan can be sold
func (p *Plan) Available() bool {
	return p.IsActive && !p.Discontinued
}

// Validate checks plan field constraints
func (p *Plan) Validate() error {
	if p.Name == "" {
		return NewValidationError("plan name is required")
	}
	if p.MaxUsers <= 0 {
		return NewValidationError("max_users must be positive")
	}
	if p.MaxBranches <= 0 {
		return NewValidationError("max_branches must be positive")
	}
	if p.PriceMinor < 0 {
		return NewValidationError("price cannot be negative")
	}
	if !p.BillingPeriod.Valid() {
		return NewValidationError(fmt.Sprintf("unknown billing period %q", p.BillingPeriod))
	}
	if !p.TierLevel.Valid() {
		return NewValidationError(fmt.Sprintf("unknown tier level %q", p.TierLevel))
	}
	return nil
}

// Status is a subscription lifecycle state
type Status string

const (
	StatusTrial     Status = "trial"
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusSuspended Status = "suspended"
	StatusCanceled  Status = "canceled"
)

// LiveStatuses are the states of which a tenant may hold at most one subscription
var LiveStatuses = []Status{StatusActive, StatusTrial, StatusPending}

// ParseStatus parses a subscription status
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusTrial, StatusPending, StatusActive, StatusExpired, StatusSuspended, StatusCanceled:
		return st, true
	default:
		return "", false
	}
}

// Subscription is a tenant's subscription to a plan
type Subscription struct {
	ID                      uuid.UUID  `json:"id"`
	TenantID                uuid.UUID  `json:"tenant_id"`
	PlanID                  uuid.UUID  `json:"plan_id"`
	ScheduledPlanID         *uuid.UUID `json:"scheduled_plan_id,omitempty"`
	Status                  Status     `json:"status"`
	StartDate               time.Time  `json:"start_date"`
	EndDate                 time.Time  `json:"end_date"`
	TrialEndDate            *time.Time `json:"trial_end_date,omitempty"`
	AutoRenew               bool       `json:"auto_renew"`
	PaymentRetryCount       int        `json:"payment_retry_count"`
	MaxPaymentRetries       int        `json:"max_payment_retries"`
	SuspendedAt             *time.Time `json:"suspended_at,omitempty"`
	CanceledAt              *time.Time `json:"canceled_at,omitempty"`
	LastPaymentDate         *time.Time `json:"last_payment_date,omitempty"`
	NextPaymentDate         *time.Time `json:"next_payment_date,omitempty"`
	IsFirstTimeSubscription bool       `json:"is_first_time_subscription"`
	TrialUsed               bool       `json:"trial_used"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// IsLive reports whether the subscription counts toward the one-per-tenant rule
func (s *Subscription) IsLive() bool {
	switch s.Status {
	case StatusActive, StatusTrial, StatusPending:
		return true
	}
	return false
}

// IsInGracePeriod is true only for expired subscriptions within graceDays of their end date
func (s *Subscription) IsInGracePeriod(now time.Time, graceDays int) bool {
	if s.Status != StatusExpired {
		return false
	}
	return !now.After(s.EndDate.AddDate(0, 0, graceDays))
}

// RemainingDays returns whole days left in the current period of an active subscription
func (s *Subscription) RemainingDays(now time.Time) int {
	if s.Status != StatusActive {
		return 0
	}
	return wholeDays(s.EndDate.Sub(now))
}

// CanBeRenewed reports whether RenewSubscription may proceed
func (s *Subscription) CanBeRenewed() bool {
	return (s.Status == StatusActive || s.Status == StatusExpired) && s.AutoRenew
}

// HasAccess reports whether the tenant may use the product
func (s *Subscription) HasAccess(now time.Time, graceDays int) bool {
	switch s.Status {
	case StatusActive:
		return !now.After(s.EndDate.AddDate(0, 0, graceDays))
	case StatusTrial:
		end := s.EndDate
		if s.TrialEndDate != nil {
			end = *s.TrialEndDate
		}
		return !end.Before(now)
	case StatusExpired:
		return s.IsInGracePeriod(now, graceDays)
	}
	return false
}

// wholeDays floors d to days, never negative
func wholeDays(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}

// Credit is an account credit issued when an upgrade's remaining value exceeds the new price
type Credit struct {
	ID             uuid.UUID `json:"id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	AmountMinor    int64     `json:"amount_minor"`
	Reason         string    `json:"reason"`
	ExpiresAt      time.Time `json:"expires_at"`
	Used           bool      `json:"used"`
	CreatedAt      time.Time `json:"created_at"`
}

// TrialUsage records that a tenant and machine consumed a trial
type TrialUsage struct {
	TenantID       uuid.UUID `json:"tenant_id"`
	MachineNumber  string    `json:"machine_number,omitempty"`
	UserEmail      string    `json:"user_email,omitempty"`
	TrialStartDate time.Time `json:"trial_start_date"`
	TrialEndDate   time.Time `json:"trial_end_date"`
}

// AutoRenewalStatus is the state of an auto-renewal record
type AutoRenewalStatus string

const (
	AutoRenewalActive   AutoRenewalStatus = "active"
	AutoRenewalPaused   AutoRenewalStatus = "paused"
	AutoRenewalCanceled AutoRenewalStatus = "canceled"
)

// ProviderTokens are the provider-side identifiers of a recurring plan
type ProviderTokens = payment.RecurringPlan

// AutoRenewal drives automatic recurring charges for a tenant
type AutoRenewal struct {
	ID              uuid.UUID         `json:"id"`
	TenantID        uuid.UUID         `json:"tenant_id"`
	SubscriptionID  *uuid.UUID        `json:"subscription_id,omitempty"`
	PlanID          uuid.UUID         `json:"plan_id"`
	ExpiryDate      time.Time         `json:"expiry_date"`
	NextRenewalDate time.Time         `json:"next_renewal_date"`
	Status          AutoRenewalStatus `json:"status"`
	Notes           string            `json:"notes,omitempty"`
	ProviderTokens  ProviderTokens    `json:"provider_tokens"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// appendNote adds a line to the free-text notes
func (a *AutoRenewal) appendNote(note string) {
	if a.Notes == "" {
		a.Notes = note
		return
	}
	a.Notes += "\n" + note
}

// RenewalStatus is the tenant-level recurring billing state
type RenewalStatus string

const (
	RenewalActive    RenewalStatus = "active"
	RenewalPaused    RenewalStatus = "paused"
	RenewalSuspended RenewalStatus = "suspended"
)

// TenantBillingPreferences holds a tenant's stored payment credentials
type TenantBillingPreferences struct {
	TenantID                   uuid.UUID     `json:"tenant_id"`
	PaymentProvider            string        `json:"payment_provider,omitempty"`
	CardLast4                  string        `json:"card_last4,omitempty"`
	CardBrand                  string        `json:"card_brand,omitempty"`
	PaymentEmail               string        `json:"payment_email,omitempty"`
	LastPaymentAt              *time.Time    `json:"last_payment_at,omitempty"`
	AutoRenewEnabled           bool          `json:"auto_renew_enabled"`
	RenewalStatus              RenewalStatus `json:"renewal_status"`
	PaystackAuthorizationCode  string        `json:"-"`
	PaystackCustomerCode       string        `json:"-"`
	PaystackSubscriptionCode   string        `json:"-"`
	FlutterwavePaymentMethodID string        `json:"-"`
	FlutterwaveCustomerID      string        `json:"-"`
	SubscriptionExpiryDate     *time.Time    `json:"subscription_expiry_date,omitempty"`
	NextRenewalDate            *time.Time    `json:"next_renewal_date,omitempty"`
	UpdatedAt                  time.Time     `json:"updated_at"`
}

// Credential returns the stored reusable token for the preferred provider
func (p *TenantBillingPreferences) Credential() payment.Credential {
	switch p.PaymentProvider {
	case payment.ProviderPaystack:
		return payment.Credential{
			AuthorizationCode: p.PaystackAuthorizationCode,
			CustomerCode:      p.PaystackCustomerCode,
		}
	case payment.ProviderFlutterwave:
		return payment.Credential{
			PaymentMethodID: p.FlutterwavePaymentMethodID,
			CustomerID:      p.FlutterwaveCustomerID,
		}
	}
	return payment.Credential{}
}

// SetCredential stores c as the reusable token for provider
func (p *TenantBillingPreferences) SetCredential(provider string, c payment.Credential) {
	p.PaymentProvider = provider
	switch provider {
	case payment.ProviderPaystack:
		p.PaystackAuthorizationCode = c.AuthorizationCode
		if c.CustomerCode != "" {
			p.PaystackCustomerCode = c.CustomerCode
		}
	case payment.ProviderFlutterwave:
		p.FlutterwavePaymentMethodID = c.PaymentMethodID
		if c.CustomerID != "" {
			p.FlutterwaveCustomerID = c.CustomerID
		}
	}
}

// PaymentStatus is the state of a payment record
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// PaymentType says what a payment pays for
type PaymentType string

const (
	PaymentTypeSubscription PaymentType = "subscription"
	PaymentTypeRenewal      PaymentType = "renewal"
	PaymentTypeExtension    PaymentType = "extension"
	PaymentTypeAdvance      PaymentType = "advance"
	PaymentTypePlanChange   PaymentType = "plan_change"
)

// Payment is a charge attempt against a provider
type Payment struct {
	ID                uuid.UUID     `json:"id"`
	TransactionID     string        `json:"transaction_id"`
	SubscriptionID    *uuid.UUID    `json:"subscription_id,omitempty"`
	PlanID            *uuid.UUID    `json:"plan_id,omitempty"`
	TenantID          uuid.UUID     `json:"tenant_id"`
	AmountMinor       int64         `json:"amount_minor"`
	Currency          string        `json:"currency"`
	Status            PaymentStatus `json:"status"`
	Provider          string        `json:"provider"`
	PaymentType       PaymentType   `json:"payment_type"`
	// Periods is the number of billing periods the payment buys
	Periods           int           `json:"periods"`
	ProviderReference string        `json:"provider_reference,omitempty"`
	AuthorizationURL  string        `json:"authorization_url,omitempty"`
	FailureReason     string        `json:"failure_reason,omitempty"`
	PaymentDate       *time.Time    `json:"payment_date,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// PeriodCount is Periods with a floor of one
func (p *Payment) PeriodCount() int {
	return max(p.Periods, 1)
}

// NewTransactionID returns a fresh payment reference
func NewTransactionID(kind PaymentType) string {
	return fmt.Sprintf("%s_%s", kind, uuid.NewString())
}

// Actor identifies who performed an operation
type Actor struct {
	User      string
	IPAddress string
	Email     string
}

// SystemActor is used by scheduled jobs
var SystemActor = Actor{User: "system"}

func (a Actor) user() string {
	if a.User == "" {
		return SystemActor.User
	}
	return a.User
}
