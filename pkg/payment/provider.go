package payment

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const (
	ProviderPaystack    = "paystack"
	ProviderFlutterwave = "flutterwave"
)

// ErrUnsupported is returned when a provider lacks a capability
var ErrUnsupported = errors.New("operation not supported by payment provider")

// ChargeStatus is the outcome of a charge attempt
type ChargeStatus string

const (
	ChargeSucceeded      ChargeStatus = "success"
	ChargeRequiresAction ChargeStatus = "requires_action"
	ChargeFailed         ChargeStatus = "failed"
)

// Credential is a reusable charge token stored for a tenant
type Credential struct {
	AuthorizationCode string `json:"authorization_code,omitempty"`
	CustomerCode      string `json:"customer_code,omitempty"`
	PaymentMethodID   string `json:"payment_method_id,omitempty"`
	CustomerID        string `json:"customer_id,omitempty"`
}

// ChargeRequest charges a stored credential
type ChargeRequest struct {
	Reference   string
	Email       string
	AmountMinor int64
	Currency    string
	Credential  Credential
	Metadata    map[string]string
}

// ChargeResult is the provider's answer to a charge
type ChargeResult struct {
	Status            ChargeStatus `json:"status"`
	Reference         string       `json:"reference"`
	ProviderReference string       `json:"provider_reference,omitempty"`
	AuthorizationURL  string       `json:"authorization_url,omitempty"`
	Message           string       `json:"message,omitempty"`
}

// CheckoutRequest starts a hosted payment the customer completes on the
// provider's page
type CheckoutRequest struct {
	Reference   string
	Email       string
	AmountMinor int64
	Currency    string
	CallbackURL string
	Metadata    map[string]string
}

// Checkout is an initialized hosted payment
type Checkout struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code,omitempty"`
}

// Interval is a recurring billing interval. Values match period codes.
type Interval string

const (
	IntervalMonthly   Interval = "monthly"
	IntervalQuarterly Interval = "quarterly"
	IntervalBiannual  Interval = "biannual"
	IntervalAnnual    Interval = "annual"
)

// RecurringPlanRequest sets up provider-side recurring billing
type RecurringPlanRequest struct {
	Name        string
	AmountMinor int64
	Currency    string
	Interval    Interval
	Email       string
	Credential  Credential
	StartDate   time.Time
}

// RecurringPlan holds the provider tokens of a recurring plan
type RecurringPlan struct {
	Provider         string `json:"provider"`
	PlanCode         string `json:"plan_code,omitempty"`
	SubscriptionCode string `json:"subscription_code,omitempty"`
	EmailToken       string `json:"email_token,omitempty"`
	PaymentPlanID    string `json:"payment_plan_id,omitempty"`
}

// Verification is the verified state of a transaction
type Verification struct {
	Reference   string      `json:"reference"`
	Successful  bool        `json:"successful"`
	Status      string      `json:"status"`
	AmountMinor int64       `json:"amount_minor"`
	Currency    string      `json:"currency"`
	Message     string      `json:"message,omitempty"`
	PaidAt      *time.Time  `json:"paid_at,omitempty"`
	Credential  *Credential `json:"credential,omitempty"`
}

// Provider is a payment gateway
type Provider interface {
	Name() string
	// SupportsDirectCharge reports whether ChargeWithToken can settle without the customer
	SupportsDirectCharge() bool
	ChargeWithToken(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	// InitializeTransaction returns the hosted page where the customer pays req
	InitializeTransaction(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	CreateRecurringPlan(ctx context.Context, req RecurringPlanRequest) (*RecurringPlan, error)
	CancelRecurringPlan(ctx context.Context, plan RecurringPlan) error
	VerifyTransaction(ctx context.Context, reference string) (*Verification, error)
}

// WebhookEvent is a provider webhook normalized to the fields billing needs
type WebhookEvent struct {
	Provider   string     `json:"provider"`
	Type       string     `json:"type"`
	Successful bool       `json:"successful"`
	Reference  string     `json:"reference,omitempty"`
	TenantID   string     `json:"tenant_id,omitempty"`
	AutoRenew  bool       `json:"auto_renew"`
	Email      string     `json:"email,omitempty"`
	CardLast4  string     `json:"card_last4,omitempty"`
	CardBrand  string     `json:"card_brand,omitempty"`
	Credential Credential `json:"credential"`
	// SubscriptionCode is the provider-side recurring subscription, when present
	SubscriptionCode string          `json:"subscription_code,omitempty"`
	Raw              json.RawMessage `json:"-"`
}

// WebhookSource verifies and parses a provider's webhooks
type WebhookSource interface {
	Name() string
	SignatureHeader() string
	VerifySignature(signature string, body []byte) bool
	ParseEvent(body []byte) (*WebhookEvent, error)
}
