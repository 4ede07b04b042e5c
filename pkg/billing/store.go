package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantbilling/pkg/audit"
	"github.com/platinummonkey/tenantbilling/pkg/payment"
)

// PlanFilter narrows ListPlans
type PlanFilter struct {
	Industry string
	// ActiveOnly excludes inactive and discontinued plans
	ActiveOnly bool
}

// SubscriptionFilter narrows ListSubscriptions
type SubscriptionFilter struct {
	TenantID        *uuid.UUID
	Statuses        []Status
	EndBefore       *time.Time
	SuspendedBefore *time.Time
	MinRetryCount   int
	Limit           int
}

// AutoRenewalFilter narrows ListAutoRenewals
type AutoRenewalFilter struct {
	ID             *uuid.UUID
	TenantID       *uuid.UUID
	SubscriptionID *uuid.UUID
	Statuses       []AutoRenewalStatus
	DueBefore      *time.Time
}

// Repository is the persistence surface of the billing services. Methods with
// a forUpdate flag lock the row until the surrounding transaction ends.
type Repository interface {
	GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error)
	GetPlanByName(ctx context.Context, name, industry string) (*Plan, error)
	ListPlans(ctx context.Context, filter PlanFilter) ([]*Plan, error)
	// SavePlan inserts the plan or updates the one with the same name and industry
	SavePlan(ctx context.Context, plan *Plan) error

	GetSubscription(ctx context.Context, id uuid.UUID, forUpdate bool) (*Subscription, error)
	// LiveSubscription returns the tenant's trial, pending or active subscription
	LiveSubscription(ctx context.Context, tenantID uuid.UUID, forUpdate bool) (*Subscription, error)
	// LatestSubscription returns the tenant's most recent non-canceled subscription
	LatestSubscription(ctx context.Context, tenantID uuid.UUID) (*Subscription, error)
	ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]*Subscription, error)
	InsertSubscription(ctx context.Context, sub *Subscription) error
	UpdateSubscription(ctx context.Context, sub *Subscription) error

	InsertCredit(ctx context.Context, credit *Credit) error
	ListCredits(ctx context.Context, subscriptionID uuid.UUID) ([]*Credit, error)

	// FindTrialUsage returns trial records of the tenant or of the machine number
	FindTrialUsage(ctx context.Context, tenantID uuid.UUID, machineNumber string) ([]*TrialUsage, error)
	UpsertTrialUsage(ctx context.Context, usage *TrialUsage) error

	GetAutoRenewal(ctx context.Context, id uuid.UUID, forUpdate bool) (*AutoRenewal, error)
	ListAutoRenewals(ctx context.Context, filter AutoRenewalFilter) ([]*AutoRenewal, error)
	InsertAutoRenewal(ctx context.Context, ar *AutoRenewal) error
	UpdateAutoRenewal(ctx context.Context, ar *AutoRenewal) error

	GetPreferences(ctx context.Context, tenantID uuid.UUID) (*TenantBillingPreferences, error)
	UpsertPreferences(ctx context.Context, prefs *TenantBillingPreferences) error

	GetPaymentByTransactionID(ctx context.Context, transactionID string, forUpdate bool) (*Payment, error)
	InsertPayment(ctx context.Context, p *Payment) error
	UpdatePayment(ctx context.Context, p *Payment) error

	// AppendAudit records an audit entry. A failing write is logged, never returned.
	AppendAudit(ctx context.Context, entry *audit.Entry) error
}

// Store is a Repository that can run a function in a transaction. The
// Repository passed to fn is bound to the transaction; it is committed when fn
// returns nil and rolled back otherwise.
type Store interface {
	Repository
	WithinTx(ctx context.Context, fn func(repo Repository) error) error
}

// Tenant is the identity service's view of a tenant
type Tenant struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name,omitempty"`
	Industry string    `json:"industry,omitempty"`
	Email    string    `json:"email,omitempty"`
}

// Usage is a tenant's current consumption of plan limits
type Usage struct {
	Users    int `json:"users"`
	Branches int `json:"branches"`
}

// TenantDirectory looks up tenants in the identity service
type TenantDirectory interface {
	// Tenant returns the tenant, falling back to cached data. A nil tenant with
	// a nil error means nothing is known about it.
	Tenant(ctx context.Context, tenantID uuid.UUID) (*Tenant, error)
	// Usage returns ErrUsageUnavailable when the identity service cannot answer
	Usage(ctx context.Context, tenantID uuid.UUID) (*Usage, error)
}

// Locker is a distributed mutual exclusion lock
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

// Providers resolves payment providers by name
type Providers interface {
	Get(name string) (payment.Provider, bool)
}

// Metrics receives billing outcomes. Implementations must be safe for concurrent use.
type Metrics interface {
	RecordOperation(operation, outcome string)
	RecordRenewal(outcome string)
	ObserveSweep(sweep string, duration time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) RecordOperation(string, string) {}

func (noopMetrics) RecordRenewal(string) {}

func (noopMetrics) ObserveSweep(string, time.Duration) {}
