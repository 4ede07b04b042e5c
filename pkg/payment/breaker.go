package payment

import (
	"context"

	"github.com/platinummonkey/tenantbilling/pkg/circuitbreaker"
)

// breakerProvider gates provider API calls behind a circuit breaker. Declined
// charges are business outcomes and count as successes; transport and 5xx
// errors count as failures.
type breakerProvider struct {
	Provider
	breaker *circuitbreaker.Breaker
}

// WithBreaker decorates p with breaker. A nil breaker returns p unchanged.
func WithBreaker(p Provider, breaker *circuitbreaker.Breaker) Provider {
	if breaker == nil {
		return p
	}
	return &breakerProvider{Provider: p, breaker: breaker}
}

// Unwrap returns the decorated provider
func (b *breakerProvider) Unwrap() Provider { return b.Provider }

func (b *breakerProvider) ChargeWithToken(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	var result *ChargeResult
	err := b.breaker.Execute(func() error {
		var err error
		result, err = b.Provider.ChargeWithToken(ctx, req)
		return err
	})
	return result, err
}

func (b *breakerProvider) InitializeTransaction(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	var checkout *Checkout
	err := b.breaker.Execute(func() error {
		var err error
		checkout, err = b.Provider.InitializeTransaction(ctx, req)
		return err
	})
	return checkout, err
}

func (b *breakerProvider) CreateRecurringPlan(ctx context.Context, req RecurringPlanRequest) (*RecurringPlan, error) {
	var plan *RecurringPlan
	err := b.breaker.Execute(func() error {
		var err error
		plan, err = b.Provider.CreateRecurringPlan(ctx, req)
		return err
	})
	return plan, err
}

func (b *breakerProvider) CancelRecurringPlan(ctx context.Context, plan RecurringPlan) error {
	return b.breaker.Execute(func() error {
		return b.Provider.CancelRecurringPlan(ctx, plan)
	})
}

func (b *breakerProvider) VerifyTransaction(ctx context.Context, reference string) (*Verification, error) {
	var v *Verification
	err := b.breaker.Execute(func() error {
		var err error
		v, err = b.Provider.VerifyTransaction(ctx, reference)
		return err
	})
	return v, err
}
