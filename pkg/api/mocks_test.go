package api

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/platinummonkey/tenantbilling/pkg/billing"
)

var errNotMocked = errors.New("not mocked")

type mockSubscriptions struct {
	createFunc       func(ctx context.Context, req billing.CreateRequest) (*billing.CreateResult, error)
	activateFunc     func(ctx context.Context, tenantID uuid.UUID, machineNumber, userEmail string, actor billing.Actor) (*billing.CreateResult, error)
	getFunc          func(ctx context.Context, id uuid.UUID) (*billing.Subscription, error)
	listFunc         func(ctx context.Context, filter billing.SubscriptionFilter) ([]*billing.Subscription, error)
	renewFunc        func(ctx context.Context, id uuid.UUID, actor billing.Actor) (*billing.Subscription, error)
	extendFunc       func(ctx context.Context, id uuid.UUID, actor billing.Actor) (*billing.ExtendResult, error)
	advanceFunc      func(ctx context.Context, req billing.AdvanceRenewalRequest) (*billing.AdvanceRenewalResult, error)
	suspendFunc      func(ctx context.Context, id uuid.UUID, actor billing.Actor, reason string) (*billing.Subscription, error)
	validateFunc     func(ctx context.Context, req billing.ChangePlanRequest) error
	changePlanFunc   func(ctx context.Context, req billing.ChangePlanRequest) (*billing.ChangePlanResult, error)
	toggleFunc       func(ctx context.Context, id uuid.UUID, enabled bool, actor billing.Actor) (*billing.ToggleResult, error)
	creditsFunc      func(ctx context.Context, id uuid.UUID) ([]*billing.Credit, error)
	checkExpiredFunc func(ctx context.Context, opts billing.SweepOptions) (*billing.SweepResult, error)
	accessFunc       func(ctx context.Context, tenantID uuid.UUID) (*billing.AccessDecision, error)
	usageFunc        func(ctx context.Context, tenantID uuid.UUID) (*billing.UsageReport, error)
	listPlansFunc    func(ctx context.Context, filter billing.PlanFilter) ([]*billing.Plan, error)
	getPlanFunc      func(ctx context.Context, id uuid.UUID) (*billing.Plan, error)
}

func (m *mockSubscriptions) CreateSubscription(ctx context.Context, req billing.CreateRequest) (*billing.CreateResult, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, req)
	}
	return nil, errNotMocked
}

func (m *mockSubscriptions) ActivateTrial(ctx context.Context, tenantID uuid.UUID, machineNumber, userEmail string, actor billing.Actor) (*billing.CreateResult, error) {
	if m.activateFunc != nil {
		return m.activateFunc(ctx, tenantID, machineNumber, userEmail, actor)
	}
	return nil, errNotMocked
}

func (m *mockSubscriptions) GetSubscription(ctx context.Context, id uuid.UUID) (*billing.Subscription, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return nil, errNotMocked
}

func (m *mockSubscriptions) ListSubscriptions(ctx context.Context, filter billing.SubscriptionFilter) ([]*billing.Subscription, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, filter)
	}
	return nil, errNotMocked
}

func (m *mockSubscriptions) RenewSubscription(ctx context.Context, id uuid.UUID, actor billing.Actor) (*billing.Subscription, error) {
	if m.renewFunc != nil {
		return m.renewFunc(ctx, id, actor)
	}
	return nil, errNotMocked
}

func (m *mockSubscriptions) ExtendSubscription(ctx context.Context, id uuid.UUID, actor billing.Actor) (*billing.ExtendResult, error) {
	if m.extendFunc != nil {
		return m.extendFunc(ctx, id, actor)
	}
	return nil, errNotMocked
}

func (m *mockSubscriptions) RenewInAdvance(ctx context.Context, req billing.AdvanceRenewalRequest) (*billing.AdvanceRenewalResult, error) {
	if m.advanceFunc != nil {
		return m.advanceFunc(ctx, req)
	}
	return nil, errNotMocked
}

func (m *mockSubscriptions) SuspendSubscription(ctx context.Context, id uuid.UUID, actor billing.Actor, reason string) (*billing.Subscription, error) {
	if m.suspendFunc != nil {
		return m.suspendFunc(ctx, id, actor, reason)
	}
	return nil, errNotMocked
}

// ValidatePlanChangeRequest accepts every change unless validateFunc is set
func (m *mockSubscriptions) ValidatePlanChangeRequest(ctx context.Context, req billing.ChangePlanRequest) error {
	if m.validateFunc != nil {
		return m.validateFunc(ctx, req)
	}
	return nil
}

func (m *mockSubscriptions) ChangePlan(ctx context.Context, req billing.ChangePlanRequest) (*billing.ChangePlanResult, error) {
	if m.changePlanFunc != nil {
		return m.changePlanFunc(ctx, req)
	}
	return nil, errNotMocked
}

func (m *mockSubscriptions) ToggleAutoRenew(ctx context.Context, id uuid.UUID, enabled bool, actor billing.Actor) (*billing.ToggleResult, error) {
	if m.toggleFunc != nil {
		return m.toggleFunc(ctx, id, enabled, actor)
	}
	return nil, errNotMocked
}

func (m *mockSubscriptions) ListCredits(ctx context.Context, id uuid.UUID) ([]*billing.Credit, error) {
	if m.creditsFunc != nil {
		return m.creditsFunc(ctx, id)
	}
	return nil, errNotMocked
}

func (m *mockSubscriptions) CheckExpiredSubscriptions(ctx context.Context, opts billing.SweepOptions) (*billing.SweepResult, error) {
	if m.checkExpiredFunc != nil {
		return m.checkExpiredFunc(ctx, opts)
	}
	return nil, errNotMocked
}

func (m *mockSubscriptions) CheckAccess(ctx context.Context, tenantID uuid.UUID) (*billing.AccessDecision, error) {
	if m.accessFunc != nil {
		return m.accessFunc(ctx, tenantID)
	}
	return nil, errNotMocked
}

func (m *mockSubscriptions) CheckUsageLimits(ctx context.Context, tenantID uuid.UUID) (*billing.UsageReport, error) {
	if m.usageFunc != nil {
		return m.usageFunc(ctx, tenantID)
	}
	return nil, errNotMocked
}

func (m *mockSubscriptions) ListPlans(ctx context.Context, filter billing.PlanFilter) ([]*billing.Plan, error) {
	if m.listPlansFunc != nil {
		return m.listPlansFunc(ctx, filter)
	}
	return nil, errNotMocked
}

func (m *mockSubscriptions) GetPlan(ctx context.Context, id uuid.UUID) (*billing.Plan, error) {
	if m.getPlanFunc != nil {
		return m.getPlanFunc(ctx, id)
	}
	return nil, errNotMocked
}

type mockRenewals struct {
	listFunc       func(ctx context.Context, tenantID *uuid.UUID) ([]*billing.AutoRenewal, error)
	processDueFunc func(ctx context.Context, opts billing.DueRenewalOptions) (*billing.DueRenewalSummary, error)
	changeCardFunc func(ctx context.Context, req billing.ChangeCardRequest) (*billing.ChangeCardResult, error)
}

func (m *mockRenewals) ListAutoRenewals(ctx context.Context, tenantID *uuid.UUID) ([]*billing.AutoRenewal, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, tenantID)
	}
	return nil, errNotMocked
}

func (m *mockRenewals) ProcessDueRenewals(ctx context.Context, opts billing.DueRenewalOptions) (*billing.DueRenewalSummary, error) {
	if m.processDueFunc != nil {
		return m.processDueFunc(ctx, opts)
	}
	return nil, errNotMocked
}

func (m *mockRenewals) ChangeCard(ctx context.Context, req billing.ChangeCardRequest) (*billing.ChangeCardResult, error) {
	if m.changeCardFunc != nil {
		return m.changeCardFunc(ctx, req)
	}
	return nil, errNotMocked
}

type mockVerifier struct {
	createFunc func(ctx context.Context, req billing.CreatePaymentRequest) (*billing.CreatePaymentResult, error)
	verifyFunc func(ctx context.Context, transactionID string) (*billing.Payment, error)
}

func (m *mockVerifier) CreatePayment(ctx context.Context, req billing.CreatePaymentRequest) (*billing.CreatePaymentResult, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, req)
	}
	return nil, errNotMocked
}

func (m *mockVerifier) VerifyPayment(ctx context.Context, transactionID string) (*billing.Payment, error) {
	if m.verifyFunc != nil {
		return m.verifyFunc(ctx, transactionID)
	}
	return nil, errNotMocked
}
