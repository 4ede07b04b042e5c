package billing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantbilling/pkg/audit"
	"github.com/platinummonkey/tenantbilling/pkg/payment"
	"github.com/platinummonkey/tenantbilling/pkg/period"
)

func (f *fixture) addRenewal(sub *Subscription, plan *Plan, next time.Time) AutoRenewal {
	subID := sub.ID
	ar := AutoRenewal{
		ID:              uuid.New(),
		TenantID:        sub.TenantID,
		SubscriptionID:  &subID,
		PlanID:          plan.ID,
		ExpiryDate:      next,
		NextRenewalDate: next,
		Status:          AutoRenewalActive,
		CreatedAt:       testStart.AddDate(0, -1, 0),
	}
	f.store.renewals[ar.ID] = ar
	return ar
}

func (f *fixture) addCard(tenantID uuid.UUID) {
	f.store.prefs[tenantID] = TenantBillingPreferences{
		TenantID:                  tenantID,
		PaymentProvider:           payment.ProviderPaystack,
		PaystackAuthorizationCode: "AUTH_card",
		PaymentEmail:              "billing@example.com",
		AutoRenewEnabled:          true,
		RenewalStatus:             RenewalActive,
	}
}

// dueSubscription adds an active subscription ending now with a due
// auto-renewal and a stored card
func (f *fixture) dueSubscription(plan *Plan) (*Subscription, AutoRenewal) {
	sub := f.addSubscription(plan, StatusActive, testStart.AddDate(0, -1, 0), testStart)
	ar := f.addRenewal(sub, plan, testStart)
	f.addCard(sub.TenantID)
	return sub, ar
}

func TestProcessDueRenewals_Success(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := NewAutoRenewalService(f.deps)
	basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)
	sub, ar := f.dueSubscription(basic)

	var charged payment.ChargeRequest
	f.provider.ChargeFunc = func(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
		charged = req
		return &payment.ChargeResult{Status: payment.ChargeSucceeded, Reference: req.Reference, ProviderReference: "ps_123"}, nil
	}

	summary, err := svc.ProcessDueRenewals(ctx, DueRenewalOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Successful)
	assert.Zero(t, summary.Failed)

	assert.Equal(t, int64(10000), charged.AmountMinor)
	assert.Equal(t, "NGN", charged.Currency)
	assert.Equal(t, "AUTH_card", charged.Credential.AuthorizationCode)
	assert.Equal(t, "billing@example.com", charged.Email)
	assert.Equal(t, "true", charged.Metadata["auto_renew"])
	assert.True(t, strings.HasPrefix(charged.Reference, "renewal_"))

	wantEnd := period.EndDate(testStart, period.Monthly)
	renewed := f.sub(sub.ID)
	assert.Equal(t, StatusActive, renewed.Status)
	assert.Equal(t, wantEnd, renewed.EndDate)
	assert.Zero(t, renewed.PaymentRetryCount)

	payments := f.store.paymentsFor(sub.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, PaymentCompleted, payments[0].Status)
	assert.Equal(t, PaymentTypeRenewal, payments[0].PaymentType)
	assert.Equal(t, "ps_123", payments[0].ProviderReference)
	assert.Equal(t, charged.Reference, payments[0].TransactionID)

	assert.Equal(t, wantEnd, f.store.renewals[ar.ID].NextRenewalDate)
	prefs := f.store.prefs[sub.TenantID]
	require.NotNil(t, prefs.LastPaymentAt)
	assert.Equal(t, testStart, *prefs.LastPaymentAt)
	assert.Equal(t, wantEnd, *prefs.NextRenewalDate)

	assert.Equal(t, []audit.Action{audit.ActionRenewed}, f.store.auditActions(sub.ID))
	assert.Equal(t, 1, f.metrics.renewals["success"])
	assert.Contains(t, f.metrics.sweeps, "auto_renewal")
}

func TestProcessAutoRenewal_AppliesScheduledPlan(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := NewAutoRenewalService(f.deps)
	pro := f.addPlan("Pro", Tier2, 20000, period.Monthly)
	basic := f.addPlan("Basic", Tier1, 10000, period.Quarterly)
	sub, ar := f.dueSubscription(pro)
	stored := f.store.subs[sub.ID]
	basicID := basic.ID
	stored.ScheduledPlanID = &basicID
	f.store.subs[sub.ID] = stored

	out, err := svc.ProcessAutoRenewal(ctx, ar.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.ChargeSucceeded, out.Status)
	assert.Equal(t, int64(10000), out.AmountMinor)
	require.NotNil(t, out.NewEndDate)
	assert.Equal(t, period.EndDate(testStart, period.Quarterly), *out.NewEndDate)

	renewed := f.sub(sub.ID)
	assert.Equal(t, basic.ID, renewed.PlanID)
	assert.Nil(t, renewed.ScheduledPlanID)
	assert.Equal(t, basic.ID, f.store.renewals[ar.ID].PlanID)
}

func TestProcessDueRenewals_RequiresAction(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	flutterwave := &mockProvider{
		name: payment.ProviderFlutterwave,
		ChargeFunc: func(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
			return &payment.ChargeResult{
				Status:           payment.ChargeRequiresAction,
				Reference:        req.Reference,
				AuthorizationURL: "https://checkout.example.com/pay/abc",
			}, nil
		},
	}
	f.deps.Providers = providerMap{payment.ProviderPaystack: f.provider, payment.ProviderFlutterwave: flutterwave}
	svc := NewAutoRenewalService(f.deps)
	basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)
	sub, _ := f.dueSubscription(basic)
	prefs := f.store.prefs[sub.TenantID]
	prefs.PaymentProvider = payment.ProviderFlutterwave
	f.store.prefs[sub.TenantID] = prefs

	summary, err := svc.ProcessDueRenewals(ctx, DueRenewalOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.RequiringAction)
	assert.Zero(t, summary.Successful)

	payments := f.store.paymentsFor(sub.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, PaymentPending, payments[0].Status)
	assert.Equal(t, payment.ProviderFlutterwave, payments[0].Provider)
	assert.Equal(t, "https://checkout.example.com/pay/abc", payments[0].AuthorizationURL)
	assert.Equal(t, testStart, f.sub(sub.ID).EndDate)
}

func TestProcessDueRenewals_FailureStartsDunning(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := NewAutoRenewalService(f.deps)
	basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)
	sub, ar := f.dueSubscription(basic)
	f.provider.ChargeFunc = func(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
		return &payment.ChargeResult{Status: payment.ChargeFailed, Reference: req.Reference, Message: "insufficient funds"}, nil
	}

	summary, err := svc.ProcessDueRenewals(ctx, DueRenewalOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "insufficient funds")

	failed := f.sub(sub.ID)
	assert.Equal(t, 1, failed.PaymentRetryCount)
	assert.Equal(t, StatusActive, failed.Status)

	payments := f.store.paymentsFor(sub.ID)
	require.Len(t, payments, 1)
	assert.Equal(t, PaymentFailed, payments[0].Status)
	assert.Equal(t, "insufficient funds", payments[0].FailureReason)

	out, err := svc.ProcessAutoRenewal(ctx, ar.ID)
	require.NoError(t, err)
	require.NotNil(t, out.Dunning)
	assert.Equal(t, DunningNoAction, out.Dunning.Status)
	assert.Equal(t, "retry_not_due", out.Dunning.Reason)
	assert.Equal(t, 2, f.metrics.renewals["failed"])
}

func TestProcessDueRenewals_FailedChargeFollowsBackoff(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := NewAutoRenewalService(f.deps)
	basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)
	sub, ar := f.dueSubscription(basic)
	f.provider.ChargeFunc = func(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
		return &payment.ChargeResult{Status: payment.ChargeFailed, Reference: req.Reference, Message: "card declined"}, nil
	}

	for i := 0; i < 5; i++ {
		_, err := svc.ProcessDueRenewals(ctx, DueRenewalOptions{})
		require.NoError(t, err)
		f.clock.Advance(time.Hour)
	}

	assert.Equal(t, 1, f.provider.chargeCalls)
	assert.Equal(t, 1, f.sub(sub.ID).PaymentRetryCount)
	assert.Len(t, f.store.paymentsFor(sub.ID), 1)
	assert.Equal(t, testStart.AddDate(0, 0, 3), f.store.renewals[ar.ID].NextRenewalDate)

	// a forced sweep still leaves subscriptions in dunning to the retry sweep
	summary, err := svc.ProcessDueRenewals(ctx, DueRenewalOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, f.provider.chargeCalls)

	retries, err := svc.ProcessPaymentRetries(ctx, SweepOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, retries.Skipped)
	assert.Equal(t, 1, f.provider.chargeCalls)

	f.clock.now = testStart.AddDate(0, 0, 3)
	retries, err = svc.ProcessPaymentRetries(ctx, SweepOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, retries.Failed)
	assert.Equal(t, 2, f.provider.chargeCalls)
	assert.Equal(t, 2, f.sub(sub.ID).PaymentRetryCount)
	assert.Equal(t, testStart.AddDate(0, 0, 10), f.store.renewals[ar.ID].NextRenewalDate)
}

func TestNextRetryDate(t *testing.T) {
	intervals := []int{1, 3, 7}
	assert.Equal(t, testStart.AddDate(0, 0, 1), NextRetryDate(testStart, 0, intervals))
	assert.Equal(t, testStart.AddDate(0, 0, 3), NextRetryDate(testStart, 1, intervals))
	assert.Equal(t, testStart.AddDate(0, 0, 7), NextRetryDate(testStart, 5, intervals))
	assert.Equal(t, testStart, NextRetryDate(testStart, 1, nil))
}

func TestProcessAutoRenewal_ChargeFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("no stored payment method", func(t *testing.T) {
		f := newFixture()
		svc := NewAutoRenewalService(f.deps)
		basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)
		sub, ar := f.dueSubscription(basic)
		delete(f.store.prefs, sub.TenantID)

		out, err := svc.ProcessAutoRenewal(ctx, ar.ID)
		require.NoError(t, err)
		assert.Equal(t, payment.ChargeFailed, out.Status)
		assert.Equal(t, "no stored payment method", out.Message)
		assert.Zero(t, f.provider.chargeCalls)
		assert.Equal(t, DunningRetryScheduled, out.Dunning.Status)
	})

	t.Run("no stored credential", func(t *testing.T) {
		f := newFixture()
		svc := NewAutoRenewalService(f.deps)
		basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)
		sub, ar := f.dueSubscription(basic)
		prefs := f.store.prefs[sub.TenantID]
		prefs.PaystackAuthorizationCode = ""
		f.store.prefs[sub.TenantID] = prefs

		out, err := svc.ProcessAutoRenewal(ctx, ar.ID)
		require.NoError(t, err)
		assert.Equal(t, "no stored payment credential", out.Message)
		assert.Zero(t, f.provider.chargeCalls)
	})

	t.Run("provider error", func(t *testing.T) {
		f := newFixture()
		svc := NewAutoRenewalService(f.deps)
		basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)
		sub, ar := f.dueSubscription(basic)
		f.provider.ChargeFunc = func(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
			return nil, errors.New("gateway timeout")
		}

		out, err := svc.ProcessAutoRenewal(ctx, ar.ID)
		require.NoError(t, err)
		assert.Equal(t, payment.ChargeFailed, out.Status)
		assert.Equal(t, "gateway timeout", out.Message)
		assert.Equal(t, 1, f.sub(sub.ID).PaymentRetryCount)
	})

	t.Run("inactive auto-renewal", func(t *testing.T) {
		f := newFixture()
		svc := NewAutoRenewalService(f.deps)
		basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)
		_, ar := f.dueSubscription(basic)
		ar.Status = AutoRenewalPaused
		f.store.renewals[ar.ID] = ar

		_, err := svc.ProcessAutoRenewal(ctx, ar.ID)
		require.Error(t, err)
		assert.True(t, IsValidation(err))
	})
}

func TestProcessDueRenewals_Options(t *testing.T) {
	ctx := context.Background()

	t.Run("dry run charges nothing", func(t *testing.T) {
		f := newFixture()
		svc := NewAutoRenewalService(f.deps)
		basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)
		sub, _ := f.dueSubscription(basic)

		summary, err := svc.ProcessDueRenewals(ctx, DueRenewalOptions{DryRun: true})
		require.NoError(t, err)
		assert.True(t, summary.DryRun)
		assert.Equal(t, 1, summary.Successful)
		assert.Zero(t, f.provider.chargeCalls)
		assert.Equal(t, testStart, f.sub(sub.ID).EndDate)
	})

	t.Run("renewal inside the lookahead waits unless forced", func(t *testing.T) {
		f := newFixture()
		svc := NewAutoRenewalService(f.deps)
		basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)
		sub := f.addSubscription(basic, StatusActive, testStart.AddDate(0, -1, 0), testStart.Add(12*time.Hour))
		f.addRenewal(sub, basic, testStart.Add(12*time.Hour))
		f.addCard(sub.TenantID)

		summary, err := svc.ProcessDueRenewals(ctx, DueRenewalOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Total)
		assert.Equal(t, 1, summary.Skipped)
		assert.Zero(t, f.provider.chargeCalls)

		summary, err = svc.ProcessDueRenewals(ctx, DueRenewalOptions{Force: true})
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Successful)
		assert.Equal(t, period.EndDate(testStart.Add(12*time.Hour), period.Monthly), f.sub(sub.ID).EndDate)
	})

	t.Run("renewal outside the lookahead is not listed", func(t *testing.T) {
		f := newFixture()
		svc := NewAutoRenewalService(f.deps)
		basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)
		sub := f.addSubscription(basic, StatusActive, testStart, testStart.AddDate(0, 0, 10))
		f.addRenewal(sub, basic, testStart.AddDate(0, 0, 10))

		summary, err := svc.ProcessDueRenewals(ctx, DueRenewalOptions{})
		require.NoError(t, err)
		assert.Zero(t, summary.Total)
	})

	t.Run("suspended subscription is skipped", func(t *testing.T) {
		f := newFixture()
		svc := NewAutoRenewalService(f.deps)
		basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)
		sub, _ := f.dueSubscription(basic)
		stored := f.store.subs[sub.ID]
		stored.Status = StatusSuspended
		f.store.subs[sub.ID] = stored

		summary, err := svc.ProcessDueRenewals(ctx, DueRenewalOptions{})
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Skipped)
	})

	t.Run("filter by tenant", func(t *testing.T) {
		f := newFixture()
		svc := NewAutoRenewalService(f.deps)
		basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)
		sub, _ := f.dueSubscription(basic)
		f.dueSubscription(basic)

		summary, err := svc.ProcessDueRenewals(ctx, DueRenewalOptions{TenantID: &sub.TenantID})
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Total)
		assert.Equal(t, 1, summary.Successful)
	})
}

func TestProcessPaymentRetries(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := NewAutoRenewalService(f.deps)
	basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)

	setRetries := func(sub *Subscription, count int, lastPaid time.Time) {
		stored := f.store.subs[sub.ID]
		stored.PaymentRetryCount = count
		stored.LastPaymentDate = &lastPaid
		f.store.subs[sub.ID] = stored
	}

	due, _ := f.dueSubscription(basic)
	setRetries(due, 1, testStart.Add(-3*day))

	notDue, _ := f.dueSubscription(basic)
	setRetries(notDue, 1, testStart.Add(-day))

	exhausted, _ := f.dueSubscription(basic)
	setRetries(exhausted, 3, testStart.Add(-10*day))

	healthy, _ := f.dueSubscription(basic)

	result, err := svc.ProcessPaymentRetries(ctx, SweepOptions{Concurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Examined)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Skipped)
	assert.Zero(t, result.Failed)

	assert.Zero(t, f.sub(due.ID).PaymentRetryCount)
	assert.Equal(t, period.EndDate(testStart, period.Monthly), f.sub(due.ID).EndDate)
	assert.Equal(t, 1, f.sub(notDue.ID).PaymentRetryCount)
	assert.Equal(t, StatusSuspended, f.sub(exhausted.ID).Status)
	assert.Equal(t, testStart, f.sub(healthy.ID).EndDate)
	assert.Equal(t, 1, f.provider.chargeCalls)
	assert.Contains(t, f.metrics.sweeps, "payment_retry")
}

func TestChangeCard(t *testing.T) {
	ctx := context.Background()

	t.Run("stores the new authorization", func(t *testing.T) {
		f := newFixture()
		svc := NewAutoRenewalService(f.deps)
		basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)
		sub, _ := f.dueSubscription(basic)

		result, err := svc.ChangeCard(ctx, ChangeCardRequest{SubscriptionID: sub.ID, AuthorizationCode: "AUTH_new"})
		require.NoError(t, err)
		assert.Equal(t, payment.ProviderPaystack, result.Provider)

		prefs := f.store.prefs[sub.TenantID]
		assert.Equal(t, "AUTH_new", prefs.PaystackAuthorizationCode)
		assert.Equal(t, "billing@example.com", prefs.PaymentEmail)
		assert.Equal(t, []audit.Action{audit.ActionCardChanged}, f.store.auditActions(sub.ID))
	})

	t.Run("requires an authorization code", func(t *testing.T) {
		f := newFixture()
		svc := NewAutoRenewalService(f.deps)

		_, err := svc.ChangeCard(ctx, ChangeCardRequest{SubscriptionID: uuid.New()})
		require.Error(t, err)
		assert.True(t, IsValidation(err))
	})

	t.Run("rejects providers without direct charge", func(t *testing.T) {
		f := newFixture()
		f.deps.Providers = providerMap{payment.ProviderFlutterwave: &mockProvider{name: payment.ProviderFlutterwave}}
		svc := NewAutoRenewalService(f.deps)

		_, err := svc.ChangeCard(ctx, ChangeCardRequest{SubscriptionID: uuid.New(), Provider: payment.ProviderFlutterwave, AuthorizationCode: "x"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "make a new payment")
	})

	t.Run("rejects canceled subscriptions", func(t *testing.T) {
		f := newFixture()
		svc := NewAutoRenewalService(f.deps)
		basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)
		sub := f.addSubscription(basic, StatusCanceled, testStart.AddDate(0, -1, 0), testStart)

		_, err := svc.ChangeCard(ctx, ChangeCardRequest{SubscriptionID: sub.ID, AuthorizationCode: "AUTH_new"})
		require.Error(t, err)
		assert.True(t, IsValidation(err))
		assert.NotContains(t, f.store.prefs, sub.TenantID)
	})
}

func TestAutoRenewalCRUD(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := NewAutoRenewalService(f.deps)
	basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)
	pro := f.addPlan("Pro", Tier2, 20000, period.Monthly)
	sub := f.addSubscription(basic, StatusActive, testStart, testStart.AddDate(0, 1, 0))
	subID := sub.ID

	ar, err := svc.CreateAutoRenewal(ctx, CreateAutoRenewalRequest{
		TenantID:       sub.TenantID,
		PlanID:         basic.ID,
		SubscriptionID: &subID,
		ExpiryDate:     sub.EndDate,
	})
	require.NoError(t, err)
	assert.Equal(t, AutoRenewalActive, ar.Status)
	assert.Equal(t, sub.EndDate, ar.NextRenewalDate)

	_, err = svc.CreateAutoRenewal(ctx, CreateAutoRenewalRequest{
		TenantID:       sub.TenantID,
		PlanID:         basic.ID,
		SubscriptionID: &subID,
		ExpiryDate:     sub.EndDate,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = svc.CreateAutoRenewal(ctx, CreateAutoRenewalRequest{
		TenantID:       uuid.New(),
		PlanID:         basic.ID,
		SubscriptionID: &subID,
		ExpiryDate:     sub.EndDate,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not belong to tenant")

	_, err = svc.CreateAutoRenewal(ctx, CreateAutoRenewalRequest{TenantID: sub.TenantID, PlanID: basic.ID})
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	paused := AutoRenewalPaused
	notes := "paused by support"
	updated, err := svc.UpdateAutoRenewal(ctx, UpdateAutoRenewalRequest{ID: ar.ID, Status: &paused, PlanID: &pro.ID, Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, AutoRenewalPaused, updated.Status)
	assert.Equal(t, pro.ID, updated.PlanID)
	assert.Equal(t, notes, updated.Notes)

	bogus := AutoRenewalStatus("bogus")
	_, err = svc.UpdateAutoRenewal(ctx, UpdateAutoRenewalRequest{ID: ar.ID, Status: &bogus})
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	stored := f.store.renewals[ar.ID]
	stored.ProviderTokens = ProviderTokens{Provider: payment.ProviderPaystack, SubscriptionCode: "SUB_1"}
	f.store.renewals[ar.ID] = stored

	canceled, err := svc.CancelAutoRenewal(ctx, ar.ID)
	require.NoError(t, err)
	assert.Equal(t, AutoRenewalCanceled, canceled.Status)
	require.Len(t, f.provider.canceledPlans, 1)
	assert.Equal(t, "SUB_1", f.provider.canceledPlans[0].SubscriptionCode)

	_, err = svc.UpdateAutoRenewal(ctx, UpdateAutoRenewalRequest{ID: ar.ID, Notes: &notes})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canceled")

	list, err := svc.ListAutoRenewals(ctx, &sub.TenantID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = svc.GetAutoRenewal(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrAutoRenewalNotFound)
}
