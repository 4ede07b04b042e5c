package billing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantbilling/pkg/audit"
	"github.com/platinummonkey/tenantbilling/pkg/period"
)

func TestClassifyPlanChange(t *testing.T) {
	basic := &Plan{TierLevel: Tier1}
	pro := &Plan{TierLevel: Tier2}
	otherPro := &Plan{TierLevel: Tier2}

	assert.Equal(t, ChangeUpgrade, ClassifyPlanChange(basic, pro))
	assert.Equal(t, ChangeDowngrade, ClassifyPlanChange(pro, basic))
	assert.Equal(t, ChangeSameTier, ClassifyPlanChange(pro, otherPro))
}

func TestCalculateProration(t *testing.T) {
	tests := []struct {
		name          string
		oldPrice      int64
		oldPeriod     period.Period
		newPrice      int64
		remainingDays int
		want          Proration
	}{
		{
			name:          "credit when remaining value exceeds new price",
			oldPrice:      10000,
			oldPeriod:     period.Monthly,
			newPrice:      3000,
			remainingDays: 10,
			want:          Proration{RemainingDays: 10, RemainingValueMinor: 3333, ProratedAmountMinor: 0, CreditMinor: 333},
		},
		{
			name:          "charge the difference",
			oldPrice:      10000,
			oldPeriod:     period.Monthly,
			newPrice:      20000,
			remainingDays: 15,
			want:          Proration{RemainingDays: 15, RemainingValueMinor: 5000, ProratedAmountMinor: 15000},
		},
		{
			name:          "annual plans use 365 days",
			oldPrice:      365000,
			oldPeriod:     period.Annual,
			newPrice:      500000,
			remainingDays: 100,
			want:          Proration{RemainingDays: 100, RemainingValueMinor: 100000, ProratedAmountMinor: 400000},
		},
		{
			name:          "negative remaining days count as zero",
			oldPrice:      10000,
			oldPeriod:     period.Monthly,
			newPrice:      20000,
			remainingDays: -4,
			want:          Proration{ProratedAmountMinor: 20000},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := &Plan{PriceMinor: tt.oldPrice, BillingPeriod: tt.oldPeriod}
			next := &Plan{PriceMinor: tt.newPrice, BillingPeriod: period.Monthly}
			got := CalculateProration(old, next, tt.remainingDays)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got.ProratedAmountMinor, int64(0))
		})
	}
}

func TestValidatePlanChange(t *testing.T) {
	now := testStart
	basic := &Plan{ID: uuid.New(), TierLevel: Tier1, IsActive: true}
	pro := &Plan{ID: uuid.New(), TierLevel: Tier2, IsActive: true}
	policy := DefaultPolicy()

	active := func(start time.Time) *Subscription {
		return &Subscription{Status: StatusActive, StartDate: start, EndDate: now.AddDate(0, 1, 0)}
	}

	t.Run("downgrade within the window is rejected", func(t *testing.T) {
		err := ValidatePlanChange(active(now.Add(-24*time.Hour)), pro, basic, now, policy)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "within 2 days")
	})

	t.Run("downgrade after the window is allowed", func(t *testing.T) {
		assert.NoError(t, ValidatePlanChange(active(now.Add(-72*time.Hour)), pro, basic, now, policy))
	})

	t.Run("upgrade within the window is allowed", func(t *testing.T) {
		assert.NoError(t, ValidatePlanChange(active(now.Add(-time.Hour)), basic, pro, now, policy))
	})

	t.Run("same plan is rejected", func(t *testing.T) {
		assert.Error(t, ValidatePlanChange(active(now.AddDate(0, -1, 0)), pro, pro, now, policy))
	})

	t.Run("inactive plan is rejected", func(t *testing.T) {
		inactive := &Plan{ID: uuid.New(), TierLevel: Tier3}
		err := ValidatePlanChange(active(now.AddDate(0, -1, 0)), basic, inactive, now, policy)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not available")
	})
}

func TestChangePlan_UpgradeWithCredit(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := NewSubscriptionService(f.deps)
	basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)
	pro := f.addPlan("Pro", Tier2, 3000, period.Monthly)
	sub := f.addSubscription(basic, StatusActive, testStart.AddDate(0, 0, -20), testStart.Add(10*day+time.Hour))

	result, err := svc.ChangePlan(ctx, ChangePlanRequest{SubscriptionID: sub.ID, NewPlanID: pro.ID})
	require.NoError(t, err)

	assert.Equal(t, ChangeUpgrade, result.ChangeType)
	assert.True(t, result.Immediate)
	assert.False(t, result.RequiresPayment)
	assert.Equal(t, Proration{RemainingDays: 10, RemainingValueMinor: 3333, ProratedAmountMinor: 0, CreditMinor: 333}, result.Proration)

	updated := f.sub(sub.ID)
	assert.Equal(t, pro.ID, updated.PlanID)
	assert.Equal(t, testStart, updated.StartDate)
	assert.Equal(t, period.EndDate(testStart, period.Monthly), updated.EndDate)

	credits, err := svc.ListCredits(ctx, sub.ID)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	assert.Equal(t, int64(333), credits[0].AmountMinor)
	assert.Equal(t, testStart.Add(365*day), credits[0].ExpiresAt)

	assert.ElementsMatch(t, []audit.Action{audit.ActionProrationCredited, audit.ActionPlanChanged}, f.store.auditActions(sub.ID))
}

func TestChangePlan_UpgradeRequiresPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := NewSubscriptionService(f.deps)
	basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)
	pro := f.addPlan("Pro", Tier2, 20000, period.Monthly)
	sub := f.addSubscription(basic, StatusActive, testStart.AddDate(0, 0, -15), testStart.Add(15*day+time.Hour))

	result, err := svc.ChangePlan(ctx, ChangePlanRequest{SubscriptionID: sub.ID, NewPlanID: pro.ID})
	require.NoError(t, err)
	assert.True(t, result.RequiresPayment)
	assert.Equal(t, int64(15000), result.ProratedAmountMinor)
	assert.Empty(t, f.store.credits)
}

func TestChangePlan_DowngradeIsScheduledAndPromotedAtExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	svc := NewSubscriptionService(f.deps)
	basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)
	pro := f.addPlan("Pro", Tier2, 20000, period.Monthly)
	end := testStart.Add(20 * day)
	sub := f.addSubscription(pro, StatusActive, testStart.AddDate(0, 0, -10), end)
	subID := sub.ID
	ar := AutoRenewal{ID: uuid.New(), TenantID: sub.TenantID, SubscriptionID: &subID, PlanID: pro.ID, Status: AutoRenewalActive}
	f.store.renewals[ar.ID] = ar

	result, err := svc.ChangePlan(ctx, ChangePlanRequest{SubscriptionID: sub.ID, NewPlanID: basic.ID})
	require.NoError(t, err)
	assert.Equal(t, ChangeDowngrade, result.ChangeType)
	assert.False(t, result.Immediate)
	assert.Equal(t, end, result.EffectiveDate)

	scheduled := f.sub(sub.ID)
	assert.Equal(t, pro.ID, scheduled.PlanID)
	require.NotNil(t, scheduled.ScheduledPlanID)
	assert.Equal(t, basic.ID, *scheduled.ScheduledPlanID)
	assert.Equal(t, basic.ID, f.store.renewals[ar.ID].PlanID)
	assert.Contains(t, f.store.renewals[ar.ID].Notes, "downgrade from Pro to Basic")

	f.clock.Advance(21 * day)
	sweep, err := svc.CheckExpiredSubscriptions(ctx, SweepOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Promoted)
	assert.Equal(t, 1, sweep.Processed)

	promoted := f.sub(sub.ID)
	now := f.clock.Now()
	assert.Equal(t, StatusActive, promoted.Status)
	assert.Equal(t, basic.ID, promoted.PlanID)
	assert.Nil(t, promoted.ScheduledPlanID)
	assert.Equal(t, now, promoted.StartDate)
	assert.Equal(t, period.EndDate(now, period.Monthly), promoted.EndDate)
	assert.Equal(t, promoted.EndDate, f.store.renewals[ar.ID].NextRenewalDate)
	assert.Contains(t, f.store.auditActions(sub.ID), audit.ActionExpired)
}

func TestChangePlan_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("canceled subscription", func(t *testing.T) {
		f := newFixture()
		svc := NewSubscriptionService(f.deps)
		basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)
		pro := f.addPlan("Pro", Tier2, 20000, period.Monthly)
		sub := f.addSubscription(basic, StatusCanceled, testStart, testStart.AddDate(0, 1, 0))

		_, err := svc.ChangePlan(ctx, ChangePlanRequest{SubscriptionID: sub.ID, NewPlanID: pro.ID})
		require.Error(t, err)
		assert.True(t, IsValidation(err))
	})

	t.Run("same plan", func(t *testing.T) {
		f := newFixture()
		svc := NewSubscriptionService(f.deps)
		basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)
		sub := f.addSubscription(basic, StatusActive, testStart, testStart.AddDate(0, 1, 0))

		_, err := svc.ChangePlan(ctx, ChangePlanRequest{SubscriptionID: sub.ID, NewPlanID: basic.ID})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already on this plan")
	})

	t.Run("usage exceeds the new plan", func(t *testing.T) {
		f := newFixture()
		svc := NewSubscriptionService(f.deps)
		basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)
		pro := f.addPlan("Pro", Tier2, 20000, period.Monthly)
		sub := f.addSubscription(pro, StatusActive, testStart.AddDate(0, -1, 0), testStart.AddDate(0, 1, 0))
		f.tenants.UsageFunc = func(ctx context.Context, id uuid.UUID) (*Usage, error) {
			return &Usage{Users: 50, Branches: 1}, nil
		}

		_, err := svc.ChangePlan(ctx, ChangePlanRequest{SubscriptionID: sub.ID, NewPlanID: basic.ID})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "current users (50)")
		assert.Nil(t, f.sub(sub.ID).ScheduledPlanID)
	})

	t.Run("validation request rejects early downgrade", func(t *testing.T) {
		f := newFixture()
		svc := NewSubscriptionService(f.deps)
		basic := f.addPlan("Basic", Tier1, 10000, period.Monthly)
		pro := f.addPlan("Pro", Tier2, 20000, period.Monthly)
		sub := f.addSubscription(pro, StatusActive, testStart.Add(-time.Hour), testStart.AddDate(0, 1, 0))

		err := svc.ValidatePlanChangeRequest(ctx, ChangePlanRequest{SubscriptionID: sub.ID, NewPlanID: basic.ID})
		require.Error(t, err)
		assert.True(t, IsValidation(err))
	})
}
