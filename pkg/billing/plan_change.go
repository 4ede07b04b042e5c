package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tenantbilling/pkg/audit"
	"github.com/platinummonkey/tenantbilling/pkg/period"
)

// ChangeType classifies a plan change by tier
type ChangeType string

const (
	ChangeUpgrade   ChangeType = "upgrade"
	ChangeDowngrade ChangeType = "downgrade"
	ChangeSameTier  ChangeType = "same_tier"
)

// ClassifyPlanChange compares the tiers of the current and the new plan
func ClassifyPlanChange(current, next *Plan) ChangeType {
	switch c, n := current.TierLevel.Rank(), next.TierLevel.Rank(); {
	case n > c:
		return ChangeUpgrade
	case n < c:
		return ChangeDowngrade
	default:
		return ChangeSameTier
	}
}

// Proration is the money side of an immediate plan change
type Proration struct {
	RemainingDays       int   `json:"remaining_days"`
	RemainingValueMinor int64 `json:"remaining_value_minor"`
	// ProratedAmountMinor is what the tenant pays now, never negative
	ProratedAmountMinor int64 `json:"prorated_amount_minor"`
	CreditMinor         int64 `json:"credit_minor"`
}

// CalculateProration values the unused part of the old plan with the 30/365
// day approximation and charges the difference to the new plan's price. An
// excess becomes a credit and the payment is capped at zero.
func CalculateProration(old, next *Plan, remainingDays int) Proration {
	if remainingDays < 0 {
		remainingDays = 0
	}
	days := int64(period.EstimatedDays(old.BillingPeriod))
	remaining := old.PriceMinor * int64(remainingDays) / days

	p := Proration{
		RemainingDays:       remainingDays,
		RemainingValueMinor: remaining,
		ProratedAmountMinor: next.PriceMinor - remaining,
	}
	if p.ProratedAmountMinor < 0 {
		p.CreditMinor = -p.ProratedAmountMinor
		p.ProratedAmountMinor = 0
	}
	return p
}

// ValidatePlanChange is the request-level check of a plan change. Besides plan
// availability it rejects downgrades of an active subscription within
// DowngradeWindowDays of its start.
func ValidatePlanChange(sub *Subscription, current, next *Plan, now time.Time, policy Policy) error {
	if !next.Available() {
		return NewValidationError("new plan is not available")
	}
	if current.ID == next.ID {
		return NewValidationError("subscription is already on this plan")
	}
	if sub.Status == StatusActive && sub.EndDate.After(now) && ClassifyPlanChange(current, next) == ChangeDowngrade {
		window := time.Duration(policy.DowngradeWindowDays) * 24 * time.Hour
		if now.Sub(sub.StartDate) < window {
			return NewValidationError(fmt.Sprintf("downgrades are not allowed within %d days of the subscription start", policy.DowngradeWindowDays))
		}
	}
	return nil
}

// ChangePlanRequest moves a subscription to another plan
type ChangePlanRequest struct {
	SubscriptionID uuid.UUID
	NewPlanID      uuid.UUID
	Actor          Actor
}

// ChangePlanResult is the outcome of ChangePlan
type ChangePlanResult struct {
	Subscription    *Subscription `json:"subscription"`
	ChangeType      ChangeType    `json:"change_type"`
	OldPlan         string        `json:"old_plan"`
	NewPlan         string        `json:"new_plan"`
	Immediate       bool          `json:"immediate"`
	EffectiveDate   time.Time     `json:"effective_date"`
	RequiresPayment bool          `json:"requires_payment"`
	Proration
}

// ValidatePlanChangeRequest loads the subscription and plans and applies ValidatePlanChange
func (s *SubscriptionService) ValidatePlanChangeRequest(ctx context.Context, req ChangePlanRequest) error {
	sub, err := s.store.GetSubscription(ctx, req.SubscriptionID, false)
	if err != nil {
		return err
	}
	current, err := s.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return err
	}
	next, err := s.store.GetPlan(ctx, req.NewPlanID)
	if err != nil {
		return err
	}
	return ValidatePlanChange(sub, current, next, s.now(), s.policy)
}

// ChangePlan applies upgrades and same-tier changes immediately with proration.
// Downgrades only schedule the new plan, which the expiry sweep promotes when
// the current period ends.
func (s *SubscriptionService) ChangePlan(ctx context.Context, req ChangePlanRequest) (result *ChangePlanResult, err error) {
	ctx, span := s.startSpan(ctx, "ChangePlan",
		attribute.String("subscription_id", req.SubscriptionID.String()),
		attribute.String("new_plan_id", req.NewPlanID.String()),
	)
	defer func() { s.finish(span, "change_plan", err) }()

	sub, err := s.store.GetSubscription(ctx, req.SubscriptionID, false)
	if err != nil {
		return nil, err
	}
	next, err := s.store.GetPlan(ctx, req.NewPlanID)
	if err != nil {
		return nil, err
	}
	if err := s.checkUsageLimits(ctx, sub.TenantID, next); err != nil {
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(repo Repository) error {
		sub, err := repo.GetSubscription(ctx, req.SubscriptionID, true)
		if err != nil {
			return err
		}
		if sub.Status == StatusCanceled {
			return NewValidationError("cannot change plan of a canceled subscription")
		}
		current, err := repo.GetPlan(ctx, sub.PlanID)
		if err != nil {
			return err
		}
		if !next.Available() {
			return NewValidationError("new plan is not available")
		}
		if current.ID == next.ID {
			return NewValidationError("subscription is already on this plan")
		}

		result = &ChangePlanResult{
			ChangeType: ClassifyPlanChange(current, next),
			OldPlan:    current.Name,
			NewPlan:    next.Name,
		}
		if result.ChangeType == ChangeDowngrade {
			err = s.scheduleDowngrade(ctx, repo, sub, current, next, req.Actor, result)
		} else {
			err = s.switchPlan(ctx, repo, sub, current, next, req.Actor, result)
		}
		if err != nil {
			return err
		}
		result.Subscription = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"subscription_id": req.SubscriptionID.String(),
		"change_type":     string(result.ChangeType),
		"immediate":       result.Immediate,
	}).Infof("Subscription plan changed from %s to %s", result.OldPlan, result.NewPlan)
	return result, nil
}

func (s *SubscriptionService) scheduleDowngrade(ctx context.Context, repo Repository, sub *Subscription, current, next *Plan, actor Actor, result *ChangePlanResult) error {
	now := s.now()
	nextID := next.ID
	sub.ScheduledPlanID = &nextID
	sub.UpdatedAt = now
	if err := repo.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to schedule plan change: %w", err)
	}

	ar, err := liveRenewal(ctx, repo, sub.ID)
	if err != nil {
		return fmt.Errorf("failed to get auto-renewal: %w", err)
	}
	if ar != nil {
		ar.PlanID = next.ID
		ar.appendNote(fmt.Sprintf("%s: downgrade from %s to %s scheduled for %s",
			dateString(now), current.Name, next.Name, dateString(sub.EndDate)))
		ar.UpdatedAt = now
		if err := repo.UpdateAutoRenewal(ctx, ar); err != nil {
			return fmt.Errorf("failed to update auto-renewal: %w", err)
		}
	}

	result.Immediate = false
	result.EffectiveDate = sub.EndDate
	s.appendAudit(ctx, repo, sub, audit.ActionPlanChanged, actor, map[string]interface{}{
		"old_plan_id":    current.ID.String(),
		"old_plan_name":  current.Name,
		"new_plan_id":    next.ID.String(),
		"new_plan_name":  next.Name,
		"change_type":    string(ChangeDowngrade),
		"immediate":      false,
		"effective_date": sub.EndDate,
	})
	return nil
}

func (s *SubscriptionService) switchPlan(ctx context.Context, repo Repository, sub *Subscription, current, next *Plan, actor Actor, result *ChangePlanResult) error {
	now := s.now()

	if sub.Status == StatusActive && sub.EndDate.After(now) {
		result.Proration = CalculateProration(current, next, sub.RemainingDays(now))
	} else {
		result.Proration = Proration{ProratedAmountMinor: next.PriceMinor}
	}

	if result.CreditMinor > 0 {
		credit := &Credit{
			ID:             uuid.New(),
			SubscriptionID: sub.ID,
			AmountMinor:    result.CreditMinor,
			Reason:         "proration",
			ExpiresAt:      now.Add(s.policy.CreditValidity),
			CreatedAt:      now,
		}
		if err := repo.InsertCredit(ctx, credit); err != nil {
			return fmt.Errorf("failed to issue proration credit: %w", err)
		}
		s.appendAudit(ctx, repo, sub, audit.ActionProrationCredited, actor, map[string]interface{}{
			"amount_minor": credit.AmountMinor,
			"reason":       "plan change proration",
			"expires_at":   credit.ExpiresAt,
		})
	}

	sub.PlanID = next.ID
	sub.ScheduledPlanID = nil
	sub.Status = StatusActive
	sub.StartDate = now
	sub.EndDate = period.EndDate(now, next.BillingPeriod)
	nextPayment := sub.EndDate
	sub.NextPaymentDate = &nextPayment
	sub.UpdatedAt = now
	if err := repo.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to change plan: %w", err)
	}

	ar, err := liveRenewal(ctx, repo, sub.ID)
	if err != nil {
		return fmt.Errorf("failed to get auto-renewal: %w", err)
	}
	if ar != nil {
		ar.PlanID = next.ID
		ar.ExpiryDate = sub.EndDate
		ar.NextRenewalDate = sub.EndDate
		ar.UpdatedAt = now
		if err := repo.UpdateAutoRenewal(ctx, ar); err != nil {
			return fmt.Errorf("failed to update auto-renewal: %w", err)
		}
	}

	result.Immediate = true
	result.EffectiveDate = now
	result.RequiresPayment = result.ProratedAmountMinor > 0
	s.appendAudit(ctx, repo, sub, audit.ActionPlanChanged, actor, map[string]interface{}{
		"old_plan_id":           current.ID.String(),
		"old_plan_name":         current.Name,
		"new_plan_id":           next.ID.String(),
		"new_plan_name":         next.Name,
		"change_type":           string(result.ChangeType),
		"immediate":             true,
		"remaining_days":        result.RemainingDays,
		"remaining_value_minor": result.RemainingValueMinor,
		"prorated_amount_minor": result.ProratedAmountMinor,
		"credit_minor":          result.CreditMinor,
	})
	return nil
}
