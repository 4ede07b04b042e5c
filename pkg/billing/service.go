package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tenantbilling/pkg/audit"
	"github.com/platinummonkey/tenantbilling/pkg/period"
)

// SubscriptionService drives the subscription lifecycle. Every mutation runs in
// a single transaction together with its audit entries.
type SubscriptionService struct {
	core
}

// NewSubscriptionService creates a SubscriptionService
func NewSubscriptionService(deps Deps) *SubscriptionService {
	return &SubscriptionService{core: newCore(deps)}
}

// CreateRequest creates a paid subscription or starts a trial
type CreateRequest struct {
	TenantID uuid.UUID
	// PlanID is ignored for trials
	PlanID        uuid.UUID
	IsTrial       bool
	MachineNumber string
	UserEmail     string
	Actor         Actor
}

// CreateResult is the outcome of CreateSubscription
type CreateResult struct {
	Subscription           *Subscription `json:"subscription"`
	IsTrial                bool          `json:"is_trial"`
	CarriedDays            int           `json:"carried_days"`
	PreviousSubscriptionID *uuid.UUID    `json:"previous_subscription_id,omitempty"`
}

// CreateSubscription creates a subscription for a tenant. A tenant may hold at
// most one trial, pending or active subscription; a live trial is superseded by
// a paid subscription and its remaining days are carried over.
func (s *SubscriptionService) CreateSubscription(ctx context.Context, req CreateRequest) (result *CreateResult, err error) {
	ctx, span := s.startSpan(ctx, "CreateSubscription",
		attribute.String("tenant_id", req.TenantID.String()),
		attribute.Bool("is_trial", req.IsTrial),
	)
	defer func() { s.finish(span, "create_subscription", err) }()

	if req.TenantID == uuid.Nil {
		return nil, NewValidationError("tenant_id is required")
	}
	if req.IsTrial {
		return s.createTrial(ctx, req)
	}
	return s.createPaid(ctx, req)
}

// ActivateTrial starts a free trial for the tenant
func (s *SubscriptionService) ActivateTrial(ctx context.Context, tenantID uuid.UUID, machineNumber, userEmail string, actor Actor) (*CreateResult, error) {
	return s.CreateSubscription(ctx, CreateRequest{
		TenantID:      tenantID,
		IsTrial:       true,
		MachineNumber: machineNumber,
		UserEmail:     userEmail,
		Actor:         actor,
	})
}

func (s *SubscriptionService) createTrial(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	now := s.now()
	var sub *Subscription

	err := s.store.WithinTx(ctx, func(repo Repository) error {
		if err := ensureNoLiveSubscription(ctx, repo, req.TenantID); err != nil {
			return err
		}
		if err := s.checkTrialEligibility(ctx, repo, req.TenantID, req.MachineNumber, now); err != nil {
			return err
		}

		plan, err := s.trialPlan(ctx, repo)
		if err != nil {
			return err
		}

		firstTime := false
		if _, err := repo.LatestSubscription(ctx, req.TenantID); errors.Is(err, ErrSubscriptionNotFound) {
			firstTime = true
		} else if err != nil {
			return fmt.Errorf("failed to get latest subscription: %w", err)
		}

		end := now.AddDate(0, 0, s.policy.TrialDays)
		trialEnd, nextPayment := end, end
		sub = &Subscription{
			ID:                      uuid.New(),
			TenantID:                req.TenantID,
			PlanID:                  plan.ID,
			Status:                  StatusTrial,
			StartDate:               now,
			EndDate:                 end,
			TrialEndDate:            &trialEnd,
			NextPaymentDate:         &nextPayment,
			MaxPaymentRetries:       s.policy.MaxPaymentRetries,
			IsFirstTimeSubscription: firstTime,
			TrialUsed:               true,
			CreatedAt:               now,
			UpdatedAt:               now,
		}
		if err := repo.InsertSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}

		if err := repo.UpsertTrialUsage(ctx, &TrialUsage{
			TenantID:       req.TenantID,
			MachineNumber:  req.MachineNumber,
			UserEmail:      req.UserEmail,
			TrialStartDate: now,
			TrialEndDate:   end,
		}); err != nil {
			return fmt.Errorf("failed to record trial usage: %w", err)
		}

		s.appendAudit(ctx, repo, sub, audit.ActionCreated, req.Actor, map[string]interface{}{
			"plan_name":      plan.Name,
			"tenant_id":      req.TenantID.String(),
			"is_trial":       true,
			"trial_end_date": end,
			"machine_number": req.MachineNumber,
			"user_email":     req.UserEmail,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"tenant_id":       req.TenantID.String(),
		"subscription_id": sub.ID.String(),
	}).Info("Trial activated")
	return &CreateResult{Subscription: sub, IsTrial: true}, nil
}

// checkTrialEligibility rejects machine reuse ever and tenant reuse within the cooldown
func (s *SubscriptionService) checkTrialEligibility(ctx context.Context, repo Repository, tenantID uuid.UUID, machineNumber string, now time.Time) error {
	usages, err := repo.FindTrialUsage(ctx, tenantID, machineNumber)
	if err != nil {
		return fmt.Errorf("failed to check trial usage: %w", err)
	}

	cooldownStart := now.AddDate(0, -s.policy.TrialCooldownMonths, 0)
	for _, u := range usages {
		if machineNumber != "" && u.MachineNumber == machineNumber {
			return NewValidationError("trial already used on this machine")
		}
		if u.TenantID == tenantID && u.TrialEndDate.After(cooldownStart) {
			return NewValidationError("trial period already used within cooldown period")
		}
	}
	return nil
}

// trialPlan returns the synthetic trial plan, creating it on first use
func (s *SubscriptionService) trialPlan(ctx context.Context, repo Repository) (*Plan, error) {
	plan, err := repo.GetPlanByName(ctx, s.policy.TrialPlanName, IndustryOther)
	if err == nil {
		return plan, nil
	}
	if !errors.Is(err, ErrPlanNotFound) {
		return nil, fmt.Errorf("failed to get trial plan: %w", err)
	}

	now := s.now()
	plan = &Plan{
		ID:            uuid.New(),
		Name:          s.policy.TrialPlanName,
		Description:   "Free trial",
		Industry:      IndustryOther,
		MaxUsers:      s.policy.TrialMaxUsers,
		MaxBranches:   s.policy.TrialMaxBranches,
		PriceMinor:    0,
		BillingPeriod: period.Monthly,
		TierLevel:     Tier1,
		IsActive:      false,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := repo.SavePlan(ctx, plan); err != nil {
		return nil, fmt.Errorf("failed to create trial plan: %w", err)
	}
	return plan, nil
}

func (s *SubscriptionService) createPaid(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	plan, err := s.store.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.Available() {
		return nil, NewValidationError("plan is not available")
	}
	if err := s.checkBusinessRules(ctx, req.TenantID, plan); err != nil {
		return nil, err
	}
	if err := s.checkUsageLimits(ctx, req.TenantID, plan); err != nil {
		return nil, err
	}

	now := s.now()
	result := &CreateResult{}

	err = s.store.WithinTx(ctx, func(repo Repository) error {
		prior, err := repo.LiveSubscription(ctx, req.TenantID, true)
		switch {
		case errors.Is(err, ErrSubscriptionNotFound):
			prior, err = repo.LatestSubscription(ctx, req.TenantID)
			if errors.Is(err, ErrSubscriptionNotFound) {
				prior = nil
			} else if err != nil {
				return fmt.Errorf("failed to get latest subscription: %w", err)
			} else if prior, err = repo.GetSubscription(ctx, prior.ID, true); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("failed to check live subscription: %w", err)
		case prior.Status != StatusTrial:
			return NewValidationError("active subscription already exists")
		}

		end := period.EndDate(now, plan.BillingPeriod)
		sub := &Subscription{
			ID:                      uuid.New(),
			TenantID:                req.TenantID,
			PlanID:                  plan.ID,
			Status:                  StatusActive,
			StartDate:               now,
			MaxPaymentRetries:       s.policy.MaxPaymentRetries,
			IsFirstTimeSubscription: prior == nil,
			CreatedAt:               now,
			UpdatedAt:               now,
		}

		if prior != nil {
			result.CarriedDays = carriedDays(prior, now, s.policy.GraceDays)
			sub.TrialUsed = prior.TrialUsed

			priorID := prior.ID
			result.PreviousSubscriptionID = &priorID
			previousStatus := prior.Status
			canceledAt := now
			prior.Status = StatusCanceled
			prior.CanceledAt = &canceledAt
			prior.UpdatedAt = now
			if err := repo.UpdateSubscription(ctx, prior); err != nil {
				return fmt.Errorf("failed to cancel previous subscription: %w", err)
			}
			s.appendAudit(ctx, repo, prior, audit.ActionCanceled, req.Actor, map[string]interface{}{
				"reason":              "superseded",
				"previous_status":     string(previousStatus),
				"new_subscription_id": sub.ID.String(),
				"carried_days":        result.CarriedDays,
			})
		}

		sub.EndDate = end.AddDate(0, 0, result.CarriedDays)
		nextPayment := sub.EndDate
		sub.NextPaymentDate = &nextPayment
		if err := repo.InsertSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to create subscription: %w", err)
		}

		details := map[string]interface{}{
			"plan_name":      plan.Name,
			"tenant_id":      req.TenantID.String(),
			"billing_period": string(plan.BillingPeriod),
			"is_trial":       false,
			"carried_days":   result.CarriedDays,
			"user_email":     req.UserEmail,
		}
		if result.PreviousSubscriptionID != nil {
			details["previous_subscription_id"] = result.PreviousSubscriptionID.String()
		}
		s.appendAudit(ctx, repo, sub, audit.ActionCreated, req.Actor, details)

		result.Subscription = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"tenant_id":       req.TenantID.String(),
		"subscription_id": result.Subscription.ID.String(),
		"plan":            plan.Name,
		"carried_days":    result.CarriedDays,
	}).Info("Subscription created")
	return result, nil
}

// carriedDays is the unused time of a superseded subscription
func carriedDays(prior *Subscription, now time.Time, graceDays int) int {
	switch prior.Status {
	case StatusTrial:
		end := prior.EndDate
		if prior.TrialEndDate != nil {
			end = *prior.TrialEndDate
		}
		return wholeDays(end.Sub(now))
	case StatusExpired:
		if prior.IsInGracePeriod(now, graceDays) {
			return wholeDays(prior.EndDate.AddDate(0, 0, graceDays).Sub(now))
		}
	case StatusActive:
		return prior.RemainingDays(now)
	}
	return 0
}

func ensureNoLiveSubscription(ctx context.Context, repo Repository, tenantID uuid.UUID) error {
	_, err := repo.LiveSubscription(ctx, tenantID, true)
	if err == nil {
		return NewValidationError("active subscription already exists")
	}
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil
	}
	return fmt.Errorf("failed to check live subscription: %w", err)
}

// checkBusinessRules applies the industry rule. Unknown tenants count as industry "Other".
func (s *SubscriptionService) checkBusinessRules(ctx context.Context, tenantID uuid.UUID, plan *Plan) error {
	industry := IndustryOther
	if s.tenants != nil {
		tenant, err := s.tenants.Tenant(ctx, tenantID)
		if err != nil {
			s.logger.WithError(err).WithField("tenant_id", tenantID.String()).
				Warn("Tenant lookup failed, assuming default industry")
		} else if tenant != nil && tenant.Industry != "" {
			industry = tenant.Industry
		}
	}

	var reasons []string
	if plan.Industry != IndustryOther && plan.Industry != industry {
		reasons = append(reasons, "plan not available for tenant's industry")
	}
	if plan.Discontinued {
		reasons = append(reasons, "plan is no longer available")
	}
	if len(reasons) > 0 {
		return NewValidationError(reasons...)
	}
	return nil
}

// checkUsageLimits compares current usage with the plan's limits. The check
// is skipped when usage cannot be fetched.
func (s *SubscriptionService) checkUsageLimits(ctx context.Context, tenantID uuid.UUID, plan *Plan) error {
	if s.tenants == nil {
		return nil
	}
	usage, err := s.tenants.Usage(ctx, tenantID)
	if err != nil {
		s.logger.WithError(err).WithField("tenant_id", tenantID.String()).
			Warn("Usage limit check skipped")
		return nil
	}

	var reasons []string
	if usage.Users > plan.MaxUsers {
		reasons = append(reasons, fmt.Sprintf("current users (%d) exceeds plan limit (%d)", usage.Users, plan.MaxUsers))
	}
	if usage.Branches > plan.MaxBranches {
		reasons = append(reasons, fmt.Sprintf("current branches (%d) exceeds plan limit (%d)", usage.Branches, plan.MaxBranches))
	}
	if len(reasons) > 0 {
		return NewValidationError(reasons...)
	}
	return nil
}

// RenewSubscription starts a new period at the later of the current end date and now
func (s *SubscriptionService) RenewSubscription(ctx context.Context, id uuid.UUID, actor Actor) (sub *Subscription, err error) {
	ctx, span := s.startSpan(ctx, "RenewSubscription", attribute.String("subscription_id", id.String()))
	defer func() { s.finish(span, "renew_subscription", err) }()

	err = s.store.WithinTx(ctx, func(repo Repository) error {
		var err error
		sub, err = repo.GetSubscription(ctx, id, true)
		if err != nil {
			return err
		}
		if !sub.CanBeRenewed() {
			return NewValidationError("subscription cannot be renewed")
		}
		plan, err := repo.GetPlan(ctx, sub.PlanID)
		if err != nil {
			return err
		}

		s.applyRenewal(sub, plan, 1)
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to renew subscription: %w", err)
		}

		s.appendAudit(ctx, repo, sub, audit.ActionRenewed, actor, map[string]interface{}{
			"new_end_date":   sub.EndDate,
			"plan_name":      plan.Name,
			"billing_period": string(plan.BillingPeriod),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.syncAutoRenewal(ctx, sub)
	s.logger.WithField("subscription_id", id.String()).Infof("Subscription renewed until %s", dateString(sub.EndDate))
	return sub, nil
}

// applyRenewal starts the subscription over for the given number of periods,
// beginning at the later of its end date and now
func (c *core) applyRenewal(sub *Subscription, plan *Plan, periods int) {
	now := c.now()
	base := now
	if sub.EndDate.After(now) {
		base = sub.EndDate
	}

	sub.PlanID = plan.ID
	sub.StartDate = base
	sub.EndDate = period.EndDate(base, plan.BillingPeriod)
	for i := 1; i < periods; i++ {
		sub.StartDate = sub.EndDate
		sub.EndDate = period.EndDate(sub.StartDate, plan.BillingPeriod)
	}

	paidAt, next := now, sub.EndDate
	sub.Status = StatusActive
	sub.LastPaymentDate = &paidAt
	sub.NextPaymentDate = &next
	sub.PaymentRetryCount = 0
	sub.UpdatedAt = now
}

// SuspendSubscription suspends a subscription that is not already suspended, canceled or expired
func (s *SubscriptionService) SuspendSubscription(ctx context.Context, id uuid.UUID, actor Actor, reason string) (sub *Subscription, err error) {
	ctx, span := s.startSpan(ctx, "SuspendSubscription", attribute.String("subscription_id", id.String()))
	defer func() { s.finish(span, "suspend_subscription", err) }()

	err = s.store.WithinTx(ctx, func(repo Repository) error {
		var err error
		sub, err = repo.GetSubscription(ctx, id, true)
		if err != nil {
			return err
		}
		switch sub.Status {
		case StatusSuspended, StatusCanceled, StatusExpired:
			return NewValidationError("subscription cannot be suspended")
		}

		now := s.now()
		sub.Status = StatusSuspended
		sub.SuspendedAt = &now
		sub.UpdatedAt = now
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to suspend subscription: %w", err)
		}

		s.appendAudit(ctx, repo, sub, audit.ActionSuspended, actor, map[string]interface{}{
			"reason":       reason,
			"suspended_at": now,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"subscription_id": id.String(),
		"user":            actor.user(),
	}).Info("Subscription suspended")
	return sub, nil
}

// ExtendResult is the outcome of ExtendSubscription
type ExtendResult struct {
	Subscription        *Subscription `json:"subscription"`
	PreviousEndDate     time.Time     `json:"previous_end_date"`
	RemainingDaysBefore int           `json:"remaining_days_before"`
	AmountMinor         int64         `json:"amount_minor"`
}

// ExtendSubscription adds one billing period to a subscription with fewer than
// ExtendThresholdDays remaining
func (s *SubscriptionService) ExtendSubscription(ctx context.Context, id uuid.UUID, actor Actor) (result *ExtendResult, err error) {
	ctx, span := s.startSpan(ctx, "ExtendSubscription", attribute.String("subscription_id", id.String()))
	defer func() { s.finish(span, "extend_subscription", err) }()

	err = s.store.WithinTx(ctx, func(repo Repository) error {
		sub, err := repo.GetSubscription(ctx, id, true)
		if err != nil {
			return err
		}
		if sub.Status != StatusActive && sub.Status != StatusExpired {
			return NewValidationError("subscription must be active or expired to extend")
		}

		now := s.now()
		remaining := sub.RemainingDays(now)
		if remaining >= s.policy.ExtendThresholdDays {
			return NewValidationError(fmt.Sprintf("subscription can only be extended when remaining days is less than %d", s.policy.ExtendThresholdDays))
		}
		plan, err := repo.GetPlan(ctx, sub.PlanID)
		if err != nil {
			return err
		}

		result = &ExtendResult{
			PreviousEndDate:     sub.EndDate,
			RemainingDaysBefore: remaining,
			AmountMinor:         plan.PriceMinor,
		}
		s.applyExtension(sub, plan)
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to extend subscription: %w", err)
		}

		s.appendAudit(ctx, repo, sub, audit.ActionExtended, actor, map[string]interface{}{
			"previous_end_date":     result.PreviousEndDate,
			"new_end_date":          sub.EndDate,
			"remaining_days_before": remaining,
			"billing_period":        string(plan.BillingPeriod),
		})
		result.Subscription = sub
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.syncAutoRenewal(ctx, result.Subscription)
	return result, nil
}

// applyExtension adds one period to the end date. An expired subscription past
// its end date restarts from now.
func (c *core) applyExtension(sub *Subscription, plan *Plan) {
	now := c.now()
	if sub.Status == StatusExpired && sub.EndDate.Before(now) {
		sub.StartDate = now
		sub.EndDate = period.EndDate(now, plan.BillingPeriod)
	} else {
		sub.EndDate = period.Add(sub.EndDate, plan.BillingPeriod)
	}

	paidAt, next := now, sub.EndDate
	sub.Status = StatusActive
	sub.LastPaymentDate = &paidAt
	sub.NextPaymentDate = &next
	sub.PaymentRetryCount = 0
	sub.UpdatedAt = now
}

// AdvanceRenewalRequest renews a subscription for several periods at once
type AdvanceRenewalRequest struct {
	SubscriptionID uuid.UUID
	Periods        int
	// PlanID switches plan at renewal time when set
	PlanID *uuid.UUID
	Actor  Actor
}

// AdvanceRenewalResult is the outcome of RenewInAdvance
type AdvanceRenewalResult struct {
	Subscription *Subscription `json:"subscription"`
	Periods      int           `json:"periods"`
	AmountMinor  int64         `json:"amount_minor"`
	NewEndDate   time.Time     `json:"new_end_date"`
}

// RenewInAdvance renews an active or expired subscription for req.Periods periods
func (s *SubscriptionService) RenewInAdvance(ctx context.Context, req AdvanceRenewalRequest) (result *AdvanceRenewalResult, err error) {
	ctx, span := s.startSpan(ctx, "RenewInAdvance",
		attribute.String("subscription_id", req.SubscriptionID.String()),
		attribute.Int("periods", req.Periods),
	)
	defer func() { s.finish(span, "renew_in_advance", err) }()

	if req.Periods < 1 || req.Periods > s.policy.MaxAdvancePeriods {
		return nil, NewValidationError(fmt.Sprintf("periods must be between 1 and %d", s.policy.MaxAdvancePeriods))
	}

	err = s.store.WithinTx(ctx, func(repo Repository) error {
		sub, err := repo.GetSubscription(ctx, req.SubscriptionID, true)
		if err != nil {
			return err
		}

		planID := sub.PlanID
		if req.PlanID != nil {
			planID = *req.PlanID
		}
		plan, err := repo.GetPlan(ctx, planID)
		if err != nil {
			return err
		}
		if req.PlanID != nil && !plan.Available() {
			return NewValidationError("plan is not available")
		}
		if sub.Status != StatusActive && sub.Status != StatusExpired {
			return NewValidationError("cannot renew in advance for non-active or non-expired subscription")
		}

		s.applyRenewal(sub, plan, req.Periods)
		if req.PlanID != nil {
			sub.ScheduledPlanID = nil
		}
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to renew subscription in advance: %w", err)
		}

		amount := plan.PriceMinor * int64(req.Periods)
		s.appendAudit(ctx, repo, sub, audit.ActionAdvanceRenewed, req.Actor, map[string]interface{}{
			"periods":        req.Periods,
			"new_end_date":   sub.EndDate,
			"plan_name":      plan.Name,
			"billing_period": string(plan.BillingPeriod),
			"amount_minor":   amount,
		})

		result = &AdvanceRenewalResult{
			Subscription: sub,
			Periods:      req.Periods,
			AmountMinor:  amount,
			NewEndDate:   sub.EndDate,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.syncAutoRenewal(ctx, result.Subscription)
	s.logger.WithField("subscription_id", req.SubscriptionID.String()).
		Infof("Subscription renewed in advance for %d periods", req.Periods)
	return result, nil
}

// GetSubscription returns a subscription by id
func (s *SubscriptionService) GetSubscription(ctx context.Context, id uuid.UUID) (*Subscription, error) {
	return s.store.GetSubscription(ctx, id, false)
}

// GetSubscriptionByTenant returns the tenant's live subscription, or its most
// recent non-canceled one
func (s *SubscriptionService) GetSubscriptionByTenant(ctx context.Context, tenantID uuid.UUID) (*Subscription, error) {
	sub, err := s.store.LiveSubscription(ctx, tenantID, false)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return s.store.LatestSubscription(ctx, tenantID)
	}
	return sub, err
}

// ListSubscriptions returns subscriptions matching filter
func (s *SubscriptionService) ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]*Subscription, error) {
	return s.store.ListSubscriptions(ctx, filter)
}

// ListCredits returns the credits issued to a subscription
func (s *SubscriptionService) ListCredits(ctx context.Context, subscriptionID uuid.UUID) ([]*Credit, error) {
	if _, err := s.store.GetSubscription(ctx, subscriptionID, false); err != nil {
		return nil, err
	}
	return s.store.ListCredits(ctx, subscriptionID)
}

// ListPlans returns plans matching filter
func (s *SubscriptionService) ListPlans(ctx context.Context, filter PlanFilter) ([]*Plan, error) {
	return s.store.ListPlans(ctx, filter)
}

// GetPlan returns a plan by id
func (s *SubscriptionService) GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error) {
	return s.store.GetPlan(ctx, id)
}

// SeedPlans validates and upserts a plan catalog by name and industry
func (s *SubscriptionService) SeedPlans(ctx context.Context, plans []*Plan) (int, error) {
	for i, p := range plans {
		if err := p.Validate(); err != nil {
			return 0, fmt.Errorf("plan %d (%s): %w", i, p.Name, err)
		}
	}

	now := s.now()
	err := s.store.WithinTx(ctx, func(repo Repository) error {
		for _, p := range plans {
			if p.ID == uuid.Nil {
				p.ID = uuid.New()
			}
			if p.Industry == "" {
				p.Industry = IndustryOther
			}
			if p.CreatedAt.IsZero() {
				p.CreatedAt = now
			}
			p.UpdatedAt = now
			if err := repo.SavePlan(ctx, p); err != nil {
				return fmt.Errorf("failed to save plan %s: %w", p.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(plans), nil
}
