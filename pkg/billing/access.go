package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// AccessDecision says whether a tenant may use the product
type AccessDecision struct {
	TenantID           uuid.UUID  `json:"tenant_id"`
	Access             bool       `json:"access"`
	Message            string     `json:"message"`
	SubscriptionID     *uuid.UUID `json:"subscription_id,omitempty"`
	Status             Status     `json:"subscription_status,omitempty"`
	Plan               *Plan      `json:"plan,omitempty"`
	ExpiresOn          *time.Time `json:"expires_on,omitempty"`
	RemainingDays      int        `json:"remaining_days"`
	InGracePeriod      bool       `json:"in_grace_period"`
	GraceDaysRemaining int        `json:"grace_days_remaining"`
	AutoRenew          bool       `json:"auto_renew"`
	AutoRenewalActive  bool       `json:"auto_renewal_active"`
	CheckedAt          time.Time  `json:"timestamp"`
}

// CheckAccess decides access from the tenant's current subscription. Expired
// subscriptions keep access during the grace period.
func (s *SubscriptionService) CheckAccess(ctx context.Context, tenantID uuid.UUID) (*AccessDecision, error) {
	now := s.now()
	decision := &AccessDecision{TenantID: tenantID, CheckedAt: now}

	sub, err := s.GetSubscriptionByTenant(ctx, tenantID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		decision.Message = "no subscription found for tenant"
		return decision, nil
	}
	if err != nil {
		return nil, err
	}

	plan, err := s.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	subID, end := sub.ID, sub.EndDate
	decision.SubscriptionID = &subID
	decision.Status = sub.Status
	decision.Plan = plan
	decision.ExpiresOn = &end
	decision.RemainingDays = sub.RemainingDays(now)
	decision.InGracePeriod = sub.IsInGracePeriod(now, s.policy.GraceDays)
	if decision.InGracePeriod {
		decision.GraceDaysRemaining = wholeDays(sub.EndDate.AddDate(0, 0, s.policy.GraceDays).Sub(now))
	}
	decision.Access = sub.HasAccess(now, s.policy.GraceDays)

	switch {
	case sub.Status == StatusActive && decision.Access:
		decision.Message = "access granted"
	case sub.Status == StatusTrial && decision.Access:
		decision.Message = "access granted (trial)"
	case decision.InGracePeriod:
		decision.Message = "access granted (grace period)"
	case sub.Status == StatusActive, sub.Status == StatusTrial, sub.Status == StatusExpired:
		decision.Message = "subscription expired"
	default:
		decision.Message = "subscription " + string(sub.Status)
	}

	prefs, err := s.store.GetPreferences(ctx, tenantID)
	switch {
	case err == nil:
		decision.AutoRenew = prefs.AutoRenewEnabled
		decision.AutoRenewalActive = prefs.RenewalStatus == RenewalActive
	case !errors.Is(err, ErrPreferencesNotFound):
		return nil, err
	}
	return decision, nil
}

// LimitUsage is the usage of one plan limit
type LimitUsage struct {
	Current   int  `json:"current"`
	Max       int  `json:"max"`
	Warning   bool `json:"warning"`
	Blocked   bool `json:"blocked"`
	Remaining int  `json:"remaining"`
}

// UsageReport compares a tenant's usage with its plan limits
type UsageReport struct {
	TenantID       uuid.UUID   `json:"tenant_id"`
	Status         string      `json:"status"`
	Message        string      `json:"message,omitempty"`
	Users          *LimitUsage `json:"users,omitempty"`
	Branches       *LimitUsage `json:"branches,omitempty"`
	OverallBlocked bool        `json:"overall_blocked"`
}

// Usage report statuses
const (
	UsageActive   = "active"
	UsageInactive = "inactive"
	UsageUnknown  = "unknown"
	UsageNotFound = "not_found"
)

// usageWarningRatio is the share of a limit above which a warning is raised
const usageWarningRatio = 0.8

// CheckUsageLimits reports usage against the plan limits of an active
// subscription: a warning above 80% of a limit and a block at the limit
func (s *SubscriptionService) CheckUsageLimits(ctx context.Context, tenantID uuid.UUID) (*UsageReport, error) {
	report := &UsageReport{TenantID: tenantID}

	sub, err := s.GetSubscriptionByTenant(ctx, tenantID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		report.Status = UsageNotFound
		report.Message = "no subscription found for tenant"
		return report, nil
	}
	if err != nil {
		return nil, err
	}
	if sub.Status != StatusActive {
		report.Status = UsageInactive
		report.Message = "subscription is not active"
		return report, nil
	}

	plan, err := s.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	if s.tenants == nil {
		report.Status = UsageUnknown
		report.Message = "unable to check usage limits"
		return report, nil
	}
	usage, err := s.tenants.Usage(ctx, tenantID)
	if err != nil {
		s.logger.WithError(err).WithField("tenant_id", tenantID.String()).Warn("Usage monitoring unavailable")
		report.Status = UsageUnknown
		report.Message = "unable to check usage limits"
		return report, nil
	}

	report.Status = UsageActive
	report.Users = limitUsage(usage.Users, plan.MaxUsers)
	report.Branches = limitUsage(usage.Branches, plan.MaxBranches)
	report.OverallBlocked = report.Users.Blocked || report.Branches.Blocked
	return report, nil
}

func limitUsage(current, limit int) *LimitUsage {
	return &LimitUsage{
		Current:   current,
		Max:       limit,
		Warning:   float64(current) > float64(limit)*usageWarningRatio,
		Blocked:   current >= limit,
		Remaining: max(0, limit-current),
	}
}
