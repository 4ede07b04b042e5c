package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tenantbilling/pkg/audit"
	"github.com/platinummonkey/tenantbilling/pkg/payment"
)

// ToggleResult is the outcome of ToggleAutoRenew
type ToggleResult struct {
	Subscription *Subscription `json:"subscription"`
	AutoRenewal  *AutoRenewal  `json:"auto_renewal,omitempty"`
	AutoRenew    bool          `json:"auto_renew"`
	Message      string        `json:"message"`
}

// ToggleAutoRenew enables or disables recurring billing for an active or trial
// subscription. The subscription status never changes. Provider-side recurring
// plans are created or canceled after commit on a best-effort basis.
func (s *SubscriptionService) ToggleAutoRenew(ctx context.Context, id uuid.UUID, enabled bool, actor Actor) (result *ToggleResult, err error) {
	ctx, span := s.startSpan(ctx, "ToggleAutoRenew",
		attribute.String("subscription_id", id.String()),
		attribute.Bool("auto_renew", enabled),
	)
	defer func() { s.finish(span, "toggle_auto_renew", err) }()

	var (
		plan     *Plan
		prefs    *TenantBillingPreferences
		canceled *ProviderTokens
	)
	result = &ToggleResult{AutoRenew: enabled}

	err = s.store.WithinTx(ctx, func(repo Repository) error {
		sub, err := repo.GetSubscription(ctx, id, true)
		if err != nil {
			return err
		}
		if sub.Status != StatusActive && sub.Status != StatusTrial {
			return NewValidationError("cannot toggle auto-renew for non-active subscription")
		}

		now := s.now()
		sub.AutoRenew = enabled
		sub.UpdatedAt = now
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to update subscription: %w", err)
		}

		prefs, err = repo.GetPreferences(ctx, sub.TenantID)
		if errors.Is(err, ErrPreferencesNotFound) {
			prefs = &TenantBillingPreferences{TenantID: sub.TenantID}
		} else if err != nil {
			return fmt.Errorf("failed to get billing preferences: %w", err)
		}
		end := sub.EndDate
		prefs.AutoRenewEnabled = enabled
		prefs.SubscriptionExpiryDate = &end
		if enabled {
			prefs.RenewalStatus = RenewalActive
			prefs.NextRenewalDate = &end
		} else {
			prefs.RenewalStatus = RenewalPaused
			prefs.NextRenewalDate = nil
		}
		prefs.UpdatedAt = now
		if err := repo.UpsertPreferences(ctx, prefs); err != nil {
			return fmt.Errorf("failed to update billing preferences: %w", err)
		}

		planID := sub.PlanID
		if sub.ScheduledPlanID != nil {
			planID = *sub.ScheduledPlanID
		}
		plan, err = repo.GetPlan(ctx, planID)
		if err != nil {
			return err
		}

		ar, err := liveRenewal(ctx, repo, sub.ID)
		if err != nil {
			return fmt.Errorf("failed to get auto-renewal: %w", err)
		}
		switch {
		case enabled && ar == nil:
			subID := sub.ID
			ar = &AutoRenewal{
				ID:              uuid.New(),
				TenantID:        sub.TenantID,
				SubscriptionID:  &subID,
				PlanID:          plan.ID,
				ExpiryDate:      end,
				NextRenewalDate: end,
				Status:          AutoRenewalActive,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
			if err := repo.InsertAutoRenewal(ctx, ar); err != nil {
				return fmt.Errorf("failed to create auto-renewal: %w", err)
			}
			result.Message = "auto-renew enabled"
		case enabled && ar.Status != AutoRenewalActive:
			ar.Status = AutoRenewalActive
			ar.ExpiryDate = end
			ar.NextRenewalDate = end
			ar.UpdatedAt = now
			if err := repo.UpdateAutoRenewal(ctx, ar); err != nil {
				return fmt.Errorf("failed to reactivate auto-renewal: %w", err)
			}
			result.Message = "auto-renew enabled"
		case !enabled && ar != nil:
			if ar.ProviderTokens.Provider != "" {
				tokens := ar.ProviderTokens
				canceled = &tokens
			}
			ar.Status = AutoRenewalCanceled
			ar.UpdatedAt = now
			if err := repo.UpdateAutoRenewal(ctx, ar); err != nil {
				return fmt.Errorf("failed to cancel auto-renewal: %w", err)
			}
			result.Message = "auto-renew disabled"
		default:
			result.Message = "auto-renew status is already set as requested"
		}

		s.appendAudit(ctx, repo, sub, audit.ActionAutoRenewToggled, actor, map[string]interface{}{
			"auto_renew": enabled,
			"status":     string(sub.Status),
			"tenant_id":  sub.TenantID.String(),
		})

		result.Subscription = sub
		result.AutoRenewal = ar
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch {
	case enabled && result.AutoRenewal != nil && result.AutoRenewal.ProviderTokens.Provider == "":
		s.createRecurringPlan(ctx, result.AutoRenewal, plan, prefs, actor)
	case !enabled && canceled != nil:
		s.cancelRecurringPlan(ctx, *canceled)
	}
	return result, nil
}

// createRecurringPlan sets up provider-side recurring billing and stores the
// returned tokens on the auto-renewal. Failures are logged.
func (s *SubscriptionService) createRecurringPlan(ctx context.Context, ar *AutoRenewal, plan *Plan, prefs *TenantBillingPreferences, actor Actor) {
	if s.providers == nil || prefs.PaymentProvider == "" {
		return
	}
	logger := s.logger.WithFields(map[string]interface{}{
		"auto_renewal_id": ar.ID.String(),
		"provider":        prefs.PaymentProvider,
	})

	provider, ok := s.providers.Get(prefs.PaymentProvider)
	if !ok {
		logger.Warn("Unknown payment provider, skipping recurring plan")
		return
	}

	email := prefs.PaymentEmail
	if email == "" {
		email = actor.Email
	}
	tokens, err := provider.CreateRecurringPlan(ctx, payment.RecurringPlanRequest{
		Name:        fmt.Sprintf("%s (%s)", plan.Name, ar.TenantID),
		AmountMinor: plan.PriceMinor,
		Currency:    s.policy.Currency,
		Interval:    payment.Interval(plan.BillingPeriod),
		Email:       email,
		Credential:  prefs.Credential(),
		StartDate:   ar.NextRenewalDate,
	})
	if err != nil {
		logger.WithError(err).Warn("Failed to create provider recurring plan")
		return
	}

	err = s.store.WithinTx(ctx, func(repo Repository) error {
		current, err := repo.GetAutoRenewal(ctx, ar.ID, true)
		if err != nil {
			return err
		}
		current.ProviderTokens = *tokens
		current.UpdatedAt = s.now()
		return repo.UpdateAutoRenewal(ctx, current)
	})
	if err != nil {
		logger.WithError(err).Warn("Failed to store provider recurring plan tokens")
		return
	}
	ar.ProviderTokens = *tokens
	logger.Info("Provider recurring plan created")
}
