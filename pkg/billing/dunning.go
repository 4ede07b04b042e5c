package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tenantbilling/pkg/audit"
)

// DunningStatus is the outcome of HandleFailedPayment
type DunningStatus string

const (
	DunningRetryScheduled DunningStatus = "retry_scheduled"
	DunningSuspended      DunningStatus = "suspended"
	DunningNoAction       DunningStatus = "no_action"
)

// DunningResult describes what HandleFailedPayment did
type DunningResult struct {
	SubscriptionID uuid.UUID     `json:"subscription_id"`
	Status         DunningStatus `json:"status"`
	RetryCount     int           `json:"retry_count"`
	Reason         string        `json:"reason,omitempty"`
}

// PaymentRetryService applies the dunning policy to failed recurring payments
type PaymentRetryService struct {
	core
}

// NewPaymentRetryService creates a PaymentRetryService
func NewPaymentRetryService(deps Deps) *PaymentRetryService {
	return &PaymentRetryService{core: newCore(deps)}
}

// ShouldRetryPayment reports whether the backoff for the next attempt has
// elapsed. The interval is picked by retry count and clamped to the last one.
func ShouldRetryPayment(sub *Subscription, now time.Time, intervals []int) bool {
	if sub.PaymentRetryCount >= sub.MaxPaymentRetries {
		return false
	}
	if sub.LastPaymentDate == nil {
		return true
	}
	if len(intervals) == 0 {
		return true
	}
	idx := min(sub.PaymentRetryCount, len(intervals)-1)
	return wholeDays(now.Sub(*sub.LastPaymentDate)) >= intervals[idx]
}

// NextRetryDate is the earliest time ShouldRetryPayment allows another
// attempt after a failure at last with retryCount retries used
func NextRetryDate(last time.Time, retryCount int, intervals []int) time.Time {
	if len(intervals) == 0 {
		return last
	}
	idx := min(max(retryCount, 0), len(intervals)-1)
	return last.AddDate(0, 0, intervals[idx])
}

// ShouldRetryPayment applies the configured retry intervals
func (s *PaymentRetryService) ShouldRetryPayment(sub *Subscription, now time.Time) bool {
	return ShouldRetryPayment(sub, now, s.policy.RetryIntervalsDays)
}

// HandleFailedPayment records a failed recurring charge. A retryable
// subscription gets its retry count bumped, an exhausted one is suspended.
func (s *PaymentRetryService) HandleFailedPayment(ctx context.Context, subscriptionID uuid.UUID) (result *DunningResult, err error) {
	ctx, span := s.startSpan(ctx, "HandleFailedPayment", attribute.String("subscription_id", subscriptionID.String()))
	defer func() { s.finish(span, "handle_failed_payment", err) }()

	result = &DunningResult{SubscriptionID: subscriptionID, Status: DunningNoAction}
	err = s.store.WithinTx(ctx, func(repo Repository) error {
		sub, err := repo.GetSubscription(ctx, subscriptionID, true)
		if err != nil {
			return err
		}
		result.RetryCount = sub.PaymentRetryCount
		if sub.Status != StatusActive {
			result.Reason = "subscription_not_active"
			return nil
		}

		now := s.now()
		switch {
		case s.ShouldRetryPayment(sub, now):
			sub.PaymentRetryCount++
			sub.LastPaymentDate = &now
			sub.UpdatedAt = now
			if err := repo.UpdateSubscription(ctx, sub); err != nil {
				return fmt.Errorf("failed to schedule payment retry: %w", err)
			}
			result.Status = DunningRetryScheduled
			result.RetryCount = sub.PaymentRetryCount
			return nil

		case sub.PaymentRetryCount >= sub.MaxPaymentRetries:
			return s.suspendForNonPayment(ctx, repo, sub, now, result)

		default:
			result.Reason = "retry_not_due"
			return nil
		}
	})
	if err != nil {
		return nil, err
	}

	logger := s.logger.WithFields(map[string]interface{}{
		"subscription_id": subscriptionID.String(),
		"retry_count":     result.RetryCount,
	})
	switch result.Status {
	case DunningRetryScheduled:
		logger.Infof("Payment retry %d scheduled, reminder queued", result.RetryCount)
	case DunningSuspended:
		logger.Warn("Subscription suspended after exhausting payment retries")
	}
	return result, nil
}

func (s *PaymentRetryService) suspendForNonPayment(ctx context.Context, repo Repository, sub *Subscription, now time.Time, result *DunningResult) error {
	sub.Status = StatusSuspended
	sub.SuspendedAt = &now
	sub.UpdatedAt = now
	if err := repo.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to suspend subscription: %w", err)
	}

	prefs, err := repo.GetPreferences(ctx, sub.TenantID)
	switch {
	case err == nil:
		prefs.RenewalStatus = RenewalSuspended
		prefs.UpdatedAt = now
		if err := repo.UpsertPreferences(ctx, prefs); err != nil {
			return fmt.Errorf("failed to update billing preferences: %w", err)
		}
	case !errors.Is(err, ErrPreferencesNotFound):
		return fmt.Errorf("failed to get billing preferences: %w", err)
	}

	ar, err := liveRenewal(ctx, repo, sub.ID)
	if err != nil {
		return fmt.Errorf("failed to get auto-renewal: %w", err)
	}
	if ar != nil && ar.Status == AutoRenewalActive {
		ar.Status = AutoRenewalPaused
		ar.appendNote(dateString(now) + ": paused after failed payment retries")
		ar.UpdatedAt = now
		if err := repo.UpdateAutoRenewal(ctx, ar); err != nil {
			return fmt.Errorf("failed to pause auto-renewal: %w", err)
		}
	}

	s.appendAudit(ctx, repo, sub, audit.ActionSuspended, SystemActor, map[string]interface{}{
		"reason":       "max_payment_retries_reached",
		"retry_count":  sub.PaymentRetryCount,
		"suspended_at": now,
	})
	result.Status = DunningSuspended
	result.Reason = "max_payment_retries_reached"
	return nil
}
