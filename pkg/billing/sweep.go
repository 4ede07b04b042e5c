package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/tenantbilling/pkg/audit"
	"github.com/platinummonkey/tenantbilling/pkg/period"
)

const defaultSweepConcurrency = 4

// SweepOptions control a scheduled sweep
type SweepOptions struct {
	DryRun bool
	// Limit caps the number of subscriptions examined, 0 means no cap
	Limit int
	// Concurrency bounds parallel per-subscription transactions
	Concurrency int
}

// SweepResult summarizes a sweep
type SweepResult struct {
	Examined  int      `json:"examined"`
	Processed int      `json:"processed"`
	Promoted  int      `json:"promoted"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	DryRun    bool     `json:"dry_run"`
	Errors    []string `json:"errors,omitempty"`

	mu sync.Mutex
}

func (r *SweepResult) add(fn func(r *SweepResult)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

func (r *SweepResult) fail(id uuid.UUID, err error) {
	r.add(func(r *SweepResult) {
		r.Failed++
		r.Errors = append(r.Errors, fmt.Sprintf("subscription %s: %v", id, err))
	})
}

// forEachSubscription runs fn for every subscription with bounded concurrency.
// Errors are recorded in result and never stop the sweep.
func forEachSubscription(ctx context.Context, subs []*Subscription, concurrency int, result *SweepResult, fn func(ctx context.Context, sub *Subscription) error) {
	if concurrency <= 0 {
		concurrency = defaultSweepConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, sub := range subs {
		g.Go(func() error {
			if err := fn(gctx, sub); err != nil {
				result.fail(sub.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeProcessed
	outcomePromoted
)

// CheckExpiredSubscriptions expires active and trial subscriptions past their
// end date, one transaction per subscription. A scheduled plan is promoted
// instead, starting a fresh active period. An expired audit entry is always
// appended.
func (s *SubscriptionService) CheckExpiredSubscriptions(ctx context.Context, opts SweepOptions) (*SweepResult, error) {
	ctx, span := s.startSpan(ctx, "CheckExpiredSubscriptions")
	started := time.Now()
	defer func() { s.metrics.ObserveSweep("expiry", time.Since(started)) }()

	now := s.now()
	subs, err := s.store.ListSubscriptions(ctx, SubscriptionFilter{
		Statuses:  []Status{StatusActive, StatusTrial},
		EndBefore: &now,
		Limit:     opts.Limit,
	})
	if err != nil {
		err = fmt.Errorf("failed to list expired subscriptions: %w", err)
		s.finish(span, "check_expired", err)
		return nil, err
	}

	result := &SweepResult{Examined: len(subs), DryRun: opts.DryRun}
	if opts.DryRun {
		result.Processed = len(subs)
		s.finish(span, "check_expired", nil)
		return result, nil
	}

	forEachSubscription(ctx, subs, opts.Concurrency, result, func(ctx context.Context, sub *Subscription) error {
		out, updated, err := s.expireOne(ctx, sub.ID)
		if err != nil {
			return err
		}
		result.add(func(r *SweepResult) {
			switch out {
			case outcomeSkipped:
				r.Skipped++
			case outcomePromoted:
				r.Promoted++
				r.Processed++
			default:
				r.Processed++
			}
		})
		if out == outcomePromoted {
			s.syncAutoRenewal(ctx, updated)
		}
		return nil
	})

	s.logger.WithFields(map[string]interface{}{
		"processed": result.Processed,
		"promoted":  result.Promoted,
		"failed":    result.Failed,
	}).Info("Expired subscription check completed")
	s.finish(span, "check_expired", nil)
	return result, nil
}

func (s *SubscriptionService) expireOne(ctx context.Context, id uuid.UUID) (outcome, *Subscription, error) {
	out := outcomeSkipped
	var sub *Subscription

	err := s.store.WithinTx(ctx, func(repo Repository) error {
		var err error
		sub, err = repo.GetSubscription(ctx, id, true)
		if err != nil {
			return err
		}

		now := s.now()
		if (sub.Status != StatusActive && sub.Status != StatusTrial) || !sub.EndDate.Before(now) {
			return nil
		}
		if sub.IsInGracePeriod(now, s.policy.GraceDays) {
			return nil
		}

		previousStatus := sub.Status
		sub.Status = StatusExpired
		out = outcomeProcessed

		if sub.ScheduledPlanID != nil {
			plan, err := repo.GetPlan(ctx, *sub.ScheduledPlanID)
			if err != nil {
				return fmt.Errorf("failed to get scheduled plan: %w", err)
			}
			sub.PlanID = plan.ID
			sub.ScheduledPlanID = nil
			sub.Status = StatusActive
			sub.StartDate = now
			sub.EndDate = period.EndDate(now, plan.BillingPeriod)
			next := sub.EndDate
			sub.NextPaymentDate = &next
			out = outcomePromoted

			s.appendAudit(ctx, repo, sub, audit.ActionPlanChanged, SystemActor, map[string]interface{}{
				"new_plan_id":    plan.ID.String(),
				"new_plan_name":  plan.Name,
				"billing_period": string(plan.BillingPeriod),
				"reason":         "scheduled plan applied after expiration",
			})
		}

		sub.UpdatedAt = now
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to expire subscription: %w", err)
		}
		s.appendAudit(ctx, repo, sub, audit.ActionExpired, SystemActor, map[string]interface{}{
			"expired_at":        now,
			"previous_status":   string(previousStatus),
			"grace_period_days": s.policy.GraceDays,
		})
		return nil
	})
	return out, sub, err
}

// CancelLongSuspended cancels subscriptions suspended for more than
// SuspensionCancelDays and their auto-renewals
func (s *SubscriptionService) CancelLongSuspended(ctx context.Context, opts SweepOptions) (*SweepResult, error) {
	ctx, span := s.startSpan(ctx, "CancelLongSuspended")
	started := time.Now()
	defer func() { s.metrics.ObserveSweep("suspension_cancel", time.Since(started)) }()

	cutoff := s.now().AddDate(0, 0, -s.policy.SuspensionCancelDays)
	subs, err := s.store.ListSubscriptions(ctx, SubscriptionFilter{
		Statuses:        []Status{StatusSuspended},
		SuspendedBefore: &cutoff,
		Limit:           opts.Limit,
	})
	if err != nil {
		err = fmt.Errorf("failed to list suspended subscriptions: %w", err)
		s.finish(span, "cancel_suspended", err)
		return nil, err
	}

	result := &SweepResult{Examined: len(subs), DryRun: opts.DryRun}
	if opts.DryRun {
		result.Processed = len(subs)
		s.finish(span, "cancel_suspended", nil)
		return result, nil
	}

	forEachSubscription(ctx, subs, opts.Concurrency, result, func(ctx context.Context, sub *Subscription) error {
		canceled, err := s.cancelSuspended(ctx, sub.ID, cutoff)
		if err != nil {
			return err
		}
		result.add(func(r *SweepResult) {
			if canceled {
				r.Processed++
			} else {
				r.Skipped++
			}
		})
		return nil
	})

	s.finish(span, "cancel_suspended", nil)
	return result, nil
}

func (s *SubscriptionService) cancelSuspended(ctx context.Context, id uuid.UUID, cutoff time.Time) (bool, error) {
	canceled := false
	err := s.store.WithinTx(ctx, func(repo Repository) error {
		sub, err := repo.GetSubscription(ctx, id, true)
		if err != nil {
			return err
		}
		if sub.Status != StatusSuspended || sub.SuspendedAt == nil || !sub.SuspendedAt.Before(cutoff) {
			return nil
		}

		now := s.now()
		sub.Status = StatusCanceled
		sub.CanceledAt = &now
		sub.AutoRenew = false
		sub.UpdatedAt = now
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to cancel subscription: %w", err)
		}

		ar, err := liveRenewal(ctx, repo, sub.ID)
		if err != nil {
			return fmt.Errorf("failed to get auto-renewal: %w", err)
		}
		if ar != nil {
			ar.Status = AutoRenewalCanceled
			ar.appendNote(dateString(now) + ": canceled with subscription after suspension")
			ar.UpdatedAt = now
			if err := repo.UpdateAutoRenewal(ctx, ar); err != nil {
				return fmt.Errorf("failed to cancel auto-renewal: %w", err)
			}
		}

		s.appendAudit(ctx, repo, sub, audit.ActionCanceled, SystemActor, map[string]interface{}{
			"reason":       "auto_cancel_after_suspension",
			"suspended_at": *sub.SuspendedAt,
		})
		canceled = true
		return nil
	})
	return canceled, err
}
