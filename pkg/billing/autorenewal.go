package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tenantbilling/pkg/audit"
	"github.com/platinummonkey/tenantbilling/pkg/payment"
)

// AutoRenewalService manages auto-renewal records and charges the due ones
type AutoRenewalService struct {
	core
	retries *PaymentRetryService
}

// NewAutoRenewalService creates an AutoRenewalService
func NewAutoRenewalService(deps Deps) *AutoRenewalService {
	c := newCore(deps)
	return &AutoRenewalService{core: c, retries: &PaymentRetryService{core: c}}
}

// CreateAutoRenewalRequest creates an auto-renewal record
type CreateAutoRenewalRequest struct {
	TenantID       uuid.UUID
	PlanID         uuid.UUID
	SubscriptionID *uuid.UUID
	ExpiryDate     time.Time
	Notes          string
}

// CreateAutoRenewal creates an active auto-renewal. A subscription may have
// at most one live auto-renewal.
func (s *AutoRenewalService) CreateAutoRenewal(ctx context.Context, req CreateAutoRenewalRequest) (ar *AutoRenewal, err error) {
	ctx, span := s.startSpan(ctx, "CreateAutoRenewal", attribute.String("tenant_id", req.TenantID.String()))
	defer func() { s.finish(span, "create_auto_renewal", err) }()

	if req.ExpiryDate.IsZero() {
		return nil, NewValidationError("expiry date is required")
	}

	err = s.store.WithinTx(ctx, func(repo Repository) error {
		if _, err := repo.GetPlan(ctx, req.PlanID); err != nil {
			return err
		}
		if req.SubscriptionID != nil {
			sub, err := repo.GetSubscription(ctx, *req.SubscriptionID, true)
			if err != nil {
				return err
			}
			if sub.TenantID != req.TenantID {
				return NewValidationError("subscription does not belong to tenant")
			}
			existing, err := liveRenewal(ctx, repo, sub.ID)
			if err != nil {
				return fmt.Errorf("failed to get auto-renewal: %w", err)
			}
			if existing != nil {
				return NewValidationError("auto-renewal already exists for subscription")
			}
		}

		now := s.now()
		ar = &AutoRenewal{
			ID:              uuid.New(),
			TenantID:        req.TenantID,
			SubscriptionID:  req.SubscriptionID,
			PlanID:          req.PlanID,
			ExpiryDate:      req.ExpiryDate,
			NextRenewalDate: req.ExpiryDate,
			Status:          AutoRenewalActive,
			Notes:           req.Notes,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := repo.InsertAutoRenewal(ctx, ar); err != nil {
			return fmt.Errorf("failed to create auto-renewal: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"auto_renewal_id": ar.ID.String(),
		"tenant_id":       ar.TenantID.String(),
	}).Info("Auto-renewal created")
	return ar, nil
}

// UpdateAutoRenewalRequest changes an auto-renewal. Nil fields are left alone.
type UpdateAutoRenewalRequest struct {
	ID     uuid.UUID
	Status *AutoRenewalStatus
	PlanID *uuid.UUID
	Notes  *string
}

// UpdateAutoRenewal updates the status, plan or notes of an auto-renewal
func (s *AutoRenewalService) UpdateAutoRenewal(ctx context.Context, req UpdateAutoRenewalRequest) (ar *AutoRenewal, err error) {
	ctx, span := s.startSpan(ctx, "UpdateAutoRenewal", attribute.String("auto_renewal_id", req.ID.String()))
	defer func() { s.finish(span, "update_auto_renewal", err) }()

	var canceled *ProviderTokens
	err = s.store.WithinTx(ctx, func(repo Repository) error {
		var err error
		ar, err = repo.GetAutoRenewal(ctx, req.ID, true)
		if err != nil {
			return err
		}
		if ar.Status == AutoRenewalCanceled {
			return NewValidationError("auto-renewal is canceled")
		}

		if req.Status != nil {
			switch *req.Status {
			case AutoRenewalActive, AutoRenewalPaused, AutoRenewalCanceled:
			default:
				return NewValidationError(fmt.Sprintf("invalid auto-renewal status %q", *req.Status))
			}
			if *req.Status == AutoRenewalCanceled && ar.ProviderTokens.Provider != "" {
				tokens := ar.ProviderTokens
				canceled = &tokens
			}
			ar.Status = *req.Status
		}
		if req.PlanID != nil {
			plan, err := repo.GetPlan(ctx, *req.PlanID)
			if err != nil {
				return err
			}
			if !plan.Available() {
				return NewValidationError("plan is not available")
			}
			ar.PlanID = plan.ID
		}
		if req.Notes != nil {
			ar.Notes = *req.Notes
		}
		ar.UpdatedAt = s.now()
		return repo.UpdateAutoRenewal(ctx, ar)
	})
	if err != nil {
		return nil, err
	}

	if canceled != nil {
		s.cancelRecurringPlan(ctx, *canceled)
	}
	return ar, nil
}

// CancelAutoRenewal cancels an auto-renewal and its provider-side recurring plan
func (s *AutoRenewalService) CancelAutoRenewal(ctx context.Context, id uuid.UUID) (*AutoRenewal, error) {
	status := AutoRenewalCanceled
	return s.UpdateAutoRenewal(ctx, UpdateAutoRenewalRequest{ID: id, Status: &status})
}

// GetAutoRenewal returns an auto-renewal by id
func (s *AutoRenewalService) GetAutoRenewal(ctx context.Context, id uuid.UUID) (*AutoRenewal, error) {
	return s.store.GetAutoRenewal(ctx, id, false)
}

// ListAutoRenewals returns the auto-renewals of a tenant, or all when tenantID is nil
func (s *AutoRenewalService) ListAutoRenewals(ctx context.Context, tenantID *uuid.UUID) ([]*AutoRenewal, error) {
	return s.store.ListAutoRenewals(ctx, AutoRenewalFilter{TenantID: tenantID})
}

// DueRenewalOptions control ProcessDueRenewals
type DueRenewalOptions struct {
	DryRun        bool
	TenantID      *uuid.UUID
	AutoRenewalID *uuid.UUID
	// Force processes renewals regardless of their next renewal date
	Force bool
}

// DueRenewalSummary counts the outcomes of ProcessDueRenewals
type DueRenewalSummary struct {
	Total           int      `json:"total"`
	Successful      int      `json:"successful"`
	Failed          int      `json:"failed"`
	Skipped         int      `json:"skipped"`
	RequiringAction int      `json:"requiring_action"`
	DryRun          bool     `json:"dry_run"`
	Errors          []string `json:"errors,omitempty"`
}

// RenewalOutcome is the result of charging one auto-renewal
type RenewalOutcome struct {
	AutoRenewalID    uuid.UUID            `json:"auto_renewal_id"`
	SubscriptionID   uuid.UUID            `json:"subscription_id"`
	Status           payment.ChargeStatus `json:"status"`
	Message          string               `json:"message,omitempty"`
	TransactionID    string               `json:"transaction_id,omitempty"`
	AmountMinor      int64                `json:"amount_minor"`
	AuthorizationURL string               `json:"authorization_url,omitempty"`
	NewEndDate       *time.Time           `json:"new_end_date,omitempty"`
	Dunning          *DunningResult       `json:"dunning,omitempty"`
}

// ProcessDueRenewals charges every active auto-renewal within the renewal
// lookahead. Each renewal is processed on its own; one failing never stops
// the others.
func (s *AutoRenewalService) ProcessDueRenewals(ctx context.Context, opts DueRenewalOptions) (*DueRenewalSummary, error) {
	ctx, span := s.startSpan(ctx, "ProcessDueRenewals",
		attribute.Bool("dry_run", opts.DryRun),
		attribute.Bool("force", opts.Force),
	)
	started := time.Now()
	defer func() { s.metrics.ObserveSweep("auto_renewal", time.Since(started)) }()

	now := s.now()
	filter := AutoRenewalFilter{
		ID:       opts.AutoRenewalID,
		TenantID: opts.TenantID,
		Statuses: []AutoRenewalStatus{AutoRenewalActive},
	}
	if !opts.Force {
		due := now.Add(s.policy.RenewalLookahead)
		filter.DueBefore = &due
	}
	renewals, err := s.store.ListAutoRenewals(ctx, filter)
	if err != nil {
		err = fmt.Errorf("failed to list due auto-renewals: %w", err)
		s.finish(span, "process_due_renewals", err)
		return nil, err
	}

	summary := &DueRenewalSummary{Total: len(renewals), DryRun: opts.DryRun}
	for _, ar := range renewals {
		if ctx.Err() != nil {
			break
		}
		logger := s.logger.WithField("auto_renewal_id", ar.ID.String())

		if ar.SubscriptionID == nil {
			logger.Warn("Auto-renewal has no subscription, skipping")
			summary.Skipped++
			continue
		}
		sub, err := s.store.GetSubscription(ctx, *ar.SubscriptionID, false)
		if errors.Is(err, ErrSubscriptionNotFound) || (err == nil && sub.Status != StatusActive) {
			logger.Info("Subscription missing or not active, skipping")
			summary.Skipped++
			continue
		}
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("auto-renewal %s: %v", ar.ID, err))
			continue
		}
		if sub.PaymentRetryCount > 0 {
			logger.Debug("Subscription in dunning, left to payment retries")
			summary.Skipped++
			continue
		}
		if !opts.Force && ar.NextRenewalDate.After(now) {
			summary.Skipped++
			continue
		}
		if opts.DryRun {
			logger.Info("Dry run, auto-renewal would be charged")
			summary.Successful++
			continue
		}

		out, err := s.ProcessAutoRenewal(ctx, ar.ID)
		if err != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("auto-renewal %s: %v", ar.ID, err))
			continue
		}
		switch out.Status {
		case payment.ChargeSucceeded:
			summary.Successful++
		case payment.ChargeRequiresAction:
			summary.RequiringAction++
		default:
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("auto-renewal %s: %s", ar.ID, out.Message))
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"total":            summary.Total,
		"successful":       summary.Successful,
		"failed":           summary.Failed,
		"skipped":          summary.Skipped,
		"requiring_action": summary.RequiringAction,
		"dry_run":          summary.DryRun,
	}).Info("Due auto-renewals processed")
	s.finish(span, "process_due_renewals", nil)
	return summary, nil
}

// ProcessAutoRenewal charges the stored credential of the tenant for the next
// period of the auto-renewal's subscription. Charge failures are reported in
// the outcome; only store errors are returned.
func (s *AutoRenewalService) ProcessAutoRenewal(ctx context.Context, id uuid.UUID) (out *RenewalOutcome, err error) {
	ctx, span := s.startSpan(ctx, "ProcessAutoRenewal", attribute.String("auto_renewal_id", id.String()))
	defer func() {
		if out != nil {
			s.metrics.RecordRenewal(string(out.Status))
		}
		s.finish(span, "process_auto_renewal", err)
	}()

	ar, err := s.store.GetAutoRenewal(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if ar.Status != AutoRenewalActive {
		return nil, NewValidationError("auto-renewal is not active")
	}
	if ar.SubscriptionID == nil {
		return nil, NewValidationError("auto-renewal has no subscription")
	}
	sub, err := s.store.GetSubscription(ctx, *ar.SubscriptionID, false)
	if err != nil {
		return nil, err
	}
	if sub.Status != StatusActive {
		return nil, NewValidationError("subscription is not active")
	}

	planID := sub.PlanID
	if sub.ScheduledPlanID != nil {
		planID = *sub.ScheduledPlanID
	}
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}

	out = &RenewalOutcome{
		AutoRenewalID:  ar.ID,
		SubscriptionID: sub.ID,
		AmountMinor:    plan.PriceMinor,
	}

	prefs, err := s.store.GetPreferences(ctx, sub.TenantID)
	if errors.Is(err, ErrPreferencesNotFound) {
		return s.recordFailure(ctx, sub, plan, "", out, "no stored payment method")
	}
	if err != nil {
		return nil, err
	}
	provider, ok := s.lookupProvider(prefs.PaymentProvider)
	if !ok {
		return s.recordFailure(ctx, sub, plan, prefs.PaymentProvider, out, "no payment provider configured")
	}
	credential := prefs.Credential()
	if provider.SupportsDirectCharge() && credential == (payment.Credential{}) {
		return s.recordFailure(ctx, sub, plan, provider.Name(), out, "no stored payment credential")
	}

	out.TransactionID = NewTransactionID(PaymentTypeRenewal)
	res, err := provider.ChargeWithToken(ctx, payment.ChargeRequest{
		Reference:   out.TransactionID,
		Email:       s.billingEmail(ctx, prefs),
		AmountMinor: plan.PriceMinor,
		Currency:    s.policy.Currency,
		Credential:  credential,
		Metadata: map[string]string{
			"tenant_id":       sub.TenantID.String(),
			"subscription_id": sub.ID.String(),
			"auto_renewal_id": ar.ID.String(),
			"payment_type":    string(PaymentTypeRenewal),
			"auto_renew":      "true",
		},
	})
	if err != nil {
		s.logger.WithError(err).WithField("auto_renewal_id", ar.ID.String()).Warn("Recurring charge failed")
		return s.recordFailure(ctx, sub, plan, provider.Name(), out, err.Error())
	}

	switch res.Status {
	case payment.ChargeSucceeded:
		return s.recordSuccess(ctx, ar.ID, plan, provider.Name(), res, out)
	case payment.ChargeRequiresAction:
		return s.recordPending(ctx, sub, plan, provider.Name(), res, out)
	default:
		return s.recordFailure(ctx, sub, plan, provider.Name(), out, res.Message)
	}
}

func (c *core) lookupProvider(name string) (payment.Provider, bool) {
	if c.providers == nil || name == "" {
		return nil, false
	}
	return c.providers.Get(name)
}

// billingEmail prefers the stored payment email and falls back to the tenant's
func (c *core) billingEmail(ctx context.Context, prefs *TenantBillingPreferences) string {
	if prefs.PaymentEmail != "" || c.tenants == nil {
		return prefs.PaymentEmail
	}
	tenant, err := c.tenants.Tenant(ctx, prefs.TenantID)
	if err != nil || tenant == nil {
		return ""
	}
	return tenant.Email
}

func (s *AutoRenewalService) recordSuccess(ctx context.Context, arID uuid.UUID, plan *Plan, provider string, res *payment.ChargeResult, out *RenewalOutcome) (*RenewalOutcome, error) {
	err := s.store.WithinTx(ctx, func(repo Repository) error {
		ar, err := repo.GetAutoRenewal(ctx, arID, true)
		if err != nil {
			return err
		}
		sub, err := repo.GetSubscription(ctx, out.SubscriptionID, true)
		if err != nil {
			return err
		}

		now := s.now()
		previousPlan := sub.PlanID
		sub.ScheduledPlanID = nil
		s.applyRenewal(sub, plan, 1)
		if err := repo.UpdateSubscription(ctx, sub); err != nil {
			return fmt.Errorf("failed to renew subscription: %w", err)
		}

		subID, planID := sub.ID, plan.ID
		if err := repo.InsertPayment(ctx, &Payment{
			ID:                uuid.New(),
			TransactionID:     out.TransactionID,
			SubscriptionID:    &subID,
			PlanID:            &planID,
			TenantID:          sub.TenantID,
			AmountMinor:       plan.PriceMinor,
			Currency:          s.policy.Currency,
			Status:            PaymentCompleted,
			Provider:          provider,
			PaymentType:       PaymentTypeRenewal,
			ProviderReference: res.ProviderReference,
			PaymentDate:       &now,
			CreatedAt:         now,
			UpdatedAt:         now,
		}); err != nil {
			return fmt.Errorf("failed to record payment: %w", err)
		}

		ar.PlanID = plan.ID
		ar.ExpiryDate = sub.EndDate
		ar.NextRenewalDate = sub.EndDate
		ar.UpdatedAt = now
		if err := repo.UpdateAutoRenewal(ctx, ar); err != nil {
			return fmt.Errorf("failed to update auto-renewal: %w", err)
		}

		prefs, err := repo.GetPreferences(ctx, sub.TenantID)
		if err != nil {
			return fmt.Errorf("failed to get billing preferences: %w", err)
		}
		end := sub.EndDate
		prefs.LastPaymentAt = &now
		prefs.SubscriptionExpiryDate = &end
		prefs.NextRenewalDate = &end
		prefs.RenewalStatus = RenewalActive
		prefs.UpdatedAt = now
		if err := repo.UpsertPreferences(ctx, prefs); err != nil {
			return fmt.Errorf("failed to update billing preferences: %w", err)
		}

		details := map[string]interface{}{
			"auto_renewal":   true,
			"transaction_id": out.TransactionID,
			"amount_minor":   plan.PriceMinor,
			"new_end_date":   sub.EndDate,
			"plan_name":      plan.Name,
		}
		if previousPlan != plan.ID {
			details["previous_plan_id"] = previousPlan.String()
		}
		s.appendAudit(ctx, repo, sub, audit.ActionRenewed, SystemActor, details)
		out.NewEndDate = &end
		return nil
	})
	if err != nil {
		return nil, err
	}

	out.Status = payment.ChargeSucceeded
	out.Message = "subscription renewed"
	s.logger.WithFields(map[string]interface{}{
		"auto_renewal_id": arID.String(),
		"transaction_id":  out.TransactionID,
	}).Infof("Auto-renewal charged, subscription renewed until %s", dateString(*out.NewEndDate))
	return out, nil
}

func (s *AutoRenewalService) recordPending(ctx context.Context, sub *Subscription, plan *Plan, provider string, res *payment.ChargeResult, out *RenewalOutcome) (*RenewalOutcome, error) {
	p := s.newPayment(sub, plan, provider, out.TransactionID, PaymentPending)
	p.ProviderReference = res.ProviderReference
	p.AuthorizationURL = res.AuthorizationURL
	if err := s.store.InsertPayment(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	out.Status = payment.ChargeRequiresAction
	out.AuthorizationURL = res.AuthorizationURL
	out.Message = res.Message
	if out.Message == "" {
		out.Message = "customer action required to complete renewal"
	}
	return out, nil
}

func (s *AutoRenewalService) recordFailure(ctx context.Context, sub *Subscription, plan *Plan, provider string, out *RenewalOutcome, reason string) (*RenewalOutcome, error) {
	if out.TransactionID == "" {
		out.TransactionID = NewTransactionID(PaymentTypeRenewal)
	}
	p := s.newPayment(sub, plan, provider, out.TransactionID, PaymentFailed)
	p.FailureReason = reason
	if err := s.store.InsertPayment(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	dunning, err := s.retries.HandleFailedPayment(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	if dunning.Status != DunningSuspended {
		if err := s.deferRenewal(ctx, out.AutoRenewalID, dunning.RetryCount); err != nil {
			return nil, err
		}
	}
	out.Status = payment.ChargeFailed
	out.Message = reason
	out.Dunning = dunning
	return out, nil
}

// deferRenewal moves the next renewal date of a failed auto-renewal past the
// current backoff interval
func (s *AutoRenewalService) deferRenewal(ctx context.Context, arID uuid.UUID, retryCount int) error {
	if arID == uuid.Nil {
		return nil
	}
	return s.store.WithinTx(ctx, func(repo Repository) error {
		ar, err := repo.GetAutoRenewal(ctx, arID, true)
		if err != nil {
			return err
		}
		if ar.Status != AutoRenewalActive {
			return nil
		}
		now := s.now()
		ar.NextRenewalDate = NextRetryDate(now, retryCount, s.policy.RetryIntervalsDays)
		ar.UpdatedAt = now
		if err := repo.UpdateAutoRenewal(ctx, ar); err != nil {
			return fmt.Errorf("failed to defer auto-renewal: %w", err)
		}
		return nil
	})
}

func (s *AutoRenewalService) newPayment(sub *Subscription, plan *Plan, provider, transactionID string, status PaymentStatus) *Payment {
	now := s.now()
	subID, planID := sub.ID, plan.ID
	return &Payment{
		ID:             uuid.New(),
		TransactionID:  transactionID,
		SubscriptionID: &subID,
		PlanID:         &planID,
		TenantID:       sub.TenantID,
		AmountMinor:    plan.PriceMinor,
		Currency:       s.policy.Currency,
		Status:         status,
		Provider:       provider,
		PaymentType:    PaymentTypeRenewal,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// ProcessPaymentRetries re-charges active subscriptions in dunning whose
// backoff has elapsed. Subscriptions that used up their retries are suspended.
func (s *AutoRenewalService) ProcessPaymentRetries(ctx context.Context, opts SweepOptions) (*SweepResult, error) {
	ctx, span := s.startSpan(ctx, "ProcessPaymentRetries")
	started := time.Now()
	defer func() { s.metrics.ObserveSweep("payment_retry", time.Since(started)) }()

	subs, err := s.store.ListSubscriptions(ctx, SubscriptionFilter{
		Statuses:      []Status{StatusActive},
		MinRetryCount: 1,
		Limit:         opts.Limit,
	})
	if err != nil {
		err = fmt.Errorf("failed to list subscriptions in dunning: %w", err)
		s.finish(span, "payment_retries", err)
		return nil, err
	}

	now := s.now()
	result := &SweepResult{Examined: len(subs), DryRun: opts.DryRun}
	forEachSubscription(ctx, subs, opts.Concurrency, result, func(ctx context.Context, sub *Subscription) error {
		exhausted := sub.PaymentRetryCount >= sub.MaxPaymentRetries
		if !exhausted && !s.retries.ShouldRetryPayment(sub, now) {
			result.add(func(r *SweepResult) { r.Skipped++ })
			return nil
		}
		if opts.DryRun {
			result.add(func(r *SweepResult) { r.Processed++ })
			return nil
		}

		if exhausted {
			if _, err := s.retries.HandleFailedPayment(ctx, sub.ID); err != nil {
				return err
			}
			result.add(func(r *SweepResult) { r.Processed++ })
			return nil
		}

		ar, err := liveRenewal(ctx, s.store, sub.ID)
		if err != nil {
			return err
		}
		if ar == nil || ar.Status != AutoRenewalActive {
			result.add(func(r *SweepResult) { r.Skipped++ })
			return nil
		}
		out, err := s.ProcessAutoRenewal(ctx, ar.ID)
		if err != nil {
			return err
		}
		switch out.Status {
		case payment.ChargeSucceeded:
			result.add(func(r *SweepResult) { r.Processed++ })
		case payment.ChargeRequiresAction:
			result.add(func(r *SweepResult) { r.Skipped++ })
		default:
			result.fail(sub.ID, errors.New(out.Message))
		}
		return nil
	})

	s.logger.WithFields(map[string]interface{}{
		"examined":  result.Examined,
		"processed": result.Processed,
		"failed":    result.Failed,
	}).Info("Payment retries processed")
	s.finish(span, "payment_retries", nil)
	return result, nil
}

// ChangeCardRequest replaces the stored reusable payment credential
type ChangeCardRequest struct {
	SubscriptionID    uuid.UUID
	Provider          string
	AuthorizationCode string
	Actor             Actor
}

// ChangeCardResult is the outcome of ChangeCard
type ChangeCardResult struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Provider       string    `json:"provider"`
	Message        string    `json:"message"`
}

// ChangeCard stores a new reusable authorization for the subscription's
// tenant. Providers without direct charge take the card from the next payment
// instead.
func (s *AutoRenewalService) ChangeCard(ctx context.Context, req ChangeCardRequest) (result *ChangeCardResult, err error) {
	ctx, span := s.startSpan(ctx, "ChangeCard", attribute.String("subscription_id", req.SubscriptionID.String()))
	defer func() { s.finish(span, "change_card", err) }()

	if req.Provider == "" {
		req.Provider = payment.ProviderPaystack
	}
	if req.AuthorizationCode == "" {
		return nil, NewValidationError("authorization code is required for card change")
	}
	provider, ok := s.lookupProvider(req.Provider)
	if !ok {
		return nil, NewValidationError(fmt.Sprintf("unknown payment provider %q", req.Provider))
	}
	if !provider.SupportsDirectCharge() {
		return nil, NewValidationError(req.Provider + " does not support direct card changes, make a new payment with the desired card")
	}

	err = s.store.WithinTx(ctx, func(repo Repository) error {
		sub, err := repo.GetSubscription(ctx, req.SubscriptionID, true)
		if err != nil {
			return err
		}
		if sub.Status == StatusCanceled {
			return NewValidationError("cannot change card of a canceled subscription")
		}

		prefs, err := repo.GetPreferences(ctx, sub.TenantID)
		if errors.Is(err, ErrPreferencesNotFound) {
			prefs = &TenantBillingPreferences{TenantID: sub.TenantID}
		} else if err != nil {
			return fmt.Errorf("failed to get billing preferences: %w", err)
		}
		previous := prefs.PaymentProvider
		prefs.SetCredential(provider.Name(), payment.Credential{AuthorizationCode: req.AuthorizationCode})
		prefs.UpdatedAt = s.now()
		if err := repo.UpsertPreferences(ctx, prefs); err != nil {
			return fmt.Errorf("failed to update billing preferences: %w", err)
		}

		s.appendAudit(ctx, repo, sub, audit.ActionCardChanged, req.Actor, map[string]interface{}{
			"provider":          provider.Name(),
			"previous_provider": previous,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &ChangeCardResult{
		SubscriptionID: req.SubscriptionID,
		Provider:       provider.Name(),
		Message:        "payment card updated for auto-renewal",
	}, nil
}

// cancelRecurringPlan cancels provider-side recurring billing. Failures are logged.
func (c *core) cancelRecurringPlan(ctx context.Context, tokens ProviderTokens) {
	if c.providers == nil {
		return
	}
	logger := c.logger.WithField("provider", tokens.Provider)

	provider, ok := c.providers.Get(tokens.Provider)
	if !ok {
		logger.Warn("Unknown payment provider, skipping recurring plan cancellation")
		return
	}
	if err := provider.CancelRecurringPlan(ctx, tokens); err != nil {
		logger.WithError(err).Warn("Failed to cancel provider recurring plan")
		return
	}
	logger.Info("Provider recurring plan canceled")
}
