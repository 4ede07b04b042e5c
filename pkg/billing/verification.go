package billing

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tenantbilling/pkg/audit"
	"github.com/platinummonkey/tenantbilling/pkg/payment"
)

// PaymentVerifier creates customer-completed payments, confirms them with
// their provider and applies the effect of a confirmed payment
type PaymentVerifier struct {
	core
}

// NewPaymentVerifier creates a PaymentVerifier
func NewPaymentVerifier(deps Deps) *PaymentVerifier {
	return &PaymentVerifier{core: newCore(deps)}
}

func verificationLockKey(transactionID string) string {
	return "payment_verify:" + transactionID
}

// VerifyPayment verifies a payment by transaction id. Concurrent verifications
// of one transaction are serialized with the Locker; the loser gets
// ErrVerificationInProgress. Completed payments are returned unchanged.
func (v *PaymentVerifier) VerifyPayment(ctx context.Context, transactionID string) (p *Payment, err error) {
	ctx, span := v.startSpan(ctx, "VerifyPayment", attribute.String("transaction_id", transactionID))
	defer func() { v.finish(span, "verify_payment", err) }()

	if v.locker != nil {
		key := verificationLockKey(transactionID)
		token, acquired, err := v.locker.TryLock(ctx, key, v.policy.VerificationLockTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire verification lock: %w", err)
		}
		if !acquired {
			return nil, ErrVerificationInProgress
		}
		defer func() {
			if err := v.locker.Unlock(ctx, key, token); err != nil {
				v.logger.WithError(err).WithField("transaction_id", transactionID).Warn("Failed to release verification lock")
			}
		}()
	}

	p, err = v.store.GetPaymentByTransactionID(ctx, transactionID, false)
	if err != nil {
		return nil, err
	}
	if p.Status == PaymentCompleted {
		return p, nil
	}

	var (
		provider payment.Provider
		ok       bool
	)
	if v.providers != nil {
		provider, ok = v.providers.Get(p.Provider)
	}
	if !ok {
		return nil, NewValidationError(fmt.Sprintf("unknown payment provider %q", p.Provider))
	}
	verification, err := provider.VerifyTransaction(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to verify transaction: %w", err)
	}

	err = v.store.WithinTx(ctx, func(repo Repository) error {
		var err error
		p, err = repo.GetPaymentByTransactionID(ctx, transactionID, true)
		if err != nil {
			return err
		}
		if p.Status == PaymentCompleted {
			return nil
		}

		now := v.now()
		p.UpdatedAt = now
		if !verification.Successful {
			p.Status = PaymentFailed
			p.FailureReason = verification.Message
			if p.FailureReason == "" {
				p.FailureReason = "payment " + verification.Status
			}
			return repo.UpdatePayment(ctx, p)
		}

		p.Status = PaymentCompleted
		p.PaymentDate = &now
		if verification.PaidAt != nil {
			paidAt := *verification.PaidAt
			p.PaymentDate = &paidAt
		}
		if err := repo.UpdatePayment(ctx, p); err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}
		if verification.Credential != nil {
			if err := v.storeCredential(ctx, repo, p, *verification.Credential); err != nil {
				return err
			}
		}
		return v.applyPayment(ctx, repo, p)
	})
	if err != nil {
		return nil, err
	}

	v.logger.WithFields(map[string]interface{}{
		"transaction_id": transactionID,
		"status":         string(p.Status),
	}).Info("Payment verified")
	return p, nil
}

// storeCredential keeps the reusable credential returned with a successful payment
func (v *PaymentVerifier) storeCredential(ctx context.Context, repo Repository, p *Payment, credential payment.Credential) error {
	prefs, err := repo.GetPreferences(ctx, p.TenantID)
	if errors.Is(err, ErrPreferencesNotFound) {
		prefs = &TenantBillingPreferences{TenantID: p.TenantID}
	} else if err != nil {
		return fmt.Errorf("failed to get billing preferences: %w", err)
	}
	prefs.SetCredential(p.Provider, credential)
	prefs.LastPaymentAt = p.PaymentDate
	prefs.UpdatedAt = v.now()
	if err := repo.UpsertPreferences(ctx, prefs); err != nil {
		return fmt.Errorf("failed to update billing preferences: %w", err)
	}
	return nil
}

// applyPayment applies a completed payment to its subscription according to
// the payment type
func (v *PaymentVerifier) applyPayment(ctx context.Context, repo Repository, p *Payment) error {
	if p.SubscriptionID == nil {
		return nil
	}
	sub, err := repo.GetSubscription(ctx, *p.SubscriptionID, true)
	if err != nil {
		return err
	}
	planID := sub.PlanID
	if p.PlanID != nil {
		planID = *p.PlanID
	}
	plan, err := repo.GetPlan(ctx, planID)
	if err != nil {
		return err
	}

	now := v.now()
	switch p.PaymentType {
	case PaymentTypeExtension:
		v.applyExtension(sub, plan)
	case PaymentTypeRenewal, PaymentTypeAdvance:
		sub.ScheduledPlanID = nil
		v.applyRenewal(sub, plan, p.PeriodCount())
	case PaymentTypeSubscription:
		if sub.Status == StatusPending {
			sub.Status = StatusActive
		}
	}
	sub.LastPaymentDate = &now
	sub.PaymentRetryCount = 0
	sub.UpdatedAt = now
	if err := repo.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("failed to apply payment: %w", err)
	}

	v.appendAudit(ctx, repo, sub, audit.ActionUpdated, SystemActor, map[string]interface{}{
		"payment_id":     p.ID.String(),
		"transaction_id": p.TransactionID,
		"payment_type":   string(p.PaymentType),
		"status":         string(p.Status),
	})
	return nil
}
