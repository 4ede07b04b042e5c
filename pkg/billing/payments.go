package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/tenantbilling/pkg/audit"
	"github.com/platinummonkey/tenantbilling/pkg/payment"
)

// CreatePaymentRequest starts a payment the customer completes on the
// provider's hosted page. VerifyPayment applies it once confirmed.
type CreatePaymentRequest struct {
	SubscriptionID uuid.UUID
	PaymentType    PaymentType
	// Periods is the number of periods an advance payment buys
	Periods int
	// PlanID pays an advance renewal on another plan
	PlanID *uuid.UUID
	// Provider defaults to the tenant's stored payment provider
	Provider    string
	Email       string
	CallbackURL string
	Actor       Actor
}

// CreatePaymentResult is the outcome of CreatePayment
type CreatePaymentResult struct {
	Payment          *Payment `json:"payment"`
	AuthorizationURL string   `json:"authorization_url"`
	AccessCode       string   `json:"access_code,omitempty"`
}

// CreatePayment records a pending payment and initializes the matching
// transaction with the provider. The payment is marked failed when the
// provider rejects the initialization.
func (v *PaymentVerifier) CreatePayment(ctx context.Context, req CreatePaymentRequest) (result *CreatePaymentResult, err error) {
	if req.PaymentType == "" {
		req.PaymentType = PaymentTypeSubscription
	}
	ctx, span := v.startSpan(ctx, "CreatePayment",
		attribute.String("subscription_id", req.SubscriptionID.String()),
		attribute.String("payment_type", string(req.PaymentType)),
	)
	defer func() { v.finish(span, "create_payment", err) }()

	periods, err := v.paymentPeriods(req)
	if err != nil {
		return nil, err
	}

	sub, err := v.store.GetSubscription(ctx, req.SubscriptionID, false)
	if err != nil {
		return nil, err
	}
	if err := v.checkPayable(sub, req.PaymentType); err != nil {
		return nil, err
	}

	planID := sub.PlanID
	if req.PlanID != nil {
		if req.PaymentType != PaymentTypeAdvance {
			return nil, NewValidationError("plan_id is only accepted for advance payments")
		}
		planID = *req.PlanID
	}
	plan, err := v.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if req.PlanID != nil && !plan.Available() {
		return nil, NewValidationError("plan is not available")
	}

	prefs, err := v.store.GetPreferences(ctx, sub.TenantID)
	if errors.Is(err, ErrPreferencesNotFound) {
		prefs = &TenantBillingPreferences{TenantID: sub.TenantID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to get billing preferences: %w", err)
	}
	providerName := req.Provider
	if providerName == "" {
		providerName = prefs.PaymentProvider
	}
	if providerName == "" {
		return nil, NewValidationError("payment provider is required")
	}
	provider, ok := v.lookupProvider(providerName)
	if !ok {
		return nil, NewValidationError(fmt.Sprintf("unknown payment provider %q", providerName))
	}
	email := req.Email
	if email == "" {
		email = v.billingEmail(ctx, prefs)
	}
	if email == "" {
		return nil, NewValidationError("payment email is required")
	}

	now := v.now()
	subID, paidPlan := sub.ID, plan.ID
	p := &Payment{
		ID:             uuid.New(),
		TransactionID:  NewTransactionID(req.PaymentType),
		SubscriptionID: &subID,
		PlanID:         &paidPlan,
		TenantID:       sub.TenantID,
		AmountMinor:    plan.PriceMinor * int64(periods),
		Currency:       v.policy.Currency,
		Status:         PaymentPending,
		Provider:       provider.Name(),
		PaymentType:    req.PaymentType,
		Periods:        periods,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = v.store.WithinTx(ctx, func(repo Repository) error {
		if err := repo.InsertPayment(ctx, p); err != nil {
			return fmt.Errorf("failed to record payment: %w", err)
		}
		v.appendAudit(ctx, repo, sub, audit.ActionCreated, req.Actor, map[string]interface{}{
			"payment_id":     p.ID.String(),
			"transaction_id": p.TransactionID,
			"amount_minor":   p.AmountMinor,
			"provider":       p.Provider,
			"payment_type":   string(p.PaymentType),
			"periods":        periods,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	checkout, err := provider.InitializeTransaction(ctx, payment.CheckoutRequest{
		Reference:   p.TransactionID,
		Email:       email,
		AmountMinor: p.AmountMinor,
		Currency:    p.Currency,
		CallbackURL: req.CallbackURL,
		Metadata: map[string]string{
			"tenant_id":       sub.TenantID.String(),
			"subscription_id": sub.ID.String(),
			"payment_type":    string(p.PaymentType),
			"periods":         strconv.Itoa(periods),
		},
	})
	if err != nil {
		p.Status = PaymentFailed
		p.FailureReason = err.Error()
		p.UpdatedAt = v.now()
		if uerr := v.store.UpdatePayment(ctx, p); uerr != nil {
			v.logger.WithError(uerr).WithField("transaction_id", p.TransactionID).Warn("Failed to mark payment failed")
		}
		return nil, fmt.Errorf("failed to initialize payment: %w", err)
	}

	p.AuthorizationURL = checkout.AuthorizationURL
	p.UpdatedAt = v.now()
	if err := v.store.UpdatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to update payment: %w", err)
	}

	v.logger.WithFields(map[string]interface{}{
		"transaction_id": p.TransactionID,
		"payment_type":   string(p.PaymentType),
		"periods":        periods,
	}).Info("Payment initialized")
	return &CreatePaymentResult{
		Payment:          p,
		AuthorizationURL: checkout.AuthorizationURL,
		AccessCode:       checkout.AccessCode,
	}, nil
}

func (v *PaymentVerifier) paymentPeriods(req CreatePaymentRequest) (int, error) {
	switch req.PaymentType {
	case PaymentTypeAdvance:
		if req.Periods < 1 || req.Periods > v.policy.MaxAdvancePeriods {
			return 0, NewValidationError(fmt.Sprintf("periods must be between 1 and %d", v.policy.MaxAdvancePeriods))
		}
		return req.Periods, nil
	case PaymentTypeSubscription, PaymentTypeRenewal, PaymentTypeExtension:
		if req.Periods > 1 {
			return 0, NewValidationError(fmt.Sprintf("%s payments cover a single period", req.PaymentType))
		}
		return 1, nil
	default:
		return 0, NewValidationError(fmt.Sprintf("unsupported payment type %q", req.PaymentType))
	}
}

// checkPayable applies the same status rules as the operation the payment
// pays for
func (v *PaymentVerifier) checkPayable(sub *Subscription, kind PaymentType) error {
	switch kind {
	case PaymentTypeSubscription:
		switch sub.Status {
		case StatusActive, StatusTrial, StatusPending:
			return nil
		}
		return NewValidationError("cannot create payment for non-active subscription")
	case PaymentTypeExtension:
		if sub.Status != StatusActive && sub.Status != StatusExpired {
			return NewValidationError("subscription must be active or expired to extend")
		}
		if sub.RemainingDays(v.now()) >= v.policy.ExtendThresholdDays {
			return NewValidationError(fmt.Sprintf("subscription can only be extended when remaining days is less than %d", v.policy.ExtendThresholdDays))
		}
		return nil
	default:
		if sub.Status != StatusActive && sub.Status != StatusExpired {
			return NewValidationError("cannot renew non-active or non-expired subscription")
		}
		return nil
	}
}
