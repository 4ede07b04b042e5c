package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/tenantbilling/pkg/audit"
	"github.com/platinummonkey/tenantbilling/pkg/observability"
)

var billingTracer = otel.Tracer("tenantbilling/billing/service")

// Deps are the collaborators shared by the billing services
type Deps struct {
	Store     Store
	Tenants   TenantDirectory
	Providers Providers
	Locker    Locker
	Policy    Policy
	Logger    *observability.Logger
	Metrics   Metrics
	// Now defaults to time.Now
	Now func() time.Time
}

// core holds the normalized dependencies embedded by every service
type core struct {
	store     Store
	tenants   TenantDirectory
	providers Providers
	locker    Locker
	policy    Policy
	logger    *observability.Logger
	metrics   Metrics
	now       func() time.Time
}

func newCore(d Deps) core {
	c := core{
		store:     d.Store,
		tenants:   d.Tenants,
		providers: d.Providers,
		locker:    d.Locker,
		policy:    d.Policy.withDefaults(),
		logger:    d.Logger,
		metrics:   d.Metrics,
		now:       d.Now,
	}
	if c.logger == nil {
		c.logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if c.metrics == nil {
		c.metrics = noopMetrics{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// startSpan opens a span for a lifecycle operation
func (c *core) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return billingTracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// finish records the operation outcome on the span and in metrics
func (c *core) finish(span trace.Span, operation string, err error) {
	defer span.End()

	outcome := "success"
	switch {
	case err == nil:
		span.SetStatus(codes.Ok, operation+" completed")
	case IsValidation(err):
		outcome = "rejected"
		span.SetStatus(codes.Error, err.Error())
	case IsNotFound(err):
		outcome = "not_found"
		span.SetStatus(codes.Error, err.Error())
	default:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to "+operation)
	}
	c.metrics.RecordOperation(operation, outcome)
}

// appendAudit writes an audit entry for sub through repo. Failures are logged.
func (c *core) appendAudit(ctx context.Context, repo Repository, sub *Subscription, action audit.Action, actor Actor, details map[string]interface{}) {
	subID, tenantID := sub.ID, sub.TenantID
	entry := &audit.Entry{
		SubscriptionID: &subID,
		TenantID:       &tenantID,
		Action:         action,
		User:           actor.user(),
		Details:        details,
		Timestamp:      c.now(),
		IPAddress:      actor.IPAddress,
	}
	if err := repo.AppendAudit(ctx, entry); err != nil {
		c.logger.WithError(err).WithFields(map[string]interface{}{
			"subscription_id": subID.String(),
			"action":          string(action),
		}).Warn("Audit logging failed")
	}
}

// syncAutoRenewal copies the subscription's dates onto its live auto-renewal
// records and the tenant's billing preferences. Failures are logged.
func (c *core) syncAutoRenewal(ctx context.Context, sub *Subscription) {
	end := sub.EndDate
	err := c.store.WithinTx(ctx, func(repo Repository) error {
		subID := sub.ID
		renewals, err := repo.ListAutoRenewals(ctx, AutoRenewalFilter{
			SubscriptionID: &subID,
			Statuses:       []AutoRenewalStatus{AutoRenewalActive, AutoRenewalPaused},
		})
		if err != nil {
			return err
		}
		for _, ar := range renewals {
			ar.ExpiryDate = end
			ar.NextRenewalDate = end
			ar.UpdatedAt = c.now()
			if err := repo.UpdateAutoRenewal(ctx, ar); err != nil {
				return err
			}
		}

		prefs, err := repo.GetPreferences(ctx, sub.TenantID)
		if errors.Is(err, ErrPreferencesNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		prefs.SubscriptionExpiryDate = &end
		if prefs.AutoRenewEnabled {
			prefs.NextRenewalDate = &end
		}
		prefs.UpdatedAt = c.now()
		return repo.UpsertPreferences(ctx, prefs)
	})
	if err != nil {
		c.logger.WithError(err).WithField("subscription_id", sub.ID.String()).
			Warn("Failed to sync auto-renewal dates")
	}
}

// liveRenewal returns the active or paused auto-renewal of a subscription, or nil
func liveRenewal(ctx context.Context, repo Repository, subID uuid.UUID) (*AutoRenewal, error) {
	renewals, err := repo.ListAutoRenewals(ctx, AutoRenewalFilter{
		SubscriptionID: &subID,
		Statuses:       []AutoRenewalStatus{AutoRenewalActive, AutoRenewalPaused},
	})
	if err != nil {
		return nil, err
	}
	if len(renewals) == 0 {
		return nil, nil
	}
	return renewals[0], nil
}

func dateString(t time.Time) string {
	return t.Format("2006-01-02")
}
