// Package billing implements multi-tenant subscription billing.
//
// # Overview
//
// A tenant holds at most one live subscription (trial, pending or active) to a
// Plan. Subscriptions move through the states
//
//	trial -> active -> expired -> (renewed) active
//	active -> suspended -> canceled
//	pending -> active
//
// and every transition appends an audit entry in the same transaction as the
// state change.
//
// # Services
//
// SubscriptionService owns the lifecycle: creation (paid or trial), renewal,
// renewal in advance, extension, suspension, plan changes with proration and
// the scheduled expiry sweep. AutoRenewalService charges stored payment
// credentials when a renewal falls due, and PaymentRetryService applies the
// dunning policy to failed charges. PaymentVerifier starts hosted payments
// for subscriptions, extensions and advance renewals, and confirms provider
// transactions under a distributed lock. A confirmed payment is applied for
// the number of periods it recorded.
//
// All services share a Deps value:
//
//	deps := billing.Deps{
//		Store:     billing.NewPostgresStore(db, logger),
//		Tenants:   identityGateway,
//		Providers: paymentRegistry,
//		Locker:    redisClient,
//		Policy:    cfg.BillingPolicy(),
//		Logger:    logger,
//	}
//	subs := billing.NewSubscriptionService(deps)
//	sub, err := subs.RenewSubscription(ctx, id, actor)
//
// # Money
//
// Prices and amounts are int64 minor units (kobo, cents). Proration uses the
// 30 day month and 365 day year approximation with integer division.
//
// # Identity service
//
// Tenant lookups go through TenantDirectory. Implementations degrade to cached
// data when the identity service is unavailable, so lifecycle operations never
// fail because of it. Usage checks are skipped when ErrUsageUnavailable is
// returned.
package billing
