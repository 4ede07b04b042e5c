// Package webhooks receives payment provider webhooks and reconciles them into
// tenant billing preferences.
//
// # Overview
//
// A single endpoint accepts deliveries from every configured provider:
//
//	POST /webhooks/payments
//
// The provider is identified by which signature header is present
// (X-Paystack-Signature or verif-hash). The signature is checked against the
// raw body before anything is parsed.
//
// # Reconciliation
//
// Successful charge events carry the tenant id in their metadata, or only the
// customer email, which is matched against stored payment emails. The
// reusable charge token, card details and auto-renew flag are then upserted
// into tenant_billing_preferences keyed by tenant id, so a replayed delivery
// rewrites the same row with the same values.
//
// Responses:
//
//	200 {"status":"processed"}         preferences updated
//	200 {"status":"ignored"}           not a successful charge
//	200 {"status":"tenant_not_found"}  nothing to attach the payment to
//	400                                missing or invalid signature, bad payload, bad tenant id
//	429                                sender exceeded the inbound rate limit
//	500                                store failure; the provider redelivers
//
// # Usage
//
//	store := webhooks.NewDBStore(db)
//	if err := store.EnsureSchema(ctx); err != nil {
//		return err
//	}
//	handler := webhooks.NewHandler(registry.WebhookSources(), store, logger,
//		webhooks.WithRateLimiter(webhooks.NewRateLimiter(120, time.Minute)))
//	handler.RegisterRoutes(router)
package webhooks
