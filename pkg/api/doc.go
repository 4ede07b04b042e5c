// Package api serves the billing HTTP API.
//
// Routes live under /api/v1 (plans, subscriptions, tenants, auto-renewals,
// payments and the audit log) and /admin (circuit breakers). The payment
// webhook is mounted at the root and is verified by its signature rather than
// a bearer token.
//
//	server := api.NewServer(api.Services{
//		Subscriptions: subscriptions,
//		Renewals:      renewals,
//		Payments:      verifier,
//		Breakers:      breakers,
//		Audit:         auditStore,
//		Webhooks:      webhookHandler,
//	})
//	router := mux.NewRouter()
//	server.RegisterRoutes(router, auth.Handler, middleware.RateLimit(limiter))
//
// Service errors map to statuses the same way everywhere: validation failures
// are 400 with the list of reasons, missing records are 404, a payment already
// being verified is 409 and anything else is a logged 500.
package api
