// Package identity talks to the identity service that owns tenants, users and
// branches.
//
// Client is a thin HTTP client. It forwards the caller's bearer token when the
// request context carries one and otherwise authenticates with a service token
// from an oauth2.TokenSource (see NewTokenSource).
//
// Gateway implements billing.TenantDirectory on top of Client. Calls are gated
// by the identity circuit breaker. Tenant snapshots are cached in an in-process
// expirable LRU and in Redis, and served from there when the service is
// unavailable, so subscription creation keeps working during an identity
// outage:
//
//	client := identity.NewClient(identity.Config{BaseURL: cfg.Identity.BaseURL}, tokens)
//	gateway := identity.NewGateway(client, breakers.Get(circuitbreaker.Identity), redisClient,
//		identity.GatewayConfig{CacheSize: 1024, CacheTTL: time.Hour}, logger)
package identity
