// Package middleware provides HTTP middleware for caller identity and rate limiting.
//
// # Middleware Components
//
// AuthMiddleware: bearer token extraction and optional HS256 verification
//
//	auth := middleware.NewAuthMiddleware(cfg.Server.JWTSecret, false)
//	api.Use(auth.Handler)
//	// stores the raw token for identity-service calls and the acting user for audit
//
// ClientIP: records the caller address for audit entries
//
//	router.Use(middleware.ClientIP)
//
// RateLimit: Redis-backed fixed-window limiting per user or per IP
//
//	limiter := middleware.NewRateLimiter(redisClient, middleware.RateLimitConfig{
//		RequestsPerWindow: 600,
//		WindowDuration:    time.Minute,
//	}, "ratelimit:api")
//	api.Use(middleware.RateLimit(limiter))
//
// # Related Packages
//
//   - pkg/contextkeys: context keys written by this package
//   - pkg/identity: consumes the forwarded bearer token
package middleware
