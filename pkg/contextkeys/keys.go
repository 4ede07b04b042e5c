// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here so that the
// packages that set a value and the packages that read it agree on the key.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/tenantbilling/pkg/contextkeys"
//	ctx = contextkeys.WithBearerToken(ctx, token)
//	token := contextkeys.GetBearerToken(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// BearerTokenKey contains the caller's raw bearer token
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Used by: identity.Client, which forwards it to the identity service
	// Type: string
	BearerTokenKey Key = "bearer_token"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit trail, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user (email or subject)
	// Set by: middleware.AuthMiddleware after token validation
	// Used by: Logger, audit trail (recorded as the acting user)
	// Type: string
	UserIDKey Key = "user_id"

	// ClientIPKey contains the caller's IP address
	// Set by: middleware.ClientIP
	// Used by: audit trail
	// Type: string
	ClientIPKey Key = "client_ip"

	// LoggerKey contains *observability.Logger
	// Set by: Observability middleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithBearerToken adds the caller's bearer token to the context
func WithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, BearerTokenKey, token)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithClientIP adds the caller's IP address to the context
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ClientIPKey, ip)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetBearerToken retrieves the caller's bearer token from context
func GetBearerToken(ctx context.Context) string {
	if token, ok := ctx.Value(BearerTokenKey).(string); ok {
		return token
	}
	return ""
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// GetClientIP retrieves the caller's IP address from context
func GetClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(ClientIPKey).(string); ok {
		return ip
	}
	return ""
}
