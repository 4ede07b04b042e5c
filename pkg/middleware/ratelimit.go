package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/tenantbilling/pkg/contextkeys"
	"github.com/platinummonkey/tenantbilling/pkg/httputil"
	"github.com/platinummonkey/tenantbilling/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
}

// DefaultRateLimitConfig returns default rate limit settings
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerWindow: 600,
		WindowDuration:    time.Minute,
	}
}

// RateLimiter is a fixed-window limiter shared across instances through Redis
type RateLimiter struct {
	redis  *redis.Client
	config RateLimitConfig
	prefix string
}

// NewRateLimiter creates a new Redis-backed rate limiter
func NewRateLimiter(redisClient *redis.Client, config RateLimitConfig, prefix string) *RateLimiter {
	if config.RequestsPerWindow <= 0 || config.WindowDuration <= 0 {
		config = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

func (rl *RateLimiter) key(key string) string {
	return rl.prefix + ":" + key
}

// Allow counts a request for key and reports whether it is within the limit.
// The window starts at the first request.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (allowed bool, remaining int, err error) {
	redisKey := rl.key(key)

	n, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, rl.config.RequestsPerWindow, fmt.Errorf("redis error: %w", err)
	}
	if n == 1 {
		if err := rl.redis.Expire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return true, rl.config.RequestsPerWindow, fmt.Errorf("redis error: %w", err)
		}
	}

	count := int(n)
	remaining = rl.config.RequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= rl.config.RequestsPerWindow, remaining, nil
}

// TTL returns the time until the rate limit window resets
func (rl *RateLimiter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return rl.redis.TTL(ctx, rl.key(key)).Result()
}

// Reset clears the rate limit for a key
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}

// RateLimit limits requests per acting user, or per client IP for callers
// without a verified identity. Redis errors fail open.
func RateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			key := "ip:" + RemoteIP(r)
			if user := contextkeys.GetUserID(ctx); user != "" {
				key = "user:" + user
			}

			allowed, remaining, err := limiter.Allow(ctx, key)
			if err != nil {
				observability.FromContext(ctx).WithError(err).Warn("Rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerWindow))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				retryAfter := limiter.config.WindowDuration
				if ttl, err := limiter.TTL(ctx, key); err == nil && ttl > 0 {
					retryAfter = ttl
				}
				w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
				httputil.WriteTooManyRequests(w, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
