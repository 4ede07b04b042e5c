package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/platinummonkey/tenantbilling/pkg/contextkeys"
)

// ClientIP stores the caller's address in the request context. Audit
// entries record it and per-sender rate limits key on it.
func ClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := contextkeys.WithClientIP(r.Context(), RemoteIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RemoteIP returns the originating client address: the first
// X-Forwarded-For hop, then X-Real-IP, then the connection address.
func RemoteIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
