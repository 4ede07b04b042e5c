package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/platinummonkey/tenantbilling/pkg/contextkeys"
	"github.com/platinummonkey/tenantbilling/pkg/httputil"
)

// AuthMiddleware extracts the caller's bearer token, forwards it to the
// identity client through the request context and, when a signing secret is
// configured, verifies it as an HS256 JWT and records the acting user.
type AuthMiddleware struct {
	secret   []byte
	optional bool // If true, allow requests without a token
}

// NewAuthMiddleware creates a new authentication middleware. An empty secret
// disables local verification; the identity service still validates the
// forwarded token on every lookup.
func NewAuthMiddleware(secret string, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		secret:   []byte(secret),
		optional: optional,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		// Format: "Bearer <token>"
		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}
		token = strings.TrimSpace(token)

		ctx := contextkeys.WithBearerToken(r.Context(), token)

		if len(m.secret) > 0 {
			user, err := m.verify(token)
			if err != nil {
				httputil.WriteUnauthorized(w, "invalid or expired token")
				return
			}
			if user != "" {
				ctx = contextkeys.WithUserID(ctx, user)
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// verify validates the token signature and expiry and returns the acting
// user: the email claim when present, else the subject.
func (m *AuthMiddleware) verify(raw string) (string, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}

	if email, ok := claims["email"].(string); ok && email != "" {
		return email, nil
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", errors.New("invalid subject claim")
	}
	return sub, nil
}
