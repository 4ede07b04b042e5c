package httputil

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantbilling/pkg/contextkeys"
	"github.com/platinummonkey/tenantbilling/pkg/observability"
)

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = contextkeys.GetRequestID(r.Context())
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rr.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-id")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	assert.Equal(t, "upstream-id", seen)
	assert.Equal(t, "upstream-id", rr.Header().Get(RequestIDHeader))
}

func TestLoggingAndRecovery(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)

	handler := Chain(
		RequestIDMiddleware,
		LoggerMiddleware(logger),
		LoggingMiddleware,
		RecoveryMiddleware,
	)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("nil plan")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/subscriptions", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rr.Body.String())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "PANIC recovered in HTTP handler")
	assert.Contains(t, lines[1], `"status":500`)
	assert.Contains(t, lines[1], `"request_id"`)
	assert.Contains(t, lines[1], `"level":"ERROR"`)
}

func TestMaxBytesMiddleware(t *testing.T) {
	handler := MaxBytesMiddleware(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if !ParseJSONOrError(w, r, &body) {
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"non-payment"}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
