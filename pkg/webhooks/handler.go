package webhooks

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantbilling/pkg/contextkeys"
	"github.com/platinummonkey/tenantbilling/pkg/httputil"
	"github.com/platinummonkey/tenantbilling/pkg/observability"
	"github.com/platinummonkey/tenantbilling/pkg/payment"
)

// MaxBodyBytes bounds the size of a webhook body
const MaxBodyBytes = 1 << 20

// Metrics receives one observation per handled delivery
type Metrics interface {
	RecordWebhook(provider, outcome string)
}

// Handler serves POST /webhooks/payments
type Handler struct {
	sources []payment.WebhookSource
	store   Store
	logger  *observability.Logger
	limiter *RateLimiter
	metrics Metrics
	now     func() time.Time
}

// Option configures a Handler
type Option func(*Handler)

// WithRateLimiter limits deliveries per sender address
func WithRateLimiter(limiter *RateLimiter) Option {
	return func(h *Handler) { h.limiter = limiter }
}

// WithMetrics reports delivery outcomes
func WithMetrics(m Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithClock overrides the time recorded as last_payment_at
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// NewHandler creates a Handler accepting deliveries from sources
func NewHandler(sources []payment.WebhookSource, store Store, logger *observability.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	h := &Handler{
		sources: sources,
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers the webhook endpoint
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/payments", h.HandlePayment).Methods("POST")
}

// source returns the source whose signature header is present on r
func (h *Handler) source(r *http.Request) (payment.WebhookSource, string) {
	for _, src := range h.sources {
		if sig := r.Header.Get(src.SignatureHeader()); sig != "" {
			return src, sig
		}
	}
	return nil, ""
}

// HandlePayment verifies, parses and reconciles one delivery
func (h *Handler) HandlePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.limiter != nil && !h.limiter.Allow(senderAddress(r)) {
		httputil.WriteTooManyRequests(w, "Too many webhook deliveries")
		return
	}

	src, signature := h.source(r)
	if src == nil {
		h.observe("unknown", "no_signature")
		httputil.WriteBadRequest(w, "No signature")
		return
	}
	logger := h.logger.WithField("provider", src.Name())

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil || len(body) > MaxBodyBytes {
		h.observe(src.Name(), "bad_payload")
		httputil.WriteBadRequest(w, "Unreadable payload")
		return
	}

	if !src.VerifySignature(signature, body) {
		logger.Warn("Rejected webhook with invalid signature")
		h.observe(src.Name(), "invalid_signature")
		httputil.WriteBadRequest(w, "Invalid signature")
		return
	}

	event, err := src.ParseEvent(body)
	if err != nil {
		logger.WithError(err).Warn("Rejected malformed webhook payload")
		h.observe(src.Name(), "bad_payload")
		httputil.WriteBadRequest(w, "Invalid JSON payload")
		return
	}
	logger = logger.WithFields(map[string]interface{}{
		"event":     event.Type,
		"reference": event.Reference,
	})

	if !event.Successful {
		h.finish(ctx, logger, event, nil, OutcomeIgnored)
		logger.Debug("Ignored unsuccessful payment event")
		h.respond(w, OutcomeIgnored)
		return
	}

	tenantID, found, err := h.resolveTenant(ctx, event)
	if err != nil {
		var invalid *invalidTenantError
		if errors.As(err, &invalid) {
			h.observe(event.Provider, "bad_tenant")
			httputil.WriteBadRequest(w, "Invalid tenant id")
			return
		}
		logger.WithError(err).Error("Failed to resolve webhook tenant")
		h.finish(ctx, logger, event, nil, OutcomeFailed)
		httputil.WriteInternalError(w, errors.New("failed to process webhook"))
		return
	}
	if !found {
		logger.WithField("email", event.Email).Warn("Payment webhook matched no tenant")
		h.finish(ctx, logger, event, nil, OutcomeTenantNotFound)
		h.respond(w, OutcomeTenantNotFound)
		return
	}
	logger = logger.WithField("tenant_id", tenantID.String())

	update := &PaymentUpdate{
		TenantID:         tenantID,
		Provider:         event.Provider,
		CardLast4:        event.CardLast4,
		CardBrand:        event.CardBrand,
		Email:            event.Email,
		PaidAt:           h.now().UTC(),
		AutoRenew:        event.AutoRenew,
		Credential:       event.Credential,
		SubscriptionCode: event.SubscriptionCode,
	}
	if err := h.store.ApplyPayment(ctx, update); err != nil {
		logger.WithError(err).Error("Failed to store billing preferences from webhook")
		h.finish(ctx, logger, event, &tenantID, OutcomeFailed)
		httputil.WriteInternalError(w, errors.New("failed to process webhook"))
		return
	}

	h.finish(ctx, logger, event, &tenantID, OutcomeProcessed)
	logger.WithField("auto_renew", event.AutoRenew).Info("Reconciled payment webhook")
	h.respond(w, OutcomeProcessed)
}

type invalidTenantError struct {
	value string
}

func (e *invalidTenantError) Error() string {
	return "invalid tenant id: " + e.value
}

// resolveTenant uses the metadata tenant id, falling back to the payment email
func (h *Handler) resolveTenant(ctx context.Context, event *payment.WebhookEvent) (uuid.UUID, bool, error) {
	if event.TenantID != "" {
		id, err := uuid.Parse(strings.TrimSpace(event.TenantID))
		if err != nil {
			return uuid.Nil, false, &invalidTenantError{value: event.TenantID}
		}
		return id, true, nil
	}
	if event.Email == "" {
		return uuid.Nil, false, nil
	}
	return h.store.FindTenantByEmail(ctx, event.Email)
}

// finish records the delivery. Event log failures are logged only.
func (h *Handler) finish(ctx context.Context, logger *observability.Logger, event *payment.WebhookEvent, tenantID *uuid.UUID, outcome string) {
	h.observe(event.Provider, outcome)
	if err := h.store.RecordEvent(ctx, event, tenantID, outcome); err != nil {
		logger.WithError(err).Warn("Failed to record webhook event")
	}
}

func (h *Handler) observe(provider, outcome string) {
	if h.metrics != nil {
		h.metrics.RecordWebhook(provider, outcome)
	}
}

func (h *Handler) respond(w http.ResponseWriter, outcome string) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": outcome})
}

// senderAddress prefers the client IP resolved by middleware
func senderAddress(r *http.Request) string {
	if ip := contextkeys.GetClientIP(r.Context()); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
