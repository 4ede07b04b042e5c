package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/tenantbilling/pkg/audit"
	"github.com/platinummonkey/tenantbilling/pkg/billing"
	"github.com/platinummonkey/tenantbilling/pkg/circuitbreaker"
	"github.com/platinummonkey/tenantbilling/pkg/contextkeys"
	"github.com/platinummonkey/tenantbilling/pkg/observability"
)

// SubscriptionService is the subscription lifecycle surface served over HTTP
type SubscriptionService interface {
	CreateSubscription(ctx context.Context, req billing.CreateRequest) (*billing.CreateResult, error)
	ActivateTrial(ctx context.Context, tenantID uuid.UUID, machineNumber, userEmail string, actor billing.Actor) (*billing.CreateResult, error)
	GetSubscription(ctx context.Context, id uuid.UUID) (*billing.Subscription, error)
	ListSubscriptions(ctx context.Context, filter billing.SubscriptionFilter) ([]*billing.Subscription, error)
	RenewSubscription(ctx context.Context, id uuid.UUID, actor billing.Actor) (*billing.Subscription, error)
	ExtendSubscription(ctx context.Context, id uuid.UUID, actor billing.Actor) (*billing.ExtendResult, error)
	RenewInAdvance(ctx context.Context, req billing.AdvanceRenewalRequest) (*billing.AdvanceRenewalResult, error)
	SuspendSubscription(ctx context.Context, id uuid.UUID, actor billing.Actor, reason string) (*billing.Subscription, error)
	ValidatePlanChangeRequest(ctx context.Context, req billing.ChangePlanRequest) error
	ChangePlan(ctx context.Context, req billing.ChangePlanRequest) (*billing.ChangePlanResult, error)
	ToggleAutoRenew(ctx context.Context, id uuid.UUID, enabled bool, actor billing.Actor) (*billing.ToggleResult, error)
	ListCredits(ctx context.Context, subscriptionID uuid.UUID) ([]*billing.Credit, error)
	CheckExpiredSubscriptions(ctx context.Context, opts billing.SweepOptions) (*billing.SweepResult, error)
	CheckAccess(ctx context.Context, tenantID uuid.UUID) (*billing.AccessDecision, error)
	CheckUsageLimits(ctx context.Context, tenantID uuid.UUID) (*billing.UsageReport, error)
	ListPlans(ctx context.Context, filter billing.PlanFilter) ([]*billing.Plan, error)
	GetPlan(ctx context.Context, id uuid.UUID) (*billing.Plan, error)
}

// RenewalService is the auto-renewal surface served over HTTP
type RenewalService interface {
	ListAutoRenewals(ctx context.Context, tenantID *uuid.UUID) ([]*billing.AutoRenewal, error)
	ProcessDueRenewals(ctx context.Context, opts billing.DueRenewalOptions) (*billing.DueRenewalSummary, error)
	ChangeCard(ctx context.Context, req billing.ChangeCardRequest) (*billing.ChangeCardResult, error)
}

// PaymentService starts customer-completed payments and confirms them with their provider
type PaymentService interface {
	CreatePayment(ctx context.Context, req billing.CreatePaymentRequest) (*billing.CreatePaymentResult, error)
	VerifyPayment(ctx context.Context, transactionID string) (*billing.Payment, error)
}

// BreakerManager exposes circuit breaker state for operators
type BreakerManager interface {
	Snapshot() []circuitbreaker.Status
	Reset(name string) bool
	ResetAll()
}

// RouteRegistrar mounts additional handlers, such as the payment webhook
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// Services bundles the dependencies of the HTTP API
type Services struct {
	Subscriptions SubscriptionService
	Renewals      RenewalService
	Payments      PaymentService
	Breakers      BreakerManager
	Audit         audit.Store
	Webhooks      RouteRegistrar
}

// Server serves the billing HTTP API
type Server struct {
	subs     SubscriptionService
	renewals RenewalService
	payments PaymentService
	breakers BreakerManager
	audit    *audit.Handlers
	webhooks RouteRegistrar
}

// NewServer creates a Server
func NewServer(services Services) *Server {
	s := &Server{
		subs:     services.Subscriptions,
		renewals: services.Renewals,
		payments: services.Payments,
		breakers: services.Breakers,
		webhooks: services.Webhooks,
	}
	if services.Audit != nil {
		s.audit = audit.NewHandlers(services.Audit)
	}
	return s
}

// RegisterRoutes mounts the API on router. protect wraps the /api/v1 and
// /admin subrouters (authentication, rate limiting); the payment webhook is
// authenticated by its signature instead.
func (s *Server) RegisterRoutes(router *mux.Router, protect ...func(http.Handler) http.Handler) {
	if s.webhooks != nil {
		s.webhooks.RegisterRoutes(router)
	}

	v1 := router.PathPrefix("/api/v1").Subrouter()
	admin := router.PathPrefix("/admin").Subrouter()
	for _, mw := range protect {
		v1.Use(mw)
		admin.Use(mw)
	}

	// Plans
	v1.HandleFunc("/plans", s.listPlans).Methods("GET")
	v1.HandleFunc("/plans/{id}", s.getPlan).Methods("GET")

	// Subscriptions
	v1.HandleFunc("/subscriptions", s.createSubscription).Methods("POST")
	v1.HandleFunc("/subscriptions", s.listSubscriptions).Methods("GET")
	v1.HandleFunc("/subscriptions/activate-trial", s.activateTrial).Methods("POST")
	v1.HandleFunc("/subscriptions/check-expired", s.checkExpired).Methods("POST")
	v1.HandleFunc("/subscriptions/{id}", s.getSubscription).Methods("GET")
	v1.HandleFunc("/subscriptions/{id}/renew", s.renewSubscription).Methods("POST")
	v1.HandleFunc("/subscriptions/{id}/extend", s.extendSubscription).Methods("POST")
	v1.HandleFunc("/subscriptions/{id}/advance-renewal", s.advanceRenewal).Methods("POST")
	v1.HandleFunc("/subscriptions/{id}/suspend", s.suspendSubscription).Methods("POST")
	v1.HandleFunc("/subscriptions/{id}/change-plan", s.changePlan).Methods("POST")
	v1.HandleFunc("/subscriptions/{id}/toggle-auto-renew", s.toggleAutoRenew).Methods("POST")
	v1.HandleFunc("/subscriptions/{id}/change-card", s.changeCard).Methods("POST")
	v1.HandleFunc("/subscriptions/{id}/credits", s.listCredits).Methods("GET")

	// Audit log: /audit-logs, /audit-logs/export, /subscriptions/{id}/audit-logs
	if s.audit != nil {
		s.audit.RegisterRoutes(v1)
	}

	// Tenants
	v1.HandleFunc("/tenants/{tenant_id}/access", s.tenantAccess).Methods("GET")
	v1.HandleFunc("/tenants/{tenant_id}/usage", s.tenantUsage).Methods("GET")

	// Auto-renewals
	v1.HandleFunc("/auto-renewals", s.listAutoRenewals).Methods("GET")
	v1.HandleFunc("/auto-renewals/process-due", s.processDueRenewals).Methods("POST")

	// Payments
	v1.HandleFunc("/payments", s.createPayment).Methods("POST")
	v1.HandleFunc("/payments/{transaction_id}/verify", s.verifyPayment).Methods("POST")

	// Operators
	admin.HandleFunc("/circuit-breakers", s.listBreakers).Methods("GET")
	admin.HandleFunc("/circuit-breakers/reset", s.resetAllBreakers).Methods("POST")
	admin.HandleFunc("/circuit-breakers/{name}/reset", s.resetBreaker).Methods("POST")
}

// actorFrom identifies who performed an operation for the audit log
func actorFrom(r *http.Request) billing.Actor {
	ctx := r.Context()
	actor := billing.Actor{
		User:      contextkeys.GetUserID(ctx),
		IPAddress: contextkeys.GetClientIP(ctx),
	}
	if actor.User == "" {
		actor.User = "api"
	}
	if strings.Contains(actor.User, "@") {
		actor.Email = actor.User
	}
	return actor
}

func logger(r *http.Request) *observability.Logger {
	return observability.FromContext(r.Context())
}
