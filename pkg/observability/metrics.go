package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platinummonkey/tenantbilling/pkg/circuitbreaker"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Billing metrics
	OperationsTotal *prometheus.CounterVec
	RenewalsTotal   *prometheus.CounterVec
	WebhooksTotal   *prometheus.CounterVec
	SweepDuration   *prometheus.HistogramVec

	// Circuit breaker metrics
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen      prometheus.Gauge
	DBConnectionsInUse     prometheus.Gauge
	DBConnectionsWaitCount prometheus.Gauge

	// Redis metrics
	RedisConnectionsTotal prometheus.Gauge
	RedisConnectionsIdle  prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		OperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_operations_total",
				Help: "Subscription lifecycle operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		RenewalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_auto_renewals_total",
				Help: "Auto-renewal attempts by outcome",
			},
			[]string{"outcome"},
		),
		WebhooksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_webhooks_total",
				Help: "Payment webhook deliveries by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		SweepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_sweep_duration_seconds",
				Help:    "Duration of scheduled sweeps",
				Buckets: []float64{.1, .5, 1, 5, 15, 30, 60, 300, 900},
			},
			[]string{"sweep"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "billing_circuit_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_circuit_breaker_transitions_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"name", "to"},
		),

		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "billing_db_connections_open",
				Help: "Number of open primary database connections",
			},
		),
		DBConnectionsInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "billing_db_connections_in_use",
				Help: "Number of primary database connections in use",
			},
		),
		DBConnectionsWaitCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "billing_db_connections_wait_count",
				Help: "Total number of connections waited for",
			},
		),

		RedisConnectionsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "billing_redis_connections_total",
				Help: "Number of Redis connections in the pool",
			},
		),
		RedisConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "billing_redis_connections_idle",
				Help: "Number of idle Redis connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.OperationsTotal,
		m.RenewalsTotal,
		m.WebhooksTotal,
		m.SweepDuration,
		m.BreakerState,
		m.BreakerTransitions,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
		m.DBConnectionsWaitCount,
		m.RedisConnectionsTotal,
		m.RedisConnectionsIdle,
	)

	return m
}

// RecordOperation counts a lifecycle operation outcome
func (m *Metrics) RecordOperation(operation, outcome string) {
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordRenewal counts an auto-renewal outcome
func (m *Metrics) RecordRenewal(outcome string) {
	m.RenewalsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSweep records how long a scheduled sweep took
func (m *Metrics) ObserveSweep(sweep string, d time.Duration) {
	m.SweepDuration.WithLabelValues(sweep).Observe(d.Seconds())
}

// RecordWebhook counts a webhook delivery outcome
func (m *Metrics) RecordWebhook(provider, outcome string) {
	m.WebhooksTotal.WithLabelValues(provider, outcome).Inc()
}

func breakerStateValue(s circuitbreaker.State) float64 {
	switch s {
	case circuitbreaker.StateHalfOpen:
		return 1
	case circuitbreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// BreakerStateChanged is a circuitbreaker.Manager state change hook
func (m *Metrics) BreakerStateChanged(name string, from, to circuitbreaker.State) {
	m.BreakerState.WithLabelValues(name).Set(breakerStateValue(to))
	m.BreakerTransitions.WithLabelValues(name, string(to)).Inc()
}

// ObserveBreakers sets the state gauge from a snapshot
func (m *Metrics) ObserveBreakers(statuses []circuitbreaker.Status) {
	for _, s := range statuses {
		m.BreakerState.WithLabelValues(s.Name).Set(breakerStateValue(s.State))
	}
}

// ObserveDBStats copies connection pool statistics into the database gauges
func (m *Metrics) ObserveDBStats(stats sql.DBStats) {
	m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	m.DBConnectionsInUse.Set(float64(stats.InUse))
	m.DBConnectionsWaitCount.Set(float64(stats.WaitCount))
}

// ObserveRedisPool sets the Redis pool gauges
func (m *Metrics) ObserveRedisPool(total, idle uint32) {
	m.RedisConnectionsTotal.Set(float64(total))
	m.RedisConnectionsIdle.Set(float64(idle))
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel returns the mux route template so path ids do not become labels
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Register it with router.Use so the matched route is known.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
