package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/tenantbilling/pkg/circuitbreaker"
)

// BreakerSnapshotter reports the current circuit breaker states
type BreakerSnapshotter interface {
	Snapshot() []circuitbreaker.Status
}

// HealthChecker provides health check functionality
type HealthChecker struct {
	db       *sql.DB
	redis    *redis.Client
	breakers BreakerSnapshotter
	version  string
	now      func() time.Time
}

// HealthOption configures a HealthChecker
type HealthOption func(*HealthChecker)

// WithBreakers reports open circuit breakers as degraded dependencies
func WithBreakers(b BreakerSnapshotter) HealthOption {
	return func(h *HealthChecker) { h.breakers = b }
}

// WithVersion sets the version reported by readiness checks
func WithVersion(v string) HealthOption {
	return func(h *HealthChecker) { h.version = v }
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(db *sql.DB, redis *redis.Client, opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{
		db:    db,
		redis: redis,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Liveness returns a simple liveness probe (always returns 200 if server is running)
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": h.now(),
	})
}

// Readiness returns a readiness probe (checks all dependencies)
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")

	// 503 only when unhealthy; degraded still serves traffic
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(status)
}

// Check performs a comprehensive health check
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    h.now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus),
	}

	if h.db != nil {
		dbStatus := h.checkDatabase(ctx)
		status.Dependencies["database"] = dbStatus
		status.Status = worst(status.Status, dbStatus.Status)
	}

	// Redis backs the tenant cache and verification locks; losing it degrades
	if h.redis != nil {
		redisStatus := h.checkRedis(ctx)
		status.Dependencies["redis"] = redisStatus
		if redisStatus.Status != StatusHealthy {
			status.Status = worst(status.Status, StatusDegraded)
		}
	}

	if h.breakers != nil {
		for _, b := range h.breakers.Snapshot() {
			dep := DependencyStatus{Status: StatusHealthy, Timestamp: h.now()}
			if b.State != circuitbreaker.StateClosed {
				dep.Status = StatusDegraded
				dep.Message = "circuit " + string(b.State)
				status.Status = worst(status.Status, StatusDegraded)
			}
			status.Dependencies["breaker:"+b.Name] = dep
		}
	}

	return status
}

func severity(s string) int {
	switch s {
	case StatusUnhealthy:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

func worst(a, b string) string {
	if severity(b) > severity(a) {
		return b
	}
	return a
}

// checkDatabase checks PostgreSQL health
func (h *HealthChecker) checkDatabase(ctx context.Context) DependencyStatus {
	start := time.Now()
	status := DependencyStatus{
		Status:    StatusHealthy,
		Timestamp: h.now(),
	}

	var one int
	err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	status.Latency = time.Since(start)
	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = "query failed: " + err.Error()
		return status
	}

	stats := h.db.Stats()
	if stats.MaxOpenConnections > 0 && stats.InUse >= stats.MaxOpenConnections {
		status.Status = StatusDegraded
		status.Message = "connection pool exhausted"
	}

	return status
}

// checkRedis checks Redis health
func (h *HealthChecker) checkRedis(ctx context.Context) DependencyStatus {
	start := time.Now()
	status := DependencyStatus{
		Status:    StatusHealthy,
		Timestamp: h.now(),
	}

	err := h.redis.Ping(ctx).Err()
	status.Latency = time.Since(start)
	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	}

	return status
}

// RegisterHealthRoutes registers health check endpoints
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
