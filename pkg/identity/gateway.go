package identity

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/tenantbilling/pkg/billing"
	"github.com/platinummonkey/tenantbilling/pkg/circuitbreaker"
	"github.com/platinummonkey/tenantbilling/pkg/observability"
)

// TenantAPI is the subset of Client used by Gateway
type TenantAPI interface {
	GetTenant(ctx context.Context, tenantID uuid.UUID) (*billing.Tenant, error)
	GetUsers(ctx context.Context, tenantID uuid.UUID) ([]json.RawMessage, error)
	GetBranches(ctx context.Context, tenantID uuid.UUID) ([]json.RawMessage, error)
}

// SnapshotCache is the shared (L2) tenant snapshot cache. A miss returns nil, nil.
type SnapshotCache interface {
	GetTenant(ctx context.Context, tenantID uuid.UUID) (*billing.Tenant, error)
	SetTenant(ctx context.Context, tenant *billing.Tenant) error
}

// GatewayConfig sizes the in-process snapshot cache
type GatewayConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// Gateway implements billing.TenantDirectory
type Gateway struct {
	api     TenantAPI
	breaker *circuitbreaker.Breaker
	local   *expirable.LRU[uuid.UUID, billing.Tenant]
	shared  SnapshotCache
	group   singleflight.Group
	logger  *observability.Logger
}

var _ billing.TenantDirectory = (*Gateway)(nil)

// NewGateway creates a gateway. shared may be nil.
func NewGateway(api TenantAPI, breaker *circuitbreaker.Breaker, shared SnapshotCache, cfg GatewayConfig, logger *observability.Logger) *Gateway {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if breaker == nil {
		breaker = circuitbreaker.New(circuitbreaker.Identity, circuitbreaker.DefaultConfigs()[circuitbreaker.Identity])
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Gateway{
		api:     api,
		breaker: breaker,
		local:   expirable.NewLRU[uuid.UUID, billing.Tenant](cfg.CacheSize, nil, cfg.CacheTTL),
		shared:  shared,
		logger:  logger,
	}
}

// Tenant returns the tenant from the identity service, or the last cached
// snapshot when the service is unavailable. Concurrent lookups of the same
// tenant share one call. The shared call keeps the first caller's context
// values, bearer token included, but not its cancellation; the client timeout
// bounds it instead.
func (g *Gateway) Tenant(ctx context.Context, tenantID uuid.UUID) (*billing.Tenant, error) {
	shared := context.WithoutCancel(ctx)
	v, _, _ := g.group.Do(tenantID.String(), func() (interface{}, error) {
		return g.fetchTenant(shared, tenantID), nil
	})
	tenant, _ := v.(*billing.Tenant)
	return tenant, nil
}

func (g *Gateway) fetchTenant(ctx context.Context, tenantID uuid.UUID) *billing.Tenant {
	var (
		tenant  *billing.Tenant
		missing bool
	)
	err := g.breaker.Execute(func() error {
		t, err := g.api.GetTenant(ctx, tenantID)
		if IsNotFound(err) {
			missing = true
			return nil
		}
		tenant = t
		return err
	})

	switch {
	case err == circuitbreaker.ErrOpen:
		g.logger.WithField("tenant_id", tenantID.String()).Debug("Identity breaker open, using cached tenant")
		return g.cachedTenant(ctx, tenantID)
	case err != nil:
		g.logger.WithError(err).WithField("tenant_id", tenantID.String()).
			Warn("Identity service call failed, using cached tenant")
		return g.cachedTenant(ctx, tenantID)
	case missing:
		return nil
	}

	g.storeTenant(ctx, tenant)
	return tenant
}

func (g *Gateway) cachedTenant(ctx context.Context, tenantID uuid.UUID) *billing.Tenant {
	if t, ok := g.local.Get(tenantID); ok {
		return &t
	}
	if g.shared == nil {
		return nil
	}
	t, err := g.shared.GetTenant(ctx, tenantID)
	if err != nil {
		g.logger.WithError(err).WithField("tenant_id", tenantID.String()).Warn("Tenant snapshot cache read failed")
		return nil
	}
	if t != nil {
		g.local.Add(tenantID, *t)
	}
	return t
}

func (g *Gateway) storeTenant(ctx context.Context, tenant *billing.Tenant) {
	if tenant == nil {
		return
	}
	g.local.Add(tenant.ID, *tenant)
	if g.shared == nil {
		return
	}
	if err := g.shared.SetTenant(ctx, tenant); err != nil {
		g.logger.WithError(err).WithField("tenant_id", tenant.ID.String()).Warn("Tenant snapshot cache write failed")
	}
}

// Usage counts the tenant's users and branches. ErrUsageUnavailable is
// returned when the breaker is open or either call fails.
func (g *Gateway) Usage(ctx context.Context, tenantID uuid.UUID) (*billing.Usage, error) {
	var usage billing.Usage
	err := g.breaker.Execute(func() error {
		eg, egCtx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			users, err := g.api.GetUsers(egCtx, tenantID)
			usage.Users = len(users)
			return err
		})
		eg.Go(func() error {
			branches, err := g.api.GetBranches(egCtx, tenantID)
			usage.Branches = len(branches)
			return err
		})
		return eg.Wait()
	})
	if err != nil {
		if err != circuitbreaker.ErrOpen {
			g.logger.WithError(err).WithField("tenant_id", tenantID.String()).Warn("Usage lookup failed")
		}
		return nil, billing.ErrUsageUnavailable
	}
	return &usage, nil
}

// Breaker returns the breaker gating identity calls
func (g *Gateway) Breaker() *circuitbreaker.Breaker {
	return g.breaker
}
