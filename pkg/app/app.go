package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/tenantbilling/pkg/audit"
	"github.com/platinummonkey/tenantbilling/pkg/billing"
	"github.com/platinummonkey/tenantbilling/pkg/circuitbreaker"
	"github.com/platinummonkey/tenantbilling/pkg/config"
	"github.com/platinummonkey/tenantbilling/pkg/identity"
	"github.com/platinummonkey/tenantbilling/pkg/observability"
	"github.com/platinummonkey/tenantbilling/pkg/payment"
	"github.com/platinummonkey/tenantbilling/pkg/storage/postgres"
)

// App holds the connections and services shared by the billing commands
type App struct {
	Config   *config.Config
	Logger   *observability.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	DB    *postgres.ConnectionManager
	Redis *postgres.RedisClient

	Breakers *circuitbreaker.Manager
	Payments *payment.Registry
	Tenants  *identity.Gateway

	Store *billing.PostgresStore
	Audit *audit.DBStore
	// Archiver is nil unless an archive bucket is configured
	Archiver *audit.Archiver

	Subscriptions *billing.SubscriptionService
	Renewals      *billing.AutoRenewalService
	Verifier      *billing.PaymentVerifier
}

// New connects to PostgreSQL and Redis, ensures the billing schema exists and
// builds the billing services. Close releases the connections.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*App, error) {
	if logger == nil {
		logger = observability.NewLogger(cfg.Observability.LogLevel, nil)
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = observability.NewMetrics(a.Registry)

	db, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: postgres.ParseReplicaURLs(cfg.Database.ReplicaURLs),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.DB = db

	redisClient, err := postgres.NewRedisClient(postgres.RedisConfig{
		URL:        cfg.Redis.URL,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		MaxRetries: cfg.Redis.MaxRetries,
		PoolSize:   cfg.Redis.PoolSize,
		TenantTTL:  cfg.Redis.TenantTTL,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Redis = redisClient

	a.Breakers = circuitbreaker.NewManager(cfg.BreakerConfigs(),
		circuitbreaker.WithStateChangeHook(func(name string, from, to circuitbreaker.State) {
			a.Metrics.BreakerStateChanged(name, from, to)
			logger.WithFields(map[string]interface{}{
				"breaker": name,
				"from":    string(from),
				"to":      string(to),
			}).Warn("Circuit breaker state changed")
		}),
	)

	a.Payments = newPaymentRegistry(cfg.Providers, a.Breakers.Get(circuitbreaker.Payment))

	tokens := identity.NewTokenSource(ctx, identity.TokenConfig{
		TokenURL:     cfg.Identity.TokenURL,
		ClientID:     cfg.Identity.ClientID,
		ClientSecret: cfg.Identity.ClientSecret,
		Scopes:       cfg.Identity.Scopes,
		SigningKey:   cfg.Identity.SigningKey,
		Issuer:       cfg.Identity.Issuer,
		Subject:      cfg.Observability.OTelServiceName,
	})
	client := identity.NewClient(identity.Config{
		BaseURL: cfg.Identity.BaseURL,
		Timeout: cfg.Identity.Timeout,
	}, tokens)
	a.Tenants = identity.NewGateway(client, a.Breakers.Get(circuitbreaker.Identity), redisClient,
		identity.GatewayConfig{CacheSize: cfg.Identity.CacheSize, CacheTTL: cfg.Identity.CacheTTL}, logger)

	a.Store = billing.NewPostgresStore(db.Primary(), logger)
	if err := a.Store.EnsureSchema(ctx); err != nil {
		a.Close()
		return nil, err
	}

	auditStore, err := audit.NewDBStore(db.Replica())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create audit store: %w", err)
	}
	a.Audit = auditStore

	if cfg.Archive.Enabled() {
		objects, err := postgres.NewS3Client(ctx, postgres.S3Config{
			Bucket:       cfg.Archive.Bucket,
			Region:       cfg.Archive.Region,
			Endpoint:     cfg.Archive.Endpoint,
			AccessKey:    cfg.Archive.AccessKey,
			SecretKey:    cfg.Archive.SecretKey,
			UsePathStyle: cfg.Archive.UsePathStyle,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create audit archive store: %w", err)
		}
		a.Archiver = audit.NewArchiver(auditStore, objects, cfg.Archive.Prefix, audit.ExportFormat(cfg.Archive.Format))
	}

	deps := billing.Deps{
		Store:     a.Store,
		Tenants:   a.Tenants,
		Providers: a.Payments,
		Locker:    redisClient,
		Policy:    cfg.BillingPolicy(),
		Logger:    logger,
		Metrics:   a.Metrics,
	}
	a.Subscriptions = billing.NewSubscriptionService(deps)
	a.Renewals = billing.NewAutoRenewalService(deps)
	a.Verifier = billing.NewPaymentVerifier(deps)

	return a, nil
}

// newPaymentRegistry registers every configured provider behind the shared
// payment breaker
func newPaymentRegistry(cfg config.ProvidersConfig, breaker *circuitbreaker.Breaker) *payment.Registry {
	registry := payment.NewRegistry()
	if cfg.PaystackSecretKey != "" {
		registry.Register(payment.WithBreaker(payment.NewPaystack(payment.PaystackConfig{
			BaseURL:   cfg.PaystackBaseURL,
			SecretKey: cfg.PaystackSecretKey,
			Timeout:   cfg.Timeout,
		}), breaker))
	}
	if cfg.FlutterwaveSecret != "" {
		registry.Register(payment.WithBreaker(payment.NewFlutterwave(payment.FlutterwaveConfig{
			BaseURL:       cfg.FlutterwaveBaseURL,
			SecretKey:     cfg.FlutterwaveSecret,
			WebhookSecret: cfg.FlutterwaveHash,
			RedirectURL:   cfg.FlutterwaveRedirect,
			Timeout:       cfg.Timeout,
		}), breaker))
	}
	return registry
}

// ObservePools publishes connection pool gauges
func (a *App) ObservePools() {
	if a.DB != nil {
		a.Metrics.ObserveDBStats(a.DB.Stats().Primary)
	}
	if a.Redis != nil {
		stats := a.Redis.GetPoolStats()
		a.Metrics.ObserveRedisPool(stats.TotalConns, stats.IdleConns)
	}
	a.Metrics.ObserveBreakers(a.Breakers.Snapshot())
}

// Close releases the database and Redis connections
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	return errors.Join(errs...)
}
