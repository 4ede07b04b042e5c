package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tenantbilling/pkg/api"
	"github.com/platinummonkey/tenantbilling/pkg/async"
	"github.com/platinummonkey/tenantbilling/pkg/app"
	"github.com/platinummonkey/tenantbilling/pkg/config"
	"github.com/platinummonkey/tenantbilling/pkg/httputil"
	"github.com/platinummonkey/tenantbilling/pkg/middleware"
	"github.com/platinummonkey/tenantbilling/pkg/observability"
	"github.com/platinummonkey/tenantbilling/pkg/webhooks"
)

const maxRequestBody = 1 << 20

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.InfoLevel, os.Stderr).WithError(err).Error("Invalid configuration")
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Billing server stopped with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otel, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	a.DB.StartHealthCheckRoutine(ctx, 30*time.Second)
	async.Every(ctx, logger, 15*time.Second, "pool metrics", func(context.Context) error {
		a.ObservePools()
		return nil
	})

	webhookStore := webhooks.NewDBStore(a.DB.Primary())
	if err := webhookStore.EnsureSchema(ctx); err != nil {
		a.Close()
		return err
	}
	webhookHandler := webhooks.NewHandler(a.Payments.WebhookSources(), webhookStore, logger,
		webhooks.WithRateLimiter(webhooks.NewRateLimiter(cfg.Server.WebhookRateLimit, cfg.Server.WebhookRatePeriod)),
		webhooks.WithMetrics(a.Metrics),
	)

	server := api.NewServer(api.Services{
		Subscriptions: a.Subscriptions,
		Renewals:      a.Renewals,
		Payments:      a.Verifier,
		Breakers:      a.Breakers,
		Audit:         a.Audit,
		Webhooks:      webhookHandler,
	})

	auth := middleware.NewAuthMiddleware(cfg.Server.JWTSecret, false)
	limiter := middleware.NewRateLimiter(a.Redis.Client(), middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Server.APIRateLimit,
		WindowDuration:    cfg.Server.APIRatePeriod,
	}, "ratelimit:api")

	router := mux.NewRouter()
	if cfg.Observability.MetricsEnabled {
		router.Use(observability.HTTPMetricsMiddleware(a.Metrics))
	}
	server.RegisterRoutes(router, auth.Handler, middleware.RateLimit(limiter))

	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggerMiddleware(logger),
		middleware.ClientIP,
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
		httputil.MaxBytesMiddleware(maxRequestBody),
	)(router)

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(handler, "billing-api"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(a.DB.Primary(), a.Redis.Client(),
		observability.WithBreakers(a.Breakers),
		observability.WithVersion(cfg.Observability.OTelServiceVersion),
	))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, a.Registry)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.Register("database", func(context.Context) error { return a.Close() })
	shutdown.Register("opentelemetry", otel.Shutdown)

	errCh := make(chan error, 2)
	for _, srv := range []*http.Server{apiServer, healthServer} {
		go func(srv *http.Server) {
			logger.WithField("addr", srv.Addr).Info("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}(srv)
	}

	go func() {
		if err := <-errCh; err != nil {
			logger.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	return shutdown.WaitForShutdown(ctx)
}
