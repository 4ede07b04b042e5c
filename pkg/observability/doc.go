// Package observability provides structured logging, Prometheus metrics,
// health checks, OpenTelemetry setup and graceful shutdown for the billing
// service and its scheduler.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("subscription_id", id).Info("Subscription renewed")
//
// Request handlers log through FromContext, which adds the request id,
// acting user, client IP and trace ids carried by the context:
//
//	observability.FromContext(r.Context()).Warn("Payment verification failed")
//
// # Prometheus Metrics
//
// Metrics satisfies billing.Metrics and webhooks.Metrics, and
// BreakerStateChanged plugs into circuitbreaker.WithStateChangeHook:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	breakers := circuitbreaker.NewManager(cfg.BreakerConfigs(),
//		circuitbreaker.WithStateChangeHook(metrics.BreakerStateChanged))
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//
// # Health Checks
//
// Readiness is unhealthy when Postgres fails and degraded when Redis is
// unreachable or a circuit breaker is not closed:
//
//	checker := observability.NewHealthChecker(db, redisClient, observability.WithBreakers(breakers))
//	observability.RegisterHealthRoutes(healthMux, checker)
//
// # Shutdown
//
//	sm := observability.NewShutdownManager(logger, 30*time.Second, apiServer, healthServer)
//	sm.Register("postgres", func(context.Context) error { return conn.Close() })
//	sm.Register("otel", providers.Shutdown)
//	err := sm.WaitForShutdown(ctx)
package observability
