// Package config loads the billing service configuration from BILLING_*
// environment variables.
//
// # Configuration Structure
//
// Server settings:
//
//	BILLING_HOST="0.0.0.0"
//	BILLING_PORT="8080"
//	BILLING_HEALTH_PORT="9090"
//	BILLING_JWT_SECRET="..."            # verifies caller tokens for the audit actor
//	BILLING_API_RATE_LIMIT="600"        # requests per caller per period
//	BILLING_WEBHOOK_RATE_LIMIT="120"    # deliveries per sender per period
//
// Storage settings:
//
//	BILLING_POSTGRES_URL="postgres://localhost/billing"
//	BILLING_POSTGRES_REPLICA_URLS="postgres://replica-1/billing,postgres://replica-2/billing"
//	BILLING_REDIS_URL="redis://localhost:6379/0"
//
// Billing rules (defaults from billing.DefaultPolicy):
//
//	BILLING_TRIAL_DAYS="7"
//	BILLING_GRACE_DAYS="7"
//	BILLING_CURRENCY="NGN"
//	BILLING_MAX_PAYMENT_RETRIES="3"
//	BILLING_RETRY_INTERVALS_DAYS="1,3,7"
//	BILLING_VERIFICATION_LOCK_TTL="30s"
//
// Payment providers:
//
//	BILLING_PAYSTACK_SECRET_KEY="sk_live_..."
//	BILLING_FLUTTERWAVE_SECRET_KEY="FLWSECK-..."
//	BILLING_FLUTTERWAVE_SECRET_HASH="..."   # compared with the verif-hash header
//
// Identity service:
//
//	BILLING_IDENTITY_URL="http://identity.internal/api"
//	BILLING_IDENTITY_TOKEN_URL="https://auth.internal/oauth/token"   # client credentials
//	BILLING_SERVICE_SIGNING_KEY="..."                                # or self-signed tokens
//
// Scheduler:
//
//	BILLING_SCHEDULE_DUE_RENEWALS="@hourly"
//	BILLING_SCHEDULE_EXPIRY="0 2 * * *"
//	BILLING_SCHEDULE_AUDIT_ARCHIVE="30 3 * * *"
//
// Audit archive (disabled unless a bucket is set):
//
//	BILLING_ARCHIVE_S3_BUCKET="billing-audit"
//	BILLING_ARCHIVE_S3_ENDPOINT="http://minio:9000"
//	BILLING_ARCHIVE_S3_USE_PATH_STYLE="true"
//	BILLING_ARCHIVE_FORMAT="ndjson"   # json, csv, ndjson
//
// Observability settings:
//
//	BILLING_LOG_LEVEL="info"  # debug, info, warn, error
//	BILLING_METRICS_ENABLED="true"
//	BILLING_OTEL_ENABLED="true"
//	BILLING_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	subscriptions := billing.NewSubscriptionService(billing.Deps{
//		Store:  store,
//		Policy: cfg.BillingPolicy(),
//		Logger: logger,
//	})
package config
