package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/tenantbilling/pkg/billing"
	"github.com/platinummonkey/tenantbilling/pkg/circuitbreaker"
	"github.com/platinummonkey/tenantbilling/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Billing       BillingConfig
	Providers     ProvidersConfig
	Identity      IdentityConfig
	Breakers      BreakersConfig
	Scheduler     SchedulerConfig
	Archive       ArchiveConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// JWTSecret verifies caller bearer tokens to resolve the acting user.
	// Empty disables verification; tokens are still forwarded.
	JWTSecret string

	// Per-caller API limit, shared across replicas through Redis
	APIRateLimit  int
	APIRatePeriod time.Duration

	// Inbound webhook limit per sender
	WebhookRateLimit  int
	WebhookRatePeriod time.Duration
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL         string
	ReplicaURLs string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// RedisConfig holds Redis configuration for locks and tenant snapshots
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
	TenantTTL  time.Duration
}

// BillingConfig holds the business rules. Zero values fall back to
// billing.DefaultPolicy.
type BillingConfig struct {
	TrialDays            int
	TrialCooldownMonths  int
	TrialMaxUsers        int
	TrialMaxBranches     int
	GraceDays            int
	Currency             string
	MaxPaymentRetries    int
	RetryIntervalsDays   []int
	ExtendThresholdDays  int
	DowngradeWindowDays  int
	SuspensionCancelDays int
	RenewalLookahead     time.Duration
	CreditValidity       time.Duration
	VerificationLockTTL  time.Duration
}

// ProvidersConfig holds payment provider credentials
type ProvidersConfig struct {
	PaystackSecretKey   string
	PaystackBaseURL     string
	FlutterwaveSecret   string
	FlutterwaveHash     string
	FlutterwaveBaseURL  string
	FlutterwaveRedirect string
	Timeout             time.Duration
}

// IdentityConfig holds identity service settings
type IdentityConfig struct {
	BaseURL   string
	Timeout   time.Duration
	CacheSize int
	CacheTTL  time.Duration

	// OAuth2 client credentials, used when TokenURL is set
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	// Self-signed service tokens, used when no TokenURL is set
	SigningKey string
	Issuer     string
}

// BreakersConfig holds per-dependency circuit breaker settings
type BreakersConfig struct {
	IdentityFailureThreshold int
	IdentityTimeout          time.Duration
	PaymentFailureThreshold  int
	PaymentTimeout           time.Duration
}

// SchedulerConfig holds the cron specs of the scheduled sweeps
type SchedulerConfig struct {
	DueRenewalsSpec string
	ExpirySpec      string
	// ArchiveSpec only runs when Archive.Bucket is set
	ArchiveSpec string
	LockTTL         time.Duration
}

// ArchiveConfig holds the S3 bucket audit log archives are written to.
// Archiving is disabled when Bucket is empty.
type ArchiveConfig struct {
	Bucket       string
	Region       string
	Endpoint     string // MinIO or other S3-compatible endpoint
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
	Prefix       string
	Format       string
}

// Enabled reports whether audit archiving is configured
func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Billing:       loadBillingConfig(),
		Providers:     loadProvidersConfig(),
		Identity:      loadIdentityConfig(),
		Breakers:      loadBreakersConfig(),
		Scheduler:     loadSchedulerConfig(),
		Archive:       loadArchiveConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:              getEnv("BILLING_HOST", "0.0.0.0"),
		Port:              getEnv("BILLING_PORT", "8080"),
		ReadTimeout:       getEnvDuration("BILLING_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      getEnvDuration("BILLING_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:       getEnvDuration("BILLING_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getEnvDuration("BILLING_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:        getEnv("BILLING_HEALTH_PORT", "9090"),
		JWTSecret:         getEnv("BILLING_JWT_SECRET", ""),
		APIRateLimit:      getEnvInt("BILLING_API_RATE_LIMIT", 600),
		APIRatePeriod:     getEnvDuration("BILLING_API_RATE_PERIOD", time.Minute),
		WebhookRateLimit:  getEnvInt("BILLING_WEBHOOK_RATE_LIMIT", 120),
		WebhookRatePeriod: getEnvDuration("BILLING_WEBHOOK_RATE_PERIOD", time.Minute),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:         getEnv("BILLING_POSTGRES_URL", ""),
		ReplicaURLs: getEnv("BILLING_POSTGRES_REPLICA_URLS", ""),
		MaxConns:    getEnvInt("BILLING_POSTGRES_MAX_CONNS", 20),
		MinConns:    getEnvInt("BILLING_POSTGRES_MIN_CONNS", 5),
		Timeout:     getEnvDuration("BILLING_POSTGRES_TIMEOUT", 5*time.Second),
		MaxLifetime: getEnvDuration("BILLING_POSTGRES_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("BILLING_POSTGRES_MAX_IDLE_TIME", 5*time.Minute),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("BILLING_REDIS_URL", ""),
		Password:   getEnv("BILLING_REDIS_PASSWORD", ""),
		DB:         getEnvInt("BILLING_REDIS_DB", 0),
		MaxRetries: getEnvInt("BILLING_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("BILLING_REDIS_POOL_SIZE", 10),
		TenantTTL:  getEnvDuration("BILLING_REDIS_TENANT_TTL", 24*time.Hour),
	}
}

func loadBillingConfig() BillingConfig {
	d := billing.DefaultPolicy()
	return BillingConfig{
		TrialDays:            getEnvInt("BILLING_TRIAL_DAYS", d.TrialDays),
		TrialCooldownMonths:  getEnvInt("BILLING_TRIAL_COOLDOWN_MONTHS", d.TrialCooldownMonths),
		TrialMaxUsers:        getEnvInt("BILLING_TRIAL_MAX_USERS", d.TrialMaxUsers),
		TrialMaxBranches:     getEnvInt("BILLING_TRIAL_MAX_BRANCHES", d.TrialMaxBranches),
		GraceDays:            getEnvInt("BILLING_GRACE_DAYS", d.GraceDays),
		Currency:             strings.ToUpper(getEnv("BILLING_CURRENCY", d.Currency)),
		MaxPaymentRetries:    getEnvInt("BILLING_MAX_PAYMENT_RETRIES", d.MaxPaymentRetries),
		RetryIntervalsDays:   getEnvIntList("BILLING_RETRY_INTERVALS_DAYS", d.RetryIntervalsDays),
		ExtendThresholdDays:  getEnvInt("BILLING_EXTEND_THRESHOLD_DAYS", d.ExtendThresholdDays),
		DowngradeWindowDays:  getEnvInt("BILLING_DOWNGRADE_WINDOW_DAYS", d.DowngradeWindowDays),
		SuspensionCancelDays: getEnvInt("BILLING_SUSPENSION_CANCEL_DAYS", d.SuspensionCancelDays),
		RenewalLookahead:     getEnvDuration("BILLING_RENEWAL_LOOKAHEAD", d.RenewalLookahead),
		CreditValidity:       getEnvDuration("BILLING_CREDIT_VALIDITY", d.CreditValidity),
		VerificationLockTTL:  getEnvDuration("BILLING_VERIFICATION_LOCK_TTL", d.VerificationLockTTL),
	}
}

func loadProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		PaystackSecretKey:   getEnv("BILLING_PAYSTACK_SECRET_KEY", ""),
		PaystackBaseURL:     getEnv("BILLING_PAYSTACK_BASE_URL", ""),
		FlutterwaveSecret:   getEnv("BILLING_FLUTTERWAVE_SECRET_KEY", ""),
		FlutterwaveHash:     getEnv("BILLING_FLUTTERWAVE_SECRET_HASH", ""),
		FlutterwaveBaseURL:  getEnv("BILLING_FLUTTERWAVE_BASE_URL", ""),
		FlutterwaveRedirect: getEnv("BILLING_FLUTTERWAVE_REDIRECT_URL", ""),
		Timeout:             getEnvDuration("BILLING_PROVIDER_TIMEOUT", 15*time.Second),
	}
}

func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		BaseURL:      getEnv("BILLING_IDENTITY_URL", ""),
		Timeout:      getEnvDuration("BILLING_IDENTITY_TIMEOUT", 5*time.Second),
		CacheSize:    getEnvInt("BILLING_IDENTITY_CACHE_SIZE", 1024),
		CacheTTL:     getEnvDuration("BILLING_IDENTITY_CACHE_TTL", time.Hour),
		TokenURL:     getEnv("BILLING_IDENTITY_TOKEN_URL", ""),
		ClientID:     getEnv("BILLING_IDENTITY_CLIENT_ID", ""),
		ClientSecret: getEnv("BILLING_IDENTITY_CLIENT_SECRET", ""),
		Scopes:       getEnvList("BILLING_IDENTITY_SCOPES"),
		SigningKey:   getEnv("BILLING_SERVICE_SIGNING_KEY", ""),
		Issuer:       getEnv("BILLING_SERVICE_ISSUER", "billing-service"),
	}
}

func loadBreakersConfig() BreakersConfig {
	defaults := circuitbreaker.DefaultConfigs()
	identity, payment := defaults[circuitbreaker.Identity], defaults[circuitbreaker.Payment]
	return BreakersConfig{
		IdentityFailureThreshold: getEnvInt("BILLING_IDENTITY_BREAKER_THRESHOLD", identity.FailureThreshold),
		IdentityTimeout:          getEnvDuration("BILLING_IDENTITY_BREAKER_TIMEOUT", identity.Timeout),
		PaymentFailureThreshold:  getEnvInt("BILLING_PAYMENT_BREAKER_THRESHOLD", payment.FailureThreshold),
		PaymentTimeout:           getEnvDuration("BILLING_PAYMENT_BREAKER_TIMEOUT", payment.Timeout),
	}
}

func loadSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		DueRenewalsSpec: getEnv("BILLING_SCHEDULE_DUE_RENEWALS", "@hourly"),
		ExpirySpec:      getEnv("BILLING_SCHEDULE_EXPIRY", "0 2 * * *"),
		ArchiveSpec:     getEnv("BILLING_SCHEDULE_AUDIT_ARCHIVE", "30 3 * * *"),
		LockTTL:         getEnvDuration("BILLING_SCHEDULER_LOCK_TTL", 30*time.Minute),
	}
}

func loadArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		Bucket:       getEnv("BILLING_ARCHIVE_S3_BUCKET", ""),
		Region:       getEnv("BILLING_ARCHIVE_S3_REGION", "us-east-1"),
		Endpoint:     getEnv("BILLING_ARCHIVE_S3_ENDPOINT", ""),
		AccessKey:    getEnv("BILLING_ARCHIVE_S3_ACCESS_KEY", ""),
		SecretKey:    getEnv("BILLING_ARCHIVE_S3_SECRET_KEY", ""),
		UsePathStyle: getEnvBool("BILLING_ARCHIVE_S3_USE_PATH_STYLE", false),
		Prefix:       getEnv("BILLING_ARCHIVE_PREFIX", "audit"),
		Format:       getEnv("BILLING_ARCHIVE_FORMAT", "ndjson"),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("BILLING_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("BILLING_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("BILLING_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("BILLING_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("BILLING_OTEL_SERVICE_NAME", "tenant-billing"),
		OTelServiceVersion: getEnv("BILLING_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("BILLING_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("postgres min conns (%d) exceeds max conns (%d)", c.Database.MinConns, c.Database.MaxConns)
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required for verification locks")
	}

	b := c.Billing
	if b.TrialDays <= 0 {
		return fmt.Errorf("trial days must be positive")
	}
	if b.GraceDays < 0 {
		return fmt.Errorf("grace days must not be negative")
	}
	if b.MaxPaymentRetries <= 0 {
		return fmt.Errorf("max payment retries must be positive")
	}
	if len(b.RetryIntervalsDays) == 0 {
		return fmt.Errorf("at least one payment retry interval is required")
	}
	for _, d := range b.RetryIntervalsDays {
		if d < 0 {
			return fmt.Errorf("payment retry intervals must not be negative")
		}
	}
	if len(b.Currency) != 3 {
		return fmt.Errorf("invalid currency code: %q", b.Currency)
	}

	if c.Providers.PaystackSecretKey == "" && c.Providers.FlutterwaveSecret == "" {
		return fmt.Errorf("at least one payment provider must be configured")
	}
	if c.Providers.FlutterwaveSecret != "" && c.Providers.FlutterwaveHash == "" {
		return fmt.Errorf("flutterwave secret hash is required to verify webhooks")
	}

	if c.Identity.BaseURL == "" {
		return fmt.Errorf("identity service URL is required")
	}
	if c.Identity.TokenURL != "" && c.Identity.ClientID == "" {
		return fmt.Errorf("identity client id is required with a token URL")
	}

	if c.Breakers.IdentityFailureThreshold <= 0 || c.Breakers.PaymentFailureThreshold <= 0 {
		return fmt.Errorf("circuit breaker failure thresholds must be positive")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, spec := range map[string]string{
		"due renewals":  c.Scheduler.DueRenewalsSpec,
		"expiry":        c.Scheduler.ExpirySpec,
		"audit archive": c.Scheduler.ArchiveSpec,
	} {
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
		}
	}

	if c.Archive.Enabled() {
		switch c.Archive.Format {
		case "json", "csv", "ndjson":
		default:
			return fmt.Errorf("invalid audit archive format %q", c.Archive.Format)
		}
		if (c.Archive.AccessKey == "") != (c.Archive.SecretKey == "") {
			return fmt.Errorf("archive access key and secret key must be set together")
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// BillingPolicy builds the policy injected into the billing services
func (c *Config) BillingPolicy() billing.Policy {
	p := billing.DefaultPolicy()
	b := c.Billing
	p.TrialDays = b.TrialDays
	p.TrialCooldownMonths = b.TrialCooldownMonths
	p.TrialMaxUsers = b.TrialMaxUsers
	p.TrialMaxBranches = b.TrialMaxBranches
	p.GraceDays = b.GraceDays
	p.Currency = b.Currency
	p.MaxPaymentRetries = b.MaxPaymentRetries
	p.RetryIntervalsDays = append([]int(nil), b.RetryIntervalsDays...)
	p.ExtendThresholdDays = b.ExtendThresholdDays
	p.DowngradeWindowDays = b.DowngradeWindowDays
	p.SuspensionCancelDays = b.SuspensionCancelDays
	p.RenewalLookahead = b.RenewalLookahead
	p.CreditValidity = b.CreditValidity
	p.VerificationLockTTL = b.VerificationLockTTL
	return p
}

// BreakerConfigs returns the circuit breaker settings keyed by breaker name
func (c *Config) BreakerConfigs() map[string]circuitbreaker.Config {
	return map[string]circuitbreaker.Config{
		circuitbreaker.Identity: {
			FailureThreshold: c.Breakers.IdentityFailureThreshold,
			Timeout:          c.Breakers.IdentityTimeout,
		},
		circuitbreaker.Payment: {
			FailureThreshold: c.Breakers.PaymentFailureThreshold,
			Timeout:          c.Breakers.PaymentTimeout,
		},
	}
}

// parseLogLevel parses a log level string, defaulting to INFO
func parseLogLevel(level string) observability.LogLevel {
	parsed, _ := observability.ParseLevel(level)
	return parsed
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated environment variable
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// getEnvIntList parses a comma-separated list of integers, returning the
// default if any entry is malformed
func getEnvIntList(key string, defaultValue []int) []int {
	parts := getEnvList(key)
	if len(parts) == 0 {
		return defaultValue
	}
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return defaultValue
		}
		out = append(out, n)
	}
	return out
}
