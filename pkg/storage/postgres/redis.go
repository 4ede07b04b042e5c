package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/platinummonkey/tenantbilling/pkg/billing"
)

// ErrLockNotHeld is returned by Unlock when the token no longer owns the lock
var ErrLockNotHeld = errors.New("lock not held")

// unlockScript deletes the key only if it still holds the caller's token
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisConfig configures the Redis client
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
	// TenantTTL bounds how long tenant snapshots are served from cache
	TenantTTL time.Duration
}

// RedisClient provides distributed locks and the shared tenant snapshot cache
type RedisClient struct {
	client    *redis.Client
	tenantTTL time.Duration
}

var _ billing.Locker = (*RedisClient)(nil)

// NewRedisClient creates a new Redis client and checks connectivity
func NewRedisClient(config RedisConfig) (*RedisClient, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.Password != "" {
		opts.Password = config.Password
	}
	if config.DB > 0 {
		opts.DB = config.DB
	}
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := config.TenantTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisClient{client: client, tenantTTL: ttl}, nil
}

// TryLock acquires key for ttl. The returned token must be passed to Unlock.
func (c *RedisClient) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock releases key if it is still held with token
func (c *RedisClient) Unlock(ctx context.Context, key, token string) error {
	deleted, err := unlockScript.Run(ctx, c.client, []string{key}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", key, err)
	}
	if deleted == 0 {
		return ErrLockNotHeld
	}
	return nil
}

func tenantKey(tenantID uuid.UUID) string {
	return "tenant_data:" + tenantID.String()
}

// GetTenant returns the cached tenant snapshot, or nil on a miss
func (c *RedisClient) GetTenant(ctx context.Context, tenantID uuid.UUID) (*billing.Tenant, error) {
	key := tenantKey(tenantID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var tenant billing.Tenant
	if err := json.Unmarshal(data, &tenant); err != nil {
		c.client.Del(ctx, key)
		return nil, fmt.Errorf("failed to unmarshal tenant snapshot: %w", err)
	}
	return &tenant, nil
}

// SetTenant stores a tenant snapshot
func (c *RedisClient) SetTenant(ctx context.Context, tenant *billing.Tenant) error {
	data, err := json.Marshal(tenant)
	if err != nil {
		return fmt.Errorf("failed to marshal tenant snapshot: %w", err)
	}
	return c.client.Set(ctx, tenantKey(tenant.ID), data, c.tenantTTL).Err()
}

// Ping checks Redis connectivity
func (c *RedisClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisClient) Close() error {
	return c.client.Close()
}

// GetPoolStats returns connection pool statistics
func (c *RedisClient) GetPoolStats() *redis.PoolStats {
	return c.client.PoolStats()
}

// Client returns the underlying client for rate limiting and health checks
func (c *RedisClient) Client() *redis.Client {
	return c.client
}
