package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig captures the connection parameters for the Redis backed store.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      bool
	Timeout  time.Duration
}

const defaultRedisTimeout = 5 * time.Second
const redisKeyPrefix = "pbxnotify:"

// RedisClient implements Store on top of go-redis. Keys are namespaced with
// redisKeyPrefix so the instance can be shared with other PBX services.
type RedisClient struct {
	client redis.UniversalClient
}

// NewRedisClient creates a new Redis client. It pings eagerly so that
// misconfiguration is surfaced during application startup.
func NewRedisClient(cfg RedisConfig) (*RedisClient, error) {
	cfg.Address = strings.TrimSpace(cfg.Address)
	if cfg.Address == "" {
		return nil, errors.New("redis: address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRedisTimeout
	}

	opts := &redis.Options{
		Addr:         cfg.Address,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	}
	if cfg.TLS {
		host := cfg.Address
		if idx := strings.LastIndex(host, ":"); idx > 0 {
			host = host[:idx]
		}
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
	}

	client := &RedisClient{client: redis.NewClient(opts)}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Close releases the connection pool.
func (c *RedisClient) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Ping checks connectivity.
func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.client.Ping(ensureContext(ctx)).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// IncrementWithTTL increments the supplied key and ensures the TTL is set to the requested window.
// It returns the current count and the remaining time-to-live.
func (c *RedisClient) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	ctx = ensureContext(ctx)
	if window <= 0 {
		window = time.Minute
	}
	prefixed := c.prefixed(key)

	count, err := c.client.Incr(ctx, prefixed).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: increment %s: %w", key, err)
	}
	if count == 1 {
		if err := c.client.PExpire(ctx, prefixed, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("redis: expire %s: %w", key, err)
		}
		return count, window, nil
	}

	remaining, err := c.client.PTTL(ctx, prefixed).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: ttl %s: %w", key, err)
	}
	if remaining < 0 {
		// Counter lost its expiry; restore it so the window eventually resets.
		if err := c.client.PExpire(ctx, prefixed, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("redis: expire %s: %w", key, err)
		}
		remaining = window
	}
	return count, remaining, nil
}

// Set stores the value with an optional TTL.
func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ensureContext(ctx), c.prefixed(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// SetIfExists overwrites the key only when it already exists (SET XX).
func (c *RedisClient) SetIfExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	ok, err := c.client.SetXX(ensureContext(ctx), c.prefixed(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: set xx %s: %w", key, err)
	}
	return ok, nil
}

// Get retrieves a value. Missing keys return ok=false without error.
func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ensureContext(ctx), c.prefixed(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return value, true, nil
}

// Delete removes keys from Redis.
func (c *RedisClient) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, 0, len(keys))
	for _, key := range keys {
		prefixed = append(prefixed, c.prefixed(key))
	}
	if err := c.client.Del(ensureContext(ctx), prefixed...).Err(); err != nil {
		return fmt.Errorf("redis: delete: %w", err)
	}
	return nil
}

func (c *RedisClient) prefixed(key string) string {
	if strings.HasPrefix(key, redisKeyPrefix) {
		return key
	}
	return redisKeyPrefix + key
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
