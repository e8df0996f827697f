package cache

import (
	"context"
	"time"
)

// Store represents a shared cache interface used across the application.
type Store interface {
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetIfExists overwrites a live key and reports false when the key is
	// missing or expired, without creating it.
	SetIfExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// Purger is implemented by stores that keep expired entries until swept.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}
