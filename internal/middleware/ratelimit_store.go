package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/charlesng35/pbxnotify/internal/cache"
)

// RateStore coordinates rate limiting counters for a specific key.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

// memoryRateStore provides process-local rate limiting. It is concurrency-safe.
type memoryRateStore struct {
	mu    sync.Mutex
	data  map[string]*memoryCounter
	clock func() time.Time
}

type memoryCounter struct {
	count     int
	windowEnd time.Time
}

// NewMemoryRateStore constructs an in-memory rate store for single instance
// deployments and tests.
func NewMemoryRateStore() RateStore {
	return &memoryRateStore{
		data:  make(map[string]*memoryCounter),
		clock: time.Now,
	}
}

func (s *memoryRateStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}

	now := s.clock()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, c := range s.data {
		if now.After(c.windowEnd) {
			delete(s.data, k)
		}
	}

	counter, ok := s.data[key]
	if !ok {
		counter = &memoryCounter{
			count:     0,
			windowEnd: now.Add(window),
		}
		s.data[key] = counter
	}

	counter.count++

	return counter.count, counter.windowEnd.Sub(now), nil
}

// storeRateStore keeps counters in the shared cache so every instance sees them.
type storeRateStore struct {
	store cache.Store
}

// NewCacheRateStore wraps a cache.Store (database or Redis) in a RateStore.
func NewCacheRateStore(store cache.Store) RateStore {
	if store == nil {
		return nil
	}
	return &storeRateStore{store: store}
}

func (s *storeRateStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	count, ttl, err := s.store.IncrementWithTTL(ctx, key, window)
	return int(count), ttl, err
}
