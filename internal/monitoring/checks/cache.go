package checks

import (
	"context"
	"time"

	"github.com/charlesng35/pbxnotify/internal/cache"
	"github.com/charlesng35/pbxnotify/internal/monitoring"
)

const defaultCacheTimeout = 2 * time.Second

// Cache returns a readiness probe for the shared cache store. Stores without a
// remote backend, such as the database cache, report up without probing.
func Cache(store cache.Store, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("cache", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if store == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  "cache unavailable",
				Duration: time.Since(start),
			}
		}

		pinger, ok := store.(cache.Pinger)
		if !ok {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusUp,
				Details:  "database backed",
				Duration: time.Since(start),
			}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultCacheTimeout))
		defer cancel()

		if err := pinger.Ping(probeCtx); err != nil {
			return monitoring.ResultFromError("cache", err, time.Since(start))
		}

		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Details:  "redis",
			Duration: time.Since(start),
		}
	})
}
