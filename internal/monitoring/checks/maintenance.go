package checks

import (
	"context"
	"strings"
	"time"

	"github.com/charlesng35/pbxnotify/internal/monitoring"
)

const defaultMaintenanceMaxAge = 10 * time.Minute

// Maintenance reports down when a sweep keeps failing and degraded when the
// last run is older than maxAge. Jobs on slow schedules such as audit
// retention should be listed in relaxed so staleness is not reported for them.
func Maintenance(tracker *monitoring.JobTracker, maxAge time.Duration, relaxed ...string) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceMaxAge
	}
	skipStale := make(map[string]struct{}, len(relaxed))
	for _, job := range relaxed {
		skipStale[job] = struct{}{}
	}

	return monitoring.NewCheck("maintenance", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		jobs := tracker.Snapshot()
		if len(jobs) == 0 {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusUp,
				Details:  "no maintenance runs recorded",
				Duration: time.Since(start),
			}
		}

		status := monitoring.StatusUp
		var failures []string
		for _, job := range jobs {
			if job.ConsecutiveFailures > 1 {
				status = worstStatus(status, monitoring.StatusDown)
				failures = append(failures, job.Job+": "+job.LastError)
				continue
			}
			if job.ConsecutiveFailures == 1 {
				status = worstStatus(status, monitoring.StatusDegraded)
				failures = append(failures, job.Job+": "+job.LastError)
				continue
			}
			if _, ok := skipStale[job.Job]; ok {
				continue
			}
			if start.Sub(job.LastRunAt) > maxAge {
				status = worstStatus(status, monitoring.StatusDegraded)
				failures = append(failures, job.Job+": stale run "+job.LastRunAt.UTC().Format(time.RFC3339))
			}
		}

		return monitoring.ProbeResult{
			Status:   status,
			Details:  strings.Join(failures, "; "),
			Duration: time.Since(start),
		}
	})
}

func worstStatus(current, candidate monitoring.ProbeStatus) monitoring.ProbeStatus {
	if current == monitoring.StatusDown || candidate == monitoring.StatusDown {
		return monitoring.StatusDown
	}
	if current == monitoring.StatusDegraded || candidate == monitoring.StatusDegraded {
		return monitoring.StatusDegraded
	}
	return monitoring.StatusUp
}
