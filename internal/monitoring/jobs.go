package monitoring

import (
	"sort"
	"sync"
	"time"
)

// JobSummary is the latest known state of a background job.
type JobSummary struct {
	Job                 string        `json:"job"`
	LastStatus          string        `json:"last_status"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	LastSuccessAt       time.Time     `json:"last_success_at,omitempty"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	TotalRuns           uint64        `json:"total_runs"`
}

// JobTracker keeps per-job run history for the maintenance readiness probe.
type JobTracker struct {
	mu   sync.Mutex
	now  func() time.Time
	jobs map[string]*JobSummary
}

// NewJobTracker returns an empty tracker.
func NewJobTracker() *JobTracker {
	return &JobTracker{now: time.Now, jobs: make(map[string]*JobSummary)}
}

// WithClock overrides the time source used to stamp runs.
func (t *JobTracker) WithClock(now func() time.Time) *JobTracker {
	if now != nil {
		t.now = now
	}
	return t
}

// RecordJob stores the outcome of one run.
func (t *JobTracker) RecordJob(job string, err error, duration time.Duration) {
	if t == nil || job == "" {
		return
	}
	if duration < 0 {
		duration = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.jobs[job]
	if !ok {
		entry = &JobSummary{Job: job}
		t.jobs[job] = entry
	}

	now := t.now()
	entry.LastRunAt = now
	entry.LastDuration = duration
	entry.TotalRuns++
	if err != nil {
		entry.LastStatus = "failure"
		entry.LastError = err.Error()
		entry.ConsecutiveFailures++
		return
	}
	entry.LastStatus = "success"
	entry.LastError = ""
	entry.LastSuccessAt = now
	entry.ConsecutiveFailures = 0
}

// Snapshot returns a copy of every tracked job ordered by name.
func (t *JobTracker) Snapshot() []JobSummary {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]JobSummary, 0, len(t.jobs))
	for _, entry := range t.jobs {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}
