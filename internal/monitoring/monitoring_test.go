package monitoring_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/pbxnotify/internal/cache"
	testutil "github.com/charlesng35/pbxnotify/internal/database/testutil"
	"github.com/charlesng35/pbxnotify/internal/monitoring"
	"github.com/charlesng35/pbxnotify/internal/monitoring/checks"
)

func TestHealthManagerEvaluate(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager(nil)
	manager.RegisterReadiness(monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusUp}
	}))
	manager.RegisterReadiness(monitoring.NewCheck("cache", func(ctx context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: "connection refused"}
	}))

	report := manager.EvaluateReadiness(context.Background())
	require.False(t, report.Success)
	require.Equal(t, monitoring.StatusDown, report.Status)
	require.Len(t, report.Checks, 2)
	require.Equal(t, "cache", report.Checks[1].Component)
}

func TestHealthManagerRecoversPanickingProbe(t *testing.T) {
	t.Parallel()

	manager := monitoring.NewHealthManager(nil)
	manager.RegisterLiveness(monitoring.NewCheck("broken", func(context.Context) monitoring.ProbeResult {
		panic("probe exploded")
	}))

	report := manager.EvaluateLiveness(context.Background())
	require.False(t, report.Success)
	require.Len(t, report.Checks, 1)
	require.Equal(t, "broken", report.Checks[0].Component)
	require.Equal(t, "probe exploded", report.Checks[0].Details)
}

func TestReadinessIncludesJobs(t *testing.T) {
	t.Parallel()

	tracker := monitoring.NewJobTracker()
	tracker.RecordJob("promotion", nil, time.Millisecond)
	tracker.RecordJob("dispatch", errors.New("smtp down"), time.Millisecond)
	tracker.RecordJob("dispatch", nil, time.Millisecond)

	report := monitoring.NewHealthManager(tracker).EvaluateReadiness(context.Background())
	require.True(t, report.Success)
	require.Len(t, report.Jobs, 2)
	require.Equal(t, "dispatch", report.Jobs[0].Job)
	require.Equal(t, uint64(2), report.Jobs[0].TotalRuns)
	require.Zero(t, report.Jobs[0].ConsecutiveFailures)
	require.Empty(t, report.Jobs[0].LastError)
}

func TestMaintenanceCheck(t *testing.T) {
	t.Parallel()

	tracker := monitoring.NewJobTracker()
	check := checks.Maintenance(tracker, time.Minute)
	require.Equal(t, monitoring.StatusUp, check.Run(context.Background()).Status)

	tracker.RecordJob("promotion", nil, time.Second)
	tracker.RecordJob("dispatch", errors.New("timeout"), time.Second)
	result := check.Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, result.Status)
	require.Contains(t, result.Details, "dispatch: timeout")

	tracker.RecordJob("dispatch", errors.New("timeout"), time.Second)
	require.Equal(t, monitoring.StatusDown, check.Run(context.Background()).Status)
}

func TestMaintenanceCheckFlagsStaleJobs(t *testing.T) {
	t.Parallel()

	tracker := monitoring.NewJobTracker().WithClock(func() time.Time {
		return time.Now().Add(-time.Hour)
	})
	tracker.RecordJob("promotion", nil, time.Second)
	tracker.RecordJob("audit_retention", nil, time.Second)

	result := checks.Maintenance(tracker, time.Minute, "audit_retention").Run(context.Background())
	require.Equal(t, monitoring.StatusDegraded, result.Status)
	require.Contains(t, result.Details, "promotion: stale run")
	require.NotContains(t, result.Details, "audit_retention")
}

func TestDatabaseAndCacheChecks(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	manager := monitoring.NewHealthManager(nil)
	manager.RegisterReadiness(checks.Database(db, time.Second))
	manager.RegisterReadiness(checks.Cache(cache.NewDatabaseStore(db), time.Second))

	report := manager.EvaluateReadiness(context.Background())
	require.True(t, report.Success)
	require.Equal(t, "database backed", report.Checks[1].Details)

	require.Equal(t, monitoring.StatusDown, checks.Database(nil, 0).Run(context.Background()).Status)
	require.Equal(t, monitoring.StatusDegraded, checks.Cache(nil, 0).Run(context.Background()).Status)
}

func TestCacheCheckPingsRemoteStores(t *testing.T) {
	t.Parallel()

	result := checks.Cache(failingPinger{}, time.Second).Run(context.Background())
	require.Equal(t, monitoring.StatusDown, result.Status)
	require.Contains(t, result.Details, "connection refused")
}

type failingPinger struct{ cache.Store }

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }
