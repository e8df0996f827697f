package api_test

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/pbxnotify/internal/api"
	"github.com/charlesng35/pbxnotify/internal/app"
	"github.com/charlesng35/pbxnotify/internal/handlers/testutil"
)

func TestRouterPublicAndProtectedRoutes(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), `"component":"database"`)

	for _, path := range []string{"/api/notifications", "/api/templates", "/api/preferences/2000", "/api/audit"} {
		w = env.Request(http.MethodGet, path, nil, "")
		require.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	w = env.Request(http.MethodGet, "/api/unknown", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "NOT_FOUND", testutil.DecodeResponse(t, w).Error.Code)
}

func TestRouterMetricsEndpoint(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = env.Request(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.Contains(w.Body.String(), "pbxnotify_api_latency_seconds"))
}

func TestReadinessReportsMaintenanceJobs(t *testing.T) {
	env := testutil.NewEnv(t)

	env.Jobs.RecordJob("promotion", nil, time.Millisecond)
	w := env.Request(http.MethodGet, "/health/ready", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), `"job":"promotion"`)

	env.Jobs.RecordJob("dispatch", errors.New("smtp down"), time.Millisecond)
	env.Jobs.RecordJob("dispatch", errors.New("smtp down"), time.Millisecond)
	w = env.Request(http.MethodGet, "/health/ready", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Contains(t, w.Body.String(), "smtp down")

	w = env.Request(http.MethodGet, "/health/live", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHealthDisabled(t *testing.T) {
	env := testutil.NewEnv(t, func(cfg *app.Config) {
		cfg.Monitoring.Health.Enabled = false
		cfg.Monitoring.Prometheus.Enabled = false
	})

	w := env.Request(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	w = env.Request(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestPollingRoutesAreRateLimited(t *testing.T) {
	env := testutil.NewEnv(t, func(cfg *app.Config) {
		cfg.Notifications.RateLimit = app.RateLimitConfig{Enabled: true, Requests: 2, Window: time.Minute}
	})
	user := env.CreateUser("2000", "user")
	token := env.BeginSession(user)

	for i := 0; i < 2; i++ {
		w := env.Request(http.MethodGet, "/api/notifications/heartbeat", nil, token)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := env.Request(http.MethodGet, "/api/notifications/heartbeat", nil, token)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))

	// Listing has its own budget.
	w = env.Request(http.MethodGet, "/api/notifications", nil, token)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestNewRouterRequiresDependencies(t *testing.T) {
	_, err := api.NewRouter(api.Dependencies{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "config")
}
