package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/pbxnotify/internal/app"
	"github.com/charlesng35/pbxnotify/internal/models"
)

func testConfig(t *testing.T) *app.Config {
	t.Helper()
	cfg := &app.Config{
		Database: app.DatabaseConfig{
			Driver: "sqlite",
			DSN:    "file:" + t.Name() + "?mode=memory&cache=shared&_foreign_keys=1",
		},
		Notifications: app.NotificationConfig{
			SessionTimeout: 30 * time.Minute,
			RateLimit:      app.RateLimitConfig{Enabled: true, Requests: 60, Window: time.Minute},
		},
		Monitoring: app.MonitoringConfig{
			Health: app.HealthConfig{Enabled: true},
		},
	}
	generated, err := app.ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)
	require.True(t, generated["auth.jwt.secret"])
	return cfg
}

func TestBootstrapRuntimeServesHealth(t *testing.T) {
	cfg := testConfig(t)

	stack, err := bootstrapRuntime(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stack.Shutdown(ctx, zap.NewNop())
	})

	require.NotNil(t, stack.Router)
	require.NotNil(t, stack.Runner)
	require.NotNil(t, stack.RateStore)
	require.Nil(t, stack.Redis)
	require.Nil(t, stack.Push)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	stack.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/notifications/heartbeat", nil)
	stack.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	var roles int64
	require.NoError(t, stack.DB.Model(&models.Role{}).Count(&roles).Error)
	require.Positive(t, roles)
}

func TestBootstrapRuntimeRejectsBrokenChannels(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels.SMS.Twilio = app.TwilioConfig{Enabled: true, From: "+15550100"}

	_, err := bootstrapRuntime(cfg, zap.NewNop())
	require.Error(t, err)
	require.Contains(t, err.Error(), "twilio")
}

func TestBuildChannelRegistry(t *testing.T) {
	cfg := &app.Config{}
	registry, publisher, err := buildChannelRegistry(cfg, zap.NewNop())
	require.NoError(t, err)
	require.Nil(t, publisher)
	require.Empty(t, registry.Channels())

	cfg.Channels.Email.SMTP = app.SMTPConfig{Enabled: true, Host: "smtp.pbx.example.com", Port: 587, From: "pbx@pbx.example.com"}
	registry, _, err = buildChannelRegistry(cfg, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, []models.Channel{models.ChannelEmail}, registry.Channels())

	cfg.Channels.Push.Kafka = app.KafkaConfig{Enabled: true, Topic: "pbx.push"}
	_, _, err = buildChannelRegistry(cfg, zap.NewNop())
	require.Error(t, err)
}

func TestLoadApplicationConfigMissingPath(t *testing.T) {
	_, err := loadApplicationConfig(filepath.Join(t.TempDir(), "missing", "config.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not exist")
}
