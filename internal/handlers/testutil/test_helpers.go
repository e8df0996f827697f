package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/pbxnotify/internal/api"
	"github.com/charlesng35/pbxnotify/internal/app"
	iauth "github.com/charlesng35/pbxnotify/internal/auth"
	"github.com/charlesng35/pbxnotify/internal/cache"
	sharedtestutil "github.com/charlesng35/pbxnotify/internal/database/testutil"
	"github.com/charlesng35/pbxnotify/internal/middleware"
	"github.com/charlesng35/pbxnotify/internal/models"
	"github.com/charlesng35/pbxnotify/internal/monitoring"
	"github.com/charlesng35/pbxnotify/internal/monitoring/checks"
	"github.com/charlesng35/pbxnotify/internal/permissions"
	"github.com/charlesng35/pbxnotify/internal/services"
	"github.com/charlesng35/pbxnotify/pkg/response"
)

const jwtSecret = "test-suite-super-secret-key-32-bytes!!"

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T         *testing.T
	DB        *gorm.DB
	Router    *gin.Engine
	JWT       *iauth.JWTService
	Config    *app.Config
	Promotion *services.PromotionService
	Jobs      *monitoring.JobTracker
}

// Option adjusts the configuration before the router is built.
type Option func(*app.Config)

// NewEnv provisions a fresh handler test environment with migrations and seed data applied.
func NewEnv(t *testing.T, opts ...Option) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithSeedData())

	cfg := &app.Config{
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{Secret: jwtSecret, Issuer: "test-suite", TTL: time.Hour},
		},
		Notifications: app.NotificationConfig{
			SessionTimeout:   30 * time.Minute,
			HeartbeatRecent:  services.DefaultHeartbeatRecent,
			DefaultPageLimit: 20,
			RateLimit:        app.RateLimitConfig{Enabled: true, Requests: 1000, Window: time.Minute},
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	checker, err := permissions.NewChecker(db)
	require.NoError(t, err)
	audit, err := services.NewAuditService(db)
	require.NoError(t, err)
	directory, err := services.NewDatabaseDirectory(db)
	require.NoError(t, err)
	resolver, err := services.NewTargetResolver(directory)
	require.NoError(t, err)
	preferences, err := services.NewPreferenceService(db, audit, checker)
	require.NoError(t, err)
	ledger, err := services.NewDeliveryLedger(db)
	require.NoError(t, err)
	fanout, err := services.NewFanOutService(resolver, preferences, ledger, nil)
	require.NoError(t, err)
	promotion, err := services.NewPromotionService(db, fanout, 100)
	require.NoError(t, err)
	templates, err := services.NewTemplateService(db, audit)
	require.NoError(t, err)
	notifications, err := services.NewNotificationService(db, templates, promotion, ledger, audit)
	require.NoError(t, err)

	store := cache.NewDatabaseStore(db)
	liveness, err := iauth.NewLivenessStore(store, cfg.Notifications.SessionTimeout)
	require.NoError(t, err)
	polling, err := services.NewPollingService(ledger, preferences, liveness, cfg.Notifications.HeartbeatRecent)
	require.NoError(t, err)

	jobs := monitoring.NewJobTracker()
	health := monitoring.NewHealthManager(jobs)
	health.RegisterReadiness(checks.Database(db, time.Second))
	health.RegisterReadiness(checks.Cache(store, time.Second))
	health.RegisterReadiness(checks.Maintenance(jobs, time.Hour))

	router, err := api.NewRouter(api.Dependencies{
		Config:        cfg,
		JWT:           jwtSvc,
		Checker:       checker,
		Polling:       polling,
		Notifications: notifications,
		Preferences:   preferences,
		Templates:     templates,
		Audit:         audit,
		Health:        health,
		RateStore:     middleware.NewCacheRateStore(store),
	})
	require.NoError(t, err)

	return &Env{
		T:         t,
		DB:        db,
		Router:    router,
		JWT:       jwtSvc,
		Config:    cfg,
		Promotion: promotion,
		Jobs:      jobs,
	}
}

// CreateUser inserts an active directory user holding the given seeded roles.
func (e *Env) CreateUser(id string, roleIDs ...string) *models.User {
	e.T.Helper()

	user := &models.User{
		ID:       id,
		Username: "user-" + id,
		Email:    id + "@pbx.example.com",
		IsActive: true,
	}
	require.NoError(e.T, e.DB.Create(user).Error)

	if len(roleIDs) == 0 {
		return user
	}

	var roles []models.Role
	require.NoError(e.T, e.DB.Where("id IN ?", roleIDs).Find(&roles).Error)
	require.Len(e.T, roles, len(roleIDs))
	roleInterfaces := make([]any, len(roles))
	for i := range roles {
		roleInterfaces[i] = &roles[i]
	}
	require.NoError(e.T, e.DB.Model(user).Association("Roles").Append(roleInterfaces...))
	return user
}

// Token issues a bearer token for the supplied identity.
func (e *Env) Token(user *models.User) string {
	e.T.Helper()
	token, err := e.JWT.GenerateAccessToken(iauth.AccessTokenInput{Identity: user.ID, Username: user.Username})
	require.NoError(e.T, err)
	return token
}

// BeginSession marks the user as logged in and returns their bearer token.
func (e *Env) BeginSession(user *models.User) string {
	e.T.Helper()
	token := e.Token(user)
	w := e.Request(http.MethodPost, "/api/notifications/session", nil, token)
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())
	return token
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
