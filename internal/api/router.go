package api

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/charlesng35/pbxnotify/internal/app"
	iauth "github.com/charlesng35/pbxnotify/internal/auth"
	"github.com/charlesng35/pbxnotify/internal/handlers"
	"github.com/charlesng35/pbxnotify/internal/middleware"
	"github.com/charlesng35/pbxnotify/internal/monitoring"
	"github.com/charlesng35/pbxnotify/internal/services"
)

// Dependencies carries the collaborators the HTTP surface is built from.
type Dependencies struct {
	Config        *app.Config
	JWT           *iauth.JWTService
	Checker       middleware.PermissionChecker
	Polling       *services.PollingService
	Notifications *services.NotificationService
	Preferences   *services.PreferenceService
	Templates     *services.TemplateService
	Audit         *services.AuditService
	Health        *monitoring.HealthManager
	RateStore     middleware.RateStore
}

func (d Dependencies) validate() error {
	switch {
	case d.Config == nil:
		return errors.New("config must be provided")
	case d.JWT == nil:
		return errors.New("jwt service must be provided")
	case d.Checker == nil:
		return errors.New("permission checker must be provided")
	case d.Polling == nil:
		return errors.New("polling service must be provided")
	case d.Notifications == nil:
		return errors.New("notification service must be provided")
	case d.Preferences == nil:
		return errors.New("preference service must be provided")
	case d.Templates == nil:
		return errors.New("template service must be provided")
	case d.Audit == nil:
		return errors.New("audit service must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	cfg := deps.Config

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS...))

	registerHealthRoutes(r, cfg, deps.Health)

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	api.Use(middleware.Auth(deps.JWT))

	// Polling routes share a per-identity budget when rate limiting is on.
	limit := deps.RateStore
	if !cfg.Notifications.RateLimit.Enabled {
		limit = nil
	}
	polling := middleware.RateLimit(limit, cfg.Notifications.RateLimit.Requests, cfg.Notifications.RateLimit.Window)

	notificationHandler := handlers.NewNotificationHandler(deps.Polling, deps.Notifications, cfg.Notifications.DefaultPageLimit)
	registerNotificationRoutes(api, notificationHandler, deps.Checker, deps.Polling, polling)
	registerPreferenceRoutes(api, handlers.NewPreferenceHandler(deps.Preferences))
	registerTemplateRoutes(api, handlers.NewTemplateHandler(deps.Templates), deps.Checker)
	registerAuditRoutes(api, handlers.NewAuditHandler(deps.Audit), deps.Checker)

	// NotFound fallback
	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
