package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/pbxnotify/internal/app"
	"github.com/charlesng35/pbxnotify/internal/monitoring"
)

func registerHealthRoutes(r *gin.Engine, cfg *app.Config, manager *monitoring.HealthManager) {
	if !cfg.Monitoring.Health.Enabled || manager == nil {
		r.GET("/health", disabledHealthHandler)
		r.GET("/health/live", disabledHealthHandler)
		r.GET("/health/ready", disabledHealthHandler)
		return
	}

	r.GET("/health", func(c *gin.Context) {
		ctx := c.Request.Context()
		writeHealthReport(c, monitoring.MergeReports(manager.EvaluateLiveness(ctx), manager.EvaluateReadiness(ctx)))
	})

	r.GET("/health/live", func(c *gin.Context) {
		writeHealthReport(c, manager.EvaluateLiveness(c.Request.Context()))
	})

	r.GET("/health/ready", func(c *gin.Context) {
		writeHealthReport(c, manager.EvaluateReadiness(c.Request.Context()))
	})
}

func disabledHealthHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"success": false,
		"status":  "disabled",
	})
}

// Only a down report answers 503; degraded reports answer 200.
func writeHealthReport(c *gin.Context, report monitoring.HealthReport) {
	status := http.StatusOK
	if report.Status == monitoring.StatusDown {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"success":    report.Success,
		"status":     report.Status,
		"checks":     report.Checks,
		"jobs":       report.Jobs,
		"checked_at": time.Now().UTC(),
	})
}
