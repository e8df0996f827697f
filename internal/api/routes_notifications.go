package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/pbxnotify/internal/handlers"
	"github.com/charlesng35/pbxnotify/internal/middleware"
	"github.com/charlesng35/pbxnotify/internal/permissions"
)

func registerNotificationRoutes(api *gin.RouterGroup, handler *handlers.NotificationHandler, checker middleware.PermissionChecker, guard middleware.SessionGuard, limit gin.HandlerFunc) {
	group := api.Group("/notifications")
	{
		group.POST("/session", handler.BeginSession)
		group.DELETE("/session", handler.EndSession)

		live := middleware.RequireLiveSession(guard)
		group.GET("/heartbeat", live, limit, handler.Heartbeat)
		group.GET("", live, limit, handler.List)
		group.POST("/:id/read", live, limit, handler.MarkRead)
		group.POST("/:id/dismiss", live, limit, handler.MarkDismissed)

		publish := middleware.RequirePermission(checker, permissions.NotificationPublish)
		group.POST("", publish, handler.Create)
		group.GET("/:id/status", publish, handler.Status)
		group.DELETE("/:id/schedule", publish, handler.Unschedule)
	}
}
