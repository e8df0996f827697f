package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/pbxnotify/internal/handlers"
	"github.com/charlesng35/pbxnotify/internal/middleware"
	"github.com/charlesng35/pbxnotify/internal/permissions"
)

func registerAuditRoutes(api *gin.RouterGroup, handler *handlers.AuditHandler, checker middleware.PermissionChecker) {
	api.GET("/audit", middleware.RequirePermission(checker, permissions.AuditView), handler.List)
	api.GET("/audit/export", middleware.RequirePermission(checker, permissions.AuditView), handler.Export)
}
