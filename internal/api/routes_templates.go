package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/pbxnotify/internal/handlers"
	"github.com/charlesng35/pbxnotify/internal/middleware"
	"github.com/charlesng35/pbxnotify/internal/permissions"
)

func registerTemplateRoutes(api *gin.RouterGroup, handler *handlers.TemplateHandler, checker middleware.PermissionChecker) {
	group := api.Group("/templates")
	{
		group.GET("", middleware.RequirePermission(checker, permissions.TemplateView), handler.List)
		group.GET("/:name", middleware.RequirePermission(checker, permissions.TemplateView), handler.Get)
		group.POST("/:name/preview", middleware.RequirePermission(checker, permissions.TemplateView), handler.Preview)

		group.POST("", middleware.RequirePermission(checker, permissions.TemplateManage), handler.Create)
		group.PUT("/:name", middleware.RequirePermission(checker, permissions.TemplateManage), handler.Update)
		group.DELETE("/:name", middleware.RequirePermission(checker, permissions.TemplateManage), handler.Delete)
	}
}
