package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/pbxnotify/internal/handlers"
)

// Preference routes authorize inside the handler: recipients manage their own
// row and preference.manage covers everyone else.
func registerPreferenceRoutes(api *gin.RouterGroup, handler *handlers.PreferenceHandler) {
	group := api.Group("/preferences")
	{
		group.GET("/:recipientID", handler.Get)
		group.PUT("/:recipientID", handler.Put)
	}
}
