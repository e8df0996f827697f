package middleware

import (
	"context"
	stderrors "errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/pbxnotify/pkg/errors"
	"github.com/charlesng35/pbxnotify/pkg/logger"
	"github.com/charlesng35/pbxnotify/pkg/metrics"
	"github.com/charlesng35/pbxnotify/pkg/response"
)

// PermissionChecker resolves whether an identity holds a permission.
type PermissionChecker interface {
	Check(ctx context.Context, userID, permissionID string) (bool, error)
}

// RequirePermission checks that the authenticated identity has the provided permission ID.
// Identities unknown to the directory are treated as holding no permissions.
func RequirePermission(checker PermissionChecker, permissionID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := Identity(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		allowed, err := checker.Check(c.Request.Context(), identity, permissionID)
		if err != nil && !stderrors.Is(err, gorm.ErrRecordNotFound) {
			metrics.PermissionChecks.WithLabelValues(permissionID, "error").Inc()
			logger.WithModule("http").Error("permission check failed",
				zap.String("identity", identity),
				zap.String("permission", permissionID),
				zap.Error(err),
			)
			response.Error(c, errors.ErrInternalServer.WithMessage("permission check failed"))
			c.Abort()
			return
		}
		if !allowed {
			metrics.PermissionChecks.WithLabelValues(permissionID, "denied").Inc()
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		metrics.PermissionChecks.WithLabelValues(permissionID, "allowed").Inc()
		c.Next()
	}
}
