package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/pbxnotify/pkg/errors"
	"github.com/charlesng35/pbxnotify/pkg/response"
)

// SessionGuard reports whether an identity holds a live polling session.
type SessionGuard interface {
	RequireActive(ctx context.Context, identity string) error
}

// RequireLiveSession rejects polling requests from identities without an
// active liveness marker. It must run after Auth.
func RequireLiveSession(guard SessionGuard) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := Identity(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		if err := guard.RequireActive(c.Request.Context(), identity); err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}
