package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/pbxnotify/internal/auditctx"
	iauth "github.com/charlesng35/pbxnotify/internal/auth"
	"github.com/charlesng35/pbxnotify/pkg/errors"
	"github.com/charlesng35/pbxnotify/pkg/response"
)

const (
	CtxClaimsKey    = "authClaims"
	CtxIdentityKey  = "identity"
	CtxSessionIDKey = "sessionID"
)

// Auth enforces JWT bearer authentication using the supplied JWT service.
func Auth(jwt *iauth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxIdentityKey, claims.Identity)
		if claims.SessionID != "" {
			c.Set(CtxSessionIDKey, claims.SessionID)
		}

		ctx := auditctx.WithActor(c.Request.Context(), auditctx.Actor{
			Identity:  claims.Identity,
			Username:  claims.Username,
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// Identity returns the authenticated identity set by Auth.
func Identity(c *gin.Context) (string, bool) {
	identity := c.GetString(CtxIdentityKey)
	return identity, identity != ""
}
