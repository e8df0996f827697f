package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/pbxnotify/internal/middleware"
	appErrors "github.com/charlesng35/pbxnotify/pkg/errors"
	"github.com/charlesng35/pbxnotify/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// requireIdentity returns the authenticated caller or writes a 401.
func requireIdentity(c *gin.Context) (string, bool) {
	identity, ok := middleware.Identity(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return "", false
	}
	return identity, true
}
