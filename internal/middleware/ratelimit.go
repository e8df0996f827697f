package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/charlesng35/pbxnotify/pkg/errors"
	"github.com/charlesng35/pbxnotify/pkg/logger"
	"github.com/charlesng35/pbxnotify/pkg/metrics"
	"github.com/charlesng35/pbxnotify/pkg/response"
)

const rateLimitKeyPrefix = "ratelimit:"

// RateLimit limits requests per (identity, route) within a fixed window. Anonymous
// callers are keyed by client IP. Store failures let the request through.
func RateLimit(store RateStore, maxRequests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil || maxRequests <= 0 || window <= 0 {
			c.Next()
			return
		}

		subject, ok := Identity(c)
		if !ok {
			subject = "ip:" + c.ClientIP()
		}
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}

		count, ttl, err := store.Increment(c.Request.Context(), rateLimitKeyPrefix+subject+"|"+route, window)
		if err != nil {
			logger.WithModule("http").Warn("rate limit store unavailable", zap.Error(err))
			c.Next()
			return
		}

		remaining := maxRequests - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(ttl.Seconds())))

		if count > maxRequests {
			metrics.RateLimited.WithLabelValues(route).Inc()
			c.Header("Retry-After", strconv.Itoa(int(ttl.Seconds())+1))
			response.Error(c, errors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}
