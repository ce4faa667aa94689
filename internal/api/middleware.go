package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"storefront/internal/service"
	"storefront/internal/util"

	"github.com/gin-gonic/gin"
)

const userIDKey = "user_id"

// authMiddleware resolves the session token when one is present. Guests
// pass through; handlers that need an owner call requireUser.
func authMiddleware(verify *service.VerifyService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			if userID, err := verify.ParseSession(token); err == nil {
				c.Set(userIDKey, userID)
			}
		}
		c.Next()
	}
}

// currentUserID returns the authenticated owner, if any
func currentUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	userID, ok := v.(int64)
	return userID, ok
}

// requireUser aborts unauthenticated requests
func requireUser(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
