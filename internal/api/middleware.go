package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"debugarena/internal/domain"
)

const identityKey = "debugarena.identity"

// Identity extracts the pre-authenticated caller from gateway-injected
// headers. Authentication itself happens upstream at the hosted identity
// provider; by the time a request reaches this service the headers are
// trusted.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-Id")
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "missing identity"})
			return
		}

		role := domain.Role(c.GetHeader("X-User-Role"))
		if role != domain.RoleAdmin {
			role = domain.RoleLearner
		}

		c.Set(identityKey, domain.Identity{UserID: userID, Role: role})
		c.Next()
	}
}

// CallerIdentity returns the identity set by the Identity middleware.
func CallerIdentity(c *gin.Context) domain.Identity {
	id, _ := c.Get(identityKey)
	identity, _ := id.(domain.Identity)
	return identity
}

// RequestLogger logs each request with slog.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		slog.InfoContext(c.Request.Context(), "http: request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
