package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequireBearerMiddleware protects the API with a static bearer token. An
// empty token leaves the API open, which is the expected mode for local and
// simulated runs. Health endpoints are always open.
func RequireBearerMiddleware(token string) gin.HandlerFunc {
	token = strings.TrimSpace(token)
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		p := c.Request.URL.Path
		if p == "/healthz" || p == "/readyz" {
			c.Next()
			return
		}
		if strings.HasPrefix(p, "/api/") {
			auth := strings.TrimSpace(c.GetHeader("Authorization"))
			if !strings.HasPrefix(auth, "Bearer ") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
				return
			}
			if strings.TrimSpace(strings.TrimPrefix(auth, "Bearer ")) != token {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bearer token"})
				return
			}
		}
		c.Next()
	}
}
