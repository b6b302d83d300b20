// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file guards the admin order listing with a shared token.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// adminTokenHeader carries the admin token on API requests; the token query
// parameter is accepted as a fallback for browser use.
const adminTokenHeader = "X-Admin-Token"

// AdminAuth returns a middleware that admits requests presenting the
// configured admin token. An empty configured token disables the admin
// surface entirely: every request is rejected with a 500 so the
// misconfiguration is visible, rather than silently open or a misleading 401.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.Writer.Header().Get(requestIDHeader)

		if token == "" {
			log.Error().Str("request_id", rid).Msg("admin token not configured")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "admin access is not configured",
			})
			return
		}

		presented := c.GetHeader(adminTokenHeader)
		if presented == "" {
			presented = c.Query("token")
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": rid,
				"code":       "unauthorized",
				"message":    "invalid admin token",
			})
			return
		}
		c.Next()
	}
}
