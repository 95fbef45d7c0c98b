package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"fitchat/internal/identity"
)

func Logger(log zerolog.Logger) gin.HandlerFunc {
	accessLog := log.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		t := time.Now()

		// Process request
		c.Next()

		// Log the request
		accessLog.Info().
			Dur("latency", time.Since(t)).
			Int("status", c.Writer.Status()).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Msg("request")
	}
}

// AuthMiddleware validates the bearer token and stores the caller's
// profile on the context. Websocket clients cannot set headers from a
// browser, so a token query parameter is accepted as a fallback.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization token required"})
			c.Abort()
			return
		}

		profile, err := identity.FromToken(token, secret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		c.Set("userID", profile.ID)
		c.Set("profile", profile)
		c.Next()
	}
}
