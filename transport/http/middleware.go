package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/amper/core"
	"github.com/layer-3/amper/ports"
)

const bridgeClientKey = "bridgeClient"

// BridgeAuthMiddleware creates middleware that validates bridge tokens and
// the origin they are bound to
func BridgeAuthMiddleware(tokenizer ports.Tokenizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")

		// Check if the Authorization header is present and in correct format
		if len(auth) < 8 || !strings.EqualFold(auth[:7], "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			return
		}

		client, err := tokenizer.ParseBridgeToken(strings.TrimSpace(auth[7:]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		if !client.AllowsOrigin(c.GetHeader("Origin")) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": core.ErrOriginNotAllowed.Error()})
			return
		}

		c.Set(bridgeClientKey, client)

		c.Next()
	}
}

// RequestLogger logs one line per request
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if client, ok := c.Get(bridgeClientKey); ok {
			attrs = append(attrs, "client", client.(*core.BridgeClient).ID)
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("Bridge request failed", attrs...)
			return
		}
		logger.Debug("Bridge request", attrs...)
	}
}
