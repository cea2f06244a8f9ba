package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/amper/core"
	"github.com/layer-3/amper/ports"
	"github.com/layer-3/amper/service"
)

// SetupRouter sets up the Gin router for the local bridge
func SetupRouter(orchestrator *service.Orchestrator, tokenizer ports.Tokenizer, granularity core.ScopeGranularity, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger))

	// Create handlers
	handlers := NewBridgeHandlers(orchestrator, granularity, logger)

	router.GET("/healthz", handlers.Health)

	// Bridge routes, callable only by clients holding a bridge token
	bridge := router.Group("/bridge")
	bridge.Use(BridgeAuthMiddleware(tokenizer))
	{
		bridge.POST("/challenges", handlers.ParseChallenge)
		bridge.POST("/authenticate", handlers.Authenticate)
		bridge.GET("/tokens", handlers.Tokens)
		bridge.DELETE("/tokens", handlers.Invalidate)
	}

	return router
}
