package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/amper/core"
	"github.com/layer-3/amper/service"
)

// BridgeHandlers contains HTTP handlers for bridge endpoints
type BridgeHandlers struct {
	orchestrator *service.Orchestrator
	granularity  core.ScopeGranularity
	logger       *slog.Logger
}

// NewBridgeHandlers creates new bridge handlers
func NewBridgeHandlers(orchestrator *service.Orchestrator, granularity core.ScopeGranularity, logger *slog.Logger) *BridgeHandlers {
	return &BridgeHandlers{
		orchestrator: orchestrator,
		granularity:  granularity,
		logger:       logger,
	}
}

// Health reports that the bridge is serving
func (h *BridgeHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ParseChallenge parses a WWW-Authenticate header value
func (h *BridgeHandlers) ParseChallenge(c *gin.Context) {
	var req struct {
		Header string `json:"header" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	challenge, err := h.orchestrator.ParseChallenge(req.Header)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"challenge": challenge})
}

// Authenticate returns a token for the URL that produced a challenge, paying
// when no cached token exists
func (h *BridgeHandlers) Authenticate(c *gin.Context) {
	var req struct {
		URL           string            `json:"url" binding:"required"`
		Header        string            `json:"header" binding:"required"`
		ForceRefresh  bool              `json:"force_refresh"`
		StaleTokenID  string            `json:"stale_token_id"`
		AllowDegraded bool              `json:"allow_degraded"`
		Metadata      map[string]string `json:"metadata"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	scope, err := core.ScopeFromString(req.URL, h.granularity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	challenge, err := h.orchestrator.ParseChallenge(req.Header)
	if err != nil {
		h.writeError(c, err)
		return
	}

	token, err := h.orchestrator.Authenticate(c.Request.Context(), scope, challenge, service.AuthenticateOptions{
		ForceRefresh:  req.ForceRefresh,
		StaleTokenID:  req.StaleTokenID,
		AllowDegraded: req.AllowDegraded,
		Metadata:      req.Metadata,
	})

	// Paid but not cached: the token still works for this request
	var persistErr *core.PersistError
	persisted := true
	if errors.As(err, &persistErr) {
		persisted = false
		err = nil
	}
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":         token,
		"authorization": token.Authorization(),
		"persisted":     persisted,
	})
}

// Tokens lists valid cached tokens, or looks up the token for ?url=
func (h *BridgeHandlers) Tokens(c *gin.Context) {
	if rawURL := c.Query("url"); rawURL != "" {
		scope, err := core.ScopeFromString(rawURL, h.granularity)
		if err != nil {
			h.writeError(c, err)
			return
		}
		token, err := h.orchestrator.Lookup(c.Request.Context(), scope)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "authorization": token.Authorization()})
		return
	}

	tokens, err := h.orchestrator.ListTokens(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

// Invalidate revokes the token cached for ?scope=
func (h *BridgeHandlers) Invalidate(c *gin.Context) {
	scope := c.Query("scope")
	if scope == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.orchestrator.Invalidate(c.Request.Context(), scope); err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Token invalidated"})
}

// writeError maps engine errors to status codes
func (h *BridgeHandlers) writeError(c *gin.Context, err error) {
	statusCode := http.StatusInternalServerError

	switch {
	case errors.Is(err, core.ErrMissingHeader),
		errors.Is(err, core.ErrMalformedChallenge),
		errors.Is(err, core.ErrInvalidScope),
		errors.Is(err, core.ErrInvalidInvoice):
		statusCode = http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		statusCode = http.StatusNotFound
	case errors.Is(err, core.ErrPaymentRejected):
		statusCode = http.StatusPaymentRequired
	case errors.Is(err, core.ErrPaymentTimeout):
		statusCode = http.StatusGatewayTimeout
	case errors.Is(err, core.ErrBackendUnavailable),
		errors.Is(err, core.ErrStoreUnavailable):
		statusCode = http.StatusServiceUnavailable
	default:
		h.logger.Error("Bridge request failed", "path", c.Request.URL.Path, "error", err)
	}

	c.JSON(statusCode, gin.H{
		"error":     err.Error(),
		"retryable": core.IsRetryable(err),
	})
}
