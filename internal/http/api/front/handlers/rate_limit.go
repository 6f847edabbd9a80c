package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/access"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/ratelimit"
	log "github.com/sirupsen/logrus"
)

// StatusReader reads rate limit usage without consuming a request.
type StatusReader interface {
	Status(ctx context.Context, apiKeyID, userID string) (ratelimit.Status, error)
}

// RateLimitFrontHandler serves rate limit endpoints for API key holders.
type RateLimitFrontHandler struct {
	limiter StatusReader
}

// NewRateLimitFrontHandler constructs a RateLimitFrontHandler.
func NewRateLimitFrontHandler(limiter StatusReader) *RateLimitFrontHandler {
	return &RateLimitFrontHandler{limiter: limiter}
}

// Status returns the minute, hour and day usage of the calling API key.
// The optional window query parameter narrows the response to one window.
func (h *RateLimitFrontHandler) Status(c *gin.Context) {
	principal, ok := access.PrincipalFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing api key"})
		return
	}
	var (
		window    ratelimit.Window
		hasWindow bool
	)
	if raw := strings.TrimSpace(c.Query("window")); raw != "" {
		parsed, errParse := ratelimit.ParseWindow(raw)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "window must be minute, hour or day"})
			return
		}
		window, hasWindow = parsed, true
	}
	status, errStatus := h.limiter.Status(c.Request.Context(), principal.APIKeyID, principal.UserID)
	if errStatus != nil {
		switch {
		case errors.Is(errStatus, ratelimit.ErrConfigNotFound):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "api key not found"})
		case errors.Is(errStatus, ratelimit.ErrStoreUnavailable):
			log.WithError(errStatus).Warn("front: read rate limit status failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rate limiter unavailable"})
		default:
			log.WithError(errStatus).Error("front: read rate limit status failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read rate limit status failed"})
		}
		return
	}
	if hasWindow {
		c.JSON(http.StatusOK, status.For(window))
		return
	}
	c.JSON(http.StatusOK, status)
}
