package front

import (
	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/access"
	handlers "github.com/router-for-me/CLIProxyAPIPortal/internal/http/api/front/handlers"
	"gorm.io/gorm"
)

// RegisterFrontRoutes registers endpoints authenticated by API key.
func RegisterFrontRoutes(r *gin.Engine, db *gorm.DB, limiter handlers.StatusReader) {
	if r == nil || db == nil || limiter == nil {
		return
	}
	authed := r.Group("/v0")
	authed.Use(access.Middleware(db))

	rateLimitHandler := handlers.NewRateLimitFrontHandler(limiter)
	authed.GET("/rate-limit/status", rateLimitHandler.Status)
}
