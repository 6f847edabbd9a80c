package admin

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/config"
	handlers "github.com/router-for-me/CLIProxyAPIPortal/internal/http/api/admin/handlers"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/security"
	internalsettings "github.com/router-for-me/CLIProxyAPIPortal/internal/settings"
	"gorm.io/gorm"
)

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig, limiter handlers.RateLimiter, poller *internalsettings.Poller) {
	if r == nil || db == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/healthz", healthHandler.Healthz)

	authed := r.Group("/v0/admin")
	authed.Use(adminAuthMiddleware(jwtCfg))

	userHandler := handlers.NewUserHandler(db)
	authed.POST("/users", userHandler.Create)
	authed.GET("/users", userHandler.List)
	authed.GET("/users/:id", userHandler.Get)
	authed.POST("/users/:id/disable", userHandler.Disable)
	authed.POST("/users/:id/enable", userHandler.Enable)

	apiKeyHandler := handlers.NewAPIKeyHandler(db, limiter)
	authed.GET("/api-keys", apiKeyHandler.List)
	authed.DELETE("/api-keys/:id", apiKeyHandler.Revoke)
	authed.PUT("/api-keys/:id/limits", apiKeyHandler.UpdateLimits)
	authed.GET("/api-keys/:id/rate-limit", apiKeyHandler.Status)
	authed.POST("/users/:id/api-keys", apiKeyHandler.CreateForUser)
	authed.GET("/users/:id/api-keys", apiKeyHandler.ListByUser)

	settingHandler := handlers.NewSettingHandler(db, poller)
	authed.GET("/settings", settingHandler.List)
	authed.GET("/settings/:key", settingHandler.Get)
	authed.PUT("/settings/:key", settingHandler.Update)
}

// adminAuthMiddleware validates admin JWTs and loads admin context.
func adminAuthMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token, time.Now())
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("adminUsername", claims.Username)
		c.Next()
	}
}
