package access

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MetadataKey is the gin context key holding access metadata of the caller.
const MetadataKey = "accessMetadata"

// ErrInvalidAPIKey indicates the presented key is unknown, inactive, revoked, expired or owned by a disabled user.
var ErrInvalidAPIKey = errors.New("access: invalid api key")

// Principal identifies the API key and user behind a request.
type Principal struct {
	APIKeyID string
	UserID   string
}

// Authenticate resolves a token to the active API key it belongs to.
func Authenticate(ctx context.Context, db *gorm.DB, token string, now time.Time) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" || db == nil {
		return Principal{}, ErrInvalidAPIKey
	}
	var row models.APIKey
	if errFind := db.WithContext(ctx).
		Model(&models.APIKey{}).
		Select("id", "user_id", "active", "expires_at", "revoked_at").
		Where("api_key = ?", token).
		Take(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return Principal{}, ErrInvalidAPIKey
		}
		return Principal{}, fmt.Errorf("access: lookup api key: %w", errFind)
	}
	if !row.Active || row.RevokedAt != nil {
		return Principal{}, ErrInvalidAPIKey
	}
	if row.ExpiresAt != nil && !row.ExpiresAt.After(now) {
		return Principal{}, ErrInvalidAPIKey
	}

	var owner models.User
	if errOwner := db.WithContext(ctx).
		Model(&models.User{}).
		Select("id", "disabled").
		Where("id = ?", row.UserID).
		Take(&owner).Error; errOwner != nil {
		if errors.Is(errOwner, gorm.ErrRecordNotFound) {
			return Principal{}, ErrInvalidAPIKey
		}
		return Principal{}, fmt.Errorf("access: lookup api key owner: %w", errOwner)
	}
	if owner.Disabled {
		return Principal{}, ErrInvalidAPIKey
	}
	return Principal{APIKeyID: row.ID, UserID: row.UserID}, nil
}

// Middleware authenticates requests by API key and stores access metadata on the context.
func Middleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing api key"})
			return
		}
		now := time.Now().UTC()
		principal, errAuth := Authenticate(c.Request.Context(), db, token, now)
		if errAuth != nil {
			if errors.Is(errAuth, ErrInvalidAPIKey) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
				return
			}
			log.WithError(errAuth).Error("access: authenticate api key failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authenticate api key failed"})
			return
		}
		c.Set(MetadataKey, map[string]string{
			"api_key_id": principal.APIKeyID,
			"user_id":    principal.UserID,
		})
		touchLastUsed(c.Request.Context(), db, principal.APIKeyID, now)
		c.Next()
	}
}

// PrincipalFromContext reads the principal stored by Middleware.
func PrincipalFromContext(c *gin.Context) (Principal, bool) {
	if c == nil {
		return Principal{}, false
	}
	raw, ok := c.Get(MetadataKey)
	if !ok {
		return Principal{}, false
	}
	meta, ok := raw.(map[string]string)
	if !ok {
		return Principal{}, false
	}
	principal := Principal{
		APIKeyID: strings.TrimSpace(meta["api_key_id"]),
		UserID:   strings.TrimSpace(meta["user_id"]),
	}
	if principal.APIKeyID == "" || principal.UserID == "" {
		return Principal{}, false
	}
	return principal, true
}

func extractToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		scheme, value, found := strings.Cut(header, " ")
		if found && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(value)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func touchLastUsed(ctx context.Context, db *gorm.DB, apiKeyID string, now time.Time) {
	if errUpdate := db.WithContext(ctx).
		Model(&models.APIKey{}).
		Where("id = ?", apiKeyID).
		UpdateColumn("last_used_at", now).Error; errUpdate != nil {
		log.WithError(errUpdate).Warn("access: update last_used_at failed")
	}
}
