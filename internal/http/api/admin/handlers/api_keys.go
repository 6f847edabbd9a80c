package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/models"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/ratelimit"
	"github.com/router-for-me/CLIProxyAPIPortal/internal/security"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RateLimiter is the part of the limiter used by admin endpoints.
type RateLimiter interface {
	Initialize(ctx context.Context, apiKeyID, userID string, limits ratelimit.Limits) error
	Status(ctx context.Context, apiKeyID, userID string) (ratelimit.Status, error)
}

// defaultKeyLimits apply when a create request omits a window.
var defaultKeyLimits = ratelimit.Limits{PerMinute: 60, PerHour: 1000, PerDay: 10000}

// APIKeyHandler manages admin API key endpoints.
type APIKeyHandler struct {
	db      *gorm.DB
	limiter RateLimiter
}

// NewAPIKeyHandler constructs an APIKeyHandler.
func NewAPIKeyHandler(db *gorm.DB, limiter RateLimiter) *APIKeyHandler {
	return &APIKeyHandler{db: db, limiter: limiter}
}

// limitsRequest carries optional per-window limits.
type limitsRequest struct {
	PerMinute *int `json:"rate_limit_per_minute"`
	PerHour   *int `json:"rate_limit_per_hour"`
	PerDay    *int `json:"rate_limit_per_day"`
}

// merge overlays the provided windows on base.
func (r limitsRequest) merge(base ratelimit.Limits) ratelimit.Limits {
	if r.PerMinute != nil {
		base.PerMinute = *r.PerMinute
	}
	if r.PerHour != nil {
		base.PerHour = *r.PerHour
	}
	if r.PerDay != nil {
		base.PerDay = *r.PerDay
	}
	return base
}

// CreateForUser issues a new API key for a user and seeds its rate limit counters.
func (h *APIKeyHandler) CreateForUser(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	// body holds the create request payload.
	var body struct {
		Name      string     `json:"name"`
		ExpiresAt *time.Time `json:"expires_at"`
		limitsRequest
	}
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name"})
		return
	}
	limits := body.limitsRequest.merge(defaultKeyLimits)
	if errValidate := limits.Validate(); errValidate != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rate limits must be positive integers"})
		return
	}

	ctx := c.Request.Context()
	var user models.User
	if errFind := h.db.WithContext(ctx).Select("id", "disabled").Where("id = ?", userID).Take(&user).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query user failed"})
		return
	}
	if user.Disabled {
		c.JSON(http.StatusConflict, gin.H{"error": "user disabled"})
		return
	}

	token, errGenerate := security.GenerateAPIKey()
	if errGenerate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "generate api key failed"})
		return
	}

	now := time.Now().UTC()
	row := models.APIKey{
		ID:                 uuid.NewString(),
		UserID:             userID,
		Name:               name,
		APIKey:             token,
		RateLimitPerMinute: limits.PerMinute,
		RateLimitPerHour:   limits.PerHour,
		RateLimitPerDay:    limits.PerDay,
		Active:             true,
		ExpiresAt:          body.ExpiresAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if errCreate := h.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create api key failed"})
		return
	}

	initialized := true
	if h.limiter != nil {
		if errInit := h.limiter.Initialize(ctx, row.ID, row.UserID, limits); errInit != nil {
			// Consume creates missing counters on first use.
			log.WithError(errInit).WithField("api_key_id", row.ID).Warn("admin: seed rate limit counters failed")
			initialized = false
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":                     row.ID,
		"user_id":                row.UserID,
		"name":                   row.Name,
		"token":                  token,
		"rate_limit_per_minute":  row.RateLimitPerMinute,
		"rate_limit_per_hour":    row.RateLimitPerHour,
		"rate_limit_per_day":     row.RateLimitPerDay,
		"expires_at":             row.ExpiresAt,
		"rate_limit_initialized": initialized,
	})
}

// ListByUser returns API keys for a specific user.
func (h *APIKeyHandler) ListByUser(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var rows []models.APIKey
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list api keys failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatAPIKey(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": out})
}

// List returns all API keys.
func (h *APIKeyHandler) List(c *gin.Context) {
	var rows []models.APIKey
	if errFind := h.db.WithContext(c.Request.Context()).Order("created_at DESC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list api keys failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatAPIKey(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": out})
}

// UpdateLimits replaces the rate limits of an API key. Existing counters are kept.
func (h *APIKeyHandler) UpdateLimits(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body limitsRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	ctx := c.Request.Context()
	var row models.APIKey
	if errFind := h.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query api key failed"})
		return
	}

	limits := body.merge(ratelimit.Limits{
		PerMinute: row.RateLimitPerMinute,
		PerHour:   row.RateLimitPerHour,
		PerDay:    row.RateLimitPerDay,
	})
	if errValidate := limits.Validate(); errValidate != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rate limits must be positive integers"})
		return
	}

	res := h.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"rate_limit_per_minute": limits.PerMinute,
			"rate_limit_per_hour":   limits.PerHour,
			"rate_limit_per_day":    limits.PerDay,
			"updated_at":            time.Now().UTC(),
		})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":                    id,
		"rate_limit_per_minute": limits.PerMinute,
		"rate_limit_per_hour":   limits.PerHour,
		"rate_limit_per_day":    limits.PerDay,
	})
}

// Status reports the current rate limit usage of an API key.
func (h *APIKeyHandler) Status(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if h.limiter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rate limiter unavailable"})
		return
	}

	ctx := c.Request.Context()
	var row models.APIKey
	if errFind := h.db.WithContext(ctx).Select("id", "user_id").Where("id = ?", id).Take(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query api key failed"})
		return
	}

	status, errStatus := h.limiter.Status(ctx, row.ID, row.UserID)
	if errStatus != nil {
		switch {
		case errors.Is(errStatus, ratelimit.ErrConfigNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "rate limit config not found"})
		case errors.Is(errStatus, ratelimit.ErrStoreUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "rate limiter unavailable"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "read rate limit status failed"})
		}
		return
	}
	c.JSON(http.StatusOK, status)
}

// Revoke revokes an API key by ID.
func (h *APIKeyHandler) Revoke(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	now := time.Now().UTC()
	res := h.db.WithContext(c.Request.Context()).Model(&models.APIKey{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Updates(map[string]any{
			"active":     false,
			"revoked_at": &now,
			"updated_at": now,
		})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revoke failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func formatAPIKey(row *models.APIKey) gin.H {
	return gin.H{
		"id":                    row.ID,
		"user_id":               row.UserID,
		"name":                  row.Name,
		"key_prefix":            security.MaskAPIKey(row.APIKey),
		"rate_limit_per_minute": row.RateLimitPerMinute,
		"rate_limit_per_hour":   row.RateLimitPerHour,
		"rate_limit_per_day":    row.RateLimitPerDay,
		"active":                row.Active,
		"expires_at":            row.ExpiresAt,
		"revoked_at":            row.RevokedAt,
		"last_used_at":          row.LastUsedAt,
		"created_at":            row.CreatedAt,
	}
}
