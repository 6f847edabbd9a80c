package ratelimit

import (
	"context"
	"errors"
	"strings"

	"github.com/router-for-me/CLIProxyAPIPortal/internal/models"
	"gorm.io/gorm"
)

// GormLimitsSource loads API key limits from the api_keys table.
type GormLimitsSource struct {
	db *gorm.DB
}

// NewGormLimitsSource constructs a GormLimitsSource.
func NewGormLimitsSource(db *gorm.DB) *GormLimitsSource {
	return &GormLimitsSource{db: db}
}

// Limits returns the limits of the key owned by userID.
func (s *GormLimitsSource) Limits(ctx context.Context, apiKeyID, userID string) (Limits, error) {
	apiKeyID = strings.TrimSpace(apiKeyID)
	userID = strings.TrimSpace(userID)
	if apiKeyID == "" || userID == "" {
		return Limits{}, ErrConfigNotFound
	}
	if s == nil || s.db == nil {
		return Limits{}, storeError("load limits", errors.New("nil db"))
	}
	// limitsRow holds the selected limit columns.
	type limitsRow struct {
		RateLimitPerMinute int
		RateLimitPerHour   int
		RateLimitPerDay    int
	}
	var row limitsRow
	if errFind := s.db.WithContext(ctx).
		Model(&models.APIKey{}).
		Select("rate_limit_per_minute", "rate_limit_per_hour", "rate_limit_per_day").
		Where("id = ? AND user_id = ?", apiKeyID, userID).
		Take(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return Limits{}, ErrConfigNotFound
		}
		return Limits{}, storeError("load limits", errFind)
	}
	limits := Limits{
		PerMinute: row.RateLimitPerMinute,
		PerHour:   row.RateLimitPerHour,
		PerDay:    row.RateLimitPerDay,
	}
	if errValidate := limits.Validate(); errValidate != nil {
		return Limits{}, errValidate
	}
	return limits, nil
}
