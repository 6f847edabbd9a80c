package models

import "time"

// APIKey is a credential issued to a user together with its rate limits.
type APIKey struct {
	ID string `gorm:"type:varchar(36);primaryKey"` // UUID primary key.

	UserID string `gorm:"type:varchar(36);not null;index"` // Owning user ID.
	Name   string `gorm:"type:text;not null"`              // Display name.
	APIKey string `gorm:"type:text;not null;uniqueIndex"`  // Secret token presented by clients.

	RateLimitPerMinute int `gorm:"not null;default:60"`    // Requests allowed per minute.
	RateLimitPerHour   int `gorm:"not null;default:1000"`  // Requests allowed per hour.
	RateLimitPerDay    int `gorm:"not null;default:10000"` // Requests allowed per day.

	Active     bool       `gorm:"not null;default:true"` // Whether the key can be used.
	ExpiresAt  *time.Time `gorm:"index"`                 // Optional expiry time.
	RevokedAt  *time.Time `gorm:"index"`                 // Revocation time.
	LastUsedAt *time.Time // Last successful authentication.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
