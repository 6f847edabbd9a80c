package models

import "time"

// RateWindowCounter counts requests of one API key within one fixed window instance.
type RateWindowCounter struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	APIKeyID    string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_rate_window_counters_key,priority:1"` // Owning API key ID.
	WindowType  string    `gorm:"type:varchar(16);not null;uniqueIndex:idx_rate_window_counters_key,priority:2"` // minute, hour or day.
	WindowStart time.Time `gorm:"not null;uniqueIndex:idx_rate_window_counters_key,priority:3"`                  // Window start floored to its granularity.

	RequestCount int       `gorm:"not null;default:0"` // Admitted requests in the window.
	ExpiresAt    time.Time `gorm:"not null;index"`     // Time after which the row may be pruned.

	CreatedAt time.Time `gorm:"not null"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null"` // Last increment timestamp.
}
