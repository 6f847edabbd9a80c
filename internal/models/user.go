package models

import "time"

// User represents a developer account that owns API keys.
type User struct {
	ID string `gorm:"type:varchar(36);primaryKey"` // UUID primary key.

	Username string `gorm:"type:text;not null;uniqueIndex"` // Unique login name.
	Name     string `gorm:"type:text"`                      // Display name.
	Email    string `gorm:"type:text;index"`                // Email address.

	Disabled bool `gorm:"not null;default:false"` // Explicit disable flag.

	APIKeys []APIKey `gorm:"foreignKey:UserID"` // Related API keys.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
