package models

import (
	"time"

	"gorm.io/datatypes"
)

// Setting stores a runtime configuration value as JSON.
type Setting struct {
	Key       string         `gorm:"type:varchar(128);primaryKey"` // Setting name.
	Value     datatypes.JSON `gorm:"type:text"`                    // JSON encoded value.
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime"`      // Last update timestamp.
}
