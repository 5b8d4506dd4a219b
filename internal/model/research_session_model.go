package model

import (
	"time"

	"gorm.io/datatypes"
)

// ResearchSession stores the whole session state as one JSON document so a
// save is a single row write.
type ResearchSession struct {
	Topic     string         `gorm:"type:text;primaryKey"`
	State     datatypes.JSON `gorm:"type:jsonb;not null"`
	Version   int64          `gorm:"not null;default:0"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime"`
}

func (ResearchSession) TableName() string {
	return "research_sessions"
}
