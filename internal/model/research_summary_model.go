package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

type ResearchSummary struct {
	Id           uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Topic        string          `gorm:"type:text;not null;index:idx_research_summaries_topic_created,priority:1"`
	Query        string          `gorm:"type:text;not null"`
	QueryKey     string          `gorm:"type:text;not null;index"`
	Summary      string          `gorm:"type:text;not null"`
	Embedding    pgvector.Vector `gorm:"type:vector"` // dimension pinned by the migrate command
	FollowUps    datatypes.JSON  `gorm:"type:jsonb"`
	Sources      datatypes.JSON  `gorm:"type:jsonb"`
	SnippetCount int             `gorm:"default:0"`
	CreatedAt    time.Time       `gorm:"index:idx_research_summaries_topic_created,priority:2"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime"`
}

func (ResearchSummary) TableName() string {
	return "research_summaries"
}
