package specification

import (
	"time"

	"gorm.io/gorm"
)

// ByTopic filters by research topic
type ByTopic struct {
	Topic string
}

func (s ByTopic) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("topic = ?", s.Topic)
}

// CreatedBetween keeps rows with From <= created_at < To. A zero bound is open.
type CreatedBetween struct {
	From time.Time
	To   time.Time
}

func (s CreatedBetween) Apply(db *gorm.DB) *gorm.DB {
	if !s.From.IsZero() {
		db = db.Where("created_at >= ?", s.From)
	}
	if !s.To.IsZero() {
		db = db.Where("created_at < ?", s.To)
	}
	return db
}
