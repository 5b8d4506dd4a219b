package contract

import (
	"context"
	"time"

	"ai-research-be/internal/entity"

	"github.com/google/uuid"
)

// ScoredSummary wraps a SummaryRecord with its cosine distance to a query vector
type ScoredSummary struct {
	Record   *entity.SummaryRecord
	Distance float64 // 0.0 = identical, 2.0 = opposite
}

// SummaryRef points at a record without loading it.
type SummaryRef struct {
	Id        uuid.UUID
	CreatedAt time.Time
}

type SummaryRepository interface {
	// Upsert inserts the record or replaces the one with the same Id.
	Upsert(ctx context.Context, record *entity.SummaryRecord) error
	// FindById returns nil, nil when the record does not exist.
	FindById(ctx context.Context, id uuid.UUID) (*entity.SummaryRecord, error)
	// ListRefs returns refs for topic with from <= CreatedAt < to, oldest first.
	// A zero bound is open.
	ListRefs(ctx context.Context, topic string, from, to time.Time) ([]SummaryRef, error)
	// Nearest returns up to k records of topic ordered by ascending distance.
	Nearest(ctx context.Context, topic string, vector []float32, k int) ([]*ScoredSummary, error)
	Count(ctx context.Context, topic string) (int64, error)
}
