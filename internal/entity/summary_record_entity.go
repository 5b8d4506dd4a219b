package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// summaryNamespace scopes the deterministic record ids.
var summaryNamespace = uuid.MustParse("3f6c2a9e-8d1b-5c47-9a0e-6b2d4f1e7c35")

// SummaryRecord is the durable knowledge unit produced by one processed query.
type SummaryRecord struct {
	Id           uuid.UUID
	Topic        string
	Query        string
	QueryKey     string // normalized query text
	Summary      string
	Embedding    []float32
	FollowUps    []string
	Sources      []string
	SnippetCount int
	CreatedAt    time.Time
	UpdatedAt    *time.Time
}

// SummaryId derives the record id from topic and normalized query, so that
// re-processing a query overwrites its record instead of adding a second one.
func SummaryId(topic, queryKey string) uuid.UUID {
	return uuid.NewSHA1(summaryNamespace, []byte(strings.TrimSpace(topic)+"\x00"+queryKey))
}
