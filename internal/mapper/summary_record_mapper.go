package mapper

import (
	"encoding/json"
	"time"

	"ai-research-be/internal/entity"
	"ai-research-be/internal/model"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

type SummaryRecordMapper struct{}

func NewSummaryRecordMapper() *SummaryRecordMapper {
	return &SummaryRecordMapper{}
}

func (m *SummaryRecordMapper) ToEntity(s *model.ResearchSummary) *entity.SummaryRecord {
	if s == nil {
		return nil
	}

	var updatedAt *time.Time
	if !s.UpdatedAt.IsZero() {
		t := s.UpdatedAt
		updatedAt = &t
	}

	return &entity.SummaryRecord{
		Id:           s.Id,
		Topic:        s.Topic,
		Query:        s.Query,
		QueryKey:     s.QueryKey,
		Summary:      s.Summary,
		Embedding:    s.Embedding.Slice(),
		FollowUps:    DecodeStrings(s.FollowUps),
		Sources:      DecodeStrings(s.Sources),
		SnippetCount: s.SnippetCount,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    updatedAt,
	}
}

func (m *SummaryRecordMapper) ToModel(e *entity.SummaryRecord) *model.ResearchSummary {
	if e == nil {
		return nil
	}

	var updatedAt time.Time
	if e.UpdatedAt != nil {
		updatedAt = *e.UpdatedAt
	}

	return &model.ResearchSummary{
		Id:           e.Id,
		Topic:        e.Topic,
		Query:        e.Query,
		QueryKey:     e.QueryKey,
		Summary:      e.Summary,
		Embedding:    pgvector.NewVector(e.Embedding),
		FollowUps:    datatypes.JSON(EncodeStrings(e.FollowUps)),
		Sources:      datatypes.JSON(EncodeStrings(e.Sources)),
		SnippetCount: e.SnippetCount,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    updatedAt,
	}
}

// EncodeStrings renders a string list as a JSON array, never null.
func EncodeStrings(values []string) []byte {
	if values == nil {
		values = []string{}
	}
	raw, _ := json.Marshal(values)
	return raw
}

// DecodeStrings is lenient: unreadable JSON yields an empty list.
func DecodeStrings(raw []byte) []string {
	out := []string{}
	if len(raw) == 0 {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}
