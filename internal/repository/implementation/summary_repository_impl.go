package implementation

import (
	"context"
	"errors"
	"sort"
	"time"

	"ai-research-be/internal/entity"
	"ai-research-be/internal/mapper"
	"ai-research-be/internal/model"
	"ai-research-be/internal/repository/contract"
	"ai-research-be/internal/repository/specification"
	"ai-research-be/pkg/embedding"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SummaryRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.SummaryRecordMapper
}

func NewSummaryRepository(db *gorm.DB) contract.SummaryRepository {
	return &SummaryRepositoryImpl{
		db:     db,
		mapper: mapper.NewSummaryRecordMapper(),
	}
}

func (r *SummaryRepositoryImpl) applySpecifications(db *gorm.DB, specs ...specification.Specification) *gorm.DB {
	for _, spec := range specs {
		db = spec.Apply(db)
	}
	return db
}

func (r *SummaryRepositoryImpl) Upsert(ctx context.Context, record *entity.SummaryRecord) error {
	m := r.mapper.ToModel(record)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(m).Error
	if err != nil {
		return contract.StoreError("upsert summary", err)
	}
	*record = *r.mapper.ToEntity(m)
	return nil
}

func (r *SummaryRepositoryImpl) FindById(ctx context.Context, id uuid.UUID) (*entity.SummaryRecord, error) {
	var m model.ResearchSummary
	query := r.applySpecifications(r.db.WithContext(ctx), specification.ByID{ID: id})
	if err := query.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, contract.StoreError("find summary", err)
	}
	return r.mapper.ToEntity(&m), nil
}

func (r *SummaryRepositoryImpl) ListRefs(ctx context.Context, topic string, from, to time.Time) ([]contract.SummaryRef, error) {
	var rows []struct {
		Id        uuid.UUID
		CreatedAt time.Time
	}
	query := r.applySpecifications(r.db.WithContext(ctx).Model(&model.ResearchSummary{}),
		specification.ByTopic{Topic: topic},
		specification.CreatedBetween{From: from, To: to},
		specification.OrderBy{Field: "created_at"},
	)
	if err := query.Select("id", "created_at").Scan(&rows).Error; err != nil {
		return nil, contract.StoreError("list summaries", err)
	}

	refs := make([]contract.SummaryRef, len(rows))
	for i, row := range rows {
		refs[i] = contract.SummaryRef{Id: row.Id, CreatedAt: row.CreatedAt}
	}
	return refs, nil
}

func (r *SummaryRepositoryImpl) Nearest(ctx context.Context, topic string, vector []float32, k int) ([]*contract.ScoredSummary, error) {
	if k <= 0 {
		k = 1
	}
	if r.db.Dialector.Name() == "sqlite" {
		return r.nearestScan(ctx, topic, vector, k)
	}

	// Cosine distance in pgvector: embedding <=> query_vector
	type result struct {
		model.ResearchSummary
		Distance float64
	}
	var results []result

	queryVector := pgvector.NewVector(vector)

	err := r.db.WithContext(ctx).
		Table("research_summaries").
		Select("research_summaries.*, embedding <=> ? AS distance", queryVector).
		Where("topic = ?", topic).
		Where("embedding IS NOT NULL").
		Order("distance ASC").
		Limit(k).
		Scan(&results).Error
	if err != nil {
		return nil, contract.StoreError("nearest summaries", err)
	}

	scored := make([]*contract.ScoredSummary, len(results))
	for i, res := range results {
		scored[i] = &contract.ScoredSummary{
			Record:   r.mapper.ToEntity(&res.ResearchSummary),
			Distance: res.Distance,
		}
	}
	return scored, nil
}

// nearestScan ranks the topic's records in memory. SQLite has no vector
// operator; a nightly run produces at most a few hundred records per topic.
func (r *SummaryRepositoryImpl) nearestScan(ctx context.Context, topic string, vector []float32, k int) ([]*contract.ScoredSummary, error) {
	var rows []model.ResearchSummary
	query := r.applySpecifications(r.db.WithContext(ctx), specification.ByTopic{Topic: topic})
	if err := query.Find(&rows).Error; err != nil {
		return nil, contract.StoreError("nearest summaries", err)
	}

	scored := make([]*contract.ScoredSummary, 0, len(rows))
	for i := range rows {
		record := r.mapper.ToEntity(&rows[i])
		if len(record.Embedding) == 0 {
			continue
		}
		scored = append(scored, &contract.ScoredSummary{
			Record:   record,
			Distance: embedding.CosineDistance(vector, record.Embedding),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Distance < scored[j].Distance })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (r *SummaryRepositoryImpl) Count(ctx context.Context, topic string) (int64, error) {
	var count int64
	query := r.applySpecifications(r.db.WithContext(ctx).Model(&model.ResearchSummary{}), specification.ByTopic{Topic: topic})
	if err := query.Count(&count).Error; err != nil {
		return 0, contract.StoreError("count summaries", err)
	}
	return count, nil
}
