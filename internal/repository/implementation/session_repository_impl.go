package implementation

import (
	"context"
	"errors"
	"fmt"

	"ai-research-be/internal/entity"
	"ai-research-be/internal/mapper"
	"ai-research-be/internal/model"
	"ai-research-be/internal/repository/contract"
	"ai-research-be/internal/repository/specification"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SessionRepositoryImpl struct {
	db     *gorm.DB
	mapper *mapper.SessionStateMapper
}

func NewSessionRepository(db *gorm.DB) contract.SessionRepository {
	return &SessionRepositoryImpl{
		db:     db,
		mapper: mapper.NewSessionStateMapper(),
	}
}

func (r *SessionRepositoryImpl) Load(ctx context.Context, topic string) (*entity.SessionState, error) {
	var m model.ResearchSession
	err := specification.ByTopic{Topic: topic}.Apply(r.db.WithContext(ctx)).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, contract.StoreError("load session", err)
	}

	state, err := r.mapper.Decode(topic, m.State)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrStateCorrupt, err)
	}
	return state, nil
}

func (r *SessionRepositoryImpl) Save(ctx context.Context, state *entity.SessionState) error {
	raw, err := r.mapper.Encode(state)
	if err != nil {
		return err
	}

	m := &model.ResearchSession{
		Topic:   state.Topic,
		State:   datatypes.JSON(raw),
		Version: state.Version,
	}
	err = r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "topic"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "version", "updated_at"}),
		}).
		Create(m).Error
	return contract.StoreError("save session", err)
}

func (r *SessionRepositoryImpl) ListTopics(ctx context.Context) ([]string, error) {
	var topics []string
	err := r.db.WithContext(ctx).Model(&model.ResearchSession{}).Order("topic ASC").Pluck("topic", &topics).Error
	if err != nil {
		return nil, contract.StoreError("list sessions", err)
	}
	return topics, nil
}
