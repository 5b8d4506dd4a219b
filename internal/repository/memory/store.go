package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ai-research-be/internal/entity"
	"ai-research-be/internal/mapper"
	"ai-research-be/internal/repository/contract"
	"ai-research-be/internal/repository/unitofwork"
	"ai-research-be/pkg/embedding"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// Store keeps summaries and sessions in process memory. Nothing expires;
// it backs tests and dry runs (STORE_DRIVER=memory).
type Store struct {
	mu        sync.RWMutex
	summaries *cache.Cache // id -> *entity.SummaryRecord
	sessions  *cache.Cache // topic -> []byte (encoded state)
	mapper    *mapper.SessionStateMapper
}

var _ unitofwork.RepositoryFactory = &Store{}

func NewStore() *Store {
	return &Store{
		summaries: cache.New(cache.NoExpiration, 0),
		sessions:  cache.New(cache.NoExpiration, 0),
		mapper:    mapper.NewSessionStateMapper(),
	}
}

func (s *Store) NewUnitOfWork(ctx context.Context) unitofwork.UnitOfWork {
	return &unitOfWork{store: s}
}

func (s *Store) Close() error { return nil }

// PutRawSession stores an arbitrary session document, bypassing encoding.
func (s *Store) PutRawSession(topic string, raw []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions.Set(topic, raw, cache.NoExpiration)
}

// write is one staged mutation.
type write func()

type unitOfWork struct {
	store  *Store
	staged []write
	active bool
}

func (u *unitOfWork) Begin(ctx context.Context) error {
	if u.active {
		return fmt.Errorf("transaction already started")
	}
	u.active = true
	u.staged = nil
	return nil
}

// Commit applies every staged write under one lock, so readers see all of
// them or none.
func (u *unitOfWork) Commit() error {
	if !u.active {
		return fmt.Errorf("no transaction to commit")
	}
	u.store.mu.Lock()
	for _, w := range u.staged {
		w()
	}
	u.store.mu.Unlock()
	u.active = false
	u.staged = nil
	return nil
}

func (u *unitOfWork) Rollback() error {
	if !u.active {
		return fmt.Errorf("no transaction to rollback")
	}
	u.active = false
	u.staged = nil
	return nil
}

// apply stages w inside a transaction, or runs it immediately.
func (u *unitOfWork) apply(w write) {
	if u.active {
		u.staged = append(u.staged, w)
		return
	}
	u.store.mu.Lock()
	w()
	u.store.mu.Unlock()
}

func (u *unitOfWork) SummaryRepository() contract.SummaryRepository {
	return &summaryRepository{uow: u}
}

func (u *unitOfWork) SessionRepository() contract.SessionRepository {
	return &sessionRepository{uow: u}
}

type summaryRepository struct {
	uow *unitOfWork
}

func (r *summaryRepository) Upsert(ctx context.Context, record *entity.SummaryRecord) error {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = &now

	stored := cloneRecord(record)
	r.uow.apply(func() {
		r.uow.store.summaries.Set(stored.Id.String(), stored, cache.NoExpiration)
	})
	return nil
}

func (r *summaryRepository) FindById(ctx context.Context, id uuid.UUID) (*entity.SummaryRecord, error) {
	s := r.uow.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	if x, found := s.summaries.Get(id.String()); found {
		return cloneRecord(x.(*entity.SummaryRecord)), nil
	}
	return nil, nil
}

func (r *summaryRepository) topicRecords(topic string) []*entity.SummaryRecord {
	s := r.uow.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entity.SummaryRecord
	for _, item := range s.summaries.Items() {
		rec := item.Object.(*entity.SummaryRecord)
		if rec.Topic == topic {
			out = append(out, rec)
		}
	}
	return out
}

func (r *summaryRepository) ListRefs(ctx context.Context, topic string, from, to time.Time) ([]contract.SummaryRef, error) {
	refs := []contract.SummaryRef{}
	for _, rec := range r.topicRecords(topic) {
		if !from.IsZero() && rec.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !rec.CreatedAt.Before(to) {
			continue
		}
		refs = append(refs, contract.SummaryRef{Id: rec.Id, CreatedAt: rec.CreatedAt})
	}
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].CreatedAt.Before(refs[j].CreatedAt) })
	return refs, nil
}

func (r *summaryRepository) Nearest(ctx context.Context, topic string, vector []float32, k int) ([]*contract.ScoredSummary, error) {
	if k <= 0 {
		k = 1
	}
	var scored []*contract.ScoredSummary
	for _, rec := range r.topicRecords(topic) {
		if len(rec.Embedding) == 0 {
			continue
		}
		scored = append(scored, &contract.ScoredSummary{
			Record:   cloneRecord(rec),
			Distance: embedding.CosineDistance(vector, rec.Embedding),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Distance < scored[j].Distance })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

func (r *summaryRepository) Count(ctx context.Context, topic string) (int64, error) {
	return int64(len(r.topicRecords(topic))), nil
}

type sessionRepository struct {
	uow *unitOfWork
}

func (r *sessionRepository) Load(ctx context.Context, topic string) (*entity.SessionState, error) {
	s := r.uow.store
	s.mu.RLock()
	x, found := s.sessions.Get(topic)
	s.mu.RUnlock()
	if !found {
		return nil, nil
	}

	state, err := s.mapper.Decode(topic, x.([]byte))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrStateCorrupt, err)
	}
	return state, nil
}

// Save encodes a fresh document and swaps it in; the previous document is
// never mutated.
func (r *sessionRepository) Save(ctx context.Context, state *entity.SessionState) error {
	raw, err := r.uow.store.mapper.Encode(state)
	if err != nil {
		return err
	}
	topic := state.Topic
	r.uow.apply(func() {
		r.uow.store.sessions.Set(topic, raw, cache.NoExpiration)
	})
	return nil
}

func (r *sessionRepository) ListTopics(ctx context.Context) ([]string, error) {
	s := r.uow.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	topics := make([]string, 0, s.sessions.ItemCount())
	for topic := range s.sessions.Items() {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics, nil
}

func cloneRecord(r *entity.SummaryRecord) *entity.SummaryRecord {
	out := *r
	out.Embedding = append([]float32(nil), r.Embedding...)
	out.FollowUps = append([]string(nil), r.FollowUps...)
	out.Sources = append([]string(nil), r.Sources...)
	if r.UpdatedAt != nil {
		t := *r.UpdatedAt
		out.UpdatedAt = &t
	}
	return &out
}
