package service

import (
	"context"
	"errors"
	"time"

	"ai-research-be/internal/dto"
	"ai-research-be/internal/entity"
	"ai-research-be/internal/pkg/logger"
	"ai-research-be/internal/repository/contract"
	"ai-research-be/internal/repository/unitofwork"
	"ai-research-be/pkg/research"
)

const sessionModule = "SESSION"

type ISessionService interface {
	// Load returns the stored state for topic, or a fresh one when none
	// exists or the stored one is corrupt. fresh reports the latter two.
	Load(ctx context.Context, topic string) (state *entity.SessionState, fresh bool, err error)
	Save(ctx context.Context, state *entity.SessionState) error
	// Checkpoint persists state and, when non-nil, record in one unit of work.
	Checkpoint(ctx context.Context, state *entity.SessionState, record *entity.SummaryRecord) error
	// Enqueue adds query to the pending queue unless it is already known,
	// too deep, or the queue is full. It reports whether query was added.
	Enqueue(state *entity.SessionState, query research.Query) bool
	Status(ctx context.Context, topic string) (*dto.SessionStatusResponse, error)
	ListTopics(ctx context.Context) ([]string, error)
}

type SessionOptions struct {
	MaxQueue     int
	MaxDepth     int
	StoreTimeout time.Duration
}

type sessionService struct {
	uowFactory unitofwork.RepositoryFactory
	opts       SessionOptions
	logger     logger.ILogger
	now        func() time.Time
}

func NewSessionService(
	uowFactory unitofwork.RepositoryFactory,
	opts SessionOptions,
	logger logger.ILogger,
) ISessionService {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 10 * time.Second
	}
	return &sessionService{
		uowFactory: uowFactory,
		opts:       opts,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// storeContext bounds a store call; it survives cancellation of ctx so a
// checkpoint started before SIGTERM is allowed to land.
func (s *sessionService) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.opts.StoreTimeout)
}

func (s *sessionService) Load(ctx context.Context, topic string) (*entity.SessionState, bool, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	uow := s.uowFactory.NewUnitOfWork(ctx)
	state, err := uow.SessionRepository().Load(ctx, topic)
	if errors.Is(err, contract.ErrStateCorrupt) {
		s.logger.Warn(sessionModule, "Stored session is corrupt, starting fresh", map[string]interface{}{
			"topic": topic,
			"error": err.Error(),
		})
		return entity.NewSessionState(topic, s.now()), true, nil
	}
	if err != nil {
		return nil, false, contract.StoreError("load session", err)
	}
	if state == nil {
		return entity.NewSessionState(topic, s.now()), true, nil
	}

	s.logger.Info(sessionModule, "Session resumed", map[string]interface{}{
		"topic":     topic,
		"iteration": state.Iteration,
		"pending":   state.Pending.Len(),
		"processed": len(state.Processed),
		"version":   state.Version,
	})
	return state, false, nil
}

func (s *sessionService) Save(ctx context.Context, state *entity.SessionState) error {
	return s.Checkpoint(ctx, state, nil)
}

func (s *sessionService) Checkpoint(ctx context.Context, state *entity.SessionState, record *entity.SummaryRecord) error {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	uow := s.uowFactory.NewUnitOfWork(ctx)
	if err := uow.Begin(ctx); err != nil {
		return contract.StoreError("begin checkpoint", err)
	}
	defer func() {
		if r := recover(); r != nil {
			uow.Rollback()
			panic(r)
		}
	}()

	if record != nil {
		if err := uow.SummaryRepository().Upsert(ctx, record); err != nil {
			uow.Rollback()
			return contract.StoreError("upsert summary", err)
		}
	}

	state.Version++
	if err := uow.SessionRepository().Save(ctx, state); err != nil {
		state.Version--
		uow.Rollback()
		return contract.StoreError("save session", err)
	}

	if err := uow.Commit(); err != nil {
		state.Version--
		return contract.StoreError("commit checkpoint", err)
	}
	return nil
}

func (s *sessionService) Enqueue(state *entity.SessionState, query research.Query) bool {
	if query.Key() == "" {
		return false
	}
	if state.Known(query.Text) {
		s.logger.Debug(sessionModule, "Query already known", map[string]interface{}{
			"topic": state.Topic,
			"query": query.Text,
		})
		return false
	}
	if query.Depth > s.opts.MaxDepth {
		s.logger.Info(sessionModule, "Follow-up dropped: depth ceiling", map[string]interface{}{
			"topic":     state.Topic,
			"query":     query.Text,
			"depth":     query.Depth,
			"max_depth": s.opts.MaxDepth,
		})
		return false
	}
	if s.opts.MaxQueue > 0 && state.Pending.Len() >= s.opts.MaxQueue {
		s.logger.Warn(sessionModule, "Follow-up dropped: pending queue full", map[string]interface{}{
			"topic":     state.Topic,
			"query":     query.Text,
			"max_queue": s.opts.MaxQueue,
		})
		return false
	}

	state.Pending.Push(query)
	return true
}

func (s *sessionService) Status(ctx context.Context, topic string) (*dto.SessionStatusResponse, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	uow := s.uowFactory.NewUnitOfWork(ctx)
	records, err := uow.SummaryRepository().Count(ctx, topic)
	if err != nil {
		return nil, contract.StoreError("count summaries", err)
	}

	res := &dto.SessionStatusResponse{
		Topic:     topic,
		Records:   records,
		Pending:   make([]dto.PendingQueryResponse, 0),
		Processed: make(map[string]int),
	}

	state, err := uow.SessionRepository().Load(ctx, topic)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return res, nil
	}

	res.Exists = true
	res.Iteration = state.Iteration
	res.Version = state.Version
	res.StartedAt = &state.StartedAt
	res.LastRunAt = &state.LastRunAt
	res.Retrying = len(state.Retries)
	for _, q := range state.Pending {
		res.Pending = append(res.Pending, dto.PendingQueryResponse{
			Text:   q.Text,
			Origin: string(q.Origin),
			Depth:  q.Depth,
		})
	}
	for outcome, n := range state.OutcomeCounts() {
		res.Processed[string(outcome)] = n
	}
	if state.Terminated != nil {
		res.Terminated = &dto.TerminationResponse{
			Reason: string(state.Terminated.Reason),
			At:     state.Terminated.At,
		}
	}
	return res, nil
}

func (s *sessionService) ListTopics(ctx context.Context) ([]string, error) {
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	uow := s.uowFactory.NewUnitOfWork(ctx)
	topics, err := uow.SessionRepository().ListTopics(ctx)
	if err != nil {
		return nil, contract.StoreError("list topics", err)
	}
	return topics, nil
}
