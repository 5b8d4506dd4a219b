package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ai-research-be/internal/dto"
	"ai-research-be/internal/entity"
	"ai-research-be/internal/pkg/logger"
	"ai-research-be/internal/repository/contract"
	"ai-research-be/internal/repository/unitofwork"
	"ai-research-be/pkg/lock"
	"ai-research-be/pkg/llm"
	"ai-research-be/pkg/research"
	"ai-research-be/pkg/research/events"
	"ai-research-be/pkg/search"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const researchModule = "RESEARCH"

// ErrInvalidRequest is returned by Run for requests it refuses to start.
var ErrInvalidRequest = errors.New("invalid research request")

type IResearchService interface {
	// Run drives the loop for one topic until a bound is hit, the queue
	// drains, or ctx is cancelled. Runtime failures never surface as an
	// error; the returned DigestInput always carries a termination reason.
	Run(ctx context.Context, req *dto.RunRequest) (*dto.DigestInput, error)
}

type ResearchOptions struct {
	MaxFollowUps     int
	MaxResults       int
	MaxTokens        int
	MaxStoreFailures int
	SearchTimeout    time.Duration
	LLMTimeout       time.Duration
	LockTTL          time.Duration
	// StoreBackoff is the pause after a failed checkpoint, doubled per
	// consecutive failure.
	StoreBackoff time.Duration
}

type researchService struct {
	sessions ISessionService
	search   search.Provider
	llm      llm.LLMProvider
	dedup    *research.Deduplicator
	composer *research.PromptComposer
	locker   lock.Locker
	events   events.Publisher
	logger   logger.ILogger
	opts     ResearchOptions
	validate *validator.Validate
	tracer   trace.Tracer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

func NewResearchService(
	sessions ISessionService,
	searchProvider search.Provider,
	llmProvider llm.LLMProvider,
	dedup *research.Deduplicator,
	composer *research.PromptComposer,
	locker lock.Locker,
	publisher events.Publisher,
	logger logger.ILogger,
	opts ResearchOptions,
) IResearchService {
	if opts.MaxStoreFailures <= 0 {
		opts.MaxStoreFailures = 3
	}
	if opts.StoreBackoff <= 0 {
		opts.StoreBackoff = time.Second
	}
	if locker == nil {
		locker = lock.Nop{}
	}
	if publisher == nil {
		publisher = events.NewEventPublisher(nil, logger)
	}
	return &researchService{
		sessions: sessions,
		search:   searchProvider,
		llm:      llmProvider,
		dedup:    dedup,
		composer: composer,
		locker:   locker,
		events:   publisher,
		logger:   logger,
		opts:     opts,
		validate: validator.New(),
		tracer:   otel.Tracer("research"),
		now:      func() time.Time { return time.Now().UTC() },
		sleep:    sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// LockKey is the Redis key guarding a topic against concurrent runs.
func LockKey(topic string) string {
	return "research:lock:" + research.Normalize(topic)
}

// run carries the mutable state of one invocation.
type run struct {
	id         uuid.UUID
	req        *dto.RunRequest
	topic      string
	start      time.Time
	state      *entity.SessionState
	checkpoint *entity.SessionState
	lock       lock.Lock
	attempts   int
	records    []uuid.UUID
	lastRecord time.Time
}

func (s *researchService) Run(ctx context.Context, req *dto.RunRequest) (*dto.DigestInput, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	r := &run{
		id:      uuid.New(),
		req:     req,
		topic:   strings.TrimSpace(req.Topic),
		start:   s.now(),
		records: make([]uuid.UUID, 0),
	}

	ctx, span := s.tracer.Start(ctx, "research.Run",
		trace.WithAttributes(
			attribute.String("topic", r.topic),
			attribute.String("run_id", r.id.String()),
			attribute.Int("max_iterations", req.MaxIterations),
			attribute.String("max_duration", req.MaxDuration.String()),
		),
	)
	defer span.End()

	reason := s.execute(ctx, r)

	result := &dto.DigestInput{
		RunId:      r.id,
		Topic:      r.topic,
		From:       r.start,
		To:         s.rangeEnd(r),
		Iterations: r.attempts,
		Reason:     string(reason),
		RecordIds:  r.records,
	}
	if r.state != nil {
		result.Pending = r.state.Pending.Len()
	}

	span.SetAttributes(
		attribute.String("reason", string(reason)),
		attribute.Int("iterations", r.attempts),
		attribute.Int("records", len(r.records)),
	)
	s.logger.Info(researchModule, "Run terminated", map[string]interface{}{
		"run_id":     r.id.String(),
		"topic":      r.topic,
		"reason":     reason,
		"iterations": r.attempts,
		"records":    len(r.records),
		"pending":    result.Pending,
		"elapsed":    s.now().Sub(r.start).String(),
	})
	s.events.PublishRunTerminated(ctx, r.id, r.topic, string(reason), r.attempts, len(r.records))
	return result, nil
}

func (s *researchService) validateRequest(req *dto.RunRequest) error {
	if req == nil {
		return fmt.Errorf("%w: empty request", ErrInvalidRequest)
	}
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(req.Topic) == "" {
		return fmt.Errorf("%w: topic is blank", ErrInvalidRequest)
	}
	if req.MaxDuration < 0 || req.MaxIterations < 0 {
		return fmt.Errorf("%w: bounds must not be negative", ErrInvalidRequest)
	}
	if req.MaxDuration == 0 && req.MaxIterations == 0 {
		return fmt.Errorf("%w: at least one of max duration or max iterations must be positive", ErrInvalidRequest)
	}
	return nil
}

// rangeEnd is the exclusive upper bound of the run's digest range.
func (s *researchService) rangeEnd(r *run) time.Time {
	end := s.now()
	if !r.lastRecord.IsZero() && !r.lastRecord.Before(end) {
		end = r.lastRecord.Add(time.Nanosecond)
	}
	return end
}

// execute acquires the topic lock, prepares the session and drives the loop.
// It always leaves a termination reason on the persisted state when the
// store allows it.
func (s *researchService) execute(ctx context.Context, r *run) entity.TerminationReason {
	lk, err := s.locker.Acquire(ctx, LockKey(r.topic), s.opts.LockTTL)
	if errors.Is(err, lock.ErrLocked) {
		s.logger.Warn(researchModule, "Topic is being researched by another process", map[string]interface{}{
			"topic": r.topic,
		})
		return entity.ReasonLocked
	}
	if err != nil {
		s.logger.Warn(researchModule, "Run lock unavailable, continuing unlocked", map[string]interface{}{
			"topic": r.topic,
			"error": err.Error(),
		})
		lk = nil
	}
	if lk != nil {
		r.lock = lk
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := lk.Release(releaseCtx); err != nil {
				s.logger.Warn(researchModule, "Failed to release run lock", map[string]interface{}{
					"topic": r.topic,
					"error": err.Error(),
				})
			}
		}()
	}

	state, fresh, err := s.sessions.Load(ctx, r.topic)
	if err != nil {
		s.logger.Error(researchModule, "Cannot load session state", map[string]interface{}{
			"topic": r.topic,
			"error": err.Error(),
		})
		trace.SpanFromContext(ctx).RecordError(err)
		return entity.ReasonStoreUnavailable
	}
	r.state = state

	if state.Terminated != nil {
		s.logger.Info(researchModule, "Reopening terminated session", map[string]interface{}{
			"topic":       r.topic,
			"last_reason": state.Terminated.Reason,
		})
		state.Terminated = nil
	}
	s.seed(r)
	state.LastRunAt = r.start
	r.checkpoint = state.Clone()

	s.logger.Info(researchModule, "Run started", map[string]interface{}{
		"run_id":    r.id.String(),
		"topic":     r.topic,
		"resumed":   !fresh,
		"pending":   state.Pending.Len(),
		"iteration": state.Iteration,
	})
	s.events.PublishRunStarted(ctx, r.id, r.topic, state.Pending.Len(), !fresh)

	reason := s.loop(ctx, r)

	r.state.Terminated = &entity.Termination{Reason: reason, At: s.now()}
	if err := s.sessions.Save(ctx, r.state); err != nil {
		s.logger.Error(researchModule, "Failed to persist termination", map[string]interface{}{
			"topic":  r.topic,
			"reason": reason,
			"error":  err.Error(),
		})
		trace.SpanFromContext(ctx).RecordError(err)
	}
	return reason
}

// seed queues the topic itself and any extra seeds that are not yet known.
func (s *researchService) seed(r *run) {
	seeds := append([]string{r.topic}, r.req.Seeds...)
	for _, text := range seeds {
		text = strings.TrimSpace(text)
		if text == "" || r.state.Known(text) {
			continue
		}
		r.state.Pending.Push(research.Query{Text: text, Origin: research.OriginSeed, Depth: 0})
	}
}

// boundary returns the reason to stop before the next iteration, if any.
func (s *researchService) boundary(ctx context.Context, r *run) (entity.TerminationReason, bool) {
	if ctx.Err() != nil {
		return entity.ReasonCancelled, true
	}
	if r.req.MaxIterations > 0 && r.attempts >= r.req.MaxIterations {
		return entity.ReasonMaxIterations, true
	}
	if r.req.MaxDuration > 0 && s.now().Sub(r.start) >= r.req.MaxDuration {
		return entity.ReasonMaxDuration, true
	}
	if r.state.Pending.Len() == 0 {
		return entity.ReasonExhausted, true
	}
	return "", false
}

func (s *researchService) loop(ctx context.Context, r *run) entity.TerminationReason {
	storeFailures := 0

	for {
		if reason, stop := s.boundary(ctx, r); stop {
			return reason
		}

		if r.lock != nil {
			if err := r.lock.Refresh(ctx); errors.Is(err, lock.ErrLost) {
				s.logger.Error(researchModule, "Run lock lost, stopping", map[string]interface{}{
					"topic": r.topic,
				})
				return entity.ReasonLocked
			} else if err != nil {
				s.logger.Warn(researchModule, "Failed to refresh run lock", map[string]interface{}{
					"topic": r.topic,
					"error": err.Error(),
				})
			}
		}

		query, _ := r.state.Pending.Pop()
		r.attempts++

		err := s.iteration(ctx, r, query)
		if err == nil {
			storeFailures = 0
			r.checkpoint = r.state.Clone()
			continue
		}

		// The in-memory state goes back to what the store holds; the query
		// is retried by a later iteration or invocation.
		r.state = r.checkpoint.Clone()
		storeFailures++
		s.logger.Error(researchModule, "Store write failed, iteration rolled back", map[string]interface{}{
			"topic":    r.topic,
			"query":    query.Text,
			"failures": storeFailures,
			"error":    err.Error(),
		})
		if storeFailures >= s.opts.MaxStoreFailures {
			return entity.ReasonStoreUnavailable
		}
		s.sleep(ctx, s.opts.StoreBackoff*time.Duration(1<<(storeFailures-1)))
	}
}

// iteration processes one query and checkpoints the result. The only error
// it returns is a store failure; every other failure is folded into the
// query's outcome or retry budget.
func (s *researchService) iteration(ctx context.Context, r *run, query research.Query) error {
	ctx, span := s.tracer.Start(ctx, "research.Iteration",
		trace.WithAttributes(
			attribute.String("query", query.Text),
			attribute.Int("depth", query.Depth),
			attribute.Int("iteration", r.state.Iteration+1),
		),
	)
	defer span.End()

	result, err := s.process(ctx, r.topic, query)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, contract.ErrStoreUnavailable) {
			span.SetStatus(codes.Error, "store unavailable")
			return err
		}
		result = s.retryOrFail(r.state, query, err)
	}

	state := r.state
	key := query.Key()
	if result.outcome != "" {
		state.Processed[key] = result.outcome
		delete(state.Retries, key)
	}

	accepted := 0
	for _, text := range result.followUps {
		if s.sessions.Enqueue(state, research.Query{Text: text, Origin: research.OriginDerived, Depth: query.Depth + 1}) {
			accepted++
		}
	}
	state.Iteration++

	if err := s.sessions.Checkpoint(ctx, state, result.record); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "checkpoint failed")
		return err
	}

	outcome := string(result.outcome)
	if outcome == "" {
		outcome = "retry"
	}
	span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("follow_ups", accepted),
	)

	var recordId *uuid.UUID
	if result.record != nil {
		r.records = append(r.records, result.record.Id)
		r.lastRecord = result.record.CreatedAt
		recordId = &result.record.Id
	}

	s.logger.Info(researchModule, "Iteration completed", map[string]interface{}{
		"topic":      r.topic,
		"iteration":  state.Iteration,
		"query":      query.Text,
		"depth":      query.Depth,
		"outcome":    outcome,
		"follow_ups": accepted,
		"pending":    state.Pending.Len(),
	})
	s.events.PublishIterationCompleted(ctx, r.id, r.topic, state.Iteration, query.Text, outcome, recordId)
	return nil
}

// retryOrFail spends the query's single retry or marks it failed. An empty
// outcome means the query went back onto the queue.
func (s *researchService) retryOrFail(state *entity.SessionState, query research.Query, cause error) iterationResult {
	key := query.Key()
	if state.Retries[key] < 1 {
		state.Retries[key]++
		state.Pending.Push(query)
		s.logger.Warn(researchModule, "Query failed, will retry once", map[string]interface{}{
			"topic": state.Topic,
			"query": query.Text,
			"error": cause.Error(),
		})
		return iterationResult{}
	}

	s.logger.Error(researchModule, "Query failed twice, giving up", map[string]interface{}{
		"topic": state.Topic,
		"query": query.Text,
		"error": cause.Error(),
	})
	return iterationResult{outcome: entity.OutcomeFailed}
}

type iterationResult struct {
	outcome   entity.Outcome
	record    *entity.SummaryRecord
	followUps []string
}

// detached bounds an external call without tying it to run cancellation:
// an in-flight call finishes or times out on its own.
func detached(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// process runs search, dedup and summarization for query. It does not touch
// session state.
func (s *researchService) process(ctx context.Context, topic string, query research.Query) (iterationResult, error) {
	searchCtx, cancel := detached(ctx, s.opts.SearchTimeout)
	results, err := s.search.Search(searchCtx, query.Text, s.opts.MaxResults)
	cancel()
	if err != nil {
		return iterationResult{}, fmt.Errorf("search: %w", err)
	}

	snippets := toSnippets(query, results, s.now())
	if len(snippets) == 0 {
		return iterationResult{outcome: entity.OutcomeNoFindings}, nil
	}

	filterCtx, cancel := detached(ctx, s.opts.LLMTimeout)
	survivors, err := s.dedup.Filter(filterCtx, snippets, topic)
	cancel()
	if err != nil {
		return iterationResult{}, fmt.Errorf("dedup: %w", err)
	}
	if len(survivors) == 0 {
		return iterationResult{outcome: entity.OutcomeDuplicate}, nil
	}

	prompt, kept := s.composer.Compose(topic, query, survivors)
	messages := []llm.Message{
		{Role: "system", Content: research.SummarySystemPrompt},
		{Role: "user", Content: prompt},
	}
	opts := []llm.Option{llm.WithJSONSchema("findings", research.FindingsSchema)}
	if s.opts.MaxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(s.opts.MaxTokens))
	}

	llmCtx, cancel := detached(ctx, s.opts.LLMTimeout)
	reply, err := s.llm.Chat(llmCtx, messages, opts...)
	cancel()
	if err != nil {
		return iterationResult{}, fmt.Errorf("summarize: %w", llm.Classify("chat", err))
	}

	findings, err := research.ParseFindings(reply)
	if err != nil {
		return iterationResult{}, fmt.Errorf("summarize: %w", err)
	}
	if !findings.Structured {
		s.logger.Warn(researchModule, "Model reply was not JSON, using it as summary", map[string]interface{}{
			"topic": topic,
			"query": query.Text,
		})
	}

	embedCtx, cancel := detached(ctx, s.opts.LLMTimeout)
	vector, err := s.dedup.Embed(embedCtx, findings.Summary)
	cancel()
	if err != nil {
		return iterationResult{}, fmt.Errorf("embed summary: %w", err)
	}

	followUps := findings.FollowUps
	if s.opts.MaxFollowUps >= 0 && len(followUps) > s.opts.MaxFollowUps {
		followUps = followUps[:s.opts.MaxFollowUps]
	}

	sources := make([]string, 0, len(kept))
	for _, snippet := range kept {
		if snippet.SourceURL != "" {
			sources = append(sources, snippet.SourceURL)
		}
	}

	key := query.Key()
	record := &entity.SummaryRecord{
		Id:           entity.SummaryId(topic, key),
		Topic:        topic,
		Query:        query.Text,
		QueryKey:     key,
		Summary:      findings.Summary,
		Embedding:    vector,
		FollowUps:    followUps,
		Sources:      sources,
		SnippetCount: len(kept),
		CreatedAt:    s.now(),
	}
	return iterationResult{
		outcome:   entity.OutcomeSummarized,
		record:    record,
		followUps: followUps,
	}, nil
}

func toSnippets(query research.Query, results []search.Result, now time.Time) []research.Snippet {
	snippets := make([]research.Snippet, 0, len(results))
	for i, res := range results {
		text := strings.TrimSpace(res.Snippet)
		if text == "" {
			continue
		}
		snippets = append(snippets, research.Snippet{
			Query:       query.Text,
			Title:       res.Title,
			Text:        text,
			SourceURL:   res.URL,
			Rank:        i + 1,
			RetrievedAt: now,
		})
	}
	return snippets
}

// summaryIndex exposes the summary store to the deduplicator.
type summaryIndex struct {
	uowFactory unitofwork.RepositoryFactory
}

// NewSummaryIndex adapts the summary repository to research.SimilarityIndex.
func NewSummaryIndex(uowFactory unitofwork.RepositoryFactory) research.SimilarityIndex {
	return &summaryIndex{uowFactory: uowFactory}
}

func (i *summaryIndex) Nearest(ctx context.Context, topic string, vector []float32, topK int) ([]research.Neighbor, error) {
	uow := i.uowFactory.NewUnitOfWork(ctx)
	scored, err := uow.SummaryRepository().Nearest(ctx, topic, vector, topK)
	if err != nil {
		return nil, contract.StoreError("nearest summaries", err)
	}
	neighbors := make([]research.Neighbor, 0, len(scored))
	for _, sc := range scored {
		neighbors = append(neighbors, research.Neighbor{
			Id:       sc.Record.Id.String(),
			Distance: sc.Distance,
		})
	}
	return neighbors, nil
}
