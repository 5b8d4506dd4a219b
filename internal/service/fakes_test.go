package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"ai-research-be/internal/entity"
	"ai-research-be/internal/pkg/logger"
	"ai-research-be/internal/repository/contract"
	"ai-research-be/internal/repository/memory"
	"ai-research-be/internal/repository/unitofwork"
	"ai-research-be/pkg/embedding"
	"ai-research-be/pkg/llm"
	"ai-research-be/pkg/lock"
	"ai-research-be/pkg/research"
	"ai-research-be/pkg/search"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testDims = 64

func unitVector(i int) []float32 {
	v := make([]float32, testDims)
	v[i] = 1
	return v
}

// angled returns a unit vector whose cosine distance to unitVector(i) is
// 1 - cos.
func angled(i, j int, cos float64) []float32 {
	v := make([]float32, testDims)
	v[i] = float32(cos)
	v[j] = float32(math.Sqrt(1 - cos*cos))
	return v
}

func findingsJSON(summary string, followUps ...string) string {
	if followUps == nil {
		followUps = []string{}
	}
	b, _ := json.Marshal(research.Findings{Summary: summary, FollowUps: followUps})
	return string(b)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// Now advances one second per call so that every timestamp is distinct.
func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeSearch struct {
	mu       sync.Mutex
	results  map[string][]search.Result
	errs     map[string]error
	fallback func(query string) []search.Result
	calls    []string
}

func newFakeSearch() *fakeSearch {
	return &fakeSearch{
		results: make(map[string][]search.Result),
		errs:    make(map[string]error),
	}
}

func (f *fakeSearch) on(query string, snippets ...string) {
	results := make([]search.Result, 0, len(snippets))
	for _, s := range snippets {
		results = append(results, search.Result{
			Title:   "Result",
			URL:     "https://example.org/" + research.Normalize(s),
			Snippet: s,
		})
	}
	f.results[research.Normalize(query)] = results
}

func (f *fakeSearch) Search(ctx context.Context, query string, k int) ([]search.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := research.Normalize(query)
	f.calls = append(f.calls, key)
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	if res, ok := f.results[key]; ok {
		return res, nil
	}
	if f.fallback != nil {
		return f.fallback(query), nil
	}
	return nil, nil
}

func (f *fakeSearch) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeLLM struct {
	mu      sync.Mutex
	reply   func(ctx context.Context, call int, prompt string) (string, error)
	prompts []string
	options []*llm.Options
}

func (f *fakeLLM) Chat(ctx context.Context, history []llm.Message, options ...llm.Option) (string, error) {
	f.mu.Lock()
	prompt := history[len(history)-1].Content
	f.prompts = append(f.prompts, prompt)
	f.options = append(f.options, llm.ApplyOptions(llm.Options{}, options...))
	call := len(f.prompts)
	f.mu.Unlock()

	if f.reply == nil {
		return findingsJSON("Nothing new."), nil
	}
	return f.reply(ctx, call, prompt)
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, options ...llm.Option) (string, error) {
	return f.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, options...)
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// fakeEmbedder hands out explicit vectors, or a fresh one-hot vector per
// unseen text. Explicit vectors should use dimensions below 32.
type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	errs    map[string]error
	next    int
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{
		vectors: make(map[string][]float32),
		errs:    make(map[string]error),
	}
}

func (f *fakeEmbedder) Generate(ctx context.Context, text string, taskType string) (*embedding.EmbeddingResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[text]; err != nil {
		return nil, err
	}
	v, ok := f.vectors[text]
	if !ok {
		v = unitVector(32 + f.next%32)
		f.next++
		f.vectors[text] = v
	}
	return &embedding.EmbeddingResponse{Embedding: embedding.EmbeddingResponseEmbedding{Values: v}}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) add(e string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) PublishRunStarted(ctx context.Context, runId uuid.UUID, topic string, pending int, resumed bool) {
	p.add("started")
}

func (p *recordingPublisher) PublishIterationCompleted(ctx context.Context, runId uuid.UUID, topic string, iteration int, query, outcome string, recordId *uuid.UUID) {
	p.add("iteration:" + outcome)
}

func (p *recordingPublisher) PublishRunTerminated(ctx context.Context, runId uuid.UUID, topic, reason string, iterations, records int) {
	p.add("terminated:" + reason)
}

type fakeLocker struct {
	err error
}

func (l fakeLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Lock, error) {
	if l.err != nil {
		return nil, l.err
	}
	return lock.Nop{}.Acquire(ctx, key, ttl)
}

// flakyFactory wraps a real store and injects failures.
type flakyFactory struct {
	inner unitofwork.RepositoryFactory

	mu          sync.Mutex
	failCommits int
	failList    error
	failFind    map[uuid.UUID]error
}

func (f *flakyFactory) NewUnitOfWork(ctx context.Context) unitofwork.UnitOfWork {
	return &flakyUnitOfWork{UnitOfWork: f.inner.NewUnitOfWork(ctx), f: f}
}

func (f *flakyFactory) Close() error { return f.inner.Close() }

func (f *flakyFactory) takeCommitFailure() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCommits > 0 {
		f.failCommits--
		return true
	}
	return false
}

type flakyUnitOfWork struct {
	unitofwork.UnitOfWork
	f *flakyFactory
}

func (u *flakyUnitOfWork) Commit() error {
	if u.f.takeCommitFailure() {
		_ = u.UnitOfWork.Rollback()
		return errors.New("disk I/O error")
	}
	return u.UnitOfWork.Commit()
}

func (u *flakyUnitOfWork) SummaryRepository() contract.SummaryRepository {
	return &flakySummaries{SummaryRepository: u.UnitOfWork.SummaryRepository(), f: u.f}
}

type flakySummaries struct {
	contract.SummaryRepository
	f *flakyFactory
}

func (r *flakySummaries) ListRefs(ctx context.Context, topic string, from, to time.Time) ([]contract.SummaryRef, error) {
	if r.f.failList != nil {
		return nil, r.f.failList
	}
	return r.SummaryRepository.ListRefs(ctx, topic, from, to)
}

func (r *flakySummaries) FindById(ctx context.Context, id uuid.UUID) (*entity.SummaryRecord, error) {
	if err := r.f.failFind[id]; err != nil {
		return nil, err
	}
	return r.SummaryRepository.FindById(ctx, id)
}

type harness struct {
	store     *memory.Store
	factory   *flakyFactory
	search    *fakeSearch
	llm       *fakeLLM
	embedder  *fakeEmbedder
	publisher *recordingPublisher
	clock     *fakeClock
	sessions  *sessionService
	svc       *researchService
	digest    IDigestService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	log := logger.NewNopLogger()
	store := memory.NewStore()
	factory := &flakyFactory{inner: store, failFind: make(map[uuid.UUID]error)}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)}

	sessions := NewSessionService(factory, SessionOptions{
		MaxQueue:     50,
		MaxDepth:     3,
		StoreTimeout: time.Second,
	}, log).(*sessionService)
	sessions.now = clock.Now

	h := &harness{
		store:     store,
		factory:   factory,
		search:    newFakeSearch(),
		llm:       &fakeLLM{},
		embedder:  newFakeEmbedder(),
		publisher: &recordingPublisher{},
		clock:     clock,
		sessions:  sessions,
		digest:    NewDigestService(factory, time.Second, log),
	}

	dedup := research.NewDeduplicator(h.embedder, NewSummaryIndex(factory), 0.15, log)
	composer := research.NewPromptComposer(2048, research.TruncateOldestFirst, 3)
	svc := NewResearchService(sessions, h.search, h.llm, dedup, composer, nil, h.publisher, log, ResearchOptions{
		MaxFollowUps:     3,
		MaxResults:       10,
		MaxTokens:        512,
		MaxStoreFailures: 3,
		SearchTimeout:    time.Second,
		LLMTimeout:       time.Second,
	}).(*researchService)
	svc.now = clock.Now
	svc.sleep = func(context.Context, time.Duration) {}
	h.svc = svc
	return h
}

func (h *harness) putRecord(t *testing.T, topic, query string, vector []float32, createdAt time.Time) *entity.SummaryRecord {
	t.Helper()
	key := research.Normalize(query)
	rec := &entity.SummaryRecord{
		Id:        entity.SummaryId(topic, key),
		Topic:     topic,
		Query:     query,
		QueryKey:  key,
		Summary:   "Earlier finding about " + query,
		Embedding: vector,
		FollowUps: []string{},
		CreatedAt: createdAt,
	}
	uow := h.store.NewUnitOfWork(context.Background())
	require.NoError(t, uow.SummaryRepository().Upsert(context.Background(), rec))
	return rec
}

func (h *harness) loadState(t *testing.T, topic string) *entity.SessionState {
	t.Helper()
	state, err := h.store.NewUnitOfWork(context.Background()).SessionRepository().Load(context.Background(), topic)
	require.NoError(t, err)
	require.NotNil(t, state)
	return state
}

func (h *harness) recordCount(t *testing.T, topic string) int64 {
	t.Helper()
	n, err := h.store.NewUnitOfWork(context.Background()).SummaryRepository().Count(context.Background(), topic)
	require.NoError(t, err)
	return n
}
