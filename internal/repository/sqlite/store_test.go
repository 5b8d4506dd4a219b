package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"ai-research-be/internal/entity"
	"ai-research-be/internal/repository/contract"
	"ai-research-be/pkg/research"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "research.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newRecord(topic, query string, vector []float32, at time.Time) *entity.SummaryRecord {
	key := research.Normalize(query)
	return &entity.SummaryRecord{
		Id:           entity.SummaryId(topic, key),
		Topic:        topic,
		Query:        query,
		QueryKey:     key,
		Summary:      "summary of " + query,
		Embedding:    vector,
		FollowUps:    []string{"next?"},
		Sources:      []string{"https://example.org"},
		SnippetCount: 3,
		CreatedAt:    at,
	}
}

func TestSummaryRepository_UpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := openTestStore(t).NewUnitOfWork(ctx).SummaryRepository()
	now := time.Now().UTC()

	rec := newRecord("privacy", "What is DP?", []float32{1, 0, 0}, now)
	require.NoError(t, repo.Upsert(ctx, rec))

	again := newRecord("privacy", "what is  dp", []float32{0, 1, 0}, now.Add(time.Minute))
	again.Summary = "rewritten"
	require.NoError(t, repo.Upsert(ctx, again))

	count, err := repo.Count(ctx, "privacy")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, err := repo.FindById(ctx, rec.Id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "rewritten", got.Summary)
	assert.Equal(t, []float32{0, 1, 0}, got.Embedding)
	assert.Equal(t, []string{"next?"}, got.FollowUps)
	assert.Equal(t, 3, got.SnippetCount)
}

func TestSummaryRepository_FindByIdMissing(t *testing.T) {
	ctx := context.Background()
	repo := openTestStore(t).NewUnitOfWork(ctx).SummaryRepository()

	got, err := repo.FindById(ctx, entity.SummaryId("t", "q"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSummaryRepository_NearestAndRefs(t *testing.T) {
	ctx := context.Background()
	repo := openTestStore(t).NewUnitOfWork(ctx).SummaryRepository()
	base := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Upsert(ctx, newRecord("a", "q1", []float32{1, 0}, base.Add(2*time.Hour))))
	require.NoError(t, repo.Upsert(ctx, newRecord("a", "q2", []float32{0, 1}, base)))
	require.NoError(t, repo.Upsert(ctx, newRecord("b", "q3", []float32{1, 0}, base)))

	nearest, err := repo.Nearest(ctx, "a", []float32{0.9, 0.1}, 1)
	require.NoError(t, err)
	require.Len(t, nearest, 1)
	assert.Equal(t, "q1", nearest[0].Record.Query)
	assert.Less(t, nearest[0].Distance, 0.05)

	empty, err := repo.Nearest(ctx, "nothing-here", []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Empty(t, empty)

	refs, err := repo.ListRefs(ctx, "a", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.True(t, refs[0].CreatedAt.Before(refs[1].CreatedAt))

	refs, err = repo.ListRefs(ctx, "a", base.Add(time.Hour), time.Time{})
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

func TestSessionRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := openTestStore(t).NewUnitOfWork(ctx).SessionRepository()

	missing, err := repo.Load(ctx, "topic")
	require.NoError(t, err)
	assert.Nil(t, missing)

	state := entity.NewSessionState("topic", time.Now().UTC())
	state.Pending.Push(research.Query{Text: "topic", Origin: research.OriginSeed})
	state.Processed["older question"] = entity.OutcomeSummarized
	state.Retries["flaky"] = 1
	state.Iteration = 4
	state.Version = 7
	require.NoError(t, repo.Save(ctx, state))

	loaded, err := repo.Load(ctx, "topic")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 4, loaded.Iteration)
	assert.Equal(t, int64(7), loaded.Version)
	assert.Equal(t, entity.OutcomeSummarized, loaded.Processed["older question"])
	assert.Equal(t, 1, loaded.Retries["flaky"])
	require.Equal(t, 1, loaded.Pending.Len())

	topics, err := repo.ListTopics(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"topic"}, topics)
}

func TestSessionRepository_Corrupt(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	err := store.db.Exec(
		`INSERT INTO research_sessions (topic, state, version, updated_at) VALUES (?, ?, 0, CURRENT_TIMESTAMP)`,
		"topic", `{"topic": "topic", "pending": [`).Error
	require.NoError(t, err)

	_, err = store.NewUnitOfWork(ctx).SessionRepository().Load(ctx, "topic")
	assert.ErrorIs(t, err, contract.ErrStateCorrupt)
}

func TestUnitOfWork_RollbackDiscardsBoth(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	uow := store.NewUnitOfWork(ctx)
	require.NoError(t, uow.Begin(ctx))
	require.NoError(t, uow.SummaryRepository().Upsert(ctx, newRecord("t", "q", []float32{1}, time.Now())))
	require.NoError(t, uow.SessionRepository().Save(ctx, entity.NewSessionState("t", time.Now())))
	require.NoError(t, uow.Rollback())

	count, err := store.NewUnitOfWork(ctx).SummaryRepository().Count(ctx, "t")
	require.NoError(t, err)
	assert.Zero(t, count)

	state, err := store.NewUnitOfWork(ctx).SessionRepository().Load(ctx, "t")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "research.db")

	store, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", store.db.Dialector.Name())
	rec := newRecord("t", "q", []float32{0.25, -1.5, 3}, time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC))
	require.NoError(t, store.NewUnitOfWork(ctx).SummaryRepository().Upsert(ctx, rec))
	require.NoError(t, store.Close())

	// a second open migrates an existing file without touching rows
	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.NewUnitOfWork(ctx).SummaryRepository().FindById(ctx, rec.Id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []float32{0.25, -1.5, 3}, got.Embedding)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
}
