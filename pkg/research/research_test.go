package research

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"ai-research-be/internal/pkg/logger"
	"ai-research-be/pkg/embedding"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "What is X?", want: "what is x"},
		{in: "  what   is\tx  ", want: "what is x"},
		{in: "Edge AI!!", want: "edge ai"},
		{in: "on-device AI privacy.", want: "on-device ai privacy"},
		{in: "?", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestPendingQueue_PopsShallowestFirst(t *testing.T) {
	var q PendingQueue
	q.Push(Query{Text: "b1", Depth: 1})
	q.Push(Query{Text: "a0", Depth: 0})
	q.Push(Query{Text: "b2", Depth: 1})
	q.Push(Query{Text: "c0", Depth: 0})

	var order []string
	for q.Len() > 0 {
		next, ok := q.Pop()
		require.True(t, ok)
		order = append(order, next.Text)
	}
	assert.Equal(t, []string{"a0", "c0", "b1", "b2"}, order)

	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestPendingQueue_ContainsAndClone(t *testing.T) {
	var q PendingQueue
	q.Push(Query{Text: "Solar Panels?"})
	assert.True(t, q.Contains("solar panels"))
	assert.False(t, q.Contains("wind"))

	clone := q.Clone()
	clone.Push(Query{Text: "wind"})
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 2, clone.Len())
}

func TestFitBudget(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	snippets := []Snippet{
		{Text: strings.Repeat("a", 40), Rank: 1, RetrievedAt: base.Add(2 * time.Second)}, // 10 tokens
		{Text: strings.Repeat("b", 40), Rank: 2, RetrievedAt: base},                      // 10 tokens
		{Text: strings.Repeat("c", 40), Rank: 3, RetrievedAt: base.Add(time.Second)},     // 10 tokens
	}

	tests := []struct {
		name   string
		budget int
		order  TruncateOrder
		want   []string
	}{
		{name: "fits", budget: 30, order: TruncateOldestFirst, want: []string{"a", "b", "c"}},
		{name: "oldest dropped first", budget: 20, order: TruncateOldestFirst, want: []string{"a", "c"}},
		{name: "lowest rank dropped first", budget: 20, order: TruncateLowestRankFirst, want: []string{"a", "b"}},
		{name: "no limit", budget: 0, order: TruncateOldestFirst, want: []string{"a", "b", "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept := FitBudget(snippets, tt.budget, tt.order)
			got := make([]string, 0, len(kept))
			for _, s := range kept {
				got = append(got, s.Text[:1])
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFitBudget_CutsLoneSnippet(t *testing.T) {
	kept := FitBudget([]Snippet{{Text: strings.Repeat("x", 100)}}, 5, TruncateOldestFirst)
	require.Len(t, kept, 1)
	assert.Len(t, kept[0].Text, 20)
}

func TestPromptComposer_Compose(t *testing.T) {
	c := NewPromptComposer(2048, TruncateOldestFirst, 3)
	prompt, kept := c.Compose("edge ai", Query{Text: "edge ai chips"}, []Snippet{
		{Title: "Chips", Text: "NPUs are everywhere.", SourceURL: "https://example.org/npu"},
	})

	assert.Len(t, kept, 1)
	assert.Contains(t, prompt, "Topic: edge ai")
	assert.Contains(t, prompt, "Current question: edge ai chips")
	assert.Contains(t, prompt, "NPUs are everywhere.")
	assert.Contains(t, prompt, `url="https://example.org/npu"`)
	assert.Contains(t, prompt, "up to 3 follow-up questions")
}

func TestFindingsSchema_MatchesFindings(t *testing.T) {
	raw, err := json.Marshal(Findings{Summary: "s", FollowUps: []string{"q"}})
	require.NoError(t, err)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &fields))

	props := FindingsSchema["properties"].(map[string]interface{})
	required := FindingsSchema["required"].([]string)
	assert.Len(t, props, len(fields))
	for name := range fields {
		assert.Contains(t, props, name)
		assert.Contains(t, required, name)
	}
}

func TestParseFindings(t *testing.T) {
	tests := []struct {
		name          string
		reply         string
		wantSummary   string
		wantFollowUps []string
		wantStruct    bool
		wantErr       error
	}{
		{
			name:          "plain json",
			reply:         `{"summary": "NPUs are common.", "follow_ups": ["npu vendors", "NPU vendors?", " "]}`,
			wantSummary:   "NPUs are common.",
			wantFollowUps: []string{"npu vendors"},
			wantStruct:    true,
		},
		{
			name:          "json wrapped in prose",
			reply:         "Here you go:\n```json\n{\"summary\": \"Short.\", \"follow_ups\": []}\n```",
			wantSummary:   "Short.",
			wantFollowUps: []string{},
			wantStruct:    true,
		},
		{
			name:        "not json",
			reply:       "Edge AI is growing fast.",
			wantSummary: "Edge AI is growing fast.",
		},
		{name: "empty", reply: "  ", wantErr: ErrMalformedFindings},
		{name: "json without summary", reply: `{"summary": "", "follow_ups": ["x"]}`, wantErr: ErrMalformedFindings},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFindings(tt.reply)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantSummary, got.Summary)
			assert.Equal(t, tt.wantStruct, got.Structured)
			if tt.wantStruct {
				assert.Equal(t, tt.wantFollowUps, got.FollowUps)
			} else {
				assert.Empty(t, got.FollowUps)
			}
		})
	}
}

func TestRenderDigest(t *testing.T) {
	from := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	to := from.Add(8 * time.Hour)

	out := RenderDigest("edge ai", from, to, []DigestEntry{
		{Id: "2", CreatedAt: from.Add(2 * time.Hour), Query: "later", Summary: "Second."},
		{Id: "1", CreatedAt: from.Add(time.Hour), Query: "earlier", Summary: "First.", FollowUps: []string{"next question"}},
		{Id: "3", CreatedAt: from.Add(3 * time.Hour), Err: errors.New("record not found")},
	})

	assert.True(t, strings.HasPrefix(out, "# Research digest: edge ai\n"))
	assert.Contains(t, out, "Period: 2026-03-01T22:00:00Z to 2026-03-02T06:00:00Z")
	assert.Contains(t, out, "Entries: 2 (1 unavailable)")
	assert.Less(t, strings.Index(out, "First."), strings.Index(out, "Second."))
	assert.Contains(t, out, "Follow-up questions:\n- next question\n")
	assert.Contains(t, out, "> [missing entry 3: record not found]")
}

func TestRenderDigest_Empty(t *testing.T) {
	out := RenderDigest("edge ai", time.Time{}, time.Time{}, nil)
	assert.Contains(t, out, "Period: - to -")
	assert.Contains(t, out, "No new findings in this period.")
}

type stubEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (s *stubEmbedder) Generate(ctx context.Context, text string, taskType string) (*embedding.EmbeddingResponse, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &embedding.EmbeddingResponse{Embedding: embedding.EmbeddingResponseEmbedding{Values: s.vectors[text]}}, nil
}

type stubIndex struct {
	stored [][]float32
	err    error
}

func (s *stubIndex) Nearest(ctx context.Context, topic string, vector []float32, topK int) ([]Neighbor, error) {
	if s.err != nil {
		return nil, s.err
	}
	var best []Neighbor
	for i, v := range s.stored {
		d := embedding.CosineDistance(vector, v)
		if len(best) == 0 || d < best[0].Distance {
			best = []Neighbor{{Id: string(rune('a' + i)), Distance: d}}
		}
	}
	return best, nil
}

func TestDeduplicator_Filter(t *testing.T) {
	embedder := &stubEmbedder{vectors: map[string][]float32{
		"same":      {1, 0, 0},
		"close":     {0.95, 0.312, 0},
		"different": {0, 0, 1},
	}}
	index := &stubIndex{stored: [][]float32{{1, 0, 0}}}
	d := NewDeduplicator(embedder, index, 0.15, logger.NewNopLogger())

	kept, err := d.Filter(context.Background(), []Snippet{
		{Text: "same"}, {Text: "different"}, {Text: "close"},
	}, "topic")
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, "different", kept[0].Text)
	assert.Equal(t, 0.15, d.Threshold())

	// repeated texts come from the cache
	_, err = d.Embed(context.Background(), "same")
	require.NoError(t, err)
	assert.Equal(t, 3, embedder.calls)
}

func TestDeduplicator_FilterFailures(t *testing.T) {
	tests := []struct {
		name     string
		embedErr error
		indexErr error
	}{
		{name: "embedding backend down", embedErr: errors.New("connection refused")},
		{name: "index down", indexErr: errors.New("database is locked")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			embedder := &stubEmbedder{vectors: map[string][]float32{"x": {1, 0}}, err: tt.embedErr}
			d := NewDeduplicator(embedder, &stubIndex{err: tt.indexErr}, 0.15, logger.NewNopLogger())

			kept, err := d.Filter(context.Background(), []Snippet{{Text: "x"}}, "topic")
			assert.Error(t, err)
			assert.Nil(t, kept)
		})
	}
}
