package jina

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"ai-research-be/pkg/embedding"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJinaProvider_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "jina-embeddings-v3", req.Model)
		assert.Equal(t, []string{"npu vendors"}, req.Input)
		assert.Equal(t, "text-matching", req.Task)

		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[3,4]}]}`))
	}))
	defer srv.Close()

	p := NewJinaProvider("secret", "").WithBaseURL(srv.URL)
	resp, err := p.Generate(context.Background(), "npu vendors", embedding.TaskSemanticSimilarity)
	require.NoError(t, err)

	values := resp.Embedding.Values
	require.Len(t, values, 2)
	assert.InDelta(t, 0.6, values[0], 1e-6)
	assert.InDelta(t, 0.8, values[1], 1e-6)
	assert.InDelta(t, 1.0, math.Hypot(float64(values[0]), float64(values[1])), 1e-6)
}

func TestJinaProvider_OmitsTaskForV2(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, hasTask := raw["task"]
		assert.False(t, hasTask)
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	_, err := NewJinaProvider("k", "jina-embeddings-v2-base-en").WithBaseURL(srv.URL).
		Generate(context.Background(), "x", embedding.TaskSemanticSimilarity)
	require.NoError(t, err)
}

func TestJinaProvider_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{name: "api detail", status: http.StatusUnauthorized, body: `{"detail":"invalid api key"}`, wantMsg: "invalid api key"},
		{name: "plain error", status: http.StatusBadGateway, body: "upstream down", wantMsg: "status 502"},
		{name: "empty data", status: http.StatusOK, body: `{"data":[]}`, wantMsg: "empty embedding"},
		{name: "garbage", status: http.StatusOK, body: `not json`, wantMsg: "decode response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewJinaProvider("k", "").WithBaseURL(srv.URL).Generate(context.Background(), "x", "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
