package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ddgPage = `<html><body>
<div class="result results_links results_links_deep web-result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fwww.example.org%2Fprivacy&amp;rut=abc">On-device <b>AI</b> privacy</a>
  <a class="result__snippet" href="#">Models that run <b>locally</b> keep data on the phone.</a>
</div>
<div class="result results_links results_links_deep web-result">
  <a class="result__a" href="https://research.example.com/federated">Federated learning</a>
  <a class="result__snippet" href="#">Training without centralizing data.</a>
</div>
<div class="result results_links results_links_deep web-result">
  <a class="result__a" href="https://third.example.com/">Third</a>
</div>
</body></html>`

func TestParseDuckDuckGoResults(t *testing.T) {
	results, err := parseDuckDuckGoResults(ddgPage, 10)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "On-device AI privacy", results[0].Title)
	assert.Equal(t, "https://www.example.org/privacy", results[0].URL)
	assert.Equal(t, "example.org", results[0].Source)
	assert.Equal(t, "Models that run locally keep data on the phone.", results[0].Snippet)

	assert.Equal(t, "https://research.example.com/federated", results[1].URL)
	assert.Empty(t, results[2].Snippet)
}

func TestParseDuckDuckGoResults_Limit(t *testing.T) {
	results, err := parseDuckDuckGoResults(ddgPage, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestDuckDuckGo_Search(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		assert.Equal(t, "on-device ai", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(ddgPage))
	}))
	defer srv.Close()

	ddg := NewDuckDuckGo(srv.URL, NewLimiter(0))

	results, err := ddg.Search(context.Background(), "on-device ai", 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	t.Run("blank query makes no request", func(t *testing.T) {
		results, err := ddg.Search(context.Background(), "   ", 5)
		require.NoError(t, err)
		assert.Empty(t, results)
		assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	})
}

func TestDuckDuckGo_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewDuckDuckGo(srv.URL, nil).Search(context.Background(), "anything", 5)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestSerpAPI_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("api_key"))
		assert.Equal(t, "2", r.URL.Query().Get("num"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"organic_results":[
			{"title":"A","link":"https://a.example.com/x","snippet":"alpha"},
			{"title":"B","link":"https://b.example.com/y","snippet":"beta"},
			{"title":"C","link":"https://c.example.com/z","snippet":"gamma"}
		]}`))
	}))
	defer srv.Close()

	results, err := NewSerpAPI("secret", srv.URL, nil).Search(context.Background(), "q", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, Result{Title: "A", URL: "https://a.example.com/x", Snippet: "alpha", Source: "a.example.com"}, results[0])
}

func TestSerpAPI_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"Invalid API key."}`))
	}))
	defer srv.Close()

	_, err := NewSerpAPI("bad", srv.URL, nil).Search(context.Background(), "q", 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "Invalid API key")
}

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		in      Settings
		wantErr string
	}{
		{name: "default is duckduckgo", in: Settings{}},
		{name: "serpapi with key", in: Settings{Provider: "serpapi", APIKey: "k"}},
		// names the variable config.Load actually reads
		{name: "serpapi without key", in: Settings{Provider: "serpapi"}, wantErr: "SERPAPI_API_KEY"},
		{name: "unknown", in: Settings{Provider: "bing"}, wantErr: "bing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, p)
		})
	}
}
