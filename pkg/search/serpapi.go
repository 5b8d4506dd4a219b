package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

const serpAPIURL = "https://serpapi.com/search"

// SerpAPI queries Google results through serpapi.com.
type SerpAPI struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

var _ Provider = &SerpAPI{}

type serpResponse struct {
	Error          string `json:"error"`
	OrganicResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic_results"`
}

func NewSerpAPI(apiKey, baseURL string, limiter *rate.Limiter) *SerpAPI {
	if baseURL == "" {
		baseURL = serpAPIURL
	}
	return &SerpAPI{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{},
		limiter: limiter,
	}
}

func (s *SerpAPI) Search(ctx context.Context, query string, k int) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Result{}, nil
	}
	if s.apiKey == "" {
		return nil, fmt.Errorf("serpapi: %w: api key not configured", ErrUnavailable)
	}
	if err := wait(ctx, s.limiter); err != nil {
		return nil, err
	}

	n := resultCount(k)
	params := url.Values{}
	params.Set("q", query)
	params.Set("api_key", s.apiKey)
	params.Set("num", strconv.Itoa(n))
	params.Set("hl", "en")
	params.Set("gl", "us")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serpapi request: %w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("serpapi read: %w: %v", ErrUnavailable, err)
	}

	var data serpResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("serpapi decode: %w: status %d", ErrUnavailable, resp.StatusCode)
	}
	if data.Error != "" {
		return nil, fmt.Errorf("serpapi: %w: %s", ErrUnavailable, data.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("serpapi: %w: HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	results := make([]Result, 0, n)
	for _, r := range data.OrganicResults {
		if len(results) >= n {
			break
		}
		results = append(results, Result{
			Title:   r.Title,
			URL:     r.Link,
			Snippet: r.Snippet,
			Source:  hostOf(r.Link),
		})
	}
	return results, nil
}
