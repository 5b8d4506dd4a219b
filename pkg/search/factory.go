package search

import "fmt"

// Settings selects and parameterizes a search backend.
type Settings struct {
	Provider      string // "duckduckgo" | "serpapi"
	APIKey        string
	BaseURL       string
	RatePerSecond float64
}

func NewProvider(s Settings) (Provider, error) {
	limiter := NewLimiter(s.RatePerSecond)
	switch s.Provider {
	case "", "duckduckgo":
		return NewDuckDuckGo(s.BaseURL, limiter), nil
	case "serpapi":
		if s.APIKey == "" {
			return nil, fmt.Errorf("serpapi requires SERPAPI_API_KEY")
		}
		return NewSerpAPI(s.APIKey, s.BaseURL, limiter), nil
	default:
		return nil, fmt.Errorf("unsupported search provider: %s", s.Provider)
	}
}
