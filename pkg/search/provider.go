package search

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/time/rate"
)

// ErrUnavailable wraps every network or provider failure.
var ErrUnavailable = errors.New("search provider unavailable")

// DefaultMaxResults is used when the caller passes k <= 0.
const DefaultMaxResults = 10

// Result is one ranked hit. Rank order is the slice order.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Source  string `json:"source"` // host of URL
}

// Provider returns ranked text snippets for a query.
type Provider interface {
	Search(ctx context.Context, query string, k int) ([]Result, error)
}

// NewLimiter allows perSecond requests per second with no burst. A
// non-positive rate disables limiting.
func NewLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

func wait(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w: %v", ErrUnavailable, err)
	}
	return nil
}

func resultCount(k int) int {
	if k <= 0 {
		return DefaultMaxResults
	}
	return k
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Host, "www.")
}
