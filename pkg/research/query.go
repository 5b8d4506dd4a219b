package research

import (
	"strings"
	"time"
	"unicode"
)

// Origin tells whether a query came from the topic itself or from a follow-up.
type Origin string

const (
	OriginSeed    Origin = "seed"
	OriginDerived Origin = "derived"
)

// Query is a search string waiting to be (or already) researched.
type Query struct {
	Text   string `json:"text"`
	Origin Origin `json:"origin"`
	Depth  int    `json:"depth"`
}

// Key returns the normalized text used for exact-text dedup.
func (q Query) Key() string {
	return Normalize(q.Text)
}

// Snippet is a single retrieved text fragment. Never persisted on its own.
type Snippet struct {
	Query       string
	Title       string
	Text        string
	SourceURL   string
	Rank        int
	RetrievedAt time.Time
}

// Normalize lowercases, collapses whitespace and drops trailing sentence
// punctuation so that "What is X?" and "what  is x" compare equal.
func Normalize(text string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), unicode.IsSpace)
	joined := strings.Join(fields, " ")
	return strings.TrimRight(joined, "?.!;: ")
}
