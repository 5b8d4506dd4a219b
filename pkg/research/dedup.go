package research

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"ai-research-be/internal/pkg/logger"
	"ai-research-be/pkg/embedding"

	"github.com/patrickmn/go-cache"
)

const dedupModule = "DEDUP"

// Neighbor is one similarity-store hit.
type Neighbor struct {
	Id       string
	Distance float64 // cosine distance, 0 = identical
}

// SimilarityIndex answers nearest-neighbor queries over stored summaries of
// a single topic.
type SimilarityIndex interface {
	Nearest(ctx context.Context, topic string, vector []float32, topK int) ([]Neighbor, error)
}

// Deduplicator drops snippets that are near-duplicates of knowledge already
// summarized for the topic.
//
// The threshold is a cosine distance: a snippet whose nearest stored summary
// lies at or below it is discarded. A generous threshold favors precision
// (no re-summarizing known material) over recall (a marginally new snippet
// may be skipped). That bias is intended.
type Deduplicator struct {
	embedder  embedding.EmbeddingProvider
	index     SimilarityIndex
	threshold float64
	cache     *cache.Cache
	logger    logger.ILogger
}

func NewDeduplicator(
	embedder embedding.EmbeddingProvider,
	index SimilarityIndex,
	threshold float64,
	logger logger.ILogger,
) *Deduplicator {
	return &Deduplicator{
		embedder:  embedder,
		index:     index,
		threshold: threshold,
		// snippet embeddings are reused when the same page shows up for
		// several queries in one night
		cache:  cache.New(12*time.Hour, 30*time.Minute),
		logger: logger,
	}
}

// Threshold returns the configured distance threshold.
func (d *Deduplicator) Threshold() float64 { return d.threshold }

// Filter returns the snippets that are not near-duplicates, preserving order.
// Any embedding or index failure aborts the whole filter.
func (d *Deduplicator) Filter(ctx context.Context, snippets []Snippet, topic string) ([]Snippet, error) {
	survivors := make([]Snippet, 0, len(snippets))
	for _, snippet := range snippets {
		vector, err := d.Embed(ctx, snippet.Text)
		if err != nil {
			return nil, fmt.Errorf("embed snippet: %w", err)
		}

		neighbors, err := d.index.Nearest(ctx, topic, vector, 1)
		if err != nil {
			return nil, fmt.Errorf("nearest neighbor lookup: %w", err)
		}

		if len(neighbors) > 0 && neighbors[0].Distance <= d.threshold {
			d.logger.Debug(dedupModule, "Snippet discarded as near-duplicate", map[string]interface{}{
				"topic":      topic,
				"query":      snippet.Query,
				"source_url": snippet.SourceURL,
				"neighbor":   neighbors[0].Id,
				"distance":   neighbors[0].Distance,
			})
			continue
		}
		survivors = append(survivors, snippet)
	}

	d.logger.Info(dedupModule, "Snippets filtered", map[string]interface{}{
		"topic":     topic,
		"retrieved": len(snippets),
		"surviving": len(survivors),
		"threshold": d.threshold,
	})
	return survivors, nil
}

// Embed returns the normalized embedding for text, memoized by content hash.
func (d *Deduplicator) Embed(ctx context.Context, text string) ([]float32, error) {
	sum := sha1.Sum([]byte(text))
	key := hex.EncodeToString(sum[:])
	if cached, found := d.cache.Get(key); found {
		return cached.([]float32), nil
	}

	resp, err := d.embedder.Generate(ctx, text, embedding.TaskSemanticSimilarity)
	if err != nil {
		return nil, err
	}
	vector := resp.Embedding.Values
	if len(vector) == 0 {
		return nil, fmt.Errorf("empty embedding")
	}

	d.cache.Set(key, vector, cache.DefaultExpiration)
	return vector, nil
}
