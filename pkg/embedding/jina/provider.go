package jina

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ai-research-be/pkg/embedding"
)

const (
	DefaultBaseURL = "https://api.jina.ai/v1/embeddings"
	defaultModel   = "jina-embeddings-v3"
)

// JinaProvider embeds text through the Jina hosted embeddings API.
type JinaProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

var _ embedding.EmbeddingProvider = &JinaProvider{}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
	Task  string   `json:"task,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Detail string `json:"detail,omitempty"`
}

// NewJinaProvider targets DefaultBaseURL; use WithBaseURL for a proxy or a
// test server.
func NewJinaProvider(apiKey, model string) *JinaProvider {
	if model == "" {
		model = defaultModel
	}
	return &JinaProvider{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		model:   model,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *JinaProvider) WithBaseURL(baseURL string) *JinaProvider {
	if baseURL != "" {
		p.baseURL = baseURL
	}
	return p
}

// jinaTask maps the shared task hint onto Jina's task names. v2 models reject
// the field, so it is only sent for v3 and later.
func (p *JinaProvider) jinaTask(taskType string) string {
	if p.model == "jina-embeddings-v2-base-en" {
		return ""
	}
	if taskType == embedding.TaskSemanticSimilarity || taskType == "" {
		return "text-matching"
	}
	return ""
}

func (p *JinaProvider) Generate(ctx context.Context, text string, taskType string) (*embedding.EmbeddingResponse, error) {
	body, err := json.Marshal(embeddingRequest{
		Model: p.model,
		Input: []string{text},
		Task:  p.jinaTask(taskType),
	})
	if err != nil {
		return nil, fmt.Errorf("jina: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("jina: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jina: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("jina: read response: %w", err)
	}

	var out embeddingResponse
	decodeErr := json.Unmarshal(raw, &out)
	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && out.Detail != "" {
			return nil, fmt.Errorf("jina: status %d: %s", resp.StatusCode, out.Detail)
		}
		return nil, fmt.Errorf("jina: status %d: %s", resp.StatusCode, bytes.TrimSpace(raw))
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("jina: decode response: %w", decodeErr)
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("jina: empty embedding")
	}

	return &embedding.EmbeddingResponse{
		Embedding: embedding.EmbeddingResponseEmbedding{
			Values: embedding.NormalizeVector(out.Data[0].Embedding),
		},
	}, nil
}
