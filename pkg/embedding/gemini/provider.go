package gemini

import (
	"context"
	"fmt"

	"ai-research-be/pkg/embedding"

	"google.golang.org/genai"
)

const defaultModel = "gemini-embedding-001"

// Provider generates embeddings through the Gemini API. It lives in its own
// package so that importing pkg/embedding does not link the genai client.
type Provider struct {
	client *genai.Client
	model  string
}

var _ embedding.EmbeddingProvider = &Provider{}

func NewProvider(ctx context.Context, apiKey, model string) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = defaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Provider{client: client, model: model}, nil
}

func (p *Provider) Generate(ctx context.Context, text string, taskType string) (*embedding.EmbeddingResponse, error) {
	if taskType == "" {
		taskType = embedding.TaskSemanticSimilarity
	}

	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := p.client.Models.EmbedContent(ctx, p.model, contents, &genai.EmbedContentConfig{
		TaskType: taskType,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}

	return &embedding.EmbeddingResponse{
		Embedding: embedding.EmbeddingResponseEmbedding{
			Values: embedding.NormalizeVector(result.Embeddings[0].Values),
		},
	}, nil
}
