package factory

import (
	"ai-research-be/pkg/llm"
	"ai-research-be/pkg/llm/gemini"
	"ai-research-be/pkg/llm/ollama"
	"ai-research-be/pkg/llm/openai"
	"context"
	"fmt"
)

// Settings selects and parameterizes an inference backend.
type Settings struct {
	Provider string // "ollama" | "openai" | "gemini"
	Model    string
	BaseURL  string
	APIKey   string
	Defaults llm.Options
}

// NewLLMProvider builds the configured backend. The research loop only ever
// sees the llm.LLMProvider interface.
func NewLLMProvider(ctx context.Context, s Settings) (llm.LLMProvider, error) {
	switch s.Provider {
	case "ollama":
		baseURL := s.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434" // Default
		}
		return ollama.NewOllamaProvider(baseURL, s.Model, s.Defaults), nil
	case "openai", "lmstudio", "huggingface":
		return openai.NewProvider(s.APIKey, s.BaseURL, s.Model, s.Defaults), nil
	case "gemini":
		return gemini.NewProvider(ctx, s.APIKey, s.Model, s.Defaults)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", s.Provider)
	}
}
