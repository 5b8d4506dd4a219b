package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// promptOverheadTokens covers the instructions and the session summary that
// surround the snippet block in every research prompt.
const promptOverheadTokens = 512

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Store    StoreConfig
	Research ResearchConfig
	Search   SearchConfig
	Ai       AIConfig
	Keys     APIKeys
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	LogLevel           string
	LogConsole         bool // false keeps log lines off stdout/stderr
	CorsAllowedOrigins string
	NatsURL            string // empty disables NATS; events stay in process
	RedisURL           string // empty disables the run lock
	OtelEnabled        bool
	OtelEndpoint       string
}

type DatabaseConfig struct {
	Connection string
	Verbose    bool
}

type StoreConfig struct {
	Driver              string `validate:"oneof=sqlite postgres memory"`
	Path                string
	EmbeddingDimensions int `validate:"gte=0"`
}

// ResearchConfig bounds and tunes the research loop. It can be overlaid from
// the YAML file named by RESEARCH_CONFIG_FILE.
type ResearchConfig struct {
	Topic            string        `yaml:"topic"`
	MaxDuration      time.Duration `yaml:"max_duration" validate:"gte=0"`
	MaxIterations    int           `yaml:"max_iterations" validate:"gte=0"`
	MaxQueue         int           `yaml:"max_queue" validate:"gte=1"`
	MaxDepth         int           `yaml:"max_depth" validate:"gte=0"`
	MaxFollowUps     int           `yaml:"max_follow_ups" validate:"gte=0"`
	DedupThreshold   float64       `yaml:"dedup_threshold" validate:"gte=0,lte=2"`
	ContextBudget    int           `yaml:"context_budget" validate:"gte=0"`
	TruncateOrder    string        `yaml:"truncate_order" validate:"oneof=oldest_first lowest_rank_first"`
	MaxStoreFailures int           `yaml:"max_store_failures" validate:"gte=1"`
	SearchTimeout    time.Duration `yaml:"search_timeout" validate:"gt=0"`
	LLMTimeout       time.Duration `yaml:"llm_timeout" validate:"gt=0"`
	StoreTimeout     time.Duration `yaml:"store_timeout" validate:"gt=0"`
	LockTTL          time.Duration `yaml:"lock_ttl" validate:"gt=0"`
}

type SearchConfig struct {
	Provider      string `validate:"oneof=duckduckgo serpapi"`
	MaxResults    int    `validate:"gte=1,lte=50"`
	RatePerSecond float64
	BaseURL       string
}

type AIConfig struct {
	LLMProvider       string `validate:"oneof=ollama openai gemini"`
	LLMModel          string
	LLMBaseURL        string
	OllamaBaseURL     string
	EmbeddingProvider string `validate:"oneof=ollama gemini jina"`
	EmbeddingModel    string
	Temperature       float64 `validate:"gte=0,lte=2"`
	TopP              float64 `validate:"gte=0,lte=1"`
	MaxTokens         int     `validate:"gte=1"`
	ContextWindow     int     `validate:"gte=1"`
}

type APIKeys struct {
	GoogleGemini string
	SerpAPI      string
	OpenAI       string
	Jina         string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, using system environment")
	}

	cfg := &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        expandHome(getEnv("LOG_FILE_PATH", "~/logs/research.log")),
			LogLevel:           getEnv("LOG_LEVEL", "info"),
			LogConsole:         getEnvAsBool("LOG_CONSOLE", true),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", ""),
			RedisURL:           getEnv("REDIS_URL", ""),
			OtelEnabled:        getEnvAsBool("OTEL_ENABLED", false),
			OtelEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
			Verbose:    getEnvAsBool("DB_VERBOSE", false),
		},
		Store: StoreConfig{
			Driver:              getEnv("STORE_DRIVER", "sqlite"),
			Path:                expandHome(getEnv("STORE_PATH", "~/ai/research.db")),
			EmbeddingDimensions: getEnvAsInt("EMBEDDING_DIMENSIONS", 768),
		},
		Research: ResearchConfig{
			Topic:            getEnv("RESEARCH_TOPIC", ""),
			MaxDuration:      getEnvAsDuration("RESEARCH_MAX_DURATION", 6*time.Hour),
			MaxIterations:    getEnvAsInt("RESEARCH_MAX_ITERATIONS", 0),
			MaxQueue:         getEnvAsInt("RESEARCH_MAX_QUEUE", 200),
			MaxDepth:         getEnvAsInt("RESEARCH_MAX_DEPTH", 3),
			MaxFollowUps:     getEnvAsInt("RESEARCH_MAX_FOLLOWUPS", 3),
			DedupThreshold:   getEnvAsFloat("RESEARCH_DEDUP_THRESHOLD", 0.15),
			ContextBudget:    getEnvAsInt("RESEARCH_CONTEXT_BUDGET", 2048),
			TruncateOrder:    getEnv("RESEARCH_TRUNCATE_ORDER", "oldest_first"),
			MaxStoreFailures: getEnvAsInt("RESEARCH_MAX_STORE_FAILURES", 3),
			SearchTimeout:    getEnvAsDuration("SEARCH_TIMEOUT", 30*time.Second),
			LLMTimeout:       getEnvAsDuration("LLM_TIMEOUT", 120*time.Second),
			StoreTimeout:     getEnvAsDuration("STORE_TIMEOUT", 10*time.Second),
			LockTTL:          getEnvAsDuration("RESEARCH_LOCK_TTL", 10*time.Minute),
		},
		Search: SearchConfig{
			Provider:      getEnv("SEARCH_PROVIDER", "duckduckgo"),
			MaxResults:    getEnvAsInt("SEARCH_MAX_RESULTS", 10),
			RatePerSecond: getEnvAsFloat("SEARCH_RATE_PER_SECOND", 1),
			BaseURL:       getEnv("SEARCH_BASE_URL", ""),
		},
		Ai: AIConfig{
			LLMProvider:       resolveLLMProvider(),
			LLMModel:          getEnv("LLM_MODEL", getEnv("MODEL", "phi-3-mini")),
			LLMBaseURL:        getEnv("OPENAI_BASE_URL", ""),
			OllamaBaseURL:     getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
			EmbeddingProvider: getEnv("EMBEDDING_PROVIDER", "ollama"),
			EmbeddingModel:    getEnv("EMBEDDING_MODEL", ""), // empty: provider default
			Temperature:       getEnvAsFloat("LLM_TEMPERATURE", 0.7),
			TopP:              getEnvAsFloat("LLM_TOP_P", 0.9),
			MaxTokens:         getEnvAsInt("LLM_MAX_TOKENS", 1024),
			ContextWindow:     getEnvAsInt("LLM_CONTEXT_WINDOW", 4096),
		},
		Keys: APIKeys{
			GoogleGemini: getEnv("GOOGLE_GEMINI_API_KEY", ""),
			SerpAPI:      getEnv("SERPAPI_API_KEY", ""),
			OpenAI:       getEnv("OPENAI_API_KEY", ""),
			Jina:         getEnv("JINA_API_KEY", ""),
		},
	}

	if path := getEnv("RESEARCH_CONFIG_FILE", ""); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			log.Printf("Warn: ignoring research config file %s: %v", path, err)
		}
	}

	return cfg
}

// ApplyFile overlays the research section with the keys present in a YAML
// file. Keys absent from the file keep their current value.
func (c *Config) ApplyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc struct {
		Research *ResearchConfig `yaml:"research"`
	}
	doc.Research = &c.Research
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Validate checks field constraints and the cross-field rules.
func (c *Config) Validate() error {
	validate := validator.New()
	for _, section := range []interface{}{c.Store, c.Research, c.Search, c.Ai} {
		if err := validate.Struct(section); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	if c.Research.MaxDuration == 0 && c.Research.MaxIterations == 0 {
		return fmt.Errorf("invalid configuration: RESEARCH_MAX_DURATION or RESEARCH_MAX_ITERATIONS must be positive")
	}
	if c.Research.ContextBudget > 0 {
		need := c.Research.ContextBudget + promptOverheadTokens + c.Ai.MaxTokens
		if need > c.Ai.ContextWindow {
			return fmt.Errorf("invalid configuration: RESEARCH_CONTEXT_BUDGET (%d) + LLM_MAX_TOKENS (%d) + %d prompt tokens exceed LLM_CONTEXT_WINDOW (%d)",
				c.Research.ContextBudget, c.Ai.MaxTokens, promptOverheadTokens, c.Ai.ContextWindow)
		}
	}
	if c.Store.Driver == "postgres" && c.Database.Connection == "" {
		return fmt.Errorf("invalid configuration: STORE_DRIVER=postgres requires DB_CONNECTION_STRING")
	}
	if c.Search.Provider == "serpapi" && c.Keys.SerpAPI == "" {
		return fmt.Errorf("invalid configuration: SEARCH_PROVIDER=serpapi requires SERPAPI_API_KEY")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// resolveLLMProvider honors LLM_PROVIDER, then USE_LMSTUDIO (on by default),
// then falls back to a local Ollama daemon.
func resolveLLMProvider() string {
	if provider := getEnv("LLM_PROVIDER", ""); provider != "" {
		return provider
	}
	if getEnv("USE_LMSTUDIO", "1") == "1" {
		return "openai"
	}
	return "ollama"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts Go durations ("90m") or bare seconds ("5400").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	if seconds, err := strconv.Atoi(strValue); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
