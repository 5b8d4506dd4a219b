package bootstrap

import (
	"context"
	"fmt"

	"ai-research-be/internal/config"
	"ai-research-be/internal/controller"
	"ai-research-be/internal/pkg/logger"
	"ai-research-be/internal/repository/memory"
	"ai-research-be/internal/repository/sqlite"
	"ai-research-be/internal/repository/unitofwork"
	"ai-research-be/internal/service"
	"ai-research-be/pkg/database"
	"ai-research-be/pkg/embedding"
	geminiEmbedding "ai-research-be/pkg/embedding/gemini"
	"ai-research-be/pkg/embedding/jina"
	"ai-research-be/pkg/llm"
	"ai-research-be/pkg/llm/factory"
	"ai-research-be/pkg/lock"
	"ai-research-be/pkg/research"
	"ai-research-be/pkg/research/events"
	"ai-research-be/pkg/search"

	pktNats "ai-research-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

const bootModule = "BOOTSTRAP"

type Container struct {
	// Controllers
	ResearchController controller.IResearchController

	// Services (used directly by the CLI)
	ResearchService service.IResearchService
	SessionService  service.ISessionService
	DigestService   service.IDigestService

	Logger  logger.ILogger
	Factory unitofwork.RepositoryFactory

	closers []func()
}

// NewContainer wires the store, providers and services described by cfg.
// Optional infrastructure (Redis, NATS) degrades to in-process fallbacks when
// it is not configured or not reachable.
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{}

	// 1. Core Facades
	var sysLogger *logger.ZapLogger
	if cfg.App.LogConsole {
		sysLogger = logger.NewZapLogger(cfg.App.LogFilePath, cfg.IsProduction(), cfg.App.LogLevel)
	} else {
		sysLogger = logger.NewIsolatedLogger(cfg.App.LogFilePath, cfg.App.LogLevel)
	}
	c.Logger = sysLogger
	c.closers = append(c.closers, func() { _ = sysLogger.Sync() })

	uowFactory, err := OpenStore(cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Factory = uowFactory
	c.closers = append(c.closers, func() { _ = uowFactory.Close() })
	sysLogger.Info(bootModule, "Store opened", map[string]interface{}{
		"driver": cfg.Store.Driver,
		"path":   cfg.Store.Path,
	})

	// 2. Providers
	embeddingProvider, err := newEmbeddingProvider(ctx, cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	sysLogger.Info(bootModule, "Using embedding provider", map[string]interface{}{
		"provider": cfg.Ai.EmbeddingProvider,
		"model":    cfg.Ai.EmbeddingModel,
	})

	llmProvider, err := factory.NewLLMProvider(ctx, factory.Settings{
		Provider: cfg.Ai.LLMProvider,
		Model:    cfg.Ai.LLMModel,
		BaseURL:  llmBaseURL(cfg),
		APIKey:   llmAPIKey(cfg),
		Defaults: llm.Options{
			Temperature: cfg.Ai.Temperature,
			TopP:        cfg.Ai.TopP,
			MaxTokens:   cfg.Ai.MaxTokens,
		},
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("init llm provider: %w", err)
	}
	sysLogger.Info(bootModule, "Using LLM provider", map[string]interface{}{
		"provider": cfg.Ai.LLMProvider,
		"model":    cfg.Ai.LLMModel,
	})

	searchProvider, err := search.NewProvider(search.Settings{
		Provider:      cfg.Search.Provider,
		APIKey:        cfg.Keys.SerpAPI,
		BaseURL:       cfg.Search.BaseURL,
		RatePerSecond: cfg.Search.RatePerSecond,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("init search provider: %w", err)
	}

	// 3. Infrastructure
	locker := c.newLocker(ctx, cfg, sysLogger)
	publisher := c.newPublisher(ctx, cfg, sysLogger)

	// 4. Services
	dedup := research.NewDeduplicator(
		embeddingProvider,
		service.NewSummaryIndex(uowFactory),
		cfg.Research.DedupThreshold,
		sysLogger,
	)
	composer := research.NewPromptComposer(
		cfg.Research.ContextBudget,
		research.TruncateOrder(cfg.Research.TruncateOrder),
		cfg.Research.MaxFollowUps,
	)

	c.SessionService = service.NewSessionService(uowFactory, service.SessionOptions{
		MaxQueue:     cfg.Research.MaxQueue,
		MaxDepth:     cfg.Research.MaxDepth,
		StoreTimeout: cfg.Research.StoreTimeout,
	}, sysLogger)

	c.ResearchService = service.NewResearchService(
		c.SessionService,
		searchProvider,
		llmProvider,
		dedup,
		composer,
		locker,
		publisher,
		sysLogger,
		service.ResearchOptions{
			MaxFollowUps:     cfg.Research.MaxFollowUps,
			MaxResults:       cfg.Search.MaxResults,
			MaxTokens:        cfg.Ai.MaxTokens,
			MaxStoreFailures: cfg.Research.MaxStoreFailures,
			SearchTimeout:    cfg.Research.SearchTimeout,
			LLMTimeout:       cfg.Research.LLMTimeout,
			LockTTL:          cfg.Research.LockTTL,
		},
	)

	c.DigestService = service.NewDigestService(uowFactory, cfg.Research.StoreTimeout, sysLogger)

	// 5. Controllers
	c.ResearchController = controller.NewResearchController(
		c.ResearchService,
		c.SessionService,
		c.DigestService,
		cfg.Research.MaxDuration,
	)

	return c, nil
}

// Close releases everything NewContainer opened, newest first.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// OpenStore opens the persistence backend selected by STORE_DRIVER.
func OpenStore(cfg *config.Config) (unitofwork.RepositoryFactory, error) {
	switch cfg.Store.Driver {
	case "", "sqlite":
		store, err := sqlite.Open(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case "postgres":
		db, err := database.NewGormDBFromDSN(cfg.Database.Connection, cfg.Database.Verbose)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return unitofwork.NewRepositoryFactory(db), nil
	case "memory":
		return memory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func newEmbeddingProvider(ctx context.Context, cfg *config.Config) (embedding.EmbeddingProvider, error) {
	switch cfg.Ai.EmbeddingProvider {
	case "", "ollama":
		return embedding.NewOllamaProvider(cfg.Ai.OllamaBaseURL, cfg.Ai.EmbeddingModel), nil
	case "gemini":
		provider, err := geminiEmbedding.NewProvider(ctx, cfg.Keys.GoogleGemini, cfg.Ai.EmbeddingModel)
		if err != nil {
			return nil, fmt.Errorf("init gemini embeddings: %w", err)
		}
		return provider, nil
	case "jina":
		if cfg.Keys.Jina == "" {
			return nil, fmt.Errorf("jina embeddings require JINA_API_KEY")
		}
		return jina.NewJinaProvider(cfg.Keys.Jina, cfg.Ai.EmbeddingModel), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Ai.EmbeddingProvider)
	}
}

func llmBaseURL(cfg *config.Config) string {
	if cfg.Ai.LLMProvider == "ollama" {
		return cfg.Ai.OllamaBaseURL
	}
	return cfg.Ai.LLMBaseURL
}

func llmAPIKey(cfg *config.Config) string {
	switch cfg.Ai.LLMProvider {
	case "gemini":
		return cfg.Keys.GoogleGemini
	case "openai":
		return cfg.Keys.OpenAI
	}
	return ""
}

// newLocker returns a Redis-backed run lock, or lock.Nop when REDIS_URL is
// unset or the server does not answer.
func (c *Container) newLocker(ctx context.Context, cfg *config.Config, log logger.ILogger) lock.Locker {
	if cfg.App.RedisURL == "" {
		return lock.Nop{}
	}

	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Warn(bootModule, "Failed to parse Redis URL, using direct Addr", map[string]interface{}{"error": err.Error()})
		opt = &redis.Options{
			Addr: cfg.App.RedisURL,
		}
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Warn(bootModule, "Failed to connect to Redis, runs are not locked", map[string]interface{}{"error": err.Error()})
		_ = rdb.Close()
		return lock.Nop{}
	}
	c.closers = append(c.closers, func() { _ = rdb.Close() })
	return lock.NewRedisLocker(rdb)
}

// newPublisher publishes run events to NATS JetStream when NATS_URL is set
// and reachable; otherwise events go through an in-process channel that is
// relayed to the log.
func (c *Container) newPublisher(ctx context.Context, cfg *config.Config, log logger.ILogger) events.Publisher {
	if cfg.App.NatsURL != "" {
		natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
		if err == nil {
			c.closers = append(c.closers, natsPub.Close)
			return events.NewEventPublisher(natsPub, log)
		}
		log.Warn(bootModule, "Failed to connect to NATS publisher, events stay in process", map[string]interface{}{"error": err.Error()})
	}

	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermill.NewStdLogger(false, false),
	)
	relayCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := events.RelayToLog(relayCtx, pubSub, log); err != nil {
			log.Warn(bootModule, "Event relay stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	c.closers = append(c.closers, func() {
		cancel()
		_ = pubSub.Close()
		<-done
	})
	return events.NewEventPublisher(events.NewChannelSink(pubSub), log)
}
