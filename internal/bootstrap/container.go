package bootstrap

import (
	"context"
	"log"
	"os"

	"procedure-assistant-be/internal/config"
	"procedure-assistant-be/internal/controller"
	"procedure-assistant-be/internal/pkg/logger"
	"procedure-assistant-be/internal/repository/audit"
	"procedure-assistant-be/internal/repository/unitofwork"
	"procedure-assistant-be/internal/service"
	"procedure-assistant-be/pkg/answer"
	"procedure-assistant-be/pkg/embedding"
	"procedure-assistant-be/pkg/embedding/jina"
	"procedure-assistant-be/pkg/llm/factory"
	"procedure-assistant-be/pkg/routing/cache"
	"procedure-assistant-be/pkg/routing/clarify"
	"procedure-assistant-be/pkg/routing/consensus"
	routingEvents "procedure-assistant-be/pkg/routing/events"
	"procedure-assistant-be/pkg/routing/router"
	"procedure-assistant-be/pkg/routing/session"

	pktNats "procedure-assistant-be/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	AssistantController    controller.IAssistantController
	RoutingAdminController controller.IRoutingAdminController

	// Background Services (Exposed for main.go to run)
	RoutingCacheService service.IRoutingCacheService
	RoutingAuditService service.IRoutingAuditService
	CacheWatcher        *cache.Watcher
	NatsSubscriber      *pktNats.Subscriber

	// Routing core
	Logger     logger.ILogger
	Embedder   embedding.Embedder
	CacheStore *cache.Store
	Router     *router.Router

	closers []func() error
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core Facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	c := &Container{Logger: sysLogger}

	core, err := NewRoutingCore(cfg, sysLogger)
	if err != nil {
		log.Fatalf("[FATAL] Invalid routing configuration: %v", err)
	}
	embedder := core.Embedder
	cacheStore := core.CacheStore
	c.Embedder = embedder
	c.CacheStore = cacheStore
	c.Router = core.Router

	if cfg.Routing.CacheWatch {
		watcher, err := cache.NewWatcher(cacheStore)
		if err != nil {
			log.Printf("[WARN] Routing cache hot reload disabled: %v", err)
		} else {
			c.CacheWatcher = watcher
			c.closers = append(c.closers, watcher.Close)
		}
	}

	// 2. Session store + clarification dialogue
	sessionStore, sessionLocker, closeSessions := NewSessionBackend(cfg, core.Policy, sysLogger)
	c.closers = append(c.closers, closeSessions)
	orchestrator := clarify.NewOrchestrator(core.Router, cacheStore, core.Sessions, embedder, clarify.Config{
		TopCollections: cfg.Routing.TopCollections,
		RunnerUps:      cfg.Routing.RunnerUps,
	}, sysLogger)

	// 3. Retrieval consensus + answer generation
	var reranker consensus.Reranker
	if cfg.Ai.RerankEnabled && cfg.Keys.Jina != "" {
		reranker = jina.NewJinaReranker(cfg.Keys.Jina)
		log.Printf("[INFO] Using Reranker: JINA AI")
	}
	adapter := consensus.NewAdapter(
		service.NewChunkSearcher(uowFactory, embedder),
		reranker,
		consensus.Config{
			TrustThreshold: cfg.Routing.TrustThreshold,
			CandidateK:     cfg.Routing.CandidateK,
			ContextSize:    cfg.Routing.ContextSize,
			RerankTimeout:  cfg.Ai.RerankTimeout,
		},
		sysLogger,
	)

	llmProvider, err := factory.NewLLMProvider(factory.Settings{
		Provider: cfg.Ai.LLMProvider,
		Model:    cfg.Ai.LLMModel,
		BaseURL:  llmBaseURL(cfg),
		APIKey:   cfg.Keys.HuggingFace,
	})
	if err != nil {
		log.Fatalf("[FATAL] Failed to initialize LLM Provider: %v", err)
	}
	log.Printf("[INFO] Using LLM Provider: %s (%s)", cfg.Ai.LLMProvider, cfg.Ai.LLMModel)
	generator := answer.NewGenerator(llmProvider, sysLogger)

	// 4. Infrastructure
	// NATS
	natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
	} else {
		c.closers = append(c.closers, func() error { natsPub.Close(); return nil })
	}
	natsSub, err := pktNats.NewSubscriber(cfg.App.NatsURL, sysLogger)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Subscriber: %v", err)
	} else {
		c.NatsSubscriber = natsSub
		c.closers = append(c.closers, func() error { natsSub.Close(); return nil })
	}
	routingPublisher := routingEvents.NewNatsPublisher(natsPub, sysLogger)

	// Event Bus (rebuild command queue)
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)
	c.closers = append(c.closers, pubSub.Close)

	// Decision audit trail
	auditLog, err := audit.NewSQLiteAuditLog(context.Background(), cfg.Database.AuditPath, sysLogger)
	if err != nil {
		log.Fatalf("[FATAL] Failed to open routing audit log: %v", err)
	}
	c.closers = append(c.closers, auditLog.Close)

	// 5. Services
	loadSource := func(ctx context.Context) (cache.DocumentSource, error) {
		return service.LoadProcedureSnapshot(ctx, uowFactory)
	}
	c.RoutingCacheService = service.NewRoutingCacheService(cacheStore, loadSource, pubSub, pubSub, routingPublisher, sysLogger)
	c.RoutingAuditService = service.NewRoutingAuditService(auditLog, sysLogger)

	assistantService := service.NewAssistantService(
		cacheStore,
		orchestrator,
		core.Sessions,
		sessionStore,
		sessionLocker,
		adapter,
		generator,
		routingPublisher,
		auditLog,
		sysLogger,
	)

	// 6. Controllers
	c.AssistantController = controller.NewAssistantController(assistantService)
	c.RoutingAdminController = controller.NewRoutingAdminController(c.RoutingCacheService, c.RoutingAuditService)

	return c
}

// Close releases connections in reverse order of creation.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			log.Printf("[WARN] Shutdown: %v", err)
		}
	}
}

// NewEmbedder picks the embedding provider from config. Every call is bounded by EMBED_TIMEOUT.
func NewEmbedder(cfg *config.Config) embedding.Embedder {
	var embeddingProvider embedding.Embedder
	switch cfg.Ai.EmbeddingProvider {
	case "ollama":
		embeddingProvider = embedding.NewOllamaProvider(
			cfg.Ai.OllamaBaseURL,
			cfg.Ai.OllamaModel,
		)
		log.Printf("[INFO] Using Embedding Provider: OLLAMA (%s)", cfg.Ai.OllamaModel)
	case "jina":
		embeddingProvider = jina.NewJinaProvider(cfg.Keys.Jina)
		log.Printf("[INFO] Using Embedding Provider: JINA AI")
	default:
		gemini := embedding.NewGeminiProvider(cfg.Keys.GoogleGemini)
		if cfg.Ai.GeminiModel != "" {
			gemini.Model = cfg.Ai.GeminiModel
		}
		embeddingProvider = gemini
		log.Printf("[INFO] Using Embedding Provider: GEMINI (%s)", gemini.Model)
	}
	return embedding.WithTimeout(embeddingProvider, cfg.Ai.EmbedTimeout)
}

// NewSessionBackend returns the session store and the per-session turn lock.
// With SESSION_BACKEND=redis both share one client so turns are serialized
// across instances; otherwise both are in-process.
func NewSessionBackend(cfg *config.Config, policy session.Policy, sysLogger logger.ILogger) (session.Store, session.Locker, func() error) {
	if cfg.Routing.SessionBackend != "redis" {
		return session.NewMemoryStore(policy), session.NewKeyedLocker(), func() error { return nil }
	}

	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: cfg.App.RedisURL,
		}
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v", err)
	}
	return session.NewRedisStore(rdb, policy), session.NewRedisLocker(rdb, cfg.Routing.SessionLockTTL, sysLogger), rdb.Close
}

func llmBaseURL(cfg *config.Config) string {
	if cfg.Ai.LLMBaseURL != "" {
		return cfg.Ai.LLMBaseURL
	}
	if cfg.Ai.LLMProvider == "ollama" {
		return cfg.Ai.OllamaBaseURL
	}
	return ""
}

// DurableName identifies this instance's consumer of cache rebuild events.
func DurableName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return "routing-cache-" + sanitize(host)
}

func sanitize(s string) string {
	out := []rune(s)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
