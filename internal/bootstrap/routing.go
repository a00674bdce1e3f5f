package bootstrap

import (
	"procedure-assistant-be/internal/config"
	"procedure-assistant-be/internal/pkg/logger"
	"procedure-assistant-be/pkg/embedding"
	"procedure-assistant-be/pkg/routing/cache"
	"procedure-assistant-be/pkg/routing/confidence"
	"procedure-assistant-be/pkg/routing/router"
	"procedure-assistant-be/pkg/routing/session"
)

// RoutingCore is the part of the graph that routes a query vector. The API
// server and routerctl both build it.
type RoutingCore struct {
	Classifier *confidence.Classifier
	Embedder   embedding.Embedder
	CacheStore *cache.Store
	Policy     session.Policy
	Sessions   *session.Manager
	Router     *router.Router
}

func NewRoutingCore(cfg *config.Config, log logger.ILogger) (*RoutingCore, error) {
	classifier, err := confidence.NewClassifier(cfg.Routing.Thresholds)
	if err != nil {
		return nil, err
	}

	embedder := NewEmbedder(cfg)
	cacheStore := cache.NewStore(cache.Config{
		Dir:       cfg.Routing.CacheDir,
		Dimension: cfg.Ai.EmbeddingDimension,
	}, embedder, log)

	policy := session.Policy{
		RecencyWindow:    cfg.Routing.RecencyWindow,
		LowConfidenceCap: cfg.Routing.LowConfidenceCap,
		OverrideBoost:    cfg.Routing.OverrideBoost,
		HistoryLimit:     cfg.Routing.HistoryLimit,
		InactivityTTL:    cfg.Routing.SessionTTL,
		ClarificationTTL: cfg.Routing.ClarificationTTL,
	}
	sessions, err := session.NewManager(policy, classifier, log)
	if err != nil {
		return nil, err
	}

	return &RoutingCore{
		Classifier: classifier,
		Embedder:   embedder,
		CacheStore: cacheStore,
		Policy:     policy,
		Sessions:   sessions,
		Router:     router.New(cacheStore, classifier, sessions, log),
	}, nil
}
