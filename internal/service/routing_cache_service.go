package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"procedure-assistant-be/internal/dto"
	"procedure-assistant-be/internal/pkg/logger"
	pkgEvents "procedure-assistant-be/pkg/events"
	"procedure-assistant-be/pkg/routing/cache"
	routingEvents "procedure-assistant-be/pkg/routing/events"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

const cacheModule = "CACHE_SERVICE"

// RebuildTopic carries operator rebuild commands on the in-process bus.
const RebuildTopic = "routing.cache.rebuild"

const (
	TriggerOperator = "operator"
	TriggerStartup  = "startup"
)

// CacheStore is the embedding cache store as the service layer uses it.
type CacheStore interface {
	RoutingCache
	Path() string
	ModelID() string
	Load() (*cache.Artifact, error)
	EnsureFresh(ctx context.Context, src cache.DocumentSource) (*cache.Artifact, bool, error)
	Rebuild(ctx context.Context, src cache.DocumentSource) (*cache.Artifact, error)
}

// SourceLoader opens a consistent view of the procedure catalog.
type SourceLoader func(ctx context.Context) (cache.DocumentSource, error)

type RebuildCommand struct {
	Trigger     string    `json:"trigger"`
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

type IRoutingCacheService interface {
	Status() *dto.RoutingCacheStatusResponse
	EnsureFresh(ctx context.Context) error
	RequestRebuild(ctx context.Context, requestedBy string) (*dto.RebuildRoutingCacheResponse, error)
	Rebuild(ctx context.Context, trigger string) (*cache.Artifact, error)
	Consume(ctx context.Context) error
	HandleRemoteRebuild(ctx context.Context, event pkgEvents.Event) error
}

type routingCacheService struct {
	store      CacheStore
	loadSource SourceLoader
	publisher  message.Publisher
	subscriber message.Subscriber
	events     routingEvents.Publisher
	logger     logger.ILogger
}

func NewRoutingCacheService(
	store CacheStore,
	loadSource SourceLoader,
	publisher message.Publisher,
	subscriber message.Subscriber,
	events routingEvents.Publisher,
	logger logger.ILogger,
) IRoutingCacheService {
	return &routingCacheService{
		store:      store,
		loadSource: loadSource,
		publisher:  publisher,
		subscriber: subscriber,
		events:     events,
		logger:     logger,
	}
}

func (s *routingCacheService) Status() *dto.RoutingCacheStatusResponse {
	res := &dto.RoutingCacheStatusResponse{
		Path:           s.store.Path(),
		EmbeddingModel: s.store.ModelID(),
	}
	if err := s.store.Err(); err != nil {
		res.Error = err.Error()
	}

	a := s.store.Current()
	if a == nil {
		return res
	}
	h := a.Header
	createdAt := h.CreatedAt
	res.Loaded = true
	res.Version = h.Version
	res.CreatedAt = &createdAt
	res.Dimension = h.Dimension
	res.CollectionCount = h.CollectionCount
	res.DocumentCount = h.DocumentCount
	res.QuestionCount = h.QuestionCount
	res.Excluded = h.Excluded
	return res
}

// EnsureFresh runs at startup: load the artifact, rebuilding it when it is
// missing, corrupt or was produced by another embedding model.
func (s *routingCacheService) EnsureFresh(ctx context.Context) error {
	src, err := s.loadSource(ctx)
	if err != nil {
		return err
	}
	a, rebuilt, err := s.store.EnsureFresh(ctx, src)
	if err != nil {
		return err
	}
	if rebuilt {
		s.events.PublishCacheRebuilt(ctx, a.Header, TriggerStartup)
	}
	return nil
}

func (s *routingCacheService) RequestRebuild(ctx context.Context, requestedBy string) (*dto.RebuildRoutingCacheResponse, error) {
	payload, err := json.Marshal(RebuildCommand{
		Trigger:     TriggerOperator,
		RequestedBy: requestedBy,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := s.publisher.Publish(RebuildTopic, msg); err != nil {
		return nil, fmt.Errorf("enqueue rebuild: %w", err)
	}

	s.logger.Info(cacheModule, "Routing cache rebuild queued", map[string]interface{}{
		"request_id":   msg.UUID,
		"requested_by": requestedBy,
	})
	return &dto.RebuildRoutingCacheResponse{RequestId: msg.UUID, Status: "queued"}, nil
}

// Rebuild embeds the catalog from a fresh snapshot and swaps the new artifact in.
func (s *routingCacheService) Rebuild(ctx context.Context, trigger string) (*cache.Artifact, error) {
	src, err := s.loadSource(ctx)
	if err != nil {
		return nil, err
	}
	a, err := s.store.Rebuild(ctx, src)
	if err != nil {
		return nil, err
	}
	s.events.PublishCacheRebuilt(ctx, a.Header, trigger)
	return a, nil
}

func (s *routingCacheService) Consume(ctx context.Context) error {
	messages, err := s.subscriber.Subscribe(ctx, RebuildTopic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			s.processMessage(ctx, msg)
		}
	}()
	return nil
}

func (s *routingCacheService) processMessage(ctx context.Context, msg *message.Message) {
	var cmd RebuildCommand
	if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
		s.logger.Error(cacheModule, "Dropping malformed rebuild command", map[string]interface{}{"error": err.Error()})
		msg.Ack()
		return
	}

	// A rebuild that started after this request already covers it
	if a := s.store.Current(); a != nil && a.Header.CreatedAt.After(cmd.RequestedAt) {
		s.logger.Info(cacheModule, "Skipping rebuild, cache is newer than the request", map[string]interface{}{
			"request_id": msg.UUID,
			"created_at": a.Header.CreatedAt,
		})
		msg.Ack()
		return
	}

	started := time.Now()
	a, err := s.Rebuild(ctx, cmd.Trigger)
	if err != nil {
		// Not retried: the live artifact stays and the operator can queue another rebuild
		s.logger.Error(cacheModule, "Routing cache rebuild failed", map[string]interface{}{
			"request_id": msg.UUID,
			"error":      err.Error(),
		})
		msg.Ack()
		return
	}

	s.logger.Info(cacheModule, "Routing cache rebuilt", map[string]interface{}{
		"request_id": msg.UUID,
		"documents":  a.Header.DocumentCount,
		"questions":  a.Header.QuestionCount,
		"took_ms":    time.Since(started).Milliseconds(),
	})
	msg.Ack()
}

// HandleRemoteRebuild reloads the artifact when another instance published a
// newer one for the same embedding model.
func (s *routingCacheService) HandleRemoteRebuild(ctx context.Context, event pkgEvents.Event) error {
	data := event.Payload()
	if model, _ := data["embedding_model"].(string); model != s.store.ModelID() {
		return nil
	}

	if raw, _ := data["created_at"].(string); raw != "" {
		createdAt, err := time.Parse(time.RFC3339Nano, raw)
		if err == nil {
			if a := s.store.Current(); a != nil && !a.Header.CreatedAt.Before(createdAt) {
				return nil
			}
		}
	}

	if _, err := s.store.Load(); err != nil {
		return fmt.Errorf("reload routing cache: %w", err)
	}
	return nil
}
