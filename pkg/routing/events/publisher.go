package events

import (
	"context"
	"time"

	"procedure-assistant-be/internal/pkg/logger"
	pkgEvents "procedure-assistant-be/pkg/events"
	pktNats "procedure-assistant-be/pkg/nats"
	"procedure-assistant-be/pkg/routing/cache"
	"procedure-assistant-be/pkg/routing/router"
	"procedure-assistant-be/pkg/store"

	"github.com/google/uuid"
)

const module = "EVENTS"

// Publisher abstracts event publishing for routing outcomes
type Publisher interface {
	PublishRoutingDecided(ctx context.Context, sessionID string, d *router.Decision, trustApplied bool)
	PublishClarificationRequested(ctx context.Context, sessionID string, state *store.ClarificationState, degraded string)
	PublishCacheRebuilt(ctx context.Context, header cache.Header, trigger string)
}

type sink interface {
	Publish(ctx context.Context, event pkgEvents.Event) error
}

// NatsPublisher implements Publisher using NATS. Without a connection every
// call is a no-op, so routing never depends on the bus being up.
type NatsPublisher struct {
	publisher sink
	logger    logger.ILogger
	now       func() time.Time
}

func NewNatsPublisher(publisher *pktNats.Publisher, logger logger.ILogger) *NatsPublisher {
	p := &NatsPublisher{logger: logger, now: time.Now}
	if publisher != nil {
		p.publisher = publisher
	}
	return p
}

func (p *NatsPublisher) emit(ctx context.Context, eventType string, data map[string]interface{}) {
	if p.publisher == nil {
		return
	}

	now := p.now()
	data["event_id"] = uuid.NewString()
	data["occurred_at"] = now
	evt := pkgEvents.New(eventType, data, now)

	if err := p.publisher.Publish(ctx, evt); err != nil {
		p.logger.Error(module, "Failed to publish "+eventType+" event", map[string]interface{}{"error": err.Error()})
	}
}

// PublishRoutingDecided emits ROUTING_DECIDED for every terminal decision
func (p *NatsPublisher) PublishRoutingDecided(ctx context.Context, sessionID string, d *router.Decision, trustApplied bool) {
	if d == nil {
		return
	}
	data := map[string]interface{}{
		"session_id":     sessionID,
		"collection_id":  d.CollectionID,
		"document_id":    d.DocumentID,
		"score":          d.Score,
		"level":          d.Level.String(),
		"source":         string(d.Source),
		"was_overridden": d.WasOverridden,
		"trust_applied":  trustApplied,
	}
	if d.Original != nil {
		data["original_score"] = d.Original.Score
		data["original_level"] = d.Original.Level.String()
	}
	p.emit(ctx, pkgEvents.TypeRoutingDecided, data)
}

// PublishClarificationRequested emits CLARIFICATION_REQUESTED for every dialogue step
func (p *NatsPublisher) PublishClarificationRequested(ctx context.Context, sessionID string, state *store.ClarificationState, degraded string) {
	if state == nil {
		return
	}
	p.emit(ctx, pkgEvents.TypeClarificationRequested, map[string]interface{}{
		"session_id":    sessionID,
		"stage":         string(state.Stage),
		"option_count":  len(state.Options),
		"collection_id": state.CollectionID,
		"document_id":   state.DocumentID,
		"degraded":      degraded,
	})
}

// PublishCacheRebuilt emits ROUTING_CACHE_REBUILT. Other instances reload on it.
func (p *NatsPublisher) PublishCacheRebuilt(ctx context.Context, header cache.Header, trigger string) {
	p.emit(ctx, pkgEvents.TypeRoutingCacheRebuilt, map[string]interface{}{
		"embedding_model":  header.EmbeddingModel,
		"created_at":       header.CreatedAt.UTC().Format(time.RFC3339Nano),
		"dimension":        header.Dimension,
		"collection_count": header.CollectionCount,
		"document_count":   header.DocumentCount,
		"question_count":   header.QuestionCount,
		"trigger":          trigger,
	})
}
