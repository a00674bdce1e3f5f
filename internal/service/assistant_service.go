package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"procedure-assistant-be/internal/dto"
	"procedure-assistant-be/internal/pkg/logger"
	"procedure-assistant-be/internal/repository/audit"
	"procedure-assistant-be/pkg/answer"
	"procedure-assistant-be/pkg/routing/cache"
	"procedure-assistant-be/pkg/routing/clarify"
	"procedure-assistant-be/pkg/routing/consensus"
	routingEvents "procedure-assistant-be/pkg/routing/events"
	"procedure-assistant-be/pkg/routing/router"
	"procedure-assistant-be/pkg/routing/session"
	"procedure-assistant-be/pkg/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const assistantModule = "ASSISTANT"

const (
	degradedNoContent          = "no_content"
	degradedContentUnavailable = "content_unavailable"
	degradedGenerationFailed   = "generation_failed"

	noContentAnswer = "This procedure has no published content yet. Please contact the office that handles it."
)

var tracer = otel.Tracer("procedure-assistant-be/internal/service")

// RoutingCache is the read side of the embedding cache store.
type RoutingCache interface {
	Current() *cache.Artifact
	Err() error
}

type ContextSelector interface {
	Select(ctx context.Context, query string, d *router.Decision) (*consensus.Result, error)
}

type AnswerGenerator interface {
	Generate(ctx context.Context, req answer.Request) (string, error)
}

type IAssistantService interface {
	Ask(ctx context.Context, req *dto.AskRequest) (*dto.AssistantResponse, error)
	ResolveClarification(ctx context.Context, req *dto.ResolveClarificationRequest) (*dto.AssistantResponse, error)
	ClearSession(ctx context.Context, sessionID string) error
}

type assistantService struct {
	routingCache RoutingCache
	orchestrator *clarify.Orchestrator
	sessions     *session.Manager
	sessionStore session.Store
	locker       session.Locker
	selector     ContextSelector
	generator    AnswerGenerator
	events       routingEvents.Publisher
	auditLog     audit.Recorder
	logger       logger.ILogger
}

func NewAssistantService(
	routingCache RoutingCache,
	orchestrator *clarify.Orchestrator,
	sessions *session.Manager,
	sessionStore session.Store,
	locker session.Locker,
	selector ContextSelector,
	generator AnswerGenerator,
	events routingEvents.Publisher,
	auditLog audit.Recorder,
	logger logger.ILogger,
) IAssistantService {
	return &assistantService{
		routingCache: routingCache,
		orchestrator: orchestrator,
		sessions:     sessions,
		sessionStore: sessionStore,
		locker:       locker,
		selector:     selector,
		generator:    generator,
		events:       events,
		auditLog:     auditLog,
		logger:       logger,
	}
}

// turn is the state of one request while it runs under the session lock.
// audit and announce are only emitted once the session has been saved.
type turn struct {
	session  *store.Session
	query    string
	outcome  *clarify.Outcome
	audit    audit.Record
	announce func(ctx context.Context)
}

func (s *assistantService) Ask(ctx context.Context, req *dto.AskRequest) (*dto.AssistantResponse, error) {
	ctx, span := tracer.Start(ctx, "AssistantService.Ask")
	defer span.End()

	sessionID := strings.TrimSpace(req.SessionId)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	query := strings.TrimSpace(req.Query)

	return s.runTurn(ctx, span, sessionID, func(sess *store.Session) (*turn, error) {
		out, err := s.orchestrator.Start(ctx, sess, query)
		if err != nil {
			return nil, err
		}
		return &turn{session: sess, query: query, outcome: out}, nil
	})
}

func (s *assistantService) ResolveClarification(ctx context.Context, req *dto.ResolveClarificationRequest) (*dto.AssistantResponse, error) {
	ctx, span := tracer.Start(ctx, "AssistantService.ResolveClarification")
	defer span.End()

	return s.runTurn(ctx, span, strings.TrimSpace(req.SessionId), func(sess *store.Session) (*turn, error) {
		var original string
		if sess.Pending != nil {
			original = sess.Pending.OriginalQuery
		}

		out, err := s.orchestrator.Resolve(ctx, sess, clarify.Response{
			OptionID:      strings.TrimSpace(req.SelectedOption),
			FreeText:      req.FreeText,
			OriginalQuery: req.OriginalQuery,
		})
		if err != nil {
			return nil, err
		}
		return &turn{session: sess, query: retrievalQuery(original, req.FreeText), outcome: out}, nil
	})
}

func (s *assistantService) ClearSession(ctx context.Context, sessionID string) error {
	release, err := s.locker.Acquire(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()

	if err := s.sessionStore.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	s.logger.Info(assistantModule, "Session cleared", map[string]interface{}{"session_id": sessionID})
	return nil
}

// runTurn serializes turns of one session, works on a copy of the stored
// session and saves it only if the request is still alive when the turn ends.
func (s *assistantService) runTurn(ctx context.Context, span trace.Span, sessionID string, step func(*store.Session) (*turn, error)) (*dto.AssistantResponse, error) {
	span.SetAttributes(attribute.String("session.id", sessionID))

	if err := s.routingCache.Err(); err != nil && cache.IsCorrupt(err) {
		s.logger.Error(assistantModule, "Refusing to route on a corrupt cache", map[string]interface{}{"error": err.Error()})
		span.SetStatus(codes.Error, "routing cache corrupt")
		return nil, err
	}

	release, err := s.locker.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	sess, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	t, err := step(sess)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	res, err := s.complete(ctx, t)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		s.logger.Warn(assistantModule, "Request ended before the turn was saved", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
		return nil, err
	}
	if err := s.sessionStore.Save(ctx, t.session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	s.record(ctx, t.audit)
	if t.announce != nil {
		t.announce(ctx)
	}

	span.SetAttributes(attribute.String("assistant.response_type", res.Type))
	return res, nil
}

func (s *assistantService) loadSession(ctx context.Context, sessionID string) (*store.Session, error) {
	sess, found, err := s.sessionStore.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return s.sessions.New(sessionID), nil
	}
	return sess.Clone(), nil
}

func (s *assistantService) complete(ctx context.Context, t *turn) (*dto.AssistantResponse, error) {
	if t.outcome.Terminal() {
		return s.completeAnswer(ctx, t)
	}
	return s.completeClarification(t), nil
}

func (s *assistantService) completeAnswer(ctx context.Context, t *turn) (*dto.AssistantResponse, error) {
	d := t.outcome.Decision
	res := &dto.AssistantResponse{
		Type:      dto.ResponseTypeAnswer,
		SessionId: t.session.ID,
		Answer:    answerResponse(d),
	}
	degraded := []string{t.outcome.Degraded}

	if doc, ok := s.routingCache.Current().Document(d.DocumentID); ok {
		res.Answer.DocumentTitle = doc.Title
	}

	selected, err := s.selector.Select(ctx, t.query, d)
	switch {
	case err == nil:
		res.Answer.TrustApplied = selected.TrustApplied
		res.Answer.Reason = selected.Reason
		res.Answer.Sources = chunkSources(selected.Context)
		degraded = append(degraded, selected.Degraded)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, consensus.ErrNoContent):
		res.Answer.Text = noContentAnswer
		degraded = append(degraded, degradedNoContent)
	default:
		s.logger.Error(assistantModule, "Content selection failed", map[string]interface{}{
			"document_id": d.DocumentID,
			"error":       err.Error(),
		})
		degraded = append(degraded, degradedContentUnavailable)
	}

	if selected != nil {
		text, err := s.generator.Generate(ctx, answer.Request{
			Query:         t.query,
			DocumentTitle: res.Answer.DocumentTitle,
			Context:       selected.Context,
		})
		switch {
		case err == nil:
			res.Answer.Text = text
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			degraded = append(degraded, degradedGenerationFailed)
		}
	}
	res.Degraded = joinReasons(degraded...)

	s.sessions.AppendTurn(t.session, store.Turn{
		Query:        t.query,
		CollectionID: d.CollectionID,
		DocumentID:   d.DocumentID,
		Score:        d.Score,
		Level:        d.Level,
		Outcome:      store.OutcomeAnswer,
		Overridden:   d.WasOverridden,
	})
	t.audit = audit.Record{
		SessionID:    t.session.ID,
		QueryHash:    audit.HashQuery(t.query),
		Kind:         audit.KindAnswer,
		CollectionID: d.CollectionID,
		DocumentID:   d.DocumentID,
		Score:        d.Score,
		Level:        d.Level.String(),
		Source:       string(d.Source),
		Overridden:   d.WasOverridden,
		TrustApplied: res.Answer.TrustApplied,
		Degraded:     res.Degraded,
	}
	t.announce = func(ctx context.Context) {
		s.events.PublishRoutingDecided(ctx, t.session.ID, d, res.Answer.TrustApplied)
	}
	return res, nil
}

func (s *assistantService) completeClarification(t *turn) *dto.AssistantResponse {
	state := t.outcome.Clarification
	res := &dto.AssistantResponse{
		Type:          dto.ResponseTypeClarification,
		SessionId:     t.session.ID,
		Clarification: clarificationResponse(state, t.outcome.Restarted),
		Degraded:      t.outcome.Degraded,
	}

	entry := store.Turn{Query: t.query, Outcome: store.OutcomeClarification}
	rec := audit.Record{
		SessionID: t.session.ID,
		QueryHash: audit.HashQuery(t.query),
		Kind:      audit.KindClarification,
		Stage:     string(state.Stage),
		Degraded:  t.outcome.Degraded,
	}
	if r := t.outcome.Route; r != nil {
		entry.CollectionID, entry.DocumentID = r.CollectionID, r.DocumentID
		entry.Score, entry.Level, entry.Overridden = r.Score, r.Level, r.WasOverridden
		rec.CollectionID, rec.DocumentID = r.CollectionID, r.DocumentID
		rec.Score, rec.Level, rec.Source, rec.Overridden = r.Score, r.Level.String(), string(r.Source), r.WasOverridden
	}

	s.sessions.AppendTurn(t.session, entry)
	t.audit = rec
	t.announce = func(ctx context.Context) {
		s.events.PublishClarificationRequested(ctx, t.session.ID, state, t.outcome.Degraded)
	}
	return res
}

func (s *assistantService) record(ctx context.Context, rec audit.Record) {
	if s.auditLog == nil {
		return
	}
	if err := s.auditLog.Record(ctx, rec); err != nil {
		s.logger.Warn(assistantModule, "Failed to write routing audit record", map[string]interface{}{"error": err.Error()})
	}
}

// retrievalQuery is the text content search runs on after a dialogue. Free text
// refines the original question rather than replacing it.
func retrievalQuery(original, freeText string) string {
	original, freeText = strings.TrimSpace(original), strings.TrimSpace(freeText)
	switch {
	case freeText == "":
		return original
	case original == "":
		return freeText
	default:
		return original + "\n" + freeText
	}
}

func joinReasons(reasons ...string) string {
	var out []string
	for _, r := range reasons {
		if r != "" {
			out = append(out, r)
		}
	}
	return strings.Join(out, ",")
}

func answerResponse(d *router.Decision) *dto.AnswerResponse {
	res := &dto.AnswerResponse{
		CollectionId:    d.CollectionID,
		DocumentId:      d.DocumentID,
		Score:           d.Score,
		Confidence:      d.Level.String(),
		MatchedQuestion: d.MatchedQuestion,
		Source:          string(d.Source),
		WasOverridden:   d.WasOverridden,
		Sources:         []dto.ChunkSourceResponse{},
	}
	if d.Original != nil {
		res.Original = &dto.OriginalConfidenceResponse{
			Score:      d.Original.Score,
			Confidence: d.Original.Level.String(),
		}
	}
	return res
}

func chunkSources(chunks []consensus.Chunk) []dto.ChunkSourceResponse {
	out := make([]dto.ChunkSourceResponse, len(chunks))
	for i, c := range chunks {
		out[i] = dto.ChunkSourceResponse{ChunkId: c.ID, DocumentId: c.DocumentID, Score: c.Score}
	}
	return out
}

func clarificationResponse(state *store.ClarificationState, restarted bool) *dto.ClarificationResponse {
	options := make([]dto.OptionResponse, len(state.Options))
	for i, o := range state.Options {
		options[i] = dto.OptionResponse{
			Id:              o.ID,
			Kind:            string(o.Kind),
			Label:           o.Label,
			MatchedQuestion: o.MatchedQuestion,
			Similarity:      o.Similarity,
			Hint:            o.Hint,
		}
	}
	return &dto.ClarificationResponse{
		Stage:         string(state.Stage),
		OriginalQuery: state.OriginalQuery,
		Options:       options,
		Restarted:     restarted,
	}
}
