package clarify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"procedure-assistant-be/internal/pkg/logger"
	"procedure-assistant-be/pkg/embedding"
	"procedure-assistant-be/pkg/routing/confidence"
	"procedure-assistant-be/pkg/routing/router"
	"procedure-assistant-be/pkg/routing/session"
	"procedure-assistant-be/pkg/store"
)

const module = "CLARIFY"

// Degradation reasons reported on an Outcome
const (
	ReasonEmbedTimeout      = "embed_timeout"
	ReasonEmbedFailed       = "embed_failed"
	ReasonRouterUnavailable = "router_unavailable"
	ReasonStaleOption       = "stale_option"
)

type Config struct {
	TopCollections int
	RunnerUps      int
}

func DefaultConfig() Config {
	return Config{TopCollections: 3, RunnerUps: 3}
}

// Outcome is either a terminal decision or a pending clarification step.
// Route is the non-terminal routing result that led to the step, when there was one.
type Outcome struct {
	Decision      *router.Decision
	Clarification *store.ClarificationState
	Route         *router.Decision
	Degraded      string
	Restarted     bool
}

func (o *Outcome) Terminal() bool {
	return o != nil && o.Decision != nil
}

// Response is the user's answer to a clarification step: an offered option id or free text.
// OriginalQuery, when set, must name the query the pending dialogue was opened for.
type Response struct {
	OptionID      string
	FreeText      string
	OriginalQuery string
}

type Orchestrator struct {
	router    *router.Router
	artifacts router.ArtifactSource
	sessions  *session.Manager
	embedder  embedding.Embedder
	cfg       Config
	logger    logger.ILogger
}

func NewOrchestrator(
	r *router.Router,
	artifacts router.ArtifactSource,
	sessions *session.Manager,
	embedder embedding.Embedder,
	cfg Config,
	log logger.ILogger,
) *Orchestrator {
	if cfg.TopCollections <= 0 {
		cfg.TopCollections = DefaultConfig().TopCollections
	}
	if cfg.RunnerUps <= 0 {
		cfg.RunnerUps = DefaultConfig().RunnerUps
	}
	return &Orchestrator{
		router:    r,
		artifacts: artifacts,
		sessions:  sessions,
		embedder:  embedder,
		cfg:       cfg,
		logger:    log,
	}
}

// Start handles a fresh query. Any pending dialogue is superseded.
// The session is the turn's working copy and is mutated in place.
func (o *Orchestrator) Start(ctx context.Context, s *store.Session, query string) (*Outcome, error) {
	s.Pending = nil
	state := &store.ClarificationState{
		OriginalQuery: query,
		CreatedAt:     o.sessions.Now(),
	}

	vec, reason, err := o.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if vec == nil {
		return o.broadFallback(s, state, reason), nil
	}
	state.QueryVector = vec

	d, err := o.router.Route(vec, router.WithSession(s))
	if errors.Is(err, router.ErrRouterUnavailable) {
		o.logger.Warn(module, "Router unavailable, offering every collection", map[string]interface{}{"error": err.Error()})
		return o.broadFallback(s, state, ReasonRouterUnavailable), nil
	}
	if err != nil {
		return nil, err
	}
	return o.recoverStale(s, state)(o.advance(s, state, d))
}

// Resolve re-enters the dialogue at its recorded stage. Invalid responses leave
// the pending state untouched.
func (o *Orchestrator) Resolve(ctx context.Context, s *store.Session, resp Response) (*Outcome, error) {
	if s.Pending == nil {
		return nil, ErrNoPendingClarification
	}
	state := s.Pending.Clone()
	if q := strings.TrimSpace(resp.OriginalQuery); q != "" && q != strings.TrimSpace(state.OriginalQuery) {
		return nil, fmt.Errorf("%w: pending dialogue is for a different query", ErrInvalidOption)
	}
	text := strings.TrimSpace(resp.FreeText)

	if resp.OptionID == "" {
		if text == "" {
			return nil, fmt.Errorf("%w: empty response", ErrInvalidOption)
		}
		if state.Stage != store.StageManualInput {
			state.MarkResolved(state.Stage)
		}
		return o.recoverStale(s, state)(o.handleFreeText(ctx, s, state, text))
	}

	opt, ok := state.FindOption(resp.OptionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidOption, resp.OptionID)
	}
	if opt.Kind == store.OptionManual {
		return o.enterManualInput(s, state), nil
	}

	var (
		out *Outcome
		err error
	)
	switch state.Stage {
	case store.StageCollectionSelection:
		out, err = o.resolveCollection(ctx, s, state, opt)
	case store.StageDocumentSelection:
		out, err = o.resolveDocument(s, state, opt)
	case store.StageQuestionSelection:
		out, err = o.resolveQuestion(s, state, opt)
	case store.StageManualInput:
		err = fmt.Errorf("%w: manual input expects free text", ErrInvalidOption)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownStage, state.Stage)
	}
	return o.recoverStale(s, state)(out, err)
}

// recoverStale turns a StaleOptionError into a restarted dialogue.
func (o *Orchestrator) recoverStale(s *store.Session, state *store.ClarificationState) func(*Outcome, error) (*Outcome, error) {
	return func(out *Outcome, err error) (*Outcome, error) {
		var stale *StaleOptionError
		if errors.As(err, &stale) {
			return o.restart(s, state, stale), nil
		}
		return out, err
	}
}

func (o *Orchestrator) resolveCollection(ctx context.Context, s *store.Session, state *store.ClarificationState, opt store.Option) (*Outcome, error) {
	if opt.Kind != store.OptionCollection {
		return nil, fmt.Errorf("%w: %s at %s", ErrInvalidOption, opt.Kind, state.Stage)
	}
	if _, ok := o.artifacts.Current().Collection(opt.CollectionID); !ok {
		return nil, &StaleOptionError{OptionID: opt.ID, Kind: opt.Kind, TargetID: opt.CollectionID}
	}
	state.MarkResolved(store.StageCollectionSelection)
	state.CollectionID = opt.CollectionID

	vec := o.vectorFor(ctx, state)
	if vec == nil {
		return o.documentSelection(s, state, opt.CollectionID, nil)
	}

	d, err := o.router.Route(vec, router.WithinCollection(opt.CollectionID))
	var unknown *router.UnknownCollectionError
	switch {
	case errors.As(err, &unknown):
		return nil, &StaleOptionError{OptionID: opt.ID, Kind: opt.Kind, TargetID: opt.CollectionID}
	case errors.Is(err, router.ErrRouterUnavailable):
		return o.documentSelection(s, state, opt.CollectionID, nil)
	case err != nil:
		return nil, err
	}
	return o.advance(s, state, d)
}

func (o *Orchestrator) resolveDocument(s *store.Session, state *store.ClarificationState, opt store.Option) (*Outcome, error) {
	if opt.Kind != store.OptionDocument {
		return nil, fmt.Errorf("%w: %s at %s", ErrInvalidOption, opt.Kind, state.Stage)
	}
	doc, ok := o.artifacts.Current().Document(opt.DocumentID)
	if !ok || doc.CollectionID != opt.CollectionID {
		return nil, &StaleOptionError{OptionID: opt.ID, Kind: opt.Kind, TargetID: opt.DocumentID}
	}
	state.MarkResolved(store.StageDocumentSelection)
	return o.questionSelection(s, state, doc.ID)
}

func (o *Orchestrator) resolveQuestion(s *store.Session, state *store.ClarificationState, opt store.Option) (*Outcome, error) {
	if opt.Kind != store.OptionQuestion {
		return nil, fmt.Errorf("%w: %s at %s", ErrInvalidOption, opt.Kind, state.Stage)
	}
	doc, ok := o.artifacts.Current().Document(opt.DocumentID)
	if !ok || opt.QuestionIndex < 0 || opt.QuestionIndex >= len(doc.Questions) {
		return nil, &StaleOptionError{OptionID: opt.ID, Kind: opt.Kind, TargetID: opt.DocumentID}
	}
	state.MarkResolved(store.StageQuestionSelection)
	return o.userChoice(s, doc.CollectionID, doc.ID, doc.Questions[opt.QuestionIndex], opt.QuestionIndex, router.SourceUserSelection), nil
}

func (o *Orchestrator) enterManualInput(s *store.Session, state *store.ClarificationState) *Outcome {
	if state.Stage != store.StageManualInput {
		state.MarkResolved(state.Stage)
	}
	state.Stage = store.StageManualInput
	state.Options = nil
	s.Pending = state
	return &Outcome{Clarification: state}
}

// handleFreeText routes typed text inside whatever the dialogue has narrowed so far.
func (o *Orchestrator) handleFreeText(ctx context.Context, s *store.Session, state *store.ClarificationState, text string) (*Outcome, error) {
	if state.DocumentID != "" {
		doc, ok := o.artifacts.Current().Document(state.DocumentID)
		if !ok {
			return nil, &StaleOptionError{OptionID: store.DocumentOptionID(state.DocumentID), Kind: store.OptionDocument, TargetID: state.DocumentID}
		}
		return o.userChoice(s, doc.CollectionID, doc.ID, text, -1, router.SourceManualInput), nil
	}

	vec, reason, err := o.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if vec == nil {
		return o.unrankedStep(s, state, reason)
	}

	var opts []router.Option
	if state.CollectionID != "" {
		opts = append(opts, router.WithinCollection(state.CollectionID))
	}
	d, err := o.router.Route(vec, opts...)
	var unknown *router.UnknownCollectionError
	switch {
	case errors.As(err, &unknown):
		return nil, &StaleOptionError{OptionID: store.CollectionOptionID(state.CollectionID), Kind: store.OptionCollection, TargetID: state.CollectionID}
	case errors.Is(err, router.ErrRouterUnavailable):
		return o.unrankedStep(s, state, ReasonRouterUnavailable)
	case err != nil:
		return nil, err
	}
	return o.advance(s, state, d)
}

func (o *Orchestrator) advance(s *store.Session, state *store.ClarificationState, d *router.Decision) (*Outcome, error) {
	out, err := o.nextStage(s, state, d)
	if out != nil && out.Decision == nil {
		out.Route = d
	}
	return out, err
}

// nextStage maps a routed decision onto the next stage that has not been resolved yet.
func (o *Orchestrator) nextStage(s *store.Session, state *store.ClarificationState, d *router.Decision) (*Outcome, error) {
	if d.Level == confidence.High {
		return o.terminal(s, d, true), nil
	}

	switch {
	case state.CollectionID == "" && d.Level != confidence.MediumHigh && !state.IsResolved(store.StageCollectionSelection):
		limit := o.cfg.TopCollections
		if d.Level == confidence.VeryLow {
			limit = 0
		}
		return o.collectionSelection(s, state, d.Ranking, limit), nil
	case !state.IsResolved(store.StageDocumentSelection):
		collectionID := state.CollectionID
		if collectionID == "" {
			collectionID = d.CollectionID
		}
		return o.documentSelection(s, state, collectionID, d.Ranking)
	case !state.IsResolved(store.StageQuestionSelection):
		return o.questionSelection(s, state, d.DocumentID)
	default:
		// Every stage was answered with free text; take the best match in scope.
		d.Source = router.SourceManualInput
		return o.terminal(s, d, false), nil
	}
}

func (o *Orchestrator) terminal(s *store.Session, d *router.Decision, recordSuccess bool) *Outcome {
	s.Pending = nil
	if recordSuccess {
		o.sessions.RecordSuccess(s, d.CollectionID, d.Score)
	}
	o.logger.Info(module, "Routing resolved", map[string]interface{}{
		"session_id":    s.ID,
		"collection_id": d.CollectionID,
		"document_id":   d.DocumentID,
		"score":         d.Score,
		"source":        string(d.Source),
	})
	return &Outcome{Decision: d}
}

// userChoice is an explicit selection. It counts as a high-confidence resolution.
func (o *Orchestrator) userChoice(s *store.Session, collectionID, documentID, question string, index int, source router.Source) *Outcome {
	return o.terminal(s, &router.Decision{
		CollectionID:         collectionID,
		DocumentID:           documentID,
		Score:                1.0,
		Level:                confidence.High,
		MatchedQuestion:      question,
		MatchedQuestionIndex: index,
		Source:               source,
	}, true)
}

// unrankedStep continues the dialogue when nothing could be scored.
func (o *Orchestrator) unrankedStep(s *store.Session, state *store.ClarificationState, reason string) (*Outcome, error) {
	var (
		out *Outcome
		err error
	)
	switch {
	case state.CollectionID != "" && !state.IsResolved(store.StageDocumentSelection):
		out, err = o.documentSelection(s, state, state.CollectionID, nil)
	case state.CollectionID == "" && !state.IsResolved(store.StageCollectionSelection):
		out = o.collectionSelection(s, state, nil, 0)
	default:
		out = o.restart(s, state, nil)
	}
	if err != nil {
		return nil, err
	}
	out.Degraded = reason
	return out, nil
}

func (o *Orchestrator) broadFallback(s *store.Session, state *store.ClarificationState, reason string) *Outcome {
	out := o.collectionSelection(s, state, nil, 0)
	out.Degraded = reason
	return out
}

// restart opens a new dialogue at collection selection, keeping the original query.
func (o *Orchestrator) restart(s *store.Session, prev *store.ClarificationState, cause *StaleOptionError) *Outcome {
	state := &store.ClarificationState{
		OriginalQuery: prev.OriginalQuery,
		QueryVector:   prev.QueryVector,
		CreatedAt:     o.sessions.Now(),
	}

	var ranking *router.Ranking
	if len(state.QueryVector) > 0 {
		ranking, _ = o.router.Rank(state.QueryVector, "")
	}
	out := o.collectionSelection(s, state, ranking, 0)
	out.Restarted = true
	out.Degraded = ReasonRouterUnavailable
	if cause != nil {
		out.Degraded = ReasonStaleOption
		o.logger.Warn(module, "Clarification option is stale, restarting", map[string]interface{}{
			"session_id": s.ID,
			"error":      cause.Error(),
		})
	}
	return out
}

func (o *Orchestrator) vectorFor(ctx context.Context, state *store.ClarificationState) []float32 {
	if len(state.QueryVector) > 0 {
		return state.QueryVector
	}
	vec, _, _ := o.embed(ctx, state.OriginalQuery)
	if vec != nil {
		state.QueryVector = vec
	}
	return vec
}

// embed returns (nil, reason, nil) when the call failed in a way the dialogue can
// degrade around. Only a cancelled request context is returned as an error.
func (o *Orchestrator) embed(ctx context.Context, text string) ([]float32, string, error) {
	vec, err := o.embedder.Embed(ctx, text)
	if err == nil {
		return vec, "", nil
	}
	if ctx.Err() != nil {
		return nil, "", ctx.Err()
	}

	reason := ReasonEmbedFailed
	if errors.Is(err, embedding.ErrEmbedTimeout) {
		reason = ReasonEmbedTimeout
	}
	o.logger.Warn(module, "Query embedding failed, degrading to very_low", map[string]interface{}{
		"reason": reason,
		"error":  err.Error(),
	})
	return nil, reason, nil
}
