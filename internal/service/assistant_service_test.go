package service

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"procedure-assistant-be/internal/dto"
	"procedure-assistant-be/internal/pkg/logger"
	"procedure-assistant-be/internal/repository/audit"
	"procedure-assistant-be/pkg/answer"
	"procedure-assistant-be/pkg/routing/cache"
	"procedure-assistant-be/pkg/routing/clarify"
	"procedure-assistant-be/pkg/routing/confidence"
	"procedure-assistant-be/pkg/routing/consensus"
	"procedure-assistant-be/pkg/routing/router"
	"procedure-assistant-be/pkg/routing/session"
	"procedure-assistant-be/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vagueVector = []float32{0.68, 0.60, float32(math.Sqrt(1 - 0.68*0.68 - 0.60*0.60)), 0}

type fakeRoutingCache struct {
	a   *cache.Artifact
	err error
}

func (f *fakeRoutingCache) Current() *cache.Artifact { return f.a }
func (f *fakeRoutingCache) Err() error               { return f.err }

type mapEmbedder map[string][]float32

func (m mapEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if v, ok := m[text]; ok {
		return v, nil
	}
	return nil, errors.New("unknown text")
}

func (m mapEmbedder) ModelID() string { return "test-model" }

type fakeSelector struct {
	queries   []string
	decisions []*router.Decision
	err       error
}

func (f *fakeSelector) Select(ctx context.Context, query string, d *router.Decision) (*consensus.Result, error) {
	f.queries = append(f.queries, query)
	f.decisions = append(f.decisions, d)
	if f.err != nil {
		return nil, f.err
	}
	chunk := consensus.Chunk{ID: d.DocumentID + "-chunk-0", DocumentID: d.DocumentID, Content: "Bring your ID.", Score: 0.9}
	return &consensus.Result{
		Selected:     chunk,
		Context:      []consensus.Chunk{chunk},
		TrustApplied: !d.WasOverridden && d.Score > 0.85,
	}, nil
}

type fakeGenerator struct {
	requests []answer.Request
	reply    string
	err      error
	onCall   func()
}

func (f *fakeGenerator) Generate(ctx context.Context, req answer.Request) (string, error) {
	f.requests = append(f.requests, req)
	if f.onCall != nil {
		f.onCall()
	}
	return f.reply, f.err
}

type recordedEvent struct {
	kind      string
	sessionID string
}

type fakeEvents struct {
	events []recordedEvent
}

func (f *fakeEvents) PublishRoutingDecided(ctx context.Context, sessionID string, d *router.Decision, trustApplied bool) {
	f.events = append(f.events, recordedEvent{"decided", sessionID})
}

func (f *fakeEvents) PublishClarificationRequested(ctx context.Context, sessionID string, state *store.ClarificationState, degraded string) {
	f.events = append(f.events, recordedEvent{"clarification", sessionID})
}

func (f *fakeEvents) PublishCacheRebuilt(ctx context.Context, header cache.Header, trigger string) {
	f.events = append(f.events, recordedEvent{"rebuilt:" + trigger, ""})
}

type fakeAudit struct {
	records []audit.Record
}

func (f *fakeAudit) Record(ctx context.Context, rec audit.Record) error {
	f.records = append(f.records, rec)
	return nil
}

func catalog(t *testing.T) *cache.Artifact {
	t.Helper()
	a, err := cache.NewArtifact("test-model", time.Now(),
		[]cache.CollectionEntry{
			{ID: "notarization", Name: "Notarization", DocumentIDs: []string{"notarize-contract"}},
			{ID: "passport", Name: "Passport", DocumentIDs: []string{"passport-renew"}},
		},
		[]cache.DocumentEntry{
			{
				ID: "notarize-contract", CollectionID: "notarization", Title: "Notarize a contract",
				Questions: []string{"How do I notarize a contract?", "Where can I get a contract notarized?"},
				Vectors:   [][]float32{{1, 0, 0, 0}, {0.9, 0, 0, float32(math.Sqrt(1 - 0.81))}},
			},
			{
				ID: "passport-renew", CollectionID: "passport", Title: "Renew a passport",
				Questions: []string{"How do I renew my passport?"},
				Vectors:   [][]float32{{0, 1, 0, 0}},
			},
		})
	require.NoError(t, err)
	return a
}

type failingSaveStore struct {
	*session.MemoryStore
}

func (f failingSaveStore) Save(ctx context.Context, s *store.Session) error {
	return errors.New("redis: connection reset")
}

type assistantHarness struct {
	svc       IAssistantService
	build     func(st session.Store) IAssistantService
	cache     *fakeRoutingCache
	store     *session.MemoryStore
	selector  *fakeSelector
	generator *fakeGenerator
	events    *fakeEvents
	audit     *fakeAudit
}

func newAssistantHarness(t *testing.T) *assistantHarness {
	t.Helper()
	log := logger.NewNopLogger()
	classifier := confidence.MustClassifier(confidence.DefaultThresholds())
	policy := session.DefaultPolicy()
	mgr, err := session.NewManager(policy, classifier, log)
	require.NoError(t, err)

	rc := &fakeRoutingCache{a: catalog(t)}
	emb := mapEmbedder{
		"How do I notarize a contract?": {1, 0, 0, 0},
		"vague":                         vagueVector,
	}
	r := router.New(rc, classifier, mgr, log)
	orch := clarify.NewOrchestrator(r, rc, mgr, emb, clarify.DefaultConfig(), log)

	h := &assistantHarness{
		cache:     rc,
		store:     session.NewMemoryStore(policy),
		selector:  &fakeSelector{},
		generator: &fakeGenerator{reply: "Visit a notary with two copies."},
		events:    &fakeEvents{},
		audit:     &fakeAudit{},
	}
	h.build = func(st session.Store) IAssistantService {
		return NewAssistantService(rc, orch, mgr, st, session.NewKeyedLocker(), h.selector, h.generator, h.events, h.audit, log)
	}
	h.svc = h.build(h.store)
	return h
}

func (h *assistantHarness) saved(t *testing.T, id string) *store.Session {
	t.Helper()
	s, found, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, found, "session %s was not saved", id)
	return s
}

func TestAsk_HighConfidenceAnswersDirectly(t *testing.T) {
	h := newAssistantHarness(t)

	res, err := h.svc.Ask(context.Background(), &dto.AskRequest{Query: "How do I notarize a contract?"})
	require.NoError(t, err)

	assert.Equal(t, dto.ResponseTypeAnswer, res.Type)
	assert.NotEmpty(t, res.SessionId)
	require.NotNil(t, res.Answer)
	assert.Equal(t, "notarize-contract", res.Answer.DocumentId)
	assert.Equal(t, "Notarize a contract", res.Answer.DocumentTitle)
	assert.Equal(t, "high", res.Answer.Confidence)
	assert.True(t, res.Answer.TrustApplied)
	assert.Equal(t, "Visit a notary with two copies.", res.Answer.Text)
	assert.Len(t, res.Answer.Sources, 1)
	assert.Empty(t, res.Degraded)

	require.Len(t, h.generator.requests, 1)
	assert.Equal(t, "Notarize a contract", h.generator.requests[0].DocumentTitle)

	s := h.saved(t, res.SessionId)
	assert.Equal(t, "notarization", s.LastSuccessfulCollection)
	require.Len(t, s.History, 1)
	assert.Equal(t, store.OutcomeAnswer, s.History[0].Outcome)

	require.Len(t, h.audit.records, 1)
	assert.Equal(t, audit.KindAnswer, h.audit.records[0].Kind)
	assert.Equal(t, audit.HashQuery("How do I notarize a contract?"), h.audit.records[0].QueryHash)
	assert.Equal(t, []recordedEvent{{"decided", res.SessionId}}, h.events.events)
}

func TestAsk_DialogueToAnswer(t *testing.T) {
	h := newAssistantHarness(t)
	ctx := context.Background()

	res, err := h.svc.Ask(ctx, &dto.AskRequest{Query: "vague", SessionId: "sess-1"})
	require.NoError(t, err)
	require.Equal(t, dto.ResponseTypeClarification, res.Type)
	assert.Equal(t, "collection_selection", res.Clarification.Stage)
	assert.Equal(t, "collection:notarization", res.Clarification.Options[0].Id)
	assert.Equal(t, store.ManualOptionID, res.Clarification.Options[len(res.Clarification.Options)-1].Id)
	assert.Empty(t, h.selector.queries)

	res, err = h.svc.ResolveClarification(ctx, &dto.ResolveClarificationRequest{
		SessionId: "sess-1", OriginalQuery: "vague", SelectedOption: "collection:notarization",
	})
	require.NoError(t, err)
	assert.Equal(t, "document_selection", res.Clarification.Stage)

	res, err = h.svc.ResolveClarification(ctx, &dto.ResolveClarificationRequest{
		SessionId: "sess-1", SelectedOption: "document:notarize-contract",
	})
	require.NoError(t, err)
	assert.Equal(t, "question_selection", res.Clarification.Stage)

	res, err = h.svc.ResolveClarification(ctx, &dto.ResolveClarificationRequest{
		SessionId: "sess-1", SelectedOption: store.QuestionOptionID("notarize-contract", 1),
	})
	require.NoError(t, err)
	require.Equal(t, dto.ResponseTypeAnswer, res.Type)
	assert.Equal(t, "notarize-contract", res.Answer.DocumentId)
	assert.Equal(t, "user_selection", res.Answer.Source)
	assert.Equal(t, "Where can I get a contract notarized?", res.Answer.MatchedQuestion)
	assert.Equal(t, []string{"vague"}, h.selector.queries)

	s := h.saved(t, "sess-1")
	assert.Nil(t, s.Pending)
	assert.Equal(t, "notarization", s.LastSuccessfulCollection)
	assert.Len(t, s.History, 4)
	assert.Len(t, h.audit.records, 4)
}

func TestResolve_FreeTextRefinesRetrievalQuery(t *testing.T) {
	h := newAssistantHarness(t)
	ctx := context.Background()

	_, err := h.svc.Ask(ctx, &dto.AskRequest{Query: "vague", SessionId: "sess-1"})
	require.NoError(t, err)
	_, err = h.svc.ResolveClarification(ctx, &dto.ResolveClarificationRequest{SessionId: "sess-1", SelectedOption: "collection:notarization"})
	require.NoError(t, err)
	_, err = h.svc.ResolveClarification(ctx, &dto.ResolveClarificationRequest{SessionId: "sess-1", SelectedOption: "document:notarize-contract"})
	require.NoError(t, err)

	res, err := h.svc.ResolveClarification(ctx, &dto.ResolveClarificationRequest{SessionId: "sess-1", FreeText: "it is a rental contract"})
	require.NoError(t, err)
	require.Equal(t, dto.ResponseTypeAnswer, res.Type)
	assert.Equal(t, "manual_input", res.Answer.Source)
	assert.Equal(t, []string{"vague\nit is a rental contract"}, h.selector.queries)
}

func TestAsk_CorruptCacheFailsClosed(t *testing.T) {
	h := newAssistantHarness(t)
	h.cache.a = nil
	h.cache.err = &cache.CacheCorruptError{Path: "routing-cache.json", Reason: "vector count mismatch"}

	_, err := h.svc.Ask(context.Background(), &dto.AskRequest{Query: "How do I notarize a contract?", SessionId: "s"})
	assert.True(t, cache.IsCorrupt(err))
	assert.Zero(t, h.store.Count())
	assert.Empty(t, h.events.events)
}

func TestResolve_WithoutPendingDialogue(t *testing.T) {
	h := newAssistantHarness(t)

	_, err := h.svc.ResolveClarification(context.Background(), &dto.ResolveClarificationRequest{SessionId: "nobody", SelectedOption: "collection:passport"})
	assert.ErrorIs(t, err, clarify.ErrNoPendingClarification)
	assert.Zero(t, h.store.Count())
}

func TestAsk_DisconnectLeavesNoPartialCommit(t *testing.T) {
	h := newAssistantHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.generator.onCall = cancel

	_, err := h.svc.Ask(ctx, &dto.AskRequest{Query: "How do I notarize a contract?", SessionId: "s"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.store.Count())
}

func TestAsk_UnsavedTurnEmitsNothing(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		cancel    bool
		failSave  bool
		wantError error
	}{
		{name: "answer cancelled during generation", query: "How do I notarize a contract?", cancel: true, wantError: context.Canceled},
		{name: "answer with failing save", query: "How do I notarize a contract?", failSave: true},
		{name: "clarification with failing save", query: "vague", failSave: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAssistantHarness(t)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tt.cancel {
				h.generator.onCall = cancel
			}
			if tt.failSave {
				h.svc = h.build(failingSaveStore{h.store})
			}

			_, err := h.svc.Ask(ctx, &dto.AskRequest{Query: tt.query, SessionId: "s"})
			require.Error(t, err)
			if tt.wantError != nil {
				assert.ErrorIs(t, err, tt.wantError)
			}
			assert.Empty(t, h.audit.records)
			assert.Empty(t, h.events.events)
			assert.Zero(t, h.store.Count())
		})
	}
}

func TestAsk_SavedTurnIsAuditedAndAnnounced(t *testing.T) {
	h := newAssistantHarness(t)
	ctx := context.Background()

	_, err := h.svc.Ask(ctx, &dto.AskRequest{Query: "vague", SessionId: "s"})
	require.NoError(t, err)
	_, err = h.svc.Ask(ctx, &dto.AskRequest{Query: "How do I notarize a contract?", SessionId: "s"})
	require.NoError(t, err)

	require.Len(t, h.audit.records, 2)
	assert.Equal(t, audit.KindClarification, h.audit.records[0].Kind)
	assert.Equal(t, audit.KindAnswer, h.audit.records[1].Kind)
	assert.Equal(t, []recordedEvent{{"clarification", "s"}, {"decided", "s"}}, h.events.events)
}

func TestAsk_DegradedAnswers(t *testing.T) {
	tests := []struct {
		name         string
		selectErr    error
		generateErr  error
		wantDegraded string
		wantText     string
	}{
		{"no content", consensus.ErrNoContent, nil, degradedNoContent, noContentAnswer},
		{"search down", errors.New("connection refused"), nil, degradedContentUnavailable, ""},
		{"llm down", nil, errors.New("ollama error: status 500"), degradedGenerationFailed, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAssistantHarness(t)
			h.selector.err = tt.selectErr
			h.generator.err = tt.generateErr
			if tt.generateErr != nil {
				h.generator.reply = ""
			}

			res, err := h.svc.Ask(context.Background(), &dto.AskRequest{Query: "How do I notarize a contract?", SessionId: "s"})
			require.NoError(t, err)
			assert.Equal(t, dto.ResponseTypeAnswer, res.Type)
			assert.Equal(t, tt.wantDegraded, res.Degraded)
			assert.Equal(t, tt.wantText, res.Answer.Text)
			assert.Equal(t, "notarize-contract", res.Answer.DocumentId)
			h.saved(t, "s")
		})
	}
}

func TestClearSession(t *testing.T) {
	h := newAssistantHarness(t)
	ctx := context.Background()

	_, err := h.svc.Ask(ctx, &dto.AskRequest{Query: "vague", SessionId: "s"})
	require.NoError(t, err)
	require.Equal(t, 1, h.store.Count())

	require.NoError(t, h.svc.ClearSession(ctx, "s"))
	assert.Zero(t, h.store.Count())

	_, err = h.svc.ResolveClarification(ctx, &dto.ResolveClarificationRequest{SessionId: "s", SelectedOption: "collection:passport"})
	assert.ErrorIs(t, err, clarify.ErrNoPendingClarification)
}

func TestRetrievalQuery(t *testing.T) {
	assert.Equal(t, "a", retrievalQuery(" a ", ""))
	assert.Equal(t, "b", retrievalQuery("", " b"))
	assert.Equal(t, "a\nb", retrievalQuery("a", "b"))
}
