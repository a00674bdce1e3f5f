package router

import (
	"fmt"
	"math"
	"sort"

	"procedure-assistant-be/internal/pkg/logger"
	"procedure-assistant-be/pkg/routing/cache"
	"procedure-assistant-be/pkg/routing/confidence"
	"procedure-assistant-be/pkg/routing/session"
	"procedure-assistant-be/pkg/store"
)

const module = "ROUTER"

// ArtifactSource hands out the current cache snapshot.
type ArtifactSource interface {
	Current() *cache.Artifact
}

// UnknownCollectionError is returned when routing is restricted to a collection
// the current artifact does not contain.
type UnknownCollectionError struct {
	CollectionID string
}

func (e *UnknownCollectionError) Error() string {
	return fmt.Sprintf("collection %s is not in the routing cache", e.CollectionID)
}

type routeOptions struct {
	session      *store.Session
	collectionID string
}

type Option func(*routeOptions)

// WithSession enables the follow-up override. The session is mutated in place
// (low-confidence counter), so pass the turn's working copy.
func WithSession(s *store.Session) Option {
	return func(o *routeOptions) {
		o.session = s
	}
}

// WithinCollection restricts scoring to one collection.
func WithinCollection(collectionID string) Option {
	return func(o *routeOptions) {
		o.collectionID = collectionID
	}
}

type Router struct {
	artifacts  ArtifactSource
	classifier *confidence.Classifier
	sessions   *session.Manager
	logger     logger.ILogger
}

func New(artifacts ArtifactSource, classifier *confidence.Classifier, sessions *session.Manager, log logger.ILogger) *Router {
	return &Router{
		artifacts:  artifacts,
		classifier: classifier,
		sessions:   sessions,
		logger:     log,
	}
}

func (r *Router) Classifier() *confidence.Classifier {
	return r.classifier
}

// Rank scores every document (or every document of one collection).
// A document's score is its best question; a collection's score is its best document.
func (r *Router) Rank(queryVector []float32, collectionID string) (*Ranking, error) {
	a := r.artifacts.Current()
	if a.Empty() {
		return nil, fmt.Errorf("%w: routing cache is empty", ErrRouterUnavailable)
	}
	if len(queryVector) != a.Header.Dimension {
		return nil, fmt.Errorf("%w: query dimension %d, cache dimension %d",
			ErrRouterUnavailable, len(queryVector), a.Header.Dimension)
	}
	if collectionID != "" {
		if _, ok := a.Collection(collectionID); !ok {
			return nil, &UnknownCollectionError{CollectionID: collectionID}
		}
	}

	queryNorm := norm(queryVector)
	if queryNorm == 0 {
		return nil, fmt.Errorf("%w: query vector has zero magnitude", ErrRouterUnavailable)
	}

	ranking := &Ranking{}
	for i, doc := range a.Documents {
		if collectionID != "" && doc.CollectionID != collectionID {
			continue
		}
		best := Match{
			DocumentID:   doc.ID,
			CollectionID: doc.CollectionID,
			Title:        doc.Title,
			Score:        math.Inf(-1),
			order:        i,
		}
		for q, vec := range doc.Vectors {
			// strict > keeps the lowest index on ties, so the main question wins
			if s := cosine(queryVector, queryNorm, vec); s > best.Score {
				best.Score = s
				best.QuestionIndex = q
				best.QuestionText = doc.Questions[q]
			}
		}
		ranking.Documents = append(ranking.Documents, best)
	}

	sort.SliceStable(ranking.Documents, func(i, j int) bool {
		return lessMatch(ranking.Documents[i], ranking.Documents[j])
	})

	seen := make(map[string]bool)
	for _, m := range ranking.Documents {
		if seen[m.CollectionID] {
			continue
		}
		seen[m.CollectionID] = true
		col, _ := a.Collection(m.CollectionID)
		name := m.CollectionID
		if col != nil {
			name = col.Name
		}
		// Documents are already sorted, so the first one seen is the collection's best
		ranking.Collections = append(ranking.Collections, CollectionMatch{
			CollectionID: m.CollectionID,
			Name:         name,
			Score:        m.Score,
			Best:         m,
		})
	}
	return ranking, nil
}

// lessMatch orders by score, then main-question matches, then insertion order.
func lessMatch(a, b Match) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.IsMain() != b.IsMain() {
		return a.IsMain()
	}
	return a.order < b.order
}

// Route ranks the query, classifies the best match and, when a session is
// given, applies the follow-up override.
func (r *Router) Route(queryVector []float32, opts ...Option) (*Decision, error) {
	var o routeOptions
	for _, opt := range opts {
		opt(&o)
	}

	ranking, err := r.Rank(queryVector, o.collectionID)
	if err != nil {
		return nil, err
	}
	best, ok := ranking.Best()
	if !ok {
		return nil, fmt.Errorf("%w: no documents to score", ErrRouterUnavailable)
	}

	decision := &Decision{
		CollectionID:         best.CollectionID,
		DocumentID:           best.DocumentID,
		Score:                best.Score,
		Level:                r.classifier.Classify(best.Score),
		MatchedQuestion:      best.QuestionText,
		MatchedQuestionIndex: best.QuestionIndex,
		Source:               SourceRouter,
		Ranking:              ranking,
	}

	switch {
	case o.session == nil:
	case decision.Level.Below(confidence.Medium):
		// Count first so the turn that exceeds the cap already sees the cleared collection
		r.sessions.RecordLowConfidence(o.session)
		if r.sessions.ShouldOverride(o.session, decision.Score) {
			r.applyOverride(decision, o.session.LastSuccessfulCollection)
		}
	default:
		r.sessions.RecordConfidentTurn(o.session)
	}

	r.logger.Debug(module, "Routed query", map[string]interface{}{
		"collection_id":  decision.CollectionID,
		"document_id":    decision.DocumentID,
		"score":          decision.Score,
		"level":          decision.Level.String(),
		"question_index": decision.MatchedQuestionIndex,
		"overridden":     decision.WasOverridden,
	})
	return decision, nil
}

func (r *Router) applyOverride(d *Decision, collectionID string) {
	candidates := d.Ranking.InCollection(collectionID)
	if len(candidates) == 0 {
		r.logger.Warn(module, "Remembered collection no longer routable, override skipped", map[string]interface{}{
			"collection_id": collectionID,
		})
		return
	}
	best := candidates[0]

	d.Original = &OriginalConfidence{Score: d.Score, Level: d.Level}
	d.CollectionID = best.CollectionID
	d.DocumentID = best.DocumentID
	d.MatchedQuestion = best.QuestionText
	d.MatchedQuestionIndex = best.QuestionIndex
	d.Score = r.sessions.OverrideScore()
	d.Level = r.classifier.Classify(d.Score)
	d.WasOverridden = true
	d.Source = SourceOverride

	r.logger.Info(module, "Low confidence follow-up routed to remembered collection", map[string]interface{}{
		"collection_id":  collectionID,
		"original_score": d.Original.Score,
		"original_level": d.Original.Level.String(),
		"boosted_level":  d.Level.String(),
	})
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(q []float32, qNorm float64, v []float32) float64 {
	var dot float64
	for i := range q {
		dot += float64(q[i]) * float64(v[i])
	}
	vNorm := norm(v)
	if vNorm == 0 {
		return 0
	}
	return dot / (qNorm * vNorm)
}
