package router

import (
	"errors"

	"procedure-assistant-be/pkg/routing/confidence"
)

// ErrRouterUnavailable means nothing can be scored: the cache is empty or the
// query vector has the wrong dimension. Callers treat it as very_low.
var ErrRouterUnavailable = errors.New("router unavailable")

type Source string

const (
	SourceRouter        Source = "router"
	SourceOverride      Source = "override"
	SourceUserSelection Source = "user_selection"
	SourceManualInput   Source = "manual_input"
)

// Match is the best question match of one document.
type Match struct {
	DocumentID    string  `json:"document_id"`
	CollectionID  string  `json:"collection_id"`
	Title         string  `json:"title"`
	Score         float64 `json:"score"`
	QuestionIndex int     `json:"question_index"`
	QuestionText  string  `json:"question_text"`

	order int
}

func (m Match) IsMain() bool {
	return m.QuestionIndex == 0
}

type CollectionMatch struct {
	CollectionID string  `json:"collection_id"`
	Name         string  `json:"name"`
	Score        float64 `json:"score"`
	Best         Match   `json:"best"`
}

// Ranking lists documents and collections best first.
type Ranking struct {
	Documents   []Match           `json:"documents"`
	Collections []CollectionMatch `json:"collections"`
}

func (r *Ranking) Best() (Match, bool) {
	if r == nil || len(r.Documents) == 0 {
		return Match{}, false
	}
	return r.Documents[0], true
}

// InCollection returns the ranked documents of one collection, best first.
func (r *Ranking) InCollection(collectionID string) []Match {
	if r == nil {
		return nil
	}
	var out []Match
	for _, m := range r.Documents {
		if m.CollectionID == collectionID {
			out = append(out, m)
		}
	}
	return out
}

type OriginalConfidence struct {
	Score float64          `json:"score"`
	Level confidence.Level `json:"level"`
}

// Decision is the routing outcome of one query. It is never persisted.
type Decision struct {
	CollectionID         string              `json:"collection_id"`
	DocumentID           string              `json:"document_id,omitempty"`
	Score                float64             `json:"score"`
	Level                confidence.Level    `json:"level"`
	MatchedQuestion      string              `json:"matched_question,omitempty"`
	MatchedQuestionIndex int                 `json:"matched_question_index"`
	WasOverridden        bool                `json:"was_overridden"`
	Original             *OriginalConfidence `json:"original_confidence,omitempty"`
	Source               Source              `json:"source"`

	Ranking *Ranking `json:"-"`
}
