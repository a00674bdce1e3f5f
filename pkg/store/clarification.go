package store

import (
	"fmt"
	"time"
)

// Stage is the step of the clarification dialogue.
type Stage string

const (
	StageCollectionSelection Stage = "collection_selection"
	StageDocumentSelection   Stage = "document_selection"
	StageQuestionSelection   Stage = "question_selection"
	StageManualInput         Stage = "manual_input"
)

type OptionKind string

const (
	OptionCollection OptionKind = "collection"
	OptionDocument   OptionKind = "document"
	OptionQuestion   OptionKind = "question"
	OptionManual     OptionKind = "manual"
)

// ManualOptionID is offered at every stage.
const ManualOptionID = "manual"

// Option is one choice offered to the user.
type Option struct {
	ID              string     `json:"id"`
	Kind            OptionKind `json:"kind"`
	Label           string     `json:"label"`
	CollectionID    string     `json:"collection_id,omitempty"`
	DocumentID      string     `json:"document_id,omitempty"`
	QuestionIndex   int        `json:"question_index,omitempty"`
	MatchedQuestion string     `json:"matched_question,omitempty"`
	Similarity      float64    `json:"similarity,omitempty"`
	// Hint is auxiliary wording such as "82% similar to: ...". Never required.
	Hint string `json:"hint,omitempty"`
}

func CollectionOptionID(collectionID string) string {
	return "collection:" + collectionID
}

func DocumentOptionID(documentID string) string {
	return "document:" + documentID
}

func QuestionOptionID(documentID string, index int) string {
	return fmt.Sprintf("question:%s:%d", documentID, index)
}

// ClarificationState is the pending dialogue. It is superseded every turn.
type ClarificationState struct {
	Stage         Stage     `json:"stage"`
	OriginalQuery string    `json:"original_query"`
	Options       []Option  `json:"options"`
	CollectionID  string    `json:"collection_id,omitempty"`
	DocumentID    string    `json:"document_id,omitempty"`
	Resolved      []Stage   `json:"resolved,omitempty"`
	QueryVector   []float32 `json:"query_vector,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (c *ClarificationState) IsResolved(stage Stage) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Resolved {
		if s == stage {
			return true
		}
	}
	return false
}

func (c *ClarificationState) MarkResolved(stage Stage) {
	if c.IsResolved(stage) {
		return
	}
	c.Resolved = append(c.Resolved, stage)
}

func (c *ClarificationState) FindOption(id string) (Option, bool) {
	if c == nil {
		return Option{}, false
	}
	for _, opt := range c.Options {
		if opt.ID == id {
			return opt, true
		}
	}
	return Option{}, false
}

func (c *ClarificationState) Clone() *ClarificationState {
	if c == nil {
		return nil
	}
	out := *c
	out.Options = append([]Option(nil), c.Options...)
	out.Resolved = append([]Stage(nil), c.Resolved...)
	out.QueryVector = append([]float32(nil), c.QueryVector...)
	return &out
}
