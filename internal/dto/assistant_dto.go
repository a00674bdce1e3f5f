package dto

const (
	ResponseTypeAnswer        = "answer"
	ResponseTypeClarification = "clarification_needed"
)

type AskRequest struct {
	Query     string `json:"query" validate:"required,max=2000"`
	SessionId string `json:"session_id,omitempty" validate:"omitempty,max=128"`
}

// ResolveClarificationRequest answers the pending step with either an offered
// option id or free text.
type ResolveClarificationRequest struct {
	SessionId      string `json:"session_id" validate:"required,max=128"`
	OriginalQuery  string `json:"original_query,omitempty" validate:"max=2000"`
	SelectedOption string `json:"selected_option,omitempty" validate:"required_without=FreeText,max=256"`
	FreeText       string `json:"free_text,omitempty" validate:"required_without=SelectedOption,max=2000"`
}

type AssistantResponse struct {
	Type          string                 `json:"type"` // "answer" | "clarification_needed"
	SessionId     string                 `json:"session_id"`
	Answer        *AnswerResponse        `json:"answer,omitempty"`
	Clarification *ClarificationResponse `json:"clarification,omitempty"`
	Degraded      string                 `json:"degraded,omitempty"`
}

type AnswerResponse struct {
	Text            string                      `json:"text"`
	CollectionId    string                      `json:"collection_id"`
	DocumentId      string                      `json:"document_id"`
	DocumentTitle   string                      `json:"document_title,omitempty"`
	Score           float64                     `json:"score"`
	Confidence      string                      `json:"confidence"`
	MatchedQuestion string                      `json:"matched_question,omitempty"`
	Source          string                      `json:"source"`
	WasOverridden   bool                        `json:"was_overridden"`
	Original        *OriginalConfidenceResponse `json:"original_confidence,omitempty"`
	TrustApplied    bool                        `json:"trust_applied"`
	Reason          string                      `json:"reason,omitempty"`
	Sources         []ChunkSourceResponse       `json:"sources"`
}

type OriginalConfidenceResponse struct {
	Score      float64 `json:"score"`
	Confidence string  `json:"confidence"`
}

type ChunkSourceResponse struct {
	ChunkId    string  `json:"chunk_id"`
	DocumentId string  `json:"document_id"`
	Score      float64 `json:"score"`
}

type ClarificationResponse struct {
	Stage         string           `json:"stage"`
	OriginalQuery string           `json:"original_query"`
	Options       []OptionResponse `json:"options"`
	Restarted     bool             `json:"restarted,omitempty"`
}

type OptionResponse struct {
	Id              string  `json:"id"`
	Kind            string  `json:"kind"`
	Label           string  `json:"label"`
	MatchedQuestion string  `json:"matched_question,omitempty"`
	Similarity      float64 `json:"similarity,omitempty"`
	Hint            string  `json:"hint,omitempty"`
}
