package store

import (
	"time"

	"procedure-assistant-be/pkg/routing/confidence"
)

// Session is the per-conversation routing memory.
type Session struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Last trusted routing outcome, used to upgrade low-confidence follow-ups
	LastSuccessfulCollection string    `json:"last_successful_collection,omitempty"`
	LastSuccessfulConfidence float64   `json:"last_successful_confidence,omitempty"`
	LastSuccessfulAt         time.Time `json:"last_successful_timestamp"`

	ConsecutiveLowConfidence int `json:"consecutive_low_confidence_count"`

	History []Turn `json:"history,omitempty"`

	// Pending clarification dialogue, nil when none
	Pending *ClarificationState `json:"pending,omitempty"`
}

// Turn is one entry of the bounded query history.
type Turn struct {
	Query        string           `json:"query"`
	At           time.Time        `json:"at"`
	CollectionID string           `json:"collection_id,omitempty"`
	DocumentID   string           `json:"document_id,omitempty"`
	Score        float64          `json:"score"`
	Level        confidence.Level `json:"level"`
	Outcome      string           `json:"outcome"` // "answer" | "clarification_needed"
	Overridden   bool             `json:"overridden,omitempty"`
}

const (
	OutcomeAnswer        = "answer"
	OutcomeClarification = "clarification_needed"
)

// HasRememberedCollection reports whether a prior successful collection is set.
func (s *Session) HasRememberedCollection() bool {
	return s.LastSuccessfulCollection != ""
}

// Clone returns a deep copy so a turn can work on it without touching the stored value.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.History != nil {
		out.History = make([]Turn, len(s.History))
		copy(out.History, s.History)
	}
	out.Pending = s.Pending.Clone()
	return &out
}
