package session

import (
	"fmt"
	"time"

	"procedure-assistant-be/internal/pkg/logger"
	"procedure-assistant-be/pkg/routing/confidence"
	"procedure-assistant-be/pkg/store"
)

const module = "SESSION"

// Policy holds the follow-up override rule and eviction settings.
type Policy struct {
	RecencyWindow    time.Duration
	LowConfidenceCap int
	OverrideBoost    float64
	HistoryLimit     int

	// InactivityTTL evicts idle sessions; ClarificationTTL applies while a dialogue is pending.
	InactivityTTL    time.Duration
	ClarificationTTL time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		RecencyWindow:    10 * time.Minute,
		LowConfidenceCap: 3,
		OverrideBoost:    0.80,
		HistoryLimit:     20,
		InactivityTTL:    30 * time.Minute,
		ClarificationTTL: time.Hour,
	}
}

// TTL is how long a stored session survives without another turn.
func (p Policy) TTL(s *store.Session) time.Duration {
	ttl := p.InactivityTTL
	if ttl < p.RecencyWindow {
		ttl = p.RecencyWindow
	}
	if s != nil && s.Pending != nil && p.ClarificationTTL > ttl {
		ttl = p.ClarificationTTL
	}
	return ttl
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// Manager owns every mutation of a session's routing memory. The only
// entry points that change it are RecordSuccess, RecordConfidentTurn,
// RecordLowConfidence and Clear.
type Manager struct {
	policy     Policy
	classifier *confidence.Classifier
	logger     logger.ILogger
	now        func() time.Time
}

func NewManager(policy Policy, classifier *confidence.Classifier, log logger.ILogger, opts ...Option) (*Manager, error) {
	if level := classifier.Classify(policy.OverrideBoost); level != confidence.MediumHigh {
		return nil, fmt.Errorf("override boost %.3f classifies as %s, must be medium_high", policy.OverrideBoost, level)
	}
	if policy.LowConfidenceCap < 1 {
		return nil, fmt.Errorf("low confidence cap must be at least 1, got %d", policy.LowConfidenceCap)
	}
	m := &Manager{
		policy:     policy,
		classifier: classifier,
		logger:     log,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) Policy() Policy {
	return m.policy
}

func (m *Manager) Now() time.Time {
	return m.now()
}

func (m *Manager) New(id string) *store.Session {
	now := m.now()
	return &store.Session{ID: id, CreatedAt: now, UpdatedAt: now}
}

// ShouldOverride reports whether a query scoring currentScore is a follow-up of the
// remembered collection. It never fires at medium confidence or above.
func (m *Manager) ShouldOverride(s *store.Session, currentScore float64) bool {
	if s == nil || !s.HasRememberedCollection() {
		return false
	}
	if !m.classifier.Classify(currentScore).Below(confidence.Medium) {
		return false
	}
	age := m.now().Sub(s.LastSuccessfulAt)
	return age >= 0 && age <= m.policy.RecencyWindow
}

// OverrideScore is the boosted score given to an overridden decision.
func (m *Manager) OverrideScore() float64 {
	return m.policy.OverrideBoost
}

func (m *Manager) RecordSuccess(s *store.Session, collectionID string, score float64) {
	now := m.now()
	s.LastSuccessfulCollection = collectionID
	s.LastSuccessfulConfidence = score
	s.LastSuccessfulAt = now
	s.ConsecutiveLowConfidence = 0
	s.UpdatedAt = now

	m.logger.Debug(module, "Recorded successful routing", map[string]interface{}{
		"session_id":    s.ID,
		"collection_id": collectionID,
		"score":         score,
	})
}

// RecordLowConfidence counts a below-medium turn. Once the count exceeds the cap
// the remembered collection is forgotten.
func (m *Manager) RecordLowConfidence(s *store.Session) {
	s.ConsecutiveLowConfidence++
	s.UpdatedAt = m.now()

	if s.ConsecutiveLowConfidence > m.policy.LowConfidenceCap && s.HasRememberedCollection() {
		m.logger.Info(module, "Low confidence cap exceeded, forgetting collection", map[string]interface{}{
			"session_id":    s.ID,
			"collection_id": s.LastSuccessfulCollection,
			"count":         s.ConsecutiveLowConfidence,
		})
		m.forget(s)
	}
}

// RecordConfidentTurn ends a low-confidence streak. It is called for turns that
// classify at medium or above but are not yet a resolution, so the remembered
// collection is kept.
func (m *Manager) RecordConfidentTurn(s *store.Session) {
	if s.ConsecutiveLowConfidence == 0 {
		return
	}
	m.logger.Debug(module, "Low confidence streak broken", map[string]interface{}{
		"session_id": s.ID,
		"count":      s.ConsecutiveLowConfidence,
	})
	s.ConsecutiveLowConfidence = 0
	s.UpdatedAt = m.now()
}

func (m *Manager) Clear(s *store.Session) {
	m.forget(s)
	s.ConsecutiveLowConfidence = 0
	s.Pending = nil
	s.UpdatedAt = m.now()
}

func (m *Manager) forget(s *store.Session) {
	s.LastSuccessfulCollection = ""
	s.LastSuccessfulConfidence = 0
	s.LastSuccessfulAt = time.Time{}
}

// AppendTurn adds to the bounded history. It does not touch routing memory.
func (m *Manager) AppendTurn(s *store.Session, turn store.Turn) {
	if turn.At.IsZero() {
		turn.At = m.now()
	}
	s.History = append(s.History, turn)
	if limit := m.policy.HistoryLimit; limit > 0 && len(s.History) > limit {
		s.History = append([]store.Turn(nil), s.History[len(s.History)-limit:]...)
	}
	s.UpdatedAt = turn.At
}
