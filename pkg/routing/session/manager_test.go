package session

import (
	"testing"
	"time"

	"procedure-assistant-be/internal/pkg/logger"
	"procedure-assistant-be/pkg/routing/confidence"
	"procedure-assistant-be/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newManager(t *testing.T, clock *fakeClock) *Manager {
	t.Helper()
	m, err := NewManager(DefaultPolicy(), confidence.MustClassifier(confidence.DefaultThresholds()),
		logger.NewNopLogger(), WithClock(clock.Now))
	require.NoError(t, err)
	return m
}

func TestNewManager_RejectsBoostOutsideMediumHigh(t *testing.T) {
	policy := DefaultPolicy()
	policy.OverrideBoost = 0.9
	_, err := NewManager(policy, confidence.MustClassifier(confidence.DefaultThresholds()), logger.NewNopLogger())
	assert.Error(t, err)
}

func TestShouldOverride_WithinWindow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	m := newManager(t, clock)
	s := m.New("s1")
	m.RecordSuccess(s, "notarization", 0.93)

	clock.Advance(2 * time.Minute)
	assert.True(t, m.ShouldOverride(s, 0.35))
	assert.True(t, m.ShouldOverride(s, 0.55), "low band is still below medium")
}

func TestShouldOverride_OutsideWindow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	m := newManager(t, clock)
	s := m.New("s1")
	m.RecordSuccess(s, "notarization", 0.93)

	clock.Advance(15 * time.Minute)
	assert.False(t, m.ShouldOverride(s, 0.35))
}

func TestShouldOverride_NeverAtMediumOrAbove(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	m := newManager(t, clock)
	s := m.New("s1")
	m.RecordSuccess(s, "notarization", 0.93)
	clock.Advance(time.Second)

	for _, score := range []float64{0.60, 0.68, 0.75, 0.80, 0.92, 1.0} {
		assert.False(t, m.ShouldOverride(s, score), "score %.2f", score)
	}
}

func TestShouldOverride_NoMemory(t *testing.T) {
	m := newManager(t, &fakeClock{t: time.Now()})
	assert.False(t, m.ShouldOverride(m.New("s1"), 0.1))
	assert.False(t, m.ShouldOverride(nil, 0.1))
}

func TestRecordLowConfidence_CapClearsCollection(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	m := newManager(t, clock)
	s := m.New("s1")
	m.RecordSuccess(s, "notarization", 0.93)

	var checks []bool
	for i := 0; i < 4; i++ {
		clock.Advance(10 * time.Second)
		m.RecordLowConfidence(s)
		checks = append(checks, m.ShouldOverride(s, 0.30))
	}

	assert.Equal(t, []bool{true, true, true, false}, checks)
	assert.Empty(t, s.LastSuccessfulCollection)
	assert.Equal(t, 4, s.ConsecutiveLowConfidence)
}

func TestRecordSuccess_ResetsCounter(t *testing.T) {
	m := newManager(t, &fakeClock{t: time.Now()})
	s := m.New("s1")
	m.RecordLowConfidence(s)
	m.RecordLowConfidence(s)

	m.RecordSuccess(s, "passport", 1.0)

	assert.Equal(t, 0, s.ConsecutiveLowConfidence)
	assert.Equal(t, "passport", s.LastSuccessfulCollection)
	assert.Equal(t, 1.0, s.LastSuccessfulConfidence)
}

func TestRecordConfidentTurn_BreaksStreakKeepsCollection(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	m := newManager(t, clock)
	s := m.New("s1")
	m.RecordSuccess(s, "notarization", 0.93)

	var checks []bool
	for _, low := range []bool{true, true, false, true, true, true} {
		clock.Advance(10 * time.Second)
		if low {
			m.RecordLowConfidence(s)
		} else {
			m.RecordConfidentTurn(s)
		}
		checks = append(checks, m.ShouldOverride(s, 0.30))
	}

	assert.Equal(t, []bool{true, true, true, true, true, true}, checks)
	assert.Equal(t, "notarization", s.LastSuccessfulCollection)
	assert.Equal(t, 3, s.ConsecutiveLowConfidence)

	clock.Advance(10 * time.Second)
	m.RecordLowConfidence(s)
	assert.Empty(t, s.LastSuccessfulCollection, "four lows in a row after the break")
}

func TestClear(t *testing.T) {
	m := newManager(t, &fakeClock{t: time.Now()})
	s := m.New("s1")
	m.RecordSuccess(s, "passport", 0.9)
	s.Pending = &store.ClarificationState{Stage: store.StageCollectionSelection}

	m.Clear(s)

	assert.False(t, s.HasRememberedCollection())
	assert.Nil(t, s.Pending)
	assert.True(t, s.LastSuccessfulAt.IsZero())
}

func TestAppendTurn_BoundedHistory(t *testing.T) {
	m := newManager(t, &fakeClock{t: time.Now()})
	s := m.New("s1")

	for i := 0; i < DefaultPolicy().HistoryLimit+5; i++ {
		m.AppendTurn(s, store.Turn{Query: string(rune('a' + i%26))})
	}

	assert.Len(t, s.History, DefaultPolicy().HistoryLimit)
	assert.Equal(t, string(rune('a'+5)), s.History[0].Query)
}

func TestPolicyTTL(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, p.InactivityTTL, p.TTL(&store.Session{}))
	assert.Equal(t, p.ClarificationTTL, p.TTL(&store.Session{Pending: &store.ClarificationState{}}))

	p.InactivityTTL = time.Minute
	assert.Equal(t, p.RecencyWindow, p.TTL(nil), "sessions outlive the recency window")
}
