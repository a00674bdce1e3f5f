package confidence

import (
	"errors"
	"fmt"
	"strings"
)

// Level is a discrete confidence band. Higher values mean higher confidence.
type Level int

const (
	VeryLow Level = iota
	Low
	Medium
	MediumHigh
	High
)

var levelNames = map[Level]string{
	VeryLow:    "very_low",
	Low:        "low",
	Medium:     "medium",
	MediumHigh: "medium_high",
	High:       "high",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Below reports whether l is strictly lower than other.
func (l Level) Below(other Level) bool {
	return l < other
}

// Lower returns the next band down. VeryLow stays VeryLow.
func (l Level) Lower() Level {
	if l <= VeryLow {
		return VeryLow
	}
	return l - 1
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

func ParseLevel(s string) (Level, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for level, name := range levelNames {
		if name == needle {
			return level, nil
		}
	}
	return VeryLow, fmt.Errorf("unknown confidence level %q", s)
}

var ErrThresholdOrder = errors.New("confidence thresholds must satisfy high > medium_high > medium > low")

// Thresholds are the lower bounds (inclusive) of each band above VeryLow.
type Thresholds struct {
	High       float64
	MediumHigh float64
	Medium     float64
	Low        float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		High:       0.85,
		MediumHigh: 0.75,
		Medium:     0.60,
		Low:        0.45,
	}
}

func (t Thresholds) Validate() error {
	if !(t.High > t.MediumHigh && t.MediumHigh > t.Medium && t.Medium > t.Low) {
		return fmt.Errorf("%w (got high=%.3f medium_high=%.3f medium=%.3f low=%.3f)",
			ErrThresholdOrder, t.High, t.MediumHigh, t.Medium, t.Low)
	}
	if t.High > 1 || t.Low < -1 {
		return fmt.Errorf("%w: thresholds must lie within [-1, 1]", ErrThresholdOrder)
	}
	return nil
}

// Classifier maps a similarity score to a Level. It is safe for concurrent use.
type Classifier struct {
	thresholds Thresholds
}

func NewClassifier(t Thresholds) (*Classifier, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{thresholds: t}, nil
}

// MustClassifier panics on invalid thresholds. Intended for tests and defaults.
func MustClassifier(t Thresholds) *Classifier {
	c, err := NewClassifier(t)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Classifier) Thresholds() Thresholds {
	return c.thresholds
}

func (c *Classifier) Classify(score float64) Level {
	switch {
	case score >= c.thresholds.High:
		return High
	case score >= c.thresholds.MediumHigh:
		return MediumHigh
	case score >= c.thresholds.Medium:
		return Medium
	case score >= c.thresholds.Low:
		return Low
	default:
		return VeryLow
	}
}

// Floor returns the inclusive lower bound of a band.
func (c *Classifier) Floor(level Level) float64 {
	switch level {
	case High:
		return c.thresholds.High
	case MediumHigh:
		return c.thresholds.MediumHigh
	case Medium:
		return c.thresholds.Medium
	case Low:
		return c.thresholds.Low
	default:
		return -1
	}
}
