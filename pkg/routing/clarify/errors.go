package clarify

import (
	"errors"
	"fmt"

	"procedure-assistant-be/pkg/store"
)

var (
	ErrNoPendingClarification = errors.New("no clarification is pending for this session")
	ErrInvalidOption          = errors.New("option was not offered at the current stage")
	ErrUnknownStage           = errors.New("unknown clarification stage")
)

// StaleOptionError means a chosen option points at a collection or document
// that is no longer in the routing cache. The dialogue restarts.
type StaleOptionError struct {
	OptionID string
	Kind     store.OptionKind
	TargetID string
}

func (e *StaleOptionError) Error() string {
	return fmt.Sprintf("option %s refers to %s %s which no longer exists", e.OptionID, e.Kind, e.TargetID)
}
