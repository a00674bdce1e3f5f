package events

import "time"

// Event is anything published on the bus. Subjects are "events.<TYPE>".
type Event interface {
	EventType() string
	Payload() map[string]interface{}
	Timestamp() time.Time
}

const (
	TypeRoutingDecided         = "ROUTING_DECIDED"
	TypeClarificationRequested = "CLARIFICATION_REQUESTED"
	TypeRoutingCacheRebuilt    = "ROUTING_CACHE_REBUILT"
)

const SubjectPrefix = "events."

func Subject(eventType string) string {
	return SubjectPrefix + eventType
}

type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func New(eventType string, data map[string]interface{}, at time.Time) BaseEvent {
	return BaseEvent{Type: eventType, Data: data, OccurredAt: at.UTC()}
}

func (e BaseEvent) EventType() string               { return e.Type }
func (e BaseEvent) Payload() map[string]interface{} { return e.Data }
func (e BaseEvent) Timestamp() time.Time            { return e.OccurredAt }
