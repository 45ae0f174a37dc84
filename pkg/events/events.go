// Package events defines the lifecycle events the engine emits while running
// conversations, plus a publisher manager that fans them out over watermill.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventTypeTurnStart    EventType = "turn-start"
	EventTypeTurnComplete EventType = "turn-complete"

	EventTypeSpeakStart    EventType = "speak-start"
	EventTypeSpeakComplete EventType = "speak-complete"
	EventTypeSpeakRetry    EventType = "speak-retry"
	EventTypeCacheHit      EventType = "cache-hit"

	EventTypeToolDispatch EventType = "tool-dispatch"
	EventTypeToolResult   EventType = "tool-result"

	EventTypePatchApplied  EventType = "patch-applied"
	EventTypePatchReverted EventType = "patch-reverted"

	EventTypeError EventType = "error"
)

// Event is the envelope all lifecycle events share. Per-event detail goes
// into Fields.
type Event struct {
	Type           EventType              `json:"type"`
	ConversationID uuid.UUID              `json:"conversation_id"`
	Provider       string                 `json:"provider,omitempty"`
	Model          string                 `json:"model,omitempty"`
	Time           time.Time              `json:"time"`
	Fields         map[string]interface{} `json:"fields,omitempty"`
}

func (e *Event) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type)).
		Str("conversationID", e.ConversationID.String())
	if e.Provider != "" {
		ev.Str("provider", e.Provider)
	}
	if e.Model != "" {
		ev.Str("model", e.Model)
	}
}

func NewEvent(type_ EventType, conversationID uuid.UUID, fields map[string]interface{}) *Event {
	return &Event{
		Type:           type_,
		ConversationID: conversationID,
		Time:           time.Now(),
		Fields:         fields,
	}
}
