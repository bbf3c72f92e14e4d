// Package events defines the conversation event model: a tagged union of
// event variants, deterministic event identity, and a YAML/JSON codec.
//
// Every event carries identity fields (id, session name, event number,
// timestamp, optional parent id) plus a variant-specific payload. The event
// number is the event's position in the conversation log: dense, strictly
// monotonic, starting at 0. Ephemeral variants (text_delta) are broadcast to
// subscribers but never persisted.
package events

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Type is the tag discriminator for event variants.
type Type string

// Event type tags. These are the wire names used in both the stored log and
// the gateway JSON encoding.
const (
	TypeSystemPrompt     Type = "system_prompt"
	TypeUserMessage      Type = "user_message"
	TypeAssistantMessage Type = "assistant_message"
	TypeTextDelta        Type = "text_delta"
	TypeSetLLMConfig     Type = "set_llm_config"
	TypeSessionStarted   Type = "session_started"
	TypeSessionEnded     Type = "session_ended"
	TypeTurnStarted      Type = "turn_started"
	TypeTurnCompleted    Type = "turn_completed"
	TypeTurnFailed       Type = "turn_failed"
	TypeTurnInterrupted  Type = "turn_interrupted"
)

// Interruption reasons recorded on TurnInterrupted.
const (
	// ReasonNewInput: a new triggering event cancelled the in-flight turn.
	ReasonNewInput = "new_input"
	// ReasonRequested: an explicit interrupt call cancelled the turn.
	ReasonRequested = "requested"
	// ReasonSessionEnded: the session stopped while a turn was in flight.
	ReasonSessionEnded = "session_ended"
)

// Payload is the variant-specific part of an event. Implementations live in
// payloads.go and are always used as pointers.
type Payload interface {
	EventType() Type
}

// Event is one entry in a conversation's event sequence.
type Event struct {
	ID          string    `json:"id" yaml:"id"`
	Type        Type      `json:"type" yaml:"type"`
	SessionName string    `json:"session_name" yaml:"session_name"`
	EventNumber int       `json:"event_number" yaml:"event_number"`
	Timestamp   time.Time `json:"timestamp" yaml:"timestamp"`
	ParentID    string    `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`

	// Payload holds the variant data. Its concrete type must match Type;
	// the codec enforces this on decode.
	Payload Payload `json:"-" yaml:"-"`
}

// New builds a fully-stamped event for the given log position.
func New(session string, number int, parentID string, p Payload) Event {
	return Event{
		ID:          EventID(session, number),
		Type:        p.EventType(),
		SessionName: session,
		EventNumber: number,
		Timestamp:   time.Now().UTC(),
		ParentID:    parentID,
		Payload:     p,
	}
}

// TriggersTurn reports whether accepting this event should schedule a model
// turn. Only user messages trigger turns.
func (e Event) TriggersTurn() bool {
	return e.Type == TypeUserMessage
}

// Ephemeral reports whether the event is broadcast-only (never persisted).
func (e Event) Ephemeral() bool {
	return e.Type == TypeTextDelta
}

// eventNamespace is the UUIDv5 namespace for event identity.
var eventNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("miniagent/conversation-events"))

// EventID derives the globally-unique deterministic id for the event at the
// given position of a conversation log. The same (session, number) pair always
// yields the same id, which makes replayed logs stable across restarts.
func EventID(session string, number int) string {
	return uuid.NewSHA1(eventNamespace, []byte(session+"#"+strconv.Itoa(number))).String()
}

// UnknownTypeError is returned when decoding an event with an unrecognized
// type tag. Callers must treat the containing log as undecodable.
type UnknownTypeError struct {
	Type Type
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown event type %q", string(e.Type))
}
