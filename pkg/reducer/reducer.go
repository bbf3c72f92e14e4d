// Package reducer derives conversational state from an event sequence.
//
// Reduce is a pure left fold: it never mutates its input state, and replaying
// the same events always yields the same result. The derived state is not
// persisted anywhere; actors rebuild it from the log on attach.
package reducer

import (
	"fmt"

	"github.com/codeready-toolchain/miniagent/pkg/events"
)

// Message roles in the model prompt.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one model-prompt message.
type Message struct {
	Role    string
	Content string
}

// LLMConfig is the active model configuration, set by set_llm_config events.
type LLMConfig struct {
	APIFormat string
	Model     string
	BaseURL   string
	APIKeyEnv string
}

// State is the reducer output.
//
// Invariant: NextEventNumber equals the count of events ever reduced into
// this state, ephemeral ones included.
type State struct {
	Messages              []Message
	NextEventNumber       int
	CurrentTurnNumber     int
	TurnInProgressEventID string
	LLMConfig             *LLMConfig
}

// UnknownEventError is returned when Reduce encounters a variant it does not
// understand. The offending ingest must not be retried.
type UnknownEventError struct {
	Type events.Type
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("reducer: unknown event type %q", string(e.Type))
}

// Reduce folds events into state left-to-right and returns the new state.
// The input state is not modified.
func Reduce(s State, evs ...events.Event) (State, error) {
	for _, e := range evs {
		next, err := apply(s, e)
		if err != nil {
			return s, err
		}
		s = next
	}
	return s, nil
}

func apply(s State, e events.Event) (State, error) {
	switch p := e.Payload.(type) {
	case *events.SystemPrompt:
		s.Messages = appendMessage(s.Messages, Message{Role: RoleSystem, Content: p.Content})
	case *events.UserMessage:
		s.Messages = appendMessage(s.Messages, Message{Role: RoleUser, Content: p.Content})
	case *events.AssistantMessage:
		s.Messages = appendMessage(s.Messages, Message{Role: RoleAssistant, Content: p.Content})
	case *events.TextDelta:
		// Ephemeral: no prompt effect, only the event counter advances.
	case *events.SetLLMConfig:
		s.LLMConfig = &LLMConfig{
			APIFormat: p.APIFormat,
			Model:     p.Model,
			BaseURL:   p.BaseURL,
			APIKeyEnv: p.APIKeyEnv,
		}
	case *events.TurnStarted:
		s.TurnInProgressEventID = e.ID
	case *events.TurnCompleted:
		s.TurnInProgressEventID = ""
		s.CurrentTurnNumber = p.TurnNumber
	case *events.TurnFailed:
		s.TurnInProgressEventID = ""
	case *events.TurnInterrupted:
		s.TurnInProgressEventID = ""
	case *events.SessionStarted, *events.SessionEnded:
		// Lifecycle markers: counted, no other effect.
	default:
		return s, &UnknownEventError{Type: e.Type}
	}
	s.NextEventNumber++
	return s, nil
}

// appendMessage appends without aliasing the input slice's backing array, so
// states sharing a prefix never observe each other's appends.
func appendMessage(msgs []Message, m Message) []Message {
	out := make([]Message, len(msgs), len(msgs)+1)
	copy(out, msgs)
	return append(out, m)
}
