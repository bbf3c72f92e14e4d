package events

// Event payload variants. Field names double as wire names for both the
// stored YAML log and the gateway JSON encoding.

// SystemPrompt seeds the conversation with a system instruction.
type SystemPrompt struct {
	Content string `json:"content" yaml:"content"`
}

// UserMessage is client input. Accepting one schedules a model turn.
type UserMessage struct {
	Content     string   `json:"content" yaml:"content"`
	Attachments []string `json:"attachments,omitempty" yaml:"attachments,omitempty"`
}

// AssistantMessage is the durable final reply of a model turn.
type AssistantMessage struct {
	Content string `json:"content" yaml:"content"`
}

// TextDelta is one streamed token span of an in-flight turn. Ephemeral:
// broadcast to subscribers but never written to the log.
type TextDelta struct {
	Delta string `json:"delta" yaml:"delta"`
}

// SetLLMConfig switches the model configuration used by subsequent turns.
type SetLLMConfig struct {
	APIFormat string `json:"api_format" yaml:"api_format"`
	Model     string `json:"model" yaml:"model"`
	BaseURL   string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKeyEnv string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
}

// SessionStarted marks an actor attach. LoadedEventCount is the size of the
// log that was replayed before this event.
type SessionStarted struct {
	LoadedEventCount int `json:"loaded_event_count" yaml:"loaded_event_count"`
}

// SessionEnded marks a graceful stop.
type SessionEnded struct {
	Reason string `json:"reason" yaml:"reason"`
}

// TurnStarted opens a model turn.
type TurnStarted struct {
	TurnNumber int `json:"turn_number" yaml:"turn_number"`
}

// TurnCompleted closes a successful turn.
type TurnCompleted struct {
	TurnNumber int   `json:"turn_number" yaml:"turn_number"`
	DurationMS int64 `json:"duration_ms" yaml:"duration_ms"`
}

// TurnFailed closes a turn whose stream errored (after the turn service's own
// retries were exhausted).
type TurnFailed struct {
	TurnNumber int    `json:"turn_number" yaml:"turn_number"`
	Error      string `json:"error" yaml:"error"`
}

// TurnInterrupted closes a turn that was cancelled, carrying whatever text
// had streamed before cancellation.
type TurnInterrupted struct {
	TurnNumber      int    `json:"turn_number" yaml:"turn_number"`
	PartialResponse string `json:"partial_response" yaml:"partial_response"`
	Reason          string `json:"reason" yaml:"reason"`
}

func (*SystemPrompt) EventType() Type     { return TypeSystemPrompt }
func (*UserMessage) EventType() Type      { return TypeUserMessage }
func (*AssistantMessage) EventType() Type { return TypeAssistantMessage }
func (*TextDelta) EventType() Type        { return TypeTextDelta }
func (*SetLLMConfig) EventType() Type     { return TypeSetLLMConfig }
func (*SessionStarted) EventType() Type   { return TypeSessionStarted }
func (*SessionEnded) EventType() Type     { return TypeSessionEnded }
func (*TurnStarted) EventType() Type      { return TypeTurnStarted }
func (*TurnCompleted) EventType() Type    { return TypeTurnCompleted }
func (*TurnFailed) EventType() Type       { return TypeTurnFailed }
func (*TurnInterrupted) EventType() Type  { return TypeTurnInterrupted }

// newPayload returns a fresh zero payload for the given tag, or an
// UnknownTypeError for unrecognized tags.
func newPayload(t Type) (Payload, error) {
	switch t {
	case TypeSystemPrompt:
		return &SystemPrompt{}, nil
	case TypeUserMessage:
		return &UserMessage{}, nil
	case TypeAssistantMessage:
		return &AssistantMessage{}, nil
	case TypeTextDelta:
		return &TextDelta{}, nil
	case TypeSetLLMConfig:
		return &SetLLMConfig{}, nil
	case TypeSessionStarted:
		return &SessionStarted{}, nil
	case TypeSessionEnded:
		return &SessionEnded{}, nil
	case TypeTurnStarted:
		return &TurnStarted{}, nil
	case TypeTurnCompleted:
		return &TurnCompleted{}, nil
	case TypeTurnFailed:
		return &TurnFailed{}, nil
	case TypeTurnInterrupted:
		return &TurnInterrupted{}, nil
	default:
		return nil, &UnknownTypeError{Type: t}
	}
}
