package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testEvent(t *testing.T, number int, p Payload) Event {
	t.Helper()
	e := New("alpha", number, "", p)
	e.Timestamp = time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	return e
}

// allVariants returns one populated event per variant.
func allVariants(t *testing.T) []Event {
	t.Helper()
	payloads := []Payload{
		&SystemPrompt{Content: "be helpful"},
		&UserMessage{Content: "hi", Attachments: []string{"file://a.txt"}},
		&AssistantMessage{Content: "hello"},
		&TextDelta{Delta: "he"},
		&SetLLMConfig{APIFormat: "anthropic", Model: "claude-sonnet", BaseURL: "https://api.example.com", APIKeyEnv: "ANTHROPIC_API_KEY"},
		&SessionStarted{LoadedEventCount: 3},
		&SessionEnded{Reason: "shutdown"},
		&TurnStarted{TurnNumber: 1},
		&TurnCompleted{TurnNumber: 1, DurationMS: 120},
		&TurnFailed{TurnNumber: 2, Error: "provider unavailable"},
		&TurnInterrupted{TurnNumber: 3, PartialResponse: "once upon", Reason: ReasonNewInput},
	}
	evs := make([]Event, 0, len(payloads))
	for i, p := range payloads {
		e := testEvent(t, i, p)
		if i > 0 {
			e.ParentID = EventID("alpha", i-1)
		}
		evs = append(evs, e)
	}
	return evs
}

func TestCodec_RoundTrip(t *testing.T) {
	for _, orig := range allVariants(t) {
		t.Run(string(orig.Type), func(t *testing.T) {
			// YAML (store encoding)
			data, err := yaml.Marshal(orig)
			require.NoError(t, err)
			var fromYAML Event
			require.NoError(t, yaml.Unmarshal(data, &fromYAML))
			assert.Equal(t, orig, fromYAML)

			// JSON (gateway encoding)
			jdata, err := json.Marshal(orig)
			require.NoError(t, err)
			var fromJSON Event
			require.NoError(t, json.Unmarshal(jdata, &fromJSON))
			assert.Equal(t, orig, fromJSON)
		})
	}
}

func TestCodec_RejectsUnknownTag(t *testing.T) {
	doc := []byte(`{"id":"x","type":"wormhole","session_name":"alpha","event_number":0,"timestamp":"2026-08-24T12:00:00Z"}`)

	var e Event
	err := json.Unmarshal(doc, &e)
	require.Error(t, err)
	var unknown *UnknownTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, Type("wormhole"), unknown.Type)

	var fromYAML Event
	err = yaml.Unmarshal([]byte("type: wormhole\nevent_number: 0\n"), &fromYAML)
	require.ErrorAs(t, err, &unknown)
}

func TestEventID_Deterministic(t *testing.T) {
	assert.Equal(t, EventID("alpha", 7), EventID("alpha", 7))
	assert.NotEqual(t, EventID("alpha", 7), EventID("alpha", 8))
	assert.NotEqual(t, EventID("alpha", 7), EventID("beta", 7))
}

func TestEventClassification(t *testing.T) {
	assert.True(t, testEvent(t, 0, &UserMessage{Content: "hi"}).TriggersTurn())
	assert.False(t, testEvent(t, 0, &SystemPrompt{Content: "x"}).TriggersTurn())
	assert.False(t, testEvent(t, 0, &AssistantMessage{Content: "x"}).TriggersTurn())

	assert.True(t, testEvent(t, 0, &TextDelta{Delta: "x"}).Ephemeral())
	assert.False(t, testEvent(t, 0, &UserMessage{Content: "x"}).Ephemeral())
}

func TestNew_StampsIdentity(t *testing.T) {
	e := New("alpha", 4, EventID("alpha", 3), &UserMessage{Content: "hi"})
	assert.Equal(t, EventID("alpha", 4), e.ID)
	assert.Equal(t, TypeUserMessage, e.Type)
	assert.Equal(t, "alpha", e.SessionName)
	assert.Equal(t, 4, e.EventNumber)
	assert.Equal(t, EventID("alpha", 3), e.ParentID)
	assert.False(t, e.Timestamp.IsZero())
}
