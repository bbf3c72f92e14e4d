package reducer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/miniagent/pkg/events"
)

func seq(t *testing.T, payloads ...events.Payload) []events.Event {
	t.Helper()
	evs := make([]events.Event, 0, len(payloads))
	for i, p := range payloads {
		evs = append(evs, events.New("alpha", i, "", p))
	}
	return evs
}

func TestReduce_BuildsPromptMessages(t *testing.T) {
	evs := seq(t,
		&events.SessionStarted{LoadedEventCount: 0},
		&events.SystemPrompt{Content: "be terse"},
		&events.UserMessage{Content: "hi"},
		&events.TextDelta{Delta: "he"},
		&events.TextDelta{Delta: "llo"},
		&events.AssistantMessage{Content: "hello"},
	)

	st, err := Reduce(State{}, evs...)
	require.NoError(t, err)

	assert.Equal(t, []Message{
		{Role: RoleSystem, Content: "be terse"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}, st.Messages)
	// Every event counts, deltas included.
	assert.Equal(t, len(evs), st.NextEventNumber)
}

func TestReduce_TurnLifecycle(t *testing.T) {
	started := events.New("alpha", 0, "", &events.TurnStarted{TurnNumber: 1})

	st, err := Reduce(State{}, started)
	require.NoError(t, err)
	assert.Equal(t, started.ID, st.TurnInProgressEventID)
	assert.Equal(t, 0, st.CurrentTurnNumber)

	completed, err := Reduce(st, events.New("alpha", 1, started.ID, &events.TurnCompleted{TurnNumber: 1, DurationMS: 12}))
	require.NoError(t, err)
	assert.Empty(t, completed.TurnInProgressEventID)
	assert.Equal(t, 1, completed.CurrentTurnNumber)

	failed, err := Reduce(st, events.New("alpha", 1, started.ID, &events.TurnFailed{TurnNumber: 1, Error: "boom"}))
	require.NoError(t, err)
	assert.Empty(t, failed.TurnInProgressEventID)

	interrupted, err := Reduce(st, events.New("alpha", 1, started.ID, &events.TurnInterrupted{TurnNumber: 1, Reason: events.ReasonNewInput}))
	require.NoError(t, err)
	assert.Empty(t, interrupted.TurnInProgressEventID)
}

func TestReduce_SetLLMConfigReplaces(t *testing.T) {
	st, err := Reduce(State{},
		seq(t,
			&events.SetLLMConfig{APIFormat: "anthropic", Model: "claude-sonnet"},
			&events.SetLLMConfig{APIFormat: "openai-chat-completions", Model: "gpt-5"},
		)...)
	require.NoError(t, err)
	require.NotNil(t, st.LLMConfig)
	assert.Equal(t, "openai-chat-completions", st.LLMConfig.APIFormat)
	assert.Equal(t, "gpt-5", st.LLMConfig.Model)
}

// fakePayload is a variant the reducer does not know about.
type fakePayload struct{}

func (*fakePayload) EventType() events.Type { return events.Type("wormhole") }

func TestReduce_UnknownVariantFails(t *testing.T) {
	bad := events.New("alpha", 0, "", &fakePayload{})
	st, err := Reduce(State{NextEventNumber: 3}, bad)
	var unknown *UnknownEventError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, events.Type("wormhole"), unknown.Type)
	// State unchanged on failure.
	assert.Equal(t, 3, st.NextEventNumber)
}

func TestReduce_Associativity(t *testing.T) {
	evs := seq(t,
		&events.SystemPrompt{Content: "s"},
		&events.UserMessage{Content: "u1"},
		&events.TurnStarted{TurnNumber: 1},
		&events.TextDelta{Delta: "d"},
		&events.AssistantMessage{Content: "a1"},
		&events.TurnCompleted{TurnNumber: 1, DurationMS: 5},
		&events.UserMessage{Content: "u2"},
	)

	all, err := Reduce(State{}, evs...)
	require.NoError(t, err)

	for split := 0; split <= len(evs); split++ {
		head, err := Reduce(State{}, evs[:split]...)
		require.NoError(t, err)
		full, err := Reduce(head, evs[split:]...)
		require.NoError(t, err)
		assert.Equal(t, all, full, "split at %d", split)
	}
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	base, err := Reduce(State{}, seq(t, &events.UserMessage{Content: "u1"})...)
	require.NoError(t, err)
	snapshot := base.Messages[0]

	_, err = Reduce(base, events.New("alpha", 1, "", &events.AssistantMessage{Content: "a"}))
	require.NoError(t, err)
	_, err = Reduce(base, events.New("alpha", 1, "", &events.AssistantMessage{Content: "b"}))
	require.NoError(t, err)

	assert.Len(t, base.Messages, 1)
	assert.Equal(t, snapshot, base.Messages[0])
}
