package turn

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/miniagent/pkg/reducer"
)

// collect drains a chunk channel, returning the concatenated deltas and the
// terminal chunk.
func collect(t *testing.T, ch <-chan Chunk) (string, Chunk) {
	t.Helper()
	var text string
	var last Chunk
	for c := range ch {
		last = c
		if tc, ok := c.(*TextChunk); ok {
			text += tc.Delta
		}
	}
	return text, last
}

func userState(content string) reducer.State {
	return reducer.State{Messages: []reducer.Message{{Role: reducer.RoleUser, Content: content}}}
}

func TestScripted_StreamsReplyWordByWord(t *testing.T) {
	svc := NewScripted("hello there friend")

	ch, err := svc.Execute(context.Background(), userState("hi"))
	require.NoError(t, err)

	text, last := collect(t, ch)
	assert.Equal(t, "hello there friend", text)
	require.IsType(t, &MessageChunk{}, last)
	assert.Equal(t, "hello there friend", last.(*MessageChunk).Content)
}

func TestScripted_EchoesWhenScriptExhausted(t *testing.T) {
	svc := NewScripted()

	ch, err := svc.Execute(context.Background(), userState("ping"))
	require.NoError(t, err)

	_, last := collect(t, ch)
	require.IsType(t, &MessageChunk{}, last)
	assert.Equal(t, "You said: ping", last.(*MessageChunk).Content)
}

func TestScripted_CancellationStopsStream(t *testing.T) {
	svc := NewScripted("a b c d e f g h")
	svc.Delay = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := svc.Execute(ctx, userState("hi"))
	require.NoError(t, err)

	first, ok := <-ch
	require.True(t, ok)
	require.IsType(t, &TextChunk{}, first)
	cancel()

	_, last := collect(t, ch)
	// The stream ends without a final message once the context is gone.
	_, finished := last.(*MessageChunk)
	assert.False(t, finished)
}

func TestScripted_StreamErrArrivesInBand(t *testing.T) {
	svc := NewScripted("unused reply")
	svc.StreamErr = errors.New("connection reset")

	ch, err := svc.Execute(context.Background(), userState("hi"))
	require.NoError(t, err)

	_, last := collect(t, ch)
	require.IsType(t, &ErrorChunk{}, last)
	assert.Equal(t, "connection reset", last.(*ErrorChunk).Message)
}

// flakyStreamer fails the first startFailures stream calls, then delegates.
type flakyStreamer struct {
	startFailures int
	calls         int
	inner         streamer
}

func (f *flakyStreamer) stream(ctx context.Context, cfg reducer.LLMConfig, msgs []reducer.Message) (<-chan Chunk, error) {
	f.calls++
	if f.calls <= f.startFailures {
		return nil, errors.New("dial tcp: connection refused")
	}
	return f.inner.stream(ctx, cfg, msgs)
}

// scriptedStreamer adapts Scripted to the internal streamer contract.
type scriptedStreamer struct{ svc *Scripted }

func (s *scriptedStreamer) stream(ctx context.Context, cfg reducer.LLMConfig, msgs []reducer.Message) (<-chan Chunk, error) {
	return s.svc.Execute(ctx, reducer.State{Messages: msgs})
}

func TestRouter_UnsupportedFormat(t *testing.T) {
	r := NewRouter(Options{Default: reducer.LLMConfig{APIFormat: "smoke-signals"}})

	_, err := r.Execute(context.Background(), reducer.State{})
	var turnErr *Error
	require.ErrorAs(t, err, &turnErr)
	assert.Equal(t, "smoke-signals", turnErr.Provider)
}

func TestRouter_ConversationConfigOverridesDefault(t *testing.T) {
	r := NewRouter(Options{Default: reducer.LLMConfig{APIFormat: "fake"}})
	r.providers["fake"] = &scriptedStreamer{svc: NewScripted("default")}

	st := userState("hi")
	st.LLMConfig = &reducer.LLMConfig{APIFormat: "nonexistent"}

	_, err := r.Execute(context.Background(), st)
	var turnErr *Error
	require.ErrorAs(t, err, &turnErr)
	assert.Equal(t, "nonexistent", turnErr.Provider)
}

func TestRouter_RetriesFailedStart(t *testing.T) {
	flaky := &flakyStreamer{
		startFailures: 1,
		inner:         &scriptedStreamer{svc: NewScripted("recovered fine")},
	}
	r := NewRouter(Options{
		Default:  reducer.LLMConfig{APIFormat: "fake"},
		Attempts: 2,
	})
	r.providers["fake"] = flaky

	ch, err := r.Execute(context.Background(), userState("hi"))
	require.NoError(t, err)
	assert.Equal(t, 2, flaky.calls)

	text, _ := collect(t, ch)
	assert.Equal(t, "recovered fine", text)
}

func TestRouter_GivesUpAfterAttempts(t *testing.T) {
	flaky := &flakyStreamer{startFailures: 10}
	r := NewRouter(Options{
		Default:  reducer.LLMConfig{APIFormat: "fake"},
		Attempts: 3,
	})
	r.providers["fake"] = flaky

	_, err := r.Execute(context.Background(), userState("hi"))
	var turnErr *Error
	require.ErrorAs(t, err, &turnErr)
	assert.Equal(t, 3, flaky.calls)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRouter_AttemptTimeoutEndsStream(t *testing.T) {
	slow := NewScripted("one two three four five six seven eight nine ten")
	slow.Delay = 50 * time.Millisecond
	r := NewRouter(Options{
		Default:        reducer.LLMConfig{APIFormat: "fake"},
		AttemptTimeout: 80 * time.Millisecond,
	})
	r.providers["fake"] = &scriptedStreamer{svc: slow}

	ch, err := r.Execute(context.Background(), userState("hi"))
	require.NoError(t, err)

	_, last := collect(t, ch)
	_, finished := last.(*MessageChunk)
	assert.False(t, finished)
}
