package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/miniagent/pkg/events"
	"github.com/codeready-toolchain/miniagent/pkg/registry"
	"github.com/codeready-toolchain/miniagent/pkg/store"
	"github.com/codeready-toolchain/miniagent/pkg/turn"
)

func newTestService(t *testing.T, replies ...string) *SessionService {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	reg := registry.New(registry.Options{Store: s, Turns: turn.NewScripted(replies...)})
	t.Cleanup(func() {
		_ = reg.ShutdownAll(context.Background())
		_ = s.Close()
	})
	return NewSessionService(reg, s, Options{})
}

func userPayload(content string) []events.Payload {
	return []events.Payload{&events.UserMessage{Content: content}}
}

func TestService_AddAndStreamUntilIdle(t *testing.T) {
	svc := newTestService(t, "hello back")
	ctx := context.Background()

	stream, err := svc.AddAndStreamUntilIdle(ctx, "alpha", userPayload("hi"), 0)
	require.NoError(t, err)

	var seen []events.Type
	for e := range stream {
		seen = append(seen, e.Type)
	}
	require.NotEmpty(t, seen)
	assert.Equal(t, events.TypeUserMessage, seen[0])
	assert.Equal(t, events.TypeTurnCompleted, seen[len(seen)-1])
	assert.Contains(t, seen, events.TypeAssistantMessage)
}

func TestService_AddEventsStampsIdentity(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	evs, err := svc.AddEvents(ctx, "alpha", []events.Payload{
		&events.SystemPrompt{Content: "be brief"},
	})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "alpha", evs[0].SessionName)
	assert.NotEmpty(t, evs[0].ID)
}

func TestService_GetEventsOnColdSession(t *testing.T) {
	svc := newTestService(t, "reply")
	ctx := context.Background()

	stream, err := svc.AddAndStreamUntilIdle(ctx, "alpha", userPayload("hi"), 0)
	require.NoError(t, err)
	for range stream {
	}
	require.NoError(t, svc.EndSession(ctx, "alpha"))

	// The log is readable without reviving the actor.
	evs, err := svc.GetEvents(ctx, "alpha")
	require.NoError(t, err)
	require.NotEmpty(t, evs)
	assert.Equal(t, events.TypeSessionEnded, evs[len(evs)-1].Type)

	// No new session_started was appended by the read.
	again, err := svc.GetEvents(ctx, "alpha")
	require.NoError(t, err)
	assert.Len(t, again, len(evs))
}

func TestService_GetStateColdAndLive(t *testing.T) {
	svc := newTestService(t, "sure")
	ctx := context.Background()

	stream, err := svc.AddAndStreamUntilIdle(ctx, "alpha", userPayload("hi"), 0)
	require.NoError(t, err)
	for range stream {
	}

	live, err := svc.GetState(ctx, "alpha")
	require.NoError(t, err)
	assert.False(t, live.TurnInProgress)
	assert.Equal(t, 1, live.CurrentTurnNumber)
	require.Len(t, live.Messages, 2)
	assert.Equal(t, "sure", live.Messages[1].Content)

	require.NoError(t, svc.EndSession(ctx, "alpha"))
	cold, err := svc.GetState(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, live.CurrentTurnNumber, cold.CurrentTurnNumber)
	assert.Len(t, cold.Messages, len(live.Messages))
}

func TestService_IsIdle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.IsIdle(ctx, "ghost")
	var serr *ServiceError
	require.ErrorAs(t, err, &serr)
	assert.ErrorIs(t, err, registry.ErrNotFound)

	_, err = svc.AddEvents(ctx, "alpha", []events.Payload{&events.SystemPrompt{Content: "x"}})
	require.NoError(t, err)
	idle, err := svc.IsIdle(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, idle)

	require.NoError(t, svc.EndSession(ctx, "alpha"))
	idle, err = svc.IsIdle(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, idle)
}

func TestService_ListSessions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddEvents(ctx, "b", []events.Payload{&events.SystemPrompt{Content: "x"}})
	require.NoError(t, err)
	_, err = svc.AddEvents(ctx, "a", []events.Payload{&events.SystemPrompt{Content: "x"}})
	require.NoError(t, err)
	require.NoError(t, svc.EndSession(ctx, "b"))

	names, err := svc.ListSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)
}

func TestService_InterruptTurnIsSafeWhenIdle(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	assert.NoError(t, svc.InterruptTurn(ctx, "ghost"))

	_, err := svc.AddEvents(ctx, "alpha", []events.Payload{&events.SystemPrompt{Content: "x"}})
	require.NoError(t, err)
	assert.NoError(t, svc.InterruptTurn(ctx, "alpha"))
}

func TestService_StreamRespectsCallerCancel(t *testing.T) {
	svc := newTestService(t, "a long reply that streams for a while here")
	ctx, cancel := context.WithCancel(context.Background())

	stream, err := svc.AddAndStreamUntilIdle(ctx, "alpha", userPayload("hi"), 500*time.Millisecond)
	require.NoError(t, err)
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-stream:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream did not close after cancellation")
		}
	}
}
