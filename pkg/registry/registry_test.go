package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/miniagent/pkg/actor"
	"github.com/codeready-toolchain/miniagent/pkg/events"
	"github.com/codeready-toolchain/miniagent/pkg/store"
	"github.com/codeready-toolchain/miniagent/pkg/turn"
)

func newTestRegistry(t *testing.T) (*Registry, store.Store) {
	t.Helper()
	s, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	r := New(Options{Store: s, Turns: turn.NewScripted()})
	t.Cleanup(func() {
		_ = r.ShutdownAll(context.Background())
		_ = s.Close()
	})
	return r, s
}

func TestRegistry_ConcurrentCreateReturnsSameActor(t *testing.T) {
	r, s := newTestRegistry(t)
	ctx := context.Background()

	const callers = 16
	actors := make([]*actor.Actor, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := r.GetOrCreate(ctx, "beta")
			assert.NoError(t, err)
			actors[i] = a
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		assert.Same(t, actors[0], actors[i])
	}

	// Only one attach marker landed in the log.
	evs, err := s.Load(ctx, "beta")
	require.NoError(t, err)
	started := 0
	for _, e := range evs {
		if e.Type == events.TypeSessionStarted {
			started++
		}
	}
	assert.Equal(t, 1, started)
}

func TestRegistry_GetDoesNotCreate(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)

	a, err := r.GetOrCreate(ctx, "gamma")
	require.NoError(t, err)

	got, err := r.Get("gamma")
	require.NoError(t, err)
	assert.Same(t, a, got)
}

func TestRegistry_List(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.GetOrCreate(ctx, "b")
	require.NoError(t, err)
	_, err = r.GetOrCreate(ctx, "a")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, r.List())
}

func TestRegistry_ShutdownRemovesActor(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	a, err := r.GetOrCreate(ctx, "delta")
	require.NoError(t, err)
	require.NoError(t, r.Shutdown(ctx, "delta"))

	select {
	case <-a.Done():
	default:
		t.Fatal("actor still live after shutdown")
	}
	_, err = r.Get("delta")
	assert.ErrorIs(t, err, ErrNotFound)

	// Shutting down an unknown name is fine.
	assert.NoError(t, r.Shutdown(ctx, "delta"))
}

func TestRegistry_RecreateAfterSelfEnd(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	a, err := r.GetOrCreate(ctx, "echo")
	require.NoError(t, err)
	require.NoError(t, a.EndSession(ctx, "client ended"))

	// The stale cache entry is replaced by a fresh actor.
	b, err := r.GetOrCreate(ctx, "echo")
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	idle, err := b.IsIdle(ctx)
	require.NoError(t, err)
	assert.True(t, idle)
}

func TestRegistry_CreationFailureSharedByWaiters(t *testing.T) {
	s, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	r := New(Options{Store: s, Turns: turn.NewScripted()})
	ctx := context.Background()

	// An unloadable log fails creation instead of caching a broken actor.
	_, err = r.GetOrCreate(ctx, "bad/name")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInvalidName)

	_, err = r.Get("bad/name")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_ClosedRejectsAllOps(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.GetOrCreate(ctx, "zeta")
	require.NoError(t, err)
	require.NoError(t, r.ShutdownAll(ctx))

	_, err = r.GetOrCreate(ctx, "zeta")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = r.Get("zeta")
	assert.ErrorIs(t, err, ErrClosed)

	// Idempotent.
	assert.NoError(t, r.ShutdownAll(ctx))
}
