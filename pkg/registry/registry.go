// Package registry owns the mapping from session name to live actor.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/codeready-toolchain/miniagent/pkg/actor"
	"github.com/codeready-toolchain/miniagent/pkg/store"
	"github.com/codeready-toolchain/miniagent/pkg/turn"
)

// ErrNotFound is returned by Get for sessions with no live actor.
var ErrNotFound = errors.New("session not found")

// ErrClosed is returned once the registry has shut down.
var ErrClosed = errors.New("registry closed")

// Options configures actors the registry creates.
type Options struct {
	Store            store.Store
	Turns            turn.Service
	Debounce         time.Duration
	MailboxSize      int
	SubscriberBuffer int
	Logger           *slog.Logger
}

// Registry creates actors on demand, deduplicates concurrent creation, and
// owns actor lifetimes.
type Registry struct {
	opts Options
	log  *slog.Logger

	mu       sync.Mutex
	actors   map[string]*actor.Actor
	creating map[string]*creation
	closed   bool
}

// creation is the single-shot promise shared by callers racing to create the
// same session.
type creation struct {
	done  chan struct{}
	actor *actor.Actor
	err   error
}

// New builds an empty registry.
func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		opts:     opts,
		log:      opts.Logger,
		actors:   make(map[string]*actor.Actor),
		creating: make(map[string]*creation),
	}
}

func (r *Registry) actorOptions() actor.Options {
	return actor.Options{
		Store:            r.opts.Store,
		Turns:            r.opts.Turns,
		Debounce:         r.opts.Debounce,
		MailboxSize:      r.opts.MailboxSize,
		SubscriberBuffer: r.opts.SubscriberBuffer,
		Logger:           r.opts.Logger,
	}
}

// ended reports whether a cached actor has stopped on its own (for example
// through an explicit end_session).
func ended(a *actor.Actor) bool {
	select {
	case <-a.Done():
		return true
	default:
		return false
	}
}

// GetOrCreate returns the live actor for name, creating it when absent.
// Concurrent calls for the same name share one creation: every caller gets
// the same actor, or the same creation error.
func (r *Registry) GetOrCreate(ctx context.Context, name string) (*actor.Actor, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if a, ok := r.actors[name]; ok {
		if !ended(a) {
			r.mu.Unlock()
			return a, nil
		}
		delete(r.actors, name)
	}
	if c, ok := r.creating[name]; ok {
		r.mu.Unlock()
		select {
		case <-c.done:
			if c.err != nil {
				return nil, c.err
			}
			return c.actor, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	c := &creation{done: make(chan struct{})}
	r.creating[name] = c
	r.mu.Unlock()

	a, err := actor.New(ctx, name, r.actorOptions())

	r.mu.Lock()
	delete(r.creating, name)
	if err == nil {
		if r.closed {
			// Shut down while we were creating; do not leak the actor.
			err = ErrClosed
			go func() { _ = a.EndSession(context.Background(), "registry closed") }()
			a = nil
		} else {
			r.actors[name] = a
		}
	}
	c.actor, c.err = a, err
	close(c.done)
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return a, nil
}

// Get returns the live actor for name without creating one.
func (r *Registry) Get(name string) (*actor.Actor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	a, ok := r.actors[name]
	if !ok || ended(a) {
		if ok {
			delete(r.actors, name)
		}
		return nil, ErrNotFound
	}
	return a, nil
}

// List returns the names of live actors, sorted.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.actors))
	for name, a := range r.actors {
		if !ended(a) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Shutdown gracefully stops one session's actor and drops it from the cache.
// Unknown names are a no-op.
func (r *Registry) Shutdown(ctx context.Context, name string) error {
	r.mu.Lock()
	a, ok := r.actors[name]
	delete(r.actors, name)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return a.EndSession(ctx, "shutdown")
}

// ShutdownAll stops every live actor and closes the registry. Subsequent
// calls are no-ops.
func (r *Registry) ShutdownAll(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	actors := make([]*actor.Actor, 0, len(r.actors))
	for _, a := range r.actors {
		actors = append(actors, a)
	}
	r.actors = make(map[string]*actor.Actor)
	r.mu.Unlock()

	var firstErr error
	for _, a := range actors {
		if err := a.EndSession(ctx, "shutdown"); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.log.Info("registry shut down", "sessions", len(actors))
	return firstErr
}
