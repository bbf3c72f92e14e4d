// Package services is the uniform operation surface front-ends call into.
// It resolves sessions through the registry, reads cold logs straight from
// the store, and wraps lower-level failures in ServiceError.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/codeready-toolchain/miniagent/pkg/events"
	"github.com/codeready-toolchain/miniagent/pkg/reducer"
	"github.com/codeready-toolchain/miniagent/pkg/registry"
	"github.com/codeready-toolchain/miniagent/pkg/store"
)

// Defaults for streaming idleness detection.
const (
	DefaultIdleTimeout = 50 * time.Millisecond
	DefaultStreamCap   = 30 * time.Second
)

// ServiceError wraps any lower-level failure crossing the facade boundary.
type ServiceError struct {
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error { return e.Cause }

func svcErr(msg string, cause error) *ServiceError {
	return &ServiceError{Message: msg, Cause: cause}
}

// StateView is the externally visible projection of derived state.
type StateView struct {
	NextEventNumber   int               `json:"next_event_number"`
	CurrentTurnNumber int               `json:"current_turn_number"`
	Messages          []reducer.Message `json:"messages"`
	HasLLMConfig      bool              `json:"has_llm_config"`
	TurnInProgress    bool              `json:"turn_in_progress"`
}

func viewOf(st reducer.State) StateView {
	return StateView{
		NextEventNumber:   st.NextEventNumber,
		CurrentTurnNumber: st.CurrentTurnNumber,
		Messages:          st.Messages,
		HasLLMConfig:      st.LLMConfig != nil,
		TurnInProgress:    st.TurnInProgressEventID != "",
	}
}

// Options configures a SessionService.
type Options struct {
	// IdleTimeout is the inactivity window AddAndStreamUntilIdle waits
	// after the last event before probing for idleness.
	IdleTimeout time.Duration
	// StreamCap bounds a streaming call end to end.
	StreamCap time.Duration
	Logger    *slog.Logger
}

// SessionService implements the facade over a registry and its store.
type SessionService struct {
	reg         *registry.Registry
	store       store.Store
	idleTimeout time.Duration
	streamCap   time.Duration
	log         *slog.Logger
}

// NewSessionService wires the facade. The store must be the same one the
// registry's actors persist to.
func NewSessionService(reg *registry.Registry, st store.Store, opts Options) *SessionService {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.StreamCap <= 0 {
		opts.StreamCap = DefaultStreamCap
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &SessionService{
		reg:         reg,
		store:       st,
		idleTimeout: opts.IdleTimeout,
		streamCap:   opts.StreamCap,
		log:         opts.Logger,
	}
}

// AddEvents resolves (or creates) the session and ingests the payloads in
// order, returning the fully-stamped events.
func (s *SessionService) AddEvents(ctx context.Context, name string, payloads []events.Payload) ([]events.Event, error) {
	a, err := s.reg.GetOrCreate(ctx, name)
	if err != nil {
		return nil, svcErr("resolving session "+name, err)
	}
	out, err := a.AddEvents(ctx, payloads)
	if err != nil {
		return out, svcErr("adding events to "+name, err)
	}
	return out, nil
}

// Subscribe attaches a live tap on the session's broadcast.
func (s *SessionService) Subscribe(ctx context.Context, name string) (<-chan events.Event, func(), error) {
	a, err := s.reg.GetOrCreate(ctx, name)
	if err != nil {
		return nil, nil, svcErr("resolving session "+name, err)
	}
	ch, cancel, err := a.Subscribe(ctx)
	if err != nil {
		return nil, nil, svcErr("subscribing to "+name, err)
	}
	return ch, cancel, nil
}

// GetEvents returns the session's persisted log. Sessions without a live
// actor are read straight from the store, so inspection does not spin one up.
func (s *SessionService) GetEvents(ctx context.Context, name string) ([]events.Event, error) {
	if a, err := s.reg.Get(name); err == nil {
		evs, err := a.GetEvents(ctx)
		if err == nil {
			return evs, nil
		}
	}
	evs, err := s.store.Load(ctx, name)
	if err != nil {
		return nil, svcErr("loading events for "+name, err)
	}
	return evs, nil
}

// GetState returns the session's derived state view, reducing the stored log
// for sessions with no live actor.
func (s *SessionService) GetState(ctx context.Context, name string) (StateView, error) {
	if a, err := s.reg.Get(name); err == nil {
		st, err := a.GetState(ctx)
		if err == nil {
			return viewOf(st), nil
		}
	}
	evs, err := s.store.Load(ctx, name)
	if err != nil {
		return StateView{}, svcErr("loading events for "+name, err)
	}
	st, err := reducer.Reduce(reducer.State{}, evs...)
	if err != nil {
		return StateView{}, svcErr("reducing log for "+name, err)
	}
	return viewOf(st), nil
}

// IsIdle reports whether the session has no turn in flight. A session that
// exists only in the store is idle by definition.
func (s *SessionService) IsIdle(ctx context.Context, name string) (bool, error) {
	if a, err := s.reg.Get(name); err == nil {
		idle, err := a.IsIdle(ctx)
		if err == nil {
			return idle, nil
		}
	}
	exists, err := s.store.Exists(ctx, name)
	if err != nil {
		return false, svcErr("checking session "+name, err)
	}
	if !exists {
		return false, svcErr("session "+name, registry.ErrNotFound)
	}
	return true, nil
}

// EndSession gracefully stops the session's actor. Unknown or already-cold
// sessions are a no-op.
func (s *SessionService) EndSession(ctx context.Context, name string) error {
	if err := s.reg.Shutdown(ctx, name); err != nil {
		return svcErr("ending session "+name, err)
	}
	return nil
}

// InterruptTurn cancels the session's in-flight turn, if any.
func (s *SessionService) InterruptTurn(ctx context.Context, name string) error {
	a, err := s.reg.Get(name)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return nil
		}
		return svcErr("resolving session "+name, err)
	}
	if err := a.InterruptTurn(ctx); err != nil {
		return svcErr("interrupting "+name, err)
	}
	return nil
}

// ListSessions returns every known session name: persisted logs plus live
// actors, deduplicated and sorted.
func (s *SessionService) ListSessions(ctx context.Context) ([]string, error) {
	stored, err := s.store.List(ctx)
	if err != nil {
		return nil, svcErr("listing sessions", err)
	}
	seen := make(map[string]bool, len(stored))
	for _, name := range stored {
		seen[name] = true
	}
	for _, name := range s.reg.List() {
		seen[name] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// AddAndStreamUntilIdle submits payloads and streams the session's events
// until it returns to idle: the subscription is attached before submission
// so nothing is missed, and the stream ends once no event has arrived for
// the idle timeout while the actor reports idle. A safety cap bounds the
// whole call.
func (s *SessionService) AddAndStreamUntilIdle(ctx context.Context, name string, payloads []events.Payload, idleTimeout time.Duration) (<-chan events.Event, error) {
	if idleTimeout <= 0 {
		idleTimeout = s.idleTimeout
	}
	a, err := s.reg.GetOrCreate(ctx, name)
	if err != nil {
		return nil, svcErr("resolving session "+name, err)
	}
	sub, cancelSub, err := a.Subscribe(ctx)
	if err != nil {
		return nil, svcErr("subscribing to "+name, err)
	}
	if _, err := a.AddEvents(ctx, payloads); err != nil {
		cancelSub()
		return nil, svcErr("adding events to "+name, err)
	}

	out := make(chan events.Event)
	go func() {
		defer close(out)
		defer cancelSub()

		overall := time.NewTimer(s.streamCap)
		defer overall.Stop()
		quiet := time.NewTimer(idleTimeout)
		defer quiet.Stop()

		for {
			select {
			case e, ok := <-sub:
				if !ok {
					return
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
				if !quiet.Stop() {
					select {
					case <-quiet.C:
					default:
					}
				}
				quiet.Reset(idleTimeout)
			case <-quiet.C:
				idle, err := a.IsIdle(ctx)
				if err != nil || idle {
					return
				}
				quiet.Reset(idleTimeout)
			case <-overall.C:
				s.log.Warn("stream cap reached", "session", name)
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
