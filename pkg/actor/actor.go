// Package actor implements the per-session conversation actor.
//
// One Actor owns one conversation: its persisted event log, the derived
// state folded from it, the in-flight model turn (at most one), and the live
// broadcast to subscribers. All mutation happens on a single run loop
// goroutine; exported operations are commands delivered through a bounded
// mailbox and answered on reply channels, so callers never touch actor state
// directly.
package actor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/miniagent/pkg/events"
	"github.com/codeready-toolchain/miniagent/pkg/reducer"
	"github.com/codeready-toolchain/miniagent/pkg/store"
	"github.com/codeready-toolchain/miniagent/pkg/turn"
)

// Defaults for Options fields left zero.
const (
	DefaultDebounce         = 10 * time.Millisecond
	DefaultMailboxSize      = 256
	DefaultSubscriberBuffer = 64
)

// ErrSessionEnded is returned by every operation once the actor has stopped.
var ErrSessionEnded = errors.New("session ended")

// Options configures a new Actor.
type Options struct {
	// Store persists the conversation log. Required.
	Store store.Store
	// Turns executes model turns. Required.
	Turns turn.Service
	// Debounce is the quiet period applied to triggering events before a
	// turn starts. Zero uses DefaultDebounce; negative means no quiet
	// period (the turn starts on the next loop pass).
	Debounce time.Duration
	// MailboxSize bounds the command queue.
	MailboxSize int
	// SubscriberBuffer is the per-subscriber channel depth.
	SubscriberBuffer int
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Debounce == 0 {
		out.Debounce = DefaultDebounce
	}
	if out.Debounce < 0 {
		out.Debounce = 0
	}
	if out.MailboxSize <= 0 {
		out.MailboxSize = DefaultMailboxSize
	}
	if out.SubscriberBuffer <= 0 {
		out.SubscriberBuffer = DefaultSubscriberBuffer
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Actor is one conversation's single-consumer state owner.
type Actor struct {
	name string
	opts Options
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	cmds   chan command
	// turnMsgs carries streamed chunks from the turn goroutine back onto
	// the run loop, tagged with their turn number so late messages from a
	// cancelled turn are discarded.
	turnMsgs chan turnMsg
	done     chan struct{}

	// Owned by the run loop.
	events        []events.Event
	derived       reducer.State
	subscribers   map[uint64]chan events.Event
	nextSubID     uint64
	turnCounter   int
	currentTurn   *turnHandle
	debounceTimer *time.Timer
}

// turnHandle is the actor's grip on the in-flight turn.
type turnHandle struct {
	number    int
	startedID string
	startedAt time.Time
	cancel    context.CancelFunc
	partial   []byte
}

// command is one mailbox message handled on the run loop.
type command interface {
	handle(a *Actor)
}

type turnMsg struct {
	turn  int
	chunk turn.Chunk
	err   error
	done  bool
}

// New loads the conversation log, reconstructs derived state, starts the run
// loop, and records a session_started event. A log that cannot be loaded or
// decoded fails creation.
func New(ctx context.Context, name string, opts Options) (*Actor, error) {
	o := opts.withDefaults()

	loaded, err := o.Store.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	derived, err := reducer.Reduce(reducer.State{}, loaded...)
	if err != nil {
		return nil, &store.LoadError{Name: name, Err: err}
	}
	// Ephemeral deltas consumed live numbers that never reached the log.
	// Resume numbering past the last persisted position so stored numbers
	// stay strictly monotonic across restarts.
	if n := len(loaded); n > 0 {
		if next := loaded[n-1].EventNumber + 1; next > derived.NextEventNumber {
			derived.NextEventNumber = next
		}
	}

	actx, cancel := context.WithCancel(context.Background())
	a := &Actor{
		name:        name,
		opts:        o,
		log:         o.Logger.With("session", name),
		ctx:         actx,
		cancel:      cancel,
		cmds:        make(chan command, o.MailboxSize),
		turnMsgs:    make(chan turnMsg, o.SubscriberBuffer),
		done:        make(chan struct{}),
		events:      loaded,
		derived:     derived,
		subscribers: make(map[uint64]chan events.Event),
	}
	go a.run()

	if _, err := a.AddEvent(ctx, &events.SessionStarted{LoadedEventCount: len(loaded)}); err != nil {
		a.stopNow()
		return nil, err
	}
	a.log.Info("session attached", "loaded_events", len(loaded))
	return a, nil
}

// Name returns the conversation name.
func (a *Actor) Name() string { return a.name }

// send delivers a command to the run loop.
func (a *Actor) send(ctx context.Context, c command) error {
	select {
	case a.cmds <- c:
		return nil
	case <-a.done:
		return ErrSessionEnded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await reads one reply, giving up when the actor stops first.
func await[T any](ctx context.Context, a *Actor, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-a.done:
		return zero, ErrSessionEnded
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

type addResult struct {
	event events.Event
	err   error
}

type addCmd struct {
	payload events.Payload
	reply   chan addResult
}

// AddEvent ingests one externally-supplied event: the actor stamps identity,
// persists, applies the reducer, and broadcasts. The fully-stamped event is
// returned. A persistence failure leaves in-memory state untouched.
func (a *Actor) AddEvent(ctx context.Context, p events.Payload) (events.Event, error) {
	c := &addCmd{payload: p, reply: make(chan addResult, 1)}
	if err := a.send(ctx, c); err != nil {
		return events.Event{}, err
	}
	res, err := await(ctx, a, c.reply)
	if err != nil {
		return events.Event{}, err
	}
	return res.event, res.err
}

// AddEvents ingests payloads in order, stopping at the first failure.
func (a *Actor) AddEvents(ctx context.Context, ps []events.Payload) ([]events.Event, error) {
	out := make([]events.Event, 0, len(ps))
	for _, p := range ps {
		e, err := a.AddEvent(ctx, p)
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
	return out, nil
}

type subscribeCmd struct {
	reply chan subscription
}

type subscription struct {
	id uint64
	ch chan events.Event
}

// Subscribe attaches a live view of the broadcast: events published strictly
// after this call. The returned cancel must be called to release the
// subscriber; the channel closes on cancel or when the session ends. Slow
// subscribers lose events rather than stalling the actor.
func (a *Actor) Subscribe(ctx context.Context) (<-chan events.Event, func(), error) {
	c := &subscribeCmd{reply: make(chan subscription, 1)}
	if err := a.send(ctx, c); err != nil {
		return nil, nil, err
	}
	sub, err := await(ctx, a, c.reply)
	if err != nil {
		return nil, nil, err
	}
	cancel := func() {
		// Best effort; a stopped actor already closed the channel.
		_ = a.send(context.Background(), &unsubscribeCmd{id: sub.id})
	}
	return sub.ch, cancel, nil
}

type unsubscribeCmd struct {
	id uint64
}

type getEventsCmd struct {
	reply chan []events.Event
}

// GetEvents returns a snapshot of the persisted log.
func (a *Actor) GetEvents(ctx context.Context) ([]events.Event, error) {
	c := &getEventsCmd{reply: make(chan []events.Event, 1)}
	if err := a.send(ctx, c); err != nil {
		return nil, err
	}
	return await(ctx, a, c.reply)
}

type getStateCmd struct {
	reply chan reducer.State
}

// GetState returns a snapshot of the derived state.
func (a *Actor) GetState(ctx context.Context) (reducer.State, error) {
	c := &getStateCmd{reply: make(chan reducer.State, 1)}
	if err := a.send(ctx, c); err != nil {
		return reducer.State{}, err
	}
	return await(ctx, a, c.reply)
}

type isIdleCmd struct {
	reply chan bool
}

// IsIdle reports whether no turn is in flight and none is pending debounce.
func (a *Actor) IsIdle(ctx context.Context) (bool, error) {
	c := &isIdleCmd{reply: make(chan bool, 1)}
	if err := a.send(ctx, c); err != nil {
		return false, err
	}
	return await(ctx, a, c.reply)
}

type interruptCmd struct {
	reply chan struct{}
}

// InterruptTurn cancels any in-flight turn, recording a turn_interrupted
// event with the partial response streamed so far. No-op when idle.
func (a *Actor) InterruptTurn(ctx context.Context) error {
	c := &interruptCmd{reply: make(chan struct{}, 1)}
	if err := a.send(ctx, c); err != nil {
		return err
	}
	_, err := await(ctx, a, c.reply)
	return err
}

type endCmd struct {
	reason string
	reply  chan struct{}
}

// EndSession gracefully stops the actor: cancels any in-flight turn, records
// session_ended best effort, closes all subscribers, and stops the run loop.
// Safe to call more than once.
func (a *Actor) EndSession(ctx context.Context, reason string) error {
	c := &endCmd{reason: reason, reply: make(chan struct{}, 1)}
	if err := a.send(ctx, c); err != nil {
		if errors.Is(err, ErrSessionEnded) {
			return nil
		}
		return err
	}
	select {
	case <-c.reply:
	case <-a.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Done is closed when the actor has fully stopped.
func (a *Actor) Done() <-chan struct{} { return a.done }

// stopNow abandons the actor without the graceful session_ended path. Used
// when creation itself fails.
func (a *Actor) stopNow() {
	_ = a.EndSession(context.Background(), "creation_failed")
}

func fmtTurnError(err error) string {
	var terr *turn.Error
	if errors.As(err, &terr) {
		return terr.Error()
	}
	return fmt.Sprintf("turn failed: %v", err)
}
