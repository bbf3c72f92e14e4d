package actor

import (
	"context"
	"time"

	"github.com/codeready-toolchain/miniagent/pkg/events"
	"github.com/codeready-toolchain/miniagent/pkg/reducer"
	"github.com/codeready-toolchain/miniagent/pkg/turn"
)

// run is the actor's single consumer. Every state mutation happens here.
func (a *Actor) run() {
	for {
		// The timer channel is nil while no debounce is armed; a nil
		// channel never fires in a select.
		var quiet <-chan time.Time
		if a.debounceTimer != nil {
			quiet = a.debounceTimer.C
		}

		select {
		case c := <-a.cmds:
			c.handle(a)
			if _, stopping := c.(*endCmd); stopping {
				return
			}
		case m := <-a.turnMsgs:
			a.handleTurnMsg(m)
		case <-quiet:
			a.debounceTimer = nil
			a.startTurn()
		}
	}
}

// ingest stamps, persists, applies, and broadcasts one durable event. On a
// store failure nothing is applied and nothing is broadcast.
func (a *Actor) ingest(p events.Payload, parentID string) (events.Event, error) {
	e := events.New(a.name, a.derived.NextEventNumber, parentID, p)

	// Reduce on the side first so an unreducible event is rejected before
	// it reaches the log.
	next, err := reducer.Reduce(a.derived, e)
	if err != nil {
		return events.Event{}, err
	}
	if err := a.opts.Store.Append(a.ctx, a.name, []events.Event{e}); err != nil {
		return events.Event{}, err
	}

	a.events = append(a.events, e)
	a.derived = next
	a.publish(e)
	return e, nil
}

// publish fans an event out to every live subscriber without blocking: a
// full subscriber buffer drops the event for that subscriber only.
func (a *Actor) publish(e events.Event) {
	for id, ch := range a.subscribers {
		select {
		case ch <- e:
		default:
			a.log.Warn("dropping event for slow subscriber",
				"subscriber", id,
				"event_type", e.Type,
				"event_number", e.EventNumber)
		}
	}
}

func (c *addCmd) handle(a *Actor) {
	triggers := c.payload.EventType() == events.TypeUserMessage

	// A triggering event lands mid-turn: interrupt first so the
	// turn_interrupted marker precedes the new input in the log.
	if triggers && a.currentTurn != nil {
		a.interrupt(events.ReasonNewInput)
	}

	e, err := a.ingest(c.payload, "")
	c.reply <- addResult{event: e, err: err}
	if err != nil {
		return
	}
	if e.TriggersTurn() {
		a.armDebounce()
	}
}

// armDebounce starts or resets the quiet-period timer.
func (a *Actor) armDebounce() {
	if a.debounceTimer != nil {
		a.debounceTimer.Stop()
	}
	a.debounceTimer = time.NewTimer(a.opts.Debounce)
}

func (c *subscribeCmd) handle(a *Actor) {
	a.nextSubID++
	ch := make(chan events.Event, a.opts.SubscriberBuffer)
	a.subscribers[a.nextSubID] = ch
	c.reply <- subscription{id: a.nextSubID, ch: ch}
}

func (c *unsubscribeCmd) handle(a *Actor) {
	if ch, ok := a.subscribers[c.id]; ok {
		delete(a.subscribers, c.id)
		close(ch)
	}
}

func (c *getEventsCmd) handle(a *Actor) {
	snapshot := make([]events.Event, len(a.events))
	copy(snapshot, a.events)
	c.reply <- snapshot
}

func (c *getStateCmd) handle(a *Actor) {
	st := a.derived
	if st.LLMConfig != nil {
		cfg := *st.LLMConfig
		st.LLMConfig = &cfg
	}
	c.reply <- st
}

func (c *isIdleCmd) handle(a *Actor) {
	c.reply <- a.currentTurn == nil && a.debounceTimer == nil
}

func (c *interruptCmd) handle(a *Actor) {
	a.interrupt(events.ReasonRequested)
	c.reply <- struct{}{}
}

func (c *endCmd) handle(a *Actor) {
	if a.currentTurn != nil {
		a.interrupt(events.ReasonSessionEnded)
	}
	if a.debounceTimer != nil {
		a.debounceTimer.Stop()
		a.debounceTimer = nil
	}
	if _, err := a.ingest(&events.SessionEnded{Reason: c.reason}, ""); err != nil {
		a.log.Warn("failed to persist session_ended", "error", err)
	}
	for id, ch := range a.subscribers {
		delete(a.subscribers, id)
		close(ch)
	}
	a.cancel()
	close(a.done)
	a.log.Info("session ended", "reason", c.reason)
	c.reply <- struct{}{}
}

// interrupt cancels the in-flight turn and records the interruption through
// the normal ingest path. Late chunks from the cancelled turn carry a stale
// turn number and are discarded by handleTurnMsg.
func (a *Actor) interrupt(reason string) {
	ct := a.currentTurn
	if ct == nil {
		return
	}
	ct.cancel()
	a.currentTurn = nil

	marker := &events.TurnInterrupted{
		TurnNumber:      ct.number,
		PartialResponse: string(ct.partial),
		Reason:          reason,
	}
	if _, err := a.ingest(marker, ct.startedID); err != nil {
		a.log.Error("failed to record turn interruption", "turn", ct.number, "error", err)
	}
}

// startTurn opens the next turn and hands the stream to a goroutine that
// feeds chunks back through turnMsgs.
func (a *Actor) startTurn() {
	if a.currentTurn != nil {
		return
	}
	a.turnCounter++
	number := a.turnCounter

	started, err := a.ingest(&events.TurnStarted{TurnNumber: number}, "")
	if err != nil {
		a.log.Error("failed to record turn start", "turn", number, "error", err)
		a.turnCounter--
		return
	}

	tctx, cancel := context.WithCancel(a.ctx)
	a.currentTurn = &turnHandle{
		number:    number,
		startedID: started.ID,
		startedAt: time.Now(),
		cancel:    cancel,
	}

	snapshot := a.derived
	go func() {
		ch, err := a.opts.Turns.Execute(tctx, snapshot)
		if err != nil {
			a.sendTurnMsg(turnMsg{turn: number, err: err, done: true})
			return
		}
		for chunk := range ch {
			a.sendTurnMsg(turnMsg{turn: number, chunk: chunk})
		}
		a.sendTurnMsg(turnMsg{turn: number, done: true})
	}()
}

func (a *Actor) sendTurnMsg(m turnMsg) {
	select {
	case a.turnMsgs <- m:
	case <-a.ctx.Done():
	}
}

func (a *Actor) handleTurnMsg(m turnMsg) {
	ct := a.currentTurn
	if ct == nil || ct.number != m.turn {
		return
	}

	if m.err != nil {
		a.finishTurn(&events.TurnFailed{TurnNumber: ct.number, Error: fmtTurnError(m.err)}, ct)
		return
	}
	if m.done {
		// The stream closed without a final message or error chunk.
		a.finishTurn(&events.TurnFailed{TurnNumber: ct.number, Error: "stream ended without final message"}, ct)
		return
	}

	switch chunk := m.chunk.(type) {
	case *turn.TextChunk:
		a.handleDelta(ct, chunk.Delta)
	case *turn.MessageChunk:
		reply := &events.AssistantMessage{Content: chunk.Content}
		if _, err := a.ingest(reply, ct.startedID); err != nil {
			a.log.Error("failed to persist assistant message", "turn", ct.number, "error", err)
			a.finishTurn(&events.TurnFailed{TurnNumber: ct.number, Error: fmtTurnError(err)}, ct)
			return
		}
		duration := time.Since(ct.startedAt).Milliseconds()
		a.finishTurn(&events.TurnCompleted{TurnNumber: ct.number, DurationMS: duration}, ct)
	case *turn.ErrorChunk:
		a.finishTurn(&events.TurnFailed{TurnNumber: ct.number, Error: chunk.Message}, ct)
	}
}

// handleDelta broadcasts one streamed span. Deltas are ephemeral: counted in
// next_event_number and fanned out, never persisted.
func (a *Actor) handleDelta(ct *turnHandle, delta string) {
	e := events.New(a.name, a.derived.NextEventNumber, ct.startedID, &events.TextDelta{Delta: delta})
	next, err := reducer.Reduce(a.derived, e)
	if err != nil {
		a.log.Error("failed to count text delta", "turn", ct.number, "error", err)
		return
	}
	a.derived = next
	ct.partial = append(ct.partial, delta...)
	a.publish(e)
}

// finishTurn records the terminal event and releases the turn handle.
func (a *Actor) finishTurn(terminal events.Payload, ct *turnHandle) {
	ct.cancel()
	a.currentTurn = nil
	if _, err := a.ingest(terminal, ct.startedID); err != nil {
		a.log.Error("failed to record turn terminal", "turn", ct.number, "error", err)
	}
}
