package engine

import (
	"context"
	"time"

	"github.com/cerina/foundry/internal/agents"
	"github.com/cerina/foundry/pkg/blackboard"
)

// node identifies a step in the fixed pipeline. Four nodes and a single
// conditional edge do not justify a graph interpreter; the dispatch loop in
// run is the whole routing table.
type node int

const (
	nodeDrafting node = iota
	nodeSafety
	nodeClinical
	nodeSupervisor
)

// run drives the pipeline for one thread until it suspends, finalizes, or
// fails. It is the only goroutine touching this thread's state, which is
// what guarantees strict event production order.
//
// resume is non-nil when this segment continues a suspended run; the value
// is consumed by the first supervisor pass and the human gate is treated as
// already cleared for the rest of the segment.
func (e *Engine) run(ctx context.Context, threadID string, st *blackboard.State, resume *ResumeValue, out chan<- blackboard.Event) {
	defer close(out)
	defer e.release(threadID)

	emit := func(ev blackboard.Event) {
		ev.EmittedAtMs = time.Now().UnixMilli()

		// The durable sink is best-effort relative to the run: a failed
		// append is logged, not fatal. Checkpoints, not events, carry
		// correctness.
		if err := e.client.AppendEvent(ctx, threadID, &ev); err != nil {
			e.logEvent("event_append_failed", map[string]interface{}{
				"thread_id": threadID,
				"error":     err.Error(),
			})
		}

		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}

	emitAgent := func(ev blackboard.AgentEvent) {
		emit(blackboard.Event{Type: blackboard.EventTypeAgent, Agent: &ev})
	}

	// checkpoint merges a node's partial update and flushes the result
	// before the loop advances. A failed flush is fatal for the step: the
	// thread stays at its last persisted snapshot.
	checkpoint := func(upd blackboard.Update) bool {
		merged := blackboard.Apply(*st, upd)
		if err := e.client.SaveState(ctx, threadID, &merged); err != nil {
			e.failRun(ctx, threadID, "checkpoint_failed", err)
			return false
		}
		*st = merged
		return true
	}

	gateCleared := resume != nil

	current := nodeDrafting
	if resume != nil {
		current = nodeSupervisor
	}

	for {
		if ctx.Err() != nil {
			e.failRun(ctx, threadID, "run_cancelled", ctx.Err())
			return
		}

		switch current {
		case nodeDrafting, nodeSafety, nodeClinical:
			var worker agents.Node
			var next node
			switch current {
			case nodeDrafting:
				worker, next = e.drafting, nodeSafety
			case nodeSafety:
				worker, next = e.safety, nodeClinical
			default:
				worker, next = e.clinical, nodeSupervisor
			}

			upd, err := worker.Execute(ctx, *st, emitAgent)
			if err != nil {
				// Agents degrade internally; an error here means the step
				// itself could not run (e.g. cancellation).
				e.failRun(ctx, threadID, "node_failed", err)
				return
			}

			if !checkpoint(upd) {
				return
			}

			snapshot := *st
			emit(blackboard.Event{Type: blackboard.EventTypeState, State: &snapshot})

			current = next

		case nodeSupervisor:
			emitAgent(blackboard.AgentEvent{
				Agent:     NameSupervisor,
				Phase:     blackboard.AgentPhaseStart,
				Iteration: st.Iteration,
			})

			if !gateCleared {
				e.suspendForHuman(ctx, threadID, st, checkpoint, emit, emitAgent)
				return
			}

			upd := e.policy.routeAfterGate(st, resume)
			resume = nil

			if !checkpoint(upd) {
				return
			}

			snapshot := *st
			if st.Decision == blackboard.DecisionIterate {
				emitAgent(blackboard.AgentEvent{
					Agent:     NameSupervisor,
					Phase:     blackboard.AgentPhaseRoute,
					Iteration: st.Iteration,
					Next:      agents.NameDrafting,
				})
				emit(blackboard.Event{Type: blackboard.EventTypeState, State: &snapshot})
				current = nodeDrafting
				continue
			}

			emitAgent(blackboard.AgentEvent{
				Agent:     NameSupervisor,
				Phase:     blackboard.AgentPhaseFinalize,
				Iteration: st.Iteration,
			})
			emit(blackboard.Event{Type: blackboard.EventTypeState, State: &snapshot})

			if st.FinalProtocol == nil {
				// Reached the end of the pass with neither a suspension nor
				// a final protocol: terminal error state for this thread.
				e.failRun(ctx, threadID, "run_ended_without_finalization", nil)
				return
			}

			if err := e.client.SetStatus(ctx, threadID, blackboard.StatusCompleted); err != nil {
				e.logEvent("status_update_failed", map[string]interface{}{
					"thread_id": threadID,
					"error":     err.Error(),
				})
			}

			e.logEvent("run_completed", map[string]interface{}{
				"thread_id": threadID,
				"iteration": st.Iteration,
			})
			return
		}
	}
}

// suspendForHuman opens the one-time human gate: flag the state, persist it,
// durably mark the suspension, and emit the halt - in that order, so a halt
// event is never observable for a thread that cannot be resumed.
func (e *Engine) suspendForHuman(
	ctx context.Context,
	threadID string,
	st *blackboard.State,
	checkpoint func(blackboard.Update) bool,
	emit func(blackboard.Event),
	emitAgent func(blackboard.AgentEvent),
) {
	gateUpd := blackboard.Update{
		HaltedForHuman: blackboard.Bool(true),
		AppendNotes:    []string{"[Supervisor] Halting for human review of current draft."},
		LastAgent:      NameSupervisor,
	}

	if !checkpoint(gateUpd) {
		return
	}

	susp := buildSuspension(st, time.Now().UnixMilli())

	if err := e.client.MarkSuspended(ctx, threadID, susp); err != nil {
		e.failRun(ctx, threadID, "suspension_mark_failed", err)
		return
	}

	if err := e.client.SetStatus(ctx, threadID, blackboard.StatusHaltedForHuman); err != nil {
		e.logEvent("status_update_failed", map[string]interface{}{
			"thread_id": threadID,
			"error":     err.Error(),
		})
	}

	emitAgent(blackboard.AgentEvent{
		Agent:     NameSupervisor,
		Phase:     blackboard.AgentPhaseHalt,
		Iteration: st.Iteration,
	})
	emit(blackboard.Event{Type: blackboard.EventTypeHalt, Halt: susp})

	e.logEvent("run_suspended", map[string]interface{}{
		"thread_id": threadID,
		"iteration": st.Iteration,
	})
}

// failRun records a terminal error state for the thread. The last
// successfully persisted snapshot is left untouched.
func (e *Engine) failRun(ctx context.Context, threadID, reason string, cause error) {
	data := map[string]interface{}{
		"thread_id": threadID,
		"reason":    reason,
	}
	if cause != nil {
		data["error"] = cause.Error()
	}
	e.logEvent("run_failed", data)

	// Status writes here are best effort; the context may already be dead.
	if err := e.client.SetStatus(context.WithoutCancel(ctx), threadID, blackboard.StatusError); err != nil {
		e.logEvent("status_update_failed", map[string]interface{}{
			"thread_id": threadID,
			"error":     err.Error(),
		})
	}
}
