// Package engine drives the protocol workflow: a fixed pipeline of
// drafting, safety review, clinical review, and a supervisor that enforces
// the one-time mandatory human-approval suspension before finalization.
//
// The engine is an explicit dispatch loop over four node identifiers - there
// is deliberately no generic graph interpreter here. Suspension is an
// explicit state machine transition, not a captured continuation: the engine
// persists which node is pending and what payload it is waiting for, and
// Resume feeds the externally supplied value back into that exact step.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cerina/foundry/internal/agents"
	"github.com/cerina/foundry/internal/oracle"
	"github.com/cerina/foundry/pkg/blackboard"
)

// Engine executes protocol runs against a blackboard client, with all
// collaborators injected: the oracle the agents call, the Redis-backed
// checkpoint store, and the event sink (both owned by the client).
type Engine struct {
	client   *blackboard.Client
	drafting agents.Node
	safety   agents.Node
	clinical agents.Node
	policy   Policy

	// inflight guards against overlapping executions for the same thread
	// id within this process. Runs for distinct threads proceed
	// concurrently; nothing here is held across oracle calls.
	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates an engine with the given collaborators.
func New(client *blackboard.Client, o oracle.Oracle, policy Policy) *Engine {
	return &Engine{
		client:   client,
		drafting: agents.NewDrafting(o),
		safety:   agents.NewSafety(o),
		clinical: agents.NewClinical(o),
		policy:   policy,
		inflight: make(map[string]struct{}),
	}
}

// CreateThread mints a new thread id, checkpoints a fresh blackboard for it,
// and registers it in the instance's thread index. The run is not started.
func (e *Engine) CreateThread(ctx context.Context, intent string, maxIterations int) (string, error) {
	if intent == "" {
		return "", ErrEmptyIntent
	}

	threadID := blackboard.NewThreadID()
	state := blackboard.NewState(intent, maxIterations)

	if err := e.client.SaveState(ctx, threadID, state); err != nil {
		return "", fmt.Errorf("failed to checkpoint initial state: %w", err)
	}
	if err := e.client.SetStatus(ctx, threadID, blackboard.StatusCreated); err != nil {
		return "", fmt.Errorf("failed to set initial status: %w", err)
	}
	if err := e.client.RegisterThread(ctx, threadID, time.Now()); err != nil {
		return "", fmt.Errorf("failed to register thread: %w", err)
	}

	return threadID, nil
}

// Start begins a run from a fresh blackboard for the given thread id and
// returns the run's event stream. The channel is closed when the run
// suspends for human review, completes, or fails. Restarting an existing
// thread resets it to a fresh state.
//
// Returns ErrRunInFlight if an execution for this thread id is already in
// flight.
func (e *Engine) Start(ctx context.Context, threadID, intent string, maxIterations int) (<-chan blackboard.Event, error) {
	if intent == "" {
		return nil, ErrEmptyIntent
	}
	if threadID == "" {
		return nil, fmt.Errorf("thread id cannot be empty")
	}

	if !e.acquire(threadID) {
		return nil, ErrRunInFlight
	}

	state := blackboard.NewState(intent, maxIterations)

	if err := e.client.SaveState(ctx, threadID, state); err != nil {
		e.release(threadID)
		return nil, fmt.Errorf("failed to checkpoint initial state: %w", err)
	}
	if err := e.client.RegisterThread(ctx, threadID, time.Now()); err != nil {
		e.release(threadID)
		return nil, fmt.Errorf("failed to register thread: %w", err)
	}
	if err := e.client.SetStatus(ctx, threadID, blackboard.StatusRunning); err != nil {
		e.release(threadID)
		return nil, fmt.Errorf("failed to set status: %w", err)
	}

	e.logEvent("run_started", map[string]interface{}{
		"thread_id":      threadID,
		"max_iterations": state.MaxIterations,
	})

	out := make(chan blackboard.Event, 16)
	go e.run(ctx, threadID, state, nil, out)

	return out, nil
}

// Resume continues a previously suspended run, supplying the externally
// provided resume value to the suspended supervisor step, and returns the
// resumed segment's event stream.
//
// Returns ErrThreadNotFound if the thread has no checkpointed state and
// ErrNothingToResume if no suspension is pending. The pending suspension is
// claimed atomically, so of two concurrent resumes exactly one proceeds.
func (e *Engine) Resume(ctx context.Context, threadID, approvedDraft string) (<-chan blackboard.Event, error) {
	if !e.acquire(threadID) {
		return nil, ErrRunInFlight
	}

	state, err := e.client.LoadState(ctx, threadID)
	if err != nil {
		e.release(threadID)
		if blackboard.IsNotFound(err) {
			return nil, ErrThreadNotFound
		}
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	if _, err := e.client.TakeSuspension(ctx, threadID); err != nil {
		e.release(threadID)
		if blackboard.IsNotFound(err) {
			return nil, ErrNothingToResume
		}
		return nil, fmt.Errorf("failed to claim suspension: %w", err)
	}

	if err := e.client.SetStatus(ctx, threadID, blackboard.StatusRunning); err != nil {
		e.release(threadID)
		return nil, fmt.Errorf("failed to set status: %w", err)
	}

	e.logEvent("run_resumed", map[string]interface{}{
		"thread_id":          threadID,
		"has_approved_draft": approvedDraft != "",
	})

	out := make(chan blackboard.Event, 16)
	go e.run(ctx, threadID, state, &ResumeValue{ApprovedDraft: approvedDraft}, out)

	return out, nil
}

// State returns the last checkpointed snapshot for a thread, its pending
// suspension (nil if none), and its run status.
func (e *Engine) State(ctx context.Context, threadID string) (*blackboard.State, *blackboard.Suspension, blackboard.Status, error) {
	state, err := e.client.LoadState(ctx, threadID)
	if err != nil {
		if blackboard.IsNotFound(err) {
			return nil, nil, "", ErrThreadNotFound
		}
		return nil, nil, "", fmt.Errorf("failed to load state: %w", err)
	}

	susp, err := e.client.PendingSuspension(ctx, threadID)
	if err != nil && !blackboard.IsNotFound(err) {
		return nil, nil, "", fmt.Errorf("failed to read suspension: %w", err)
	}

	status, err := e.client.GetStatus(ctx, threadID)
	if err != nil && !blackboard.IsNotFound(err) {
		return nil, nil, "", fmt.Errorf("failed to read status: %w", err)
	}

	return state, susp, status, nil
}

// acquire registers a thread id as in flight. Returns false if an execution
// is already running for it.
func (e *Engine) acquire(threadID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, busy := e.inflight[threadID]; busy {
		return false
	}
	e.inflight[threadID] = struct{}{}
	return true
}

func (e *Engine) release(threadID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, threadID)
}

// logEvent logs a structured event in JSON format.
func (e *Engine) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "engine"
	data["event_type"] = eventType
	data["instance"] = e.client.InstanceName()

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Engine] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
