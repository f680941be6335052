// Package agents implements the worker nodes of the protocol pipeline:
// drafting, safety review, and clinical review. Each node is a pure(ish)
// transformation from blackboard state to a partial update - it reads the
// fields it needs, calls the oracle, and returns only the fields it changed,
// emitting start/finish lifecycle events along the way.
//
// Oracle flakiness never aborts the pipeline: invocation failures and
// malformed score payloads degrade to local fallbacks that are visible in
// the audit notes.
package agents

import (
	"context"

	"github.com/cerina/foundry/pkg/blackboard"
)

// Agent names as they appear in events, audit notes, and last_agent.
const (
	NameDrafting = "drafting"
	NameSafety   = "safety_guardian"
	NameClinical = "clinical_critic"
)

// EmitFunc receives a node lifecycle event. The engine supplies it and
// guarantees events are relayed in emission order.
type EmitFunc func(ev blackboard.AgentEvent)

// Node is a single-purpose step in the workflow. Execute must not mutate the
// given state; all changes flow through the returned update.
type Node interface {
	Name() string
	Execute(ctx context.Context, st blackboard.State, emit EmitFunc) (blackboard.Update, error)
}

// noteLimit caps explanations embedded in audit notes.
const noteLimit = 200
