package blackboard

import "fmt"

// EventType tags an observable engine event. The set is closed: every engine
// step yields exactly one of these, in strict production order.
type EventType string

const (
	// EventTypeAgent is a node lifecycle notification (start/finish plus
	// node-specific payload).
	EventTypeAgent EventType = "agent_event"

	// EventTypeState is a full blackboard snapshot taken immediately after a
	// node's update has been merged and checkpointed.
	EventTypeState EventType = "state"

	// EventTypeHalt is emitted exactly once per suspension, carrying the
	// suspend request payload. The caller must later resume the thread.
	EventTypeHalt EventType = "halt"
)

// Validate checks if the EventType is a valid enum value.
func (et EventType) Validate() error {
	switch et {
	case EventTypeAgent, EventTypeState, EventTypeHalt:
		return nil
	default:
		return fmt.Errorf("unknown event type: %q", et)
	}
}

// AgentPhase marks where in its lifecycle a node event was emitted.
type AgentPhase string

const (
	// AgentPhaseStart is emitted before the node calls the oracle.
	AgentPhaseStart AgentPhase = "start"

	// AgentPhaseFinish is emitted after the node's output has been produced.
	AgentPhaseFinish AgentPhase = "finish"

	// AgentPhaseRoute is emitted by the supervisor when it routes the run
	// back to the drafting agent.
	AgentPhaseRoute AgentPhase = "route"

	// AgentPhaseFinalize is emitted by the supervisor when it terminates the
	// run with a final protocol.
	AgentPhaseFinalize AgentPhase = "finalize"

	// AgentPhaseHalt is emitted by the supervisor just before the run
	// suspends for human review.
	AgentPhaseHalt AgentPhase = "halt_for_human"
)

// AgentEvent is the payload of an agent_event. Optional fields are only set
// where they make sense for the emitting node: DraftPreview/Version on
// drafting finish, Score on reviewer finish, Next on supervisor routing.
type AgentEvent struct {
	Agent        string     `json:"agent"`
	Phase        AgentPhase `json:"phase"`
	Iteration    int        `json:"iteration"`
	DraftPreview string     `json:"draft_preview,omitempty"`
	Version      *int       `json:"version,omitempty"`
	Score        *float64   `json:"score,omitempty"`
	Next         string     `json:"next,omitempty"`
}

// Event is one tagged entry in a thread's event stream. Exactly one of the
// payload fields is set, matching Type.
type Event struct {
	Type        EventType   `json:"type"`
	Agent       *AgentEvent `json:"agent_event,omitempty"`
	State       *State      `json:"state,omitempty"`
	Halt        *Suspension `json:"halt,omitempty"`
	EmittedAtMs int64       `json:"emitted_at_ms"`
}

// Validate checks that the event is well-formed: a known type with the
// matching payload present and the others absent.
func (e *Event) Validate() error {
	if err := e.Type.Validate(); err != nil {
		return err
	}

	switch e.Type {
	case EventTypeAgent:
		if e.Agent == nil {
			return fmt.Errorf("agent_event payload missing")
		}
	case EventTypeState:
		if e.State == nil {
			return fmt.Errorf("state payload missing")
		}
	case EventTypeHalt:
		if e.Halt == nil {
			return fmt.Errorf("halt payload missing")
		}
	}

	return nil
}

// DraftPreviewLen caps the draft text carried inside events. Full drafts live
// on the blackboard; events carry a readable preview.
const DraftPreviewLen = 400

// Preview truncates text to at most n characters for inclusion in events and
// audit notes. Truncation is rune-safe.
func Preview(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
