package blackboard

import (
	"fmt"

	"github.com/google/uuid"
)

// State is the blackboard: the sole cross-node state object for one run,
// keyed by thread id. Nodes never mutate it directly - each node returns an
// Update which the engine merges via Apply before checkpointing.
type State struct {
	// Intent is the user's goal. Set once at creation, immutable afterwards.
	Intent string `json:"intent"`

	// CurrentDraft is the latest candidate protocol text. Overwritten by the
	// drafting agent or by a human-approved edit.
	CurrentDraft string `json:"current_draft"`

	// DraftVersions is the append-only history of every draft ever produced,
	// in creation order. Never reordered, never truncated.
	DraftVersions []string `json:"draft_versions"`

	// Notes is the append-only audit trail, one entry per node execution.
	Notes []string `json:"notes"`

	// SafetyScore and EmpathyScore are the latest evaluations in [0.0, 1.0].
	// Nil until first computed by their respective reviewer nodes.
	SafetyScore  *float64 `json:"safety_score,omitempty"`
	EmpathyScore *float64 `json:"empathy_score,omitempty"`

	// Iteration counts completed refinement cycles past the human gate.
	// Starts at 0 and never decreases.
	Iteration int `json:"iteration"`

	// MaxIterations is the caller-supplied ceiling on refinement cycles.
	// Immutable for the run.
	MaxIterations int `json:"max_iterations"`

	// LastAgent names the most recently completed node. Diagnostic only.
	LastAgent string `json:"last_agent"`

	// Decision is the supervisor's latest routing verdict. Transient,
	// recomputed on every supervisor pass.
	Decision Decision `json:"decision"`

	// HaltedForHuman is true while the run is suspended awaiting human
	// review. The gate opens at most once per run.
	HaltedForHuman bool `json:"halted_for_human"`

	// HumanApprovedDraft is the draft text supplied by a human on resume.
	// Nil until a resume carries one.
	HumanApprovedDraft *string `json:"human_approved_draft,omitempty"`

	// FinalProtocol is the terminal artifact. Nil until the supervisor
	// decides to finalize; once set it is immutable and the run is complete.
	FinalProtocol *string `json:"final_protocol,omitempty"`
}

// DefaultMaxIterations is the refinement ceiling applied when the caller does
// not supply one.
const DefaultMaxIterations = 3

// NewState creates a fresh blackboard for a new run.
// A maxIterations of zero or less falls back to DefaultMaxIterations.
func NewState(intent string, maxIterations int) *State {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	return &State{
		Intent:        intent,
		DraftVersions: []string{},
		Notes:         []string{},
		MaxIterations: maxIterations,
	}
}

// Decision is the supervisor's routing verdict.
type Decision string

const (
	// DecisionNone means the supervisor has not yet ruled on this state.
	DecisionNone Decision = ""

	// DecisionIterate routes the run back to the drafting agent.
	DecisionIterate Decision = "iterate_again"

	// DecisionFinalize terminates the run with the current draft as the
	// final protocol.
	DecisionFinalize Decision = "finalize"
)

// Validate checks if the Decision is a valid enum value.
func (d Decision) Validate() error {
	switch d {
	case DecisionNone, DecisionIterate, DecisionFinalize:
		return nil
	default:
		return fmt.Errorf("unknown decision: %q", d)
	}
}

// Status is the coarse lifecycle state of a run, persisted per thread so the
// control surfaces can tell a suspended run from a failed one.
type Status string

const (
	StatusCreated        Status = "created"
	StatusRunning        Status = "running"
	StatusHaltedForHuman Status = "halted_for_human"
	StatusCompleted      Status = "completed"
	StatusError          Status = "error"
)

// Validate checks if the Status is a valid enum value.
func (s Status) Validate() error {
	switch s {
	case StatusCreated, StatusRunning, StatusHaltedForHuman, StatusCompleted, StatusError:
		return nil
	default:
		return fmt.Errorf("unknown status: %q", s)
	}
}

// Suspension records a durable suspend point: which node is pending and what
// payload it is waiting on. Exactly one suspension may be pending per thread.
type Suspension struct {
	Type          string   `json:"type"` // always "human_review_request"
	Node          string   `json:"node"` // the pending node, e.g. "supervisor"
	Draft         string   `json:"draft"`
	Iteration     int      `json:"iteration"`
	SafetyScore   float64  `json:"safety_score"`
	EmpathyScore  float64  `json:"empathy_score"`
	Notes         []string `json:"notes"`
	RequestedAtMs int64    `json:"requested_at_ms"`
}

// SuspensionTypeHumanReview is the only suspension type the engine emits.
const SuspensionTypeHumanReview = "human_review_request"

// Validate checks if the State has valid field values.
func (s *State) Validate() error {
	if s.Intent == "" {
		return fmt.Errorf("intent cannot be empty")
	}

	if s.Iteration < 0 {
		return fmt.Errorf("invalid iteration: must be >= 0, got %d", s.Iteration)
	}

	if s.MaxIterations < 1 {
		return fmt.Errorf("invalid max_iterations: must be >= 1, got %d", s.MaxIterations)
	}

	if err := s.Decision.Validate(); err != nil {
		return fmt.Errorf("invalid decision: %w", err)
	}

	if s.SafetyScore != nil && (*s.SafetyScore < 0.0 || *s.SafetyScore > 1.0) {
		return fmt.Errorf("invalid safety_score: must be in [0.0, 1.0], got %v", *s.SafetyScore)
	}

	if s.EmpathyScore != nil && (*s.EmpathyScore < 0.0 || *s.EmpathyScore > 1.0) {
		return fmt.Errorf("invalid empathy_score: must be in [0.0, 1.0], got %v", *s.EmpathyScore)
	}

	if s.FinalProtocol != nil && s.Decision != DecisionFinalize {
		return fmt.Errorf("final_protocol set but decision is %q, not %q", s.Decision, DecisionFinalize)
	}

	return nil
}

// Validate checks if the Suspension has valid field values.
func (sp *Suspension) Validate() error {
	if sp.Type != SuspensionTypeHumanReview {
		return fmt.Errorf("unknown suspension type: %q", sp.Type)
	}
	if sp.Node == "" {
		return fmt.Errorf("suspension node cannot be empty")
	}
	return nil
}

// NewThreadID mints a thread identifier for a new run.
func NewThreadID() string {
	return uuid.New().String()
}

// IsValidThreadID checks if a string is a valid thread id (UUID format).
func IsValidThreadID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
