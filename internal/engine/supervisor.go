package engine

import (
	"fmt"

	"github.com/cerina/foundry/pkg/blackboard"
)

// NameSupervisor is the supervisor's agent name in events and audit notes.
const NameSupervisor = "supervisor"

// Policy holds the supervisor's tunable routing constants. The thresholds
// and ceiling are policy, not structure: changing them never changes the
// shape of the state machine.
type Policy struct {
	SafetyThreshold  float64
	EmpathyThreshold float64
}

// DefaultPolicy returns the stock 0.8/0.8 quality thresholds.
func DefaultPolicy() Policy {
	return Policy{SafetyThreshold: 0.8, EmpathyThreshold: 0.8}
}

// ResumeValue is the externally supplied input a suspended run is waiting
// for. An empty ApprovedDraft means the human resumed without editing; the
// existing draft is kept.
type ResumeValue struct {
	ApprovedDraft string
}

// buildSuspension constructs the halt payload presented to the human
// reviewer: the draft under review plus everything needed to judge it.
func buildSuspension(st *blackboard.State, nowMs int64) *blackboard.Suspension {
	safety, empathy := scoresOf(st)
	notes := make([]string, len(st.Notes))
	copy(notes, st.Notes)

	return &blackboard.Suspension{
		Type:          blackboard.SuspensionTypeHumanReview,
		Node:          NameSupervisor,
		Draft:         st.CurrentDraft,
		Iteration:     st.Iteration,
		SafetyScore:   safety,
		EmpathyScore:  empathy,
		Notes:         notes,
		RequestedAtMs: nowMs,
	}
}

// routeAfterGate is the supervisor's post-gate half: fold in the resume
// value (if this pass follows a resume), advance the iteration counter, and
// decide between another refinement cycle and finalization.
func (p Policy) routeAfterGate(st *blackboard.State, resume *ResumeValue) blackboard.Update {
	upd := blackboard.Update{
		LastAgent:      NameSupervisor,
		HaltedForHuman: blackboard.Bool(false),
	}

	if resume != nil {
		if resume.ApprovedDraft != "" {
			upd.HumanApprovedDraft = blackboard.String(resume.ApprovedDraft)
			upd.CurrentDraft = blackboard.String(resume.ApprovedDraft)
			upd.AppendNotes = append(upd.AppendNotes, "[Supervisor] Human provided an edited draft.")
		} else {
			upd.AppendNotes = append(upd.AppendNotes,
				"[Supervisor] Human resume did not include an approved draft; keeping existing draft.")
		}
	}

	// Iteration counts refinement cycles past the human gate, incremented
	// exactly once per supervisor pass.
	iteration := st.Iteration + 1
	upd.Iteration = blackboard.Int(iteration)

	safety, empathy := scoresOf(st)
	needsMoreWork := (safety < p.SafetyThreshold || empathy < p.EmpathyThreshold) &&
		iteration < st.MaxIterations

	if needsMoreWork {
		upd.Decision = blackboard.DecisionPtr(blackboard.DecisionIterate)
		upd.AppendNotes = append(upd.AppendNotes,
			"[Supervisor] Scores below threshold; requesting another drafting pass.")
		return upd
	}

	final := st.CurrentDraft
	if resume != nil && resume.ApprovedDraft != "" {
		final = resume.ApprovedDraft
	}

	upd.Decision = blackboard.DecisionPtr(blackboard.DecisionFinalize)
	upd.FinalProtocol = blackboard.String(final)
	upd.AppendNotes = append(upd.AppendNotes,
		fmt.Sprintf("[Supervisor] Finalizing protocol after human approval (iteration %d).", iteration))
	return upd
}

// scoresOf reads the reviewer scores, treating not-yet-computed as 0.0 so an
// unscored draft can never slip past the thresholds.
func scoresOf(st *blackboard.State) (safety, empathy float64) {
	if st.SafetyScore != nil {
		safety = *st.SafetyScore
	}
	if st.EmpathyScore != nil {
		empathy = *st.EmpathyScore
	}
	return safety, empathy
}
