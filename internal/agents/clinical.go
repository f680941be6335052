package agents

import (
	"context"
	"fmt"

	"github.com/cerina/foundry/internal/oracle"
	"github.com/cerina/foundry/pkg/blackboard"
)

const clinicalSystemPrompt = "You are a senior CBT clinician reviewing protocol drafts. Evaluate empathy, " +
	"clarity, structure, and likely helpfulness for a typical client."

// Clinical rates the current draft for empathy on a 0.0-1.0 scale.
type Clinical struct {
	oracle oracle.Oracle
}

// NewClinical creates the clinical critic node.
func NewClinical(o oracle.Oracle) *Clinical {
	return &Clinical{oracle: o}
}

// Name implements Node.
func (c *Clinical) Name() string { return NameClinical }

// Execute implements Node.
func (c *Clinical) Execute(ctx context.Context, st blackboard.State, emit EmitFunc) (blackboard.Update, error) {
	emit(blackboard.AgentEvent{
		Agent:     NameClinical,
		Phase:     blackboard.AgentPhaseStart,
		Iteration: st.Iteration,
	})

	userPrompt := fmt.Sprintf(
		"Rate EMPATHY on a 0.0-1.0 scale, where 1.0 is maximally empathic and supportive. "+
			"Only respond with a JSON object like {\"score\": float, \"explanation\": string}.\n\nDRAFT:\n%s",
		st.CurrentDraft)

	score, explanation := reviewDraft(ctx, c.oracle, clinicalSystemPrompt, userPrompt)

	emit(blackboard.AgentEvent{
		Agent:     NameClinical,
		Phase:     blackboard.AgentPhaseFinish,
		Iteration: st.Iteration,
		Score:     blackboard.Float64(score),
	})

	return blackboard.Update{
		EmpathyScore: blackboard.Float64(score),
		AppendNotes: []string{fmt.Sprintf("[ClinicalCritic] Empathy score=%.2f: %s",
			score, blackboard.Preview(explanation, noteLimit))},
		LastAgent: NameClinical,
	}, nil
}
