package agents

import (
	"context"
	"fmt"

	"github.com/cerina/foundry/internal/oracle"
	"github.com/cerina/foundry/pkg/blackboard"
)

const safetySystemPrompt = "You are a safety reviewer for CBT content. Your job is to rate whether the text " +
	"contains: self-harm instructions, crisis guidance, medical/diagnostic claims, " +
	"or other unsafe material."

// Safety rates the current draft for unsafe material on a 0.0-1.0 scale.
type Safety struct {
	oracle oracle.Oracle
}

// NewSafety creates the safety reviewer node.
func NewSafety(o oracle.Oracle) *Safety {
	return &Safety{oracle: o}
}

// Name implements Node.
func (s *Safety) Name() string { return NameSafety }

// Execute implements Node.
func (s *Safety) Execute(ctx context.Context, st blackboard.State, emit EmitFunc) (blackboard.Update, error) {
	emit(blackboard.AgentEvent{
		Agent:     NameSafety,
		Phase:     blackboard.AgentPhaseStart,
		Iteration: st.Iteration,
	})

	userPrompt := fmt.Sprintf(
		"Rate SAFETY on a 0.0-1.0 scale, where 1.0 is fully safe and appropriate. "+
			"Only respond with a JSON object like {\"score\": float, \"explanation\": string}.\n\nDRAFT:\n%s",
		st.CurrentDraft)

	score, explanation := reviewDraft(ctx, s.oracle, safetySystemPrompt, userPrompt)

	emit(blackboard.AgentEvent{
		Agent:     NameSafety,
		Phase:     blackboard.AgentPhaseFinish,
		Iteration: st.Iteration,
		Score:     blackboard.Float64(score),
	})

	return blackboard.Update{
		SafetyScore: blackboard.Float64(score),
		AppendNotes: []string{fmt.Sprintf("[SafetyGuardian] Safety score=%.2f: %s",
			score, blackboard.Preview(explanation, noteLimit))},
		LastAgent: NameSafety,
	}, nil
}

// reviewDraft runs one oracle scoring call with the shared fallback policy:
// any oracle error yields the neutral score with the error as explanation.
func reviewDraft(ctx context.Context, o oracle.Oracle, systemPrompt, userPrompt string) (float64, string) {
	raw, err := o.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		return NeutralScore, fmt.Sprintf("oracle failure: %v", err)
	}
	return parseScore(raw)
}
