package agents

import (
	"context"
	"fmt"

	"github.com/cerina/foundry/internal/oracle"
	"github.com/cerina/foundry/pkg/blackboard"
)

const draftingSystemPrompt = "You are a CBT protocol designer. Generate concrete, structured CBT exercises " +
	"(with steps, homework suggestions, and reflection prompts). Always be empathetic, " +
	"non-judgmental, and avoid medical claims or crisis guidance."

// Drafting produces or revises the candidate protocol draft. Prior reviewer
// scores, when present, are folded into the prompt as refinement hints.
type Drafting struct {
	oracle oracle.Oracle
}

// NewDrafting creates the drafting node.
func NewDrafting(o oracle.Oracle) *Drafting {
	return &Drafting{oracle: o}
}

// Name implements Node.
func (d *Drafting) Name() string { return NameDrafting }

// Execute implements Node. An oracle failure degrades to a placeholder draft
// so the pipeline keeps moving; the failure is visible in the audit note.
func (d *Drafting) Execute(ctx context.Context, st blackboard.State, emit EmitFunc) (blackboard.Update, error) {
	emit(blackboard.AgentEvent{
		Agent:     NameDrafting,
		Phase:     blackboard.AgentPhaseStart,
		Iteration: st.Iteration,
	})

	refinement := ""
	if st.CurrentDraft != "" {
		refinement += "You are revising a previous draft based on internal reviewer feedback.\n\n"
	}
	if st.SafetyScore != nil {
		refinement += fmt.Sprintf("Safety score from Safety Guardian: %.2f.\n", *st.SafetyScore)
	}
	if st.EmpathyScore != nil {
		refinement += fmt.Sprintf("Empathy score from Clinical Critic: %.2f.\n", *st.EmpathyScore)
	}

	previous := st.CurrentDraft
	if previous == "" {
		previous = "None"
	}

	userPrompt := fmt.Sprintf(
		"USER INTENT: %s\n\nREFINEMENT CONTEXT: %s\n\nPREVIOUS DRAFT (if any):\n%s\n\n"+
			"Please produce a single CBT exercise or small protocol tailored to the intent, "+
			"using clear headings and numbered steps.",
		st.Intent, refinement, previous)

	note := "[DraftingAgent] Produced/updated draft."

	draft, err := d.oracle.Generate(ctx, draftingSystemPrompt, userPrompt)
	if err != nil {
		draft = fmt.Sprintf("[DRAFT UNAVAILABLE]\nThe drafting oracle failed for intent: %s", st.Intent)
		note = fmt.Sprintf("[DraftingAgent] Oracle failure, using placeholder draft: %s",
			blackboard.Preview(err.Error(), noteLimit))
	}

	versionIndex := len(st.DraftVersions)

	emit(blackboard.AgentEvent{
		Agent:        NameDrafting,
		Phase:        blackboard.AgentPhaseFinish,
		Iteration:    st.Iteration,
		DraftPreview: blackboard.Preview(draft, blackboard.DraftPreviewLen),
		Version:      blackboard.Int(versionIndex),
	})

	return blackboard.Update{
		CurrentDraft: blackboard.String(draft),
		AppendDrafts: []string{draft},
		AppendNotes:  []string{note},
		LastAgent:    NameDrafting,
	}, nil
}
