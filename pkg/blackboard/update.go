package blackboard

// Update is the partial-state change a single node returns. Only the fields a
// node actually changed are set; everything else retains its prior value when
// the update is merged by Apply. Append-only fields (drafts, notes) are
// expressed as appends rather than replacements so history is never lost.
type Update struct {
	CurrentDraft       *string
	AppendDrafts       []string
	AppendNotes        []string
	SafetyScore        *float64
	EmpathyScore       *float64
	Iteration          *int
	LastAgent          string
	Decision           *Decision
	HaltedForHuman     *bool
	HumanApprovedDraft *string
	FinalProtocol      *string
}

// Apply merges a partial update into a state and returns the new state.
// This is the single reducer through which every node output flows.
//
// Merge rules:
//   - unset (nil/empty) fields keep the prior value
//   - AppendDrafts/AppendNotes append, never replace
//   - Iteration never decreases, whatever the update says
//   - FinalProtocol, once set, is never overwritten
func Apply(s State, u Update) State {
	// Copy append-only slices so callers holding the old state are unaffected.
	drafts := make([]string, 0, len(s.DraftVersions)+len(u.AppendDrafts))
	drafts = append(drafts, s.DraftVersions...)
	drafts = append(drafts, u.AppendDrafts...)
	s.DraftVersions = drafts

	notes := make([]string, 0, len(s.Notes)+len(u.AppendNotes))
	notes = append(notes, s.Notes...)
	notes = append(notes, u.AppendNotes...)
	s.Notes = notes

	if u.CurrentDraft != nil {
		s.CurrentDraft = *u.CurrentDraft
	}
	if u.SafetyScore != nil {
		s.SafetyScore = u.SafetyScore
	}
	if u.EmpathyScore != nil {
		s.EmpathyScore = u.EmpathyScore
	}
	if u.Iteration != nil && *u.Iteration > s.Iteration {
		s.Iteration = *u.Iteration
	}
	if u.LastAgent != "" {
		s.LastAgent = u.LastAgent
	}
	if u.Decision != nil {
		s.Decision = *u.Decision
	}
	if u.HaltedForHuman != nil {
		s.HaltedForHuman = *u.HaltedForHuman
	}
	if u.HumanApprovedDraft != nil {
		s.HumanApprovedDraft = u.HumanApprovedDraft
	}
	if u.FinalProtocol != nil && s.FinalProtocol == nil {
		s.FinalProtocol = u.FinalProtocol
	}

	return s
}

// Float64 returns a pointer to v. Helper for building updates.
func Float64(v float64) *float64 { return &v }

// String returns a pointer to v. Helper for building updates.
func String(v string) *string { return &v }

// Int returns a pointer to v. Helper for building updates.
func Int(v int) *int { return &v }

// Bool returns a pointer to v. Helper for building updates.
func Bool(v bool) *bool { return &v }

// DecisionPtr returns a pointer to d. Helper for building updates.
func DecisionPtr(d Decision) *Decision { return &d }
