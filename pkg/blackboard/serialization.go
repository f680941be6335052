package blackboard

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Array fields are
// JSON-encoded into single hash fields; optional numeric fields use an empty
// string to mean "absent". This keeps individual scalar fields queryable
// while still supporting the append-only slices.

// StateToHash converts a State struct to a Redis hash format.
// Array fields (draft_versions, notes) are JSON-encoded.
func StateToHash(s *State) (map[string]interface{}, error) {
	draftsJSON, err := json.Marshal(s.DraftVersions)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal draft_versions: %w", err)
	}

	notesJSON, err := json.Marshal(s.Notes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notes: %w", err)
	}

	hash := map[string]interface{}{
		"intent":           s.Intent,
		"current_draft":    s.CurrentDraft,
		"draft_versions":   string(draftsJSON),
		"notes":            string(notesJSON),
		"iteration":        s.Iteration,
		"max_iterations":   s.MaxIterations,
		"last_agent":       s.LastAgent,
		"decision":         string(s.Decision),
		"halted_for_human": s.HaltedForHuman,
	}

	// Optional fields encode absence as the empty string.
	hash["safety_score"] = optionalFloat(s.SafetyScore)
	hash["empathy_score"] = optionalFloat(s.EmpathyScore)
	hash["human_approved_draft"] = optionalString(s.HumanApprovedDraft)
	hash["final_protocol"] = optionalString(s.FinalProtocol)

	return hash, nil
}

// HashToState converts a Redis hash to a State struct.
// JSON fields are decoded back to Go types.
func HashToState(hash map[string]string) (*State, error) {
	iteration, err := strconv.Atoi(hash["iteration"])
	if err != nil {
		return nil, fmt.Errorf("invalid iteration field: %w", err)
	}

	maxIterations, err := strconv.Atoi(hash["max_iterations"])
	if err != nil {
		return nil, fmt.Errorf("invalid max_iterations field: %w", err)
	}

	var drafts []string
	if draftsJSON := hash["draft_versions"]; draftsJSON != "" {
		if err := json.Unmarshal([]byte(draftsJSON), &drafts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal draft_versions: %w", err)
		}
	}

	var notes []string
	if notesJSON := hash["notes"]; notesJSON != "" {
		if err := json.Unmarshal([]byte(notesJSON), &notes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notes: %w", err)
		}
	}

	// Ensure we have empty slices instead of nil for consistency.
	if drafts == nil {
		drafts = []string{}
	}
	if notes == nil {
		notes = []string{}
	}

	safetyScore, err := parseOptionalFloat(hash["safety_score"])
	if err != nil {
		return nil, fmt.Errorf("invalid safety_score field: %w", err)
	}

	empathyScore, err := parseOptionalFloat(hash["empathy_score"])
	if err != nil {
		return nil, fmt.Errorf("invalid empathy_score field: %w", err)
	}

	haltedForHuman := false
	if v := hash["halted_for_human"]; v != "" {
		haltedForHuman, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid halted_for_human field: %w", err)
		}
	}

	state := &State{
		Intent:             hash["intent"],
		CurrentDraft:       hash["current_draft"],
		DraftVersions:      drafts,
		Notes:              notes,
		SafetyScore:        safetyScore,
		EmpathyScore:       empathyScore,
		Iteration:          iteration,
		MaxIterations:      maxIterations,
		LastAgent:          hash["last_agent"],
		Decision:           Decision(hash["decision"]),
		HaltedForHuman:     haltedForHuman,
		HumanApprovedDraft: parseOptionalString(hash["human_approved_draft"]),
		FinalProtocol:      parseOptionalString(hash["final_protocol"]),
	}

	return state, nil
}

func optionalFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseOptionalFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Optional strings use a sentinel prefix-free encoding: the empty string
// means absent. An empty-but-present draft is not meaningful in this domain,
// so the ambiguity is acceptable and round-trips cleanly.
func optionalString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func parseOptionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
