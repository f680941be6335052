package agents

import "encoding/json"

// NeutralScore is the fallback applied whenever the oracle's verdict cannot
// be parsed into a usable score. It deliberately sits below the supervisor's
// quality thresholds so a flaky oracle biases toward another refinement pass
// rather than premature finalization.
const NeutralScore = 0.5

type scoreVerdict struct {
	Score       *float64 `json:"score"`
	Explanation string   `json:"explanation"`
}

// parseScore extracts a 0.0-1.0 score and explanation from raw oracle output.
// On parse failure, a missing score field, or an out-of-range value it falls
// back to NeutralScore and treats the raw text as the explanation.
func parseScore(raw string) (float64, string) {
	var verdict scoreVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return NeutralScore, raw
	}

	if verdict.Score == nil || *verdict.Score < 0.0 || *verdict.Score > 1.0 {
		return NeutralScore, raw
	}

	explanation := verdict.Explanation
	if explanation == "" {
		explanation = raw
	}

	return *verdict.Score, explanation
}
