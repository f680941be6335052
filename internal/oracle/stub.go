package oracle

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Stub is a deterministic Oracle used when no API credentials are configured,
// so the full stack stays runnable in local development. Score requests get a
// fixed JSON verdict; everything else gets a stubbed draft derived from the
// prompt.
type Stub struct {
	// Score is returned for every score request.
	Score float64
}

// NewStub creates a stub oracle with a mid-range default score so runs
// exercise the refinement loop.
func NewStub() *Stub {
	return &Stub{Score: 0.75}
}

// Generate returns canned output. A request is treated as a score request if
// the user prompt asks for the JSON score object.
func (s *Stub) Generate(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	if strings.Contains(userPrompt, `{"score"`) {
		return fmt.Sprintf(`{"score": %.2f, "explanation": "Stubbed deterministic review (no oracle credentials configured)."}`, s.Score), nil
	}

	return fmt.Sprintf(
		"[STUBBED DRAFT]\nSYSTEM: %s\n\n1. Identify the triggering situation and write it down.\n2. Note the automatic thought and rate how strongly you believe it.\n3. Gather evidence for and against the thought.\n4. Write a balanced alternative thought.\nHomework: repeat the worksheet once per day this week.\nReflection: what changed in how you felt after step 4?\n\n(Stubbed response: no oracle credentials configured. Prompt was: %s)",
		truncate(systemPrompt, 120), truncate(userPrompt, 200)), nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// Scripted is a test Oracle that replays a fixed sequence of responses and
// records the prompts it was called with. The zero value is not usable; use
// NewScripted.
type Scripted struct {
	mu        sync.Mutex
	responses []ScriptedResponse
	calls     []ScriptedCall
	next      int
}

// ScriptedResponse is one canned oracle reply, or an error.
type ScriptedResponse struct {
	Text string
	Err  error
}

// ScriptedCall records the prompts of one Generate invocation.
type ScriptedCall struct {
	SystemPrompt string
	UserPrompt   string
}

// NewScripted creates a scripted oracle that returns the given responses in
// order. Once exhausted it keeps returning the final response.
func NewScripted(responses ...ScriptedResponse) *Scripted {
	return &Scripted{responses: responses}
}

// Generate returns the next scripted response.
func (s *Scripted) Generate(_ context.Context, systemPrompt, userPrompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, ScriptedCall{SystemPrompt: systemPrompt, UserPrompt: userPrompt})

	if len(s.responses) == 0 {
		return "", fmt.Errorf("scripted oracle has no responses")
	}

	idx := s.next
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	} else {
		s.next++
	}

	r := s.responses[idx]
	return r.Text, r.Err
}

// Calls returns a copy of the recorded invocations.
func (s *Scripted) Calls() []ScriptedCall {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ScriptedCall, len(s.calls))
	copy(out, s.calls)
	return out
}
