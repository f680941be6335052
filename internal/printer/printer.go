// Package printer renders CLI output: status messages, formatted errors,
// and the live view of a run's event stream.
package printer

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/cerina/foundry/pkg/blackboard"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green   = color.New(color.FgGreen)
	yellow  = color.New(color.FgYellow)
	red     = color.New(color.FgRed, color.Bold)
	cyan    = color.New(color.FgCyan)
	magenta = color.New(color.FgMagenta)
	blue    = color.New(color.FgBlue)
)

// agentColors maps each pipeline agent to a stable display color.
var agentColors = map[string]*color.Color{
	"drafting":        cyan,
	"safety_guardian": yellow,
	"clinical_critic": blue,
	"supervisor":      magenta,
}

// Success prints a success message in green with a checkmark prefix.
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		green.Printf("✓ %s", msg)
	} else {
		green.Print(msg)
	}
}

// Info prints an informational message in the default color.
func Info(format string, a ...any) {
	fmt.Printf(format, a...)
}

// Warning prints a warning message in yellow with a warning emoji prefix.
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		yellow.Printf("⚠️  %s", msg)
	} else {
		yellow.Print(msg)
	}
}

// Step prints a step message with emphasis (used in multi-step operations).
func Step(format string, a ...any) {
	cyan.Printf("→ %s", fmt.Sprintf(format, a...))
}

// Println prints a plain message.
func Println(a ...any) {
	fmt.Println(a...)
}

// Printf prints a plain formatted message.
func Printf(format string, a ...any) {
	fmt.Printf(format, a...)
}

// Error prints a formatted error with title, explanation, and suggestions to
// stderr, and returns a plain error for Cobra (which has SilenceErrors set,
// so the title is not printed twice).
func Error(title string, explanation string, suggestions []string) error {
	red.Fprintf(os.Stderr, "%s\n\n", title)
	fmt.Fprintf(os.Stderr, "%s\n", explanation)

	if len(suggestions) > 0 {
		fmt.Fprintf(os.Stderr, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(os.Stderr, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(os.Stderr, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(os.Stderr, "  %d. %s\n", i+1, suggestion)
			}
		}
	}

	return fmt.Errorf("%s", title)
}

// Event renders one engine event as a human-readable line (or block, for
// halts). Used by the start/resume/watch commands.
func Event(ev *blackboard.Event) {
	switch ev.Type {
	case blackboard.EventTypeAgent:
		agentEvent(ev.Agent)
	case blackboard.EventTypeState:
		stateEvent(ev.State)
	case blackboard.EventTypeHalt:
		HaltPrompt(ev.Halt)
	}
}

func agentEvent(ae *blackboard.AgentEvent) {
	if ae == nil {
		return
	}

	label := agentLabel(ae.Agent)
	switch ae.Phase {
	case blackboard.AgentPhaseStart:
		fmt.Printf("%s working (iteration %d)...\n", label, ae.Iteration)
	case blackboard.AgentPhaseFinish:
		if ae.Score != nil {
			fmt.Printf("%s score: %.2f\n", label, *ae.Score)
		} else if ae.Version != nil {
			fmt.Printf("%s produced draft v%d\n", label, *ae.Version)
		} else {
			fmt.Printf("%s finished\n", label)
		}
	case blackboard.AgentPhaseRoute:
		fmt.Printf("%s routing back to %s\n", label, ae.Next)
	case blackboard.AgentPhaseFinalize:
		fmt.Printf("%s finalizing protocol\n", label)
	case blackboard.AgentPhaseHalt:
		fmt.Printf("%s requesting human review\n", label)
	}
}

func stateEvent(st *blackboard.State) {
	if st == nil {
		return
	}

	safety, empathy := "-", "-"
	if st.SafetyScore != nil {
		safety = fmt.Sprintf("%.2f", *st.SafetyScore)
	}
	if st.EmpathyScore != nil {
		empathy = fmt.Sprintf("%.2f", *st.EmpathyScore)
	}
	fmt.Printf("  blackboard: iteration=%d drafts=%d safety=%s empathy=%s\n",
		st.Iteration, len(st.DraftVersions), safety, empathy)
}

// HaltPrompt renders the human-review payload of a suspension: the draft
// under review, its scores, and how to resume the run.
func HaltPrompt(susp *blackboard.Suspension) {
	if susp == nil {
		return
	}

	yellow.Println("\n⏸  Run halted for human review")
	fmt.Printf("\nDraft under review (iteration %d, safety %.2f, empathy %.2f):\n\n",
		susp.Iteration, susp.SafetyScore, susp.EmpathyScore)
	fmt.Println(indent(susp.Draft, "  "))

	if len(susp.Notes) > 0 {
		fmt.Println("\nReviewer notes:")
		for _, note := range susp.Notes {
			fmt.Printf("  - %s\n", note)
		}
	}
}

// agentLabel returns the agent name colored by its role.
func agentLabel(name string) string {
	if c, ok := agentColors[name]; ok {
		return c.Sprintf("[%s]", name)
	}
	return fmt.Sprintf("[%s]", name)
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
