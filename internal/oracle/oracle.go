// Package oracle defines the text-generation boundary the agent nodes call.
// The oracle is treated as a black box that may be slow, may fail, and may
// return malformed output - callers must treat any failure as "no usable
// output" and apply their own fallback, never as a fatal run error.
package oracle

import "context"

// Oracle produces free-form text from a system instruction and a user
// instruction. It is used both to generate draft content and to produce
// JSON numeric scores.
type Oracle interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
