// ABOUTME: Model client contract shared by the responder and the follow-up evaluator
// ABOUTME: Defines the Generate interface, results with reasoning, and think-block splitting

package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyResponse is returned when the provider answers without any content.
var ErrEmptyResponse = errors.New("model returned empty response")

// Result is one model completion. Reasoning carries the chain-of-thought
// when the provider exposes it (native reasoning field or <think> blocks);
// it is logged, never sent to chat.
type Result struct {
	Content   string
	Reasoning string
	Model     string
}

// Client generates a completion for a prompt. Implementations must honor
// ctx cancellation; callers treat any error as a recoverable miss.
type Client interface {
	Generate(ctx context.Context, prompt string) (*Result, error)
	// ModelName identifies the underlying model for logs and reasoning records.
	ModelName() string
}

// SplitThink separates a <think>...</think> prefix from the visible reply.
// Reasoning-tuned models emit their deliberation this way when the provider
// does not surface it as a separate field.
func SplitThink(s string) (content, reasoning string) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "<think>") {
		return s, ""
	}
	end := strings.Index(trimmed, "</think>")
	if end < 0 {
		return s, ""
	}
	reasoning = strings.TrimSpace(trimmed[len("<think>"):end])
	content = strings.TrimSpace(trimmed[end+len("</think>"):])
	return content, reasoning
}
