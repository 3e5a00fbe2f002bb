// ABOUTME: LLM-backed follow-up verdict: renders the collected conversation
// ABOUTME: into a yes/no prompt and parses the model's answer

package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/linger/internal/llm"
)

// Evaluator asks a small model whether the follow-up chatter in a window
// deserves a reply. It satisfies the scheduler's Evaluator interface.
type Evaluator struct {
	client llm.Client
	prompt string
	logger *slog.Logger
}

// New builds an Evaluator around client. prompt is the persona's follow-up
// question template; the conversation is appended per call.
func New(client llm.Client, prompt string, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		client: client,
		prompt: prompt,
		logger: logger.With("component", "evaluator"),
	}
}

// Evaluate renders the prompt, runs the model, and reads the verdict. Any
// generation failure surfaces as an error; the caller downgrades it to a
// negative verdict.
func (e *Evaluator) Evaluate(ctx context.Context, conversation string) (bool, error) {
	full := e.prompt + "\n\nConversation:\n" + conversation
	res, err := e.client.Generate(ctx, full)
	if err != nil {
		return false, fmt.Errorf("follow-up check: %w", err)
	}

	verdict := affirmative(res.Content)
	e.logger.Debug("follow-up verdict",
		"model", res.Model,
		"verdict", verdict,
		"answer", snippet(res.Content, 80))
	return verdict, nil
}

// affirmative reports whether the model answered yes. The check is a loose
// token match so answers like "Yes." or "yes, reply" count.
func affirmative(answer string) bool {
	return strings.Contains(strings.ToLower(answer), "yes")
}

func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
