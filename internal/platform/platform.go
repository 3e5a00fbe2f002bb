// ABOUTME: Shared contract for chat platform adapters: each one runs a
// ABOUTME: connection and feeds received messages to an injected Handler

package platform

import (
	"context"

	"github.com/2389/linger/internal/message"
)

// Handler consumes every message an adapter receives. The bot wires this to
// the pipeline, so implementations may block for the full reply path and
// adapters must call it off their read loop.
type Handler func(ctx context.Context, msg message.Message)

// Adapter is one platform connection. Run blocks until ctx is cancelled,
// reconnecting internally where the platform allows it. Connected reports
// liveness for readiness probes.
type Adapter interface {
	Name() string
	Run(ctx context.Context) error
	Connected() bool
}
