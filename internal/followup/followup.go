// ABOUTME: Follow-up tracking scheduler: after the bot replies, each conversation gets a
// ABOUTME: bounded observation window whose collected chatter is judged for a follow-up reply

package followup

import (
	"context"
	"time"
)

// WillReplyValue is the willingness written for a conversation when the
// evaluator decides its follow-up chatter deserves a reply. High enough
// that the next message through the pipeline rolls a certain reply.
const WillReplyValue = 2.0

// Outcome is the result of one window-close evaluation.
type Outcome int

const (
	// OutcomeClosed ends tracking without a reply.
	OutcomeClosed Outcome = iota
	// OutcomeWillReply ends tracking after raising the conversation's
	// willingness; the ordinary pipeline produces the actual reply.
	OutcomeWillReply
	// OutcomeRestart re-arms the window in place with cleared state.
	OutcomeRestart
)

func (o Outcome) String() string {
	switch o {
	case OutcomeClosed:
		return "closed"
	case OutcomeWillReply:
		return "will_reply"
	case OutcomeRestart:
		return "restart"
	default:
		return "unknown"
	}
}

// Evaluator judges whether the collected conversation context warrants a
// reply. Calls may take unbounded external latency and may fail; a failure
// is treated as a negative verdict by the caller.
type Evaluator interface {
	Evaluate(ctx context.Context, conversation string) (bool, error)
}

// WillingnessSink receives the raised willingness signal on positive
// verdicts. Fire and forget.
type WillingnessSink interface {
	Set(streamID string, value float64)
}

// Observer receives tracker lifecycle notifications. All methods are called
// outside manager locks and must not block.
type Observer interface {
	TrackingStarted(streamID, anchorID string)
	TrackingEnded(streamID, anchorID string, outcome Outcome)
	WindowRestarted(streamID, anchorID string)
}

// Config bounds every observation window. The zero value is not usable;
// call withDefaults or go through config loading.
type Config struct {
	// Enabled gates Start and Feed globally.
	Enabled bool
	// Timeout is the maximum window length.
	Timeout time.Duration
	// MaxMessages closes the window early once this many follow-ups arrived.
	MaxMessages int
	// PollInterval is the cadence at which the loop re-checks the window.
	PollInterval time.Duration
	// MaxRestarts caps how many times one tracker may re-arm its window
	// after a negative verdict: negative means unbounded, zero means the
	// window always closes after its first evaluation.
	MaxRestarts int
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxMessages == 0 {
		c.MaxMessages = 5
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	return c
}
