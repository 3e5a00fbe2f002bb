// ABOUTME: Tracker owns one conversation's observation window: the collected
// ABOUTME: follow-up messages, the window clock, and the close evaluation

package followup

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/2389/linger/internal/message"
)

// Tracker observes one conversation after a bot reply. All mutable state is
// guarded by mu; the evaluator call itself runs outside the lock on a
// snapshot of the collected messages.
type Tracker struct {
	streamID string
	anchorID string

	cfg       Config
	clock     Clock
	evaluator Evaluator
	sink      WillingnessSink
	logger    *slog.Logger

	mu          sync.Mutex
	active      bool
	windowStart time.Time
	collected   []*message.Incoming
	restarts    int
	cancel      context.CancelFunc
}

func newTracker(streamID, anchorID string, cfg Config, clock Clock, ev Evaluator, sink WillingnessSink, logger *slog.Logger) *Tracker {
	return &Tracker{
		streamID:    streamID,
		anchorID:    anchorID,
		cfg:         cfg,
		clock:       clock,
		evaluator:   ev,
		sink:        sink,
		logger:      logger,
		active:      true,
		windowStart: clock.Now(),
	}
}

// StreamID returns the conversation this tracker observes.
func (t *Tracker) StreamID() string { return t.streamID }

// AnchorID returns the bot reply that opened this window.
func (t *Tracker) AnchorID() string { return t.anchorID }

// AddMessage appends one follow-up to the window. Ignored once the tracker
// is deactivated, so feeds racing a close are silent no-ops.
func (t *Tracker) AddMessage(msg *message.Incoming) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	t.collected = append(t.collected, msg)
}

// ShouldContinue reports whether the window is still open. It reads the
// clock and tracker state and never mutates either.
func (t *Tracker) ShouldContinue() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return false
	}
	if t.clock.Now().Sub(t.windowStart) >= t.cfg.Timeout {
		return false
	}
	return len(t.collected) < t.cfg.MaxMessages
}

// Deactivate permanently stops the window and cancels its loop. Safe to
// call any number of times from any goroutine.
func (t *Tracker) Deactivate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deactivateLocked()
}

func (t *Tracker) deactivateLocked() {
	t.active = false
	if t.cancel != nil {
		t.cancel()
	}
}

// Restart re-arms the window: the clock and the collected messages reset
// together so the next evaluation only ever sees post-restart traffic.
// A deactivated tracker stays deactivated.
func (t *Tracker) Restart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active {
		return
	}
	t.windowStart = t.clock.Now()
	t.collected = nil
	t.restarts++
}

// EvaluateAndRespond runs the window-close protocol once the window stopped
// continuing. It decides among closing, raising willingness, and re-arming.
func (t *Tracker) EvaluateAndRespond(ctx context.Context) Outcome {
	t.mu.Lock()
	if !t.active {
		t.mu.Unlock()
		return OutcomeClosed
	}
	if len(t.collected) == 0 {
		// Nothing arrived during the window; close without consulting
		// the evaluator.
		t.deactivateLocked()
		t.mu.Unlock()
		return OutcomeClosed
	}
	conversation := t.conversationLocked()
	collected := len(t.collected)
	restarts := t.restarts
	t.mu.Unlock()

	necessary, err := t.evaluator.Evaluate(ctx, conversation)
	if err != nil {
		t.logger.Warn("follow-up evaluation failed, treating as no-reply",
			"stream_id", t.streamID,
			"error", err)
		necessary = false
	}

	if necessary {
		t.sink.Set(t.streamID, WillReplyValue)
		t.Deactivate()
		t.logger.Info("follow-up deemed necessary",
			"stream_id", t.streamID,
			"anchor_id", t.anchorID,
			"collected", collected)
		return OutcomeWillReply
	}

	if t.cfg.MaxRestarts < 0 || restarts < t.cfg.MaxRestarts {
		// Negative verdict with restart budget left: keep listening on a
		// fresh window instead of going quiet.
		return OutcomeRestart
	}

	// No budget left. The condition that closed the window is re-checked
	// here; elapsed time only grows and messages only append, so it still
	// holds at this point.
	t.mu.Lock()
	expired := t.clock.Now().Sub(t.windowStart) >= t.cfg.Timeout
	full := len(t.collected) >= t.cfg.MaxMessages
	if expired || full {
		t.deactivateLocked()
		t.mu.Unlock()
		return OutcomeClosed
	}
	t.mu.Unlock()
	return OutcomeRestart
}

// conversationLocked renders the collected messages as "sender: text" lines.
// Messages missing a sender name or extractable text are skipped here but
// still count toward the window's message cap.
func (t *Tracker) conversationLocked() string {
	var b strings.Builder
	for _, msg := range t.collected {
		sender := msg.SenderNickname()
		if sender == "" || msg.PlainText == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(sender)
		b.WriteString(": ")
		b.WriteString(msg.PlainText)
	}
	return b.String()
}

// Status is a point-in-time copy of tracker state for introspection.
type Status struct {
	StreamID    string    `json:"stream_id"`
	AnchorID    string    `json:"anchor_id"`
	Active      bool      `json:"active"`
	Collected   int       `json:"collected"`
	WindowStart time.Time `json:"window_start"`
	Restarts    int       `json:"restarts"`
}

// Status snapshots the tracker under its lock.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Status{
		StreamID:    t.streamID,
		AnchorID:    t.anchorID,
		Active:      t.active,
		Collected:   len(t.collected),
		WindowStart: t.windowStart,
		Restarts:    t.restarts,
	}
}
