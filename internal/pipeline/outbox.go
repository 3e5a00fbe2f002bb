// ABOUTME: Outbox paces reply segments onto their platform with human typing
// ABOUTME: delays and streams per-segment send results back to the pipeline

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/linger/internal/message"
	"github.com/2389/linger/internal/responder"
)

// sendTimeout bounds one platform send.
const sendTimeout = 30 * time.Second

// Sender delivers text to a platform destination. Implementations live in
// the platform adapters; SendText returns the platform's message id.
type Sender interface {
	SendText(ctx context.Context, target message.Target, text string) (string, error)
	Typing(ctx context.Context, target message.Target, typing bool) error
}

// Delivery is one reply scheduled for sending.
type Delivery struct {
	StreamID string
	Target   message.Target
	Segments []string
}

// SendResult reports one segment's delivery.
type SendResult struct {
	Index      int
	Text       string
	PlatformID string
	Err        error
}

// Outbox routes deliveries to registered platform senders, one goroutine
// per delivery, pacing segments by estimated typing time.
type Outbox struct {
	mu      sync.RWMutex
	senders map[string]Sender
	logger  *slog.Logger

	// delay is swapped in tests to avoid real sleeps.
	delay func(text string) time.Duration
}

// NewOutbox creates an Outbox with no senders registered.
func NewOutbox(logger *slog.Logger) *Outbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Outbox{
		senders: make(map[string]Sender),
		logger:  logger.With("component", "outbox"),
		delay:   responder.TypingDelay,
	}
}

// Register makes sender the delivery route for a platform.
func (o *Outbox) Register(platform string, sender Sender) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.senders[platform] = sender
}

func (o *Outbox) sender(platform string) Sender {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.senders[platform]
}

// Deliver sends the delivery's segments in order and streams one SendResult
// per segment on the returned channel, which closes when the delivery is
// done or ctx is cancelled. The typing indicator is raised while pacing and
// cleared afterwards; indicator failures are logged, not fatal.
func (o *Outbox) Deliver(ctx context.Context, d Delivery) <-chan SendResult {
	out := make(chan SendResult, len(d.Segments))

	go func() {
		defer close(out)

		sender := o.sender(d.Target.Platform)
		if sender == nil {
			out <- SendResult{Err: fmt.Errorf("no sender registered for platform %q", d.Target.Platform)}
			return
		}

		for i, text := range d.Segments {
			if err := sender.Typing(ctx, d.Target, true); err != nil {
				o.logger.Debug("typing indicator failed", "platform", d.Target.Platform, "error", err)
			}

			select {
			case <-time.After(o.delay(text)):
			case <-ctx.Done():
				o.logger.Debug("delivery cancelled",
					"stream_id", d.StreamID,
					"sent", i,
					"total", len(d.Segments))
				return
			}

			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			id, err := sender.SendText(sendCtx, d.Target, text)
			cancel()
			if err != nil {
				o.logger.Warn("segment send failed",
					"stream_id", d.StreamID,
					"platform", d.Target.Platform,
					"segment", i,
					"error", err)
			}
			out <- SendResult{Index: i, Text: text, PlatformID: id, Err: err}
		}

		if err := sender.Typing(ctx, d.Target, false); err != nil {
			o.logger.Debug("typing indicator failed", "platform", d.Target.Platform, "error", err)
		}
	}()

	return out
}
