// ABOUTME: In-memory fan-out of bot lifecycle events (messages, replies,
// ABOUTME: follow-up windows) to stream-scoped and firehose subscribers

package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the bot.
const (
	TypeMessageReceived   = "message_received"
	TypeReplySent         = "reply_sent"
	TypeFollowUpStarted   = "followup_started"
	TypeFollowUpRestarted = "followup_restarted"
	TypeFollowUpEnded     = "followup_ended"
)

// AllStreams subscribes to every event regardless of stream.
const AllStreams = ""

// subscriberBufferSize is the channel buffer for each subscriber; slow
// consumers past this depth lose events rather than stalling publishers.
const subscriberBufferSize = 64

// Event is one observable moment in the bot's life.
type Event struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	StreamID string            `json:"stream_id,omitempty"`
	At       time.Time         `json:"at"`
	Data     map[string]string `json:"data,omitempty"`
}

// Broadcaster provides in-memory pub/sub over bot events. Subscribers
// register for one stream or for the firehose and receive events as they
// are published.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Event // streamID -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Event),
		logger:      logger.With("component", "events"),
	}
}

// Subscribe registers a subscriber for events on streamID, or for all
// events with AllStreams. Returns the receive channel and a subscription ID
// for later unsubscription. The subscription is cleaned up automatically
// when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, streamID string) (<-chan *Event, string) {
	subID := uuid.New().String()
	ch := make(chan *Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[streamID]; !ok {
		b.subscribers[streamID] = make(map[string]chan *Event)
	}
	b.subscribers[streamID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "stream_id", streamID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(streamID, subID)
	}()

	return ch, subID
}

// Publish delivers the event to the event's stream subscribers and to the
// firehose. Missing ID and timestamp are filled in. Non-blocking: events
// are dropped for subscribers whose channels are full.
func (b *Broadcaster) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.mu.RLock()
	targets := make([]chan *Event, 0, 4)
	for _, ch := range b.subscribers[AllStreams] {
		targets = append(targets, ch)
	}
	if event.StreamID != AllStreams {
		for _, ch := range b.subscribers[event.StreamID] {
			targets = append(targets, ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"event_type", event.Type,
				"event_id", event.ID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(streamID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[streamID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, streamID)
	}

	b.logger.Debug("subscriber removed", "stream_id", streamID, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for streamID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, streamID)
	}

	b.logger.Debug("broadcaster closed")
}
