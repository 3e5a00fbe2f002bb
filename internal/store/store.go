// ABOUTME: Store interface and data types for linger persistence
// ABOUTME: Defines stream, message, reasoning log and relationship records

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// StreamRecord is a persisted conversation stream.
type StreamRecord struct {
	ID        string
	Platform  string
	UserID    string
	GroupID   string
	Name      string
	CreatedAt time.Time
}

// MessageRecord is one chat message kept for history and prompt context.
type MessageRecord struct {
	ID        string
	StreamID  string
	Sender    string // display name at the time of the message
	SenderID  string
	Content   string // processed plain text
	IsBot     bool
	CreatedAt time.Time
}

// ReasoningLog captures one model call made while producing a reply:
// the prompt, the model's reasoning (when the provider exposes it) and
// the final response.
type ReasoningLog struct {
	ID        string
	StreamID  string
	User      string
	Message   string
	Model     string
	Reasoning string
	Response  string
	Prompt    string
	CreatedAt time.Time
}

// Store defines the persistence surface consumed by the pipeline,
// the responder and the admin API.
type Store interface {
	// Streams
	SaveStream(ctx context.Context, id, platform, userID, groupID, name string, created time.Time) error
	ListStreams(ctx context.Context, limit int) ([]*StreamRecord, error)

	// Messages
	SaveMessage(ctx context.Context, msg *MessageRecord) error
	RecentMessages(ctx context.Context, streamID string, limit int) ([]*MessageRecord, error)

	// Reasoning logs
	SaveReasoningLog(ctx context.Context, log *ReasoningLog) error
	RecentReasoningLogs(ctx context.Context, streamID string, limit int) ([]*ReasoningLog, error)

	// Relationship values: a per-stream scalar nudged by the emotional tone
	// of the bot's own replies.
	RelationshipValue(ctx context.Context, streamID string) (float64, error)
	AdjustRelationship(ctx context.Context, streamID string, delta float64) (float64, error)

	// Close releases any resources held by the store
	Close() error
}
