// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides message/stream/reasoning-log persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeFormat is RFC3339 with fixed-width nanoseconds so the TEXT columns
// sort chronologically under ORDER BY.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS streams (
			id TEXT PRIMARY KEY,
			platform TEXT NOT NULL,
			user_id TEXT,
			group_id TEXT,
			name TEXT,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			stream_id TEXT NOT NULL,
			sender TEXT NOT NULL,
			sender_id TEXT,
			content TEXT NOT NULL,
			is_bot INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_stream_created
			ON messages(stream_id, created_at);

		CREATE TABLE IF NOT EXISTS reasoning_logs (
			id TEXT PRIMARY KEY,
			stream_id TEXT NOT NULL,
			user TEXT,
			message TEXT,
			model TEXT,
			reasoning TEXT,
			response TEXT,
			prompt TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_reasoning_stream_created
			ON reasoning_logs(stream_id, created_at);

		CREATE TABLE IF NOT EXISTS relationships (
			stream_id TEXT PRIMARY KEY,
			value REAL NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// SaveStream records a stream the first time it is seen. Saving an already
// known stream refreshes its display name and is not an error.
func (s *SQLiteStore) SaveStream(ctx context.Context, id, platform, userID, groupID, name string, created time.Time) error {
	query := `
		INSERT INTO streams (id, platform, user_id, group_id, name, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`

	_, err := s.db.ExecContext(ctx, query,
		id, platform, userID, groupID, name,
		created.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting stream: %w", err)
	}

	s.logger.Debug("saved stream", "id", id, "platform", platform)
	return nil
}

// ListStreams returns known streams, newest first.
func (s *SQLiteStore) ListStreams(ctx context.Context, limit int) ([]*StreamRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, platform, user_id, group_id, name, created_at
		FROM streams
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying streams: %w", err)
	}
	defer rows.Close()

	var streams []*StreamRecord
	for rows.Next() {
		var rec StreamRecord
		var userID, groupID, name sql.NullString
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.Platform, &userID, &groupID, &name, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning stream: %w", err)
		}
		rec.UserID = userID.String
		rec.GroupID = groupID.String
		rec.Name = name.String
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		streams = append(streams, &rec)
	}
	return streams, rows.Err()
}

// SaveMessage stores one chat message.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *MessageRecord) error {
	query := `
		INSERT INTO messages (id, stream_id, sender, sender_id, content, is_bot, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.StreamID,
		msg.Sender,
		msg.SenderID,
		msg.Content,
		boolToInt(msg.IsBot),
		createdAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit messages for a stream in
// chronological order.
func (s *SQLiteStore) RecentMessages(ctx context.Context, streamID string, limit int) ([]*MessageRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, stream_id, sender, sender_id, content, is_bot, created_at
		FROM (
			SELECT id, stream_id, sender, sender_id, content, is_bot, created_at
			FROM messages
			WHERE stream_id = ?
			ORDER BY created_at DESC
			LIMIT ?
		)
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, streamID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var msgs []*MessageRecord
	for rows.Next() {
		var rec MessageRecord
		var senderID sql.NullString
		var isBot int
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.StreamID, &rec.Sender, &senderID, &rec.Content, &isBot, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		rec.SenderID = senderID.String
		rec.IsBot = isBot != 0
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		msgs = append(msgs, &rec)
	}
	return msgs, rows.Err()
}

// SaveReasoningLog stores the prompt/reasoning/response triple of one
// model call.
func (s *SQLiteStore) SaveReasoningLog(ctx context.Context, log *ReasoningLog) error {
	query := `
		INSERT INTO reasoning_logs (id, stream_id, user, message, model, reasoning, response, prompt, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	id := log.ID
	if id == "" {
		id = uuid.New().String()
	}
	createdAt := log.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		id,
		log.StreamID,
		log.User,
		log.Message,
		log.Model,
		log.Reasoning,
		log.Response,
		log.Prompt,
		createdAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting reasoning log: %w", err)
	}
	return nil
}

// RecentReasoningLogs returns up to limit reasoning logs for a stream,
// newest first.
func (s *SQLiteStore) RecentReasoningLogs(ctx context.Context, streamID string, limit int) ([]*ReasoningLog, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, stream_id, user, message, model, reasoning, response, prompt, created_at
		FROM reasoning_logs
		WHERE stream_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, streamID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying reasoning logs: %w", err)
	}
	defer rows.Close()

	var logs []*ReasoningLog
	for rows.Next() {
		var rec ReasoningLog
		var user, msg, model, reasoning, response, prompt sql.NullString
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.StreamID, &user, &msg, &model, &reasoning, &response, &prompt, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning reasoning log: %w", err)
		}
		rec.User = user.String
		rec.Message = msg.String
		rec.Model = model.String
		rec.Reasoning = reasoning.String
		rec.Response = response.String
		rec.Prompt = prompt.String
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		logs = append(logs, &rec)
	}
	return logs, rows.Err()
}

// RelationshipValue returns the current relationship scalar for a stream.
// Unknown streams are 0, not an error.
func (s *SQLiteStore) RelationshipValue(ctx context.Context, streamID string) (float64, error) {
	var value float64
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM relationships WHERE stream_id = ?`, streamID,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying relationship: %w", err)
	}
	return value, nil
}

// AdjustRelationship adds delta to a stream's relationship value and
// returns the new value.
func (s *SQLiteStore) AdjustRelationship(ctx context.Context, streamID string, delta float64) (float64, error) {
	query := `
		INSERT INTO relationships (stream_id, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(stream_id) DO UPDATE SET
			value = value + excluded.value,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, query, streamID, delta, now); err != nil {
		return 0, fmt.Errorf("adjusting relationship: %w", err)
	}
	return s.RelationshipValue(ctx, streamID)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
