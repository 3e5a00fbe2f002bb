// ABOUTME: Conversation stream registry mapping platform identities to stable streams
// ABOUTME: Get-or-create semantics with deterministic ids and store-backed persistence

package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/linger/internal/message"
)

// namespace for deriving stream ids. Fixed so ids are stable across restarts
// and across processes sharing a database.
var streamNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Stream is one addressable chat context: a group, or a direct-message
// thread with one user.
type Stream struct {
	ID       string
	Platform string
	User     *message.UserInfo
	Group    *message.GroupInfo
	Created  time.Time
}

// IsGroup reports whether the stream is a group conversation.
func (s *Stream) IsGroup() bool {
	return s.Group != nil && s.Group.GroupID != ""
}

// Target returns the delivery destination for replies into this stream.
func (s *Stream) Target() message.Target {
	t := message.Target{Platform: s.Platform}
	if s.Group != nil {
		t.GroupID = s.Group.GroupID
	}
	if s.User != nil {
		t.UserID = s.User.UserID
	}
	return t
}

// Name returns a human-readable label for logs: the group name or id for
// groups, the peer's nickname for direct chats.
func (s *Stream) Name() string {
	if s.IsGroup() {
		if s.Group.Name != "" {
			return s.Group.Name
		}
		return s.Group.GroupID
	}
	if s.User != nil && s.User.Nickname != "" {
		return s.User.Nickname
	}
	return s.ID
}

// Saver persists newly created streams. The registry only needs this one
// method; the SQLite store satisfies it.
type Saver interface {
	SaveStream(ctx context.Context, id, platform, userID, groupID, name string, created time.Time) error
}

// Registry hands out streams for platform identities. Ids are deterministic,
// so the same group or peer always resolves to the same stream.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
	saver   Saver
	logger  *slog.Logger
}

// NewRegistry creates a stream registry. saver may be nil, in which case
// streams are not persisted.
func NewRegistry(saver Saver, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		streams: make(map[string]*Stream),
		saver:   saver,
		logger:  logger.With("component", "stream-registry"),
	}
}

// DeriveID computes the stable stream id for a platform identity. Group
// conversations key on the group; direct chats key on the peer.
func DeriveID(platform string, user *message.UserInfo, group *message.GroupInfo) string {
	if group != nil && group.GroupID != "" {
		return uuid.NewSHA1(streamNamespace, []byte(platform+"/group/"+group.GroupID)).String()
	}
	userID := ""
	if user != nil {
		userID = user.UserID
	}
	return uuid.NewSHA1(streamNamespace, []byte(platform+"/user/"+userID)).String()
}

// GetOrCreate resolves the stream for a platform identity, creating and
// persisting it on first sight. Existing streams get their user info
// refreshed so display names stay current.
func (r *Registry) GetOrCreate(ctx context.Context, platform string, user *message.UserInfo, group *message.GroupInfo) *Stream {
	id := DeriveID(platform, user, group)

	r.mu.Lock()
	if s, ok := r.streams[id]; ok {
		if user != nil {
			s.User = user
		}
		if group != nil && group.Name != "" {
			s.Group = group
		}
		r.mu.Unlock()
		return s
	}

	s := &Stream{
		ID:       id,
		Platform: platform,
		User:     user,
		Group:    group,
		Created:  time.Now(),
	}
	r.streams[id] = s
	r.mu.Unlock()

	r.logger.Info("new stream", "stream_id", id, "platform", platform, "name", s.Name())

	if r.saver != nil {
		userID, groupID := "", ""
		if user != nil {
			userID = user.UserID
		}
		if group != nil {
			groupID = group.GroupID
		}
		if err := r.saver.SaveStream(ctx, id, platform, userID, groupID, s.Name(), s.Created); err != nil {
			r.logger.Error("failed to persist stream", "stream_id", id, "error", err)
		}
	}
	return s
}

// Get returns the stream for id, or nil when unknown.
func (r *Registry) Get(id string) *Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.streams[id]
}

// List returns all known streams.
func (r *Registry) List() []*Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s)
	}
	return out
}

// Count returns the number of known streams.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}
