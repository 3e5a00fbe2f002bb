// ABOUTME: HTTP admin API exposing linger's runtime state
// ABOUTME: Serves stream history, follow-up windows, willingness and live events over SSE

package admin

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/2389/linger/internal/auth"
	"github.com/2389/linger/internal/events"
	"github.com/2389/linger/internal/followup"
	"github.com/2389/linger/internal/store"
	"github.com/2389/linger/internal/willing"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500

	// heartbeatInterval keeps SSE connections alive through proxies.
	heartbeatInterval = 30 * time.Second
)

// PlatformStatus reports which chat platforms currently hold a live connection.
type PlatformStatus interface {
	Connected() []string
}

// Options configures the admin server.
type Options struct {
	Store     store.Store
	FollowUp  *followup.Manager
	Willing   *willing.Registry
	Events    *events.Broadcaster
	Platforms PlatformStatus
	Verifier  auth.Verifier // nil disables authentication
	Logger    *slog.Logger
}

// Server handles the admin API routes.
type Server struct {
	store     store.Store
	followup  *followup.Manager
	willing   *willing.Registry
	events    *events.Broadcaster
	platforms PlatformStatus
	verifier  auth.Verifier
	logger    *slog.Logger
}

// New creates an admin server from the given options.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:     opts.Store,
		followup:  opts.FollowUp,
		willing:   opts.Willing,
		events:    opts.Events,
		platforms: opts.Platforms,
		verifier:  opts.Verifier,
		logger:    logger.With("component", "admin"),
	}
}

// RegisterRoutes registers all admin routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)

	mux.Handle("GET /api/streams", s.protect(s.handleStreams))
	mux.Handle("GET /api/streams/{id}/messages", s.protect(s.handleStreamMessages))
	mux.Handle("GET /api/streams/{id}/reasoning", s.protect(s.handleStreamReasoning))
	mux.Handle("GET /api/followup", s.protect(s.handleFollowUp))
	mux.Handle("GET /api/willingness", s.protect(s.handleWillingness))
	mux.Handle("GET /api/events", s.protect(s.handleEvents))

	s.logger.Info("admin routes registered", "auth", s.verifier != nil)
}

// protect wraps a handler with JWT auth when a verifier is configured.
func (s *Server) protect(h http.HandlerFunc) http.Handler {
	if s.verifier == nil {
		return h
	}
	return auth.Middleware(s.verifier, s.logger)(h)
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one platform connection is live.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.platforms != nil {
		connected := s.platforms.Connected()
		if len(connected) == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("no platforms connected"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprintf(w, "ready (%d platforms)", len(connected))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// StreamResponse is the JSON shape for one stream in list responses.
type StreamResponse struct {
	ID        string    `json:"id"`
	Platform  string    `json:"platform"`
	UserID    string    `json:"user_id,omitempty"`
	GroupID   string    `json:"group_id,omitempty"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// handleStreams returns known conversation streams, newest first.
func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	limit, ok := s.parseLimit(w, r)
	if !ok {
		return
	}

	streams, err := s.store.ListStreams(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list streams", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to load streams")
		return
	}

	response := make([]StreamResponse, 0, len(streams))
	for _, st := range streams {
		response = append(response, StreamResponse{
			ID:        st.ID,
			Platform:  st.Platform,
			UserID:    st.UserID,
			GroupID:   st.GroupID,
			Name:      st.Name,
			CreatedAt: st.CreatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// MessageResponse is the JSON shape for one stored chat message.
type MessageResponse struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	SenderID  string    `json:"sender_id,omitempty"`
	Content   string    `json:"content"`
	IsBot     bool      `json:"is_bot"`
	CreatedAt time.Time `json:"created_at"`
}

// handleStreamMessages returns recent messages for one stream in
// chronological order.
func (s *Server) handleStreamMessages(w http.ResponseWriter, r *http.Request) {
	streamID := r.PathValue("id")
	if streamID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "stream ID required")
		return
	}

	limit, ok := s.parseLimit(w, r)
	if !ok {
		return
	}

	messages, err := s.store.RecentMessages(r.Context(), streamID, limit)
	if err != nil {
		s.logger.Error("failed to load messages", "error", err, "stream_id", streamID)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	response := make([]MessageResponse, 0, len(messages))
	for _, m := range messages {
		response = append(response, MessageResponse{
			ID:        m.ID,
			Sender:    m.Sender,
			SenderID:  m.SenderID,
			Content:   m.Content,
			IsBot:     m.IsBot,
			CreatedAt: m.CreatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// ReasoningResponse is the JSON shape for one reasoning log entry.
type ReasoningResponse struct {
	ID        string    `json:"id"`
	User      string    `json:"user"`
	Message   string    `json:"message"`
	Model     string    `json:"model"`
	Reasoning string    `json:"reasoning,omitempty"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

// handleStreamReasoning returns recent reasoning logs for one stream,
// newest first.
func (s *Server) handleStreamReasoning(w http.ResponseWriter, r *http.Request) {
	streamID := r.PathValue("id")
	if streamID == "" {
		s.sendJSONError(w, http.StatusBadRequest, "stream ID required")
		return
	}

	limit, ok := s.parseLimit(w, r)
	if !ok {
		return
	}

	logs, err := s.store.RecentReasoningLogs(r.Context(), streamID, limit)
	if err != nil {
		s.logger.Error("failed to load reasoning logs", "error", err, "stream_id", streamID)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to load reasoning logs")
		return
	}

	response := make([]ReasoningResponse, 0, len(logs))
	for _, l := range logs {
		response = append(response, ReasoningResponse{
			ID:        l.ID,
			User:      l.User,
			Message:   l.Message,
			Model:     l.Model,
			Reasoning: l.Reasoning,
			Response:  l.Response,
			CreatedAt: l.CreatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleFollowUp returns the currently open follow-up windows.
func (s *Server) handleFollowUp(w http.ResponseWriter, r *http.Request) {
	response := []followup.Status{}
	if s.followup != nil {
		response = s.followup.Snapshot()
	}
	sort.Slice(response, func(i, j int) bool {
		return response[i].StreamID < response[j].StreamID
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// WillingnessResponse is the JSON shape for one stream's willingness value.
type WillingnessResponse struct {
	StreamID string  `json:"stream_id"`
	Value    float64 `json:"value"`
}

// handleWillingness returns per-stream willingness values.
func (s *Server) handleWillingness(w http.ResponseWriter, r *http.Request) {
	response := []WillingnessResponse{}
	if s.willing != nil {
		for streamID, value := range s.willing.Snapshot() {
			response = append(response, WillingnessResponse{StreamID: streamID, Value: value})
		}
	}
	sort.Slice(response, func(i, j int) bool {
		return response[i].StreamID < response[j].StreamID
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleEvents streams bot events over SSE. The optional "stream" query
// parameter scopes the subscription to one stream; the default is the
// firehose.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.sendJSONError(w, http.StatusServiceUnavailable, "event stream not available")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	streamID := r.URL.Query().Get("stream")
	ch, _ := s.events.Subscribe(r.Context(), streamID)

	fmt.Fprintf(w, "event: connected\ndata: {\"stream\": %q}\n\n", streamID)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()

		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Error("failed to marshal event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

// parseLimit reads the "limit" query parameter, writing a 400 response
// and returning ok=false when it is not a positive integer.
func (s *Server) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		s.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, true
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
