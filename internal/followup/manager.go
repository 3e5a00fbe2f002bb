// ABOUTME: Manager maps conversations to their trackers and runs the polling
// ABOUTME: loop that waits out each observation window and applies its outcome

package followup

import (
	"context"
	"log/slog"
	"sync"

	"github.com/2389/linger/internal/message"
)

// Manager owns at most one tracker per conversation plus the anchor set of
// bot replies currently being tracked. Every loop goroutine verifies it
// still owns its map slot before mutating shared state, so stale loops
// from replaced or stopped trackers retire without side effects.
type Manager struct {
	cfg       Config
	clock     Clock
	evaluator Evaluator
	sink      WillingnessSink
	observer  Observer
	logger    *slog.Logger

	mu       sync.RWMutex
	trackers map[string]*Tracker
	anchors  map[string]struct{}

	wg sync.WaitGroup
}

// Options configures a Manager. Evaluator and Willing are required;
// Clock, Observer, and Logger may be nil.
type Options struct {
	Config    Config
	Evaluator Evaluator
	Willing   WillingnessSink
	Clock     Clock
	Observer  Observer
	Logger    *slog.Logger
}

// NewManager builds a Manager. No goroutines run until the first Start.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock()
	}
	return &Manager{
		cfg:       opts.Config.withDefaults(),
		clock:     clock,
		evaluator: opts.Evaluator,
		sink:      opts.Willing,
		observer:  opts.Observer,
		logger:    logger.With("component", "followup"),
		trackers:  make(map[string]*Tracker),
		anchors:   make(map[string]struct{}),
	}
}

// Start opens an observation window for streamID anchored at the bot reply
// anchorID. An existing tracker for the stream is fully stopped and
// unregistered before the new one is installed, so a conversation never has
// two live windows. A no-op when tracking is disabled.
func (m *Manager) Start(streamID, anchorID string) {
	if !m.cfg.Enabled {
		return
	}

	m.mu.Lock()
	if old, ok := m.trackers[streamID]; ok {
		m.logger.Debug("replacing existing tracker",
			"stream_id", streamID,
			"old_anchor", old.anchorID)
		m.removeLocked(old)
	}
	t := newTracker(streamID, anchorID, m.cfg, m.clock, m.evaluator, m.sink, m.logger)
	loopCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	m.trackers[streamID] = t
	m.anchors[anchorID] = struct{}{}
	m.mu.Unlock()

	m.logger.Info("tracking started",
		"stream_id", streamID,
		"anchor_id", anchorID)
	if m.observer != nil {
		m.observer.TrackingStarted(streamID, anchorID)
	}

	m.wg.Add(1)
	go m.trackLoop(loopCtx, t)
}

// Feed routes an incoming message to the stream's tracker, if one is
// active. Unknown streams and disabled tracking are silent no-ops.
func (m *Manager) Feed(streamID string, msg *message.Incoming) {
	if !m.cfg.Enabled {
		return
	}
	m.mu.RLock()
	t := m.trackers[streamID]
	m.mu.RUnlock()
	if t == nil {
		return
	}
	t.AddMessage(msg)
	m.logger.Debug("follow-up collected",
		"stream_id", streamID,
		"collected", t.Status().Collected)
}

// Stop tears down the stream's tracker, if any. Idempotent.
func (m *Manager) Stop(streamID string) {
	m.mu.Lock()
	t, ok := m.trackers[streamID]
	if ok {
		m.removeLocked(t)
	}
	m.mu.Unlock()
	if ok {
		m.logger.Debug("tracking stopped", "stream_id", streamID)
	}
}

// StopAll tears down every tracker.
func (m *Manager) StopAll() {
	m.mu.Lock()
	for _, t := range m.trackers {
		m.removeLocked(t)
	}
	m.mu.Unlock()
}

// Close stops all trackers and waits for their loops to retire.
func (m *Manager) Close() {
	m.StopAll()
	m.wg.Wait()
}

// removeLocked deactivates t and clears both map entries. Caller holds m.mu.
func (m *Manager) removeLocked(t *Tracker) {
	t.Deactivate()
	delete(m.trackers, t.streamID)
	delete(m.anchors, t.anchorID)
}

// trackLoop polls the window at the configured cadence, then applies the
// close protocol. Restart outcomes re-arm the same tracker in place; any
// terminal outcome unregisters it, but only if this loop's tracker is still
// the one registered for the stream.
func (m *Manager) trackLoop(ctx context.Context, t *Tracker) {
	defer m.wg.Done()

	for {
		for t.ShouldContinue() {
			select {
			case <-m.clock.After(m.cfg.PollInterval):
			case <-ctx.Done():
				return
			}
		}

		outcome := t.EvaluateAndRespond(ctx)

		m.mu.Lock()
		if m.trackers[t.streamID] != t {
			// Superseded by a newer Start or an explicit Stop while the
			// evaluation ran; the replacement owns the bookkeeping now.
			m.mu.Unlock()
			return
		}
		if outcome == OutcomeRestart {
			t.Restart()
			m.mu.Unlock()
			m.logger.Debug("follow-up window restarted",
				"stream_id", t.streamID,
				"restarts", t.Status().Restarts)
			if m.observer != nil {
				m.observer.WindowRestarted(t.streamID, t.anchorID)
			}
			continue
		}
		m.removeLocked(t)
		m.mu.Unlock()

		m.logger.Info("tracking ended",
			"stream_id", t.streamID,
			"anchor_id", t.anchorID,
			"outcome", outcome.String())
		if m.observer != nil {
			m.observer.TrackingEnded(t.streamID, t.anchorID, outcome)
		}
		return
	}
}

// IsTracking reports whether the stream currently has a tracker.
func (m *Manager) IsTracking(streamID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.trackers[streamID]
	return ok
}

// TracksAnchor reports whether the bot reply anchorID anchors a live window.
func (m *Manager) TracksAnchor(anchorID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.anchors[anchorID]
	return ok
}

// TrackedCount returns the number of live trackers.
func (m *Manager) TrackedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.trackers)
}

// Snapshot copies the status of every live tracker for introspection.
func (m *Manager) Snapshot() []Status {
	m.mu.RLock()
	trackers := make([]*Tracker, 0, len(m.trackers))
	for _, t := range m.trackers {
		trackers = append(trackers, t)
	}
	m.mu.RUnlock()

	out := make([]Status, 0, len(trackers))
	for _, t := range trackers {
		out = append(out, t.Status())
	}
	return out
}
