// ABOUTME: Per-stream reply willingness: an attention scalar that rises with chatter
// ABOUTME: and mentions, decays toward a baseline, and converts into a reply probability

package willing

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

const (
	// amplifyMessage is added for every message seen on a stream.
	amplifyMessage = 0.1
	// amplifyMention is added when the bot is addressed directly.
	amplifyMention = 0.9
	// emojiPenalty scales the reply probability for sticker-only messages.
	emojiPenalty = 0.2
	// replySpend is subtracted once the bot commits to a reply, so it does
	// not pile replies onto the same burst of chatter.
	replySpend = 1.8
	// probabilityFloor is the willingness below which the bot stays quiet.
	probabilityFloor = 0.45
)

// Options tune the willingness model. Zero values pick the defaults.
type Options struct {
	// Baseline is the resting willingness a stream decays toward.
	Baseline float64
	// Max caps willingness; Set values above it are clamped.
	Max float64
	// DecayInterval is how often the decay pass runs.
	DecayInterval time.Duration
	// DecayFactor scales the distance to baseline each pass (0..1).
	DecayFactor float64
}

func (o Options) withDefaults() Options {
	if o.Max == 0 {
		o.Max = 3.0
	}
	if o.DecayInterval == 0 {
		o.DecayInterval = 5 * time.Second
	}
	if o.DecayFactor == 0 {
		o.DecayFactor = 0.75
	}
	return o
}

// Registry holds the willingness scalar for every active stream. All methods
// are safe for concurrent use. A background loop decays values toward the
// baseline until Close is called.
type Registry struct {
	mu      sync.RWMutex
	willing map[string]float64
	opts    Options
	logger  *slog.Logger
	done    chan struct{}
	closed  bool
}

// NewRegistry creates a willingness registry and starts its decay loop.
func NewRegistry(opts Options, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		willing: make(map[string]float64),
		opts:    opts.withDefaults(),
		logger:  logger.With("component", "willing"),
		done:    make(chan struct{}),
	}
	go r.decayLoop()
	return r
}

// Get returns the current willingness for a stream.
func (r *Registry) Get(streamID string) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.willing[streamID]
}

// Set overrides a stream's willingness, clamped to [0, Max]. The follow-up
// tracker uses this to force a reply after a positive verdict.
func (r *Registry) Set(streamID string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.willing[streamID] = math.Min(math.Max(value, 0), r.opts.Max)
}

// OnReceived amplifies willingness for an incoming message and returns the
// probability that the bot should reply to it.
func (r *Registry) OnReceived(streamID string, mentioned, emoji bool) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := r.willing[streamID] + amplifyMessage
	if mentioned {
		w += amplifyMention
	}
	w = math.Min(w, r.opts.Max)
	r.willing[streamID] = w

	probability := (w - probabilityFloor) * 2
	probability = math.Min(math.Max(probability, 0), 1)
	if emoji {
		probability *= emojiPenalty
	}
	return probability
}

// OnReplySent spends willingness after the bot commits to a reply.
func (r *Registry) OnReplySent(streamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.willing[streamID] - replySpend
	if w < 0 {
		w = 0
	}
	r.willing[streamID] = w
}

// Snapshot returns a copy of all stream willingness values.
func (r *Registry) Snapshot() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]float64, len(r.willing))
	for k, v := range r.willing {
		out[k] = v
	}
	return out
}

func (r *Registry) decayLoop() {
	ticker := time.NewTicker(r.opts.DecayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.decayOnce()
		case <-r.done:
			return
		}
	}
}

// decayOnce moves every stream's willingness toward the baseline and drops
// streams that have settled there, keeping the map bounded.
func (r *Registry) decayOnce() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, w := range r.willing {
		next := r.opts.Baseline + (w-r.opts.Baseline)*r.opts.DecayFactor
		if math.Abs(next-r.opts.Baseline) < 0.01 {
			delete(r.willing, id)
			continue
		}
		r.willing[id] = next
	}
}

// Close stops the decay loop. Safe to call multiple times.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		close(r.done)
		r.closed = true
	}
}
