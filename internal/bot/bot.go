// ABOUTME: Bot orchestrator that assembles the message pipeline, platform
// ABOUTME: adapters, and admin API, and manages their lifecycle as one daemon

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"tailscale.com/tsnet"

	"github.com/2389/linger/internal/admin"
	"github.com/2389/linger/internal/auth"
	"github.com/2389/linger/internal/config"
	"github.com/2389/linger/internal/dedupe"
	"github.com/2389/linger/internal/evaluator"
	"github.com/2389/linger/internal/events"
	"github.com/2389/linger/internal/followup"
	"github.com/2389/linger/internal/llm"
	"github.com/2389/linger/internal/persona"
	"github.com/2389/linger/internal/pipeline"
	"github.com/2389/linger/internal/platform"
	"github.com/2389/linger/internal/platform/matrix"
	"github.com/2389/linger/internal/platform/onebot"
	"github.com/2389/linger/internal/responder"
	"github.com/2389/linger/internal/store"
	"github.com/2389/linger/internal/stream"
	"github.com/2389/linger/internal/willing"
)

// Bot orchestrates the linger daemon components. It owns the message
// pipeline, the platform adapters, and the admin HTTP server.
type Bot struct {
	config      *config.Config
	store       *store.SQLiteStore
	pipeline    *pipeline.Pipeline
	followup    *followup.Manager
	willing     *willing.Registry
	dedupe      *dedupe.Cache
	events      *events.Broadcaster
	outbox      *pipeline.Outbox
	adapters    []platform.Adapter
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	// serverID identifies this daemon instance across restarts
	serverID string
}

// initStore creates the sqlite store, honoring the LINGER_DB_PATH override.
func initStore(cfg *config.Config) (*store.SQLiteStore, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("LINGER_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// loadPersona reads the configured persona file, falling back to the
// built-in persona when none is configured.
func loadPersona(cfg *config.Config, logger *slog.Logger) (*persona.Persona, error) {
	if cfg.Persona.Path == "" {
		logger.Info("no persona file configured, using built-in persona")
		return persona.Default(), nil
	}
	p, err := persona.Load(cfg.Persona.Path)
	if err != nil {
		return nil, fmt.Errorf("loading persona: %w", err)
	}
	return p, nil
}

// buildPicker builds the three model slots. Slots without a model of their
// own answer with the normal model.
func buildPicker(cfg *config.Config, logger *slog.Logger) *llm.Picker {
	slot := func(mc config.ModelConfig) llm.Client {
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       mc.Model,
			Temperature: mc.Temperature,
			MaxTokens:   mc.MaxTokens,
		}, logger)
	}

	reasoningCfg := cfg.LLM.Reasoning
	if reasoningCfg.Model == "" {
		reasoningCfg = cfg.LLM.Normal
	}
	minorCfg := cfg.LLM.Minor
	if minorCfg.Model == "" {
		minorCfg = cfg.LLM.Normal
	}

	return llm.NewPicker(slot(reasoningCfg), slot(cfg.LLM.Normal), slot(minorCfg),
		cfg.LLM.Reasoning.Probability, cfg.LLM.Normal.Probability, nil)
}

// chatConfig maps the YAML chat section onto the pipeline's gate config.
func chatConfig(cfg *config.Config) pipeline.ChatConfig {
	selfIDs := make(map[string]string)
	if cfg.Matrix.Enabled {
		selfIDs[matrix.Platform] = cfg.Matrix.UserID
	}
	if cfg.OneBot.Enabled && cfg.OneBot.SelfID != "" {
		selfIDs[onebot.Platform] = cfg.OneBot.SelfID
	}
	return pipeline.ChatConfig{
		AllowPrivate: cfg.Chat.EnableFriendChat,
		Groups:       cfg.Chat.AllowedGroups,
		BanUserIDs:   cfg.Chat.BanUserIDs,
		BanWords:     cfg.Chat.BanWords,
		BanPatterns:  cfg.Chat.BanMsgsRegex,
		SelfIDs:      selfIDs,
	}
}

// verifierFor returns the admin token verifier, or nil when auth is off.
func verifierFor(cfg *config.Config, logger *slog.Logger) auth.Verifier {
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("admin auth disabled - no jwt_secret configured")
		return nil
	}
	logger.Info("admin auth enabled")
	return auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
}

// matrixDataDir resolves where the matrix crypto store lives.
// Priority: matrix.data_dir > XDG_DATA_HOME/linger > ~/.local/share/linger
func matrixDataDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory for matrix data (set matrix.data_dir explicitly): %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "linger"), nil
}

// eventObserver publishes follow-up tracker lifecycle onto the event feed.
type eventObserver struct {
	events *events.Broadcaster
}

func (o *eventObserver) TrackingStarted(streamID, anchorID string) {
	o.events.Publish(&events.Event{
		Type:     events.TypeFollowUpStarted,
		StreamID: streamID,
		Data:     map[string]string{"anchor_id": anchorID},
	})
}

func (o *eventObserver) TrackingEnded(streamID, anchorID string, outcome followup.Outcome) {
	o.events.Publish(&events.Event{
		Type:     events.TypeFollowUpEnded,
		StreamID: streamID,
		Data:     map[string]string{"anchor_id": anchorID, "outcome": outcome.String()},
	})
}

func (o *eventObserver) WindowRestarted(streamID, anchorID string) {
	o.events.Publish(&events.Event{
		Type:     events.TypeFollowUpRestarted,
		StreamID: streamID,
		Data:     map[string]string{"anchor_id": anchorID},
	})
}

// New creates a new Bot instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Bot, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	p, err := loadPersona(cfg, logger)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	broadcaster := events.NewBroadcaster(logger)
	streams := stream.NewRegistry(st, logger)
	dedupeCache := dedupe.New(5*time.Minute, 10_000) // TTL 5min, max 10k entries
	willingReg := willing.NewRegistry(willing.Options{
		Baseline:      cfg.Willing.Baseline,
		Max:           cfg.Willing.Max,
		DecayInterval: cfg.Willing.DecayInterval,
	}, logger)

	picker := buildPicker(cfg, logger)
	resp := responder.New(picker, st, p, logger)
	eval := evaluator.New(picker.Minor(), p.FollowUpPrompt(), logger)

	followupMgr := followup.NewManager(followup.Options{
		Config: followup.Config{
			Enabled:      cfg.FollowUp.Enabled,
			Timeout:      cfg.FollowUp.Timeout,
			MaxMessages:  cfg.FollowUp.MaxMessages,
			PollInterval: cfg.FollowUp.PollInterval,
			MaxRestarts:  cfg.FollowUp.MaxRestarts,
		},
		Evaluator: eval,
		Willing:   willingReg,
		Observer:  &eventObserver{events: broadcaster},
		Logger:    logger,
	})

	b := &Bot{
		config:   cfg,
		store:    st,
		followup: followupMgr,
		willing:  willingReg,
		dedupe:   dedupeCache,
		events:   broadcaster,
		outbox:   pipeline.NewOutbox(logger),
		logger:   logger.With("component", "bot"),
		serverID: generateServerID(),
	}

	pl, err := pipeline.New(pipeline.Options{
		Streams:   streams,
		Store:     st,
		Dedupe:    dedupeCache,
		Willing:   willingReg,
		FollowUp:  followupMgr,
		Responder: resp,
		Outbox:    b.outbox,
		Events:    broadcaster,
		Persona:   p,
		Chat:      chatConfig(cfg),
		Logger:    logger,
	})
	if err != nil {
		b.closeOptionalComponents()
		_ = st.Close()
		return nil, err
	}
	b.pipeline = pl

	if err := b.setupPlatforms(logger); err != nil {
		b.closeOptionalComponents()
		_ = st.Close()
		return nil, err
	}

	// Admin API
	mux := http.NewServeMux()
	adminServer := admin.New(admin.Options{
		Store:     st,
		FollowUp:  followupMgr,
		Willing:   willingReg,
		Events:    broadcaster,
		Platforms: b,
		Verifier:  verifierFor(cfg, logger),
		Logger:    logger,
	})
	adminServer.RegisterRoutes(mux)

	b.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return b, nil
}

// setupPlatforms builds the enabled platform adapters and registers their
// senders with the outbox. The handler they all share is the pipeline.
func (b *Bot) setupPlatforms(logger *slog.Logger) error {
	handler := platform.Handler(b.pipeline.HandleIncoming)

	if b.config.Matrix.Enabled {
		dataDir, err := matrixDataDir(b.config.Matrix.DataDir)
		if err != nil {
			return err
		}
		mx, err := matrix.New(matrix.Config{
			Homeserver:  b.config.Matrix.Homeserver,
			UserID:      b.config.Matrix.UserID,
			AccessToken: b.config.Matrix.AccessToken,
			E2EE:        b.config.Matrix.E2EE,
			DataDir:     dataDir,
			RecoveryKey: b.config.Matrix.RecoveryKey,
		}, handler, logger)
		if err != nil {
			return fmt.Errorf("creating matrix client: %w", err)
		}
		b.outbox.Register(matrix.Platform, mx)
		b.adapters = append(b.adapters, mx)
	}

	if b.config.OneBot.Enabled {
		ob, err := onebot.New(onebot.Config{
			URL:         b.config.OneBot.URL,
			AccessToken: b.config.OneBot.AccessToken,
			Reconnect:   b.config.OneBot.Reconnect,
		}, handler, logger)
		if err != nil {
			return fmt.Errorf("creating onebot client: %w", err)
		}
		b.outbox.Register(onebot.Platform, ob)
		b.adapters = append(b.adapters, ob)
	}

	if len(b.adapters) == 0 {
		return errors.New("no chat platform enabled")
	}
	return nil
}

// Connected reports which platform adapters currently hold a live connection.
func (b *Bot) Connected() []string {
	var names []string
	for _, a := range b.adapters {
		if a.Connected() {
			names = append(names, a.Name())
		}
	}
	return names
}

// Run starts the admin server and platform adapters and blocks until the
// context is canceled. Returns nil on graceful shutdown, or an error if a
// component fails.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info("starting bot", "server_id", b.serverID)

	httpListener, err := b.setupListeners(ctx)
	if err != nil {
		return err
	}

	errCh := b.startServers(ctx, httpListener)
	serverErr := b.waitForShutdownSignal(ctx, errCh)

	shutdownErr := b.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startServers starts the HTTP server and platform adapters in goroutines,
// returning the shared error channel.
func (b *Bot) startServers(ctx context.Context, httpLn net.Listener) chan error {
	errCh := make(chan error, 1+len(b.adapters))

	go func() {
		b.logger.Info("admin API listening", "addr", httpLn.Addr().String())
		if err := b.httpServer.Serve(httpLn); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	for _, adapter := range b.adapters {
		go func() {
			b.logger.Info("platform starting", "platform", adapter.Name())
			if err := adapter.Run(ctx); err != nil {
				errCh <- fmt.Errorf("%s platform: %w", adapter.Name(), err)
			}
		}()
	}

	return errCh
}

// waitForShutdownSignal waits for context cancellation or component error.
func (b *Bot) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		b.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		b.logger.Error("component error", "error", err)
		b.drainErrors(errCh)
		return err
	}
}

// drainErrors drains any remaining errors from the channel.
func (b *Bot) drainErrors(errCh chan error) {
	select {
	case additionalErr := <-errCh:
		b.logger.Error("additional component error", "error", additionalErr)
	default:
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (b *Bot) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.Shutdown(ctx)
}

// Shutdown gracefully stops the servers and releases resources. Components
// that write to the store close before the store does.
func (b *Bot) Shutdown(ctx context.Context) error {
	b.logger.Info("shutting down bot")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", b.httpServer.Shutdown(ctx))

	if b.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", b.tsnetServer.Close())
	}

	b.closeOptionalComponents()
	errs = appendCloseError(errs, "store close", b.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// closeOptionalComponents closes components that may be nil when New failed
// partway through assembly. The pipeline closes first so in-flight replies
// drain before their collaborators go away.
func (b *Bot) closeOptionalComponents() {
	if b.pipeline != nil {
		b.pipeline.Close()
	}
	if b.followup != nil {
		b.followup.Close()
	}
	if b.willing != nil {
		b.willing.Close()
	}
	if b.dedupe != nil {
		b.dedupe.Close()
	}
	if b.events != nil {
		b.events.Close()
	}
}

// generateServerID creates a unique identifier for this daemon instance.
func generateServerID() string {
	return "linger-" + uuid.NewString()[:8]
}
