// ABOUTME: Matrix platform adapter built on mautrix sync
// ABOUTME: Converts room events to pipeline messages and delivers replies

package matrix

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/linger/internal/message"
	"github.com/2389/linger/internal/platform"
	"github.com/2389/linger/internal/responder"
)

// Platform is the name messages from this adapter carry.
const Platform = "matrix"

// typingTimeout is the duration the typing indicator shows.
const typingTimeout = 30 * time.Second

// networkTimeout bounds Matrix API calls made off the delivery path.
const networkTimeout = 10 * time.Second

// Config connects linger to a Matrix homeserver as a regular user.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string

	// E2EE enables end-to-end encryption backed by an on-disk crypto store
	// under DataDir.
	E2EE    bool
	DataDir string

	// RecoveryKey verifies the device for cross-signing. Optional; without
	// it the device encrypts but stays unverified.
	RecoveryKey string
}

// Client is the Matrix adapter. It satisfies platform.Adapter and the
// pipeline's Sender.
type Client struct {
	cfg     Config
	client  *mautrix.Client
	handler platform.Handler
	logger  *slog.Logger

	// runCtx is the parent context for message handling goroutines, set
	// before the syncer starts.
	runCtx context.Context

	connected atomic.Bool
}

// New builds the adapter. The handler receives every text and image message
// from rooms the account is in; room gating happens in the pipeline.
func New(cfg Config, handler platform.Handler, logger *slog.Logger) (*Client, error) {
	if cfg.Homeserver == "" || cfg.UserID == "" || cfg.AccessToken == "" {
		return nil, errors.New("matrix needs homeserver, user_id and access_token")
	}
	if handler == nil {
		return nil, errors.New("matrix needs a message handler")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	return &Client{
		cfg:     cfg,
		client:  client,
		handler: handler,
		logger:  logger.With("component", "matrix"),
	}, nil
}

// Name implements platform.Adapter.
func (c *Client) Name() string { return Platform }

// Connected reports whether the sync loop is running.
func (c *Client) Connected() bool { return c.connected.Load() }

// Run syncs with the homeserver until ctx is cancelled. Call it once.
func (c *Client) Run(ctx context.Context) error {
	c.logger.Info("starting matrix adapter",
		"homeserver", c.cfg.Homeserver,
		"user_id", c.cfg.UserID,
		"e2ee", c.cfg.E2EE)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.runCtx = runCtx

	if c.cfg.E2EE {
		crypto, err := setupCrypto(runCtx, c.client, c.cfg, c.logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer crypto.Close()
	}

	syncer, ok := c.client.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", c.client.Syncer)
	}
	syncer.OnEventType(event.EventMessage, c.handleEvent)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- c.client.SyncWithContext(runCtx)
	}()

	c.connected.Store(true)
	defer c.connected.Store(false)
	c.logger.Info("matrix adapter running")

	select {
	case <-ctx.Done():
		c.logger.Info("shutting down matrix adapter")
		return nil
	case err := <-syncErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("matrix sync: %w", err)
		}
		return nil
	}
}

// handleEvent runs on the sync loop, so handling happens in a goroutine.
func (c *Client) handleEvent(_ context.Context, evt *event.Event) {
	msg, ok := eventMessage(evt, c.client.UserID)
	if !ok {
		return
	}
	c.logger.Debug("received message",
		"room", evt.RoomID.String(),
		"sender", evt.Sender.String())
	go c.handler(c.runCtx, msg)
}

// SendText delivers one reply segment to a room, with a formatted body when
// the markdown renders. It returns the event id.
func (c *Client) SendText(ctx context.Context, target message.Target, text string) (string, error) {
	roomID := id.RoomID(target.GroupID)
	if roomID == "" {
		return "", errors.New("matrix target has no room")
	}
	if html, err := responder.RenderHTML(text); err == nil && html != "" {
		resp, err := c.client.SendMessageEvent(ctx, roomID, event.EventMessage, &event.MessageEventContent{
			MsgType:       event.MsgText,
			Body:          text,
			Format:        event.FormatHTML,
			FormattedBody: html,
		})
		if err != nil {
			return "", fmt.Errorf("sending formatted message: %w", err)
		}
		return resp.EventID.String(), nil
	}
	resp, err := c.client.SendText(ctx, roomID, text)
	if err != nil {
		return "", fmt.Errorf("sending message: %w", err)
	}
	return resp.EventID.String(), nil
}

// Typing raises or clears the room typing indicator. The call is detached
// from the delivery context so shutdown still clears the indicator.
func (c *Client) Typing(ctx context.Context, target message.Target, typing bool) error {
	roomID := id.RoomID(target.GroupID)
	if roomID == "" {
		return errors.New("matrix target has no room")
	}
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), networkTimeout)
	defer cancel()
	_, err := c.client.UserTyping(callCtx, roomID, typing, timeout)
	return err
}

// eventMessage converts a room event into the pipeline's wire shape. The
// second return is false for events the bot does not handle: its own
// messages and non-text, non-image content.
func eventMessage(evt *event.Event, selfID id.UserID) (message.Message, bool) {
	if evt.Sender == selfID {
		return message.Message{}, false
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok {
		return message.Message{}, false
	}

	var seg message.Seg
	switch content.MsgType {
	case event.MsgText:
		seg = message.Text(content.Body)
	case event.MsgImage:
		seg = message.Seg{Type: message.SegImage, Data: string(content.URL)}
	default:
		return message.Message{}, false
	}

	// Intentional mentions arrive as metadata, not text, so they become an
	// "at" segment the mention detector understands.
	if mentionsUser(content.Mentions, selfID) {
		seg = message.List(message.Seg{Type: message.SegAt, Data: selfID.String()}, seg)
	}

	return message.Message{
		Info: message.Info{
			Platform:  Platform,
			MessageID: evt.ID.String(),
			Time:      evt.Timestamp / 1000,
			Group: &message.GroupInfo{
				Platform: Platform,
				GroupID:  evt.RoomID.String(),
			},
			User: &message.UserInfo{
				Platform: Platform,
				UserID:   evt.Sender.String(),
				Nickname: evt.Sender.Localpart(),
			},
		},
		Segment: seg,
		Raw:     content.Body,
	}, true
}

func mentionsUser(mentions *event.Mentions, userID id.UserID) bool {
	if mentions == nil {
		return false
	}
	for _, mentioned := range mentions.UserIDs {
		if mentioned == userID {
			return true
		}
	}
	return false
}
