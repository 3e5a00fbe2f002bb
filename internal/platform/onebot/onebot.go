// ABOUTME: OneBot v11 platform adapter over a WebSocket connection
// ABOUTME: Parses message events into pipeline messages and sends replies

package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/linger/internal/message"
	"github.com/2389/linger/internal/platform"
)

// Platform is the name messages from this adapter carry.
const Platform = "onebot"

const (
	dialTimeout      = 10 * time.Second
	defaultReconnect = 5 * time.Second
)

// Config connects linger to a OneBot v11 implementation such as NapCat or
// go-cqhttp running a WebSocket server.
type Config struct {
	// URL is the implementation's endpoint, e.g. ws://127.0.0.1:3001.
	URL string
	// AccessToken is sent as a bearer token when set.
	AccessToken string
	// Reconnect is the wait between connection attempts. Defaults to 5s.
	Reconnect time.Duration
}

// Client is the OneBot adapter. It satisfies platform.Adapter and the
// pipeline's Sender.
type Client struct {
	cfg     Config
	handler platform.Handler
	logger  *slog.Logger

	// mu guards conn; the websocket allows one concurrent writer.
	mu   sync.Mutex
	conn *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan actionResponse

	echo      atomic.Int64
	connected atomic.Bool
}

// frame is the minimal shape peeked at to route an inbound payload: action
// responses carry the request's echo, events carry a post type.
type frame struct {
	Echo          string `json:"echo"`
	PostType      string `json:"post_type"`
	MetaEventType string `json:"meta_event_type"`
}

// messageEvent is a OneBot v11 message event. The message field stays raw
// because implementations send either the segment array or a plain string.
type messageEvent struct {
	Time        int64           `json:"time"`
	SelfID      int64           `json:"self_id"`
	MessageType string          `json:"message_type"`
	MessageID   int64           `json:"message_id"`
	GroupID     int64           `json:"group_id"`
	UserID      int64           `json:"user_id"`
	Message     json.RawMessage `json:"message"`
	RawMessage  string          `json:"raw_message"`
	Sender      struct {
		Nickname string `json:"nickname"`
		Card     string `json:"card"`
	} `json:"sender"`
}

type actionResponse struct {
	Status  string `json:"status"`
	Retcode int    `json:"retcode"`
	Data    struct {
		MessageID int64 `json:"message_id"`
	} `json:"data"`
	Echo string `json:"echo"`
}

// New builds the adapter. The handler receives every message event from the
// implementation; chat gating happens in the pipeline.
func New(cfg Config, handler platform.Handler, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("onebot needs a websocket url")
	}
	if handler == nil {
		return nil, errors.New("onebot needs a message handler")
	}
	if cfg.Reconnect <= 0 {
		cfg.Reconnect = defaultReconnect
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "onebot"),
		pending: make(map[string]chan actionResponse),
	}, nil
}

// Name implements platform.Adapter.
func (c *Client) Name() string { return Platform }

// Connected reports whether the websocket is currently up.
func (c *Client) Connected() bool { return c.connected.Load() }

// Run connects and reads events until ctx is cancelled, redialing after
// every connection loss.
func (c *Client) Run(ctx context.Context) error {
	c.logger.Info("starting onebot adapter", "url", c.cfg.URL)
	for {
		if err := c.connectOnce(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("connection lost",
				"error", err,
				"retry_in", c.cfg.Reconnect)
		}
		select {
		case <-ctx.Done():
			c.logger.Info("shutting down onebot adapter")
			return nil
		case <-time.After(c.cfg.Reconnect):
		}
	}
}

// connectOnce dials and reads until the connection drops, reporting why.
func (c *Client) connectOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	header := http.Header{}
	if c.cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dialing %s: %w (status %s)", c.cfg.URL, err, resp.Status)
		}
		return fmt.Errorf("dialing %s: %w", c.cfg.URL, err)
	}

	c.setConn(conn)
	c.connected.Store(true)
	c.logger.Info("connected")
	defer func() {
		c.connected.Store(false)
		c.setConn(nil)
		conn.Close()
	}()

	// ReadMessage has no context, so cancellation closes the socket under it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.dispatch(ctx, data)
	}
}

func (c *Client) dispatch(ctx context.Context, data []byte) {
	var head frame
	if err := json.Unmarshal(data, &head); err != nil {
		c.logger.Debug("dropping unparseable payload", "error", err)
		return
	}
	if head.Echo != "" {
		c.resolve(head.Echo, data)
		return
	}
	switch head.PostType {
	case "message":
		c.handleMessageEvent(ctx, data)
	case "meta_event":
		c.logger.Debug("meta event", "type", head.MetaEventType)
	}
}

// resolve routes an action response to the waiting call.
func (c *Client) resolve(echo string, data []byte) {
	var resp actionResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Debug("dropping unparseable action response", "echo", echo, "error", err)
		return
	}
	c.pendingMu.Lock()
	ch, ok := c.pending[echo]
	delete(c.pending, echo)
	c.pendingMu.Unlock()
	if ok {
		ch <- resp
	}
}

// handleMessageEvent runs on the read loop, so handling happens in a
// goroutine.
func (c *Client) handleMessageEvent(ctx context.Context, data []byte) {
	var ev messageEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		c.logger.Debug("dropping malformed message event", "error", err)
		return
	}
	if ev.UserID == ev.SelfID {
		return
	}
	msg := eventMessage(ev)
	c.logger.Debug("received message",
		"message_type", ev.MessageType,
		"user_id", msg.Info.User.UserID)
	go c.handler(ctx, msg)
}

// SendText delivers one reply segment via send_msg and returns the message
// id the implementation assigned.
func (c *Client) SendText(ctx context.Context, target message.Target, text string) (string, error) {
	params := map[string]any{"message": text}
	if target.IsGroup() {
		params["message_type"] = "group"
		params["group_id"] = numericID(target.GroupID)
	} else {
		params["message_type"] = "private"
		params["user_id"] = numericID(target.UserID)
	}
	resp, err := c.call(ctx, "send_msg", params)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(resp.Data.MessageID, 10), nil
}

// Typing is a no-op: the OneBot v11 action set has no typing indicator.
func (c *Client) Typing(ctx context.Context, target message.Target, typing bool) error {
	return nil
}

// call sends an action frame and waits for the matching echo.
func (c *Client) call(ctx context.Context, action string, params any) (actionResponse, error) {
	echo := strconv.FormatInt(c.echo.Add(1), 10)
	payload, err := json.Marshal(map[string]any{
		"action": action,
		"params": params,
		"echo":   echo,
	})
	if err != nil {
		return actionResponse{}, fmt.Errorf("encoding %s: %w", action, err)
	}

	ch := make(chan actionResponse, 1)
	c.pendingMu.Lock()
	c.pending[echo] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, echo)
		c.pendingMu.Unlock()
	}()

	if err := c.write(payload); err != nil {
		return actionResponse{}, fmt.Errorf("sending %s: %w", action, err)
	}

	select {
	case resp := <-ch:
		// Retcode 1 means the implementation queued the action.
		if resp.Status == "failed" || (resp.Retcode != 0 && resp.Retcode != 1) {
			return actionResponse{}, fmt.Errorf("%s rejected: retcode %d", action, resp.Retcode)
		}
		return resp, nil
	case <-ctx.Done():
		return actionResponse{}, fmt.Errorf("waiting for %s response: %w", action, ctx.Err())
	}
}

func (c *Client) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// eventMessage converts a OneBot message event into the pipeline's wire
// shape. QQ's numeric ids are carried as strings.
func eventMessage(ev messageEvent) message.Message {
	var group *message.GroupInfo
	if ev.MessageType == "group" {
		group = &message.GroupInfo{
			Platform: Platform,
			GroupID:  strconv.FormatInt(ev.GroupID, 10),
		}
	}
	return message.Message{
		Info: message.Info{
			Platform:  Platform,
			MessageID: strconv.FormatInt(ev.MessageID, 10),
			Time:      ev.Time,
			Group:     group,
			User: &message.UserInfo{
				Platform: Platform,
				UserID:   strconv.FormatInt(ev.UserID, 10),
				Nickname: ev.Sender.Nickname,
				Cardname: ev.Sender.Card,
			},
		},
		Segment: parseSegments(ev.Message),
		Raw:     ev.RawMessage,
	}
}

// parseSegments decodes the message field, accepting both the segment array
// and the plain string format.
func parseSegments(raw json.RawMessage) message.Seg {
	var wire []struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return message.Text(s)
		}
		return message.Text("")
	}

	segs := make([]message.Seg, 0, len(wire))
	for _, w := range wire {
		segs = append(segs, convertSegment(w.Type, w.Data))
	}
	if len(segs) == 1 {
		return segs[0]
	}
	return message.List(segs...)
}

func convertSegment(typ string, data map[string]any) message.Seg {
	switch typ {
	case "text":
		return message.Text(segField(data, "text"))
	case "at":
		return message.Seg{Type: message.SegAt, Data: segField(data, "qq")}
	case "face":
		return message.Seg{Type: message.SegEmoji, Data: segField(data, "id")}
	case "image":
		return message.Seg{Type: message.SegImage, Data: segField(data, "url", "file")}
	case "reply":
		return message.Seg{Type: message.SegReply, Data: segField(data, "id")}
	default:
		// Unknown types ride along; PlainText skips them.
		return message.Seg{Type: typ}
	}
}

// segField returns the first present key, tolerating the numeric values
// some implementations emit where the standard says string.
func segField(data map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := data[k].(type) {
		case string:
			return v
		case float64:
			return strconv.FormatInt(int64(v), 10)
		}
	}
	return ""
}

// numericID keeps QQ ids numeric on the wire but passes through ids that do
// not parse, for implementations bridging other networks.
func numericID(id string) any {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return n
	}
	return id
}
