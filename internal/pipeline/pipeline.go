// ABOUTME: Central message pipeline: every platform message flows through
// ABOUTME: gating, follow-up feeding, persistence, the reply roll and delivery

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/2389/linger/internal/dedupe"
	"github.com/2389/linger/internal/events"
	"github.com/2389/linger/internal/followup"
	"github.com/2389/linger/internal/message"
	"github.com/2389/linger/internal/persona"
	"github.com/2389/linger/internal/responder"
	"github.com/2389/linger/internal/store"
	"github.com/2389/linger/internal/stream"
	"github.com/2389/linger/internal/willing"
)

const (
	// respondTimeout bounds one reply generation end to end.
	respondTimeout = 2 * time.Minute
	// persistTimeout bounds detached bookkeeping writes.
	persistTimeout = 5 * time.Second
)

// ChatConfig gates which messages the bot engages with.
type ChatConfig struct {
	// AllowPrivate enables direct chats.
	AllowPrivate bool
	// Groups is the group allowlist; empty allows every group.
	Groups []string
	// BanUserIDs are never processed.
	BanUserIDs []string
	// BanWords drop a message when its text contains any of them.
	BanWords []string
	// BanPatterns are regular expressions that drop matching messages.
	BanPatterns []string
	// SelfIDs maps platform name to the bot's own account id there,
	// for mention detection.
	SelfIDs map[string]string
}

// Options wires a Pipeline. Everything but Dedupe, Events and Rand is
// required.
type Options struct {
	Streams   *stream.Registry
	Store     store.Store
	Dedupe    *dedupe.Cache
	Willing   *willing.Registry
	FollowUp  *followup.Manager
	Responder *responder.Responder
	Outbox    *Outbox
	Events    *events.Broadcaster
	Persona   *persona.Persona
	Chat      ChatConfig
	Logger    *slog.Logger
	// Rand is the reply roll source, [0,1). Defaults to math/rand.
	Rand func() float64
}

// Pipeline runs the receive-to-reply path for every platform message.
type Pipeline struct {
	streams   *stream.Registry
	store     store.Store
	dedupe    *dedupe.Cache
	willing   *willing.Registry
	followup  *followup.Manager
	responder *responder.Responder
	outbox    *Outbox
	events    *events.Broadcaster
	persona   *persona.Persona
	chat      ChatConfig

	banPatterns []*regexp.Regexp
	rand        func() float64
	logger      *slog.Logger

	wg sync.WaitGroup
}

// New builds a Pipeline, compiling the configured ban patterns.
func New(opts Options) (*Pipeline, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	patterns := make([]*regexp.Regexp, 0, len(opts.Chat.BanPatterns))
	for _, raw := range opts.Chat.BanPatterns {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("compiling ban pattern %q: %w", raw, err)
		}
		patterns = append(patterns, re)
	}
	return &Pipeline{
		streams:     opts.Streams,
		store:       opts.Store,
		dedupe:      opts.Dedupe,
		willing:     opts.Willing,
		followup:    opts.FollowUp,
		responder:   opts.Responder,
		outbox:      opts.Outbox,
		events:      opts.Events,
		persona:     opts.Persona,
		chat:        opts.Chat,
		banPatterns: patterns,
		rand:        opts.Rand,
		logger:      logger.With("component", "pipeline"),
	}, nil
}

// HandleIncoming runs one platform message through the pipeline. Every exit
// is deliberate: duplicates, banned senders, unallowed chats and filtered
// content drop silently, a lost reply roll stays quiet, and only a won roll
// generates and delivers a reply and opens a follow-up window.
func (p *Pipeline) HandleIncoming(ctx context.Context, msg message.Message) {
	if msg.Info.User == nil {
		p.logger.Debug("dropping message without author", "platform", msg.Info.Platform)
		return
	}
	if p.dedupe != nil && p.dedupe.Seen(msg.Info.Platform, msg.Info.MessageID) {
		p.logger.Debug("dropping redelivered message",
			"platform", msg.Info.Platform,
			"message_id", msg.Info.MessageID)
		return
	}
	if slices.Contains(p.chat.BanUserIDs, msg.Info.User.UserID) {
		p.logger.Debug("dropping message from banned user", "user_id", msg.Info.User.UserID)
		return
	}
	if msg.Info.Group != nil {
		if !p.groupAllowed(msg.Info.Group.GroupID) {
			return
		}
	} else if !p.chat.AllowPrivate {
		return
	}

	st := p.streams.GetOrCreate(ctx, msg.Info.Platform, msg.Info.User, msg.Info.Group)
	in := message.NewIncoming(msg)
	in.StreamID = st.ID

	// Follow-up windows see the raw conversation, including messages the
	// content filters would drop.
	p.followup.Feed(st.ID, in)

	if reason := p.filterReason(in.PlainText); reason != "" {
		p.logger.Debug("dropping filtered message", "stream_id", st.ID, "reason", reason)
		return
	}

	p.saveMessage(&store.MessageRecord{
		ID:        msg.Info.MessageID,
		StreamID:  st.ID,
		Sender:    msg.Info.User.DisplayName(),
		SenderID:  msg.Info.User.UserID,
		Content:   in.PlainText,
		CreatedAt: messageTime(msg),
	})
	p.publish(&events.Event{
		Type:     events.TypeMessageReceived,
		StreamID: st.ID,
		Data: map[string]string{
			"sender":  msg.Info.User.DisplayName(),
			"preview": preview(in.PlainText),
		},
	})

	mentioned := in.Mentions(p.chat.SelfIDs[msg.Info.Platform], p.persona.Names())
	probability := p.willing.OnReceived(st.ID, mentioned, in.IsEmoji)
	p.logger.Debug("message processed",
		"stream_id", st.ID,
		"sender", msg.Info.User.DisplayName(),
		"preview", preview(in.PlainText),
		"willingness", p.willing.Get(st.ID),
		"probability", probability)
	roll := p.roll()
	if roll >= probability {
		p.logger.Debug("staying quiet",
			"stream_id", st.ID,
			"probability", probability,
			"roll", roll)
		return
	}
	p.willing.OnReplySent(st.ID)

	genCtx, cancel := context.WithTimeout(ctx, respondTimeout)
	reply, err := p.responder.Respond(genCtx, st.ID, in)
	cancel()
	if err != nil {
		p.logger.Warn("reply generation failed", "stream_id", st.ID, "error", err)
		return
	}
	if len(reply.Segments) == 0 {
		p.logger.Debug("model produced nothing to send", "stream_id", st.ID)
		return
	}

	anchorID := replyID()
	results := p.outbox.Deliver(ctx, Delivery{
		StreamID: st.ID,
		Target:   st.Target(),
		Segments: reply.Segments,
	})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		sent := 0
		for res := range results {
			if res.Err != nil {
				continue
			}
			sent++
			id := res.PlatformID
			if id == "" {
				id = anchorID + "-" + strconv.Itoa(res.Index)
			}
			p.saveMessage(&store.MessageRecord{
				ID:        id,
				StreamID:  st.ID,
				Sender:    p.persona.Bot.Name,
				Content:   res.Text,
				IsBot:     true,
				CreatedAt: time.Now(),
			})
			p.publish(&events.Event{
				Type:     events.TypeReplySent,
				StreamID: st.ID,
				Data: map[string]string{
					"preview": preview(res.Text),
					"emotion": reply.Emotion,
					"model":   reply.Model,
				},
			})
		}
		if sent > 0 {
			p.followup.Start(st.ID, anchorID)
		}
	}()
}

// Close waits for in-flight delivery bookkeeping to finish.
func (p *Pipeline) Close() {
	p.wg.Wait()
}

func (p *Pipeline) groupAllowed(groupID string) bool {
	if len(p.chat.Groups) == 0 {
		return true
	}
	return slices.Contains(p.chat.Groups, groupID)
}

func (p *Pipeline) filterReason(text string) string {
	for _, w := range p.chat.BanWords {
		if w != "" && strings.Contains(text, w) {
			return "banned word"
		}
	}
	for _, re := range p.banPatterns {
		if re.MatchString(text) {
			return "banned pattern"
		}
	}
	return ""
}

func (p *Pipeline) roll() float64 {
	if p.rand != nil {
		return p.rand()
	}
	return rand.Float64()
}

// saveMessage persists with a detached timeout so a cancelled platform
// context cannot lose history.
func (p *Pipeline) saveMessage(rec *store.MessageRecord) {
	saveCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := p.store.SaveMessage(saveCtx, rec); err != nil {
		p.logger.Error("saving message failed",
			"stream_id", rec.StreamID,
			"message_id", rec.ID,
			"error", err)
	}
}

func (p *Pipeline) publish(ev *events.Event) {
	if p.events != nil {
		p.events.Publish(ev)
	}
}

// replyID mints the anchor id tying a reply to its follow-up window.
func replyID() string {
	return "mt" + strconv.FormatInt(time.Now().UnixMilli(), 10)
}

func messageTime(msg message.Message) time.Time {
	if msg.Info.Time > 0 {
		return time.Unix(msg.Info.Time, 0)
	}
	return time.Now()
}

func preview(text string) string {
	const max = 80
	if len(text) <= max {
		return text
	}
	return text[:max] + "..."
}
