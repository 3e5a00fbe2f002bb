// ABOUTME: Reply generation: picks a model, builds the persona prompt from
// ABOUTME: history and relationship state, and post-processes the response

package responder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/linger/internal/llm"
	"github.com/2389/linger/internal/message"
	"github.com/2389/linger/internal/persona"
	"github.com/2389/linger/internal/store"
)

const (
	// contextWindow is how many stored messages feed the reply prompt.
	contextWindow = 12
	// maxSegments caps how many chat messages one reply is split into.
	maxSegments = 3
)

// emotionTags is the tag set in match priority order; the more specific
// tags come before "sad" so substring matches stay unambiguous.
var emotionTags = []string{"happy", "angry", "surprised", "disgusted", "fearful", "sad", "neutral"}

// emotionDeltas maps the emotional tone of a reply to the relationship
// adjustment it earns the conversation.
var emotionDeltas = map[string]float64{
	"happy":     0.5,
	"angry":     -1.0,
	"sad":       -0.5,
	"surprised": 0.2,
	"disgusted": -1.5,
	"fearful":   -0.7,
	"neutral":   0.1,
}

// Reply is a generated response ready for delivery.
type Reply struct {
	// Segments are sent as separate chat messages, in order.
	Segments []string
	// Emotion is the reply's judged emotional tone, one of the tag set.
	Emotion string
	// Model that produced the reply.
	Model string
	// Reasoning is the model's chain of thought when the provider exposes it.
	Reasoning string
}

// Responder turns an incoming message into a persona-voiced reply.
type Responder struct {
	picker  *llm.Picker
	store   store.Store
	persona *persona.Persona
	logger  *slog.Logger
}

// New builds a Responder. Pass nil logger for default.
func New(picker *llm.Picker, st store.Store, p *persona.Persona, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{
		picker:  picker,
		store:   st,
		persona: p,
		logger:  logger.With("component", "responder"),
	}
}

// Respond generates a reply to incoming within streamID. Generation failure
// is the only fatal path; bookkeeping failures (reasoning log, relationship)
// are logged and skipped so a reply still goes out.
func (r *Responder) Respond(ctx context.Context, streamID string, incoming *message.Incoming) (*Reply, error) {
	sender := incoming.SenderNickname()
	if sender == "" {
		sender = "someone"
	}

	relationship, err := r.store.RelationshipValue(ctx, streamID)
	if err != nil {
		r.logger.Warn("reading relationship failed", "stream_id", streamID, "error", err)
		relationship = 0
	}
	history, err := r.store.RecentMessages(ctx, streamID, contextWindow)
	if err != nil {
		r.logger.Warn("loading history failed", "stream_id", streamID, "error", err)
	}

	prompt := r.buildPrompt(sender, incoming.PlainText, history, relationship)
	client := r.picker.Pick()
	res, err := client.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generating reply: %w", err)
	}

	if err := r.store.SaveReasoningLog(ctx, &store.ReasoningLog{
		StreamID:  streamID,
		User:      sender,
		Message:   incoming.PlainText,
		Model:     res.Model,
		Reasoning: res.Reasoning,
		Response:  res.Content,
		Prompt:    prompt,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		r.logger.Warn("saving reasoning log failed", "stream_id", streamID, "error", err)
	}

	emotion := r.emotionOf(ctx, res.Content)
	if delta, ok := emotionDeltas[emotion]; ok {
		if _, err := r.store.AdjustRelationship(ctx, streamID, delta); err != nil {
			r.logger.Warn("adjusting relationship failed", "stream_id", streamID, "error", err)
		}
	}

	reply := &Reply{
		Segments:  splitReply(res.Content),
		Emotion:   emotion,
		Model:     res.Model,
		Reasoning: res.Reasoning,
	}
	r.logger.Debug("reply generated",
		"stream_id", streamID,
		"model", res.Model,
		"segments", len(reply.Segments),
		"emotion", emotion)
	return reply, nil
}

func (r *Responder) buildPrompt(sender, text string, history []*store.MessageRecord, relationship float64) string {
	var b strings.Builder
	b.WriteString(r.persona.PromptHeader())
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Your relationship with %s is %s.\n", sender, relationshipDescriptor(relationship))
	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, m := range history {
			fmt.Fprintf(&b, "%s: %s\n", m.Sender, m.Content)
		}
	}
	fmt.Fprintf(&b, "\n%s just said: %s\n", sender, text)
	fmt.Fprintf(&b, "Reply as %s. %s", r.persona.Bot.Name, r.persona.Personality.ReplyStyle)
	return b.String()
}

func relationshipDescriptor(value float64) string {
	switch {
	case value <= -2:
		return "hostile"
	case value < 0:
		return "wary"
	case value < 2:
		return "neutral"
	case value < 5:
		return "friendly"
	default:
		return "close"
	}
}

// emotionOf asks the minor model to tag the reply's tone. Failures fall
// back to neutral so the reply itself is never blocked.
func (r *Responder) emotionOf(ctx context.Context, reply string) string {
	prompt := "Judge the speaker's emotion in the following message. Answer with exactly one word from: " +
		"happy, angry, sad, surprised, disgusted, fearful, neutral.\n\nMessage:\n" + reply
	res, err := r.picker.Minor().Generate(ctx, prompt)
	if err != nil {
		r.logger.Debug("emotion tagging failed", "error", err)
		return "neutral"
	}
	answer := strings.ToLower(res.Content)
	for _, tag := range emotionTags {
		if strings.Contains(answer, tag) {
			return tag
		}
	}
	return "neutral"
}

// splitReply breaks a response into up to maxSegments chat messages on
// paragraph boundaries. Overflow folds into the final segment.
func splitReply(text string) []string {
	parts := strings.Split(strings.TrimSpace(text), "\n\n")
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if len(segments) >= maxSegments {
			segments[maxSegments-1] += "\n\n" + p
			continue
		}
		segments = append(segments, p)
	}
	if len(segments) == 0 {
		return nil
	}
	return segments
}
