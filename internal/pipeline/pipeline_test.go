// ABOUTME: Pipeline tests: gating, follow-up feeding, the reply roll, and
// ABOUTME: the full receive-reply-track path against in-memory components

package pipeline

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/linger/internal/dedupe"
	"github.com/2389/linger/internal/events"
	"github.com/2389/linger/internal/followup"
	"github.com/2389/linger/internal/llm"
	"github.com/2389/linger/internal/message"
	"github.com/2389/linger/internal/persona"
	"github.com/2389/linger/internal/responder"
	"github.com/2389/linger/internal/store"
	"github.com/2389/linger/internal/stream"
	"github.com/2389/linger/internal/willing"
)

const (
	waitFor = 3 * time.Second
	tick    = 2 * time.Millisecond
)

type stubLLM struct {
	mu      sync.Mutex
	name    string
	content string
	calls   int
}

func (s *stubLLM) Generate(_ context.Context, _ string) (*llm.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return &llm.Result{Content: s.content, Model: s.name}, nil
}

func (s *stubLLM) ModelName() string { return s.name }

type stubEvaluator struct {
	mu      sync.Mutex
	verdict bool
	calls   int
}

func (s *stubEvaluator) Evaluate(_ context.Context, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.verdict, nil
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []string
	typing []bool
	nextID int
}

func (f *fakeSender) SendText(_ context.Context, _ message.Target, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.sent = append(f.sent, text)
	return "plat-" + strconv.Itoa(f.nextID), nil
}

func (f *fakeSender) Typing(_ context.Context, _ message.Target, typing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, typing)
	return nil
}

func (f *fakeSender) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type pipelineFixture struct {
	p        *Pipeline
	st       *store.SQLiteStore
	sender   *fakeSender
	willing  *willing.Registry
	followup *followup.Manager
	eval     *stubEvaluator
	events   *events.Broadcaster
	roll     float64
	rollMu   sync.Mutex
}

func (f *pipelineFixture) setRoll(v float64) {
	f.rollMu.Lock()
	defer f.rollMu.Unlock()
	f.roll = v
}

func newPipelineFixture(t *testing.T, chat ChatConfig, fu followup.Config) *pipelineFixture {
	t.Helper()

	f := &pipelineFixture{
		sender: &fakeSender{},
		eval:   &stubEvaluator{},
		roll:   0.99,
	}

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	f.st = st

	cache := dedupe.New(time.Minute, 1000)
	t.Cleanup(cache.Close)

	f.willing = willing.NewRegistry(willing.Options{DecayInterval: time.Hour}, nil)
	t.Cleanup(f.willing.Close)

	f.followup = followup.NewManager(followup.Options{
		Config:    fu,
		Evaluator: f.eval,
		Willing:   f.willing,
	})
	t.Cleanup(f.followup.Close)

	main := &stubLLM{name: "main", content: "hey!"}
	minor := &stubLLM{name: "minor", content: "neutral"}
	picker := llm.NewPicker(main, main, minor, 1.0, 0.0, func() float64 { return 0 })
	resp := responder.New(picker, st, persona.Default(), nil)

	outbox := NewOutbox(nil)
	outbox.delay = func(string) time.Duration { return 0 }
	outbox.Register("test", f.sender)

	f.events = events.NewBroadcaster(nil)
	t.Cleanup(f.events.Close)

	p, err := New(Options{
		Streams:   stream.NewRegistry(st, nil),
		Store:     st,
		Dedupe:    cache,
		Willing:   f.willing,
		FollowUp:  f.followup,
		Responder: resp,
		Outbox:    outbox,
		Events:    f.events,
		Persona:   persona.Default(),
		Chat:      chat,
		Rand: func() float64 {
			f.rollMu.Lock()
			defer f.rollMu.Unlock()
			return f.roll
		},
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	f.p = p
	return f
}

func defaultChat() ChatConfig {
	return ChatConfig{AllowPrivate: true}
}

func quietFollowUp() followup.Config {
	return followup.Config{Enabled: true, Timeout: time.Minute, MaxMessages: 100, PollInterval: 10 * time.Millisecond}
}

func groupMsg(id, sender, text string) message.Message {
	return message.Message{
		Info: message.Info{
			Platform:  "test",
			MessageID: id,
			Time:      time.Now().Unix(),
			User:      &message.UserInfo{Platform: "test", UserID: "u-" + sender, Nickname: sender},
			Group:     &message.GroupInfo{Platform: "test", GroupID: "g1", Name: "the lounge"},
		},
		Segment: message.Text(text),
	}
}

func privateMsg(id, sender, text string) message.Message {
	m := groupMsg(id, sender, text)
	m.Info.Group = nil
	return m
}

func streamIDFor(msg message.Message) string {
	return stream.DeriveID(msg.Info.Platform, msg.Info.User, msg.Info.Group)
}

func TestHandleIncomingRepliesToMention(t *testing.T) {
	f := newPipelineFixture(t, defaultChat(), quietFollowUp())
	f.setRoll(0)
	ctx := context.Background()

	msg := groupMsg("m1", "alice", "hey linger, you around?")
	sid := streamIDFor(msg)
	f.p.HandleIncoming(ctx, msg)

	require.Eventually(t, func() bool { return f.sender.sentCount() == 1 }, waitFor, tick)
	assert.Equal(t, "hey!", f.sender.sent[0])

	// The reply opened a follow-up window and spent willingness.
	require.Eventually(t, func() bool { return f.followup.IsTracking(sid) }, waitFor, tick)
	assert.Zero(t, f.willing.Get(sid), "reply spend should drain a fresh stream")

	require.Eventually(t, func() bool {
		msgs, err := f.st.RecentMessages(ctx, sid, 10)
		return err == nil && len(msgs) == 2
	}, waitFor, tick)
	msgs, err := f.st.RecentMessages(ctx, sid, 10)
	require.NoError(t, err)
	assert.Equal(t, "hey linger, you around?", msgs[0].Content)
	assert.False(t, msgs[0].IsBot)
	assert.Equal(t, "hey!", msgs[1].Content)
	assert.True(t, msgs[1].IsBot)
}

func TestHandleIncomingQuietOnLostRoll(t *testing.T) {
	f := newPipelineFixture(t, defaultChat(), quietFollowUp())
	f.setRoll(0.99)
	ctx := context.Background()

	msg := groupMsg("m1", "alice", "nothing for the bot here")
	sid := streamIDFor(msg)
	f.p.HandleIncoming(ctx, msg)

	msgs, err := f.st.RecentMessages(ctx, sid, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "the message is stored even when the bot stays quiet")
	assert.False(t, msgs[0].IsBot)

	assert.Equal(t, 0, f.sender.sentCount())
	assert.Equal(t, 0, f.followup.TrackedCount())
	assert.InDelta(t, 0.1, f.willing.Get(sid), 1e-9, "chatter still amplifies willingness")
}

func TestHandleIncomingDedupesRedelivery(t *testing.T) {
	f := newPipelineFixture(t, defaultChat(), quietFollowUp())
	ctx := context.Background()

	msg := groupMsg("m1", "alice", "hello")
	sid := streamIDFor(msg)
	f.p.HandleIncoming(ctx, msg)
	f.p.HandleIncoming(ctx, msg)

	msgs, err := f.st.RecentMessages(ctx, sid, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.InDelta(t, 0.1, f.willing.Get(sid), 1e-9, "the redelivery must not amplify twice")
}

func TestHandleIncomingBannedUser(t *testing.T) {
	chat := defaultChat()
	chat.BanUserIDs = []string{"u-mallory"}
	f := newPipelineFixture(t, chat, quietFollowUp())
	ctx := context.Background()

	msg := groupMsg("m1", "mallory", "hi")
	f.p.HandleIncoming(ctx, msg)

	msgs, err := f.st.RecentMessages(ctx, streamIDFor(msg), 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Empty(t, f.willing.Snapshot())
}

func TestHandleIncomingGroupAllowlist(t *testing.T) {
	chat := defaultChat()
	chat.Groups = []string{"g1"}
	f := newPipelineFixture(t, chat, quietFollowUp())
	ctx := context.Background()

	allowed := groupMsg("m1", "alice", "hello")
	f.p.HandleIncoming(ctx, allowed)

	blocked := groupMsg("m2", "alice", "hello")
	blocked.Info.Group.GroupID = "g-uninvited"
	f.p.HandleIncoming(ctx, blocked)

	msgs, err := f.st.RecentMessages(ctx, streamIDFor(allowed), 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	msgs, err = f.st.RecentMessages(ctx, streamIDFor(blocked), 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestHandleIncomingPrivateGate(t *testing.T) {
	chat := defaultChat()
	chat.AllowPrivate = false
	f := newPipelineFixture(t, chat, quietFollowUp())
	ctx := context.Background()

	msg := privateMsg("m1", "alice", "psst")
	f.p.HandleIncoming(ctx, msg)

	msgs, err := f.st.RecentMessages(ctx, streamIDFor(msg), 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestHandleIncomingFilteredStillFeedsFollowUp(t *testing.T) {
	chat := defaultChat()
	chat.BanWords = []string{"forbidden"}
	f := newPipelineFixture(t, chat, quietFollowUp())
	ctx := context.Background()

	msg := groupMsg("m1", "alice", "that forbidden topic again")
	sid := streamIDFor(msg)
	f.followup.Start(sid, "anchor-1")

	f.p.HandleIncoming(ctx, msg)

	snap := f.followup.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, 1, snap[0].Collected, "filters must not hide messages from the follow-up window")

	msgs, err := f.st.RecentMessages(ctx, sid, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs, "filtered messages stay out of history")
}

func TestHandleIncomingFollowUpForcesNextReply(t *testing.T) {
	fu := followup.Config{Enabled: true, Timeout: 50 * time.Millisecond, MaxMessages: 100, PollInterval: 5 * time.Millisecond, MaxRestarts: 0}
	f := newPipelineFixture(t, defaultChat(), fu)
	f.eval.verdict = true
	f.setRoll(0.99)
	ctx := context.Background()

	first := groupMsg("m1", "alice", "are you still with us?")
	sid := streamIDFor(first)
	f.followup.Start(sid, "anchor-1")
	f.p.HandleIncoming(ctx, first)

	// The window times out, the verdict is positive, willingness jumps.
	require.Eventually(t, func() bool { return f.willing.Get(sid) == followup.WillReplyValue }, waitFor, tick)
	require.Eventually(t, func() bool { return f.followup.TrackedCount() == 0 }, waitFor, tick)

	// Even a terrible roll now loses to probability 1.
	f.p.HandleIncoming(ctx, groupMsg("m2", "alice", "hello?"))
	require.Eventually(t, func() bool { return f.sender.sentCount() == 1 }, waitFor, tick)
}

func TestHandleIncomingEventsPublished(t *testing.T) {
	f := newPipelineFixture(t, defaultChat(), quietFollowUp())
	f.setRoll(0)
	ctx := context.Background()

	firehose, _ := f.events.Subscribe(ctx, events.AllStreams)

	f.p.HandleIncoming(ctx, groupMsg("m1", "alice", "linger, hi"))

	types := make(map[string]bool)
	deadline := time.After(waitFor)
	for len(types) < 2 {
		select {
		case ev := <-firehose:
			types[ev.Type] = true
		case <-deadline:
			t.Fatalf("timed out, saw %v", types)
		}
	}
	assert.True(t, types[events.TypeMessageReceived])
	assert.True(t, types[events.TypeReplySent])
}

func TestNewRejectsBadBanPattern(t *testing.T) {
	chat := defaultChat()
	chat.BanPatterns = []string{"("}
	_, err := New(Options{Chat: chat, Persona: persona.Default()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ban pattern")
}
