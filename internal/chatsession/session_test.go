package chatsession

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitchat/internal/bus"
	"fitchat/internal/channel"
	"fitchat/internal/message"
	"fitchat/internal/presence"
)

var testRef = channel.Ref{Kind: channel.KindMoai, StorageID: 1}

type fakeMessages struct {
	mu      sync.Mutex
	history []*message.Message
	marked  [][]string
}

func (f *fakeMessages) History(_ context.Context, _ channel.Ref, limit, _ int) ([]*message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.history
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return append([]*message.Message(nil), out...), nil
}

func (f *fakeMessages) HistorySince(_ context.Context, _ channel.Ref, after time.Time) ([]*message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// Inclusive boundary, like the real catch-up query.
	var out []*message.Message
	for _, m := range f.history {
		if !m.CreatedAt.Before(after) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMessages) Send(_ context.Context, ref channel.Ref, senderID, content string, msgType message.Type, metadata map[string]interface{}) (*message.Message, error) {
	m := &message.Message{
		ID: "sent-" + content, Channel: ref, ChannelID: ref.String(),
		SenderID: senderID, Content: content, Type: msgType,
		Metadata: metadata, CreatedAt: time.Now(),
	}
	f.mu.Lock()
	f.history = append(f.history, m)
	f.mu.Unlock()
	return m, nil
}

func (f *fakeMessages) MarkRead(_ context.Context, _ channel.Ref, messageIDs []string, _ string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, messageIDs)
	return len(messageIDs), nil
}

func (f *fakeMessages) Hydrate(context.Context, channel.Ref, []*message.Message) (*message.CachedState, error) {
	return &message.CachedState{}, nil
}

func (f *fakeMessages) CachedState(context.Context, channel.Ref) *message.CachedState {
	return nil
}

func (f *fakeMessages) markedIDs() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.marked...)
}

func (f *fakeMessages) addHistory(m *message.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history, m)
}

type fakePresence struct{}

func (fakePresence) OnlineUsers(channel.Ref) []presence.Record {
	return []presence.Record{{UserID: "u1", Status: presence.StatusOnline}}
}

func msg(id, senderID string, createdAt time.Time) *message.Message {
	return &message.Message{
		ID: id, Channel: testRef, ChannelID: testRef.String(),
		SenderID: senderID, Content: "content of " + id,
		Type: message.TypeText, CreatedAt: createdAt,
	}
}

func testConfig() Config {
	return Config{
		PageSize:           50,
		MarkReadDelay:      0, // individual tests opt in
		TypingTTL:          8 * time.Second,
		ReconnectBaseDelay: 5 * time.Millisecond,
		ReconnectMaxDelay:  20 * time.Millisecond,
	}
}

func openSession(t *testing.T, store *fakeMessages, b *bus.Bus, cfg Config) *Session {
	t.Helper()
	s, err := Open(context.Background(), Deps{
		Messages: store,
		Bus:      b,
		Presence: fakePresence{},
		Log:      zerolog.Nop(),
	}, cfg, "client-1", "u1", testRef, bus.Filter{})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func timelineIDs(s *Session) []string {
	var ids []string
	for _, m := range s.Timeline() {
		ids = append(ids, m.ID)
	}
	return ids
}

func TestOpenLoadsHistory(t *testing.T) {
	base := time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC)
	store := &fakeMessages{history: []*message.Message{
		msg("m1", "u2", base),
		msg("m2", "u2", base.Add(time.Minute)),
	}}
	s := openSession(t, store, bus.New(zerolog.Nop()), testConfig())

	assert.Equal(t, StateLive, s.State())
	assert.Equal(t, []string{"m1", "m2"}, timelineIDs(s))
	assert.Equal(t, 1, s.OnlineCount())
}

func TestLiveEventsMergeExactlyOnce(t *testing.T) {
	base := time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC)
	store := &fakeMessages{history: []*message.Message{msg("m1", "u2", base)}}
	b := bus.New(zerolog.Nop())
	s := openSession(t, store, b, testConfig())

	insert := bus.MessageEvent{Ref: testRef, Op: bus.OpInsert, Message: msg("m2", "u2", base.Add(time.Minute))}
	b.PublishChange(insert)
	// Feed overlap after a catch-up: the same commit arrives twice.
	b.PublishChange(insert)
	// History overlap: an already-merged message arrives live.
	b.PublishChange(bus.MessageEvent{Ref: testRef, Op: bus.OpInsert, Message: msg("m1", "u2", base)})

	require.Eventually(t, func() bool {
		return len(s.Timeline()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1", "m2"}, timelineIDs(s))

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, s.Timeline(), 2, "duplicates must not re-merge")
}

func TestOutOfOrderArrivalIsSorted(t *testing.T) {
	base := time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC)
	store := &fakeMessages{}
	b := bus.New(zerolog.Nop())
	s := openSession(t, store, b, testConfig())

	b.PublishChange(bus.MessageEvent{Ref: testRef, Op: bus.OpInsert, Message: msg("late", "u2", base.Add(time.Hour))})
	b.PublishChange(bus.MessageEvent{Ref: testRef, Op: bus.OpInsert, Message: msg("early", "u2", base)})

	require.Eventually(t, func() bool {
		return len(s.Timeline()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"early", "late"}, timelineIDs(s))
}

func TestSoftDeleteDropsAndStaysDropped(t *testing.T) {
	base := time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC)
	deleted := msg("m1", "u2", base)
	store := &fakeMessages{history: []*message.Message{deleted, msg("m2", "u2", base.Add(time.Minute))}}
	b := bus.New(zerolog.Nop())
	s := openSession(t, store, b, testConfig())

	gone := *deleted
	gone.Deleted = true
	b.PublishChange(bus.MessageEvent{Ref: testRef, Op: bus.OpUpdate, Message: &gone})

	require.Eventually(t, func() bool {
		return len(s.Timeline()) == 1
	}, time.Second, 5*time.Millisecond)

	// A late duplicate of the deleted message must not resurrect it.
	b.PublishChange(bus.MessageEvent{Ref: testRef, Op: bus.OpInsert, Message: deleted})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"m2"}, timelineIDs(s))
}

func TestTypingIndicator(t *testing.T) {
	store := &fakeMessages{}
	b := bus.New(zerolog.Nop())
	s := openSession(t, store, b, testConfig())

	b.BroadcastTyping(testRef, "bob", true)
	require.Eventually(t, func() bool {
		return s.TypingText() == "bob is typing…"
	}, time.Second, 5*time.Millisecond)

	b.BroadcastTyping(testRef, "carol", true)
	require.Eventually(t, func() bool {
		return s.TypingText() == "bob and carol are typing…"
	}, time.Second, 5*time.Millisecond)

	b.BroadcastTyping(testRef, "dave", true)
	require.Eventually(t, func() bool {
		return s.TypingText() == "bob and 2 others are typing…"
	}, time.Second, 5*time.Millisecond)

	b.BroadcastTyping(testRef, "carol", false)
	b.BroadcastTyping(testRef, "dave", false)
	b.BroadcastTyping(testRef, "bob", false)
	require.Eventually(t, func() bool {
		return s.TypingText() == ""
	}, time.Second, 5*time.Millisecond)
}

func TestOwnTypingIsExcluded(t *testing.T) {
	store := &fakeMessages{}
	b := bus.New(zerolog.Nop())
	s := openSession(t, store, b, testConfig())

	b.BroadcastTyping(testRef, "u1", true)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, s.TypingText())
}

func TestTypingExpiresLocally(t *testing.T) {
	store := &fakeMessages{}
	b := bus.New(zerolog.Nop())
	cfg := testConfig()
	cfg.TypingTTL = 30 * time.Millisecond
	s := openSession(t, store, b, cfg)

	b.BroadcastTyping(testRef, "bob", true)
	require.Eventually(t, func() bool {
		return s.TypingText() != ""
	}, time.Second, 5*time.Millisecond)

	// No stop ever arrives; the indicator still clears.
	require.Eventually(t, func() bool {
		return s.TypingText() == ""
	}, time.Second, 5*time.Millisecond)
}

func TestSendFailsFastWhenNotLive(t *testing.T) {
	store := &fakeMessages{}
	s := openSession(t, store, bus.New(zerolog.Nop()), testConfig())

	_, err := s.Send(context.Background(), "hello", message.TypeText, nil)
	require.NoError(t, err)

	s.setState(StateReconnecting)
	_, err = s.Send(context.Background(), "hello again", message.TypeText, nil)
	assert.ErrorIs(t, err, ErrReconnecting)

	s.Close()
	_, err = s.Send(context.Background(), "after close", message.TypeText, nil)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestReactionEventsAccumulate(t *testing.T) {
	base := time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC)
	store := &fakeMessages{history: []*message.Message{msg("m1", "u2", base)}}
	b := bus.New(zerolog.Nop())
	s := openSession(t, store, b, testConfig())

	fire := &message.Reaction{ID: "r1", MessageID: "m1", ProfileID: "u2", Emoji: "🔥"}
	b.PublishChange(bus.ReactionEvent{Ref: testRef, Op: bus.OpInsert, Reaction: fire})
	require.Eventually(t, func() bool {
		return len(s.Reactions("m1")) == 1
	}, time.Second, 5*time.Millisecond)

	b.PublishChange(bus.ReactionEvent{Ref: testRef, Op: bus.OpDelete, Reaction: fire})
	require.Eventually(t, func() bool {
		return len(s.Reactions("m1")) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestAutoMarkRead(t *testing.T) {
	base := time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC)
	store := &fakeMessages{history: []*message.Message{
		msg("mine", "u1", base),
		msg("theirs", "u2", base.Add(time.Minute)),
	}}
	cfg := testConfig()
	cfg.MarkReadDelay = 10 * time.Millisecond
	openSession(t, store, bus.New(zerolog.Nop()), cfg)

	require.Eventually(t, func() bool {
		return len(store.markedIDs()) > 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]string{{"theirs"}}, store.markedIDs())
}

func TestDisruptionCatchesUp(t *testing.T) {
	base := time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC)
	store := &fakeMessages{history: []*message.Message{msg("m1", "u2", base)}}
	b := bus.New(zerolog.Nop())
	s := openSession(t, store, b, testConfig())

	// The feed lost a notification while disconnected; the message is in
	// the store but never arrived live.
	store.addHistory(msg("missed", "u2", base.Add(time.Minute)))
	b.NotifyDisruption(bus.CodeChannelError, assert.AnError)

	require.Eventually(t, func() bool {
		return len(s.Timeline()) == 2 && s.State() == StateLive
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1", "missed"}, timelineIDs(s))
}

func TestCatchUpIncludesBoundaryTimestamp(t *testing.T) {
	base := time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC)
	store := &fakeMessages{history: []*message.Message{msg("m1", "u2", base)}}
	b := bus.New(zerolog.Nop())
	s := openSession(t, store, b, testConfig())

	// A missed message committed at the same instant as the newest merged
	// one; dedup absorbs the m1 overlap the inclusive fetch returns.
	store.addHistory(msg("same-instant", "u2", base))
	b.NotifyDisruption(bus.CodeChannelError, assert.AnError)

	require.Eventually(t, func() bool {
		return len(s.Timeline()) == 2 && s.State() == StateLive
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1", "same-instant"}, timelineIDs(s))
}

func TestCloseDuringReconnectLeavesNoSubscription(t *testing.T) {
	base := time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC)
	store := &fakeMessages{history: []*message.Message{msg("m1", "u2", base)}}
	b := bus.New(zerolog.Nop())
	s := openSession(t, store, b, testConfig())

	s.Close()

	// A reconnect racing the close must not register a fresh
	// subscription that would outlive the session.
	require.False(t, s.reconnect(true))

	b.PublishChange(bus.MessageEvent{Ref: testRef, Op: bus.OpInsert, Message: msg("after-close", "u2", base.Add(time.Minute))})

	s.mu.RLock()
	sub := s.sub
	s.mu.RUnlock()
	select {
	case ev := <-sub.Events():
		t.Fatalf("event delivered after close: %#v", ev)
	case <-time.After(20 * time.Millisecond):
	}
	assert.Equal(t, []string{"m1"}, timelineIDs(s))
}

func TestUpdatesCarryDerivedState(t *testing.T) {
	store := &fakeMessages{}
	b := bus.New(zerolog.Nop())
	s := openSession(t, store, b, testConfig())

	b.BroadcastTyping(testRef, "bob", true)

	select {
	case update := <-s.Updates():
		assert.Equal(t, StateLive, update.State)
		assert.Equal(t, "bob is typing…", update.TypingText)
		assert.Equal(t, 1, update.OnlineCount)
	case <-time.After(time.Second):
		t.Fatal("no update emitted")
	}
}
