package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitchat/internal/channel"
)

type typingCall struct {
	ref    channel.Ref
	userID string
	typing bool
}

type presenceCall struct {
	ref    channel.Ref
	userID string
	status Status
}

type recordingSink struct {
	mu       sync.Mutex
	typing   []typingCall
	presence []presenceCall
}

func (s *recordingSink) BroadcastTyping(ref channel.Ref, userID string, typing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = append(s.typing, typingCall{ref, userID, typing})
}

func (s *recordingSink) BroadcastPresence(ref channel.Ref, userID string, status Status, _ time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence = append(s.presence, presenceCall{ref, userID, status})
}

func (s *recordingSink) lastTyping(t *testing.T) typingCall {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.typing)
	return s.typing[len(s.typing)-1]
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRegistry(sink Broadcaster) (*Registry, *testClock) {
	clock := &testClock{now: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}
	r := NewRegistry(DefaultOptions(), sink, zerolog.Nop())
	r.now = clock.Now
	return r, clock
}

func join(r *Registry, userID string, ref channel.Ref) {
	r.Report(Activity{UserID: userID, Type: ActivityJoinedChannel, Channel: &ref})
}

func TestJoinedChannelAppearsOnline(t *testing.T) {
	r, _ := newTestRegistry(nil)
	ref := channel.Ref{Kind: channel.KindMoai, StorageID: 1}

	join(r, "u1", ref)
	join(r, "u2", ref)
	join(r, "elsewhere", channel.Ref{Kind: channel.KindMoai, StorageID: 2})

	online := r.OnlineUsers(ref)
	assert.Len(t, online, 2)
	assert.True(t, r.IsUserOnline("elsewhere"))
}

func TestStaleRecordReadsOffline(t *testing.T) {
	r, clock := newTestRegistry(nil)
	ref := channel.Ref{Kind: channel.KindBuddy, StorageID: 3}
	join(r, "u1", ref)

	clock.Advance(5*time.Minute + time.Second)

	assert.Empty(t, r.OnlineUsers(ref))
	assert.False(t, r.IsUserOnline("u1"))
}

func TestHeartbeatKeepsUserFresh(t *testing.T) {
	r, clock := newTestRegistry(nil)
	ref := channel.Ref{Kind: channel.KindMoai, StorageID: 1}
	join(r, "u1", ref)

	clock.Advance(4 * time.Minute)
	r.Heartbeat("u1")
	clock.Advance(4 * time.Minute)

	assert.True(t, r.IsUserOnline("u1"))
}

func TestHeartbeatDoesNotReviveNonOnlineUsers(t *testing.T) {
	r, clock := newTestRegistry(nil)
	ref := channel.Ref{Kind: channel.KindMoai, StorageID: 1}
	join(r, "u1", ref)
	r.Disconnect("u1")

	r.Heartbeat("u1")
	assert.False(t, r.IsUserOnline("u1"))

	join(r, "u2", ref)
	clock.Advance(5 * time.Minute)
	r.Reap()
	// Away users need activity, not a heartbeat, to come back.
	r.Heartbeat("u2")
	clock.Advance(time.Minute)
	assert.False(t, r.IsUserOnline("u2"))
}

func TestReapFlipsIdleUsersToAway(t *testing.T) {
	sink := &recordingSink{}
	r, clock := newTestRegistry(sink)
	ref := channel.Ref{Kind: channel.KindCoach, StorageID: 4}
	join(r, "u1", ref)

	clock.Advance(5 * time.Minute)
	r.Reap()

	assert.Empty(t, r.OnlineUsers(ref))
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.NotEmpty(t, sink.presence)
	assert.Equal(t, StatusAway, sink.presence[len(sink.presence)-1].status)
}

func TestActivityResetsAwayTimer(t *testing.T) {
	r, clock := newTestRegistry(nil)
	ref := channel.Ref{Kind: channel.KindMoai, StorageID: 1}
	join(r, "u1", ref)

	clock.Advance(4 * time.Minute)
	r.Report(Activity{UserID: "u1", Type: ActivityCustom, Tag: "viewed_workout"})
	clock.Advance(4 * time.Minute)
	r.Reap()

	assert.True(t, r.IsUserOnline("u1"))
}

func TestTypingExpiresAfterSilence(t *testing.T) {
	sink := &recordingSink{}
	r, clock := newTestRegistry(sink)
	ref := channel.Ref{Kind: channel.KindBuddy, StorageID: 7}

	r.StartTyping("u1", ref)
	assert.Equal(t, []string{"u1"}, r.TypingUsers(ref))
	assert.True(t, sink.lastTyping(t).typing)

	clock.Advance(8*time.Second + time.Millisecond)
	assert.Empty(t, r.TypingUsers(ref))

	r.Reap()
	last := sink.lastTyping(t)
	assert.False(t, last.typing)
	assert.Equal(t, "u1", last.userID)
}

func TestStopTypingClearsImmediately(t *testing.T) {
	sink := &recordingSink{}
	r, _ := newTestRegistry(sink)
	ref := channel.Ref{Kind: channel.KindMoai, StorageID: 1}

	r.StartTyping("u1", ref)
	r.StopTyping("u1", ref)

	assert.Empty(t, r.TypingUsers(ref))
	assert.False(t, sink.lastTyping(t).typing)

	// Stopping again must not broadcast a second time.
	before := len(sink.typing)
	r.StopTyping("u1", ref)
	assert.Len(t, sink.typing, before)
}

func TestDisconnectClearsLocationAndTyping(t *testing.T) {
	sink := &recordingSink{}
	r, _ := newTestRegistry(sink)
	ref := channel.Ref{Kind: channel.KindCoach, StorageID: 2}

	join(r, "u1", ref)
	r.StartTyping("u1", ref)
	r.Disconnect("u1")

	assert.False(t, r.IsUserOnline("u1"))
	assert.Empty(t, r.OnlineUsers(ref))
	assert.Empty(t, r.TypingUsers(ref))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, StatusOffline, sink.presence[len(sink.presence)-1].status)
}
