package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return ts
}

type fakeRepo struct {
	moai      []Summary
	moaiErr   error
	buddy     []Summary
	buddyErr  error
	coach     []Summary
	coachErr  error
	meta      map[string]*Meta
	last      map[string]*LastMessage
	unread    map[string]int
	unreadErr error
}

func (f *fakeRepo) MoaiChannels(context.Context, string) ([]Summary, error) {
	return f.moai, f.moaiErr
}

func (f *fakeRepo) BuddyChannels(context.Context, string, time.Time) ([]Summary, error) {
	return f.buddy, f.buddyErr
}

func (f *fakeRepo) CoachChannels(context.Context, string) ([]Summary, error) {
	return f.coach, f.coachErr
}

func (f *fakeRepo) ResolveMeta(_ context.Context, ref Ref) (*Meta, error) {
	meta, ok := f.meta[ref.String()]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return meta, nil
}

func (f *fakeRepo) LastMessage(_ context.Context, ref Ref) (*LastMessage, error) {
	return f.last[ref.String()], nil
}

func (f *fakeRepo) UnreadCount(_ context.Context, ref Ref, _ string) (int, error) {
	if f.unreadErr != nil {
		return 0, f.unreadErr
	}
	return f.unread[ref.String()], nil
}

func summary(kind Kind, id int64, created string, t *testing.T) Summary {
	ref := Ref{Kind: kind, StorageID: id}
	return Summary{Ref: ref, ID: ref.String(), CreatedAt: mustTime(t, created)}
}

func TestListChannelsUnionsAndSortsByActivity(t *testing.T) {
	repo := &fakeRepo{
		moai:  []Summary{summary(KindMoai, 1, "2026-08-01T00:00:00Z", t)},
		buddy: []Summary{summary(KindBuddy, 2, "2026-08-02T00:00:00Z", t)},
		coach: []Summary{summary(KindCoach, 3, "2026-08-03T00:00:00Z", t)},
		last: map[string]*LastMessage{
			// A recent message makes the oldest channel the most active.
			"moai-1": {ID: "m1", CreatedAt: mustTime(t, "2026-08-20T00:00:00Z")},
		},
		unread: map[string]int{"moai-1": 4},
	}
	d := NewDirectory(repo, zerolog.Nop())

	channels, err := d.ListChannels(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, channels, 3)

	assert.Equal(t, "moai-1", channels[0].ID)
	assert.Equal(t, 4, channels[0].UnreadCount)
	assert.Equal(t, "coach-3", channels[1].ID)
	assert.Equal(t, "buddy-2", channels[2].ID)
}

func TestListChannelsOmitsFailingSource(t *testing.T) {
	repo := &fakeRepo{
		moai:     []Summary{summary(KindMoai, 1, "2026-08-01T00:00:00Z", t)},
		buddyErr: errors.New("buddy backend down"),
		coach:    []Summary{summary(KindCoach, 3, "2026-08-03T00:00:00Z", t)},
	}
	d := NewDirectory(repo, zerolog.Nop())

	channels, err := d.ListChannels(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, channels, 2)
}

func TestListChannelsFailsWhenAllSourcesFail(t *testing.T) {
	boom := errors.New("db down")
	repo := &fakeRepo{moaiErr: boom, buddyErr: boom, coachErr: boom}
	d := NewDirectory(repo, zerolog.Nop())

	_, err := d.ListChannels(context.Background(), "u1")
	assert.ErrorIs(t, err, boom)
}

func TestListChannelsDegradesOnActivityFailure(t *testing.T) {
	repo := &fakeRepo{
		moai:      []Summary{summary(KindMoai, 1, "2026-08-01T00:00:00Z", t)},
		unreadErr: errors.New("count failed"),
	}
	d := NewDirectory(repo, zerolog.Nop())

	channels, err := d.ListChannels(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Zero(t, channels[0].UnreadCount)
}

func TestAuthorize(t *testing.T) {
	ref := Ref{Kind: KindMoai, StorageID: 1}
	repo := &fakeRepo{
		meta: map[string]*Meta{
			"moai-1": {Ref: ref, MemberIDs: []string{"u1", "u2"}},
		},
	}
	d := NewDirectory(repo, zerolog.Nop())

	meta, err := d.Authorize(context.Background(), ref, "u1")
	require.NoError(t, err)
	assert.True(t, meta.IsMember("u1"))

	_, err = d.Authorize(context.Background(), ref, "intruder")
	assert.ErrorIs(t, err, ErrNotMember)

	_, err = d.Authorize(context.Background(), Ref{Kind: KindMoai, StorageID: 99}, "u1")
	assert.ErrorIs(t, err, ErrChannelNotFound)

	_, err = d.Authorize(context.Background(), Ref{}, "u1")
	assert.ErrorIs(t, err, ErrInvalidRef)
}
