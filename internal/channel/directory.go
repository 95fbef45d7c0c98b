package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

var ErrNotMember = errors.New("user is not a channel member")

// Directory resolves, for a user, the channels they belong to across all
// kinds, and resolves individual refs back to metadata. Read-only.
type Directory struct {
	repo Repository
	now  func() time.Time
	log  zerolog.Logger
}

func NewDirectory(repo Repository, log zerolog.Logger) *Directory {
	return &Directory{
		repo: repo,
		now:  time.Now,
		log:  log.With().Str("component", "channel-directory").Logger(),
	}
}

// ListChannels unions the moai, buddy and coach sources. A failing source
// is omitted with a warning; the call errors only when every source
// fails.
func (d *Directory) ListChannels(ctx context.Context, userID string) ([]Summary, error) {
	type source struct {
		name  string
		fetch func() ([]Summary, error)
	}
	sources := []source{
		{"moai", func() ([]Summary, error) { return d.repo.MoaiChannels(ctx, userID) }},
		{"buddy", func() ([]Summary, error) { return d.repo.BuddyChannels(ctx, userID, d.now()) }},
		{"coach", func() ([]Summary, error) { return d.repo.CoachChannels(ctx, userID) }},
	}

	var all []Summary
	failed := 0
	var lastErr error
	for _, src := range sources {
		summaries, err := src.fetch()
		if err != nil {
			failed++
			lastErr = err
			d.log.Warn().Err(err).Str("source", src.name).Str("user_id", userID).
				Msg("channel source failed, omitting from list")
			continue
		}
		all = append(all, summaries...)
	}
	if failed == len(sources) {
		return nil, fmt.Errorf("failed to list channels from any source: %w", lastErr)
	}

	for i := range all {
		d.attachActivity(ctx, userID, &all[i])
	}

	sort.SliceStable(all, func(i, j int) bool {
		return lastActivity(all[i]).After(lastActivity(all[j]))
	})
	return all, nil
}

// attachActivity fills in the last message and unread count. Failures
// degrade to an empty tail, never to a failed list.
func (d *Directory) attachActivity(ctx context.Context, userID string, s *Summary) {
	last, err := d.repo.LastMessage(ctx, s.Ref)
	if err != nil {
		d.log.Warn().Err(err).Str("channel", s.ID).Msg("failed to load last message")
	} else {
		s.LastMessage = last
	}

	unread, err := d.repo.UnreadCount(ctx, s.Ref, userID)
	if err != nil {
		d.log.Warn().Err(err).Str("channel", s.ID).Msg("failed to count unread")
		return
	}
	s.UnreadCount = unread
}

func lastActivity(s Summary) time.Time {
	if s.LastMessage != nil {
		return s.LastMessage.CreatedAt
	}
	return s.CreatedAt
}

// Resolve returns channel metadata for a parsed ref.
func (d *Directory) Resolve(ctx context.Context, ref Ref) (*Meta, error) {
	if !ref.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRef, ref)
	}
	return d.repo.ResolveMeta(ctx, ref)
}

// Authorize resolves ref and checks membership in one step.
func (d *Directory) Authorize(ctx context.Context, ref Ref, userID string) (*Meta, error) {
	meta, err := d.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !meta.IsMember(userID) {
		return nil, fmt.Errorf("%w: %s in %s", ErrNotMember, userID, ref)
	}
	return meta, nil
}
