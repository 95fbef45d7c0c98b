package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fitchat/internal/channel"
)

var (
	ErrEmptyContent = errors.New("text message content must not be empty")
	ErrUnknownType  = errors.New("unknown message type")
)

const DefaultPageSize = 50

// Service is the message store adapter. It persists and queries; it does
// not notify subscribers — the storage change feed does, so that every
// writer produces consistent notifications.
type Service struct {
	repo  Repository
	cache *Cache
	log   zerolog.Logger
	now   func() time.Time
	newID func() string
}

func NewService(repo Repository, cache *Cache, log zerolog.Logger) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		log:   log.With().Str("component", "message-store").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.New().String() },
	}
}

// History returns a page in display order (ascending created_at). The
// underlying query is newest-first and gets reversed here.
func (s *Service) History(ctx context.Context, ref channel.Ref, limit, offset int) ([]*Message, error) {
	if !ref.Valid() {
		return nil, fmt.Errorf("%w: %s", channel.ErrInvalidRef, ref)
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if offset < 0 {
		offset = 0
	}

	messages, err := s.repo.MessagesBefore(ctx, ref, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to load history for %s: %w", ref, err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// HistorySince is the cursor-style catch-up fetch used after reconnects,
// already in display order.
func (s *Service) HistorySince(ctx context.Context, ref channel.Ref, after time.Time) ([]*Message, error) {
	if !ref.Valid() {
		return nil, fmt.Errorf("%w: %s", channel.ErrInvalidRef, ref)
	}
	messages, err := s.repo.MessagesSince(ctx, ref, after)
	if err != nil {
		return nil, fmt.Errorf("failed to catch up history for %s: %w", ref, err)
	}
	return messages, nil
}

// Send validates and persists a message. Delivery to subscribers happens
// through the change feed, not here.
func (s *Service) Send(ctx context.Context, ref channel.Ref, senderID, content string, msgType Type, metadata map[string]interface{}) (*Message, error) {
	if !ref.Valid() {
		return nil, fmt.Errorf("%w: %s", channel.ErrInvalidRef, ref)
	}
	if msgType == "" {
		msgType = TypeText
	}
	if !msgType.Known() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msgType)
	}
	if msgType == TypeText && strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	m := &Message{
		ID:        s.newID(),
		Channel:   ref,
		ChannelID: ref.String(),
		SenderID:  senderID,
		Content:   content,
		Type:      msgType,
		Metadata:  metadata,
		CreatedAt: s.now(),
	}
	if err := s.repo.InsertMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	return m, nil
}

// SoftDelete flags a message deleted. Sender-only.
func (s *Service) SoftDelete(ctx context.Context, messageID, requesterID string) error {
	return s.repo.SoftDeleteMessage(ctx, messageID, requesterID)
}

// ToggleReaction removes the tuple when present, adds it otherwise. The
// write is scoped to ref so a message id from another channel never
// matches. Rapid racing toggles settle through the unique constraint: a
// losing insert means the tuple is present, which is the same outcome
// the caller asked for.
func (s *Service) ToggleReaction(ctx context.Context, ref channel.Ref, messageID, profileID, emoji string) (*Reaction, bool, error) {
	if !ref.Valid() {
		return nil, false, fmt.Errorf("%w: %s", channel.ErrInvalidRef, ref)
	}
	removed, err := s.repo.DeleteReaction(ctx, ref, messageID, profileID, emoji)
	if err != nil {
		return nil, false, fmt.Errorf("failed to toggle reaction: %w", err)
	}
	if removed {
		return nil, false, nil
	}

	reaction := &Reaction{
		ID:        s.newID(),
		MessageID: messageID,
		ProfileID: profileID,
		Emoji:     emoji,
		CreatedAt: s.now(),
	}
	inserted, err := s.repo.InsertReaction(ctx, ref, reaction)
	if err != nil {
		return nil, false, fmt.Errorf("failed to toggle reaction: %w", err)
	}
	if !inserted {
		// Zero rows means either the message does not exist in this
		// channel or an identical insert won the race. Re-query the tuple
		// to tell the two apart.
		existing, err := s.repo.ReactionsFor(ctx, []string{messageID})
		if err != nil {
			return nil, false, fmt.Errorf("failed to toggle reaction: %w", err)
		}
		for _, re := range existing {
			if re.ProfileID == profileID && re.Emoji == emoji {
				return re, true, nil
			}
		}
		return nil, false, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	return reaction, true, nil
}

// MarkRead records receipts for the given messages, skipping the
// reader's own messages and any message outside ref. Idempotent.
func (s *Service) MarkRead(ctx context.Context, ref channel.Ref, messageIDs []string, profileID string) (int, error) {
	if !ref.Valid() {
		return 0, fmt.Errorf("%w: %s", channel.ErrInvalidRef, ref)
	}
	if len(messageIDs) == 0 {
		return 0, nil
	}
	created, err := s.repo.InsertReceipts(ctx, ref, messageIDs, profileID, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return created, nil
}

// Hydrate loads reactions and receipts for a history page and refreshes
// the channel snapshot cache.
func (s *Service) Hydrate(ctx context.Context, ref channel.Ref, messages []*Message) (*CachedState, error) {
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		return &CachedState{}, nil
	}

	reactions, err := s.repo.ReactionsFor(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate reactions: %w", err)
	}
	receipts, err := s.repo.ReceiptsFor(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate receipts: %w", err)
	}

	state := &CachedState{Reactions: reactions, Receipts: receipts}
	if s.cache != nil {
		s.cache.Store(ctx, ref, state)
	}
	return state, nil
}

// CachedState returns the last cached snapshot for ref, or nil.
func (s *Service) CachedState(ctx context.Context, ref channel.Ref) *CachedState {
	if s.cache == nil {
		return nil
	}
	return s.cache.Load(ctx, ref)
}
