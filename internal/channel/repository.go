package channel

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

var ErrChannelNotFound = errors.New("channel not found")

// Repository answers the per-kind retrieval strategies the directory
// unions together. Read-only.
type Repository interface {
	MoaiChannels(ctx context.Context, userID string) ([]Summary, error)
	BuddyChannels(ctx context.Context, userID string, now time.Time) ([]Summary, error)
	CoachChannels(ctx context.Context, userID string) ([]Summary, error)

	ResolveMeta(ctx context.Context, ref Ref) (*Meta, error)
	LastMessage(ctx context.Context, ref Ref) (*LastMessage, error)
	UnreadCount(ctx context.Context, ref Ref, userID string) (int, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) MoaiChannels(ctx context.Context, userID string) ([]Summary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.is_active, c.created_at,
		       (SELECT COUNT(*) FROM moai_channel_members mm WHERE mm.channel_id = c.id)
		FROM moai_channels c
		JOIN moai_channel_members m ON m.channel_id = c.id
		WHERE m.profile_id = $1
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query moai channels: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var s Summary
		var id int64
		if err := rows.Scan(&id, &s.Title, &s.IsActive, &s.CreatedAt, &s.MemberCount); err != nil {
			return nil, fmt.Errorf("failed to scan moai channel: %w", err)
		}
		s.Ref = Ref{Kind: KindMoai, StorageID: id}
		s.ID = s.Ref.String()
		s.Kind = RefinedGroup
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (r *PostgresRepository) BuddyChannels(ctx context.Context, userID string, now time.Time) ([]Summary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, is_active, created_at, cardinality(participants)
		FROM buddy_channels
		WHERE participants @> ARRAY[$1]::text[]
		  AND is_active
		  AND starts_at <= $2 AND ends_at > $2
	`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query buddy channels: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var s Summary
		var id int64
		if err := rows.Scan(&id, &s.Title, &s.IsActive, &s.CreatedAt, &s.MemberCount); err != nil {
			return nil, fmt.Errorf("failed to scan buddy channel: %w", err)
		}
		s.Ref = Ref{Kind: KindBuddy, StorageID: id}
		s.ID = s.Ref.String()
		s.Kind = RefinedPaired
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (r *PostgresRepository) CoachChannels(ctx context.Context, userID string) ([]Summary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.is_group, c.is_active, c.created_at,
		       CASE WHEN c.is_group
		            THEN (SELECT COUNT(*) FROM coach_conversation_members cm WHERE cm.conversation_id = c.id)
		            ELSE 2
		       END
		FROM coach_conversations c
		WHERE (NOT c.is_group AND (c.coach_id = $1 OR c.client_id = $1))
		   OR (c.is_group AND EXISTS (
		        SELECT 1 FROM coach_conversation_members cm
		        WHERE cm.conversation_id = c.id AND cm.profile_id = $1))
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query coach conversations: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var s Summary
		var id int64
		var isGroup bool
		if err := rows.Scan(&id, &s.Title, &isGroup, &s.IsActive, &s.CreatedAt, &s.MemberCount); err != nil {
			return nil, fmt.Errorf("failed to scan coach conversation: %w", err)
		}
		s.Ref = Ref{Kind: KindCoach, StorageID: id}
		s.ID = s.Ref.String()
		if isGroup {
			s.Kind = RefinedCoachGroup
		} else {
			s.Kind = RefinedCoachPrivate
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (r *PostgresRepository) ResolveMeta(ctx context.Context, ref Ref) (*Meta, error) {
	switch ref.Kind {
	case KindMoai:
		return r.resolveMoai(ctx, ref)
	case KindBuddy:
		return r.resolveBuddy(ctx, ref)
	case KindCoach:
		return r.resolveCoach(ctx, ref)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidRef, ref)
	}
}

func (r *PostgresRepository) resolveMoai(ctx context.Context, ref Ref) (*Meta, error) {
	meta := &Meta{Ref: ref, Kind: RefinedGroup}
	err := r.db.QueryRowContext(ctx, `
		SELECT title, is_active, created_at FROM moai_channels WHERE id = $1
	`, ref.StorageID).Scan(&meta.Title, &meta.IsActive, &meta.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve moai channel: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT profile_id FROM moai_channel_members WHERE channel_id = $1
	`, ref.StorageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load moai members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan moai member: %w", err)
		}
		meta.MemberIDs = append(meta.MemberIDs, id)
	}
	return meta, rows.Err()
}

func (r *PostgresRepository) resolveBuddy(ctx context.Context, ref Ref) (*Meta, error) {
	meta := &Meta{Ref: ref, Kind: RefinedPaired}
	var participants pq.StringArray
	var window Window
	err := r.db.QueryRowContext(ctx, `
		SELECT title, is_active, created_at, participants, starts_at, ends_at
		FROM buddy_channels WHERE id = $1
	`, ref.StorageID).Scan(&meta.Title, &meta.IsActive, &meta.CreatedAt,
		&participants, &window.StartsAt, &window.EndsAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve buddy channel: %w", err)
	}
	meta.MemberIDs = []string(participants)
	meta.Window = &window
	return meta, nil
}

func (r *PostgresRepository) resolveCoach(ctx context.Context, ref Ref) (*Meta, error) {
	meta := &Meta{Ref: ref}
	var coachID, clientID string
	var isGroup bool
	err := r.db.QueryRowContext(ctx, `
		SELECT title, is_group, is_active, created_at, coach_id, COALESCE(client_id, '')
		FROM coach_conversations WHERE id = $1
	`, ref.StorageID).Scan(&meta.Title, &isGroup, &meta.IsActive, &meta.CreatedAt, &coachID, &clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve coach conversation: %w", err)
	}

	if !isGroup {
		meta.Kind = RefinedCoachPrivate
		meta.MemberIDs = []string{coachID, clientID}
		return meta, nil
	}

	meta.Kind = RefinedCoachGroup
	rows, err := r.db.QueryContext(ctx, `
		SELECT profile_id FROM coach_conversation_members WHERE conversation_id = $1
	`, ref.StorageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load coach members: %w", err)
	}
	defer rows.Close()
	meta.MemberIDs = append(meta.MemberIDs, coachID)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan coach member: %w", err)
		}
		if id != coachID {
			meta.MemberIDs = append(meta.MemberIDs, id)
		}
	}
	return meta, rows.Err()
}

func (r *PostgresRepository) LastMessage(ctx context.Context, ref Ref) (*LastMessage, error) {
	var m LastMessage
	err := r.db.QueryRowContext(ctx, `
		SELECT id, sender_id, content, type, created_at
		FROM messages
		WHERE channel_kind = $1 AND scope_id = $2 AND NOT deleted
		ORDER BY created_at DESC
		LIMIT 1
	`, string(ref.Kind), ref.StorageID).Scan(&m.ID, &m.SenderID, &m.Content, &m.Type, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last message: %w", err)
	}
	return &m, nil
}

// UnreadCount counts messages the user has not receipted. A user's own
// messages never count as unread.
func (r *PostgresRepository) UnreadCount(ctx context.Context, ref Ref, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages m
		WHERE m.channel_kind = $1 AND m.scope_id = $2
		  AND m.sender_id <> $3 AND NOT m.deleted
		  AND NOT EXISTS (
		        SELECT 1 FROM read_receipts rr
		        WHERE rr.message_id = m.id AND rr.profile_id = $3)
	`, string(ref.Kind), ref.StorageID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}
