package message

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"fitchat/internal/channel"
)

var ErrMessageNotFound = errors.New("message not found")

// Repository persists messages, reactions and read receipts and answers
// filtered range queries per channel partition.
type Repository interface {
	InsertMessage(ctx context.Context, m *Message) error
	MessagesBefore(ctx context.Context, ref channel.Ref, limit, offset int) ([]*Message, error)
	MessagesSince(ctx context.Context, ref channel.Ref, after time.Time) ([]*Message, error)
	SoftDeleteMessage(ctx context.Context, messageID, senderID string) error

	DeleteReaction(ctx context.Context, ref channel.Ref, messageID, profileID, emoji string) (bool, error)
	InsertReaction(ctx context.Context, ref channel.Ref, r *Reaction) (bool, error)
	ReactionsFor(ctx context.Context, messageIDs []string) ([]*Reaction, error)

	InsertReceipts(ctx context.Context, ref channel.Ref, messageIDs []string, profileID string, readAt time.Time) (int, error)
	ReceiptsFor(ctx context.Context, messageIDs []string) ([]*ReadReceipt, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) InsertMessage(ctx context.Context, m *Message) error {
	metadata, err := json.Marshal(m.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO messages (id, channel_kind, scope_id, sender_id, content, type, metadata, created_at, deleted)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE)
	`, m.ID, string(m.Channel.Kind), m.Channel.StorageID, m.SenderID, m.Content, string(m.Type), metadata, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// MessagesBefore returns a page ordered newest-first; the service
// reverses it for display. Offset paging is not race-free under
// concurrent inserts; reconnect catch-up uses MessagesSince instead.
func (r *PostgresRepository) MessagesBefore(ctx context.Context, ref channel.Ref, limit, offset int) ([]*Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sender_id, content, type, metadata, created_at, deleted
		FROM messages
		WHERE channel_kind = $1 AND scope_id = $2 AND NOT deleted
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, string(ref.Kind), ref.StorageID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows, ref)
}

// MessagesSince is inclusive of the boundary timestamp: a missed message
// committed at the same instant as the caller's newest one must not be
// skipped, and the caller's dedup absorbs the overlap.
func (r *PostgresRepository) MessagesSince(ctx context.Context, ref channel.Ref, after time.Time) ([]*Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, sender_id, content, type, metadata, created_at, deleted
		FROM messages
		WHERE channel_kind = $1 AND scope_id = $2 AND NOT deleted AND created_at >= $3
		ORDER BY created_at ASC
	`, string(ref.Kind), ref.StorageID, after)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages since: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows, ref)
}

func scanMessages(rows *sql.Rows, ref channel.Ref) ([]*Message, error) {
	var messages []*Message
	for rows.Next() {
		var m Message
		var metadata []byte
		if err := rows.Scan(&m.ID, &m.SenderID, &m.Content, &m.Type, &metadata, &m.CreatedAt, &m.Deleted); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &m.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}
		m.Channel = ref
		m.ChannelID = ref.String()
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

func (r *PostgresRepository) SoftDeleteMessage(ctx context.Context, messageID, senderID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET deleted = TRUE WHERE id = $1 AND sender_id = $2
	`, messageID, senderID)
	if err != nil {
		return fmt.Errorf("failed to soft-delete message: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	return nil
}

// DeleteReaction removes the tuple if present and reports whether a row
// was removed. The channel columns constrain the delete to the channel
// the caller was authorized for.
func (r *PostgresRepository) DeleteReaction(ctx context.Context, ref channel.Ref, messageID, profileID, emoji string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM reactions
		WHERE message_id = $1 AND profile_id = $2 AND emoji = $3
			AND channel_kind = $4 AND scope_id = $5
	`, messageID, profileID, emoji, string(ref.Kind), ref.StorageID)
	if err != nil {
		return false, fmt.Errorf("failed to delete reaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

// InsertReaction inserts the tuple, resolving races through the unique
// constraint. Reports whether a row was actually inserted: zero rows
// means the message does not exist in the given channel, or an identical
// insert won the race. The channel columns are denormalized from the
// message row so the change feed can route the event without a join, and
// the SELECT only matches messages inside the authorized channel.
func (r *PostgresRepository) InsertReaction(ctx context.Context, ref channel.Ref, reaction *Reaction) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO reactions (id, message_id, profile_id, emoji, channel_kind, scope_id, created_at)
		SELECT $1, m.id, $3, $4, m.channel_kind, m.scope_id, $5
		FROM messages m
		WHERE m.id = $2 AND m.channel_kind = $6 AND m.scope_id = $7
		ON CONFLICT (message_id, profile_id, emoji) DO NOTHING
	`, reaction.ID, reaction.MessageID, reaction.ProfileID, reaction.Emoji, reaction.CreatedAt,
		string(ref.Kind), ref.StorageID)
	if err != nil {
		return false, fmt.Errorf("failed to insert reaction: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected > 0, nil
}

func (r *PostgresRepository) ReactionsFor(ctx context.Context, messageIDs []string) ([]*Reaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message_id, profile_id, emoji, created_at
		FROM reactions WHERE message_id = ANY($1)
		ORDER BY created_at ASC
	`, pq.Array(messageIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query reactions: %w", err)
	}
	defer rows.Close()

	var reactions []*Reaction
	for rows.Next() {
		var re Reaction
		if err := rows.Scan(&re.ID, &re.MessageID, &re.ProfileID, &re.Emoji, &re.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reaction: %w", err)
		}
		reactions = append(reactions, &re)
	}
	return reactions, rows.Err()
}

// InsertReceipts marks messages read in one statement. The join filters
// out the reader's own messages and anything outside the authorized
// channel; the unique constraint makes re-marking a no-op. Returns how
// many receipts were actually created.
func (r *PostgresRepository) InsertReceipts(ctx context.Context, ref channel.Ref, messageIDs []string, profileID string, readAt time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO read_receipts (message_id, profile_id, channel_kind, scope_id, read_at)
		SELECT m.id, $2, m.channel_kind, m.scope_id, $3
		FROM messages m
		WHERE m.id = ANY($1) AND m.sender_id <> $2
			AND m.channel_kind = $4 AND m.scope_id = $5
		ON CONFLICT (message_id, profile_id) DO NOTHING
	`, pq.Array(messageIDs), profileID, readAt, string(ref.Kind), ref.StorageID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert read receipts: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(affected), nil
}

func (r *PostgresRepository) ReceiptsFor(ctx context.Context, messageIDs []string) ([]*ReadReceipt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT message_id, profile_id, read_at
		FROM read_receipts WHERE message_id = ANY($1)
	`, pq.Array(messageIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query read receipts: %w", err)
	}
	defer rows.Close()

	var receipts []*ReadReceipt
	for rows.Next() {
		var rr ReadReceipt
		if err := rows.Scan(&rr.MessageID, &rr.ProfileID, &rr.ReadAt); err != nil {
			return nil, fmt.Errorf("failed to scan read receipt: %w", err)
		}
		receipts = append(receipts, &rr)
	}
	return receipts, rows.Err()
}
