package feed

import (
	"encoding/json"
	"fmt"
	"time"

	"fitchat/internal/bus"
	"fitchat/internal/channel"
	"fitchat/internal/message"
)

// Payload is the change feed envelope the triggers emit:
// {event_type, table, row}.
type Payload struct {
	EventType string          `json:"event_type"`
	Table     string          `json:"table"`
	Row       json.RawMessage `json:"row"`
}

type messageRow struct {
	ID          string                 `json:"id"`
	ChannelKind string                 `json:"channel_kind"`
	ScopeID     int64                  `json:"scope_id"`
	SenderID    string                 `json:"sender_id"`
	Content     string                 `json:"content"`
	Type        string                 `json:"type"`
	Metadata    map[string]interface{} `json:"metadata"`
	CreatedAt   time.Time              `json:"created_at"`
	Deleted     bool                   `json:"deleted"`
}

type reactionRow struct {
	ID          string    `json:"id"`
	MessageID   string    `json:"message_id"`
	ProfileID   string    `json:"profile_id"`
	Emoji       string    `json:"emoji"`
	ChannelKind string    `json:"channel_kind"`
	ScopeID     int64     `json:"scope_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type receiptRow struct {
	MessageID   string    `json:"message_id"`
	ProfileID   string    `json:"profile_id"`
	ChannelKind string    `json:"channel_kind"`
	ScopeID     int64     `json:"scope_id"`
	ReadAt      time.Time `json:"read_at"`
}

// DecodeEvent turns a raw notification payload into a bus event.
func DecodeEvent(raw []byte) (bus.Event, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode feed payload: %w", err)
	}

	op, err := decodeOp(p.EventType)
	if err != nil {
		return nil, err
	}

	switch p.Table {
	case "messages":
		var row messageRow
		if err := json.Unmarshal(p.Row, &row); err != nil {
			return nil, fmt.Errorf("failed to decode message row: %w", err)
		}
		ref := channel.Ref{Kind: channel.Kind(row.ChannelKind), StorageID: row.ScopeID}
		if !ref.Valid() {
			return nil, fmt.Errorf("%w: message %s", channel.ErrInvalidRef, row.ID)
		}
		return bus.MessageEvent{
			Ref: ref,
			Op:  op,
			Message: &message.Message{
				ID:        row.ID,
				Channel:   ref,
				ChannelID: ref.String(),
				SenderID:  row.SenderID,
				Content:   row.Content,
				Type:      message.Type(row.Type),
				Metadata:  row.Metadata,
				CreatedAt: row.CreatedAt,
				Deleted:   row.Deleted,
			},
		}, nil

	case "reactions":
		var row reactionRow
		if err := json.Unmarshal(p.Row, &row); err != nil {
			return nil, fmt.Errorf("failed to decode reaction row: %w", err)
		}
		ref := channel.Ref{Kind: channel.Kind(row.ChannelKind), StorageID: row.ScopeID}
		if !ref.Valid() {
			return nil, fmt.Errorf("%w: reaction %s", channel.ErrInvalidRef, row.ID)
		}
		return bus.ReactionEvent{
			Ref: ref,
			Op:  op,
			Reaction: &message.Reaction{
				ID:        row.ID,
				MessageID: row.MessageID,
				ProfileID: row.ProfileID,
				Emoji:     row.Emoji,
				CreatedAt: row.CreatedAt,
			},
		}, nil

	case "read_receipts":
		var row receiptRow
		if err := json.Unmarshal(p.Row, &row); err != nil {
			return nil, fmt.Errorf("failed to decode receipt row: %w", err)
		}
		ref := channel.Ref{Kind: channel.Kind(row.ChannelKind), StorageID: row.ScopeID}
		if !ref.Valid() {
			return nil, fmt.Errorf("%w: receipt %s/%s", channel.ErrInvalidRef, row.MessageID, row.ProfileID)
		}
		return bus.ReceiptEvent{
			Ref: ref,
			Receipt: &message.ReadReceipt{
				MessageID: row.MessageID,
				ProfileID: row.ProfileID,
				ReadAt:    row.ReadAt,
			},
		}, nil

	default:
		return nil, fmt.Errorf("unknown feed table %q", p.Table)
	}
}

func decodeOp(eventType string) (bus.Op, error) {
	switch eventType {
	case "insert":
		return bus.OpInsert, nil
	case "update":
		return bus.OpUpdate, nil
	case "delete":
		return bus.OpDelete, nil
	default:
		return "", fmt.Errorf("unknown feed event type %q", eventType)
	}
}
