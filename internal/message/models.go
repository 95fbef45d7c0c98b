package message

import (
	"time"

	"fitchat/internal/channel"
)

// Type is the message payload type.
type Type string

const (
	TypeText   Type = "text"
	TypeImage  Type = "image"
	TypeVoice  Type = "voice"
	TypeSystem Type = "system"
)

// Known reports whether t is one of the supported message types.
func (t Type) Known() bool {
	switch t {
	case TypeText, TypeImage, TypeVoice, TypeSystem:
		return true
	}
	return false
}

// Message is immutable once created except for the soft-delete flag.
type Message struct {
	ID        string                 `json:"id"`
	Channel   channel.Ref            `json:"-"`
	ChannelID string                 `json:"channel_id"`
	SenderID  string                 `json:"sender_id"`
	Content   string                 `json:"content"`
	Type      Type                   `json:"type"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	Deleted   bool                   `json:"deleted,omitempty"`
}

// Reaction is a unique (message, profile, emoji) tuple. Toggling re-adds
// or removes, never duplicates.
type Reaction struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	ProfileID string    `json:"profile_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// Key is the identity tuple used for dedup.
func (r Reaction) Key() string {
	return r.MessageID + "|" + r.ProfileID + "|" + r.Emoji
}

// ReadReceipt records that a profile has read a message, at most once per
// pair. Never created for the reader's own messages.
type ReadReceipt struct {
	MessageID string    `json:"message_id"`
	ProfileID string    `json:"profile_id"`
	ReadAt    time.Time `json:"read_at"`
}

// Key is the identity tuple used for dedup.
func (r ReadReceipt) Key() string {
	return r.MessageID + "|" + r.ProfileID
}
