package bus

import (
	"time"

	"fitchat/internal/channel"
	"fitchat/internal/message"
	"fitchat/internal/presence"
)

// Op mirrors the change feed event types.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// ErrorCode classifies connection-level subscription failures.
type ErrorCode string

const (
	CodeChannelError ErrorCode = "CHANNEL_ERROR"
	CodeTimedOut     ErrorCode = "TIMED_OUT"
	CodeClosed       ErrorCode = "CLOSED"
)

// Event is the closed set of things a subscription can deliver. One Go
// channel carries all of them, so a consumer runs a single ordered loop
// instead of juggling per-type callbacks.
type Event interface {
	Channel() channel.Ref
	isEvent()
}

// MessageEvent is a durable message mutation, delivered in store-commit
// order within its channel.
type MessageEvent struct {
	Ref     channel.Ref
	Op      Op
	Message *message.Message
}

// ReactionEvent is a durable reaction insert or delete.
type ReactionEvent struct {
	Ref      channel.Ref
	Op       Op
	Reaction *message.Reaction
}

// ReceiptEvent is a durable read-receipt insert.
type ReceiptEvent struct {
	Ref     channel.Ref
	Receipt *message.ReadReceipt
}

// TypingEvent travels the ephemeral path; it may be silently dropped and
// is re-derived from the next typing activity.
type TypingEvent struct {
	Ref    channel.Ref
	UserID string
	Typing bool
}

// PresenceEvent travels the ephemeral path.
type PresenceEvent struct {
	Ref      channel.Ref
	UserID   string
	Status   presence.Status
	LastSeen time.Time
}

// ErrorEvent surfaces connection-level trouble. Reconnect and backoff
// policy belong to the subscriber, not the bus.
type ErrorEvent struct {
	Ref  channel.Ref
	Code ErrorCode
	Err  error
}

func (e MessageEvent) Channel() channel.Ref  { return e.Ref }
func (e ReactionEvent) Channel() channel.Ref { return e.Ref }
func (e ReceiptEvent) Channel() channel.Ref  { return e.Ref }
func (e TypingEvent) Channel() channel.Ref   { return e.Ref }
func (e PresenceEvent) Channel() channel.Ref { return e.Ref }
func (e ErrorEvent) Channel() channel.Ref    { return e.Ref }

func (MessageEvent) isEvent()  {}
func (ReactionEvent) isEvent() {}
func (ReceiptEvent) isEvent()  {}
func (TypingEvent) isEvent()   {}
func (PresenceEvent) isEvent() {}
func (ErrorEvent) isEvent()    {}
