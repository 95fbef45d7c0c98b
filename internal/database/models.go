package database

import (
	"time"

	"github.com/lib/pq"
)

// The models below exist for AutoMigrate only; the runtime path speaks
// raw SQL through the repositories.

type Profile struct {
	ID        string `gorm:"primaryKey"`
	FirstName string
	LastName  string
	Avatar    string
	CreatedAt time.Time
}

type MoaiChannel struct {
	ID          int64 `gorm:"primaryKey;autoIncrement"`
	CommunityID int64 `gorm:"index"`
	Title       string
	IsActive    bool `gorm:"default:true"`
	CreatedAt   time.Time
}

type MoaiChannelMember struct {
	ChannelID int64  `gorm:"primaryKey"`
	ProfileID string `gorm:"primaryKey"`
	JoinedAt  time.Time
}

type BuddyChannel struct {
	ID           int64 `gorm:"primaryKey;autoIncrement"`
	GroupID      int64 `gorm:"index"`
	Title        string
	Participants pq.StringArray `gorm:"type:text[]"`
	StartsAt     time.Time
	EndsAt       time.Time
	IsActive     bool `gorm:"default:true"`
	CreatedAt    time.Time
}

type CoachConversation struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	CoachID   string `gorm:"index"`
	ClientID  *string
	IsGroup   bool
	Title     string
	IsActive  bool `gorm:"default:true"`
	CreatedAt time.Time
}

type CoachConversationMember struct {
	ConversationID int64  `gorm:"primaryKey"`
	ProfileID      string `gorm:"primaryKey"`
	JoinedAt       time.Time
}

// Message rows carry the channel partition columns so the change feed
// and the range queries never need a join.
type Message struct {
	ID          string `gorm:"primaryKey"`
	ChannelKind string `gorm:"index:idx_messages_partition"`
	ScopeID     int64  `gorm:"index:idx_messages_partition"`
	SenderID    string `gorm:"index"`
	Content     string
	Type        string
	Metadata    []byte    `gorm:"type:jsonb"`
	CreatedAt   time.Time `gorm:"index"`
	Deleted     bool      `gorm:"default:false"`
}

type Reaction struct {
	ID          string `gorm:"primaryKey"`
	MessageID   string `gorm:"uniqueIndex:uniq_reaction_tuple"`
	ProfileID   string `gorm:"uniqueIndex:uniq_reaction_tuple"`
	Emoji       string `gorm:"uniqueIndex:uniq_reaction_tuple"`
	ChannelKind string
	ScopeID     int64
	CreatedAt   time.Time
}

type ReadReceipt struct {
	MessageID   string `gorm:"primaryKey"`
	ProfileID   string `gorm:"primaryKey"`
	ChannelKind string
	ScopeID     int64
	ReadAt      time.Time
}
