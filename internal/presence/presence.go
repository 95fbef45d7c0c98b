package presence

import (
	"time"

	"fitchat/internal/channel"
)

// Status is the global connectivity state of a user. Staleness beyond
// the cutoff implies offline regardless of the stored value.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// Record is the ephemeral presence of one user. Never persisted; it is
// reconstructed from the next heartbeat or activity after a restart.
type Record struct {
	UserID   string       `json:"user_id"`
	Status   Status       `json:"status"`
	Typing   bool         `json:"typing"`
	LastSeen time.Time    `json:"last_seen"`
	Device   string       `json:"device,omitempty"`
	Location *channel.Ref `json:"-"`
	Activity string       `json:"activity,omitempty"`
}

// ActivityType classifies tracked activity events. Any of them resets
// the away timer.
type ActivityType string

const (
	ActivityJoinedChannel ActivityType = "joined_channel"
	ActivityLeftChannel   ActivityType = "left_channel"
	ActivityStatusChange  ActivityType = "status_change"
	ActivityCustom        ActivityType = "custom"
)

// Activity is one tracked activity report.
type Activity struct {
	UserID  string
	Type    ActivityType
	Channel *channel.Ref
	Status  Status
	Device  string
	Tag     string
}

// Broadcaster is the ephemeral fan-out path for presence and typing
// changes. Implementations carry no delivery guarantee; dropped updates
// are re-derived from the next heartbeat.
type Broadcaster interface {
	BroadcastTyping(ref channel.Ref, userID string, typing bool)
	BroadcastPresence(ref channel.Ref, userID string, status Status, lastSeen time.Time)
}

// Options are the presence timing windows.
type Options struct {
	// AwayAfter flips online users to away after this much inactivity.
	AwayAfter time.Duration
	// StalenessCutoff is how old last_seen may be before readers infer
	// offline.
	StalenessCutoff time.Duration
	// TypingSilence auto-clears typing after this much silence, covering
	// crashed clients that never send a stop.
	TypingSilence time.Duration
	// ReapInterval is how often the background reaper runs.
	ReapInterval time.Duration
}

// DefaultOptions are the production windows: away at 5m, stale at 5m,
// typing clears after 8s.
func DefaultOptions() Options {
	return Options{
		AwayAfter:       5 * time.Minute,
		StalenessCutoff: 5 * time.Minute,
		TypingSilence:   8 * time.Second,
		ReapInterval:    2 * time.Second,
	}
}
