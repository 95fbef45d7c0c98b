package channel

import "time"

// RefinedKind distinguishes the four conversation shapes behind the three
// wire prefixes. The coach prefix covers both coaching shapes; the
// conversation row's group flag picks one.
type RefinedKind string

const (
	RefinedGroup        RefinedKind = "group"
	RefinedPaired       RefinedKind = "paired"
	RefinedCoachPrivate RefinedKind = "coaching-private"
	RefinedCoachGroup   RefinedKind = "coaching-group"
)

// LastMessage is the trailing message attached to a channel summary.
type LastMessage struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary is one entry in a user's channel list.
type Summary struct {
	Ref         Ref          `json:"-"`
	ID          string       `json:"id"`
	Kind        RefinedKind  `json:"kind"`
	Title       string       `json:"title"`
	IsActive    bool         `json:"is_active"`
	CreatedAt   time.Time    `json:"created_at"`
	MemberCount int          `json:"member_count"`
	LastMessage *LastMessage `json:"last_message,omitempty"`
	UnreadCount int          `json:"unread_count"`
}

// Window is the active date range of a buddy channel. Messages and live
// events outside the window do not belong to the rotation.
type Window struct {
	StartsAt time.Time
	EndsAt   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.StartsAt) && t.Before(w.EndsAt)
}

// Meta is resolved channel metadata, used for validation, bus filters and
// offline-recipient fan-out.
type Meta struct {
	Ref       Ref
	Kind      RefinedKind
	Title     string
	IsActive  bool
	CreatedAt time.Time
	MemberIDs []string
	// Window is set for buddy channels only.
	Window *Window
}

// IsMember reports whether userID belongs to the channel.
func (m *Meta) IsMember(userID string) bool {
	for _, id := range m.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}
