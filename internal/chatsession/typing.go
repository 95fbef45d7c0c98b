package chatsession

import (
	"fmt"
	"sort"
)

// TypingText derives the indicator line from the current typing set,
// excluding the session's own user: "", "A is typing…",
// "A and B are typing…", or "A and N others are typing…".
func (s *Session) TypingText() string {
	now := s.now()

	s.mu.RLock()
	var userIDs []string
	for userID, expiry := range s.typing {
		if userID == s.userID || !expiry.After(now) {
			continue
		}
		userIDs = append(userIDs, userID)
	}
	s.mu.RUnlock()

	if len(userIDs) == 0 {
		return ""
	}
	sort.Strings(userIDs)

	names := make([]string, len(userIDs))
	for i, userID := range userIDs {
		names[i] = s.displayName(userID)
	}

	switch len(names) {
	case 1:
		return names[0] + " is typing…"
	case 2:
		return names[0] + " and " + names[1] + " are typing…"
	default:
		return fmt.Sprintf("%s and %d others are typing…", names[0], len(names)-1)
	}
}

func (s *Session) displayName(userID string) string {
	if s.deps.Profiles == nil {
		return userID
	}
	profile, err := s.deps.Profiles.Profile(s.ctx, userID)
	if err != nil {
		return userID
	}
	return profile.DisplayName()
}
