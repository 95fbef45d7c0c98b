package chatsession

import (
	"sort"

	"fitchat/internal/message"
)

// mergeMessage inserts a message into the timeline exactly once, keyed
// by message ID, keeping ascending created_at order. Caller holds the
// write lock (or the loop has not started yet).
func (s *Session) mergeMessage(m *message.Message) {
	if _, dup := s.seen.Get(m.ID); dup {
		return
	}
	s.seen.Add(m.ID, struct{}{})

	n := len(s.timeline)
	if n == 0 || !m.CreatedAt.Before(s.timeline[n-1].CreatedAt) {
		s.timeline = append(s.timeline, m)
		return
	}

	// Out-of-order arrival; insert at the right spot.
	idx := sort.Search(n, func(i int) bool {
		return s.timeline[i].CreatedAt.After(m.CreatedAt)
	})
	s.timeline = append(s.timeline, nil)
	copy(s.timeline[idx+1:], s.timeline[idx:])
	s.timeline[idx] = m
}

// dropMessage removes a soft-deleted message from the timeline. The ID
// stays in the seen cache so a late duplicate insert cannot resurrect
// it.
func (s *Session) dropMessage(messageID string) {
	for i, m := range s.timeline {
		if m.ID == messageID {
			s.timeline = append(s.timeline[:i], s.timeline[i+1:]...)
			break
		}
	}
	s.seen.Add(messageID, struct{}{})
	delete(s.reactions, messageID)
	delete(s.receipts, messageID)
}

// applyState folds a reaction/receipt snapshot into local state.
func (s *Session) applyState(state *message.CachedState) {
	if state == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range state.Reactions {
		if s.reactions[r.MessageID] == nil {
			s.reactions[r.MessageID] = make(map[string]*message.Reaction)
		}
		s.reactions[r.MessageID][r.Key()] = r
	}
	for _, rr := range state.Receipts {
		if s.receipts[rr.MessageID] == nil {
			s.receipts[rr.MessageID] = make(map[string]*message.ReadReceipt)
		}
		s.receipts[rr.MessageID][rr.Key()] = rr
	}
}
