package chatsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"fitchat/internal/bus"
	"fitchat/internal/channel"
	"fitchat/internal/identity"
	"fitchat/internal/message"
	"fitchat/internal/presence"
)

// State is the session lifecycle: Closed → Loading → Live →
// (Reconnecting) → Live, → Closed on teardown.
type State int32

const (
	StateClosed State = iota
	StateLoading
	StateLive
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "closed"
	}
}

var (
	// ErrReconnecting means the send failed fast and may be retried once
	// the session is live again. Nothing was queued; queuing would risk
	// out-of-order delivery after the reconnect.
	ErrReconnecting  = errors.New("session is reconnecting, retry send")
	ErrSessionClosed = errors.New("session is closed")
)

const seenCacheSize = 2048

// MessageService is the slice of the message store a session needs.
type MessageService interface {
	History(ctx context.Context, ref channel.Ref, limit, offset int) ([]*message.Message, error)
	HistorySince(ctx context.Context, ref channel.Ref, after time.Time) ([]*message.Message, error)
	Send(ctx context.Context, ref channel.Ref, senderID, content string, msgType message.Type, metadata map[string]interface{}) (*message.Message, error)
	MarkRead(ctx context.Context, ref channel.Ref, messageIDs []string, profileID string) (int, error)
	Hydrate(ctx context.Context, ref channel.Ref, messages []*message.Message) (*message.CachedState, error)
	CachedState(ctx context.Context, ref channel.Ref) *message.CachedState
}

// Subscriber is the slice of the event bus a session needs.
type Subscriber interface {
	Subscribe(clientID string, ref channel.Ref, filter bus.Filter) *bus.Subscription
}

// PresenceView answers the online-count query.
type PresenceView interface {
	OnlineUsers(ref channel.Ref) []presence.Record
}

// Deps are the collaborators a session aggregates over.
type Deps struct {
	Messages MessageService
	Bus      Subscriber
	Presence PresenceView
	Profiles identity.Provider
	Log      zerolog.Logger
}

// Config tunes one session.
type Config struct {
	PageSize           int
	MarkReadDelay      time.Duration
	TypingTTL          time.Duration
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

// DefaultConfig matches the service-level defaults.
func DefaultConfig() Config {
	return Config{
		PageSize:           message.DefaultPageSize,
		MarkReadDelay:      1500 * time.Millisecond,
		TypingTTL:          8 * time.Second,
		ReconnectBaseDelay: 500 * time.Millisecond,
		ReconnectMaxDelay:  10 * time.Second,
	}
}

// Update is one push to the session's consumer: the merged event plus
// the derived state a client renders alongside the timeline.
type Update struct {
	Event       bus.Event
	State       State
	TypingText  string
	OnlineCount int
}

// Session is the per-client delivery orchestrator for one channel: it
// loads history, subscribes live, merges both into a single timeline
// exactly once and in order, and derives typing/online state.
type Session struct {
	clientID string
	userID   string
	ref      channel.Ref
	filter   bus.Filter

	deps Deps
	cfg  Config
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	state     State
	timeline  []*message.Message
	reactions map[string]map[string]*message.Reaction
	receipts  map[string]map[string]*message.ReadReceipt
	typing    map[string]time.Time
	sub       *bus.Subscription

	seen *lru.Cache[string, struct{}]

	updates chan Update

	wg        sync.WaitGroup
	closeOnce sync.Once
	now       func() time.Time
}

// Open brings a session to Live: history fetch, cache seed, hydration,
// subscription, merge loop. The passed context bounds the whole session;
// cancelling it is equivalent to Close.
func Open(ctx context.Context, deps Deps, cfg Config, clientID, userID string, ref channel.Ref, filter bus.Filter) (*Session, error) {
	if cfg.PageSize <= 0 {
		cfg = DefaultConfig()
	}

	sctx, cancel := context.WithCancel(ctx)
	seen, _ := lru.New[string, struct{}](seenCacheSize)

	s := &Session{
		clientID:  clientID,
		userID:    userID,
		ref:       ref,
		filter:    filter,
		deps:      deps,
		cfg:       cfg,
		log: deps.Log.With().Str("component", "chat-session").
			Str("client_id", clientID).Str("channel", ref.String()).Logger(),
		ctx:       sctx,
		cancel:    cancel,
		state:     StateLoading,
		reactions: make(map[string]map[string]*message.Reaction),
		receipts:  make(map[string]map[string]*message.ReadReceipt),
		typing:    make(map[string]time.Time),
		seen:      seen,
		updates:   make(chan Update, 256),
		now:       time.Now,
	}

	history, err := deps.Messages.History(sctx, ref, cfg.PageSize, 0)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to load initial history: %w", err)
	}
	for _, m := range history {
		s.mergeMessage(m)
	}

	// Seed from the last cached snapshot first, then hydrate from the
	// store; hydration failure degrades to the seed.
	if cached := deps.Messages.CachedState(sctx, ref); cached != nil {
		s.applyState(cached)
	}
	if state, err := deps.Messages.Hydrate(sctx, ref, history); err != nil {
		s.log.Warn().Err(err).Msg("failed to hydrate reactions/receipts")
	} else {
		s.applyState(state)
	}

	s.sub = deps.Bus.Subscribe(clientID, ref, filter)
	s.state = StateLive

	s.wg.Add(1)
	go s.loop()

	if cfg.MarkReadDelay > 0 {
		s.wg.Add(1)
		go s.autoMarkRead()
	}

	return s, nil
}

// Close tears the session down, cancelling the bus subscription before
// returning so no event fires into a dead session. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		sub := s.sub
		s.mu.Unlock()

		if sub != nil {
			sub.Close()
		}
		s.cancel()
		s.wg.Wait()
		close(s.updates)
		s.log.Debug().Msg("session closed")
	})
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Updates is the session's outbound stream for transports. Slow
// consumers lose updates rather than stall the merge loop.
func (s *Session) Updates() <-chan Update { return s.updates }

// Send persists a message through the store adapter. It fails fast
// while not Live instead of queuing.
func (s *Session) Send(ctx context.Context, content string, msgType message.Type, metadata map[string]interface{}) (*message.Message, error) {
	switch s.State() {
	case StateLive:
	case StateClosed:
		return nil, ErrSessionClosed
	default:
		return nil, ErrReconnecting
	}
	return s.deps.Messages.Send(ctx, s.ref, s.userID, content, msgType, metadata)
}

// Timeline returns the merged, ordered timeline.
func (s *Session) Timeline() []*message.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*message.Message, len(s.timeline))
	copy(out, s.timeline)
	return out
}

// Reactions returns the current reactions for one message.
func (s *Session) Reactions(messageID string) []*message.Reaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*message.Reaction
	for _, r := range s.reactions[messageID] {
		out = append(out, r)
	}
	return out
}

// OnlineCount is the number of users currently present in the channel.
func (s *Session) OnlineCount() int {
	return len(s.deps.Presence.OnlineUsers(s.ref))
}

func (s *Session) loop() {
	defer s.wg.Done()
	for {
		s.mu.RLock()
		sub := s.sub
		s.mu.RUnlock()

		select {
		case <-s.ctx.Done():
			return
		case ev := <-sub.Events():
			s.handle(ev)
		case <-sub.Done():
			failure := sub.Failure()
			if failure == nil || failure.Code == bus.CodeClosed {
				// Clean close or replacement by a newer session.
				return
			}
			if !s.reconnect(true) {
				return
			}
		}
	}
}

func (s *Session) handle(ev bus.Event) {
	switch e := ev.(type) {
	case bus.MessageEvent:
		s.mu.Lock()
		switch {
		case e.Op == bus.OpInsert && !e.Message.Deleted:
			s.mergeMessage(e.Message)
		case e.Op == bus.OpUpdate && e.Message.Deleted:
			s.dropMessage(e.Message.ID)
		case e.Op == bus.OpDelete:
			s.dropMessage(e.Message.ID)
		}
		s.mu.Unlock()

	case bus.ReactionEvent:
		s.mu.Lock()
		key := e.Reaction.Key()
		switch e.Op {
		case bus.OpDelete:
			delete(s.reactions[e.Reaction.MessageID], key)
		default:
			if s.reactions[e.Reaction.MessageID] == nil {
				s.reactions[e.Reaction.MessageID] = make(map[string]*message.Reaction)
			}
			s.reactions[e.Reaction.MessageID][key] = e.Reaction
		}
		s.mu.Unlock()

	case bus.ReceiptEvent:
		s.mu.Lock()
		key := e.Receipt.Key()
		if s.receipts[e.Receipt.MessageID] == nil {
			s.receipts[e.Receipt.MessageID] = make(map[string]*message.ReadReceipt)
		}
		s.receipts[e.Receipt.MessageID][key] = e.Receipt
		s.mu.Unlock()

	case bus.TypingEvent:
		s.mu.Lock()
		if e.Typing {
			s.typing[e.UserID] = s.now().Add(s.cfg.TypingTTL)
		} else {
			delete(s.typing, e.UserID)
		}
		s.mu.Unlock()

	case bus.PresenceEvent:
		// Online count is derived straight from the registry; the event
		// only prompts consumers to re-render.

	case bus.ErrorEvent:
		if e.Code == bus.CodeClosed {
			return
		}
		s.log.Warn().Str("code", string(e.Code)).Err(e.Err).Msg("subscription disrupted, catching up")
		s.reconnect(false)
		return
	}

	s.emit(ev)
}

// reconnect restores Live after a disruption: optionally resubscribe,
// then close the gap by re-fetching everything since the newest merged
// message. Dedup makes the overlap harmless.
func (s *Session) reconnect(resubscribe bool) bool {
	s.setState(StateReconnecting)

	delay := s.cfg.ReconnectBaseDelay
	for {
		if resubscribe {
			newSub := s.deps.Bus.Subscribe(s.clientID, s.ref, s.filter)
			s.mu.Lock()
			if s.state == StateClosed {
				// Close won the race: it already cancelled the old
				// subscription, so this one must not be installed or it
				// would outlive the session.
				s.mu.Unlock()
				newSub.Close()
				return false
			}
			s.sub = newSub
			s.mu.Unlock()
		}

		if err := s.catchUp(); err == nil {
			s.setState(StateLive)
			return true
		} else {
			s.log.Warn().Err(err).Dur("retry_in", delay).Msg("catch-up failed")
		}

		select {
		case <-s.ctx.Done():
			return false
		case <-time.After(delay):
		}
		delay *= 2
		if delay > s.cfg.ReconnectMaxDelay {
			delay = s.cfg.ReconnectMaxDelay
		}
		resubscribe = true
	}
}

func (s *Session) catchUp() error {
	s.mu.RLock()
	var since time.Time
	if n := len(s.timeline); n > 0 {
		since = s.timeline[n-1].CreatedAt
	}
	s.mu.RUnlock()

	var missed []*message.Message
	var err error
	if since.IsZero() {
		missed, err = s.deps.Messages.History(s.ctx, s.ref, s.cfg.PageSize, 0)
	} else {
		missed, err = s.deps.Messages.HistorySince(s.ctx, s.ref, since)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	for _, m := range missed {
		s.mergeMessage(m)
	}
	s.mu.Unlock()
	return nil
}

// autoMarkRead marks the unread portion of the initial page read after a
// short delay, simulating the user actually reading it. Own messages
// are filtered by the store as well; the local filter just avoids the
// round-trip.
func (s *Session) autoMarkRead() {
	defer s.wg.Done()
	select {
	case <-s.ctx.Done():
		return
	case <-time.After(s.cfg.MarkReadDelay):
	}

	s.mu.RLock()
	var unread []string
	for _, m := range s.timeline {
		if m.SenderID == s.userID {
			continue
		}
		if _, read := s.receipts[m.ID][message.ReadReceipt{MessageID: m.ID, ProfileID: s.userID}.Key()]; read {
			continue
		}
		unread = append(unread, m.ID)
	}
	s.mu.RUnlock()

	if len(unread) == 0 {
		return
	}
	if _, err := s.deps.Messages.MarkRead(s.ctx, s.ref, unread, s.userID); err != nil {
		s.log.Warn().Err(err).Int("count", len(unread)).Msg("auto mark-read failed")
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()
	s.emit(nil)
}

func (s *Session) emit(ev bus.Event) {
	update := Update{
		Event:       ev,
		State:       s.State(),
		TypingText:  s.TypingText(),
		OnlineCount: s.OnlineCount(),
	}
	select {
	case s.updates <- update:
	default:
		s.log.Debug().Msg("update consumer lagging, dropping update")
	}
}
