package notify

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"fitchat/internal/bus"
	"fitchat/internal/channel"
)

const previewLimit = 120

// Notification is the logical "new message for an offline recipient"
// fact. Actual push delivery belongs to the notification subsystem; the
// core only emits the fact.
type Notification struct {
	UserID    string
	ChannelID string
	MessageID string
	SenderID  string
	Preview   string
}

// Dispatcher receives the facts. Implementations must not block.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification)
}

// LogDispatcher is the default sink when no push subsystem is attached.
type LogDispatcher struct {
	log zerolog.Logger
}

func NewLogDispatcher(log zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{log: log.With().Str("component", "notify-dispatcher").Logger()}
}

func (d *LogDispatcher) Dispatch(_ context.Context, n Notification) {
	d.log.Info().Str("user_id", n.UserID).Str("channel", n.ChannelID).
		Str("message_id", n.MessageID).Msg("offline recipient notification")
}

// Resolver answers channel membership for fan-out.
type Resolver interface {
	Resolve(ctx context.Context, ref channel.Ref) (*channel.Meta, error)
}

// PresenceChecker answers whether a recipient is online anywhere.
type PresenceChecker interface {
	IsUserOnline(userID string) bool
}

// Service taps the durable event stream and emits a notification per
// offline channel member for every new message.
type Service struct {
	events     <-chan bus.Event
	resolver   Resolver
	presence   PresenceChecker
	dispatcher Dispatcher
	log        zerolog.Logger

	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
}

func NewService(b *bus.Bus, resolver Resolver, presence PresenceChecker, dispatcher Dispatcher, log zerolog.Logger) *Service {
	return &Service{
		events:     b.Tap(512),
		resolver:   resolver,
		presence:   presence,
		dispatcher: dispatcher,
		log:        log.With().Str("component", "notify").Logger(),
	}
}

// Start launches the tap consumer. Safe to call more than once.
func (s *Service) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		s.wg.Add(1)
		go s.run(ctx)
		s.log.Info().Msg("offline notification emitter started")
	})
}

// Stop shuts the consumer down. Safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		s.log.Info().Msg("offline notification emitter stopped")
	})
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.events:
			if !ok {
				return
			}
			me, isMessage := ev.(bus.MessageEvent)
			if !isMessage || me.Op != bus.OpInsert || me.Message == nil || me.Message.Deleted {
				continue
			}
			s.fanOut(ctx, me)
		}
	}
}

func (s *Service) fanOut(ctx context.Context, me bus.MessageEvent) {
	meta, err := s.resolver.Resolve(ctx, me.Ref)
	if err != nil {
		s.log.Warn().Err(err).Str("channel", me.Ref.String()).Msg("failed to resolve channel for fan-out")
		return
	}

	for _, memberID := range meta.MemberIDs {
		if memberID == me.Message.SenderID || s.presence.IsUserOnline(memberID) {
			continue
		}
		s.dispatcher.Dispatch(ctx, Notification{
			UserID:    memberID,
			ChannelID: me.Ref.String(),
			MessageID: me.Message.ID,
			SenderID:  me.Message.SenderID,
			Preview:   preview(me.Message.Content),
		})
	}
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewLimit {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewLimit]) + "…"
}
