package bus

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fitchat/internal/channel"
	"fitchat/internal/presence"
)

const (
	subscriptionBuffer = 256
	durableSendTimeout = time.Second
)

// Filter narrows what a subscription receives beyond its channel. Buddy
// subscriptions carry the rotation window so messages outside the active
// date range never reach the client.
type Filter struct {
	Window *channel.Window
}

// Subscription is one client's ordered event stream for one channel.
type Subscription struct {
	clientID string
	ref      channel.Ref
	filter   Filter

	events chan Event
	done   chan struct{}

	mu      sync.Mutex
	once    sync.Once
	failure *ErrorEvent
	bus     *Bus
}

// Events is the single consumption channel. It is never closed; wait on
// Done to learn the subscription ended.
func (s *Subscription) Events() <-chan Event { return s.events }

// Done is closed when the subscription ends, whether by Close, by
// replacement, or by a delivery failure.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Failure reports why the subscription ended, or nil for a clean Close.
func (s *Subscription) Failure() *ErrorEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Close cancels the subscription synchronously: once it returns, no
// further events are delivered. Idempotent.
func (s *Subscription) Close() {
	s.bus.remove(s)
	s.finish(nil)
}

func (s *Subscription) finish(failure *ErrorEvent) {
	s.once.Do(func() {
		if failure != nil {
			s.mu.Lock()
			s.failure = failure
			s.mu.Unlock()
		}
		close(s.done)
	})
}

// Bus is the per-channel pub/sub multiplexer. Durable events arrive from
// the storage change feed in commit order; typing and presence arrive
// from the ephemeral broadcast path with no guarantee at all. Delivery
// is at-least-once; consumers dedup by identity key.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]map[string]*Subscription
	taps []chan Event
	log  zerolog.Logger
}

func New(log zerolog.Logger) *Bus {
	return &Bus{
		subs: make(map[string]map[string]*Subscription),
		log:  log.With().Str("component", "event-bus").Logger(),
	}
}

// Subscribe registers the (client, channel) pair. An existing
// subscription for the same pair is cancelled first so no handler ever
// fires twice for one underlying event.
func (b *Bus) Subscribe(clientID string, ref channel.Ref, filter Filter) *Subscription {
	sub := &Subscription{
		clientID: clientID,
		ref:      ref,
		filter:   filter,
		events:   make(chan Event, subscriptionBuffer),
		done:     make(chan struct{}),
		bus:      b,
	}

	key := ref.String()
	var replaced *Subscription

	b.mu.Lock()
	if b.subs[key] == nil {
		b.subs[key] = make(map[string]*Subscription)
	}
	replaced = b.subs[key][clientID]
	b.subs[key][clientID] = sub
	b.mu.Unlock()

	if replaced != nil {
		replaced.finish(&ErrorEvent{Ref: ref, Code: CodeClosed})
		b.log.Debug().Str("client_id", clientID).Str("channel", key).
			Msg("replaced prior subscription")
	}
	return sub
}

func (b *Bus) remove(sub *Subscription) {
	key := sub.ref.String()
	b.mu.Lock()
	defer b.mu.Unlock()
	if current, ok := b.subs[key][sub.clientID]; ok && current == sub {
		delete(b.subs[key], sub.clientID)
		if len(b.subs[key]) == 0 {
			delete(b.subs, key)
		}
	}
}

func (b *Bus) subscribers(ref channel.Ref) []*Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	room := b.subs[ref.String()]
	if len(room) == 0 {
		return nil
	}
	subs := make([]*Subscription, 0, len(room))
	for _, sub := range room {
		subs = append(subs, sub)
	}
	return subs
}

// PublishChange dispatches a durable event. The feed calls this from a
// single goroutine, which is what preserves per-channel commit order. A
// subscriber that cannot drain its buffer within the send timeout is
// failed with TIMED_OUT and must reconnect; silently dropping a durable
// event would break the delivery contract.
func (b *Bus) PublishChange(ev Event) {
	for _, sub := range b.subscribers(ev.Channel()) {
		if !passes(sub.filter, ev) {
			continue
		}
		select {
		case sub.events <- ev:
		case <-sub.done:
		case <-time.After(durableSendTimeout):
			b.log.Warn().Str("client_id", sub.clientID).Str("channel", sub.ref.String()).
				Msg("subscriber too slow for durable delivery, dropping subscription")
			b.remove(sub)
			sub.finish(&ErrorEvent{Ref: sub.ref, Code: CodeTimedOut})
		}
	}
	b.fanToTaps(ev)
}

// passes applies the subscription filter. The buddy date window only
// constrains messages; reactions and receipts reference messages that
// already passed it.
func passes(f Filter, ev Event) bool {
	if f.Window == nil {
		return true
	}
	if me, ok := ev.(MessageEvent); ok && me.Message != nil {
		return f.Window.Contains(me.Message.CreatedAt)
	}
	return true
}

// publishEphemeral drops on a full buffer: typing and presence are
// re-derived from the next heartbeat, so losing one is fine.
func (b *Bus) publishEphemeral(ev Event) {
	for _, sub := range b.subscribers(ev.Channel()) {
		select {
		case sub.events <- ev:
		default:
		}
	}
}

// BroadcastTyping implements presence.Broadcaster.
func (b *Bus) BroadcastTyping(ref channel.Ref, userID string, typing bool) {
	b.publishEphemeral(TypingEvent{Ref: ref, UserID: userID, Typing: typing})
}

// BroadcastPresence implements presence.Broadcaster.
func (b *Bus) BroadcastPresence(ref channel.Ref, userID string, status presence.Status, lastSeen time.Time) {
	b.publishEphemeral(PresenceEvent{Ref: ref, UserID: userID, Status: status, LastSeen: lastSeen})
}

// NotifyDisruption fans a connection-level error to every subscription.
// Subscribers own the reconnect and catch-up that follows.
func (b *Bus) NotifyDisruption(code ErrorCode, err error) {
	b.mu.RLock()
	var all []*Subscription
	for _, room := range b.subs {
		for _, sub := range room {
			all = append(all, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range all {
		ev := ErrorEvent{Ref: sub.ref, Code: code, Err: err}
		select {
		case sub.events <- ev:
		default:
			b.remove(sub)
			sub.finish(&ev)
		}
	}
}

// Tap returns a process-wide stream of durable events, independent of
// any channel subscription. Used by the offline-notification emitter.
// Slow taps lose events rather than stall the feed.
func (b *Bus) Tap(buffer int) <-chan Event {
	tap := make(chan Event, buffer)
	b.mu.Lock()
	b.taps = append(b.taps, tap)
	b.mu.Unlock()
	return tap
}

func (b *Bus) fanToTaps(ev Event) {
	b.mu.RLock()
	taps := b.taps
	b.mu.RUnlock()
	for _, tap := range taps {
		select {
		case tap <- ev:
		default:
		}
	}
}

// Close ends every subscription with CLOSED.
func (b *Bus) Close() {
	b.mu.Lock()
	var all []*Subscription
	for _, room := range b.subs {
		for _, sub := range room {
			all = append(all, sub)
		}
	}
	b.subs = make(map[string]map[string]*Subscription)
	taps := b.taps
	b.taps = nil
	b.mu.Unlock()

	for _, sub := range all {
		sub.finish(&ErrorEvent{Ref: sub.ref, Code: CodeClosed})
	}
	for _, tap := range taps {
		close(tap)
	}
}
