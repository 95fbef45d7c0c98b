package bus

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitchat/internal/channel"
	"fitchat/internal/message"
)

var testRef = channel.Ref{Kind: channel.KindMoai, StorageID: 1}

func msgEvent(id string, createdAt time.Time) MessageEvent {
	return MessageEvent{
		Ref: testRef,
		Op:  OpInsert,
		Message: &message.Message{
			ID:        id,
			Channel:   testRef,
			ChannelID: testRef.String(),
			SenderID:  "sender",
			Content:   "hello",
			Type:      message.TypeText,
			CreatedAt: createdAt,
		},
	}
}

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestPublishChangePreservesOrder(t *testing.T) {
	b := New(zerolog.Nop())
	sub := b.Subscribe("c1", testRef, Filter{})
	defer sub.Close()

	base := time.Now()
	for i := 0; i < 5; i++ {
		b.PublishChange(msgEvent(fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second)))
	}

	for i := 0; i < 5; i++ {
		ev := recv(t, sub).(MessageEvent)
		assert.Equal(t, fmt.Sprintf("m%d", i), ev.Message.ID)
	}
}

func TestSubscribeReplacesPrior(t *testing.T) {
	b := New(zerolog.Nop())
	first := b.Subscribe("c1", testRef, Filter{})
	second := b.Subscribe("c1", testRef, Filter{})
	defer second.Close()

	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Fatal("prior subscription was not cancelled")
	}
	require.NotNil(t, first.Failure())
	assert.Equal(t, CodeClosed, first.Failure().Code)

	// Exactly one delivery: the replaced subscription is out of the map.
	b.PublishChange(msgEvent("m1", time.Now()))
	ev := recv(t, second).(MessageEvent)
	assert.Equal(t, "m1", ev.Message.ID)
	select {
	case <-first.Events():
		t.Fatal("replaced subscription must not receive events")
	default:
	}
}

func TestDistinctClientsEachReceive(t *testing.T) {
	b := New(zerolog.Nop())
	alice := b.Subscribe("alice", testRef, Filter{})
	bob := b.Subscribe("bob", testRef, Filter{})
	defer alice.Close()
	defer bob.Close()

	b.PublishChange(msgEvent("m1", time.Now()))

	assert.Equal(t, "m1", recv(t, alice).(MessageEvent).Message.ID)
	assert.Equal(t, "m1", recv(t, bob).(MessageEvent).Message.ID)
}

func TestWindowFilterAppliesToMessagesOnly(t *testing.T) {
	b := New(zerolog.Nop())
	window := &channel.Window{
		StartsAt: time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC),
	}
	sub := b.Subscribe("c1", testRef, Filter{Window: window})
	defer sub.Close()

	b.PublishChange(msgEvent("outside", time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)))
	b.PublishChange(msgEvent("inside", time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC)))
	b.PublishChange(ReactionEvent{
		Ref: testRef,
		Op:  OpInsert,
		Reaction: &message.Reaction{
			ID: "r1", MessageID: "inside", ProfileID: "u1", Emoji: "👍",
		},
	})

	assert.Equal(t, "inside", recv(t, sub).(MessageEvent).Message.ID)
	assert.Equal(t, "r1", recv(t, sub).(ReactionEvent).Reaction.ID)
}

func TestEphemeralDropsWhenBufferFull(t *testing.T) {
	b := New(zerolog.Nop())
	sub := b.Subscribe("c1", testRef, Filter{})
	defer sub.Close()

	for i := 0; i < subscriptionBuffer+50; i++ {
		b.BroadcastTyping(testRef, "u1", true)
	}

	// The subscription survives; only the overflow is lost.
	select {
	case <-sub.Done():
		t.Fatal("ephemeral overflow must not end the subscription")
	default:
	}
	assert.Len(t, sub.events, subscriptionBuffer)
}

func TestNotifyDisruptionReachesAllSubscribers(t *testing.T) {
	b := New(zerolog.Nop())
	other := channel.Ref{Kind: channel.KindBuddy, StorageID: 9}
	s1 := b.Subscribe("c1", testRef, Filter{})
	s2 := b.Subscribe("c2", other, Filter{})
	defer s1.Close()
	defer s2.Close()

	b.NotifyDisruption(CodeChannelError, errors.New("feed reconnected"))

	for _, sub := range []*Subscription{s1, s2} {
		ev := recv(t, sub).(ErrorEvent)
		assert.Equal(t, CodeChannelError, ev.Code)
		assert.Equal(t, sub.ref, ev.Ref)
	}
}

func TestTapSeesDurableEvents(t *testing.T) {
	b := New(zerolog.Nop())
	tap := b.Tap(8)

	b.PublishChange(msgEvent("m1", time.Now()))

	select {
	case ev := <-tap:
		assert.Equal(t, "m1", ev.(MessageEvent).Message.ID)
	case <-time.After(time.Second):
		t.Fatal("tap did not receive the event")
	}
}

func TestCloseEndsEverything(t *testing.T) {
	b := New(zerolog.Nop())
	sub := b.Subscribe("c1", testRef, Filter{})
	tap := b.Tap(1)

	b.Close()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not finished on close")
	}
	require.NotNil(t, sub.Failure())
	assert.Equal(t, CodeClosed, sub.Failure().Code)

	_, open := <-tap
	assert.False(t, open)
}
