package broadcast

import (
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receiveEvent(t *testing.T, sub *Subscription, timeout time.Duration) (Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		return ev, ok
	case <-time.After(timeout):
		return Event{}, false
	}
}

func TestGroupSubscribePublishUnsubscribe(t *testing.T) {
	g := NewGroup("race-1")

	sub1 := g.Subscribe()
	sub2 := g.Subscribe()
	require.Equal(t, 2, g.SubscriberCount())

	g.Publish(Event{Type: EventRaceData, Version: 3})

	ev1, ok := receiveEvent(t, sub1, 100*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, EventRaceData, ev1.Type)
	assert.Equal(t, int64(3), ev1.Version)

	ev2, ok := receiveEvent(t, sub2, 100*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, int64(3), ev2.Version)

	g.Unsubscribe(sub1)
	assert.Equal(t, 1, g.SubscriberCount())

	// Unsubscribed channel is closed.
	_, open := <-sub1.C()
	assert.False(t, open)

	// Double unsubscribe is harmless.
	g.Unsubscribe(sub1)
	sub1.Close()
}

func TestGroupPublishPreservesPublisherOrder(t *testing.T) {
	g := NewGroup("race-1")
	sub := g.Subscribe()

	for i := int64(1); i <= 10; i++ {
		g.Publish(Event{Type: EventRaceData, Version: i})
	}

	for i := int64(1); i <= 10; i++ {
		ev, ok := receiveEvent(t, sub, 100*time.Millisecond)
		require.True(t, ok)
		assert.Equal(t, i, ev.Version)
	}
}

func TestRegistryCreatesGroupsImplicitly(t *testing.T) {
	r := NewRegistry()

	// Publishing to a race nobody subscribed to must not fail.
	r.Publish("nobody-here", Event{Type: EventRaceData, Version: 1})

	g := r.Get("race-1")
	require.NotNil(t, g)
	assert.Same(t, g, r.Get("race-1"))

	sub := r.Get("race-1").Subscribe()
	r.Publish("race-1", Event{Type: EventError, Errors: []string{"nope"}})

	ev, ok := receiveEvent(t, sub, 100*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, []string{"nope"}, ev.Errors)
}

func TestSlowSubscriberIsClosedNotBlocking(t *testing.T) {
	g := NewGroup("race-1")
	sub := g.Subscribe()

	// Never drained: overflowing the backlog must close the subscription
	// instead of blocking the publisher.
	for i := 0; i < subscriptionBuffer+10; i++ {
		g.Publish(Event{Type: EventRaceData, Version: int64(i)})
	}

	assert.Equal(t, 0, g.SubscriberCount())

	// Drain to the close.
	closed := false
	for !closed {
		select {
		case _, ok := <-sub.C():
			if !ok {
				closed = true
			}
		case <-time.After(time.Second):
			t.Fatal("subscription channel never closed")
		}
	}
}

func TestGroupBroadcastDeliversToAllSubscribersProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("every subscriber observes every published event", prop.ForAll(
		func(numSubs int, numEvents int) bool {
			g := NewGroup("race-prop")

			subs := make([]*Subscription, numSubs)
			for i := range subs {
				subs[i] = g.Subscribe()
			}

			for i := 0; i < numEvents; i++ {
				g.Publish(Event{Type: EventRaceData, Version: int64(i + 1)})
			}

			for _, sub := range subs {
				for i := 0; i < numEvents; i++ {
					ev, ok := receiveEvent(t, sub, 100*time.Millisecond)
					if !ok || ev.Version != int64(i+1) {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(1, 10),
		gen.IntRange(0, 20),
	))

	properties.Property("subscriber sets are independent per race", prop.ForAll(
		func(raceA, raceB string) bool {
			if raceA == raceB {
				raceB = raceB + "-b"
			}
			r := NewRegistry()
			subA := r.Get(raceA).Subscribe()
			subB := r.Get(raceB).Subscribe()

			r.Publish(raceA, Event{Type: EventRaceData, Version: 7})

			evA, ok := receiveEvent(t, subA, 100*time.Millisecond)
			if !ok || evA.Version != 7 {
				return false
			}

			select {
			case <-subB.C():
				return false
			case <-time.After(20 * time.Millisecond):
				return true
			}
		},
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
	))

	properties.TestingRun(t)
}

func TestSubscriberCountAcrossManyGroups(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 50; i++ {
		r.Get(fmt.Sprintf("race-%d", i)).Subscribe()
	}
	for i := 0; i < 50; i++ {
		assert.Equal(t, 1, r.Get(fmt.Sprintf("race-%d", i)).SubscriberCount())
	}
}
