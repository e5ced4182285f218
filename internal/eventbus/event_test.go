package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBusDeliversToMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub1 := bus.Subscribe(4)
	sub2 := bus.Subscribe(4)

	bus.Publish(Event{Kind: Connected, ConnectionID: 1})

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case ev := <-sub.Events:
			require.Equal(t, Connected, ev.Kind)
			require.EqualValues(t, 1, ev.ConnectionID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe(4)
	sub.Unsubscribe()

	_, ok := <-sub.Events
	require.False(t, ok, "channel should be closed after unsubscribe")
}

func TestSlowSubscriberDropsOldestRatherThanBlock(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe(1)
	bus.Publish(Event{Kind: Connected, ConnectionID: 1})
	bus.Publish(Event{Kind: Connected, ConnectionID: 2})

	// Give the dispatch goroutine a moment to process both publishes.
	time.Sleep(50 * time.Millisecond)

	ev := <-sub.Events
	require.EqualValues(t, 2, ev.ConnectionID, "oldest event should have been dropped")
}
