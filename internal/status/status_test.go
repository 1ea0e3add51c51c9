package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublish_DeliversToSubscribers(t *testing.T) {
	bus := NewBus()
	events, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(Event{Kind: KindLive, ChannelID: "ch-1", VideoIndex: 2, OffsetSec: 12.5})

	select {
	case e := <-events:
		assert.Equal(t, KindLive, e.Kind)
		assert.Equal(t, "ch-1", e.ChannelID)
		assert.Equal(t, 2, e.VideoIndex)
		assert.NotEqual(t, e.ID.String(), "00000000-0000-0000-0000-000000000000")
		assert.False(t, e.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublish_NeverBlocksOnSlowSubscriber(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Subscribe()
	defer cancel()

	// Nobody drains; publishing past the buffer must still return
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.Publish(Event{Kind: KindBuffering, ChannelID: "ch-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestLast_TracksPerChannel(t *testing.T) {
	bus := NewBus()

	bus.Publish(Event{Kind: KindLive, ChannelID: "ch-1"})
	bus.Publish(Event{Kind: KindManual, ChannelID: "ch-2"})
	bus.Publish(Event{Kind: KindBuffering, ChannelID: "ch-1"})

	e, ok := bus.Last("ch-1")
	require.True(t, ok)
	assert.Equal(t, KindBuffering, e.Kind)

	e, ok = bus.Last("ch-2")
	require.True(t, ok)
	assert.Equal(t, KindManual, e.Kind)

	_, ok = bus.Last("ch-404")
	assert.False(t, ok)
}

func TestLast_IgnoresEventsWithoutChannel(t *testing.T) {
	bus := NewBus()

	bus.Publish(Event{Kind: KindStale, Reason: "sync failing"})

	assert.Empty(t, bus.Snapshot())
}

func TestSnapshot_OneEntryPerChannel(t *testing.T) {
	bus := NewBus()

	bus.Publish(Event{Kind: KindLive, ChannelID: "ch-1"})
	bus.Publish(Event{Kind: KindLive, ChannelID: "ch-2"})
	bus.Publish(Event{Kind: KindFatal, ChannelID: "ch-2"})

	snapshot := bus.Snapshot()
	assert.Len(t, snapshot, 2)

	kinds := make(map[string]Kind)
	for _, e := range snapshot {
		kinds[e.ChannelID] = e.Kind
	}
	assert.Equal(t, KindLive, kinds["ch-1"])
	assert.Equal(t, KindFatal, kinds["ch-2"])
}

func TestCancel_IsIdempotent(t *testing.T) {
	bus := NewBus()
	events, cancel := bus.Subscribe()

	cancel()
	cancel()

	_, open := <-events
	assert.False(t, open)

	// Publishing after cancel reaches nobody but must not panic
	bus.Publish(Event{Kind: KindLive, ChannelID: "ch-1"})
}
