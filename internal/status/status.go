// Package status provides the engine's observable event stream. Components
// publish state transitions here instead of calling each other in cycles;
// subscribers (HTTP stream, tests, metrics) read at their own pace.
package status

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a status event
type Kind string

const (
	// KindLive indicates the synchronizer is tracking the live timeline
	KindLive Kind = "live"
	// KindManual indicates playback follows a user-selected manual anchor
	KindManual Kind = "manual"
	// KindBuffering indicates the player is buffering
	KindBuffering Kind = "buffering"
	// KindRecovering indicates a bounded recovery action is in progress
	KindRecovering Kind = "recovering"
	// KindStale indicates playback continues on an outdated catalog
	KindStale Kind = "stale"
	// KindEOM indicates manual playback walked off the end of the playlist
	KindEOM Kind = "eom"
	// KindFatal indicates no playable item remains on the channel
	KindFatal Kind = "fatal"
)

// Event is one entry in the status stream
type Event struct {
	ID         uuid.UUID `json:"id"`
	Kind       Kind      `json:"kind"`
	ChannelID  string    `json:"channel_id,omitempty"`
	VideoIndex int       `json:"video_index"`
	OffsetSec  float64   `json:"offset_sec"`
	DriftMs    int64     `json:"drift_ms,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

const subscriberBuffer = 64

// Bus is an in-process fan-out of status events. Publishing never blocks;
// a subscriber that falls behind loses events rather than stalling the
// engine's loops.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]chan Event
	last        map[string]Event // last event per channel id
}

// NewBus creates an empty status bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[uuid.UUID]chan Event),
		last:        make(map[string]Event),
	}
}

// Publish stamps and delivers an event to all subscribers
func (b *Bus) Publish(event Event) {
	event.ID = uuid.New()
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.mu.Lock()
	if event.ChannelID != "" {
		b.last[event.ChannelID] = event
	}
	subs := make([]chan Event, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
			// Slow subscriber; drop rather than block the publisher
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called to release the subscription.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	id := uuid.New()
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Last returns the most recent event published for a channel
func (b *Bus) Last(channelID string) (Event, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	event, ok := b.last[channelID]
	return event, ok
}

// Snapshot returns the most recent event per channel
func (b *Bus) Snapshot() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	events := make([]Event, 0, len(b.last))
	for _, event := range b.last {
		events = append(events, event)
	}
	return events
}
