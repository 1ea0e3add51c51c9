// Package models defines the core domain entities: channels, playlist items,
// catalog snapshots, and the persisted viewer session.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Validation errors surfaced while building channels from snapshot data
var (
	// ErrEmptyPlaylist indicates a channel with no playlist items
	ErrEmptyPlaylist = errors.New("channel playlist is empty")

	// ErrInvalidDuration indicates an item with a duration below one second
	ErrInvalidDuration = errors.New("item duration must be at least 1 second")
)

// Item is a single entry in a channel's playlist. Media is referenced by an
// opaque external identifier; the engine never touches the bytes behind it.
type Item struct {
	MediaID  string `json:"media_id"`
	Title    string `json:"title"`
	Duration int64  `json:"duration"` // seconds, >= 1
}

// DurationString returns duration in HH:MM:SS format
func (i Item) DurationString() string {
	hours := i.Duration / 3600
	minutes := (i.Duration % 3600) / 60
	seconds := i.Duration % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

// Channel represents a broadcast channel with an ordered, non-empty playlist.
// Channels are immutable once built; a catalog reload replaces the whole
// object atomically rather than mutating it in place.
type Channel struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Items []Item `json:"items"`

	// prefixMs[i] is the start of item i within one cycle, in milliseconds.
	// prefixMs has len(Items)+1 entries; the last one is the total duration.
	prefixMs []int64
}

// NewChannel validates the playlist and builds an immutable channel with
// precomputed prefix sums for position lookups.
func NewChannel(id, name string, items []Item) (*Channel, error) {
	if len(items) == 0 {
		return nil, ErrEmptyPlaylist
	}

	prefix := make([]int64, len(items)+1)
	for i, item := range items {
		if item.Duration < 1 {
			return nil, fmt.Errorf("item %d (%q): %w", i, item.Title, ErrInvalidDuration)
		}
		prefix[i+1] = prefix[i] + item.Duration*1000
	}

	return &Channel{
		ID:       id,
		Name:     name,
		Items:    items,
		prefixMs: prefix,
	}, nil
}

// TotalDurationMs returns the length of one full playlist cycle in milliseconds
func (c *Channel) TotalDurationMs() int64 {
	return c.prefixMs[len(c.prefixMs)-1]
}

// TotalDuration returns the length of one full playlist cycle
func (c *Channel) TotalDuration() time.Duration {
	return time.Duration(c.TotalDurationMs()) * time.Millisecond
}

// ItemStartMs returns the start of item index within one cycle, in milliseconds
func (c *Channel) ItemStartMs(index int) int64 {
	return c.prefixMs[index]
}

// ItemDurationMs returns the duration of item index in milliseconds
func (c *Channel) ItemDurationMs(index int) int64 {
	return c.Items[index].Duration * 1000
}

// ItemAt locates the item containing cyclePosMs using binary search over the
// prefix sums. Boundaries are half-open: a position exactly at an item's end
// belongs to the next item at offset zero.
//
// cyclePosMs must satisfy 0 <= cyclePosMs < TotalDurationMs().
func (c *Channel) ItemAt(cyclePosMs int64) (index int, offsetMs int64) {
	lo, hi := 0, len(c.Items)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if c.prefixMs[mid] <= cyclePosMs {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, cyclePosMs - c.prefixMs[lo]
}
