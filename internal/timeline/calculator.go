// Package timeline provides calculations for determining what should be
// playing on a channel at any given moment, creating the illusion of a
// continuously broadcasting television channel anchored at a single global
// epoch.
package timeline

import (
	"time"

	"github.com/acossette/telecast/internal/models"
)

// CalculatePosition calculates the current timeline position for a channel.
// This is a pure function with no I/O - it takes all required data as
// parameters and returns the current playback position.
//
// All arithmetic happens in integer milliseconds; seconds-as-float exists
// only on the returned value for the player boundary. Elapsed time before
// the epoch clamps to zero. Item boundaries are half-open: a cycle position
// exactly at the end of item k belongs to item k+1 at offset zero.
//
// Every client computing a position for the same (channel, now, epoch,
// catalog version) gets an identical result; this is what keeps all viewers
// of a channel in lockstep.
func CalculatePosition(ch *models.Channel, now, epoch time.Time) (*Position, error) {
	if ch == nil || len(ch.Items) == 0 {
		return nil, ErrEmptyPlaylist
	}

	elapsedMs := now.Sub(epoch).Milliseconds()
	if elapsedMs < 0 {
		// Clock skew placing us before the epoch; pin to the cycle origin
		elapsedMs = 0
	}

	totalMs := ch.TotalDurationMs()
	cycleMs := elapsedMs % totalMs

	index, offsetMs := ch.ItemAt(cycleMs)
	itemMs := ch.ItemDurationMs(index)

	return &Position{
		VideoIndex:      index,
		MediaID:         ch.Items[index].MediaID,
		MediaTitle:      ch.Items[index].Title,
		OffsetMs:        offsetMs,
		RemainingMs:     itemMs - offsetMs,
		NextItemIndex:   (index + 1) % len(ch.Items),
		CyclePosMs:      cycleMs,
		TotalDurationMs: totalMs,
		ComputedAt:      now,
	}, nil
}
