package timeline

import "time"

// Position describes which playlist item should be playing on a channel and
// at what offset within that item. It is a derived value and is never stored.
type Position struct {
	// VideoIndex is the playlist index of the currently playing item
	VideoIndex int `json:"video_index"`

	// MediaID is the opaque external identifier of the current item
	MediaID string `json:"media_id"`

	// MediaTitle is the title of the current item for display purposes
	MediaTitle string `json:"media_title"`

	// OffsetMs is the playback position within the current item
	OffsetMs int64 `json:"offset_ms"`

	// RemainingMs is the time left until the current item ends
	RemainingMs int64 `json:"remaining_ms"`

	// NextItemIndex is the playlist index that follows the current item,
	// wrapping back to zero at the end of the cycle
	NextItemIndex int `json:"next_item_index"`

	// CyclePosMs is the position within the full playlist cycle
	CyclePosMs int64 `json:"cycle_pos_ms"`

	// TotalDurationMs is the length of one full playlist cycle
	TotalDurationMs int64 `json:"total_duration_ms"`

	// ComputedAt is the instant this position was computed for
	ComputedAt time.Time `json:"computed_at"`
}

// OffsetSeconds returns the offset as seconds for the player boundary
func (p *Position) OffsetSeconds() float64 {
	return float64(p.OffsetMs) / 1000.0
}

// RemainingSeconds returns the remaining time as seconds
func (p *Position) RemainingSeconds() float64 {
	return float64(p.RemainingMs) / 1000.0
}
