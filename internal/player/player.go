// Package player defines the media player contract the synchronizer drives.
// The player is opaque: any engine that satisfies the operation set plugs in,
// and the core makes no assumptions about formats or transports.
package player

// State represents the player's reported playback state
type State string

// Player state constants
const (
	StateUnstarted State = "unstarted" // Nothing loaded yet
	StateBuffering State = "buffering" // Loading or rebuffering media
	StatePlaying   State = "playing"   // Actively playing
	StatePaused    State = "paused"    // Paused by user or host policy
	StateEnded     State = "ended"     // Current item finished
	StateError     State = "error"     // Current item failed
	StateCued      State = "cued"      // Item loaded but not started
)

// String returns the string representation of the player state
func (s State) String() string {
	return string(s)
}

// IsValid checks if the state is a known valid value
func (s State) IsValid() bool {
	switch s {
	case StateUnstarted, StateBuffering, StatePlaying, StatePaused, StateEnded, StateError, StateCued:
		return true
	default:
		return false
	}
}

// StateChange is emitted by the player whenever its state transitions
type StateChange struct {
	From State
	To   State
}

// Player is the synchronous handle to the media engine. It is a process-wide
// singleton exclusively owned by the playback synchronizer; all calls happen
// from the engine's loops.
type Player interface {
	// Load loads a media item by its opaque identifier, starting at the
	// given offset in seconds
	Load(mediaID string, startSeconds float64) error

	// Play starts or resumes playback
	Play() error

	// Pause pauses playback
	Pause() error

	// Seek jumps to the given offset in seconds within the loaded item
	Seek(seconds float64) error

	// SetRate sets the playback rate (1.0 is realtime)
	SetRate(rate float64) error

	// Rate returns the current playback rate
	Rate() float64

	// CurrentTime returns the playback position in seconds
	CurrentTime() float64

	// State returns the current playback state
	State() State

	// LoadedMediaID returns the identifier of the loaded item, or "" when
	// nothing is loaded
	LoadedMediaID() string

	// Events returns the state-change stream. The channel is owned by the
	// player and closes when the player shuts down.
	Events() <-chan StateChange
}
