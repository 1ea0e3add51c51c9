package playback

import (
	"errors"
	"fmt"
)

// FaultType classifies a playback fault
type FaultType int

const (
	// FaultItemUnplayable indicates the player reported an error for a
	// specific item, or a load never reached the playing state in time
	FaultItemUnplayable FaultType = iota
	// FaultPlayerStuck indicates the watchdog classified the player as
	// wedged (buffering or paused past its threshold)
	FaultPlayerStuck
	// FaultFatalChannel indicates no playable item remains on the channel
	FaultFatalChannel
)

// String returns the string representation of FaultType
func (t FaultType) String() string {
	switch t {
	case FaultItemUnplayable:
		return "item_unplayable"
	case FaultPlayerStuck:
		return "player_stuck"
	case FaultFatalChannel:
		return "fatal_channel"
	default:
		return "unknown"
	}
}

// Fault is a classified playback failure. Transient faults are swallowed and
// retried inside the synchronizer; only exhausted recovery surfaces, and then
// through the status stream rather than as errors across components.
type Fault struct {
	Type        FaultType
	ChannelID   string
	VideoIndex  int
	Message     string
	Cause       error
	Recoverable bool
}

// NewFault creates a classified playback fault
func NewFault(faultType FaultType, channelID string, videoIndex int, message string, cause error) *Fault {
	return &Fault{
		Type:        faultType,
		ChannelID:   channelID,
		VideoIndex:  videoIndex,
		Message:     message,
		Cause:       cause,
		Recoverable: faultType != FaultFatalChannel,
	}
}

// Error implements the error interface
func (f *Fault) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", f.Type.String(), f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Type.String(), f.Message)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (f *Fault) Unwrap() error {
	return f.Cause
}

// ErrNoChannel indicates no channel is tuned
var ErrNoChannel = errors.New("no channel tuned")
