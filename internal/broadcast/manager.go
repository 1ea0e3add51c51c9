// Package broadcast manages per-channel runtime state: initialization,
// manual-mode anchors, and the last known live position. State lives in
// memory only and is discarded on power-off; a restart recomputes everything
// from the global epoch.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/acossette/telecast/internal/logger"
	"github.com/acossette/telecast/internal/models"
	"github.com/acossette/telecast/internal/timeline"
)

// Manager errors
var (
	// ErrNotInitialized indicates the channel was never tuned
	ErrNotInitialized = errors.New("channel state not initialized")

	// ErrEndOfPlaylist indicates manual playback walked past the last item.
	// Manual mode is a free walk with no cycle wrap.
	ErrEndOfPlaylist = errors.New("end of playlist reached in manual mode")

	// ErrInvalidItemIndex indicates a manual jump outside the playlist
	ErrInvalidItemIndex = errors.New("item index outside playlist bounds")

	// ErrTuneInProgress indicates a tune for this channel is already running
	ErrTuneInProgress = errors.New("tune already in progress for channel")
)

// EpochSource supplies the global epoch and a skew-corrected clock.
// The epoch oracle satisfies this.
type EpochSource interface {
	Info(ctx context.Context) (models.EpochInfo, error)
	Now() time.Time
}

// manualAnchor is the position manual mode advances from. It moves forward
// in real time but never wraps the cycle.
type manualAnchor struct {
	videoIndex int
	offsetMs   int64
	enteredAt  time.Time
}

// channelState is the per-channel runtime state. Never persisted.
type channelState struct {
	channel     *models.Channel
	initialized bool
	manualMode  bool
	anchor      *manualAnchor
	lastLive    *timeline.Position
	tuning      bool
}

// Manager orchestrates position calculations per channel. Operations on a
// single channel are serialized; the tuning flag collapses rapid re-tunes.
type Manager struct {
	epochs EpochSource

	mu     sync.Mutex
	states map[string]*channelState
}

// NewManager creates a broadcast state manager
func NewManager(epochs EpochSource) *Manager {
	return &Manager{
		epochs: epochs,
		states: make(map[string]*channelState),
	}
}

// Initialize creates runtime state for a channel if absent. Idempotent.
func (m *Manager) Initialize(ch *models.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state, ok := m.states[ch.ID]; ok {
		state.channel = ch
		return
	}

	m.states[ch.ID] = &channelState{
		channel:     ch,
		initialized: true,
	}

	logger.Log.Debug().
		Str("channel_id", ch.ID).
		Str("channel_name", ch.Name).
		Msg("Channel state initialized")
}

// Channel returns the current channel object for an initialized channel.
// Callers re-read this every tick instead of caching it, because a catalog
// reload may rebind the state to a fresh object mid-cycle.
func (m *Manager) Channel(channelID string) (*models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[channelID]
	if !ok {
		return nil, ErrNotInitialized
	}
	return state.channel, nil
}

// CurrentPosition returns where playback should be at instant now.
// In manual mode the anchor advances by real elapsed time, walking item
// boundaries forward without cycling; past the last item it returns
// ErrEndOfPlaylist. Otherwise the live position is derived from the epoch.
// The second return value reports whether the position is a manual one.
func (m *Manager) CurrentPosition(ctx context.Context, channelID string, now time.Time) (*timeline.Position, bool, error) {
	m.mu.Lock()
	state, ok := m.states[channelID]
	if !ok {
		m.mu.Unlock()
		return nil, false, ErrNotInitialized
	}
	ch := state.channel
	manual := state.manualMode
	var anchor manualAnchor
	if manual && state.anchor != nil {
		anchor = *state.anchor
	}
	m.mu.Unlock()

	if manual {
		pos, err := walkManual(ch, anchor, now)
		if err != nil {
			return nil, true, err
		}
		return pos, true, nil
	}

	info, err := m.epochs.Info(ctx)
	if err != nil {
		return nil, false, err
	}

	pos, err := timeline.CalculatePosition(ch, now, info.EpochTime())
	if err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	if state, ok := m.states[channelID]; ok {
		state.lastLive = pos
	}
	m.mu.Unlock()

	return pos, false, nil
}

// SetManualMode toggles manual mode. Entering snapshots the current live
// position as the manual anchor; leaving discards the anchor so the next
// read returns the live position again.
func (m *Manager) SetManualMode(ctx context.Context, channelID string, enabled bool, now time.Time) error {
	m.mu.Lock()
	state, ok := m.states[channelID]
	if !ok {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	if state.manualMode == enabled {
		m.mu.Unlock()
		return nil
	}
	if !enabled {
		state.manualMode = false
		state.anchor = nil
		m.mu.Unlock()
		logger.Log.Info().
			Str("channel_id", channelID).
			Msg("Manual mode disabled, rejoining live timeline")
		return nil
	}
	m.mu.Unlock()

	// Snapshot the live position outside the lock; it needs the epoch
	pos, _, err := m.CurrentPosition(ctx, channelID, now)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok = m.states[channelID]
	if !ok {
		return ErrNotInitialized
	}
	state.manualMode = true
	state.anchor = &manualAnchor{
		videoIndex: pos.VideoIndex,
		offsetMs:   pos.OffsetMs,
		enteredAt:  now,
	}

	logger.Log.Info().
		Str("channel_id", channelID).
		Int("video_index", pos.VideoIndex).
		Int64("offset_ms", pos.OffsetMs).
		Msg("Manual mode enabled at live position")

	return nil
}

// JumpToItem forces manual mode and seats the anchor at (index, offsetMs)
func (m *Manager) JumpToItem(channelID string, index int, offsetMs int64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[channelID]
	if !ok {
		return ErrNotInitialized
	}
	if index < 0 || index >= len(state.channel.Items) {
		return ErrInvalidItemIndex
	}
	if offsetMs < 0 {
		offsetMs = 0
	}
	if max := state.channel.ItemDurationMs(index); offsetMs >= max {
		offsetMs = max - 1
	}

	state.manualMode = true
	state.anchor = &manualAnchor{
		videoIndex: index,
		offsetMs:   offsetMs,
		enteredAt:  now,
	}

	logger.Log.Info().
		Str("channel_id", channelID).
		Int("video_index", index).
		Int64("offset_ms", offsetMs).
		Msg("Jumped to item in manual mode")

	return nil
}

// ManualMode reports whether a channel is in manual mode
func (m *Manager) ManualMode(channelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[channelID]
	return ok && state.manualMode
}

// LastKnownLive returns the last live position computed for a channel
func (m *Manager) LastKnownLive(channelID string) (*timeline.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[channelID]
	if !ok || state.lastLive == nil {
		return nil, false
	}
	return state.lastLive, true
}

// Rebind swaps in a fresh channel object after a catalog reload.
// The manual-mode flag survives; the live snapshot is cleared and the manual
// anchor is clamped to the new playlist bounds.
func (m *Manager) Rebind(ch *models.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[ch.ID]
	if !ok {
		return
	}

	state.channel = ch
	state.lastLive = nil
	if state.anchor != nil {
		if state.anchor.videoIndex >= len(ch.Items) {
			state.anchor.videoIndex = 0
			state.anchor.offsetMs = 0
		} else if max := ch.ItemDurationMs(state.anchor.videoIndex); state.anchor.offsetMs >= max {
			state.anchor.offsetMs = 0
		}
	}

	logger.Log.Debug().
		Str("channel_id", ch.ID).
		Bool("manual_mode", state.manualMode).
		Msg("Channel state rebound to reloaded catalog")
}

// InitializedChannels lists the ids of all channels with runtime state
func (m *Manager) InitializedChannels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.states))
	for id := range m.states {
		ids = append(ids, id)
	}
	return ids
}

// GlobalReset flushes all per-channel runtime state. Called when the epoch
// version changes: every position derived from the old epoch is invalid.
func (m *Manager) GlobalReset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, state := range m.states {
		state.manualMode = false
		state.anchor = nil
		state.lastLive = nil
		logger.Log.Debug().
			Str("channel_id", id).
			Msg("Channel state reset")
	}

	logger.Log.Warn().
		Int("channels", len(m.states)).
		Msg("Global reset: all channel runtime state flushed")
}

// Forget discards a channel's runtime state (power-off, tune-away teardown)
func (m *Manager) Forget(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, channelID)
}

// ForgetAll discards every channel's runtime state
func (m *Manager) ForgetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = make(map[string]*channelState)
}

// BeginTune marks a channel as busy tuning. Returns ErrTuneInProgress when a
// tune is already running so rapid channel-up presses collapse into one.
func (m *Manager) BeginTune(channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.states[channelID]
	if !ok {
		// Tune precedes Initialize; track the flag on a placeholder
		state = &channelState{}
		m.states[channelID] = state
	}
	if state.tuning {
		return ErrTuneInProgress
	}
	state.tuning = true
	return nil
}

// EndTune clears the busy flag set by BeginTune
func (m *Manager) EndTune(channelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.states[channelID]; ok {
		state.tuning = false
	}
}

// walkManual advances a manual anchor by elapsed real time, crossing item
// boundaries forward without wrapping the cycle.
func walkManual(ch *models.Channel, anchor manualAnchor, now time.Time) (*timeline.Position, error) {
	if ch == nil || len(ch.Items) == 0 {
		return nil, timeline.ErrEmptyPlaylist
	}

	elapsedMs := now.Sub(anchor.enteredAt).Milliseconds()
	if elapsedMs < 0 {
		elapsedMs = 0
	}

	index := anchor.videoIndex
	if index >= len(ch.Items) {
		return nil, ErrEndOfPlaylist
	}
	offsetMs := anchor.offsetMs + elapsedMs

	for offsetMs >= ch.ItemDurationMs(index) {
		offsetMs -= ch.ItemDurationMs(index)
		index++
		if index >= len(ch.Items) {
			return nil, ErrEndOfPlaylist
		}
	}

	itemMs := ch.ItemDurationMs(index)
	return &timeline.Position{
		VideoIndex:      index,
		MediaID:         ch.Items[index].MediaID,
		MediaTitle:      ch.Items[index].Title,
		OffsetMs:        offsetMs,
		RemainingMs:     itemMs - offsetMs,
		NextItemIndex:   (index + 1) % len(ch.Items),
		CyclePosMs:      ch.ItemStartMs(index) + offsetMs,
		TotalDurationMs: ch.TotalDurationMs(),
		ComputedAt:      now,
	}, nil
}
