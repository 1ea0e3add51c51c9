// Package playback drives an opaque media player toward the position the
// broadcast state manager reports, correcting drift with rate nudges, seeks,
// and hard resyncs, and skipping items that refuse to play.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acossette/telecast/internal/broadcast"
	"github.com/acossette/telecast/internal/config"
	"github.com/acossette/telecast/internal/logger"
	"github.com/acossette/telecast/internal/metrics"
	"github.com/acossette/telecast/internal/models"
	"github.com/acossette/telecast/internal/player"
	"github.com/acossette/telecast/internal/status"
	"github.com/acossette/telecast/internal/timeline"
)

// failedItemThreshold is how many consecutive load failures mark an item
// unplayable
const failedItemThreshold = 2

// Kicker triggers an out-of-band sync revalidation. The sync service
// satisfies this; playback errors are one of its imperative triggers.
type Kicker interface {
	Kick(reason string)
}

// Synchronizer is the drift-correction control loop. It owns the process's
// single media player handle; nothing else addresses the player.
type Synchronizer struct {
	player  player.Player
	manager *broadcast.Manager
	bus     *status.Bus
	metrics *metrics.Metrics
	kicker  Kicker
	cfg     config.PlaybackConfig

	// now is the skew-corrected clock; swapped in by wiring, overridable
	// in tests
	now func() time.Time

	stopChan chan struct{}
	loopDone chan struct{}

	mu              sync.Mutex
	channelID       string
	loadedIndex     int
	loadToken       uuid.UUID
	transitioning   bool
	loadStartedAt   time.Time
	lastPlayAttempt time.Time
	failureCounts   map[int]int
	failedItems     map[int]bool
	fatal           bool
	eomReported     bool
	lastKind        status.Kind
	started         bool
	stopped         bool
}

// New creates a playback synchronizer
func New(
	p player.Player,
	manager *broadcast.Manager,
	bus *status.Bus,
	m *metrics.Metrics,
	kicker Kicker,
	cfg config.PlaybackConfig,
	now func() time.Time,
) *Synchronizer {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Synchronizer{
		player:        p,
		manager:       manager,
		bus:           bus,
		metrics:       m,
		kicker:        kicker,
		cfg:           cfg,
		now:           now,
		stopChan:      make(chan struct{}),
		loopDone:      make(chan struct{}),
		loadedIndex:   -1,
		failureCounts: make(map[int]int),
		failedItems:   make(map[int]bool),
	}
}

// Start launches the drift loop
func (s *Synchronizer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errors.New("synchronizer has been stopped")
	}
	if s.started {
		return nil
	}
	s.started = true

	go s.run()

	logger.Log.Info().
		Dur("drift_loop_period", s.cfg.DriftLoopPeriod).
		Dur("ignore_threshold", s.cfg.IgnoreThreshold).
		Dur("seek_threshold", s.cfg.SeekThreshold).
		Dur("critical_threshold", s.cfg.CriticalThreshold).
		Msg("Playback synchronizer started")

	return nil
}

// Stop gracefully shuts down the drift loop
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	close(s.stopChan)
	if started {
		<-s.loopDone
	}

	logger.Log.Info().Msg("Playback synchronizer stopped")
}

// Tune points the synchronizer at a channel. Any in-flight load for the
// previous channel is abandoned through the load token; failed-item history
// resets with the channel.
func (s *Synchronizer) Tune(ctx context.Context, ch *models.Channel) error {
	s.mu.Lock()
	s.channelID = ch.ID
	s.loadedIndex = -1
	s.loadToken = uuid.New()
	s.transitioning = false
	s.failureCounts = make(map[int]int)
	s.failedItems = make(map[int]bool)
	s.fatal = false
	s.eomReported = false
	s.lastKind = ""
	s.mu.Unlock()

	logger.Log.Info().
		Str("channel_id", ch.ID).
		Str("channel_name", ch.Name).
		Msg("Tuned to channel")

	// Align immediately instead of waiting for the next tick
	s.tick(ctx, s.now())
	return nil
}

// Detach stops driving the player (power-off, tune-away teardown)
func (s *Synchronizer) Detach() {
	s.mu.Lock()
	s.channelID = ""
	s.loadToken = uuid.New()
	s.transitioning = false
	s.mu.Unlock()

	if err := s.player.Pause(); err != nil {
		logger.Log.Warn().Err(err).Msg("Failed to pause player on detach")
	}
}

// ChannelID returns the currently tuned channel id, or ""
func (s *Synchronizer) ChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelID
}

// ShouldBePlaying reports whether the loop expects the player to be playing
func (s *Synchronizer) ShouldBePlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelID != "" && !s.fatal && !s.eomReported
}

// PlayerState exposes the player's state to the watchdog
func (s *Synchronizer) PlayerState() player.State {
	return s.player.State()
}

// RecoverPlay re-issues play on behalf of the watchdog, subject to the same
// debounce window as the drift loop's own attempts
func (s *Synchronizer) RecoverPlay() error {
	s.attemptPlay(s.now())
	return nil
}

// RecoverSeek snaps the player back to the expected position. Used by the
// watchdog when the player has been buffering past its threshold.
func (s *Synchronizer) RecoverSeek(ctx context.Context) error {
	s.mu.Lock()
	channelID := s.channelID
	s.mu.Unlock()
	if channelID == "" {
		return ErrNoChannel
	}

	pos, _, err := s.manager.CurrentPosition(ctx, channelID, s.now())
	if err != nil {
		return err
	}
	if err := s.player.Seek(pos.OffsetSeconds()); err != nil {
		return err
	}
	return s.player.Play()
}

// RecoverSkip marks the currently loaded item unplayable and forces a switch
// away from it on the next pass. Used by the watchdog when bounded recovery
// on one item is exhausted.
func (s *Synchronizer) RecoverSkip(ctx context.Context) error {
	s.mu.Lock()
	channelID := s.channelID
	index := s.loadedIndex
	if channelID == "" {
		s.mu.Unlock()
		return ErrNoChannel
	}
	if index >= 0 {
		s.failedItems[index] = true
		s.loadedIndex = -1
		s.transitioning = false
	}
	s.mu.Unlock()

	if index >= 0 {
		s.metrics.FailedItems.WithLabelValues(channelID).Inc()
		logger.Log.Warn().
			Str("channel_id", channelID).
			Int("video_index", index).
			Msg("Item marked unplayable by watchdog")
	}

	s.tick(ctx, s.now())
	return nil
}

// Resync abandons whatever is loaded and realigns the player to the current
// timeline, reporting a single recovering event with the given reason. Used
// after an epoch version change, when every derived position is invalid.
func (s *Synchronizer) Resync(ctx context.Context, reason string) {
	s.mu.Lock()
	channelID := s.channelID
	if channelID == "" || s.fatal {
		s.mu.Unlock()
		return
	}
	s.loadedIndex = -1
	s.transitioning = false
	s.loadToken = uuid.New()
	s.lastKind = status.KindRecovering
	s.mu.Unlock()

	logger.Log.Warn().
		Str("channel_id", channelID).
		Str("reason", reason).
		Msg("Resyncing playback to the current timeline")

	s.bus.Publish(status.Event{
		Kind:      status.KindRecovering,
		ChannelID: channelID,
		Reason:    reason,
	})

	s.tick(ctx, s.now())
}

// run drives the drift loop
func (s *Synchronizer) run() {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.cfg.DriftLoopPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.tick(context.Background(), s.now())
		}
	}
}

// tick runs one drift-loop pass. The channel object is re-read from the
// state manager every pass: a catalog reload may have rebound it mid-cycle.
func (s *Synchronizer) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	channelID := s.channelID
	fatal := s.fatal
	token := s.loadToken
	s.mu.Unlock()

	if channelID == "" || fatal {
		return
	}

	ch, err := s.manager.Channel(channelID)
	if err != nil {
		logger.Log.Warn().
			Err(err).
			Str("channel_id", channelID).
			Msg("Drift tick skipped: channel state unavailable")
		return
	}

	expected, manual, err := s.manager.CurrentPosition(ctx, channelID, now)
	if err != nil {
		if errors.Is(err, broadcast.ErrEndOfPlaylist) {
			s.handleEndOfManualPlaylist(channelID)
			return
		}
		logger.Log.Warn().
			Err(err).
			Str("channel_id", channelID).
			Msg("Drift tick skipped: position unavailable")
		return
	}

	s.mu.Lock()
	s.eomReported = false
	transitioning := s.transitioning
	loadStartedAt := s.loadStartedAt
	loadedIndex := s.loadedIndex
	s.mu.Unlock()

	if transitioning {
		s.observeTransition(ch, expected, token, loadStartedAt, now)
		return
	}

	target := s.resolveTarget(ch, expected, manual)
	if target == nil {
		s.declareFatal(channelID, expected.VideoIndex)
		return
	}

	if target.index != loadedIndex || s.player.State() == player.StateEnded {
		s.switchItem(ch, target, manual, now)
		return
	}

	s.correctDrift(ch, target, expected, manual, now)
}

// driftTarget is where the synchronizer wants the player to be
type driftTarget struct {
	index    int
	offsetMs int64
}

// resolveTarget maps the expected position onto the first playable item.
// Items marked failed are skipped forward in playlist order; a fully failed
// playlist yields nil. The substitute inherits the offset the timeline has
// inside the failed item (wrapped to the substitute's length), so it stays
// anchored to the clock and the drift loop measures against it rather than
// against the unplayable item.
func (s *Synchronizer) resolveTarget(ch *models.Channel, expected *timeline.Position, manual bool) *driftTarget {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.failedItems[expected.VideoIndex] {
		return &driftTarget{index: expected.VideoIndex, offsetMs: expected.OffsetMs}
	}

	// Walk forward from the expected item until a playable one turns up.
	// Live mode wraps the cycle; manual mode stops at the playlist end.
	count := len(ch.Items)
	for step := 1; step < count; step++ {
		index := expected.VideoIndex + step
		if index >= count {
			if manual {
				break
			}
			index %= count
		}
		if !s.failedItems[index] {
			return &driftTarget{index: index, offsetMs: expected.OffsetMs % ch.ItemDurationMs(index)}
		}
	}
	return nil
}

// switchItem loads the target item and marks the transition in flight
func (s *Synchronizer) switchItem(ch *models.Channel, target *driftTarget, manual bool, now time.Time) {
	// ENDED with an unchanged expected index means the player ran ahead of
	// the timeline; move to the next playlist item rather than reloading
	// the same one.
	s.mu.Lock()
	if target.index == s.loadedIndex && s.player.State() == player.StateEnded {
		next := target.index + 1
		if next >= len(ch.Items) {
			if manual {
				s.mu.Unlock()
				s.handleEndOfManualPlaylist(ch.ID)
				return
			}
			next = 0
		}
		target = &driftTarget{index: next, offsetMs: 0}
	}

	s.transitioning = true
	s.loadStartedAt = now
	s.loadedIndex = target.index
	s.loadToken = uuid.New()
	channelID := s.channelID
	s.mu.Unlock()

	item := ch.Items[target.index]

	logger.Log.Info().
		Str("channel_id", channelID).
		Int("video_index", target.index).
		Str("media_id", item.MediaID).
		Int64("offset_ms", target.offsetMs).
		Msg("Switching item")

	s.metrics.ItemSwitches.WithLabelValues(channelID).Inc()

	if err := s.player.Load(item.MediaID, float64(target.offsetMs)/1000.0); err != nil {
		logger.Log.Error().
			Err(err).
			Str("media_id", item.MediaID).
			Msg("Player load failed")
	}
	s.attemptPlay(now)
}

// observeTransition watches an in-flight load until it plays, fails, or
// exceeds the load deadline.
func (s *Synchronizer) observeTransition(ch *models.Channel, expected *timeline.Position, token uuid.UUID, loadStartedAt, now time.Time) {
	s.mu.Lock()
	if token != s.loadToken {
		// A tune-away or newer load superseded this one; drop it
		s.mu.Unlock()
		return
	}
	loadedIndex := s.loadedIndex
	channelID := s.channelID
	s.mu.Unlock()

	switch s.player.State() {
	case player.StatePlaying:
		s.mu.Lock()
		s.transitioning = false
		delete(s.failureCounts, loadedIndex)
		s.mu.Unlock()
		s.publishMode(channelID, expected, s.manager.ManualMode(channelID))

	case player.StateError:
		s.recordItemFailure(ch, channelID, loadedIndex)

	default:
		if now.Sub(loadStartedAt) > s.cfg.LoadDeadline {
			logger.Log.Warn().
				Str("channel_id", channelID).
				Int("video_index", loadedIndex).
				Dur("deadline", s.cfg.LoadDeadline).
				Msg("Load deadline exceeded")
			s.recordItemFailure(ch, channelID, loadedIndex)
			return
		}
		s.attemptPlay(now)
	}
}

// recordItemFailure counts a load failure and marks the item unplayable
// once it crosses the threshold. The next tick picks a substitute item.
func (s *Synchronizer) recordItemFailure(ch *models.Channel, channelID string, index int) {
	s.mu.Lock()
	s.failureCounts[index]++
	count := s.failureCounts[index]
	failed := count >= failedItemThreshold
	if failed {
		s.failedItems[index] = true
	}
	s.transitioning = false
	// Force a fresh load on the next pass, whether retrying or substituting
	s.loadedIndex = -1
	allFailed := len(s.failedItems) >= len(ch.Items)
	s.mu.Unlock()

	fault := NewFault(FaultItemUnplayable, channelID, index, "player failed to start item", nil)
	logger.Log.Warn().
		Err(fault).
		Str("channel_id", channelID).
		Int("video_index", index).
		Int("failure_count", count).
		Bool("marked_failed", failed).
		Msg("Item failed to play")

	if failed {
		s.metrics.FailedItems.WithLabelValues(channelID).Inc()
		if s.kicker != nil {
			s.kicker.Kick("item_unplayable")
		}
	}
	if failed && allFailed {
		s.declareFatal(channelID, index)
	}
}

// correctDrift classifies the signed drift and applies the matching
// correction: nothing, a rate nudge, a seek, or a hard resync. Drift is
// measured against the resolved target, which differs from the raw expected
// position while a substitute plays in place of a failed item.
func (s *Synchronizer) correctDrift(ch *models.Channel, target *driftTarget, expected *timeline.Position, manual bool, now time.Time) {
	channelID := ch.ID

	state := s.player.State()
	switch state {
	case player.StateBuffering:
		s.publishKind(status.KindBuffering, channelID, expected, 0, "")
		return
	case player.StatePaused, player.StateCued, player.StateUnstarted:
		s.attemptPlay(now)
		return
	case player.StateError:
		s.mu.Lock()
		loadedIndex := s.loadedIndex
		s.mu.Unlock()
		s.recordItemFailure(ch, channelID, loadedIndex)
		return
	}

	driftMs := target.offsetMs - int64(s.player.CurrentTime()*1000)
	abs := driftMs
	if abs < 0 {
		abs = -abs
	}

	s.metrics.DriftMs.WithLabelValues(channelID).Set(float64(driftMs))
	s.metrics.DriftAbs.Observe(float64(abs))

	switch {
	case abs < s.cfg.IgnoreThreshold.Milliseconds():
		if s.player.Rate() != 1.0 {
			if err := s.player.SetRate(1.0); err != nil {
				logger.Log.Warn().Err(err).Msg("Failed to restore playback rate")
			}
		}
		s.publishMode(channelID, expected, manual)

	case abs < s.cfg.SeekThreshold.Milliseconds():
		rate := nudgeRate(driftMs)
		if s.player.Rate() != rate {
			if err := s.player.SetRate(rate); err != nil {
				logger.Log.Warn().Err(err).Msg("Failed to set playback rate")
				return
			}
			direction := "catch_up"
			if driftMs < 0 {
				direction = "slow_down"
			}
			s.metrics.RateNudges.WithLabelValues(channelID, direction).Inc()
			logger.Log.Debug().
				Str("channel_id", channelID).
				Int64("drift_ms", driftMs).
				Float64("rate", rate).
				Msg("Rate nudge")
		}
		s.publishMode(channelID, expected, manual)

	case abs < s.cfg.CriticalThreshold.Milliseconds():
		logger.Log.Info().
			Str("channel_id", channelID).
			Int64("drift_ms", driftMs).
			Msg("Seeking to correct drift")
		if err := s.player.Seek(float64(target.offsetMs) / 1000.0); err != nil {
			logger.Log.Warn().Err(err).Msg("Drift seek failed")
			return
		}
		if err := s.player.SetRate(1.0); err != nil {
			logger.Log.Warn().Err(err).Msg("Failed to restore playback rate after seek")
		}
		s.metrics.Seeks.WithLabelValues(channelID).Inc()
		s.publishKind(status.KindRecovering, channelID, expected, driftMs, "drift_seek")

	default:
		logger.Log.Warn().
			Str("channel_id", channelID).
			Int64("drift_ms", driftMs).
			Msg("Critical drift, hard resync")
		s.metrics.HardResyncs.WithLabelValues(channelID).Inc()
		s.publishKind(status.KindRecovering, channelID, expected, driftMs, "hard_resync")
		s.switchItem(ch, target, manual, now)
	}
}

// attemptPlay issues a debounced play call. Attempts closer together than
// the debounce window collapse into one so the loop never fights autoplay
// policies or buffering races.
func (s *Synchronizer) attemptPlay(now time.Time) {
	s.mu.Lock()
	if s.player.State() == player.StatePlaying {
		s.mu.Unlock()
		return
	}
	if now.Sub(s.lastPlayAttempt) < s.cfg.PlayDebounce {
		s.mu.Unlock()
		return
	}
	s.lastPlayAttempt = now
	s.mu.Unlock()

	if err := s.player.Play(); err != nil {
		logger.Log.Debug().Err(err).Msg("Play attempt failed")
	}
}

// handleEndOfManualPlaylist stops playback and reports end-of-media once.
// Manual mode never cycles; the viewer decides what happens next.
func (s *Synchronizer) handleEndOfManualPlaylist(channelID string) {
	s.mu.Lock()
	if s.eomReported {
		s.mu.Unlock()
		return
	}
	s.eomReported = true
	s.mu.Unlock()

	if err := s.player.Pause(); err != nil {
		logger.Log.Warn().Err(err).Msg("Failed to pause at end of manual playlist")
	}

	logger.Log.Info().
		Str("channel_id", channelID).
		Msg("Manual playback reached end of playlist")

	s.bus.Publish(status.Event{
		Kind:      status.KindEOM,
		ChannelID: channelID,
		Reason:    "end of playlist in manual mode",
	})
}

// declareFatal halts the drift loop for this channel; every item failed
func (s *Synchronizer) declareFatal(channelID string, videoIndex int) {
	s.mu.Lock()
	if s.fatal {
		s.mu.Unlock()
		return
	}
	s.fatal = true
	s.mu.Unlock()

	fault := NewFault(FaultFatalChannel, channelID, videoIndex, "no playable items remain", nil)
	logger.Log.Error().
		Err(fault).
		Str("channel_id", channelID).
		Msg("Channel is fatal, awaiting user action")

	s.bus.Publish(status.Event{
		Kind:      status.KindFatal,
		ChannelID: channelID,
		Reason:    "no playable items remain",
	})
}

// publishMode emits the steady-state live/manual status on kind changes only
func (s *Synchronizer) publishMode(channelID string, expected *timeline.Position, manual bool) {
	kind := status.KindLive
	if manual {
		kind = status.KindManual
	}
	s.publishKind(kind, channelID, expected, 0, "")
}

// publishKind emits a status event, deduplicating consecutive identical kinds
func (s *Synchronizer) publishKind(kind status.Kind, channelID string, expected *timeline.Position, driftMs int64, reason string) {
	s.mu.Lock()
	if s.lastKind == kind && kind != status.KindRecovering {
		s.mu.Unlock()
		return
	}
	s.lastKind = kind
	s.mu.Unlock()

	s.bus.Publish(status.Event{
		Kind:       kind,
		ChannelID:  channelID,
		VideoIndex: expected.VideoIndex,
		OffsetSec:  expected.OffsetSeconds(),
		DriftMs:    driftMs,
		Reason:     reason,
	})
}

// nudgeRate maps drift magnitude onto the catch-up / slow-down rate tiers
func nudgeRate(driftMs int64) float64 {
	abs := driftMs
	if abs < 0 {
		abs = -abs
	}

	var rate float64
	switch {
	case abs < 500:
		rate = 0.05
	case abs < 800:
		rate = 0.07
	default:
		rate = 0.10
	}

	if driftMs > 0 {
		// Player is behind the timeline; speed up
		return 1.0 + rate
	}
	return 1.0 - rate
}
