// Package engine wires the catalog, epoch, broadcast state, playback, sync,
// and watchdog components into the device-level operations a viewer actually
// performs: power on, power off, tune, go manual, jump.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/acossette/telecast/internal/broadcast"
	"github.com/acossette/telecast/internal/catalog"
	"github.com/acossette/telecast/internal/config"
	"github.com/acossette/telecast/internal/epoch"
	"github.com/acossette/telecast/internal/logger"
	"github.com/acossette/telecast/internal/models"
	"github.com/acossette/telecast/internal/playback"
	"github.com/acossette/telecast/internal/session"
	"github.com/acossette/telecast/internal/status"
	"github.com/acossette/telecast/internal/syncer"
	"github.com/acossette/telecast/internal/timeline"
	"github.com/acossette/telecast/internal/watchdog"
)

// Engine errors
var (
	// ErrPoweredOff indicates a playback operation was attempted while off
	ErrPoweredOff = errors.New("engine is powered off")
)

// Engine coordinates the full tune flow: session restore, catalog lookup,
// state initialization, playback alignment, and supervision.
type Engine struct {
	cfg      *config.Config
	loader   *catalog.Loader
	oracle   *epoch.Oracle
	manager  *broadcast.Manager
	sync     *syncer.Syncer
	playback *playback.Synchronizer
	dog      *watchdog.Watchdog
	sessions *session.Store
	bus      *status.Bus

	mu          sync.Mutex
	powered     bool
	started     bool
	unsubscribe func()
}

// New creates the engine over its already-constructed components
func New(
	cfg *config.Config,
	loader *catalog.Loader,
	oracle *epoch.Oracle,
	manager *broadcast.Manager,
	sync *syncer.Syncer,
	pb *playback.Synchronizer,
	dog *watchdog.Watchdog,
	sessions *session.Store,
	bus *status.Bus,
) *Engine {
	return &Engine{
		cfg:      cfg,
		loader:   loader,
		oracle:   oracle,
		manager:  manager,
		sync:     sync,
		playback: pb,
		dog:      dog,
		sessions: sessions,
		bus:      bus,
	}
}

// Start performs the first load, launches the background loops, and restores
// the persisted session. A powered-on session resumes its last channel; the
// position comes from the epoch, never from storage.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.mu.Unlock()

	// Warm the epoch cache before anything needs a position
	if _, err := e.oracle.Refresh(ctx); err != nil {
		logger.Log.Warn().
			Err(err).
			Msg("Epoch unavailable at startup, live mode deferred until it returns")
	}

	e.sync.Tick(ctx, "first_load")

	if err := e.sync.Start(); err != nil {
		return fmt.Errorf("failed to start sync service: %w", err)
	}
	if err := e.playback.Start(); err != nil {
		return fmt.Errorf("failed to start playback synchronizer: %w", err)
	}
	if err := e.dog.Start(); err != nil {
		return fmt.Errorf("failed to start watchdog: %w", err)
	}

	results, unsubscribe := e.sync.Subscribe()
	e.mu.Lock()
	e.unsubscribe = unsubscribe
	e.mu.Unlock()
	go e.watchSyncResults(results)

	sess, err := e.sessions.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore session: %w", err)
	}
	if sess.Power {
		if err := e.PowerOn(ctx); err != nil {
			logger.Log.Warn().
				Err(err).
				Msg("Failed to resume powered-on session")
		}
	}

	logger.Log.Info().
		Bool("power", sess.Power).
		Msg("Engine started")

	return nil
}

// Stop shuts down the background loops
func (e *Engine) Stop() {
	e.mu.Lock()
	unsubscribe := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}

	e.dog.Stop()
	e.playback.Stop()
	e.sync.Stop()
	logger.Log.Info().Msg("Engine stopped")
}

// watchSyncResults reacts to changes the syncer discovers. An epoch version
// change invalidates every derived position, so the tuned channel realigns
// immediately rather than waiting for the drift loop to notice.
func (e *Engine) watchSyncResults(results <-chan syncer.Result) {
	for result := range results {
		if result.EpochChanged {
			e.playback.Resync(context.Background(), "epochMismatch")
		}
	}
}

// Powered reports the current power state
func (e *Engine) Powered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.powered
}

// PowerOn restores the persisted session and resumes the last channel
func (e *Engine) PowerOn(ctx context.Context) error {
	e.mu.Lock()
	if e.powered {
		e.mu.Unlock()
		return nil
	}
	e.powered = true
	e.mu.Unlock()

	if err := e.sessions.SetPower(ctx, true); err != nil {
		return fmt.Errorf("failed to persist power state: %w", err)
	}

	sess, err := e.sessions.Get(ctx)
	if err != nil {
		return err
	}
	if sess.LastChannelID == nil {
		logger.Log.Info().Msg("Powered on with no previous channel")
		return nil
	}

	if err := e.Tune(ctx, *sess.LastChannelID); err != nil {
		logger.Log.Warn().
			Err(err).
			Str("channel_id", *sess.LastChannelID).
			Msg("Failed to resume last channel")
		return nil
	}

	// Manual mode survives a power cycle as a flag only; the anchor is the
	// live position at resume time since positions are never persisted
	if sess.ManualModeChannelID != nil && *sess.ManualModeChannelID == *sess.LastChannelID {
		if err := e.manager.SetManualMode(ctx, *sess.LastChannelID, true, e.oracle.Now()); err != nil {
			logger.Log.Warn().
				Err(err).
				Msg("Failed to restore manual mode")
		} else if err := e.sessions.SetManualModeChannel(ctx, sess.LastChannelID); err != nil {
			// Tune cleared the persisted flag; put it back so the next power
			// cycle restores manual mode too
			logger.Log.Warn().
				Err(err).
				Msg("Failed to re-persist manual mode")
		}
	}

	return nil
}

// PowerOff tears down playback and discards all runtime state. Only the
// session preferences survive.
func (e *Engine) PowerOff(ctx context.Context) error {
	e.mu.Lock()
	if !e.powered {
		e.mu.Unlock()
		return nil
	}
	e.powered = false
	e.mu.Unlock()

	e.playback.Detach()
	e.manager.ForgetAll()

	if err := e.sessions.SetPower(ctx, false); err != nil {
		return fmt.Errorf("failed to persist power state: %w", err)
	}

	logger.Log.Info().Msg("Powered off, runtime state discarded")
	return nil
}

// Tune switches playback to a channel. Rapid tunes to the same channel
// collapse; the catalog is revalidated out of band after every switch.
func (e *Engine) Tune(ctx context.Context, channelID string) error {
	if !e.Powered() {
		return ErrPoweredOff
	}

	if err := e.manager.BeginTune(channelID); err != nil {
		return err
	}
	defer e.manager.EndTune(channelID)

	ch, err := e.loader.GetByID(channelID)
	if errors.Is(err, catalog.ErrChannelNotFound) || errors.Is(err, catalog.ErrNotLoaded) {
		// The catalog may simply be behind the authority; revalidate once
		// synchronously and retry before giving up
		e.sync.Tick(ctx, "tune_miss")
		ch, err = e.loader.GetByID(channelID)
	}
	if err != nil {
		return fmt.Errorf("failed to tune channel %s: %w", channelID, err)
	}

	e.manager.Initialize(ch)
	if err := e.playback.Tune(ctx, ch); err != nil {
		return err
	}

	if err := e.sessions.SetLastChannel(ctx, channelID); err != nil {
		logger.Log.Warn().
			Err(err).
			Msg("Failed to persist last channel")
	}
	if err := e.sessions.SetManualModeChannel(ctx, nil); err != nil {
		logger.Log.Warn().
			Err(err).
			Msg("Failed to clear manual mode persistence")
	}

	e.sync.Kick("channel_switch")
	return nil
}

// SetManualMode enables or disables manual mode on a channel. Enabling
// anchors at the current live position; disabling rejoins the live timeline.
func (e *Engine) SetManualMode(ctx context.Context, channelID string, enabled bool) error {
	if !e.Powered() {
		return ErrPoweredOff
	}

	if err := e.manager.SetManualMode(ctx, channelID, enabled, e.oracle.Now()); err != nil {
		return err
	}

	var persisted *string
	if enabled {
		persisted = &channelID
	}
	if err := e.sessions.SetManualModeChannel(ctx, persisted); err != nil {
		logger.Log.Warn().
			Err(err).
			Msg("Failed to persist manual mode")
	}
	return nil
}

// JumpToItem jumps to a playlist item in manual mode
func (e *Engine) JumpToItem(ctx context.Context, channelID string, index int, offsetMs int64) error {
	if !e.Powered() {
		return ErrPoweredOff
	}

	if err := e.manager.JumpToItem(channelID, index, offsetMs, e.oracle.Now()); err != nil {
		return err
	}
	if err := e.sessions.SetManualModeChannel(ctx, &channelID); err != nil {
		logger.Log.Warn().
			Err(err).
			Msg("Failed to persist manual mode")
	}
	return nil
}

// Position returns the position a viewer of the channel should see right now.
// It works for any catalog channel, tuned or not: untuned channels get a
// stateless calculation from the epoch.
func (e *Engine) Position(ctx context.Context, channelID string) (*timeline.Position, bool, error) {
	pos, manual, err := e.manager.CurrentPosition(ctx, channelID, e.oracle.Now())
	if err == nil {
		return pos, manual, nil
	}
	if !errors.Is(err, broadcast.ErrNotInitialized) {
		return nil, false, err
	}

	ch, err := e.loader.GetByID(channelID)
	if err != nil {
		return nil, false, err
	}
	info, err := e.oracle.Info(ctx)
	if err != nil {
		return nil, false, err
	}
	pos, err = timeline.CalculatePosition(ch, e.oracle.Now(), info.EpochTime())
	if err != nil {
		return nil, false, err
	}
	return pos, false, nil
}

// Channels returns the current catalog
func (e *Engine) Channels() []*models.Channel {
	return e.loader.Channels()
}

// CurrentChannelID returns the tuned channel id, or ""
func (e *Engine) CurrentChannelID() string {
	return e.playback.ChannelID()
}

// Session returns the persisted viewer session
func (e *Engine) Session(ctx context.Context) (*models.Session, error) {
	return e.sessions.Get(ctx)
}

// SetVolume persists volume and mute preferences
func (e *Engine) SetVolume(ctx context.Context, volume int, muted bool) error {
	return e.sessions.SetVolume(ctx, volume, muted)
}

// Status returns the most recent status event per channel
func (e *Engine) Status() []status.Event {
	return e.bus.Snapshot()
}

// Subscribe follows the live status stream
func (e *Engine) Subscribe() (<-chan status.Event, func()) {
	return e.bus.Subscribe()
}
