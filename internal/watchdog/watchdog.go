// Package watchdog supervises the player through the synchronizer, applying
// bounded, idempotent recovery actions when playback wedges: a stuck buffer
// gets a forced realign, an unexpected pause gets a re-play, and an item that
// eats the whole recovery budget gets marked unplayable and skipped.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/acossette/telecast/internal/config"
	"github.com/acossette/telecast/internal/logger"
	"github.com/acossette/telecast/internal/metrics"
	"github.com/acossette/telecast/internal/player"
	"github.com/acossette/telecast/internal/status"
)

// Recovery action labels
const (
	actionSeek = "seek"
	actionPlay = "play"
	actionSkip = "skip"
)

// Target is the watchdog's view of the playback synchronizer. The watchdog
// never touches the player directly; all recovery goes through the
// synchronizer so the two loops cannot fight over the handle.
type Target interface {
	ChannelID() string
	ShouldBePlaying() bool
	PlayerState() player.State
	RecoverPlay() error
	RecoverSeek(ctx context.Context) error
	RecoverSkip(ctx context.Context) error
}

// Kicker triggers an out-of-band sync revalidation
type Kicker interface {
	Kick(reason string)
}

// Watchdog runs the supervision loop
type Watchdog struct {
	target  Target
	kicker  Kicker
	bus     *status.Bus
	metrics *metrics.Metrics
	cfg     config.WatchdogConfig
	breaker *CircuitBreaker
	now     func() time.Time

	stopChan chan struct{}
	loopDone chan struct{}

	mu          sync.Mutex
	lastChannel string
	lastState   player.State
	stateSince  time.Time
	tracking    bool
	skipIssued  bool
	errorKicked bool
	started     bool
	stopped     bool
}

// New creates a supervisor watchdog
func New(
	target Target,
	kicker Kicker,
	bus *status.Bus,
	m *metrics.Metrics,
	cfg config.WatchdogConfig,
	now func() time.Time,
) *Watchdog {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Watchdog{
		target:   target,
		kicker:   kicker,
		bus:      bus,
		metrics:  m,
		cfg:      cfg,
		breaker:  NewCircuitBreaker(cfg.MaxRecoveryActions, cfg.RecoveryWindow),
		now:      now,
		stopChan: make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// Start launches the supervision loop
func (w *Watchdog) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	if w.started {
		return nil
	}
	w.started = true

	go w.run()

	logger.Log.Info().
		Dur("period", w.cfg.Period).
		Dur("buffering_stuck", w.cfg.BufferingStuck).
		Dur("paused_stuck", w.cfg.PausedStuck).
		Int("max_recovery_actions", w.cfg.MaxRecoveryActions).
		Msg("Supervisor watchdog started")

	return nil
}

// Stop gracefully shuts down the supervision loop
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	started := w.started
	w.mu.Unlock()

	close(w.stopChan)
	if started {
		<-w.loopDone
	}

	logger.Log.Info().Msg("Supervisor watchdog stopped")
}

// run drives the supervision loop
func (w *Watchdog) run() {
	defer close(w.loopDone)

	ticker := time.NewTicker(w.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.tick(context.Background(), w.now())
		}
	}
}

// tick runs one supervision pass
func (w *Watchdog) tick(ctx context.Context, now time.Time) {
	channelID := w.target.ChannelID()
	if channelID == "" || !w.target.ShouldBePlaying() {
		w.mu.Lock()
		w.tracking = false
		w.mu.Unlock()
		return
	}

	state := w.target.PlayerState()

	w.mu.Lock()
	if !w.tracking || channelID != w.lastChannel || state != w.lastState {
		if channelID != w.lastChannel {
			// A fresh channel gets a fresh recovery budget
			w.breaker.Reset()
			w.skipIssued = false
		}
		w.tracking = true
		w.lastChannel = channelID
		w.lastState = state
		w.stateSince = now
		w.mu.Unlock()
		return
	}
	stuck := now.Sub(w.stateSince)
	w.mu.Unlock()

	switch state {
	case player.StatePlaying:
		w.breaker.RecordHealthy()
		w.mu.Lock()
		w.skipIssued = false
		w.errorKicked = false
		w.mu.Unlock()

	case player.StateBuffering:
		if stuck > w.cfg.BufferingStuck {
			w.recover(ctx, channelID, actionSeek, now, func() error {
				return w.target.RecoverSeek(ctx)
			})
		}

	case player.StatePaused, player.StateCued, player.StateUnstarted:
		if stuck > w.cfg.PausedStuck {
			w.recover(ctx, channelID, actionPlay, now, func() error {
				return w.target.RecoverPlay()
			})
		}

	case player.StateError:
		// The synchronizer owns item-failure handling; the watchdog only
		// makes sure the catalog gets revalidated once per error episode
		w.mu.Lock()
		kicked := w.errorKicked
		w.errorKicked = true
		w.mu.Unlock()
		if !kicked && w.kicker != nil {
			w.kicker.Kick("player_error")
		}
	}
}

// recover runs one bounded recovery action. An exhausted budget marks the
// current item unplayable instead of trying again.
func (w *Watchdog) recover(ctx context.Context, channelID, action string, now time.Time, fn func() error) {
	if !w.breaker.CanAttempt(now) {
		w.exhausted(ctx, channelID, now)
		return
	}

	w.breaker.RecordAction(now)
	w.metrics.RecoveryActions.WithLabelValues(channelID, action).Inc()

	logger.Log.Warn().
		Str("channel_id", channelID).
		Str("action", action).
		Str("player_state", w.target.PlayerState().String()).
		Int("actions_in_window", w.breaker.Actions()).
		Msg("Watchdog recovery action")

	w.bus.Publish(status.Event{
		Kind:      status.KindRecovering,
		ChannelID: channelID,
		Reason:    "watchdog " + action,
	})

	if err := fn(); err != nil {
		logger.Log.Warn().
			Err(err).
			Str("action", action).
			Msg("Watchdog recovery action failed")
	}

	// Give the action time to take effect before judging the state again
	w.mu.Lock()
	w.stateSince = now
	w.mu.Unlock()
}

// exhausted handles a spent recovery budget: the current item is declared
// unplayable once and the sync service revalidates the catalog.
func (w *Watchdog) exhausted(ctx context.Context, channelID string, now time.Time) {
	w.mu.Lock()
	if w.skipIssued {
		w.mu.Unlock()
		return
	}
	w.skipIssued = true
	w.stateSince = now
	w.mu.Unlock()

	logger.Log.Error().
		Str("channel_id", channelID).
		Int("max_recovery_actions", w.cfg.MaxRecoveryActions).
		Msg("Recovery budget exhausted, skipping current item")

	w.metrics.RecoveryActions.WithLabelValues(channelID, actionSkip).Inc()
	w.bus.Publish(status.Event{
		Kind:      status.KindRecovering,
		ChannelID: channelID,
		Reason:    "recovery budget exhausted, skipping item",
	})

	if err := w.target.RecoverSkip(ctx); err != nil {
		logger.Log.Warn().Err(err).Msg("Watchdog skip failed")
	}
	if w.kicker != nil {
		w.kicker.Kick("recovery_exhausted")
	}
}
