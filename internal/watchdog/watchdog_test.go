package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acossette/telecast/internal/config"
	"github.com/acossette/telecast/internal/metrics"
	"github.com/acossette/telecast/internal/player"
	"github.com/acossette/telecast/internal/status"
)

type fakeTarget struct {
	channelID  string
	shouldPlay bool
	state      player.State

	seeks int
	plays int
	skips int
}

func (f *fakeTarget) ChannelID() string         { return f.channelID }
func (f *fakeTarget) ShouldBePlaying() bool     { return f.shouldPlay }
func (f *fakeTarget) PlayerState() player.State { return f.state }

func (f *fakeTarget) RecoverPlay() error {
	f.plays++
	return nil
}

func (f *fakeTarget) RecoverSeek(_ context.Context) error {
	f.seeks++
	return nil
}

func (f *fakeTarget) RecoverSkip(_ context.Context) error {
	f.skips++
	return nil
}

type fakeKicker struct {
	reasons []string
}

func (k *fakeKicker) Kick(reason string) {
	k.reasons = append(k.reasons, reason)
}

func testWatchdogConfig() config.WatchdogConfig {
	return config.WatchdogConfig{
		Period:             2 * time.Second,
		BufferingStuck:     10 * time.Second,
		PausedStuck:        1 * time.Second,
		MaxRecoveryActions: 3,
		RecoveryWindow:     60 * time.Second,
	}
}

type watchdogFixture struct {
	dog    *Watchdog
	target *fakeTarget
	kicker *fakeKicker
	bus    *status.Bus
	clock  time.Time
}

func newWatchdogFixture(t *testing.T) *watchdogFixture {
	t.Helper()

	f := &watchdogFixture{
		target: &fakeTarget{channelID: "ch-1", shouldPlay: true, state: player.StatePlaying},
		kicker: &fakeKicker{},
		bus:    status.NewBus(),
		clock:  time.UnixMilli(1_000_000).UTC(),
	}
	f.dog = New(
		f.target,
		f.kicker,
		f.bus,
		metrics.New(prometheus.NewRegistry()),
		testWatchdogConfig(),
		func() time.Time { return f.clock },
	)
	return f
}

func (f *watchdogFixture) tick(d time.Duration) {
	f.clock = f.clock.Add(d)
	f.dog.tick(context.Background(), f.clock)
}

func TestTick_BufferingStuckTriggersSeek(t *testing.T) {
	f := newWatchdogFixture(t)
	f.target.state = player.StateBuffering

	f.tick(0) // begin tracking the buffering episode
	f.tick(11 * time.Second)

	assert.Equal(t, 1, f.target.seeks)

	ev, ok := f.bus.Last("ch-1")
	require.True(t, ok)
	assert.Equal(t, status.KindRecovering, ev.Kind)
}

func TestTick_BufferingBelowThresholdIsLeftAlone(t *testing.T) {
	f := newWatchdogFixture(t)
	f.target.state = player.StateBuffering

	f.tick(0)
	f.tick(5 * time.Second)

	assert.Zero(t, f.target.seeks)
}

func TestTick_UnexpectedPauseTriggersPlay(t *testing.T) {
	f := newWatchdogFixture(t)
	f.target.state = player.StatePaused

	f.tick(0)
	f.tick(2 * time.Second)

	assert.Equal(t, 1, f.target.plays)
}

func TestTick_RecoveryActionResetsStuckTimer(t *testing.T) {
	f := newWatchdogFixture(t)
	f.target.state = player.StateBuffering

	f.tick(0)
	f.tick(11 * time.Second)
	require.Equal(t, 1, f.target.seeks)

	// Right after a recovery action the episode timer restarts
	f.tick(2 * time.Second)
	assert.Equal(t, 1, f.target.seeks)

	f.tick(11 * time.Second)
	assert.Equal(t, 2, f.target.seeks)
}

func TestTick_NoActionWhenNothingShouldPlay(t *testing.T) {
	f := newWatchdogFixture(t)
	f.target.state = player.StatePaused
	f.target.shouldPlay = false

	f.tick(0)
	f.tick(30 * time.Second)

	assert.Zero(t, f.target.plays)
}

func TestTick_ExhaustedBudgetSkipsItem(t *testing.T) {
	f := newWatchdogFixture(t)
	f.target.state = player.StateBuffering

	f.tick(0)
	for i := 0; i < 3; i++ {
		f.tick(11 * time.Second)
	}
	require.Equal(t, 3, f.target.seeks)

	// Budget spent: the next stuck episode skips the item instead
	f.tick(11 * time.Second)
	assert.Equal(t, 3, f.target.seeks)
	assert.Equal(t, 1, f.target.skips)
	assert.Contains(t, f.kicker.reasons, "recovery_exhausted")

	// The skip happens once per episode
	f.tick(11 * time.Second)
	assert.Equal(t, 1, f.target.skips)
}

func TestTick_HealthyPlaybackResetsBudget(t *testing.T) {
	f := newWatchdogFixture(t)
	f.target.state = player.StateBuffering

	f.tick(0)
	f.tick(11 * time.Second)
	f.tick(11 * time.Second)
	require.Equal(t, 2, f.target.seeks)

	// Playback recovers; the budget refills
	f.target.state = player.StatePlaying
	f.tick(2 * time.Second) // retrack on state change
	f.tick(2 * time.Second)
	assert.Zero(t, f.dog.breaker.Actions())

	f.target.state = player.StateBuffering
	f.tick(2 * time.Second)
	f.tick(11 * time.Second)
	f.tick(11 * time.Second)
	f.tick(11 * time.Second)
	assert.Equal(t, 5, f.target.seeks)
}

func TestTick_PlayerErrorKicksSyncOnce(t *testing.T) {
	f := newWatchdogFixture(t)
	f.target.state = player.StateError

	f.tick(0)
	f.tick(2 * time.Second)
	f.tick(2 * time.Second)

	count := 0
	for _, reason := range f.kicker.reasons {
		if reason == "player_error" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestTick_ChannelChangeResetsBudget(t *testing.T) {
	f := newWatchdogFixture(t)
	f.target.state = player.StateBuffering

	f.tick(0)
	f.tick(11 * time.Second)
	f.tick(11 * time.Second)
	require.Equal(t, 2, f.dog.breaker.Actions())

	f.target.channelID = "ch-2"
	f.tick(2 * time.Second)

	assert.Zero(t, f.dog.breaker.Actions())
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	now := time.UnixMilli(0).UTC()
	cb := NewCircuitBreaker(3, time.Minute)

	require.True(t, cb.CanAttempt(now))
	cb.RecordAction(now)
	cb.RecordAction(now)
	assert.True(t, cb.CanAttempt(now))

	cb.RecordAction(now)
	assert.Equal(t, StateOpen, cb.State(now))
	assert.False(t, cb.CanAttempt(now))
}

func TestCircuitBreaker_HalfOpensAfterTimeout(t *testing.T) {
	now := time.UnixMilli(0).UTC()
	cb := NewCircuitBreaker(1, time.Minute)

	cb.RecordAction(now)
	require.Equal(t, StateOpen, cb.State(now))

	later := now.Add(time.Minute)
	assert.Equal(t, StateHalfOpen, cb.State(later))
	assert.True(t, cb.CanAttempt(later))

	// A healthy report from half-open closes the circuit
	cb.RecordHealthy()
	assert.Equal(t, StateClosed, cb.State(later))
}

func TestCircuitBreaker_HealthyResetsCount(t *testing.T) {
	now := time.UnixMilli(0).UTC()
	cb := NewCircuitBreaker(3, time.Minute)

	cb.RecordAction(now)
	cb.RecordAction(now)
	cb.RecordHealthy()

	assert.Zero(t, cb.Actions())
	assert.Equal(t, StateClosed, cb.State(now))
}
