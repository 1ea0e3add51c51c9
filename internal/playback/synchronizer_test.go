package playback

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acossette/telecast/internal/broadcast"
	"github.com/acossette/telecast/internal/config"
	"github.com/acossette/telecast/internal/metrics"
	"github.com/acossette/telecast/internal/models"
	"github.com/acossette/telecast/internal/player"
	"github.com/acossette/telecast/internal/status"
)

// fakePlayer is a fully scripted player. Unlike the realtime Sim, playback
// time only moves when the test advances it, so every tick is deterministic.
type fakePlayer struct {
	state     player.State
	mediaID   string
	curTime   float64
	rate      float64
	failMedia map[string]bool

	loads     []loadCall
	playCalls int
	seeks     []float64
	events    chan player.StateChange
}

type loadCall struct {
	mediaID string
	start   float64
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{
		state:     player.StateUnstarted,
		rate:      1.0,
		failMedia: make(map[string]bool),
		events:    make(chan player.StateChange, 16),
	}
}

func (p *fakePlayer) Load(mediaID string, startSeconds float64) error {
	p.loads = append(p.loads, loadCall{mediaID: mediaID, start: startSeconds})
	p.mediaID = mediaID
	p.curTime = startSeconds
	if p.failMedia[mediaID] {
		p.state = player.StateError
		return nil
	}
	p.state = player.StateCued
	return nil
}

func (p *fakePlayer) Play() error {
	p.playCalls++
	if p.mediaID == "" {
		return nil
	}
	if p.failMedia[p.mediaID] {
		p.state = player.StateError
		return nil
	}
	p.state = player.StatePlaying
	return nil
}

func (p *fakePlayer) Pause() error {
	p.state = player.StatePaused
	return nil
}

func (p *fakePlayer) Seek(seconds float64) error {
	p.seeks = append(p.seeks, seconds)
	p.curTime = seconds
	return nil
}

func (p *fakePlayer) SetRate(rate float64) error {
	p.rate = rate
	return nil
}

func (p *fakePlayer) Rate() float64                     { return p.rate }
func (p *fakePlayer) CurrentTime() float64              { return p.curTime }
func (p *fakePlayer) State() player.State               { return p.state }
func (p *fakePlayer) LoadedMediaID() string             { return p.mediaID }
func (p *fakePlayer) Events() <-chan player.StateChange { return p.events }

type fakeKicker struct {
	reasons []string
}

func (k *fakeKicker) Kick(reason string) {
	k.reasons = append(k.reasons, reason)
}

type syncFixture struct {
	sync     *Synchronizer
	player   *fakePlayer
	manager  *broadcast.Manager
	bus      *status.Bus
	kicker   *fakeKicker
	epochSrc *fixedEpochSource
	epoch    time.Time
	clock    time.Time
}

func testPlaybackConfig() config.PlaybackConfig {
	return config.PlaybackConfig{
		DriftLoopPeriod:   1 * time.Second,
		IgnoreThreshold:   200 * time.Millisecond,
		SeekThreshold:     1 * time.Second,
		CriticalThreshold: 5 * time.Second,
		PlayDebounce:      500 * time.Millisecond,
		LoadDeadline:      8 * time.Second,
	}
}

func testChannel(t *testing.T, id string, durations ...int64) *models.Channel {
	t.Helper()
	items := make([]models.Item, len(durations))
	for i, d := range durations {
		items[i] = models.Item{
			MediaID:  fmt.Sprintf("%s-media-%d", id, i),
			Title:    fmt.Sprintf("Video %d", i),
			Duration: d,
		}
	}
	ch, err := models.NewChannel(id, "Channel "+id, items)
	require.NoError(t, err)
	return ch
}

func newFixture(t *testing.T) *syncFixture {
	t.Helper()

	f := &syncFixture{
		player: newFakePlayer(),
		bus:    status.NewBus(),
		kicker: &fakeKicker{},
		epoch:  time.UnixMilli(1_000_000).UTC(),
	}
	f.clock = f.epoch
	f.epochSrc = &fixedEpochSource{epoch: f.epoch, version: 1}
	f.manager = broadcast.NewManager(f.epochSrc)

	f.sync = New(
		f.player,
		f.manager,
		f.bus,
		metrics.New(prometheus.NewRegistry()),
		f.kicker,
		testPlaybackConfig(),
		func() time.Time { return f.clock },
	)
	return f
}

// tick advances the test clock by d and runs one drift pass
func (f *syncFixture) tick(d time.Duration) {
	f.clock = f.clock.Add(d)
	f.sync.tick(context.Background(), f.clock)
}

// fixedEpochSource serves a constant epoch for tests
type fixedEpochSource struct {
	epoch   time.Time
	version int
}

func (f *fixedEpochSource) Info(_ context.Context) (models.EpochInfo, error) {
	return models.EpochInfo{
		Epoch:   f.epoch.UnixMilli(),
		Version: f.version,
	}, nil
}

func (f *fixedEpochSource) Now() time.Time {
	return time.Now().UTC()
}

func TestTune_LoadsLiveItemAtOffset(t *testing.T) {
	f := newFixture(t)
	ch := testChannel(t, "ch-1", 60, 120, 60)
	f.manager.Initialize(ch)

	// 190s after epoch, live position is item 2 at 10s
	f.clock = f.epoch.Add(190 * time.Second)
	require.NoError(t, f.sync.Tune(context.Background(), ch))

	require.Len(t, f.player.loads, 1)
	assert.Equal(t, "ch-1-media-2", f.player.loads[0].mediaID)
	assert.InDelta(t, 10.0, f.player.loads[0].start, 0.001)
	assert.Equal(t, 1, f.player.playCalls)
	assert.Equal(t, player.StatePlaying, f.player.State())
}

func TestTick_IgnoresSmallDrift(t *testing.T) {
	f := newFixture(t)
	ch := testChannel(t, "ch-1", 600)
	f.manager.Initialize(ch)

	f.clock = f.epoch.Add(100 * time.Second)
	require.NoError(t, f.sync.Tune(context.Background(), ch))
	f.tick(time.Second) // complete the transition

	// 150ms behind: below the ignore threshold
	f.player.curTime = f.clock.Sub(f.epoch).Seconds() - 0.15
	seeksBefore := len(f.player.seeks)
	f.tick(0)

	assert.Equal(t, 1.0, f.player.Rate())
	assert.Len(t, f.player.seeks, seeksBefore)
}

func TestTick_NudgeBands(t *testing.T) {
	tests := []struct {
		name     string
		driftSec float64
		wantRate float64
	}{
		{name: "behind 300ms speeds up 5%", driftSec: -0.3, wantRate: 1.05},
		{name: "behind 600ms speeds up 7%", driftSec: -0.6, wantRate: 1.07},
		{name: "behind 900ms speeds up 10%", driftSec: -0.9, wantRate: 1.10},
		{name: "ahead 300ms slows down 5%", driftSec: 0.3, wantRate: 0.95},
		{name: "ahead 600ms slows down 7%", driftSec: 0.6, wantRate: 0.93},
		{name: "ahead 900ms slows down 10%", driftSec: 0.9, wantRate: 0.90},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ch := testChannel(t, "ch-1", 600)
			f.manager.Initialize(ch)

			f.clock = f.epoch.Add(100 * time.Second)
			require.NoError(t, f.sync.Tune(context.Background(), ch))
			f.tick(time.Second)

			f.player.curTime = f.clock.Sub(f.epoch).Seconds() + tt.driftSec
			f.tick(0)

			assert.InDelta(t, tt.wantRate, f.player.Rate(), 0.001)
		})
	}
}

func TestTick_SeekOnModerateDrift(t *testing.T) {
	f := newFixture(t)
	ch := testChannel(t, "ch-1", 600)
	f.manager.Initialize(ch)

	f.clock = f.epoch.Add(100 * time.Second)
	require.NoError(t, f.sync.Tune(context.Background(), ch))
	f.tick(time.Second)

	// 2s behind: seek territory
	f.player.curTime = f.clock.Sub(f.epoch).Seconds() - 2.0
	f.tick(0)

	require.Len(t, f.player.seeks, 1)
	assert.InDelta(t, f.clock.Sub(f.epoch).Seconds(), f.player.seeks[0], 0.01)
	assert.Equal(t, 1.0, f.player.Rate())
}

func TestTick_HardResyncOnCriticalDrift(t *testing.T) {
	f := newFixture(t)
	ch := testChannel(t, "ch-1", 600)
	f.manager.Initialize(ch)

	f.clock = f.epoch.Add(100 * time.Second)
	require.NoError(t, f.sync.Tune(context.Background(), ch))
	f.tick(time.Second)

	loadsBefore := len(f.player.loads)
	f.player.curTime = f.clock.Sub(f.epoch).Seconds() - 7.0
	f.tick(0)

	// Critical drift reloads at the expected position instead of seeking
	require.Len(t, f.player.loads, loadsBefore+1)
	last := f.player.loads[len(f.player.loads)-1]
	assert.Equal(t, "ch-1-media-0", last.mediaID)
	assert.InDelta(t, f.clock.Sub(f.epoch).Seconds(), last.start, 0.01)
}

func TestTick_ConvergesWithinTwentyTicks(t *testing.T) {
	f := newFixture(t)
	ch := testChannel(t, "ch-1", 3600)
	f.manager.Initialize(ch)

	f.clock = f.epoch.Add(100 * time.Second)
	require.NoError(t, f.sync.Tune(context.Background(), ch))
	f.tick(time.Second)

	// Start 900ms behind; each second the player advances at the applied rate
	f.player.curTime = f.clock.Sub(f.epoch).Seconds() - 0.9

	converged := -1
	for i := 0; i < 20; i++ {
		f.player.curTime += f.player.Rate()
		f.tick(time.Second)

		drift := f.clock.Sub(f.epoch).Seconds() - f.player.curTime
		if drift < 0 {
			drift = -drift
		}
		if drift < 0.2 {
			converged = i
			break
		}
	}

	require.GreaterOrEqual(t, converged, 0, "drift never fell below the ignore threshold")
	assert.Empty(t, f.player.seeks, "convergence must come from rate nudges alone")
}

func TestTick_PlayAttemptsDebounced(t *testing.T) {
	f := newFixture(t)
	ch := testChannel(t, "ch-1", 600)
	f.manager.Initialize(ch)

	f.clock = f.epoch.Add(100 * time.Second)
	require.NoError(t, f.sync.Tune(context.Background(), ch))
	f.tick(time.Second)

	f.player.state = player.StatePaused
	calls := f.player.playCalls

	f.tick(100 * time.Millisecond)
	f.player.state = player.StatePaused
	f.tick(100 * time.Millisecond)
	f.player.state = player.StatePaused
	f.tick(100 * time.Millisecond)

	// Three ticks inside one debounce window collapse into a single attempt
	assert.Equal(t, calls+1, f.player.playCalls)

	f.player.state = player.StatePaused
	f.tick(600 * time.Millisecond)
	assert.Equal(t, calls+2, f.player.playCalls)
}

func TestTick_SkipsFailedItemForward(t *testing.T) {
	f := newFixture(t)
	ch := testChannel(t, "ch-1", 60, 120, 60)
	f.manager.Initialize(ch)
	f.player.failMedia["ch-1-media-1"] = true

	// Live position is inside item 1, which refuses to play
	f.clock = f.epoch.Add(90 * time.Second)
	require.NoError(t, f.sync.Tune(context.Background(), ch))

	// Each failed attempt needs an observe tick plus a retry tick
	for i := 0; i < 4; i++ {
		f.tick(time.Second)
	}

	assert.Equal(t, player.StatePlaying, f.player.State())
	assert.Equal(t, "ch-1-media-2", f.player.LoadedMediaID())
	// The substitute picks up the offset the timeline has inside the failed
	// item: 34s into item 1 after two failed attempts took four ticks
	last := f.player.loads[len(f.player.loads)-1]
	assert.InDelta(t, 34.0, last.start, 0.001)
	assert.Contains(t, f.kicker.reasons, "item_unplayable")
}

func TestTick_SubstituteHoldsWhileTimelineStaysInFailedItem(t *testing.T) {
	f := newFixture(t)
	ch := testChannel(t, "ch-1", 60, 120, 60)
	f.manager.Initialize(ch)
	f.player.failMedia["ch-1-media-1"] = true

	f.clock = f.epoch.Add(90 * time.Second)
	require.NoError(t, f.sync.Tune(context.Background(), ch))
	for i := 0; i < 4; i++ {
		f.tick(time.Second)
	}
	require.Equal(t, "ch-1-media-2", f.player.LoadedMediaID())

	// The live timeline stays inside the failed item until t=180s. Drift is
	// measured against the substitute, so a healthy substitute rides the
	// window untouched until its own length wraps at t=120s.
	loads := len(f.player.loads)
	for i := 0; i < 25; i++ {
		f.player.curTime += f.player.Rate()
		f.tick(time.Second)
	}
	assert.Len(t, f.player.loads, loads, "healthy substitute must not be reloaded")
	assert.Equal(t, 1.0, f.player.Rate())

	// Past the wrap the substitute restarts at the wrapped offset; the failed
	// item itself must never be loaded again
	for i := 0; i < 5; i++ {
		f.player.curTime += f.player.Rate()
		f.tick(time.Second)
	}
	for _, load := range f.player.loads[loads:] {
		assert.Equal(t, "ch-1-media-2", load.mediaID,
			"drift correction must never reload an item marked failed")
	}
	assert.Equal(t, player.StatePlaying, f.player.State())
	assert.Equal(t, "ch-1-media-2", f.player.LoadedMediaID())
}

func TestTick_AllItemsFailedIsFatal(t *testing.T) {
	f := newFixture(t)
	ch := testChannel(t, "ch-1", 60)
	f.manager.Initialize(ch)
	f.player.failMedia["ch-1-media-0"] = true

	events, cancel := f.bus.Subscribe()
	defer cancel()

	f.clock = f.epoch.Add(10 * time.Second)
	require.NoError(t, f.sync.Tune(context.Background(), ch))

	for i := 0; i < 6; i++ {
		f.tick(time.Second)
	}

	assert.False(t, f.sync.ShouldBePlaying())

	var fatal bool
	for done := false; !done; {
		select {
		case ev := <-events:
			if ev.Kind == status.KindFatal {
				fatal = true
			}
		default:
			done = true
		}
	}
	assert.True(t, fatal, "expected a fatal status event")

	// Fatal channels stop issuing player commands
	loads := len(f.player.loads)
	f.tick(time.Second)
	assert.Len(t, f.player.loads, loads)
}

func TestTick_LoadDeadlineCountsAsFailure(t *testing.T) {
	f := newFixture(t)
	ch := testChannel(t, "ch-1", 600, 600)
	f.manager.Initialize(ch)

	f.clock = f.epoch.Add(10 * time.Second)
	require.NoError(t, f.sync.Tune(context.Background(), ch))

	// Pin the player in buffering so the load never completes
	f.player.state = player.StateBuffering
	f.tick(9 * time.Second)
	f.player.state = player.StateBuffering
	f.tick(9 * time.Second)
	f.player.state = player.StateBuffering
	f.tick(time.Second)
	f.player.state = player.StateBuffering
	f.tick(9 * time.Second)

	// Two blown deadlines mark item 0 failed; the next pass substitutes item 1
	f.tick(time.Second)
	assert.Equal(t, "ch-1-media-1", f.player.LoadedMediaID())
}

func TestTick_ManualEndOfPlaylist(t *testing.T) {
	f := newFixture(t)
	ch := testChannel(t, "ch-1", 60, 60)
	f.manager.Initialize(ch)

	f.clock = f.epoch.Add(10 * time.Second)
	require.NoError(t, f.sync.Tune(context.Background(), ch))
	f.tick(time.Second)

	// Park manual playback near the end of the last item
	require.NoError(t, f.manager.JumpToItem("ch-1", 1, 55_000, f.clock))

	events, cancel := f.bus.Subscribe()
	defer cancel()

	// Walk past the end of the playlist
	f.tick(10 * time.Second)
	assert.Equal(t, player.StatePaused, f.player.State())

	var eomCount int
	f.tick(time.Second)
	f.tick(time.Second)
	for done := false; !done; {
		select {
		case ev := <-events:
			if ev.Kind == status.KindEOM {
				eomCount++
			}
		default:
			done = true
		}
	}
	assert.Equal(t, 1, eomCount, "end of playlist must be reported exactly once")
}

func TestTick_EndedPlayerAdvancesToNextItem(t *testing.T) {
	f := newFixture(t)
	ch := testChannel(t, "ch-1", 60, 120, 60)
	f.manager.Initialize(ch)

	// Near the end of item 0
	f.clock = f.epoch.Add(59 * time.Second)
	require.NoError(t, f.sync.Tune(context.Background(), ch))
	f.tick(time.Millisecond)

	// Player finishes the file slightly before the timeline does
	f.player.state = player.StateEnded
	f.tick(100 * time.Millisecond)

	last := f.player.loads[len(f.player.loads)-1]
	assert.Equal(t, "ch-1-media-1", last.mediaID)
	assert.Equal(t, 0.0, last.start)
}

func TestTuneAway_AbandonsInFlightLoad(t *testing.T) {
	f := newFixture(t)
	chA := testChannel(t, "ch-a", 600)
	chB := testChannel(t, "ch-b", 600)
	f.manager.Initialize(chA)
	f.manager.Initialize(chB)

	f.clock = f.epoch.Add(10 * time.Second)
	require.NoError(t, f.sync.Tune(context.Background(), chA))

	// Hold channel A's load in buffering, then tune away mid-load
	f.player.state = player.StateBuffering
	require.NoError(t, f.sync.Tune(context.Background(), chB))

	assert.Equal(t, "ch-b", f.sync.ChannelID())
	assert.Equal(t, "ch-b-media-0", f.player.LoadedMediaID())
}

func TestDetach_PausesAndClearsChannel(t *testing.T) {
	f := newFixture(t)
	ch := testChannel(t, "ch-1", 600)
	f.manager.Initialize(ch)

	f.clock = f.epoch.Add(10 * time.Second)
	require.NoError(t, f.sync.Tune(context.Background(), ch))
	f.tick(time.Second)

	f.sync.Detach()

	assert.Empty(t, f.sync.ChannelID())
	assert.Equal(t, player.StatePaused, f.player.State())
	assert.False(t, f.sync.ShouldBePlaying())

	// Ticks after detach leave the player alone
	loads := len(f.player.loads)
	f.tick(time.Second)
	assert.Len(t, f.player.loads, loads)
}

func TestResync_RealignsAndReportsOnce(t *testing.T) {
	f := newFixture(t)
	ch := testChannel(t, "ch-1", 60, 120, 60)
	f.manager.Initialize(ch)

	f.clock = f.epoch.Add(190 * time.Second)
	require.NoError(t, f.sync.Tune(context.Background(), ch))
	f.tick(time.Second)
	require.Equal(t, "ch-1-media-2", f.player.LoadedMediaID())

	events, cancel := f.bus.Subscribe()
	defer cancel()

	// The epoch origin moves forward 100s; every derived position is invalid
	f.epochSrc.epoch = f.epoch.Add(100 * time.Second)
	f.sync.Resync(context.Background(), "epochMismatch")

	// 91s after the new origin the live position is item 1 at 31s
	last := f.player.loads[len(f.player.loads)-1]
	assert.Equal(t, "ch-1-media-1", last.mediaID)
	assert.InDelta(t, 31.0, last.start, 0.001)
	assert.Equal(t, player.StatePlaying, f.player.State())

	// Settling back into live must not repeat the recovering event
	f.tick(time.Second)
	f.tick(time.Second)

	var recovering int
	for done := false; !done; {
		select {
		case ev := <-events:
			if ev.Kind == status.KindRecovering && ev.Reason == "epochMismatch" {
				recovering++
			}
		default:
			done = true
		}
	}
	assert.Equal(t, 1, recovering, "epoch mismatch must be reported exactly once")
}

func TestResync_NoChannelIsNoOp(t *testing.T) {
	f := newFixture(t)

	f.sync.Resync(context.Background(), "epochMismatch")

	assert.Empty(t, f.player.loads)
	assert.Empty(t, f.bus.Snapshot())
}

func TestRecoverPlay_Debounced(t *testing.T) {
	f := newFixture(t)
	ch := testChannel(t, "ch-1", 600)
	f.manager.Initialize(ch)

	f.clock = f.epoch.Add(100 * time.Second)
	require.NoError(t, f.sync.Tune(context.Background(), ch))
	f.tick(time.Second)

	f.player.state = player.StatePaused
	calls := f.player.playCalls

	f.clock = f.clock.Add(time.Second)
	require.NoError(t, f.sync.RecoverPlay())
	f.player.state = player.StatePaused
	f.clock = f.clock.Add(100 * time.Millisecond)
	require.NoError(t, f.sync.RecoverPlay())

	// The second recovery falls inside the debounce window and collapses
	assert.Equal(t, calls+1, f.player.playCalls)
}

func TestNudgeRate(t *testing.T) {
	assert.Equal(t, 1.05, nudgeRate(300))
	assert.Equal(t, 1.07, nudgeRate(600))
	assert.Equal(t, 1.10, nudgeRate(900))
	assert.Equal(t, 0.95, nudgeRate(-300))
	assert.Equal(t, 0.93, nudgeRate(-600))
	assert.Equal(t, 0.90, nudgeRate(-900))
}
