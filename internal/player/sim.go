package player

import (
	"sync"
	"time"

	"github.com/acossette/telecast/internal/logger"
)

const eventBuffer = 16

// Sim is an in-process media player used by the daemon when no real engine
// is attached and by tests. Playback time advances against the wall clock,
// optionally scaled by a drift factor to exercise the synchronizer's
// rate-nudge and seek paths.
type Sim struct {
	mu          sync.Mutex
	state       State
	mediaID     string
	rate        float64
	drift       float64 // clock scale relative to realtime, 1.0 = perfect
	baseTime    float64 // seconds at anchor
	anchor      time.Time
	failMediaID map[string]bool
	events      chan StateChange
	closed      bool
}

// NewSim creates a simulated player. drift scales how fast the simulated
// clock runs relative to realtime; 1.0 behaves perfectly, 0.95 falls behind.
func NewSim(drift float64) *Sim {
	if drift <= 0 {
		drift = 1.0
	}
	return &Sim{
		state:       StateUnstarted,
		rate:        1.0,
		drift:       drift,
		failMediaID: make(map[string]bool),
		events:      make(chan StateChange, eventBuffer),
	}
}

// FailMedia marks a media id as unplayable; loading it reports StateError
func (s *Sim) FailMedia(mediaID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failMediaID[mediaID] = true
}

// Load implements Player
func (s *Sim) Load(mediaID string, startSeconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mediaID = mediaID
	s.baseTime = startSeconds
	s.anchor = time.Now()

	if s.failMediaID[mediaID] {
		s.transition(StateError)
		return nil
	}

	s.transition(StateCued)
	return nil
}

// Play implements Player
func (s *Sim) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mediaID == "" {
		return nil
	}
	if s.failMediaID[s.mediaID] {
		s.transition(StateError)
		return nil
	}
	s.syncClock()
	s.transition(StatePlaying)
	return nil
}

// Pause implements Player
func (s *Sim) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncClock()
	s.transition(StatePaused)
	return nil
}

// Seek implements Player
func (s *Sim) Seek(seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseTime = seconds
	s.anchor = time.Now()
	return nil
}

// SetRate implements Player
func (s *Sim) SetRate(rate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncClock()
	s.rate = rate
	return nil
}

// Rate implements Player
func (s *Sim) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// CurrentTime implements Player
func (s *Sim) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTimeLocked()
}

// State implements Player
func (s *Sim) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LoadedMediaID implements Player
func (s *Sim) LoadedMediaID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mediaID
}

// Events implements Player
func (s *Sim) Events() <-chan StateChange {
	return s.events
}

// Close shuts the player down and closes the event stream
func (s *Sim) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

// currentTimeLocked computes playback time from the anchor (must hold lock)
func (s *Sim) currentTimeLocked() float64 {
	if s.state != StatePlaying {
		return s.baseTime
	}
	elapsed := time.Since(s.anchor).Seconds()
	return s.baseTime + elapsed*s.rate*s.drift
}

// syncClock folds elapsed playback into baseTime before a rate or state
// change (must hold lock)
func (s *Sim) syncClock() {
	s.baseTime = s.currentTimeLocked()
	s.anchor = time.Now()
}

// transition updates state and emits an event (must hold lock)
func (s *Sim) transition(to State) {
	if s.state == to || s.closed {
		return
	}
	from := s.state
	s.state = to

	select {
	case s.events <- StateChange{From: from, To: to}:
	default:
		logger.Log.Debug().
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Dropped player state change event")
	}
}
