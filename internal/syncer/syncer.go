// Package syncer keeps the client's catalog and epoch coherent with the
// authority. A cooperative loop revalidates the catalog checksum on an
// interval and on imperative kicks (channel switch, first load, playback
// errors); mismatches trigger an atomic catalog reload or a global reset.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acossette/telecast/internal/broadcast"
	"github.com/acossette/telecast/internal/catalog"
	"github.com/acossette/telecast/internal/epoch"
	"github.com/acossette/telecast/internal/logger"
	"github.com/acossette/telecast/internal/metrics"
	"github.com/acossette/telecast/internal/models"
	"github.com/acossette/telecast/internal/retry"
	"github.com/acossette/telecast/internal/status"
)

// ErrSyncerStopped indicates the syncer has been shut down
var ErrSyncerStopped = errors.New("syncer has been stopped")

// Result is published to subscribers after every successful tick
type Result struct {
	ChannelsChanged bool
	EpochChanged    bool
	Reason          string
}

// ChecksumFetcher retrieves the authoritative catalog checksum and epoch version
type ChecksumFetcher interface {
	Fetch(ctx context.Context) (models.ChecksumInfo, error)
}

// HTTPChecksumFetcher fetches from the authority's checksum endpoint
type HTTPChecksumFetcher struct {
	baseURL string
	client  *http.Client
	timeout time.Duration
	policy  retry.Policy
}

// NewHTTPChecksumFetcher creates a checksum fetcher against the authority base URL
func NewHTTPChecksumFetcher(baseURL string, timeout time.Duration, policy retry.Policy) *HTTPChecksumFetcher {
	return &HTTPChecksumFetcher{
		baseURL: baseURL,
		client:  &http.Client{},
		timeout: timeout,
		policy:  policy,
	}
}

// Fetch retrieves the checksum document, retrying transient failures
func (f *HTTPChecksumFetcher) Fetch(ctx context.Context) (models.ChecksumInfo, error) {
	var info models.ChecksumInfo

	err := f.policy.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, f.timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/catalog/checksum", nil)
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to build checksum request: %w", err))
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close() // nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("checksum endpoint returned status %d", resp.StatusCode)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &info); err != nil {
			return retry.Permanent(fmt.Errorf("failed to parse checksum response: %w", err))
		}
		return nil
	})
	if err != nil {
		return models.ChecksumInfo{}, err
	}

	return info, nil
}

// Syncer runs the checksum validation loop
type Syncer struct {
	fetcher  ChecksumFetcher
	loader   *catalog.Loader
	oracle   *epoch.Oracle
	manager  *broadcast.Manager
	bus      *status.Bus
	metrics  *metrics.Metrics
	interval time.Duration
	// staleThreshold is how many consecutive failed ticks mark the catalog stale
	staleThreshold int

	kickChan chan string
	stopChan chan struct{}
	loopDone chan struct{}

	mu            sync.Mutex
	subscribers   map[uuid.UUID]chan Result
	failures      int
	staleReported bool
	stopped       bool
	started       bool
}

// New creates a syncer. interval is the revalidation period Δ.
func New(
	fetcher ChecksumFetcher,
	loader *catalog.Loader,
	oracle *epoch.Oracle,
	manager *broadcast.Manager,
	bus *status.Bus,
	m *metrics.Metrics,
	interval time.Duration,
	staleThreshold int,
) *Syncer {
	return &Syncer{
		fetcher:        fetcher,
		loader:         loader,
		oracle:         oracle,
		manager:        manager,
		bus:            bus,
		metrics:        m,
		interval:       interval,
		staleThreshold: staleThreshold,
		kickChan:       make(chan string, 8),
		stopChan:       make(chan struct{}),
		loopDone:       make(chan struct{}),
		subscribers:    make(map[uuid.UUID]chan Result),
	}
}

// Start launches the sync loop
func (s *Syncer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSyncerStopped
	}
	if s.started {
		return nil
	}
	s.started = true

	go s.run()

	logger.Log.Info().
		Dur("interval", s.interval).
		Int("stale_threshold", s.staleThreshold).
		Msg("Checksum sync service started")

	return nil
}

// Stop gracefully shuts down the sync loop
func (s *Syncer) Stop() {
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

	s.mu.Lock()
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	s.mu.Unlock()

	logger.Log.Info().Msg("Checksum sync service stopped")
}

// Kick triggers an immediate revalidation outside the regular interval.
// Used on channel switch, first load, tune-after-idle, and playback errors.
func (s *Syncer) Kick(reason string) {
	select {
	case s.kickChan <- reason:
	default:
		// A kick is already pending; the next tick covers this one too
	}
}

// Subscribe registers for sync results. Cancel must be called to release.
func (s *Syncer) Subscribe() (<-chan Result, func()) {
	id := uuid.New()
	ch := make(chan Result, 4)

	s.mu.Lock()
	s.subscribers[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// run drives ticks from the interval timer and imperative kicks.
// Ticks never overlap: the loop is the only goroutine calling tick.
func (s *Syncer) run() {
	defer close(s.loopDone)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.tick(context.Background(), "interval")
		case reason := <-s.kickChan:
			s.tick(context.Background(), reason)
		}
	}
}

// Tick runs one validation pass. Exposed for imperative synchronous use at
// startup; the background loop calls it on its own schedule.
func (s *Syncer) Tick(ctx context.Context, reason string) {
	s.tick(ctx, reason)
}

func (s *Syncer) tick(ctx context.Context, reason string) {
	info, err := s.fetcher.Fetch(ctx)
	if err != nil {
		s.handleFailure(err)
		return
	}

	s.mu.Lock()
	s.failures = 0
	wasStale := s.staleReported
	s.staleReported = false
	s.mu.Unlock()

	if wasStale {
		logger.Log.Info().Msg("Catalog sync recovered from stale state")
	}

	result := Result{Reason: reason}

	if cached, ok := s.oracle.Cached(); ok && info.EpochVersion != cached.Version {
		logger.Log.Warn().
			Int("old_version", cached.Version).
			Int("new_version", info.EpochVersion).
			Msg("Epoch version changed, flushing all channel state")

		if _, err := s.oracle.Refresh(ctx); err != nil {
			logger.Log.Error().
				Err(err).
				Msg("Failed to refresh epoch after version change")
		}
		s.manager.GlobalReset()
		s.metrics.EpochResets.Inc()
		result.EpochChanged = true
	}

	if info.Checksum != s.loader.Checksum() {
		logger.Log.Info().
			Str("local_checksum", truncate(s.loader.Checksum())).
			Str("authority_checksum", truncate(info.Checksum)).
			Str("reason", reason).
			Msg("Catalog checksum mismatch, reloading")

		if err := s.loader.Load(ctx); err != nil {
			s.handleFailure(err)
			return
		}
		s.metrics.CatalogReloads.Inc()

		// Rebind every initialized channel to the fresh catalog object
		for _, id := range s.manager.InitializedChannels() {
			ch, err := s.loader.GetByID(id)
			if err != nil {
				logger.Log.Warn().
					Str("channel_id", id).
					Msg("Channel disappeared from reloaded catalog")
				continue
			}
			s.manager.Rebind(ch)
		}
		result.ChannelsChanged = true
	}

	if result.ChannelsChanged || result.EpochChanged {
		s.publish(result)
	}
}

// handleFailure tracks consecutive failures and degrades to stale status
// once the threshold is crossed. Playback continues on the last catalog.
func (s *Syncer) handleFailure(err error) {
	s.metrics.SyncFailures.Inc()

	s.mu.Lock()
	s.failures++
	failures := s.failures
	report := failures >= s.staleThreshold && !s.staleReported
	if report {
		s.staleReported = true
	}
	s.mu.Unlock()

	logger.Log.Warn().
		Err(err).
		Int("consecutive_failures", failures).
		Msg("Catalog sync tick failed")

	if report {
		s.bus.Publish(status.Event{
			Kind:   status.KindStale,
			Reason: "checksum validation failing, playback continues on stale catalog",
		})
	}
}

// publish delivers a result to all subscribers without blocking
func (s *Syncer) publish(result Result) {
	s.mu.Lock()
	subs := make([]chan Result, 0, len(s.subscribers))
	for _, ch := range s.subscribers {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- result:
		default:
		}
	}
}

func truncate(checksum string) string {
	if len(checksum) > 12 {
		return checksum[:12]
	}
	return checksum
}
