// Package epoch provides the client for the global epoch oracle: the single
// immutable origin instant from which every channel timeline is measured.
package epoch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/acossette/telecast/internal/logger"
	"github.com/acossette/telecast/internal/models"
	"github.com/acossette/telecast/internal/retry"
)

// Oracle errors
var (
	// ErrEpochUnavailable indicates the oracle is unreachable and no cached
	// value exists. Without an epoch the engine refuses live mode and only
	// supports manual playback.
	ErrEpochUnavailable = errors.New("epoch unavailable and no cached value exists")
)

// Oracle fetches and caches the global epoch. The value is cached
// aggressively: an epoch only ever changes on an administrative reset, which
// the sync service detects through the version field.
type Oracle struct {
	baseURL      string
	client       *http.Client
	fetchTimeout time.Duration
	cacheTTL     time.Duration
	policy       retry.Policy

	mu        sync.RWMutex
	cached    *models.EpochInfo
	fetchedAt time.Time
	skew      time.Duration
}

// NewOracle creates an epoch oracle client against the authority base URL
func NewOracle(baseURL string, fetchTimeout, cacheTTL time.Duration, policy retry.Policy) *Oracle {
	return &Oracle{
		baseURL:      baseURL,
		client:       &http.Client{},
		fetchTimeout: fetchTimeout,
		cacheTTL:     cacheTTL,
		policy:       policy,
	}
}

// Info returns the epoch, serving from cache while it is fresh.
// On fetch failure a stale cached value is still returned: a stale epoch is
// always better than no epoch, since epochs are immutable between resets.
func (o *Oracle) Info(ctx context.Context) (models.EpochInfo, error) {
	o.mu.RLock()
	if o.cached != nil && time.Since(o.fetchedAt) < o.cacheTTL {
		info := *o.cached
		o.mu.RUnlock()
		return info, nil
	}
	o.mu.RUnlock()

	info, err := o.Refresh(ctx)
	if err != nil {
		o.mu.RLock()
		defer o.mu.RUnlock()
		if o.cached != nil {
			logger.Log.Warn().
				Err(err).
				Int("cached_version", o.cached.Version).
				Msg("Epoch fetch failed, serving cached value")
			return *o.cached, nil
		}
		return models.EpochInfo{}, ErrEpochUnavailable
	}
	return info, nil
}

// Refresh forces a fetch from the authority, updating the cache and the
// clock-skew estimate on success.
func (o *Oracle) Refresh(ctx context.Context) (models.EpochInfo, error) {
	var info models.EpochInfo
	var skew time.Duration

	err := o.policy.Do(ctx, func(ctx context.Context) error {
		fetched, s, err := o.fetch(ctx)
		if err != nil {
			return err
		}
		info = fetched
		skew = s
		return nil
	})
	if err != nil {
		return models.EpochInfo{}, fmt.Errorf("failed to fetch epoch: %w", err)
	}

	o.mu.Lock()
	prev := o.cached
	o.cached = &info
	o.fetchedAt = time.Now()
	o.skew = skew
	o.mu.Unlock()

	event := logger.Log.Info()
	if prev != nil && prev.Version == info.Version {
		event = logger.Log.Debug()
	}
	event.
		Int64("epoch_ms", info.Epoch).
		Int("version", info.Version).
		Dur("clock_skew", skew).
		Msg("Epoch refreshed")

	return info, nil
}

// Cached returns the cached epoch without touching the network
func (o *Oracle) Cached() (models.EpochInfo, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.cached == nil {
		return models.EpochInfo{}, false
	}
	return *o.cached, true
}

// Skew returns the estimated local-clock offset relative to the authority.
// Positive means the authority's clock is ahead of ours.
func (o *Oracle) Skew() time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.skew
}

// Now returns the local time corrected by the skew estimate
func (o *Oracle) Now() time.Time {
	return time.Now().UTC().Add(o.Skew())
}

// fetch performs a single epoch request and estimates clock skew from the
// request midpoint against the authority's serverNow.
func (o *Oracle) fetch(ctx context.Context) (models.EpochInfo, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/epoch", nil)
	if err != nil {
		return models.EpochInfo{}, 0, retry.Permanent(fmt.Errorf("failed to build epoch request: %w", err))
	}

	sent := time.Now()
	resp, err := o.client.Do(req)
	if err != nil {
		return models.EpochInfo{}, 0, err
	}
	defer resp.Body.Close() // nolint:errcheck
	received := time.Now()

	if resp.StatusCode != http.StatusOK {
		return models.EpochInfo{}, 0, fmt.Errorf("epoch endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.EpochInfo{}, 0, err
	}

	var info models.EpochInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return models.EpochInfo{}, 0, retry.Permanent(fmt.Errorf("failed to parse epoch response: %w", err))
	}

	midpoint := sent.Add(received.Sub(sent) / 2)
	skew := time.UnixMilli(info.ServerNow).Sub(midpoint)

	return info, skew, nil
}
