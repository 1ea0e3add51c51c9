// Package catalog loads and validates the authoritative channel catalog and
// keeps an in-memory copy that is replaced atomically on reload.
package catalog

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/acossette/telecast/internal/logger"
	"github.com/acossette/telecast/internal/models"
)

// Loader fetches catalog snapshots, validates them, and exposes in-memory
// channel objects. A reload either succeeds completely or leaves the previous
// catalog in place; readers never observe a partial catalog.
type Loader struct {
	source Source

	mu       sync.RWMutex
	channels []*models.Channel
	byID     map[string]*models.Channel
	byName   map[string]*models.Channel
	checksum string
	version  string
}

// NewLoader creates a catalog loader over the given source
func NewLoader(source Source) *Loader {
	return &Loader{source: source}
}

// Load fetches and installs a fresh catalog snapshot.
// Channels with empty playlists or items shorter than one second are
// rejected; a snapshot containing any invalid channel is refused outright so
// every client agrees on the catalog contents.
func (l *Loader) Load(ctx context.Context) error {
	raw, err := l.source.Fetch(ctx)
	if err != nil {
		return &LoadError{Kind: LoadErrorNetwork, Cause: err}
	}

	var snapshot models.CatalogSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return &LoadError{Kind: LoadErrorParse, Cause: err}
	}

	if len(snapshot.Channels) == 0 {
		return &LoadError{Kind: LoadErrorEmpty, Cause: nil}
	}

	channels := make([]*models.Channel, 0, len(snapshot.Channels))
	byID := make(map[string]*models.Channel, len(snapshot.Channels))
	byName := make(map[string]*models.Channel, len(snapshot.Channels))

	for _, cs := range snapshot.Channels {
		if cs.PlaylistStartEpoch != nil {
			// Accepted for compatibility; the effective origin is always
			// the global epoch.
			logger.Log.Debug().
				Str("channel_id", cs.ID).
				Int64("playlist_start_epoch", *cs.PlaylistStartEpoch).
				Msg("Ignoring per-channel playlistStartEpoch")
		}

		items := make([]models.Item, len(cs.Items))
		for i, is := range cs.Items {
			items[i] = models.Item{
				MediaID:  is.MediaID,
				Title:    is.Title,
				Duration: is.Duration,
			}
		}

		ch, err := models.NewChannel(cs.ID, cs.Name, items)
		if err != nil {
			return &LoadError{Kind: LoadErrorParse, Cause: err}
		}
		if _, exists := byID[ch.ID]; exists {
			return &LoadError{Kind: LoadErrorParse, Cause: errDuplicateChannel(ch.ID)}
		}

		channels = append(channels, ch)
		byID[ch.ID] = ch
		byName[ch.Name] = ch
	}

	sum := Checksum(raw)

	l.mu.Lock()
	l.channels = channels
	l.byID = byID
	l.byName = byName
	l.checksum = sum
	l.version = snapshot.Version
	l.mu.Unlock()

	logger.Log.Info().
		Int("channels", len(channels)).
		Str("version", snapshot.Version).
		Str("checksum", sum[:12]).
		Msg("Catalog loaded")

	return nil
}

// Channels returns the current channel list
func (l *Loader) Channels() []*models.Channel {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.channels
}

// GetByID returns the channel with the given id
func (l *Loader) GetByID(id string) (*models.Channel, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.byID == nil {
		return nil, ErrNotLoaded
	}
	ch, ok := l.byID[id]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return ch, nil
}

// GetByName returns the channel with the given display name
func (l *Loader) GetByName(name string) (*models.Channel, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.byName == nil {
		return nil, ErrNotLoaded
	}
	ch, ok := l.byName[name]
	if !ok {
		return nil, ErrChannelNotFound
	}
	return ch, nil
}

// Checksum returns the digest of the currently installed snapshot
func (l *Loader) Checksum() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.checksum
}

// Version returns the version string of the currently installed snapshot
func (l *Loader) Version() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

type errDuplicateChannel string

func (e errDuplicateChannel) Error() string {
	return "duplicate channel id: " + string(e)
}
