package models

import "time"

// CatalogSnapshot is the wire form of the authoritative channel catalog.
// It is read-only from the engine's point of view.
type CatalogSnapshot struct {
	Version     string            `json:"version"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Channels    []ChannelSnapshot `json:"channels"`
}

// ChannelSnapshot is one channel entry in the catalog document.
//
// PlaylistStartEpoch is accepted for compatibility with older catalog
// generators but the effective timeline origin is always the global epoch;
// the loader logs and ignores it.
type ChannelSnapshot struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	PlaylistStartEpoch *int64         `json:"playlistStartEpoch,omitempty"`
	Items              []ItemSnapshot `json:"items"`
}

// ItemSnapshot is one playlist entry in the catalog document
type ItemSnapshot struct {
	MediaID  string `json:"mediaId"`
	Title    string `json:"title"`
	Duration int64  `json:"duration"` // seconds
}

// EpochInfo is the wire form of the global epoch endpoint response
type EpochInfo struct {
	// Epoch is the global timeline origin in milliseconds since the Unix epoch
	Epoch int64 `json:"epoch"`
	// Version increments only on an administrative epoch reset
	Version int `json:"version"`
	// ServerNow is the authority's clock at response time, for skew estimation
	ServerNow int64 `json:"serverNow"`
}

// EpochTime returns the epoch as a time.Time in UTC
func (e EpochInfo) EpochTime() time.Time {
	return time.UnixMilli(e.Epoch).UTC()
}

// ChecksumInfo is the wire form of the catalog checksum endpoint response
type ChecksumInfo struct {
	Checksum     string `json:"checksum"`
	EpochVersion int    `json:"epochVersion"`
}
