package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/acossette/telecast/internal/models"
)

// Store handles database operations for the viewer session.
// The session is a singleton table with only one row.
type Store struct {
	db *DB
}

// NewStore creates a session store
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

// Get retrieves the session, creating it with defaults when absent
func (s *Store) Get(ctx context.Context) (*models.Session, error) {
	var session models.Session
	result := s.db.WithContext(ctx).Where("id = ?", 1).First(&session)

	if result.Error != nil {
		if errors.Is(mapGormError(result.Error), ErrNotFound) {
			defaults := models.DefaultSession()
			if err := s.db.WithContext(ctx).Create(defaults).Error; err != nil {
				return nil, fmt.Errorf("failed to create default session: %w", mapGormError(err))
			}
			return defaults, nil
		}
		return nil, mapGormError(result.Error)
	}

	return &session, nil
}

// Update writes the singleton session row
func (s *Store) Update(ctx context.Context, session *models.Session) error {
	session.ID = 1
	session.UpdatedAt = time.Now().UTC()

	// Select all columns explicitly: Updates skips zero values by default,
	// which would make power-off and unmute impossible to persist
	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ?", 1).
		Select("power", "volume", "muted", "last_channel_id", "manual_mode_channel_id", "updated_at").
		Updates(session)
	if result.Error != nil {
		return fmt.Errorf("failed to update session: %w", mapGormError(result.Error))
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPower persists the power state
func (s *Store) SetPower(ctx context.Context, on bool) error {
	session, err := s.Get(ctx)
	if err != nil {
		return err
	}
	session.Power = on
	return s.Update(ctx, session)
}

// SetLastChannel persists the channel to restore on the next power-on
func (s *Store) SetLastChannel(ctx context.Context, channelID string) error {
	session, err := s.Get(ctx)
	if err != nil {
		return err
	}
	session.LastChannelID = &channelID
	return s.Update(ctx, session)
}

// SetManualModeChannel records which channel, if any, was left in manual mode
func (s *Store) SetManualModeChannel(ctx context.Context, channelID *string) error {
	session, err := s.Get(ctx)
	if err != nil {
		return err
	}
	session.ManualModeChannelID = channelID
	return s.Update(ctx, session)
}

// SetVolume persists volume and mute state
func (s *Store) SetVolume(ctx context.Context, volume int, muted bool) error {
	if volume < 0 || volume > 100 {
		return fmt.Errorf("%w: volume %d outside 0-100", ErrInvalidInput, volume)
	}
	session, err := s.Get(ctx)
	if err != nil {
		return err
	}
	session.Volume = volume
	session.Muted = muted
	return s.Update(ctx, session)
}
