package models

import "time"

// Session represents the persisted viewer preferences.
// It is a singleton table with only one row. Playback positions are never
// stored here: the live view is globally consistent and a restart simply
// recomputes it from the epoch.
type Session struct {
	ID                  int       `json:"id" gorm:"type:integer;primaryKey;default:1;column:id"`
	Power               bool      `json:"power" gorm:"type:integer;not null;default:0;column:power"`
	Volume              int       `json:"volume" gorm:"type:integer;not null;default:50;column:volume" validate:"gte=0,lte=100"`
	Muted               bool      `json:"muted" gorm:"type:integer;not null;default:0;column:muted"`
	LastChannelID       *string   `json:"last_channel_id,omitempty" gorm:"type:text;column:last_channel_id"`
	ManualModeChannelID *string   `json:"manual_mode_channel_id,omitempty" gorm:"type:text;column:manual_mode_channel_id"`
	UpdatedAt           time.Time `json:"updated_at" gorm:"type:datetime;default:CURRENT_TIMESTAMP;column:updated_at"`
}

// DefaultSession returns a session with default values
func DefaultSession() *Session {
	return &Session{
		ID:        1,
		Power:     false,
		Volume:    50,
		Muted:     false,
		UpdatedAt: time.Now().UTC(),
	}
}
