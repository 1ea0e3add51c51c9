package session

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMigrationsPath = "file://../../migrations"

func openTestDB(t *testing.T) (*DB, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "telecast.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(testMigrationsPath))

	t.Cleanup(func() {
		_ = db.Close() // nolint:errcheck
	})
	return db, path
}

func TestGet_CreatesDefaults(t *testing.T) {
	db, _ := openTestDB(t)
	store := NewStore(db)

	session, err := store.Get(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, session.ID)
	assert.False(t, session.Power)
	assert.Equal(t, 50, session.Volume)
	assert.False(t, session.Muted)
	assert.Nil(t, session.LastChannelID)
	assert.Nil(t, session.ManualModeChannelID)
}

func TestUpdate_PersistsPreferences(t *testing.T) {
	db, _ := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	session, err := store.Get(ctx)
	require.NoError(t, err)

	channelID := "ch-42"
	session.Power = true
	session.Volume = 80
	session.Muted = true
	session.LastChannelID = &channelID
	require.NoError(t, store.Update(ctx, session))

	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.True(t, got.Power)
	assert.Equal(t, 80, got.Volume)
	assert.True(t, got.Muted)
	require.NotNil(t, got.LastChannelID)
	assert.Equal(t, "ch-42", *got.LastChannelID)
}

func TestUpdate_PersistsZeroValues(t *testing.T) {
	db, _ := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	require.NoError(t, store.SetPower(ctx, true))
	require.NoError(t, store.SetVolume(ctx, 80, true))

	// Power-off and unmute write zero values; they must not be skipped
	require.NoError(t, store.SetPower(ctx, false))
	require.NoError(t, store.SetVolume(ctx, 0, false))

	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.False(t, got.Power)
	assert.Zero(t, got.Volume)
	assert.False(t, got.Muted)
}

func TestSession_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telecast.db")
	ctx := context.Background()

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(testMigrationsPath))

	store := NewStore(db)
	require.NoError(t, store.SetPower(ctx, true))
	require.NoError(t, store.SetLastChannel(ctx, "ch-7"))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close() // nolint:errcheck
	require.NoError(t, db.Migrate(testMigrationsPath))

	got, err := NewStore(db).Get(ctx)
	require.NoError(t, err)
	assert.True(t, got.Power)
	require.NotNil(t, got.LastChannelID)
	assert.Equal(t, "ch-7", *got.LastChannelID)
}

func TestSetVolume_RejectsOutOfRange(t *testing.T) {
	db, _ := openTestDB(t)
	store := NewStore(db)

	err := store.SetVolume(context.Background(), 101, false)

	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSetManualModeChannel_ClearsWithNil(t *testing.T) {
	db, _ := openTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	channelID := "ch-3"
	require.NoError(t, store.SetManualModeChannel(ctx, &channelID))

	got, err := store.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, got.ManualModeChannelID)

	require.NoError(t, store.SetManualModeChannel(ctx, nil))
	got, err = store.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got.ManualModeChannelID)
}
