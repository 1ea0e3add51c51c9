package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testItems() []Item {
	return []Item{
		{MediaID: "m-1", Title: "Opening", Duration: 60},
		{MediaID: "m-2", Title: "Feature", Duration: 120},
		{MediaID: "m-3", Title: "Credits", Duration: 30},
	}
}

func TestNewChannel_BuildsPrefixSums(t *testing.T) {
	ch, err := NewChannel("ch-1", "Classics", testItems())
	require.NoError(t, err)

	assert.Equal(t, int64(210_000), ch.TotalDurationMs())
	assert.Equal(t, int64(0), ch.ItemStartMs(0))
	assert.Equal(t, int64(60_000), ch.ItemStartMs(1))
	assert.Equal(t, int64(180_000), ch.ItemStartMs(2))
	assert.Equal(t, int64(120_000), ch.ItemDurationMs(1))
}

func TestNewChannel_RejectsEmptyPlaylist(t *testing.T) {
	_, err := NewChannel("ch-1", "Classics", nil)

	assert.ErrorIs(t, err, ErrEmptyPlaylist)
}

func TestNewChannel_RejectsZeroDuration(t *testing.T) {
	items := testItems()
	items[1].Duration = 0

	_, err := NewChannel("ch-1", "Classics", items)

	assert.ErrorIs(t, err, ErrInvalidDuration)
}

func TestItemAt(t *testing.T) {
	ch, err := NewChannel("ch-1", "Classics", testItems())
	require.NoError(t, err)

	tests := []struct {
		name       string
		cyclePosMs int64
		wantIndex  int
		wantOffset int64
	}{
		{name: "cycle start", cyclePosMs: 0, wantIndex: 0, wantOffset: 0},
		{name: "inside first item", cyclePosMs: 30_000, wantIndex: 0, wantOffset: 30_000},
		{name: "boundary belongs to next item", cyclePosMs: 60_000, wantIndex: 1, wantOffset: 0},
		{name: "last millisecond of first item", cyclePosMs: 59_999, wantIndex: 0, wantOffset: 59_999},
		{name: "inside last item", cyclePosMs: 200_000, wantIndex: 2, wantOffset: 20_000},
		{name: "last millisecond of cycle", cyclePosMs: 209_999, wantIndex: 2, wantOffset: 29_999},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index, offset := ch.ItemAt(tt.cyclePosMs)
			assert.Equal(t, tt.wantIndex, index)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}

func TestDurationString(t *testing.T) {
	assert.Equal(t, "00:01:00", Item{Duration: 60}.DurationString())
	assert.Equal(t, "01:01:05", Item{Duration: 3665}.DurationString())
}
