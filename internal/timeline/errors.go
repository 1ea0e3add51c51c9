package timeline

import "errors"

// ErrEmptyPlaylist is returned when a channel has no playlist items.
// The loader rejects such channels, so this is defensive.
var ErrEmptyPlaylist = errors.New("channel playlist is empty")
