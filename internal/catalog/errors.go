package catalog

import (
	"errors"
	"fmt"
)

// LoadErrorKind classifies why a catalog load failed
type LoadErrorKind int

const (
	// LoadErrorNetwork indicates the snapshot could not be fetched
	LoadErrorNetwork LoadErrorKind = iota
	// LoadErrorParse indicates the snapshot could not be decoded
	LoadErrorParse
	// LoadErrorEmpty indicates the snapshot contained no usable channels
	LoadErrorEmpty
)

// String returns the string representation of LoadErrorKind
func (k LoadErrorKind) String() string {
	switch k {
	case LoadErrorNetwork:
		return "network"
	case LoadErrorParse:
		return "parse"
	case LoadErrorEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// LoadError is a classified catalog load failure. Callers show a degraded
// state on it; a failed load never yields a partial catalog.
type LoadError struct {
	Kind  LoadErrorKind
	Cause error
}

// Error implements the error interface
func (e *LoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("catalog load failed (%s): %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("catalog load failed (%s)", e.Kind)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *LoadError) Unwrap() error {
	return e.Cause
}

// ErrChannelNotFound is returned when no channel matches the given id or name
var ErrChannelNotFound = errors.New("channel not found")

// ErrNotLoaded is returned when the catalog has not been loaded yet
var ErrNotLoaded = errors.New("catalog not loaded")
