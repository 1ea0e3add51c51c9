// Package retry provides the single retry/backoff policy used by every
// network fetch in the engine. Components never implement ad-hoc retry.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes a bounded exponential backoff
type Policy struct {
	// Base is the initial delay between attempts
	Base time.Duration
	// Cap is the maximum delay between attempts
	Cap time.Duration
	// Attempts is the total number of tries, including the first
	Attempts int
}

// DefaultPolicy matches the sync service defaults: 500ms base, 2s cap, 3 attempts
func DefaultPolicy() Policy {
	return Policy{
		Base:     500 * time.Millisecond,
		Cap:      2 * time.Second,
		Attempts: 3,
	}
}

// Do runs op under the policy, stopping early when ctx is canceled.
// The last attempt's error is returned when all attempts fail.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Base
	eb.MaxInterval = p.Cap
	eb.MaxElapsedTime = 0 // bounded by attempt count, not wall time
	eb.Reset()

	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
	return backoff.Retry(func() error {
		return op(ctx)
	}, b)
}

// Permanent marks an error as non-retryable so Do returns it immediately
func Permanent(err error) error {
	return backoff.Permanent(err)
}
