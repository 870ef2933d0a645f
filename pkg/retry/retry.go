// Package retry holds the delay strategies used when joining a room before
// the transport is ready and when reconnecting a dropped transport, plus a
// clock-driven loop that applies them.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/codesynq/collab.go/pkg/clock"
)

// Retryer decides how long to wait before the next attempt.
type Retryer interface {
	// NextDelay returns the delay before retry number attempt (0-based) and
	// whether another attempt should be made at all.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)

	// Reset is called after a successful attempt.
	Reset()
}

// ExponentialBackoff grows the delay by Multiplier each attempt, capped at
// MaxDelay, with optional symmetric jitter.
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64

	// MaxRetries of 0 retries forever.
	MaxRetries int

	// JitterFactor in [0, 1] spreads each delay by up to that fraction in
	// either direction. 0 disables jitter.
	JitterFactor float64
}

func NewExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}
}

func (r *ExponentialBackoff) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}

	delay := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}

	if r.JitterFactor > 0 {
		//nolint:gosec // jitter is not security-critical
		delay += delay * r.JitterFactor * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}

	return time.Duration(delay), true
}

func (r *ExponentialBackoff) Reset() {}

// FixedDelay waits the same Delay before every attempt.
type FixedDelay struct {
	Delay time.Duration

	// MaxRetries of 0 retries forever.
	MaxRetries int
}

func NewFixedDelay(delay time.Duration, maxRetries int) *FixedDelay {
	return &FixedDelay{Delay: delay, MaxRetries: maxRetries}
}

func (r *FixedDelay) NextDelay(attempt int, _ error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

func (r *FixedDelay) Reset() {}

// ErrExhausted is returned by Do when the Retryer gives up. It wraps the last
// attempt's error.
var ErrExhausted = errors.New("retries exhausted")

type permanentError struct{ err error }

func (p permanentError) Error() string { return p.err.Error() }
func (p permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. Do returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, ctx is done or
// r stops retrying. Waits use c, so a fake clock drives the loop in tests.
func Do(ctx context.Context, c clock.Clock, r Retryer, fn func(ctx context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			r.Reset()
			return nil
		}

		var perm permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		delay, ok := r.NextDelay(attempt, err)
		if !ok {
			return errors.Join(ErrExhausted, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.After(delay):
		}
	}
}
