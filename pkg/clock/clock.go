// Package clock provides the time source for every timer in the module:
// echo suppression, cursor expiry, join retries, resync and reconnection.
//
// Production code uses Real(). Tests use Fake() and move time explicitly
// with Advance, so expiry and retry behavior is asserted without sleeping.
package clock

import "time"

type Clock interface {
	Now() time.Time

	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f once d has elapsed. With the real clock f runs on
	// its own goroutine; with the fake clock it runs inside Advance.
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	// Stop prevents the timer from firing. It reports whether the call
	// stopped the timer, false if it already fired or was stopped.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
