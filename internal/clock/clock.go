// Package clock abstracts time so the deferred command completion and the
// periodic task polling can be driven deterministically in tests.
package clock

import "time"

// Clock is the time source used by the services.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine (real) or synchronously while
	// advancing (fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) *Timer
	// NewTicker returns a ticker that delivers ticks every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a scheduled call.
type Timer struct {
	stop func() bool
}

// Stop prevents the timer from firing, returns false if it already fired or was stopped.
func (t *Timer) Stop() bool { return t.stop() }

// Ticker delivers periodic ticks on C, dropping ticks if the consumer falls behind.
type Ticker struct {
	C    <-chan time.Time
	stop func()
}

// Stop turns off the ticker, C is not closed.
func (t *Ticker) Stop() { t.stop() }

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}

func (realClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}
