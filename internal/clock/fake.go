package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance is called.
// AfterFunc callbacks run synchronously inside Advance, in deadline order.
type FakeClock struct {
	mu      sync.Mutex
	changed *sync.Cond
	now     time.Time
	waiters []*waiter
}

type waiter struct {
	deadline time.Time
	interval time.Duration
	callback func()
	ch       chan time.Time
	stopped  bool
}

// NewFake returns a FakeClock set at the initial time.
func NewFake(initial time.Time) *FakeClock {
	c := &FakeClock{now: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers f to be called when the clock advances past d.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	w := &waiter{callback: f}
	c.add(w, d)
	return &Timer{stop: func() bool { return c.stopWaiter(w) }}
}

// NewTicker registers a periodic waiter.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	ch := make(chan time.Time, 1)
	w := &waiter{ch: ch, interval: d}
	c.add(w, d)
	return &Ticker{C: ch, stop: func() { c.stopWaiter(w) }}
}

func (c *FakeClock) add(w *waiter, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w.deadline = c.now.Add(d)
	c.waiters = append(c.waiters, w)
	c.changed.Broadcast()
}

func (c *FakeClock) stopWaiter(w *waiter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, pending := range c.waiters {
		if pending == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			w.stopped = true
			c.changed.Broadcast()
			return true
		}
	}
	return false
}

// Advance moves the clock forward and fires every expired waiter. Callbacks must
// not call Advance.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		expired := c.collectExpired(target)
		if len(expired) == 0 {
			return
		}

		for _, w := range expired {
			if w.callback != nil {
				w.callback()
				continue
			}
			select {
			case w.ch <- target:
			default:
			}
		}
	}
}

func (c *FakeClock) collectExpired(target time.Time) []*waiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired, remaining []*waiter
	for _, w := range c.waiters {
		if w.deadline.After(target) {
			remaining = append(remaining, w)
			continue
		}
		expired = append(expired, w)
		if w.interval > 0 {
			w.deadline = w.deadline.Add(w.interval)
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	if len(expired) > 0 {
		c.changed.Broadcast()
	}

	sort.SliceStable(expired, func(i, j int) bool { return expired[i].deadline.Before(expired[j].deadline) })
	return expired
}

// WaitForTimers blocks until at least n waiters are pending. Use it to avoid
// racing a goroutine that still hasn't registered its timer.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.waiters) < n {
		c.changed.Wait()
	}
}

// Pending returns the number of registered waiters.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
