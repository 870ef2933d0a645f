package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a deterministic Clock. Time stands still until Advance.
//
// AfterFunc callbacks run synchronously inside Advance, in deadline order,
// after the clock's own lock is released, so callbacks may stop or schedule
// other timers. Do not call Advance from inside a callback.
type FakeClock struct {
	mu       sync.Mutex
	current  time.Time
	waiters  []*fakeWaiter
	changed  *sync.Cond
	sequence int
}

type fakeWaiter struct {
	deadline time.Time
	seq      int
	channel  chan time.Time
	callback func()
	stopped  bool
	fired    bool
}

var _ Clock = (*FakeClock)(nil)

func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{current: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}

	c.add(&fakeWaiter{deadline: c.current.Add(d), channel: ch})
	return ch
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	w := &fakeWaiter{deadline: c.current.Add(d), callback: f}
	if d <= 0 {
		w.fired = true
		c.mu.Unlock()
		f()
		return &fakeTimer{clock: c, waiter: w}
	}
	c.add(w)
	c.mu.Unlock()

	return &fakeTimer{clock: c, waiter: w}
}

// add registers w. Caller holds c.mu.
func (c *FakeClock) add(w *fakeWaiter) {
	c.sequence++
	w.seq = c.sequence
	c.waiters = append(c.waiters, w)
	c.changed.Broadcast()
}

// Advance moves the clock forward by d, firing every waiter whose deadline
// is reached.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	now := c.current

	var due []*fakeWaiter
	live := c.waiters[:0]
	for _, w := range c.waiters {
		switch {
		case w.stopped || w.fired:
		case !w.deadline.After(now):
			w.fired = true
			due = append(due, w)
		default:
			live = append(live, w)
		}
	}
	c.waiters = live
	c.changed.Broadcast()
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].seq < due[j].seq
		}
		return due[i].deadline.Before(due[j].deadline)
	})

	for _, w := range due {
		if w.channel != nil {
			w.channel <- now
			continue
		}
		w.callback()
	}
}

// Pending returns the number of timers that have neither fired nor been
// stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) pendingLocked() int {
	n := 0
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			n++
		}
	}
	return n
}

// WaitForTimers blocks until at least n timers are pending. Use it before
// Advance when another goroutine is about to register a timer.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

type fakeTimer struct {
	clock  *FakeClock
	waiter *fakeWaiter
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.waiter.stopped || t.waiter.fired {
		return false
	}
	t.waiter.stopped = true
	t.clock.changed.Broadcast()
	return true
}
