// Package clock abstracts wall time so expiry, wait windows and idle
// locking can be driven deterministically in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Clock is the time source injected into every component that compares
// against deadlines.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine (real) or synchronously
	// during Advance (fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer cancels a pending AfterFunc.
type Timer interface {
	Stop() bool
}

// Real returns the system clock.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// FakeClock only moves when Advance or Set is called. Safe for
// concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeTimer
}

// Fake returns a FakeClock starting at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	fn       func()
	done     bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc registers f to run when the clock passes now+d. A
// non-positive d runs f before returning.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	t := &fakeTimer{clock: c, deadline: c.current.Add(d), fn: f}
	if d <= 0 {
		t.done = true
		c.mu.Unlock()
		f()
		return t
	}
	c.waiters = append(c.waiters, t)
	c.mu.Unlock()
	return t
}

// Advance moves the clock forward by d and fires due timers in deadline
// order. Callbacks run without the clock's lock held.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
	c.fire()
}

// Set jumps the clock to t. Moving backwards never fires timers.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
	c.fire()
}

// Pending reports the number of timers that have not fired or stopped.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, w := range c.waiters {
		if !w.done {
			n++
		}
	}
	return n
}

func (c *FakeClock) fire() {
	c.mu.Lock()
	now := c.current
	var due []*fakeTimer
	kept := c.waiters[:0]
	for _, w := range c.waiters {
		switch {
		case w.done:
		case !w.deadline.After(now):
			w.done = true
			due = append(due, w)
		default:
			kept = append(kept, w)
		}
	}
	c.waiters = kept
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	for _, w := range due {
		w.fn()
	}
}
