package debounce

import (
	"slices"
	"sync"
	"time"
)

// Clock schedules delayed calls. Use [RealClock] in production and
// [ManualClock] for testing.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending call scheduled by a [Clock].
type Timer interface {
	// Stop prevents the call from running. It reports whether the call was
	// stopped before it ran.
	Stop() bool
}

// RealClock schedules calls with [time.AfterFunc].
type RealClock struct{}

// AfterFunc calls f in its own goroutine after d.
func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// ManualClock is a [Clock] that only moves when [ManualClock.Advance] is
// called. Due calls run synchronously, on the goroutine calling Advance.
type ManualClock struct {
	now    time.Time
	timers []*manualTimer
	mu     sync.Mutex
}

// NewManualClock creates a [ManualClock] starting at now.
func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now}
}

// Now returns the current time of the clock.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

// AfterFunc schedules f to run once the clock has advanced by d.
func (c *ManualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := &manualTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)

	return t
}

// Advance moves the clock forward by d and runs every call that became due,
// in deadline order. Calls scheduled while advancing are not run until the
// next Advance.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()

	c.now = c.now.Add(d)

	var due, pending []*manualTimer
	for _, t := range c.timers {
		if t.at.After(c.now) {
			pending = append(pending, t)
		} else {
			due = append(due, t)
		}
	}

	c.timers = pending

	c.mu.Unlock()

	slices.SortStableFunc(due, func(a, b *manualTimer) int {
		return a.at.Compare(b.at)
	})

	for _, t := range due {
		t.f()
	}
}

// Pending returns the number of scheduled calls that have not run or been
// stopped.
func (c *ManualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.timers)
}

type manualTimer struct {
	clock *ManualClock
	f     func()
	at    time.Time
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	i := slices.Index(t.clock.timers, t)
	if i < 0 {
		return false
	}

	t.clock.timers = slices.Delete(t.clock.timers, i, i+1)

	return true
}
