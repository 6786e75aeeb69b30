// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock initialized to the given time.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// FakeClock is a deterministic Clock for tests. Time advances only when
// Advance is called. Do not call Advance from within a callback.
//
// FakeClock is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	pending []*fakeTimer
	// sequence breaks deadline ties in scheduling order.
	sequence uint64
}

type fakeTimer struct {
	deadline time.Time
	order    uint64
	callback func()
	stopped  bool
	fired    bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc schedules f to run when the clock is advanced past d. If
// d <= 0, f runs synchronously before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence++
	timer := &fakeTimer{
		deadline: c.current.Add(d),
		order:    c.sequence,
		callback: f,
	}
	c.pending = append(c.pending, timer)

	return &Timer{
		stopFunc: func() bool {
			c.mu.Lock()
			defer c.mu.Unlock()
			if timer.stopped || timer.fired {
				return false
			}
			timer.stopped = true
			return true
		},
	}
}

// Advance moves the clock forward by d and runs every callback whose
// deadline falls within the new time, in deadline order. Callbacks
// scheduled by a callback fire in the same Advance when their deadline
// is also reached.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)
	c.mu.Unlock()

	for {
		timer := c.nextExpired(target)
		if timer == nil {
			break
		}
		timer.callback()
	}

	c.mu.Lock()
	if c.current.Before(target) {
		c.current = target
	}
	c.mu.Unlock()
}

// nextExpired removes and returns the earliest live timer due at or
// before target, moving the current time to its deadline so callbacks
// observe the time they were scheduled for.
func (c *FakeClock) nextExpired(target time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.pending[:0]
	for _, timer := range c.pending {
		if !timer.stopped && !timer.fired {
			live = append(live, timer)
		}
	}
	c.pending = live

	sort.Slice(c.pending, func(i, j int) bool {
		if c.pending[i].deadline.Equal(c.pending[j].deadline) {
			return c.pending[i].order < c.pending[j].order
		}
		return c.pending[i].deadline.Before(c.pending[j].deadline)
	})

	if len(c.pending) == 0 || c.pending[0].deadline.After(target) {
		return nil
	}
	timer := c.pending[0]
	c.pending = c.pending[1:]
	timer.fired = true
	if c.current.Before(timer.deadline) {
		c.current = timer.deadline
	}
	return timer
}

// PendingCount returns the number of scheduled callbacks that have
// neither fired nor been stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, timer := range c.pending {
		if !timer.stopped && !timer.fired {
			count++
		}
	}
	return count
}
