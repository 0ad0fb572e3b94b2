// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// FakeClock is a Clock whose time moves only on Advance. It is safe
// for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	armed   *sync.Cond
	now     time.Time
	pending []*timer
}

// timer is a pending After or ticker. Tickers have a non-zero period
// and are re-armed after each firing.
type timer struct {
	due     time.Time
	period  time.Duration
	channel chan time.Time
	stopped bool
}

// Fake returns a FakeClock reading start.
func Fake(start time.Time) *FakeClock {
	c := &FakeClock{now: start}
	c.armed = sync.NewCond(&c.mu)
	return c
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After arms a one-shot timer.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.arm(&timer{due: c.now.Add(d), channel: channel})
	return channel
}

// NewTicker arms a periodic timer.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker period")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &timer{due: c.now.Add(d), period: d, channel: make(chan time.Time, 1)}
	c.arm(t)
	return &Ticker{
		C: t.channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			t.stopped = true
			c.pending = slices.DeleteFunc(c.pending, func(p *timer) bool { return p == t })
		},
	}
}

// arm registers t. Caller holds mu.
func (c *FakeClock) arm(t *timer) {
	c.pending = append(c.pending, t)
	c.armed.Broadcast()
}

// Advance moves time forward by d and fires, in due order, every timer
// that comes due. A ticker whose period fits several times into d
// fires once per period; ticks that find its channel full are dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	target := c.now.Add(d)
	for {
		next := c.earliest()
		if next == nil || next.due.After(target) {
			break
		}
		c.now = next.due
		select {
		case next.channel <- next.due:
		default:
		}
		if next.period > 0 {
			next.due = next.due.Add(next.period)
		} else {
			c.pending = slices.DeleteFunc(c.pending, func(p *timer) bool { return p == next })
		}
	}
	c.now = target
}

// earliest returns the pending timer due first, or nil. Caller holds
// mu.
func (c *FakeClock) earliest() *timer {
	var first *timer
	for _, t := range c.pending {
		if first == nil || t.due.Before(first.due) {
			first = t
		}
	}
	return first
}

// WaitForTimers blocks until at least n timers are pending. Use it to
// make sure the code under test has armed its timer before Advance.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.armed.Wait()
	}
}

// Pending returns the number of armed timers.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
