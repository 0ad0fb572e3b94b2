// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock is the subset of the time package that tandem's timing code
// uses.
type Clock interface {
	Now() time.Time

	// After delivers the time once d has elapsed. A non-positive d
	// delivers immediately.
	After(d time.Duration) <-chan time.Time

	// NewTicker ticks every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Ticker delivers periodic ticks on C, a channel of capacity 1. Ticks
// that find C full are dropped.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop ends the ticks. C is not closed.
func (t *Ticker) Stop() { t.stop() }

// Real returns the wall clock.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTicker(d time.Duration) *Ticker {
	ticker := time.NewTicker(d)
	return &Ticker{C: ticker.C, stop: ticker.Stop}
}
