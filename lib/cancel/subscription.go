// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package cancel

import (
	"context"
	"sync"
)

// Handle is anything the Registry can track: it can be disposed, and
// it reports termination (by disposal or by finishing naturally)
// through Done.
type Handle interface {
	Dispose()
	Done() <-chan struct{}
}

// Subscription is a Handle for one asynchronous subscription or
// in-flight operation. It terminates exactly once: either Dispose runs
// the teardown function, or Finish marks it terminated without
// teardown. Whichever happens first wins; later calls are no-ops.
type Subscription struct {
	once     sync.Once
	done     chan struct{}
	teardown func()

	mu       sync.Mutex
	disposed bool
}

// Compile-time check: *Subscription implements Handle.
var _ Handle = (*Subscription)(nil)

// NewSubscription returns a live subscription. teardown (may be nil)
// runs on the first Dispose, on the disposing goroutine.
func NewSubscription(teardown func()) *Subscription {
	return &Subscription{
		done:     make(chan struct{}),
		teardown: teardown,
	}
}

// Dispose tears the subscription down. Idempotent, and a no-op after
// Finish.
func (s *Subscription) Dispose() {
	s.once.Do(func() {
		s.mu.Lock()
		s.disposed = true
		s.mu.Unlock()
		if s.teardown != nil {
			s.teardown()
		}
		close(s.done)
	})
}

// Finish marks the subscription as terminated without running the
// teardown. Used when the underlying work completes on its own.
func (s *Subscription) Finish() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Done is closed once the subscription has terminated.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Disposed reports whether termination came from Dispose (as opposed
// to Finish, or not terminated yet).
func (s *Subscription) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Go runs work on a new goroutine with a context derived from parent.
// Disposing the returned subscription cancels that context; the
// subscription finishes on its own when work returns. Work must honor
// ctx to stop promptly.
func Go(parent context.Context, work func(ctx context.Context)) *Subscription {
	ctx, cancelFunc := context.WithCancel(parent)
	subscription := NewSubscription(cancelFunc)
	go func() {
		defer cancelFunc()
		work(ctx)
		subscription.Finish()
	}()
	return subscription
}
