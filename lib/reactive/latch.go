// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package reactive

import (
	"context"
	"sync"

	"github.com/tandem-chat/tandem/lib/cancel"
)

// Latch is a single-resolution asynchronous value. It resolves at most
// once, either to a value (Resolve) or to "none" (ResolveNone). Every
// observer receives that one outcome exactly once, whether it
// subscribed before or after resolution.
type Latch[T any] struct {
	mu        sync.Mutex
	resolved  bool
	value     T
	ok        bool
	observers map[uint64]func(T, bool)
	nextID    uint64
	done      chan struct{}
}

// NewLatch returns an unresolved latch.
func NewLatch[T any]() *Latch[T] {
	return &Latch[T]{
		observers: make(map[uint64]func(T, bool)),
		done:      make(chan struct{}),
	}
}

// Resolved returns a latch already resolved to value.
func Resolved[T any](value T) *Latch[T] {
	latch := NewLatch[T]()
	latch.Resolve(value)
	return latch
}

// Resolve settles the latch to value. Returns false if it was already
// settled.
func (l *Latch[T]) Resolve(value T) bool {
	return l.settle(value, true)
}

// ResolveNone settles the latch to "no value". Returns false if it was
// already settled.
func (l *Latch[T]) ResolveNone() bool {
	var zero T
	return l.settle(zero, false)
}

func (l *Latch[T]) settle(value T, ok bool) bool {
	l.mu.Lock()
	if l.resolved {
		l.mu.Unlock()
		return false
	}
	l.resolved = true
	l.value = value
	l.ok = ok
	observers := orderedObservers(l.observers)
	l.observers = nil
	close(l.done)
	l.mu.Unlock()

	for _, observer := range observers {
		observer(value, ok)
	}
	return true
}

// Observe registers fn to receive the outcome. If the latch is already
// settled, fn runs immediately on the calling goroutine; otherwise it
// runs on the goroutine that settles the latch. Disposing the
// subscription before settlement prevents the call.
func (l *Latch[T]) Observe(fn func(value T, ok bool)) *cancel.Subscription {
	l.mu.Lock()
	if l.resolved {
		value, ok := l.value, l.ok
		l.mu.Unlock()
		fn(value, ok)
		subscription := cancel.NewSubscription(nil)
		subscription.Finish()
		return subscription
	}
	id := l.nextID
	l.nextID++
	var subscription *cancel.Subscription
	subscription = cancel.NewSubscription(func() {
		l.mu.Lock()
		if l.observers != nil {
			delete(l.observers, id)
		}
		l.mu.Unlock()
	})
	l.observers[id] = func(value T, ok bool) {
		fn(value, ok)
		subscription.Finish()
	}
	l.mu.Unlock()
	return subscription
}

// Wait blocks until the latch settles or ctx is done. ok is false for
// a "none" outcome.
func (l *Latch[T]) Wait(ctx context.Context) (value T, ok bool, err error) {
	select {
	case <-l.done:
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.value, l.ok, nil
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

// Done is closed when the latch settles.
func (l *Latch[T]) Done() <-chan struct{} { return l.done }

// Result returns the outcome if settled. resolved is false while the
// latch is pending.
func (l *Latch[T]) Result() (value T, ok bool, resolved bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.ok, l.resolved
}
