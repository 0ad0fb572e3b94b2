// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package reactive

import (
	"sync"

	"github.com/tandem-chat/tandem/lib/cancel"
)

// State is a mutable cell that broadcasts every change to its
// observers. A new observer is called immediately with the current
// value and then once per subsequent change, in order.
//
// Set ignores values equal to the current one, so observers see each
// transition exactly once no matter how often a producer re-publishes
// the same value. Complete is terminal: the cell keeps its last value
// but accepts no further changes and releases its observers.
//
// Observers run synchronously on the goroutine that calls Set (or
// Observe, for the initial replay). A Set issued from inside an
// observer is queued and delivered after the current broadcast, so
// every observer sees the same order of values.
type State[T any] struct {
	equal func(a, b T) bool

	mu        sync.Mutex
	value     T
	observers map[uint64]func(T)
	nextID    uint64
	completed bool

	// pending holds values awaiting broadcast while a broadcast is
	// already running (re-entrant Set).
	pending    []T
	delivering bool
}

// NewState returns a State holding initial.
func NewState[T comparable](initial T) *State[T] {
	return NewStateFunc(initial, func(a, b T) bool { return a == b })
}

// NewStateFunc returns a State for a payload that is not comparable
// with ==, using equal to detect no-op updates.
func NewStateFunc[T any](initial T, equal func(a, b T) bool) *State[T] {
	return &State[T]{
		equal:     equal,
		value:     initial,
		observers: make(map[uint64]func(T)),
	}
}

// Value returns the current value.
func (s *State[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set replaces the value and broadcasts it. Returns false, without
// notifying anyone, if the state is completed or value equals the
// current value.
func (s *State[T]) Set(value T) bool {
	s.mu.Lock()
	if s.completed || s.equal(s.value, value) {
		s.mu.Unlock()
		return false
	}
	s.value = value
	s.pending = append(s.pending, value)
	if s.delivering {
		s.mu.Unlock()
		return true
	}
	s.delivering = true
	for len(s.pending) > 0 {
		next := s.pending[0]
		s.pending = s.pending[1:]
		observers := s.snapshotLocked()
		s.mu.Unlock()
		for _, observer := range observers {
			observer(next)
		}
		s.mu.Lock()
	}
	s.delivering = false
	s.mu.Unlock()
	return true
}

// Update applies mutate to a copy of the current value and sets the
// result. Convenient for struct payloads.
func (s *State[T]) Update(mutate func(*T)) bool {
	value := s.Value()
	mutate(&value)
	return s.Set(value)
}

// Observe registers fn and immediately calls it with the current
// value. Disposing the returned subscription detaches fn. Observing a
// completed state returns an already-finished subscription and never
// calls fn.
func (s *State[T]) Observe(fn func(T)) *cancel.Subscription {
	s.mu.Lock()
	if s.completed {
		s.mu.Unlock()
		subscription := cancel.NewSubscription(nil)
		subscription.Finish()
		return subscription
	}
	id := s.nextID
	s.nextID++
	s.observers[id] = fn
	current := s.value
	s.mu.Unlock()

	subscription := cancel.NewSubscription(func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	})
	fn(current)
	return subscription
}

// Changes returns a channel receiving every value from now on
// (starting with the current one), and the subscription that stops
// delivery. The channel is buffered by size; when the consumer falls
// behind, the oldest undelivered value is dropped so that the newest
// state always arrives. Suitable for UI loops that only render the
// latest state.
func (s *State[T]) Changes(size int) (<-chan T, *cancel.Subscription) {
	if size < 1 {
		size = 1
	}
	channel := make(chan T, size)
	var mu sync.Mutex
	subscription := s.Observe(func(value T) {
		mu.Lock()
		defer mu.Unlock()
		for {
			select {
			case channel <- value:
				return
			default:
			}
			select {
			case <-channel:
			default:
			}
		}
	})
	return channel, subscription
}

// Complete makes the state terminal and releases every observer.
// Idempotent.
func (s *State[T]) Complete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = true
	s.observers = make(map[uint64]func(T))
}

// Completed reports whether Complete has been called.
func (s *State[T]) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// snapshotLocked returns the observers in registration order. Caller
// holds mu.
func (s *State[T]) snapshotLocked() []func(T) {
	return orderedObservers(s.observers)
}
