// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package reactive

import (
	"slices"
	"sync"

	"github.com/tandem-chat/tandem/lib/cancel"
)

// Event broadcasts occurrences to the observers registered at the time
// of each Emit. Unlike State there is no current value and nothing is
// replayed to late observers.
type Event[T any] struct {
	mu        sync.Mutex
	observers map[uint64]func(T)
	nextID    uint64
}

// NewEvent returns an Event with no observers.
func NewEvent[T any]() *Event[T] {
	return &Event[T]{observers: make(map[uint64]func(T))}
}

// Observe registers fn for future emissions.
func (e *Event[T]) Observe(fn func(T)) *cancel.Subscription {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.observers[id] = fn
	e.mu.Unlock()

	return cancel.NewSubscription(func() {
		e.mu.Lock()
		delete(e.observers, id)
		e.mu.Unlock()
	})
}

// Emit calls every current observer with value, synchronously, in
// registration order.
func (e *Event[T]) Emit(value T) {
	e.mu.Lock()
	observers := orderedObservers(e.observers)
	e.mu.Unlock()
	for _, observer := range observers {
		observer(value)
	}
}

// Channel returns a channel receiving future emissions, buffered by
// size, and the subscription that stops delivery. Emissions that find
// the buffer full are dropped.
func (e *Event[T]) Channel(size int) (<-chan T, *cancel.Subscription) {
	channel := make(chan T, size)
	subscription := e.Observe(func(value T) {
		select {
		case channel <- value:
		default:
		}
	})
	return channel, subscription
}

// orderedObservers returns the callbacks sorted by registration id.
func orderedObservers[F any](observers map[uint64]F) []F {
	ids := make([]uint64, 0, len(observers))
	for id := range observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	ordered := make([]F, 0, len(ids))
	for _, id := range ids {
		ordered = append(ordered, observers[id])
	}
	return ordered
}
