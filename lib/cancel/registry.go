// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package cancel

import "sync"

// Registry collects handles to in-flight subscriptions so that the
// owner (typically a screen) can tear them all down at once when it
// goes away, or dispose one on demand.
//
// Terminated handles are pruned lazily on Track, Cancel, and Len, so
// the registry does not grow with the number of completed operations.
type Registry struct {
	mu      sync.Mutex
	handles map[Handle]struct{}
	closed  bool
}

// NewRegistry returns an empty, open registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[Handle]struct{})}
}

// Track registers handle, which must be comparable (typically a
// pointer). If the registry has already been canceled,
// the handle is disposed immediately instead: nothing registered after
// teardown may outlive the owner.
func (r *Registry) Track(handle Handle) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		handle.Dispose()
		return
	}
	r.pruneLocked()
	r.handles[handle] = struct{}{}
	r.mu.Unlock()
}

// Cancel disposes one tracked handle and forgets it. Disposing a handle
// the registry does not know is still performed.
func (r *Registry) Cancel(handle Handle) {
	r.mu.Lock()
	delete(r.handles, handle)
	r.pruneLocked()
	r.mu.Unlock()
	handle.Dispose()
}

// CancelAll disposes every tracked handle exactly once and closes the
// registry. Safe to call any number of times.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[Handle]struct{})
	r.closed = true
	r.mu.Unlock()

	for handle := range handles {
		handle.Dispose()
	}
}

// Len returns the number of live handles, after pruning terminated ones.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked()
	return len(r.handles)
}

// Closed reports whether CancelAll has been called.
func (r *Registry) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Registry) pruneLocked() {
	for handle := range r.handles {
		select {
		case <-handle.Done():
			delete(r.handles, handle)
		default:
		}
	}
}
