// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrStopped is returned by Call when the loop has stopped (or stops)
// before the posted function runs.
var ErrStopped = errors.New("loop: stopped")

// DefaultWorkers is the worker pool size used when Config.Workers is
// zero.
const DefaultWorkers = 4

// Config configures a Loop.
type Config struct {
	// Workers bounds the number of background operations Submit runs
	// at once. Zero means DefaultWorkers.
	Workers int

	// Logger receives recovered panics from posted functions. Nil
	// means slog.Default().
	Logger *slog.Logger
}

// Loop is the single coordination goroutine. Functions posted to it
// run one at a time, in posting order, on the goroutine that called
// Run. Coordinators route every state mutation through a Loop so that
// their reactive state has exactly one writer.
type Loop struct {
	logger  *slog.Logger
	workers chan struct{}

	mu      sync.Mutex
	queue   []func()
	stopped bool
	signal  chan struct{}
	done    chan struct{}
	running bool
}

// New creates a Loop. Nothing runs until Run is called.
func New(config Config) *Loop {
	workers := config.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		logger:  logger,
		workers: make(chan struct{}, workers),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Run drains posted functions until ctx is cancelled. Functions still
// queued at that point are discarded and any Call waiting on them
// returns ErrStopped. Run may be called only once.
func (l *Loop) Run(ctx context.Context) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		panic("loop: Run called twice")
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	}()

	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			if ctx.Err() != nil {
				return
			}
			l.invoke(fn)
		}

		select {
		case <-ctx.Done():
			return
		case <-l.signal:
		}
	}
}

// Post queues fn for the loop goroutine. The queue is unbounded, so
// Post never blocks. Returns false if the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
	return true
}

// Call posts fn and waits for it to run. Everything fn publishes is
// visible to the caller when Call returns. Call must not be used from
// the loop goroutine itself (it would wait on itself forever); code
// already on the loop calls fn directly.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	if !l.Post(func() {
		defer close(ran)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-ran:
		return nil
	case <-l.done:
		// Run may have executed fn just before stopping.
		select {
		case <-ran:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

func (l *Loop) invoke(fn func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			l.logger.Error("loop: posted function panicked", "panic", recovered)
		}
	}()
	fn()
}
