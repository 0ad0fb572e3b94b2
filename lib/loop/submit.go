// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package loop

import (
	"context"

	"github.com/tandem-chat/tandem/lib/cancel"
)

// Submit runs work on the loop's bounded worker pool and posts
// apply(result, err) back to the loop goroutine when it finishes. The
// returned subscription cancels work's context when disposed; apply
// still runs (with whatever work returned), so callers guard stale
// results with their own generation checks.
//
// Submit never blocks: waiting for a free worker happens on the
// background goroutine. If ctx is cancelled before a worker frees up,
// work is skipped and apply receives ctx.Err().
func Submit[T any](l *Loop, ctx context.Context, work func(ctx context.Context) (T, error), apply func(T, error)) *cancel.Subscription {
	return cancel.Go(ctx, func(ctx context.Context) {
		var result T
		var err error
		select {
		case l.workers <- struct{}{}:
			result, err = work(ctx)
			<-l.workers
		case <-ctx.Done():
			err = ctx.Err()
		}
		l.Post(func() { apply(result, err) })
	})
}
