// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Package loop provides the single coordination goroutine that owns
// every coordinator's reactive state, plus the bounded worker pool
// that runs blocking session-manager operations off that goroutine.
//
// The rule is simple: state is written only inside functions running
// on the loop. Public coordinator methods enter the loop with
// [Loop.Call]; asynchronous completions come back through [Submit],
// which posts the result to the loop rather than touching state from
// the worker.
package loop
