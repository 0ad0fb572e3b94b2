// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Package cancel bounds the lifetime of asynchronous work to its owner.
//
// [Subscription] is the unit of cancellation: a handle that terminates
// exactly once, either by [Subscription.Dispose] (which runs a teardown
// function) or by [Subscription.Finish] (the work completed on its
// own). [Go] binds a goroutine's context to a Subscription so that
// disposing the handle cancels the work.
//
// [Registry] collects handles for an owning screen. CancelAll runs at
// teardown and disposes everything still in flight; it is idempotent,
// and anything tracked afterwards is disposed on arrival.
package cancel
