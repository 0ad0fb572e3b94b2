// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Package reactive provides observable state cells for coordinators
// and the screens that render them.
//
// Three shapes cover every use:
//
//   - [State]: a current value plus change broadcast. Observers get the
//     current value on subscription, then each distinct change. A
//     completed State accepts no further changes.
//   - [Latch]: a single eventual resolution (a value or "none"),
//     replayed identically to observers that arrive before or after it
//     settles. Used for "the session, once the gateway is ready".
//   - [Event]: fire-and-forget occurrences with no replay, such as a
//     dropped connection or a notice for the user.
//
// All observation returns a [cancel.Subscription], so subscriptions
// can be tracked in a [cancel.Registry] and torn down with their
// owner.
package reactive
