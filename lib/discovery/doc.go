// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Package discovery finds a callable device for a contact and hands it
// off to the call launcher.
//
// A search waits for the local session, lists the contact's child
// endpoints, drops entries that name a node rather than a device, and
// then checks candidates one at a time: the local endpoint is skipped
// without a query, a failing capability query rejects only that
// candidate, and the first endpoint advertising the required feature
// wins. Nothing after it is queried.
//
// An accepted candidate becomes a [Handoff] carrying a fresh
// correlation token. The [Launcher] runs on the worker pool; its
// eventual result is matched back with [Pipeline.HandleResult].
//
// [Pipeline.CancelDiscovery] takes effect immediately. The search's
// subscription is disposed and the status is Idle on return, without
// waiting for in-flight queries. Login cancellation (package login)
// instead waits for its session disposal to complete.
package discovery
