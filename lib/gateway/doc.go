// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway mediates access to the backing session manager.
//
// A [Gateway] owns one [Connection], acquired lazily through a
// [Connector], and the per-address [SessionHandle] table built on top
// of it. Coordinators never talk to a Connection directly: they ask
// for a connection latch ([Gateway.AcquireConnection]), a session
// ([Gateway.SessionFor], [LocalSession]), or a disposal
// ([SessionHandle.Dispose]), and observe the results. Consumers that
// outlive a connection hold a [Local], which reacquires the local
// account's session after the old one is lost.
//
// Disposal is the cancellation primitive for session-manager work.
// Disposing a session makes the session manager abort whatever is in
// flight on it, so a login is cancelled by disposing its session and
// is known to be cancelled only once the disposal has completed.
//
// The Fake* types implement the contracts in memory, with gates for
// holding operations open and counters for asserting which queries
// were made.
package gateway
