// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Package sessionmgr is the session manager: tandem-sessiond and its
// client.
//
// The daemon owns one backend session per bare account address and
// serves a CBOR protocol on a Unix socket, one request per
// connection. A client first opens an attach stream; every session it
// opens is owned by that attachment. When the stream ends, for either
// side's reason, the client is detached and sessions it alone owned
// are disposed. On the client the same event closes
// [gateway.Connection.Disconnected].
//
// Disposal cancels operations in flight on the session, which then
// fail with "session disposed", and completes before the dispose
// request is answered.
//
// Two backends exist: [MemoryBackend], a directory loaded from a YAML
// or JSONC file, and [MatrixBackend], which maps accounts to Matrix
// users and publishes endpoints as state events in a directory room.
//
// The daemon also relays call signaling (offers and answers) for
// package call.
package sessionmgr
