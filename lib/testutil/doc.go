// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for tandem packages.
//
// [RequireReceive], [RequireSend], [RequireClosed], and
// [RequireNoReceive] encapsulate the timeout safety valve pattern
// (select with a time.After fallback) so that individual tests never
// call time.After or time.Sleep themselves. These are the only place in
// the test suite where real wall-clock timeouts are used.
//
// [SocketDir] creates a short temporary directory for Unix domain
// sockets, whose paths are limited to 108 bytes.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
