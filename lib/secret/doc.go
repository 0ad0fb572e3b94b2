// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds credentials in memory the Go runtime never
// sees.
//
// A [Buffer] is an anonymous mmap region, mlocked so it cannot be
// swapped out and marked MADV_DONTDUMP so it stays out of core dumps.
// Close zeroes and unmaps it. The login coordinator keeps a typed
// password in a Buffer from the moment it leaves the form until the
// credential store has written it.
package secret
