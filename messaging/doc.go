// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging wraps the slice of the Matrix client-server API
// that tandem-sessiond's Matrix backend uses.
//
// [Client] is an unauthenticated client holding the homeserver URL and
// HTTP transport. [Client.Login] exchanges a password for a [Session],
// whose access token lives in a secret.Buffer until [Session.Close].
// A Session resolves room aliases, lists joined members, reads and
// writes room state, and logs out.
//
// All API errors are returned as [*MatrixError] with the standard
// Matrix error code (M_FORBIDDEN, M_NOT_FOUND, ...) and the HTTP
// status. [IsMatrixError] tests for a specific code. A request
// rejected with M_LIMIT_EXCEEDED is retried once when the server's
// retry_after_ms hint is a few seconds or less.
package messaging
