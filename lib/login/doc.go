// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Package login implements the sign-in coordinator behind the login
// screen and the `tandem login` command.
//
// A [Coordinator] moves between [StatusIdle] and
// [StatusAuthenticating]. StartLogin publishes Authenticating
// synchronously, then acquires the session manager connection, opens
// the account's session and authenticates on the worker pool. The
// outcome returns to Idle in one of four ways:
//
//   - success: the credential is written to the [CredentialStore], the
//     [Host] is told, and the form resets;
//   - failure: the session manager's message is shown verbatim on the
//     credential field and an [*AuthenticationFailedError] is emitted;
//   - user cancel: the session is disposed, and Idle follows only when
//     the disposal completes;
//   - connection loss: Idle at once, with [ErrConnectionLost].
//
// Each attempt carries a generation number. Completions for an
// attempt that is no longer current (cancelled, interrupted, or
// superseded by Close) are dropped, so a user cancel racing a
// disconnect yields exactly one transition back to Idle.
//
// Login cancel waits for teardown; discovery cancel (package
// discovery) does not. A login that is merely detached could still
// succeed in the session manager, while an abandoned discovery has no
// effect anyone can observe.
package login
