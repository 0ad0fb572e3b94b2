// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Tandem is the client command line: it signs in to an account
// through tandem-sessiond, lists the roster, and calls a contact's
// first WebRTC-capable device.
//
// Every command reads the configuration named by --config or
// TANDEM_CONFIG. "tandem ui" runs the interactive login and roster
// screens; the other commands are scriptable equivalents.
package main
