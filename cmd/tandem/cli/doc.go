// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework for the tandem binary.
//
// A [Command] is a node in a tree: it either dispatches to
// subcommands by the first positional argument or runs itself after
// parsing its pflag set. Unknown subcommands and flags produce a
// "did you mean" suggestion by edit distance.
//
// Commands return categorized errors ([Validation], [NotFound],
// [Transient], [Internal]); main maps [ExitError] to a silent exit
// code and prints everything else.
package cli
