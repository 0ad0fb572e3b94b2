// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build version of the tandem binaries.
//
// [GitCommit], [GitDirty], [BuildTime], and [Version] are injected
// with -ldflags -X:
//
//	go build -ldflags "-X github.com/tandem-chat/tandem/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// When they are not injected, the VCS settings the Go toolchain
// stamps into the binary are used instead, so a plain "go install"
// still reports its commit.
package version
