// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Set via -ldflags at build time.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty is "true" if the tree had uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version, set for releases.
	Version = "0.1.0-dev"
)

// shortCommitLength matches "git rev-parse --short".
const shortCommitLength = 7

type buildStamp struct {
	commit string
	dirty  bool
	time   string
}

var stamp = sync.OnceValue(func() buildStamp {
	result := buildStamp{commit: GitCommit, dirty: GitDirty == "true", time: BuildTime}
	if GitCommit != "unknown" {
		return result
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return result
	}
	return fromBuildInfo(info, result)
})

// fromBuildInfo fills the fields still unknown in base from the vcs.*
// settings of info.
func fromBuildInfo(info *debug.BuildInfo, base buildStamp) buildStamp {
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			base.commit = setting.Value
			if len(base.commit) > shortCommitLength {
				base.commit = base.commit[:shortCommitLength]
			}
		case "vcs.modified":
			base.dirty = setting.Value == "true"
		case "vcs.time":
			if base.time == "unknown" {
				base.time = setting.Value
			}
		}
	}
	return base
}

// Info returns the one-line version for --version output.
func Info() string {
	current := stamp()
	dirty := ""
	if current.dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, current.commit, dirty, current.time)
}

// Full returns Info plus the Go version and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns just the version number.
func Short() string {
	return Version
}

// Commit returns the git commit SHA.
func Commit() string {
	return stamp().commit
}
