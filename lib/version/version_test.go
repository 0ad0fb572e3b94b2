// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestFromBuildInfo(t *testing.T) {
	info := &debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs", Value: "git"},
		{Key: "vcs.revision", Value: "0123456789abcdef0123456789abcdef01234567"},
		{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
		{Key: "vcs.modified", Value: "true"},
	}}
	got := fromBuildInfo(info, buildStamp{commit: "unknown", time: "unknown"})
	if got.commit != "0123456" {
		t.Errorf("commit = %q, want the short SHA", got.commit)
	}
	if !got.dirty {
		t.Error("vcs.modified not applied")
	}
	if got.time != "2026-10-01T12:00:00Z" {
		t.Errorf("time = %q", got.time)
	}
}

func TestFromBuildInfoKeepsInjectedTime(t *testing.T) {
	info := &debug.BuildInfo{Settings: []debug.BuildSetting{
		{Key: "vcs.time", Value: "2026-10-01T12:00:00Z"},
	}}
	got := fromBuildInfo(info, buildStamp{commit: "unknown", time: "2026-10-02T08:00:00Z"})
	if got.time != "2026-10-02T08:00:00Z" {
		t.Errorf("time = %q, want the injected one", got.time)
	}
}

func TestFull(t *testing.T) {
	full := Full()
	if !strings.HasPrefix(full, Version+" (") {
		t.Errorf("Full() = %q", full)
	}
	if !strings.Contains(full, "Platform: ") {
		t.Errorf("Full() lacks the platform: %q", full)
	}
	if Short() != Version {
		t.Errorf("Short() = %q", Short())
	}
}
