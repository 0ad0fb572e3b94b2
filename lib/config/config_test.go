// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefaultValidates(t *testing.T) {
	t.Setenv("HOME", "/home/test")
	config := Default()
	config.expand()
	if err := config.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if config.RosterCache.Path != "/home/test/.cache/tandem/roster.cache" {
		t.Errorf("roster cache path = %q", config.RosterCache.Path)
	}
}

func TestLoadRequiresEnvironmentVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), EnvironmentVariable) {
		t.Fatalf("Load() error = %v, want mention of %s", err, EnvironmentVariable)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "tandem.yaml", `
session_manager:
  socket_path: /run/test/sessiond.sock
  backend: matrix
  homeserver: https://matrix.example.org
  directory_room: "#tandem:example.org"
roster_cache:
  compression: lz4
`)
	t.Setenv(EnvironmentVariable, path)

	config, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if config.SessionManager.SocketPath != "/run/test/sessiond.sock" {
		t.Errorf("socket_path = %q", config.SessionManager.SocketPath)
	}
	if config.SessionManager.Backend != BackendMatrix {
		t.Errorf("backend = %q", config.SessionManager.Backend)
	}
	if config.RosterCache.Compression != CompressionLZ4 {
		t.Errorf("compression = %q", config.RosterCache.Compression)
	}
	// Unset fields keep their defaults.
	if config.Call.AnswerPollInterval != "500ms" {
		t.Errorf("answer_poll_interval = %q", config.Call.AnswerPollInterval)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadJSONC(t *testing.T) {
	path := writeConfig(t, "tandem.jsonc", `{
  // Local testing against the in-memory backend.
  "session_manager": {
    "directory": "/srv/tandem/directory.yaml",
    "latency": "25ms",
  },
  "log": {"level": "debug"},
}`)

	config, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if config.SessionManager.Directory != "/srv/tandem/directory.yaml" {
		t.Errorf("directory = %q", config.SessionManager.Directory)
	}
	if config.LatencyDuration().Milliseconds() != 25 {
		t.Errorf("latency = %v", config.LatencyDuration())
	}
	if level, err := config.LogLevel(); err != nil || level != slog.LevelDebug {
		t.Errorf("LogLevel() = %v, %v", level, err)
	}
}

func TestProductionOverrides(t *testing.T) {
	path := writeConfig(t, "tandem.yaml", `
environment: production
production:
  session_manager:
    socket_path: /run/tandem/sessiond.sock
`)
	config, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if config.SessionManager.SocketPath != "/run/tandem/sessiond.sock" {
		t.Errorf("socket_path = %q, want production override", config.SessionManager.SocketPath)
	}
	if config.SessionManager.Backend != BackendMemory {
		t.Errorf("backend = %q, want default kept", config.SessionManager.Backend)
	}
}

func TestExpandVarsDefault(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	if got := expandVars("${XDG_RUNTIME_DIR:-/tmp}/tandem"); got != "/tmp/tandem" {
		t.Errorf("expandVars = %q, want /tmp/tandem", got)
	}
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	if got := expandVars("${XDG_RUNTIME_DIR:-/tmp}/tandem"); got != "/run/user/1000/tandem" {
		t.Errorf("expandVars = %q", got)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	config := Default()
	config.SessionManager.Backend = "carrier-pigeon"
	config.RosterCache.Compression = "brotli"
	config.Log.Level = "loud"

	err := config.Validate()
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	for _, fragment := range []string{"session_manager.backend", "roster_cache.compression", "log.level"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error %q does not mention %s", err, fragment)
		}
	}
}

func TestAccountValidation(t *testing.T) {
	tests := []struct {
		name    string
		account AccountConfig
		wantErr string
	}{
		{"default", AccountConfig{Resource: "tandem"}, ""},
		{"bare address", AccountConfig{Address: "alice@example.org", Resource: "laptop"}, ""},
		{"full address", AccountConfig{Address: "alice@example.org/laptop", Resource: "laptop"}, "must be a bare address"},
		{"malformed", AccountConfig{Address: "alice@", Resource: "laptop"}, "account.address"},
		{"empty resource", AccountConfig{Resource: ""}, "account.resource"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			config := Default()
			config.Account = test.account
			err := config.Validate()
			switch {
			case test.wantErr == "" && err != nil:
				t.Errorf("Validate() = %v", err)
			case test.wantErr != "" && (err == nil || !strings.Contains(err.Error(), test.wantErr)):
				t.Errorf("Validate() = %v, want %q", err, test.wantErr)
			}
		})
	}
}
