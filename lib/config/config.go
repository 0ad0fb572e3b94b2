// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/tandem-chat/tandem/lib/address"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "TANDEM_CONFIG"

// Environment is the deployment flavour.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Session manager backends.
const (
	BackendMemory = "memory"
	BackendMatrix = "matrix"
)

// Roster cache compression settings.
const (
	CompressionNone = "none"
	CompressionLZ4  = "lz4"
	CompressionZstd = "zstd"
)

// Config is the whole of tandem's configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Account        AccountConfig        `yaml:"account"`
	SessionManager SessionManagerConfig `yaml:"session_manager"`
	Credentials    CredentialsConfig    `yaml:"credentials"`
	Discovery      DiscoveryConfig      `yaml:"discovery"`
	RosterCache    RosterCacheConfig    `yaml:"roster_cache"`
	Call           CallConfig           `yaml:"call"`
	Log            LogConfig            `yaml:"log"`

	Development *Overrides `yaml:"development,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the per-environment sections. Only non-empty
// fields override.
type Overrides struct {
	SessionManager *SessionManagerConfig `yaml:"session_manager,omitempty"`
	Credentials    *CredentialsConfig    `yaml:"credentials,omitempty"`
	RosterCache    *RosterCacheConfig    `yaml:"roster_cache,omitempty"`
	Log            *LogConfig            `yaml:"log,omitempty"`
}

// AccountConfig selects the local account and names this device.
type AccountConfig struct {
	// Address is the bare account address. Empty means the first
	// account in the credential store.
	Address string `yaml:"address"`

	// Resource is this device's resource part; the local endpoint is
	// Address/Resource.
	Resource string `yaml:"resource"`
}

// SessionManagerConfig locates tandem-sessiond and selects its backend.
type SessionManagerConfig struct {
	// SocketPath is the daemon's Unix socket.
	SocketPath string `yaml:"socket_path"`

	// Backend is "memory" or "matrix".
	Backend string `yaml:"backend"`

	// Directory is the YAML directory file for the memory backend.
	Directory string `yaml:"directory"`

	// Latency is simulated per-operation delay for the memory
	// backend, as a Go duration string.
	Latency string `yaml:"latency"`

	// Homeserver is the Matrix homeserver URL for the matrix backend.
	Homeserver string `yaml:"homeserver"`

	// DirectoryRoom is the alias of the room whose members form the
	// roster and whose state carries endpoint records.
	DirectoryRoom string `yaml:"directory_room"`
}

// CredentialsConfig locates the encrypted credential store.
type CredentialsConfig struct {
	StorePath    string `yaml:"store_path"`
	IdentityPath string `yaml:"identity_path"`
}

// DiscoveryConfig tunes the discovery pipeline.
type DiscoveryConfig struct {
	// Feature is the capability a call target must advertise.
	Feature string `yaml:"feature"`
}

// RosterCacheConfig configures the on-disk roster cache.
type RosterCacheConfig struct {
	Path        string `yaml:"path"`
	Compression string `yaml:"compression"`
}

// CallConfig configures WebRTC call setup.
type CallConfig struct {
	// ICEServers are STUN/TURN URLs.
	ICEServers []string `yaml:"ice_servers"`

	// AnswerPollInterval is how often the caller polls for an answer,
	// as a Go duration string.
	AnswerPollInterval string `yaml:"answer_poll_interval"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `yaml:"level"`
}

// Default returns the configuration every file is merged onto.
func Default() *Config {
	return &Config{
		Environment: Development,
		Account: AccountConfig{
			Resource: "tandem",
		},
		SessionManager: SessionManagerConfig{
			SocketPath: "${XDG_RUNTIME_DIR:-/tmp}/tandem/sessiond.sock",
			Backend:    BackendMemory,
			Directory:  "${HOME}/.config/tandem/directory.yaml",
		},
		Credentials: CredentialsConfig{
			StorePath:    "${HOME}/.local/share/tandem/credentials.age",
			IdentityPath: "${HOME}/.config/tandem/identity.txt",
		},
		Discovery: DiscoveryConfig{
			Feature: "urn:xmpp:webrtc:0",
		},
		RosterCache: RosterCacheConfig{
			Path:        "${HOME}/.cache/tandem/roster.cache",
			Compression: CompressionZstd,
		},
		Call: CallConfig{
			ICEServers:         []string{"stun:stun.l.google.com:19302"},
			AnswerPollInterval: "500ms",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the file named by TANDEM_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your tandem.yaml, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile reads the file at path, applies the environment overrides,
// and expands variables.
func LoadFile(path string) (*Config, error) {
	config := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := Parse(path, data, config); err != nil {
		return nil, err
	}
	config.applyOverrides()
	config.expand()
	return config, nil
}

// Parse decodes data into target, choosing JSONC or YAML by the
// extension of name.
func Parse(name string, data []byte, target any) error {
	if strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".jsonc") {
		// JSON is valid YAML once comments and trailing commas are
		// gone, so both formats share the yaml tags.
		data = jsonc.ToJSON(data)
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("config: parsing %s: %w", filepath.Base(name), err)
	}
	return nil
}

func (c *Config) applyOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		if overrides == nil {
			overrides = &Overrides{Log: &LogConfig{Level: "warn"}}
		}
	}
	if overrides == nil {
		return
	}

	if o := overrides.SessionManager; o != nil {
		override(&c.SessionManager.SocketPath, o.SocketPath)
		override(&c.SessionManager.Backend, o.Backend)
		override(&c.SessionManager.Directory, o.Directory)
		override(&c.SessionManager.Latency, o.Latency)
		override(&c.SessionManager.Homeserver, o.Homeserver)
		override(&c.SessionManager.DirectoryRoom, o.DirectoryRoom)
	}
	if o := overrides.Credentials; o != nil {
		override(&c.Credentials.StorePath, o.StorePath)
		override(&c.Credentials.IdentityPath, o.IdentityPath)
	}
	if o := overrides.RosterCache; o != nil {
		override(&c.RosterCache.Path, o.Path)
		override(&c.RosterCache.Compression, o.Compression)
	}
	if o := overrides.Log; o != nil {
		override(&c.Log.Level, o.Level)
	}
}

func override(field *string, value string) {
	if value != "" {
		*field = value
	}
}

func (c *Config) expand() {
	for _, field := range []*string{
		&c.SessionManager.SocketPath,
		&c.SessionManager.Directory,
		&c.Credentials.StorePath,
		&c.Credentials.IdentityPath,
		&c.RosterCache.Path,
	} {
		*field = expandVars(*field)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${VAR} and ${VAR:-default} from the process
// environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Account.Address != "" {
		if parsed, err := address.Parse(c.Account.Address); err != nil {
			errs = append(errs, fmt.Errorf("account.address: %w", err))
		} else if !parsed.IsBare() {
			errs = append(errs, fmt.Errorf("account.address %q must be a bare address", c.Account.Address))
		}
	}
	if _, err := address.MustParse("probe@example.org").WithResource(c.Account.Resource); err != nil {
		errs = append(errs, fmt.Errorf("account.resource: %w", err))
	}
	if c.SessionManager.SocketPath == "" {
		errs = append(errs, errors.New("session_manager.socket_path is required"))
	}
	switch c.SessionManager.Backend {
	case BackendMemory:
		if c.SessionManager.Directory == "" {
			errs = append(errs, errors.New("session_manager.directory is required for the memory backend"))
		}
	case BackendMatrix:
		if c.SessionManager.Homeserver == "" {
			errs = append(errs, errors.New("session_manager.homeserver is required for the matrix backend"))
		}
		if c.SessionManager.DirectoryRoom == "" {
			errs = append(errs, errors.New("session_manager.directory_room is required for the matrix backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("session_manager.backend must be %q or %q, got %q",
			BackendMemory, BackendMatrix, c.SessionManager.Backend))
	}
	if c.SessionManager.Latency != "" {
		if _, err := time.ParseDuration(c.SessionManager.Latency); err != nil {
			errs = append(errs, fmt.Errorf("session_manager.latency: %w", err))
		}
	}
	if c.Credentials.StorePath == "" || c.Credentials.IdentityPath == "" {
		errs = append(errs, errors.New("credentials.store_path and credentials.identity_path are required"))
	}
	if !slices.Contains([]string{CompressionNone, CompressionLZ4, CompressionZstd}, c.RosterCache.Compression) {
		errs = append(errs, fmt.Errorf("roster_cache.compression must be none, lz4 or zstd, got %q", c.RosterCache.Compression))
	}
	if _, err := time.ParseDuration(c.Call.AnswerPollInterval); err != nil {
		errs = append(errs, fmt.Errorf("call.answer_poll_interval: %w", err))
	}
	if _, err := c.LogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// LatencyDuration returns the parsed memory-backend latency (zero if
// unset).
func (c *Config) LatencyDuration() time.Duration {
	duration, _ := time.ParseDuration(c.SessionManager.Latency)
	return duration
}

// AnswerPollDuration returns the parsed answer poll interval.
func (c *Config) AnswerPollDuration() time.Duration {
	duration, err := time.ParseDuration(c.Call.AnswerPollInterval)
	if err != nil || duration <= 0 {
		return 500 * time.Millisecond
	}
	return duration
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// EnsureDirectories creates the parent directories of every
// configured file path.
func (c *Config) EnsureDirectories() error {
	for _, path := range []string{
		c.SessionManager.SocketPath,
		c.Credentials.StorePath,
		c.Credentials.IdentityPath,
		c.RosterCache.Path,
	} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return fmt.Errorf("config: creating %s: %w", filepath.Dir(path), err)
		}
	}
	return nil
}

// Endpoint returns the local endpoint for account on this device.
func (c *Config) Endpoint(account address.Address) (address.Address, error) {
	return account.WithResource(c.Account.Resource)
}
