// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Tandem-sessiond is the session manager: it holds one authenticated
// session per account for every tandem process on the machine and
// relays call signaling between them.
//
// It serves a CBOR request/response protocol on the Unix socket named
// by session_manager.socket_path. The backend is either "memory",
// which serves accounts, rosters, and endpoints from a YAML directory
// file, or "matrix", which signs in to a Matrix homeserver and reads
// the roster and endpoint records from a directory room.
//
// Sessions belong to the clients that opened them. When a client's
// attach stream closes, the sessions only it held are disposed.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/tandem-chat/tandem/lib/config"
	"github.com/tandem-chat/tandem/lib/sessionmgr"
	"github.com/tandem-chat/tandem/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configPath  string
		socketPath  string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("tandem-sessiond", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "configuration file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&socketPath, "socket", "", "override session_manager.socket_path")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("tandem-sessiond %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if socketPath != "" {
		cfg.SessionManager.SocketPath = socketPath
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	level, _ := cfg.LogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	backend, err := newBackend(cfg, logger)
	if err != nil {
		return err
	}
	daemon, err := sessionmgr.NewDaemon(sessionmgr.DaemonConfig{
		SocketPath: cfg.SessionManager.SocketPath,
		Backend:    backend,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("session manager starting",
		"socket", cfg.SessionManager.SocketPath,
		"backend", backend.Name(),
		"version", version.Short(),
	)
	return daemon.Serve(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}

// newBackend builds the configured backend.
func newBackend(cfg *config.Config, logger *slog.Logger) (sessionmgr.Backend, error) {
	switch cfg.SessionManager.Backend {
	case config.BackendMemory:
		directory, err := sessionmgr.LoadDirectory(cfg.SessionManager.Directory)
		if err != nil {
			return nil, err
		}
		logger.Info("memory directory loaded",
			"path", cfg.SessionManager.Directory,
			"accounts", len(directory.Accounts),
			"latency", cfg.LatencyDuration(),
		)
		return sessionmgr.NewMemoryBackend(directory, cfg.LatencyDuration(), nil), nil
	case config.BackendMatrix:
		return sessionmgr.NewMatrixBackend(sessionmgr.MatrixConfig{
			HomeserverURL: cfg.SessionManager.Homeserver,
			DirectoryRoom: cfg.SessionManager.DirectoryRoom,
			Logger:        logger,
		})
	default:
		return nil, fmt.Errorf("unknown session manager backend %q", cfg.SessionManager.Backend)
	}
}
