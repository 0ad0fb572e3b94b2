// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/tandem-chat/tandem/cmd/tandem/cli"
	"github.com/tandem-chat/tandem/lib/config"
	"github.com/tandem-chat/tandem/lib/version"
)

// app holds the flags every command shares and where output goes.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string
	account    string

	// handlerFor, when set, builds the log handler in place of the
	// command logger's.
	handlerFor func(level slog.Level) slog.Handler
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{stdout: stdout, stderr: stderr}
}

// flags returns a flag set carrying the shared flags.
func (a *app) flags(name string) *pflag.FlagSet {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flagSet.StringVar(&a.configPath, "config", "", "configuration file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&a.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	flagSet.StringVar(&a.account, "account", "", "bare account address (default: account.address, then the first saved account)")
	return flagSet
}

func (a *app) root() *cli.Command {
	return &cli.Command{
		Name: "tandem",
		Description: `Tandem: sign in through the session manager, browse the roster,
and call a contact's first WebRTC-capable device.

Every command reads the configuration file named by --config or
$` + config.EnvironmentVariable + `. Run tandem-sessiond first.`,
		Output: a.stderr,
		Subcommands: []*cli.Command{
			a.loginCommand(),
			a.logoutCommand(),
			a.rosterCommand(),
			a.callCommand(),
			a.answerCommand(),
			a.uiCommand(),
			a.statusCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(context.Context, []string) error {
					fmt.Fprintf(a.stdout, "tandem %s\n", version.Full())
					return nil
				},
			},
		},
	}
}

// loadConfig reads and validates the configuration.
func (a *app) loadConfig() (*config.Config, error) {
	var (
		loaded *config.Config
		err    error
	)
	if a.configPath != "" {
		loaded, err = config.LoadFile(a.configPath)
	} else {
		loaded, err = config.Load()
	}
	if err != nil {
		return nil, cli.Validation("%w", err)
	}
	if a.logLevel != "" {
		loaded.Log.Level = a.logLevel
	}
	if err := loaded.Validate(); err != nil {
		return nil, cli.Validation("invalid configuration:\n%w", err)
	}
	return loaded, nil
}

func (a *app) logger(cfg *config.Config) *slog.Logger {
	level, _ := cfg.LogLevel()
	if a.handlerFor != nil {
		return slog.New(a.handlerFor(level))
	}
	return cli.NewCommandLogger(level)
}
