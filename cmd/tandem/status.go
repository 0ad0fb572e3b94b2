// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/tandem-chat/tandem/cmd/tandem/cli"
	"github.com/tandem-chat/tandem/lib/sessionmgr"
)

func (a *app) statusCommand() *cli.Command {
	return &cli.Command{
		Name:    "status",
		Summary: "Show the session manager's state",
		Description: `Report whether tandem-sessiond is reachable, which backend it serves,
and the sessions it holds. Exits 3 when the session manager is not
running.`,
		Flags: func() *pflag.FlagSet { return a.flags("status") },
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument %q", args[0])
			}
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			client := sessionmgr.NewClient(sessionmgr.ClientConfig{
				SocketPath: cfg.SessionManager.SocketPath,
				Logger:     a.logger(cfg),
			})
			status, err := client.Status(ctx)
			if err != nil {
				fmt.Fprintf(a.stderr, "session manager not reachable at %s: %v\n", cfg.SessionManager.SocketPath, err)
				return &cli.ExitError{Code: 3}
			}

			fmt.Fprintf(a.stdout, "backend:  %s\n", status.Backend)
			fmt.Fprintf(a.stdout, "uptime:   %s\n", time.Duration(status.UptimeSeconds)*time.Second)
			fmt.Fprintf(a.stdout, "attached: %d\n", status.Attached)
			if len(status.Sessions) == 0 {
				fmt.Fprintln(a.stdout, "sessions: none")
				return nil
			}
			fmt.Fprintln(a.stdout, "sessions:")
			writer := tabwriter.NewWriter(a.stdout, 2, 0, 3, ' ', 0)
			for _, session := range status.Sessions {
				state := "unauthenticated"
				if session.Authenticated {
					state = "authenticated"
				}
				fmt.Fprintf(writer, "  %s\t%s\t%d owner(s)\n", session.Address, state, session.Owners)
			}
			return writer.Flush()
		},
	}
}
