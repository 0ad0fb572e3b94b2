// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/tandem-chat/tandem/cmd/tandem/cli"
	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/credstore"
	"github.com/tandem-chat/tandem/lib/login"
	"github.com/tandem-chat/tandem/lib/screen"
)

func (a *app) uiCommand() *cli.Command {
	var plain bool
	return &cli.Command{
		Name:    "ui",
		Summary: "Run the interactive login and roster screens",
		Description: `Open the roster screen for the local account, showing the login
screen first when no credential is saved. In the roster, enter calls
the selected contact, / filters, r refreshes and q quits.`,
		Flags: func() *pflag.FlagSet {
			flagSet := a.flags("ui")
			flagSet.BoolVar(&plain, "plain", false, "render without colors")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument %q", args[0])
			}
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return cli.Validation("tandem ui needs a terminal; use the roster and call commands in scripts")
			}

			// Log records go to the screen's status line; stderr would
			// tear the alternate screen.
			var handler *screen.ProgramLogHandler
			a.handlerFor = func(level slog.Level) slog.Handler {
				handler = screen.NewProgramLogHandler(level)
				return handler
			}
			env, err := a.open(true)
			if err != nil {
				return err
			}
			defer env.Close()

			renderer := screen.NewRenderer(os.Stdout, plain)
			account, signedIn, err := a.uiAccount(ctx, env, renderer, handler)
			if err != nil || !signedIn {
				return err
			}

			local, err := env.config.Endpoint(account)
			if err != nil {
				return cli.Validation("account.resource: %w", err)
			}
			stack, err := env.contacts(ctx, local)
			if err != nil {
				return err
			}
			defer stack.Close()

			model := screen.NewRosterModel(stack.loader, stack.pipeline, screen.RosterOptions{Renderer: renderer})
			defer model.Close()
			_, err = runProgram(ctx, handler, model)
			return err
		},
	}
}

// uiAccount returns the account to open the roster for, running the
// login screen when it has no saved credential. signedIn is false when
// the user quit the login screen.
func (a *app) uiAccount(ctx context.Context, env *environment, renderer *lipgloss.Renderer, handler *screen.ProgramLogHandler) (account address.Address, signedIn bool, err error) {
	mode := login.ModeAdd
	account, err = env.account(ctx, a.account)
	switch {
	case err == nil:
		credential, loadErr := env.store.Load(ctx, account)
		if loadErr == nil {
			credential.Close()
			return account, true, nil
		}
		if !errors.Is(loadErr, credstore.ErrNotFound) {
			return address.Empty, false, cli.Internal("%w", loadErr)
		}
		mode = login.ModeUpdate
	case cli.CategoryOf(err) != cli.CategoryNotFound:
		return address.Empty, false, err
	}

	finished := make(chan login.Result, 1)
	coordinator, err := login.New(login.Config{
		Gateway: env.gateway,
		Loop:    env.loop,
		Store:   env.store,
		Host:    login.HostFunc(func(result login.Result) { finished <- result }),
		Mode:    mode,
		Preset:  account,
		Logger:  env.logger,
	})
	if err != nil {
		return address.Empty, false, cli.Internal("%w", err)
	}
	defer coordinator.Close()

	title := ""
	if mode == login.ModeUpdate {
		title = "Password for " + account.String()
	}
	model := screen.NewLoginModel(coordinator, screen.LoginOptions{
		Renderer: renderer,
		Finished: finished,
		Title:    title,
	})
	defer model.Close()

	final, err := runProgram(ctx, handler, model)
	if err != nil {
		return address.Empty, false, err
	}
	finalModel, ok := final.(screen.LoginModel)
	if !ok {
		return address.Empty, false, nil
	}
	result, ok := finalModel.Result()
	if !ok {
		return address.Empty, false, nil
	}
	return result.Address.Bare(), true, nil
}

// runProgram runs model full screen with log records routed into it.
// An interrupted ctx ends the program without an error.
func runProgram(ctx context.Context, handler *screen.ProgramLogHandler, model tea.Model) (tea.Model, error) {
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	handler.SetProgram(program)
	defer handler.SetProgram(nil)

	final, err := program.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return final, nil
		}
		return final, cli.Internal("screen: %w", err)
	}
	return final, nil
}
