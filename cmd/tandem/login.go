// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/tandem-chat/tandem/cmd/tandem/cli"
	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/login"
)

func (a *app) loginCommand() *cli.Command {
	var (
		passwordFile string
		update       bool
	)
	return &cli.Command{
		Name:    "login",
		Summary: "Sign in and save the credential",
		Description: `Sign in to an account through the session manager and save the
credential, encrypted, for later commands.

With --update the address is taken from --account (or the saved
account) and only the password changes.`,
		Usage: "tandem login [address] [flags]",
		Examples: []cli.Example{
			{Description: "Sign in interactively", Command: "tandem login alice@example.org"},
			{Description: "Read the password from a password manager", Command: "pass show chat | tandem login alice@example.org --password-file -"},
			{Description: "Replace the saved password", Command: "tandem login --update"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := a.flags("login")
			flagSet.StringVar(&passwordFile, "password-file", "", `read the password from a file ("-" for stdin) instead of prompting`)
			flagSet.BoolVar(&update, "update", false, "update the password of an existing account")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 1 {
				return cli.Validation("expected at most one address, got %d arguments", len(args))
			}
			addressText := a.account
			if len(args) == 1 {
				addressText = args[0]
			}

			env, err := a.open(false)
			if err != nil {
				return err
			}
			defer env.Close()

			mode := login.ModeAdd
			var preset address.Address
			if update {
				preset, err = env.account(ctx, addressText)
				if err != nil {
					return err
				}
				mode = login.ModeUpdate
			} else if addressText == "" {
				return cli.Validation("an address is required (tandem login <address>)")
			}

			password, err := cli.ReadPassword(passwordFile)
			if err != nil {
				return err
			}
			defer password.Close()

			result, err := env.login(ctx, mode, preset, addressText, password.String())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "logged in as %s\n", result.Address)
			return nil
		},
	}
}

// login runs one attempt through a login.Coordinator and waits for it
// to finish. Interrupting ctx cancels the attempt.
func (e *environment) login(ctx context.Context, mode login.Mode, preset address.Address, addressText, credential string) (login.Result, error) {
	finished := make(chan login.Result, 1)
	coordinator, err := login.New(login.Config{
		Gateway: e.gateway,
		Loop:    e.loop,
		Store:   e.store,
		Host:    login.HostFunc(func(result login.Result) { finished <- result }),
		Mode:    mode,
		Preset:  preset,
		Logger:  e.logger,
	})
	if err != nil {
		return login.Result{}, cli.Internal("%w", err)
	}
	defer coordinator.Close()

	failures, subscription := coordinator.Failures().Channel(1)
	defer subscription.Dispose()

	if err := coordinator.StartLogin(ctx, addressText, credential); err != nil {
		var invalid *login.InvalidAddressError
		if errors.As(err, &invalid) {
			return login.Result{}, cli.Validation("%q: %w", invalid.Input, invalid.Err)
		}
		return login.Result{}, cli.Validation("%w", err)
	}

	select {
	case result := <-finished:
		return result, nil
	case err := <-failures:
		switch {
		case login.IsAuthenticationFailed(err):
			return login.Result{}, cli.Validation("login failed: %w", err)
		case errors.Is(err, login.ErrSessionManagerUnavailable), errors.Is(err, login.ErrConnectionLost):
			return login.Result{}, cli.Transient("login failed: %w", err)
		default:
			return login.Result{}, cli.Internal("login failed: %w", err)
		}
	case <-ctx.Done():
		cancelCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := coordinator.CancelLogin(cancelCtx); err != nil {
			e.logger.Warn("canceling login failed", "error", err)
		}
		return login.Result{}, ctx.Err()
	}
}

func (a *app) logoutCommand() *cli.Command {
	return &cli.Command{
		Name:    "logout",
		Summary: "Forget a saved account",
		Description: `Remove the saved credential and cached roster of an account. Sessions
other tandem processes hold stay open until those processes exit.`,
		Usage: "tandem logout [address] [flags]",
		Flags: func() *pflag.FlagSet { return a.flags("logout") },
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 1 {
				return cli.Validation("expected at most one address, got %d arguments", len(args))
			}
			override := a.account
			if len(args) == 1 {
				override = args[0]
			}
			env, err := a.open(false)
			if err != nil {
				return err
			}
			defer env.Close()

			account, err := env.account(ctx, override)
			if err != nil {
				return err
			}
			if err := env.store.Remove(ctx, account); err != nil {
				return cli.Internal("%w", err)
			}
			cache, err := env.rosterCache()
			if err != nil {
				return err
			}
			if err := cache.Forget(account); err != nil {
				env.logger.Warn("forgetting cached roster failed", "account", account, "error", err)
			}
			fmt.Fprintf(a.stdout, "forgot %s\n", account)
			return nil
		},
	}
}
