// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/tandem-chat/tandem/cmd/tandem/cli"
	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/loop"
	"github.com/tandem-chat/tandem/lib/roster"
)

func (a *app) rosterCommand() *cli.Command {
	var cached bool
	return &cli.Command{
		Name:    "roster",
		Summary: "List the account's contacts",
		Description: `Fetch and print the roster of the local account, one address per
line. The first line is the account itself.

With --cached the last fetched roster is printed without contacting
the session manager.`,
		Flags: func() *pflag.FlagSet {
			flagSet := a.flags("roster")
			flagSet.BoolVar(&cached, "cached", false, "print the cached roster without contacting the session manager")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return cli.Validation("unexpected argument %q", args[0])
			}
			env, err := a.open(true)
			if err != nil {
				return err
			}
			defer env.Close()

			local, err := env.endpoint(ctx, a.account)
			if err != nil {
				return err
			}

			if cached {
				return a.printCachedRoster(env, local)
			}

			if _, err := env.client.Status(ctx); err != nil {
				return sessionError(err)
			}
			stack, err := env.contacts(ctx, local)
			if err != nil {
				return err
			}
			defer stack.Close()

			contacts, err := refreshRoster(ctx, env.loop, stack.loader)
			if err != nil {
				return err
			}
			for _, contact := range contacts {
				fmt.Fprintln(a.stdout, contact)
			}
			return nil
		},
	}
}

func (a *app) printCachedRoster(env *environment, local address.Address) error {
	cache, err := env.rosterCache()
	if err != nil {
		return err
	}
	entry, ok, err := cache.Load(local)
	if err != nil {
		return cli.Internal("%w", err)
	}
	if !ok {
		return cli.NotFound("no cached roster for %s", local.Bare())
	}
	fmt.Fprintln(a.stdout, local)
	for _, contact := range entry.Contacts {
		fmt.Fprintln(a.stdout, contact)
	}
	fmt.Fprintf(a.stderr, "cached %s\n", entry.SavedAt.Local().Format(time.DateTime))
	return nil
}

// refreshRoster runs one refresh and returns the published roster, or
// the loader's notice as an error.
func refreshRoster(ctx context.Context, eventLoop *loop.Loop, loader *roster.Loader) ([]address.Address, error) {
	loading, loadingSubscription := loader.Loading().Changes(4)
	defer loadingSubscription.Dispose()
	notices, noticeSubscription := loader.Notices().Channel(1)
	defer noticeSubscription.Dispose()

	// Loading is set by the time Refresh returns.
	if err := loader.Refresh(ctx); err != nil {
		return nil, err
	}
	for loader.Loading().Value() {
		select {
		case <-loading:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	// The loop publishes the roster and the notice in the same turn as
	// clearing Loading; an empty call orders us after that turn.
	if err := eventLoop.Call(ctx, func() {}); err != nil {
		return nil, err
	}
	select {
	case message := <-notices:
		return nil, cli.Transient("%s", message)
	default:
	}
	return loader.Roster().Value(), nil
}
