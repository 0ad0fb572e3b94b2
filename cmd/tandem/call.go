// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/tandem-chat/tandem/cmd/tandem/cli"
	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/call"
	"github.com/tandem-chat/tandem/lib/discovery"
	"github.com/tandem-chat/tandem/lib/sessionmgr"
)

func (a *app) callCommand() *cli.Command {
	var timeout time.Duration
	return &cli.Command{
		Name:    "call",
		Summary: "Call a contact's first capable device",
		Description: `Look up the devices of a contact, pick the first one advertising the
configured call capability, and place a WebRTC call to it. The call
stays up until the other side hangs up or you press ctrl+c.`,
		Usage: "tandem call <contact> [flags]",
		Examples: []cli.Example{
			{Description: "Call Bob", Command: "tandem call bob@example.net"},
			{Description: "Give up if Bob has not answered within 20 seconds", Command: "tandem call bob@example.net --timeout 20s"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := a.flags("call")
			flagSet.DurationVar(&timeout, "timeout", 0, "give up if the call is not connected within this long (0: wait for the answer timeout)")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return cli.Validation("expected one contact address, got %d arguments", len(args))
			}
			target, err := address.Parse(args[0])
			if err != nil {
				return cli.Validation("%w", err)
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
			if _, err := env.client.Status(ctx); err != nil {
				return sessionError(err)
			}
			stack, err := env.contacts(ctx, local)
			if err != nil {
				return err
			}
			defer stack.Close()

			setupCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				setupCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return a.placeCall(ctx, setupCtx, stack, target)
		},
	}
}

// placeCall runs discovery for target and follows the handoff to its
// outcome. setupCtx bounds everything up to the outcome; ctx bounds
// the connected call.
func (a *app) placeCall(ctx, setupCtx context.Context, stack *contacts, target address.Address) error {
	notices, subscription := stack.pipeline.Notices().Channel(8)
	defer subscription.Dispose()

	if err := stack.pipeline.StartDiscovery(setupCtx, target); err != nil {
		if errors.Is(err, discovery.ErrNoLocalAccount) {
			return cli.NotFound("no account is signed in")
		}
		return cli.Internal("%w", err)
	}
	fmt.Fprintf(a.stdout, "looking for a device of %s\n", target)

	var token string
	for {
		select {
		case notice := <-notices:
			switch notice.Kind {
			case discovery.NoticeHandoff:
				token = notice.Handoff.Token
				fmt.Fprintln(a.stdout, notice.Message())
			case discovery.NoticeNoCandidate:
				return cli.NotFound("%s", notice.Message())
			case discovery.NoticeQueryFailed, discovery.NoticeLaunchFailed:
				return cli.Transient("%s", notice.Message())
			case discovery.NoticeResult:
				if notice.Handoff.Token != token {
					continue
				}
				fmt.Fprintln(a.stdout, notice.Message())
				if notice.Outcome.Err != nil {
					return &cli.ExitError{Code: 4}
				}
				if !notice.Outcome.Accepted {
					return &cli.ExitError{Code: 1}
				}
				return a.holdCall(ctx, stack.launcher, token)
			}

		case <-setupCtx.Done():
			cancelCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			stack.pipeline.CancelDiscovery(cancelCtx)
			cancel()
			if token != "" {
				stack.launcher.Hangup(token)
			}
			if ctx.Err() == nil {
				return cli.Transient("gave up calling %s", target)
			}
			return nil
		}
	}
}

// holdCall keeps a connected call up until it ends or ctx is done.
func (a *app) holdCall(ctx context.Context, launcher *call.Launcher, token string) error {
	active, ok := launcher.Active(token)
	if !ok {
		return nil
	}
	fmt.Fprintln(a.stderr, "press ctrl+c to hang up")
	select {
	case <-active.Ended():
		fmt.Fprintf(a.stdout, "%s hung up\n", active.Remote)
	case <-ctx.Done():
		launcher.Hangup(token)
		fmt.Fprintln(a.stdout, "hung up")
	}
	return nil
}

func (a *app) answerCommand() *cli.Command {
	var decline bool
	return &cli.Command{
		Name:    "answer",
		Summary: "Advertise this device and answer calls",
		Description: `Publish this device as callable and answer incoming calls until
interrupted. With --decline every call is refused, which is useful to
test the caller's side.`,
		Flags: func() *pflag.FlagSet {
			flagSet := a.flags("answer")
			flagSet.BoolVar(&decline, "decline", false, "refuse every incoming call")
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
			// Holding the session keeps the published record alive.
			if _, err := env.gateway.SessionFor(ctx, local); err != nil {
				return sessionError(err)
			}
			record := sessionmgr.EndpointRecord{Address: local, Features: []string{env.config.Discovery.Feature}}
			if err := env.client.Publish(ctx, local, record); err != nil {
				return sessionError(err)
			}

			answerer, err := call.NewAnswerer(call.AnswererConfig{
				Signaler:     env.client,
				Endpoint:     local,
				ICE:          call.ICEConfigFromURLs(env.config.Call.ICEServers),
				PollInterval: env.config.AnswerPollDuration(),
				Accept: func(offer call.Offer) bool {
					if decline {
						fmt.Fprintf(a.stdout, "declined a call from %s\n", offer.From)
						return false
					}
					return true
				},
				OnCall: func(answered *call.Call) {
					fmt.Fprintf(a.stdout, "answered a call from %s\n", answered.Remote)
				},
				Logger: env.logger,
			})
			if err != nil {
				return cli.Internal("%w", err)
			}

			fmt.Fprintf(a.stdout, "waiting for calls to %s\n", local)
			if err := answerer.Run(ctx); err != nil && ctx.Err() == nil {
				return cli.Transient("%w", err)
			}
			return nil
		},
	}
}
