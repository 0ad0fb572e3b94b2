// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tandem-chat/tandem/cmd/tandem/cli"
	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/call"
	"github.com/tandem-chat/tandem/lib/config"
	"github.com/tandem-chat/tandem/lib/credstore"
	"github.com/tandem-chat/tandem/lib/discovery"
	"github.com/tandem-chat/tandem/lib/gateway"
	"github.com/tandem-chat/tandem/lib/loop"
	"github.com/tandem-chat/tandem/lib/roster"
	"github.com/tandem-chat/tandem/lib/rostercache"
	"github.com/tandem-chat/tandem/lib/sessionmgr"
)

// shutdownTimeout bounds cleanup after a command is interrupted.
const shutdownTimeout = 5 * time.Second

// environment is what a command runs against: the configuration, the
// credential store, the session manager client with its gateway, and
// the event loop the coordinators share.
type environment struct {
	config  *config.Config
	logger  *slog.Logger
	store   *credstore.Store
	client  *sessionmgr.Client
	gateway *gateway.Gateway
	loop    *loop.Loop

	stopLoop context.CancelFunc
}

// open builds the environment. With restore set, sessions that open
// unauthenticated are logged in from the credential store.
func (a *app) open(restore bool) (*environment, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, cli.Internal("%w", err)
	}
	logger := a.logger(cfg)

	store, err := credstore.Open(credstore.Config{
		StorePath:    cfg.Credentials.StorePath,
		IdentityPath: cfg.Credentials.IdentityPath,
		Logger:       logger,
	})
	if err != nil {
		return nil, cli.Internal("opening credential store: %w", err)
	}

	clientConfig := sessionmgr.ClientConfig{SocketPath: cfg.SessionManager.SocketPath, Logger: logger}
	if restore {
		clientConfig.Credentials = store
	}
	client := sessionmgr.NewClient(clientConfig)

	eventLoop := loop.New(loop.Config{Logger: logger})
	loopCtx, stopLoop := context.WithCancel(context.Background())
	go eventLoop.Run(loopCtx)

	return &environment{
		config:   cfg,
		logger:   logger,
		store:    store,
		client:   client,
		gateway:  gateway.New(gateway.Config{Connector: client, Logger: logger}),
		loop:     eventLoop,
		stopLoop: stopLoop,
	}, nil
}

// Close drops the session manager connection and stops the loop.
func (e *environment) Close() {
	e.gateway.Close()
	e.stopLoop()
	<-e.loop.Done()
	e.store.Close()
}

// account resolves the bare account to act as: override, then
// account.address, then the first saved account.
func (e *environment) account(ctx context.Context, override string) (address.Address, error) {
	text := override
	if text == "" {
		text = e.config.Account.Address
	}
	if text != "" {
		parsed, err := address.Parse(text)
		if err != nil {
			return address.Empty, cli.Validation("%w", err)
		}
		return parsed.Bare(), nil
	}
	saved, err := e.store.Addresses(ctx)
	if err != nil {
		return address.Empty, cli.Internal("reading credential store: %w", err)
	}
	if len(saved) == 0 {
		return address.Empty, cli.NotFound("no saved account; run 'tandem login <address>' first")
	}
	return saved[0], nil
}

// endpoint is account's address on this device.
func (e *environment) endpoint(ctx context.Context, override string) (address.Address, error) {
	account, err := e.account(ctx, override)
	if err != nil {
		return address.Empty, err
	}
	endpoint, err := e.config.Endpoint(account)
	if err != nil {
		return address.Empty, cli.Validation("account.resource: %w", err)
	}
	return endpoint, nil
}

func (e *environment) rosterCache() (*rostercache.Cache, error) {
	cache, err := rostercache.New(rostercache.Config{
		Path:        e.config.RosterCache.Path,
		Compression: e.config.RosterCache.Compression,
		Logger:      e.logger,
	})
	if err != nil {
		return nil, cli.Internal("%w", err)
	}
	return cache, nil
}

// contacts is the roster loader and the discovery pipeline for one
// local endpoint, sharing its session, with calls placed through the
// session manager's signaling relay.
type contacts struct {
	local    address.Address
	session  *gateway.Local
	loader   *roster.Loader
	launcher *call.Launcher
	pipeline *discovery.Pipeline
}

func (e *environment) contacts(ctx context.Context, local address.Address) (*contacts, error) {
	cache, err := e.rosterCache()
	if err != nil {
		return nil, err
	}
	session := gateway.NewLocal(ctx, e.gateway, local)

	loader, err := roster.New(roster.Config{
		Loop:    e.loop,
		Session: session,
		Local:   local,
		Cache:   cache,
		Logger:  e.logger,
	})
	if err != nil {
		return nil, cli.Internal("%w", err)
	}

	// The launcher reports outcomes back into the pipeline, which is
	// created after it.
	var pipeline *discovery.Pipeline
	launcher, err := call.NewLauncher(call.LauncherConfig{
		Signaler:     e.client,
		ICE:          call.ICEConfigFromURLs(e.config.Call.ICEServers),
		PollInterval: e.config.AnswerPollDuration(),
		Results: func(token string, outcome discovery.Outcome) {
			if _, err := pipeline.HandleResult(context.Background(), token, outcome); err != nil {
				e.logger.Debug("call outcome not delivered", "token", token, "error", err)
			}
		},
		Logger: e.logger,
	})
	if err != nil {
		loader.Close()
		return nil, cli.Internal("%w", err)
	}

	pipeline, err = discovery.New(discovery.Config{
		Gateway:  e.gateway,
		Loop:     e.loop,
		Launcher: launcher,
		Local:    local,
		Session:  session,
		Feature:  e.config.Discovery.Feature,
		Logger:   e.logger,
	})
	if err != nil {
		launcher.Close()
		loader.Close()
		return nil, cli.Internal("%w", err)
	}
	return &contacts{local: local, session: session, loader: loader, launcher: launcher, pipeline: pipeline}, nil
}

func (c *contacts) Close() {
	c.pipeline.Close()
	c.launcher.Close()
	c.loader.Close()
}

// sessionError maps a session manager failure to a CLI error.
func sessionError(err error) error {
	var serviceError *sessionmgr.ServiceError
	switch {
	case errors.As(err, &serviceError):
		return cli.Validation("%s", serviceError.DisplayMessage())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return cli.Transient("session manager unavailable: %w", err)
	}
}
