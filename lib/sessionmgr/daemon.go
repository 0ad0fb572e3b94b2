// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package sessionmgr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/tandem-chat/tandem/lib/call"
	"github.com/tandem-chat/tandem/lib/clock"
	"github.com/tandem-chat/tandem/lib/secret"
)

// detachTimeout bounds the disposals triggered by a client leaving.
const detachTimeout = 30 * time.Second

// DaemonConfig configures a Daemon.
type DaemonConfig struct {
	SocketPath string
	Backend    Backend

	// Clock drives uptime reporting. Nil means clock.Real().
	Clock  clock.Clock
	Logger *slog.Logger
}

// Daemon is tandem-sessiond: a Manager and a call signaling relay
// served on a Unix socket.
type Daemon struct {
	server   *Server
	manager  *Manager
	signaler *call.MemorySignaler
	backend  Backend
	clock    clock.Clock
	logger   *slog.Logger
	started  time.Time
}

// NewDaemon creates a daemon and registers its actions.
func NewDaemon(config DaemonConfig) (*Daemon, error) {
	if config.SocketPath == "" {
		return nil, errors.New("sessionmgr: SocketPath is required")
	}
	if config.Backend == nil {
		return nil, errors.New("sessionmgr: Backend is required")
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Daemon{
		server:   NewServer(config.SocketPath, logger),
		manager:  NewManager(config.Backend, logger),
		signaler: call.NewMemorySignaler(),
		backend:  config.Backend,
		clock:    clk,
		logger:   logger,
	}

	d.server.HandleStream(ActionAttach, d.handleAttach)
	d.server.Handle(ActionOpen, d.handleOpen)
	d.server.Handle(ActionLogin, d.handleLogin)
	d.server.Handle(ActionDispose, d.handleDispose)
	d.server.Handle(ActionRoster, d.handleRoster)
	d.server.Handle(ActionItems, d.handleItems)
	d.server.Handle(ActionInfo, d.handleInfo)
	d.server.Handle(ActionPublish, d.handlePublish)
	d.server.Handle(ActionStatus, d.handleStatus)
	d.server.Handle(ActionSignalOffer, d.handleOffer)
	d.server.Handle(ActionSignalAnswer, d.handleAnswer)
	d.server.Handle(ActionSignalPollOffers, d.handlePollOffers)
	d.server.Handle(ActionSignalPollAnswer, d.handlePollAnswer)
	return d, nil
}

// Manager returns the daemon's session manager.
func (d *Daemon) Manager() *Manager { return d.manager }

// Serve runs until ctx is cancelled. Every session is disposed before
// Serve returns.
func (d *Daemon) Serve(ctx context.Context) error {
	d.started = d.clock.Now()
	err := d.server.Serve(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), detachTimeout)
	defer cancel()
	d.manager.Close(closeCtx)
	d.logger.Info("session manager stopped")
	return err
}

func (d *Daemon) handleAttach(ctx context.Context, _ []byte) (any, func(context.Context, net.Conn), error) {
	client := d.manager.Attach()
	hold := func(ctx context.Context, conn net.Conn) {
		stop := context.AfterFunc(ctx, func() { conn.Close() })
		defer stop()

		// The client never writes after the request; EOF (or any
		// read error) means it has gone.
		io.Copy(io.Discard, conn)

		detachCtx, cancel := context.WithTimeout(context.Background(), detachTimeout)
		defer cancel()
		d.manager.Detach(detachCtx, client)
	}
	return AttachResponse{Client: client, Backend: d.backend.Name()}, hold, nil
}

func (d *Daemon) handleOpen(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[sessionRequest](raw)
	if err != nil {
		return nil, err
	}
	authenticated, err := d.manager.Open(ctx, request.Client, request.Address)
	if err != nil {
		return nil, err
	}
	return OpenResponse{Authenticated: authenticated}, nil
}

func (d *Daemon) handleLogin(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[loginRequest](raw)
	if err != nil {
		return nil, err
	}
	defer secret.Zero(request.Credential)
	if len(request.Credential) == 0 {
		return nil, &AuthError{Message: "credential required"}
	}
	return nil, d.manager.Do(ctx, request.Address, func(ctx context.Context, session BackendSession) error {
		return session.Login(ctx, request.Credential)
	})
}

func (d *Daemon) handleDispose(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[sessionRequest](raw)
	if err != nil {
		return nil, err
	}
	return nil, d.manager.Dispose(ctx, request.Address)
}

func (d *Daemon) handleRoster(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[sessionRequest](raw)
	if err != nil {
		return nil, err
	}
	var response RosterResponse
	err = d.manager.Do(ctx, request.Address, func(ctx context.Context, session BackendSession) error {
		response.Contacts, err = session.Roster(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

func (d *Daemon) handleItems(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[targetRequest](raw)
	if err != nil {
		return nil, err
	}
	var response ItemsResponse
	err = d.manager.Do(ctx, request.Address, func(ctx context.Context, session BackendSession) error {
		response.Endpoints, err = session.Endpoints(ctx, request.Target)
		return err
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

func (d *Daemon) handleInfo(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[targetRequest](raw)
	if err != nil {
		return nil, err
	}
	var response InfoResponse
	err = d.manager.Do(ctx, request.Address, func(ctx context.Context, session BackendSession) error {
		response.Features, err = session.Capabilities(ctx, request.Target)
		return err
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}

func (d *Daemon) handlePublish(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[publishRequest](raw)
	if err != nil {
		return nil, err
	}
	return nil, d.manager.Do(ctx, request.Address, func(ctx context.Context, session BackendSession) error {
		return session.Publish(ctx, request.Record)
	})
}

func (d *Daemon) handleStatus(context.Context, []byte) (any, error) {
	return StatusResponse{
		Backend:       d.backend.Name(),
		UptimeSeconds: int64(d.clock.Now().Sub(d.started).Seconds()),
		Attached:      d.manager.Attachments(),
		Sessions:      d.manager.Status(),
	}, nil
}

func (d *Daemon) handleOffer(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[offerRequest](raw)
	if err != nil {
		return nil, err
	}
	return nil, d.signaler.PublishOffer(ctx, request.Offer)
}

func (d *Daemon) handleAnswer(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[answerRequest](raw)
	if err != nil {
		return nil, err
	}
	return nil, d.signaler.PublishAnswer(ctx, request.Answer)
}

func (d *Daemon) handlePollOffers(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[pollOffersRequest](raw)
	if err != nil {
		return nil, err
	}
	offers, err := d.signaler.PollOffers(ctx, request.Endpoint)
	if err != nil {
		return nil, err
	}
	return PollOffersResponse{Offers: offers}, nil
}

func (d *Daemon) handlePollAnswer(ctx context.Context, raw []byte) (any, error) {
	request, err := decode[pollAnswerRequest](raw)
	if err != nil {
		return nil, err
	}
	answer, found, err := d.signaler.PollAnswer(ctx, request.Token)
	if err != nil {
		return nil, err
	}
	return PollAnswerResponse{Found: found, Answer: answer}, nil
}
