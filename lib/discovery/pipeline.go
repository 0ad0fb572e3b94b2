// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/cancel"
	"github.com/tandem-chat/tandem/lib/gateway"
	"github.com/tandem-chat/tandem/lib/loop"
	"github.com/tandem-chat/tandem/lib/reactive"
)

// Status is the pipeline's state.
type Status int

const (
	StatusIdle Status = iota
	StatusSearching
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusSearching:
		return "searching"
	default:
		return "unknown"
	}
}

// Handoff is the request passed to the follow-on action once a
// candidate is accepted. Token correlates a later result.
type Handoff struct {
	Token  string
	Local  address.Address
	Remote address.Address
}

// Outcome is the result of a handoff, reported back through
// HandleResult.
type Outcome struct {
	Accepted bool
	Err      error
}

// Launcher performs the follow-on action for an accepted candidate
// (placing a call). Launch blocks until the action has been started;
// its eventual result is reported separately via HandleResult.
type Launcher interface {
	Launch(ctx context.Context, handoff Handoff) error
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, handoff Handoff) error

// Launch calls f(ctx, handoff).
func (f LauncherFunc) Launch(ctx context.Context, handoff Handoff) error { return f(ctx, handoff) }

// Config configures a Pipeline.
type Config struct {
	Gateway  *gateway.Gateway
	Loop     *loop.Loop
	Launcher Launcher

	// Local is the account to search through. Empty means no account
	// is configured and StartDiscovery refuses to run.
	Local address.Address

	// Session, when set, supplies the local session and is shared
	// with other consumers (the roster loader). When nil the pipeline
	// builds its own from Gateway and Local. Either way a session lost
	// with its connection is reacquired by the next search.
	Session *gateway.Local

	// Feature is the capability a candidate must advertise. Empty
	// means gateway.FeatureWebRTC.
	Feature string

	Logger *slog.Logger
}

// Pipeline finds the first endpoint of a contact that advertises the
// required capability and hands it to the Launcher.
//
// Unlike login, cancelling a search is immediate: CancelDiscovery
// disposes the running search and returns to Idle without waiting for
// outstanding queries to unwind. Their results are discarded.
type Pipeline struct {
	loop     *loop.Loop
	launcher Launcher
	local    address.Address
	feature  string
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	status   *reactive.State[Status]
	notices  *reactive.Event[Notice]
	registry *cancel.Registry

	session *gateway.Local

	// Loop-owned.
	generation uint64
	current    *search
	pending    map[string]Handoff
	closed     bool
}

type search struct {
	generation   uint64
	target       address.Address
	subscription *cancel.Subscription
}

// candidate is a search result: the accepted endpoint, if any.
type candidate struct {
	remote address.Address
	found  bool
}

// New creates a Pipeline in StatusIdle.
func New(config Config) (*Pipeline, error) {
	if config.Gateway == nil && config.Session == nil {
		return nil, errors.New("discovery: Gateway or Session is required")
	}
	if config.Loop == nil {
		return nil, errors.New("discovery: Loop is required")
	}
	if config.Launcher == nil {
		return nil, errors.New("discovery: Launcher is required")
	}
	feature := config.Feature
	if feature == "" {
		feature = gateway.FeatureWebRTC
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancelFunc := context.WithCancel(context.Background())
	session := config.Session
	if session == nil {
		session = gateway.NewLocal(ctx, config.Gateway, config.Local)
	}
	return &Pipeline{
		loop:     config.Loop,
		launcher: config.Launcher,
		local:    config.Local,
		feature:  feature,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancelFunc,
		status:   reactive.NewState(StatusIdle),
		notices:  reactive.NewEvent[Notice](),
		registry: cancel.NewRegistry(),
		session:  session,
		pending:  make(map[string]Handoff),
	}, nil
}

// Status is the pipeline's state, for screens to observe.
func (p *Pipeline) Status() *reactive.State[Status] { return p.status }

// Notices emits handoffs, "no candidate" results, failures, and
// matched handoff results.
func (p *Pipeline) Notices() *reactive.Event[Notice] { return p.notices }

// StartDiscovery searches the endpoints of selected. The pipeline is
// Searching when StartDiscovery returns; the outcome arrives as a
// status change plus a Notice.
func (p *Pipeline) StartDiscovery(ctx context.Context, selected address.Address) error {
	var result error
	if err := p.loop.Call(ctx, func() { result = p.startDiscovery(selected) }); err != nil {
		return err
	}
	return result
}

func (p *Pipeline) startDiscovery(selected address.Address) error {
	switch {
	case p.closed:
		return ErrClosed
	case p.local.IsEmpty():
		return ErrNoLocalAccount
	case p.current != nil:
		return ErrBusy
	case selected.IsEmpty():
		return fmt.Errorf("discovery: empty target address")
	}

	p.generation++
	current := &search{generation: p.generation, target: selected}
	p.current = current
	session := p.session.Latch()
	p.logger.Info("discovery started", "target", selected, "generation", current.generation)
	p.status.Set(StatusSearching)

	current.subscription = loop.Submit(p.loop, p.ctx,
		func(ctx context.Context) (candidate, error) {
			return p.find(ctx, session, selected)
		},
		func(result candidate, err error) {
			p.resolve(current, result, err)
		})
	p.registry.Track(current.subscription)
	return nil
}

// find runs on a worker. It walks the device endpoints of target in
// order, querying capabilities one candidate at a time, and stops at
// the first that advertises the feature.
func (p *Pipeline) find(ctx context.Context, latch *reactive.Latch[gateway.Session], target address.Address) (candidate, error) {
	session, ok, err := latch.Wait(ctx)
	if err != nil {
		return candidate{}, err
	}
	if !ok {
		return candidate{}, &QueryFailedError{Target: target, Err: ErrSessionUnavailable}
	}

	endpoints, err := session.QueryChildEndpoints(ctx, target)
	if err != nil {
		return candidate{}, &QueryFailedError{Target: target, Err: err}
	}

	for _, endpoint := range endpoints {
		if !endpoint.IsDevice() || endpoint.Address == p.local {
			continue
		}
		if err := ctx.Err(); err != nil {
			return candidate{}, err
		}
		capabilities, err := session.QueryCapabilities(ctx, endpoint.Address)
		if err != nil {
			if ctx.Err() != nil {
				return candidate{}, ctx.Err()
			}
			p.logger.Debug("candidate rejected", "candidate", endpoint.Address, "error", err)
			continue
		}
		if capabilities.Has(p.feature) {
			return candidate{remote: endpoint.Address, found: true}, nil
		}
	}
	return candidate{}, nil
}

// resolve applies a search result on the loop.
func (p *Pipeline) resolve(current *search, result candidate, err error) {
	if p.current != current || current.generation != p.generation {
		p.logger.Debug("stale discovery result ignored", "generation", current.generation)
		return
	}
	p.current = nil
	p.generation++
	p.status.Set(StatusIdle)

	switch {
	case err != nil:
		var queryErr *QueryFailedError
		if !errors.As(err, &queryErr) {
			err = &QueryFailedError{Target: current.target, Err: err}
		}
		p.logger.Warn("discovery failed", "target", current.target, "error", err)
		p.notices.Emit(Notice{Kind: NoticeQueryFailed, Target: current.target, Err: err})

	case !result.found:
		p.logger.Info("discovery found no candidate", "target", current.target)
		p.notices.Emit(Notice{Kind: NoticeNoCandidate, Target: current.target})

	default:
		handoff := Handoff{
			Token:  uuid.NewString(),
			Local:  p.local,
			Remote: result.remote,
		}
		p.pending[handoff.Token] = handoff
		p.logger.Info("discovery accepted candidate", "remote", handoff.Remote, "token", handoff.Token)
		p.notices.Emit(Notice{Kind: NoticeHandoff, Target: current.target, Handoff: handoff})
		p.launch(handoff)
	}
}

func (p *Pipeline) launch(handoff Handoff) {
	p.registry.Track(loop.Submit(p.loop, p.ctx,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, p.launcher.Launch(ctx, handoff)
		},
		func(_ struct{}, err error) {
			if err == nil {
				return
			}
			if _, pending := p.pending[handoff.Token]; !pending {
				return
			}
			delete(p.pending, handoff.Token)
			p.logger.Warn("handoff launch failed", "remote", handoff.Remote, "error", err)
			p.notices.Emit(Notice{Kind: NoticeLaunchFailed, Target: handoff.Remote, Handoff: handoff, Err: err})
		}))
}

// CancelDiscovery dismisses the running search: its subscription is
// disposed and the pipeline is Idle when CancelDiscovery returns. No
// handoff happens for the dismissed search, even if a query already
// in flight would have accepted a candidate. A no-op when Idle.
func (p *Pipeline) CancelDiscovery(ctx context.Context) error {
	return p.loop.Call(ctx, func() {
		current := p.current
		if current == nil {
			return
		}
		p.current = nil
		p.generation++
		p.registry.Cancel(current.subscription)
		p.logger.Info("discovery dismissed", "target", current.target)
		p.status.Set(StatusIdle)
	})
}

// HandleResult matches a handoff result to the handoff that produced
// it. Returns false (and does nothing) for an unknown or already
// handled token.
func (p *Pipeline) HandleResult(ctx context.Context, token string, outcome Outcome) (bool, error) {
	var matched bool
	err := p.loop.Call(ctx, func() {
		handoff, pending := p.pending[token]
		if !pending {
			return
		}
		delete(p.pending, token)
		matched = true
		p.notices.Emit(Notice{Kind: NoticeResult, Target: handoff.Remote, Handoff: handoff, Outcome: outcome})
	})
	return matched, err
}

// Close cancels the running search and launches and completes the
// status. Idempotent.
func (p *Pipeline) Close() {
	p.loop.Call(context.Background(), func() {
		p.closed = true
		p.current = nil
		p.generation++
	})
	p.cancel()
	p.registry.CancelAll()
	p.status.Complete()
}
