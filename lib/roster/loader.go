// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Package roster loads the local account's contact list for the
// roster screen.
//
// The published list always starts with the local address itself,
// followed by the contacts in the order the session manager returned
// them. When a cache is configured, the last retrieved roster is
// published immediately and every successful refresh is saved.
package roster

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/cancel"
	"github.com/tandem-chat/tandem/lib/gateway"
	"github.com/tandem-chat/tandem/lib/loop"
	"github.com/tandem-chat/tandem/lib/reactive"
	"github.com/tandem-chat/tandem/lib/rostercache"
)

// FailureMessage is the notice emitted when a refresh fails.
const FailureMessage = "failed to retrieve roster"

// ErrSessionUnavailable is logged when the local session could not be
// obtained for a refresh.
var ErrSessionUnavailable = errors.New("roster: local session unavailable")

// Config configures a Loader.
type Config struct {
	Loop *loop.Loop

	// Session supplies the local session, usually shared with the
	// discovery pipeline. Each refresh takes its current latch, so a
	// refresh after a reconnect uses the new session.
	Session *gateway.Local

	// Local is the account whose roster is loaded. Empty means no
	// account is configured and the roster stays empty.
	Local address.Address

	// Cache, when set, seeds the roster at start and records each
	// successful refresh.
	Cache *rostercache.Cache

	Logger *slog.Logger
}

// Loader fetches the roster on the worker pool and publishes it on
// the loop.
type Loader struct {
	loop    *loop.Loop
	session *gateway.Local
	local   address.Address
	cache   *rostercache.Cache
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	roster   *reactive.State[[]address.Address]
	loading  *reactive.State[bool]
	notices  *reactive.Event[string]
	registry *cancel.Registry

	// Loop-owned.
	generation uint64
	current    *cancel.Subscription
	closed     bool
}

// New creates a Loader. If a cached roster exists for Local it is
// published before New returns.
func New(config Config) (*Loader, error) {
	if config.Loop == nil {
		return nil, errors.New("roster: Loop is required")
	}
	if config.Session == nil && !config.Local.IsEmpty() {
		return nil, errors.New("roster: Session is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancelFunc := context.WithCancel(context.Background())
	l := &Loader{
		loop:     config.Loop,
		session:  config.Session,
		local:    config.Local,
		cache:    config.Cache,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancelFunc,
		roster:   reactive.NewStateFunc[[]address.Address](nil, slices.Equal[[]address.Address]),
		loading:  reactive.NewState(false),
		notices:  reactive.NewEvent[string](),
		registry: cancel.NewRegistry(),
	}
	l.seed()
	return l, nil
}

// seed publishes the cached roster, if any.
func (l *Loader) seed() {
	if l.cache == nil || l.local.IsEmpty() {
		return
	}
	entry, ok, err := l.cache.Load(l.local)
	if err != nil {
		l.logger.Warn("roster cache unreadable", "error", err)
		return
	}
	if ok {
		l.logger.Debug("showing cached roster", "contacts", len(entry.Contacts), "saved_at", entry.SavedAt)
		l.roster.Set(withLocal(l.local, entry.Contacts))
	}
}

func withLocal(local address.Address, contacts []address.Address) []address.Address {
	list := make([]address.Address, 0, len(contacts)+1)
	list = append(list, local)
	return append(list, contacts...)
}

// Roster is the current list: the local address first, then the
// contacts.
func (l *Loader) Roster() *reactive.State[[]address.Address] { return l.roster }

// Loading is true while a refresh is in flight.
func (l *Loader) Loading() *reactive.State[bool] { return l.loading }

// Notices emits FailureMessage when a refresh fails.
func (l *Loader) Notices() *reactive.Event[string] { return l.notices }

// Refresh starts a roster fetch, superseding one already in flight.
// With no local account the roster is set empty and nothing is
// fetched.
func (l *Loader) Refresh(ctx context.Context) error {
	return l.loop.Call(ctx, l.refresh)
}

func (l *Loader) refresh() {
	if l.closed {
		return
	}
	if l.current != nil {
		l.registry.Cancel(l.current)
		l.current = nil
	}
	l.generation++
	if l.local.IsEmpty() {
		l.loading.Set(false)
		l.roster.Set(nil)
		return
	}

	generation := l.generation
	l.loading.Set(true)
	l.current = loop.Submit(l.loop, l.ctx,
		l.fetch,
		func(contacts []address.Address, err error) {
			l.apply(generation, contacts, err)
		})
	l.registry.Track(l.current)
}

// fetch runs on a worker.
func (l *Loader) fetch(ctx context.Context) ([]address.Address, error) {
	session, ok, err := l.session.Latch().Wait(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSessionUnavailable
	}
	contacts, err := session.QueryRoster(ctx)
	if err != nil {
		return nil, err
	}
	if l.cache != nil {
		if err := l.cache.Save(l.local, contacts); err != nil {
			l.logger.Warn("saving roster cache failed", "error", err)
		}
	}
	return contacts, nil
}

func (l *Loader) apply(generation uint64, contacts []address.Address, err error) {
	if generation != l.generation || l.closed {
		return
	}
	l.current = nil
	l.loading.Set(false)
	if err != nil {
		l.logger.Warn("roster refresh failed", "local", l.local, "error", err)
		l.notices.Emit(FailureMessage)
		return
	}
	l.logger.Debug("roster refreshed", "local", l.local, "contacts", len(contacts))
	l.roster.Set(withLocal(l.local, contacts))
}

// Close cancels any refresh in flight and completes the states.
func (l *Loader) Close() {
	l.loop.Call(context.Background(), func() {
		l.closed = true
		l.generation++
	})
	l.cancel()
	l.registry.CancelAll()
	l.roster.Complete()
	l.loading.Complete()
}
