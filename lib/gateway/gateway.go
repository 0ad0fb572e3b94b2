// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/cancel"
	"github.com/tandem-chat/tandem/lib/reactive"
)

// ErrUnavailable is returned by SessionFor when no connection to the
// session manager could be established. The connect error is wrapped
// alongside it.
var ErrUnavailable = errors.New("gateway: session manager unavailable")

// ErrDisconnected is emitted through OnDisconnect when an established
// connection drops.
var ErrDisconnected = errors.New("gateway: connection to session manager lost")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("gateway: closed")

// disposeTimeout bounds how long a session disposal may take before
// the handle is forgotten anyway.
const disposeTimeout = 30 * time.Second

// Config configures a Gateway.
type Config struct {
	Connector Connector

	// Logger is used for connection lifecycle messages. Nil means
	// slog.Default().
	Logger *slog.Logger
}

// Gateway mediates access to the session manager: it owns the single
// connection and the per-address session handles obtained through it.
//
// The connection is acquired lazily. Concurrent AcquireConnection
// calls share one attempt; a failed attempt, or a dropped connection,
// is retried by the next call. Session handles are keyed by address
// and forgotten when disposed or when their connection drops.
type Gateway struct {
	connector Connector
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	disconnects *reactive.Event[error]

	mu         sync.Mutex
	attempt    *connectAttempt
	connection Connection
	sessions   map[address.Address]*SessionHandle
	closed     bool
}

type connectAttempt struct {
	latch *reactive.Latch[Connection]
	err   error // set before latch resolves none
}

// New creates a Gateway. No connection is made until the first
// AcquireConnection or SessionFor.
func New(config Config) *Gateway {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancelFunc := context.WithCancel(context.Background())
	return &Gateway{
		connector:   config.Connector,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancelFunc,
		disconnects: reactive.NewEvent[error](),
		sessions:    make(map[address.Address]*SessionHandle),
	}
}

// AcquireConnection returns the latch for the gateway's connection,
// starting a connect attempt if none is in flight or established.
// Idempotent while an attempt is pending or succeeded: every caller
// gets the same latch. The latch resolves "none" if the attempt
// fails; the next call then starts a fresh attempt.
func (g *Gateway) AcquireConnection() *reactive.Latch[Connection] {
	return g.acquire().latch
}

// acquire returns the current attempt or starts one. An established
// connection that has dropped but not yet been noticed by its watcher
// is forgotten here first, so no caller is handed a dead connection.
func (g *Gateway) acquire() *connectAttempt {
	for {
		attempt, dropped := g.acquireLocked()
		if dropped == nil {
			return attempt
		}
		g.lose(attempt, dropped)
	}
}

func (g *Gateway) acquireLocked() (*connectAttempt, Connection) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		attempt := &connectAttempt{latch: reactive.NewLatch[Connection](), err: ErrClosed}
		attempt.latch.ResolveNone()
		return attempt, nil
	}
	if g.attempt != nil {
		connection, ok, resolved := g.attempt.latch.Result()
		if !resolved {
			return g.attempt, nil
		}
		if ok {
			select {
			case <-connection.Disconnected():
				return g.attempt, connection
			default:
				return g.attempt, nil
			}
		}
	}

	attempt := &connectAttempt{latch: reactive.NewLatch[Connection]()}
	g.attempt = attempt
	go g.connect(attempt)
	return attempt, nil
}

func (g *Gateway) connect(attempt *connectAttempt) {
	connection, err := g.connector.Connect(g.ctx)
	if err != nil {
		g.logger.Warn("session manager connect failed", "error", err)
		attempt.err = err
		attempt.latch.ResolveNone()
		return
	}

	g.mu.Lock()
	if g.closed || g.attempt != attempt {
		g.mu.Unlock()
		connection.Close()
		attempt.err = ErrClosed
		attempt.latch.ResolveNone()
		return
	}
	g.connection = connection
	g.mu.Unlock()

	g.logger.Debug("session manager connected")
	attempt.latch.Resolve(connection)
	go g.watch(attempt, connection)
}

// watch waits for connection to drop, then forgets it.
func (g *Gateway) watch(attempt *connectAttempt, connection Connection) {
	select {
	case <-connection.Disconnected():
	case <-g.ctx.Done():
		return
	}
	g.lose(attempt, connection)
}

// lose forgets a dropped connection and every session handle obtained
// through it, then emits ErrDisconnected. Only the first caller for a
// given connection does anything.
func (g *Gateway) lose(attempt *connectAttempt, connection Connection) {
	g.mu.Lock()
	if g.connection != connection {
		g.mu.Unlock()
		return
	}
	g.connection = nil
	if g.attempt == attempt {
		g.attempt = nil
	}
	lost := make([]*SessionHandle, 0, len(g.sessions))
	for key, handle := range g.sessions {
		if handle.connection == connection {
			lost = append(lost, handle)
			delete(g.sessions, key)
		}
	}
	g.mu.Unlock()

	for _, handle := range lost {
		handle.markLost()
	}
	connection.Close()
	g.logger.Warn("session manager connection lost", "sessions", len(lost))
	g.disconnects.Emit(ErrDisconnected)
}

// OnDisconnect registers fn to be called whenever an established
// connection drops. fn runs on whichever goroutine noticed the drop
// first (the gateway's watcher, or a caller of AcquireConnection or
// SessionFor) and must not block.
func (g *Gateway) OnDisconnect(fn func(error)) *cancel.Subscription {
	return g.disconnects.Observe(fn)
}

// SessionFor waits for the connection and returns the session handle
// for account, opening the session if no live handle exists. A handle
// whose disposal is in progress is waited out and replaced by a fresh
// one.
func (g *Gateway) SessionFor(ctx context.Context, account address.Address) (*SessionHandle, error) {
	if account.IsEmpty() {
		return nil, fmt.Errorf("gateway: session for empty address")
	}
	for {
		attempt := g.acquire()
		connection, ok, err := attempt.latch.Wait(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, attempt.err)
		}

		handle, retiring := g.handleFor(account, connection)
		if retiring != nil {
			select {
			case <-retiring:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if _, ok, err := handle.ready.Wait(ctx); err != nil {
			return nil, err
		} else if !ok {
			return nil, handle.openErr
		}
		return handle, nil
	}
}

// handleFor returns the live handle for account on connection,
// creating it if needed. If the existing handle is being disposed,
// it returns the disposal channel instead.
func (g *Gateway) handleFor(account address.Address, connection Connection) (*SessionHandle, <-chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if handle, exists := g.sessions[account]; exists {
		if disposing := handle.disposal(); disposing != nil {
			return nil, disposing
		}
		if handle.connection == connection {
			return handle, nil
		}
		delete(g.sessions, account)
	}

	handle := &SessionHandle{
		gateway:    g,
		account:    account,
		connection: connection,
		ready:      reactive.NewLatch[Session](),
	}
	g.sessions[account] = handle
	go handle.open(g.ctx)
	return handle, nil
}

// DisposeSession disposes the handle for account if one exists. The
// returned channel is closed when disposal completes (immediately if
// there was nothing to dispose).
func (g *Gateway) DisposeSession(account address.Address) <-chan struct{} {
	g.mu.Lock()
	handle := g.sessions[account]
	g.mu.Unlock()
	if handle == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return handle.Dispose()
}

// forget removes handle from the table if it is still the entry for
// its address.
func (g *Gateway) forget(handle *SessionHandle) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sessions[handle.account] == handle {
		delete(g.sessions, handle.account)
	}
}

// Close disposes nothing remotely: it drops the connection, which the
// session manager treats as releasing the client's sessions.
func (g *Gateway) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	connection := g.connection
	g.connection = nil
	g.attempt = nil
	lost := make([]*SessionHandle, 0, len(g.sessions))
	for _, handle := range g.sessions {
		lost = append(lost, handle)
	}
	clear(g.sessions)
	g.mu.Unlock()

	g.cancel()
	for _, handle := range lost {
		handle.markLost()
	}
	if connection != nil {
		return connection.Close()
	}
	return nil
}

// SessionHandle is the gateway's record of one address's session.
type SessionHandle struct {
	gateway    *Gateway
	account    address.Address
	connection Connection

	ready   *reactive.Latch[Session]
	openErr error // set before ready resolves none

	mu        sync.Mutex
	disposing chan struct{}
	lost      bool
}

func (h *SessionHandle) open(ctx context.Context) {
	session, err := h.connection.SessionFor(ctx, h.account)
	if err != nil {
		h.openErr = fmt.Errorf("gateway: opening session for %s: %w", h.account, err)
		h.ready.ResolveNone()
		h.gateway.forget(h)
		return
	}
	h.ready.Resolve(session)
}

// Address returns the account this handle serves.
func (h *SessionHandle) Address() address.Address { return h.account }

// Session returns the underlying session. Valid once SessionFor has
// returned the handle.
func (h *SessionHandle) Session() Session {
	session, _, _ := h.ready.Result()
	return session
}

// Dispose asks the session manager to tear the session down. It
// returns immediately; the channel is closed when teardown completes
// and the handle has been forgotten. Repeated calls return the same
// channel, so at most one disposal is ever in flight per handle.
func (h *SessionHandle) Dispose() <-chan struct{} {
	h.mu.Lock()
	if h.disposing != nil {
		h.mu.Unlock()
		return h.disposing
	}
	h.disposing = make(chan struct{})
	done := h.disposing
	lost := h.lost
	h.mu.Unlock()

	go func() {
		defer close(done)
		defer h.gateway.forget(h)
		if lost {
			return
		}
		ctx, cancelFunc := context.WithTimeout(context.Background(), disposeTimeout)
		defer cancelFunc()
		session, ok, err := h.ready.Wait(ctx)
		if err != nil || !ok {
			return
		}
		if err := session.Dispose(ctx); err != nil {
			h.gateway.logger.Warn("session dispose failed", "address", h.account, "error", err)
		}
	}()
	return done
}

func (h *SessionHandle) disposal() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disposing
}

// markLost records that the handle's connection is gone, so disposal
// completes without a round trip.
func (h *SessionHandle) markLost() {
	h.mu.Lock()
	h.lost = true
	h.mu.Unlock()
}

// Lost reports whether the handle's connection has dropped (or the
// gateway was closed). A lost handle's session is gone from the
// session manager.
func (h *SessionHandle) Lost() bool {
	h.mu.Lock()
	lost := h.lost
	h.mu.Unlock()
	if lost {
		return true
	}
	select {
	case <-h.connection.Disconnected():
		return true
	default:
		return false
	}
}

// live reports whether the handle can still serve requests.
func (h *SessionHandle) live() bool {
	return !h.Lost() && h.disposal() == nil
}

// LocalSession returns a latch that resolves to the session for local
// once the gateway is ready. It resolves "none" immediately for an
// empty address, and "none" if the connection or session cannot be
// obtained. ctx bounds the wait.
//
// The latch never changes once resolved, so it goes stale when the
// connection drops. Long-lived consumers use [Local] instead.
func LocalSession(ctx context.Context, g *Gateway, local address.Address) *reactive.Latch[Session] {
	return startLocal(ctx, g, local).latch
}

// localAttempt is one LocalSession acquisition. handle is written
// before latch resolves to a session and is read only after.
type localAttempt struct {
	latch  *reactive.Latch[Session]
	handle *SessionHandle
}

func startLocal(ctx context.Context, g *Gateway, local address.Address) *localAttempt {
	attempt := &localAttempt{latch: reactive.NewLatch[Session]()}
	if local.IsEmpty() {
		attempt.latch.ResolveNone()
		return attempt
	}
	go func() {
		handle, err := g.SessionFor(ctx, local)
		if err != nil {
			g.logger.Debug("local session unavailable", "address", local, "error", err)
			attempt.latch.ResolveNone()
			return
		}
		attempt.handle = handle
		attempt.latch.Resolve(handle.Session())
	}()
	return attempt
}

// usable reports whether the attempt is pending or resolved to a
// session that is still live.
func (a *localAttempt) usable() bool {
	_, ok, resolved := a.latch.Result()
	if !resolved {
		return true
	}
	return ok && a.handle.live()
}

// Local hands out the session of the local account to consumers that
// outlive a connection, such as the roster loader and the discovery
// pipeline. Safe for concurrent use.
type Local struct {
	ctx     context.Context
	gateway *Gateway
	local   address.Address

	mu      sync.Mutex
	current *localAttempt
}

// NewLocal returns a Local for local. Nothing is acquired until the
// first Latch call. ctx bounds every acquisition.
func NewLocal(ctx context.Context, g *Gateway, local address.Address) *Local {
	return &Local{ctx: ctx, gateway: g, local: local}
}

// Address returns the local account.
func (l *Local) Address() address.Address { return l.local }

// Latch returns the latch for the local session. Callers sharing a
// Local share the latch while it is pending or its session is live. A
// latch that resolved "none", or whose session was lost with its
// connection or disposed, is replaced by a fresh acquisition.
func (l *Local) Latch() *reactive.Latch[Session] {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil || !l.current.usable() {
		l.current = startLocal(l.ctx, l.gateway, l.local)
	}
	return l.current.latch
}
