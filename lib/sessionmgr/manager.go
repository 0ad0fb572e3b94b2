// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package sessionmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tandem-chat/tandem/lib/address"
)

// closeTimeout bounds a backend session's Close during disposal.
const closeTimeout = 10 * time.Second

// ErrNotAttached is returned when a request names an attachment the
// manager does not know.
var ErrNotAttached = errors.New("client not attached")

// Manager owns the sessions of every attached client, keyed by
// account address. One session exists per address; clients opening
// the same address share it.
type Manager struct {
	backend Backend
	logger  *slog.Logger

	mu          sync.Mutex
	sessions    map[address.Address]*managedSession
	attachments map[string]map[address.Address]struct{}
}

type managedSession struct {
	account address.Address
	backend BackendSession

	// ctx is cancelled when disposal starts; every operation's
	// context is derived from it.
	ctx    context.Context
	cancel context.CancelFunc

	// active counts running operations. Add happens only under
	// Manager.mu while disposing is nil.
	active sync.WaitGroup

	owners    map[string]struct{}
	disposing chan struct{}
}

// SessionStatus describes one open session.
type SessionStatus struct {
	Address       address.Address `cbor:"address"`
	Authenticated bool            `cbor:"authenticated"`
	Owners        int             `cbor:"owners"`
}

// NewManager creates a Manager over backend.
func NewManager(backend Backend, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		backend:     backend,
		logger:      logger,
		sessions:    make(map[address.Address]*managedSession),
		attachments: make(map[string]map[address.Address]struct{}),
	}
}

// Attach registers a client and returns its attachment id.
func (m *Manager) Attach() string {
	id := uuid.NewString()
	m.mu.Lock()
	m.attachments[id] = make(map[address.Address]struct{})
	m.mu.Unlock()
	m.logger.Debug("client attached", "client", id)
	return id
}

// Detach releases everything client opened. Sessions left with no
// owner are disposed; Detach waits for those disposals.
func (m *Manager) Detach(ctx context.Context, client string) {
	m.mu.Lock()
	accounts, ok := m.attachments[client]
	delete(m.attachments, client)
	var orphaned []address.Address
	for account := range accounts {
		session := m.sessions[account]
		if session == nil {
			continue
		}
		delete(session.owners, client)
		if len(session.owners) == 0 {
			orphaned = append(orphaned, account)
		}
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	m.logger.Debug("client detached", "client", client, "released", len(orphaned))
	for _, account := range orphaned {
		if err := m.Dispose(ctx, account); err != nil {
			m.logger.Warn("disposing released session failed", "address", account, "error", err)
		}
	}
}

// Open returns the session for account, creating it if needed, and
// records client as an owner. A session whose disposal is in progress
// is waited out and replaced.
func (m *Manager) Open(ctx context.Context, client string, account address.Address) (authenticated bool, err error) {
	if account.IsEmpty() {
		return false, errors.New("open: empty address")
	}
	account = account.Bare()
	for {
		m.mu.Lock()
		owned, attached := m.attachments[client]
		if !attached {
			m.mu.Unlock()
			return false, ErrNotAttached
		}
		session := m.sessions[account]
		if session != nil && session.disposing != nil {
			disposing := session.disposing
			m.mu.Unlock()
			select {
			case <-disposing:
				continue
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}
		if session != nil {
			session.owners[client] = struct{}{}
			owned[account] = struct{}{}
			m.mu.Unlock()
			return session.backend.Authenticated(), nil
		}
		m.mu.Unlock()

		backendSession, err := m.backend.Open(account)
		if err != nil {
			return false, fmt.Errorf("opening %s: %w", account, err)
		}

		m.mu.Lock()
		if m.sessions[account] != nil {
			// Lost a race with another opener; use theirs.
			m.mu.Unlock()
			backendSession.Close(ctx)
			continue
		}
		owned, attached = m.attachments[client]
		if !attached {
			m.mu.Unlock()
			backendSession.Close(ctx)
			return false, ErrNotAttached
		}
		sessionCtx, cancel := context.WithCancel(context.Background())
		m.sessions[account] = &managedSession{
			account: account,
			backend: backendSession,
			ctx:     sessionCtx,
			cancel:  cancel,
			owners:  map[string]struct{}{client: {}},
		}
		owned[account] = struct{}{}
		m.mu.Unlock()

		m.logger.Info("session opened", "address", account, "backend", m.backend.Name())
		return false, nil
	}
}

// Do runs operation against the session for account. The operation's
// context is cancelled if the session is disposed meanwhile, in which
// case Do returns ErrSessionDisposed.
func (m *Manager) Do(ctx context.Context, account address.Address, operation func(ctx context.Context, session BackendSession) error) error {
	account = account.Bare()
	m.mu.Lock()
	session := m.sessions[account]
	if session == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoSession, account)
	}
	if session.disposing != nil {
		m.mu.Unlock()
		return ErrSessionDisposed
	}
	session.active.Add(1)
	m.mu.Unlock()
	defer session.active.Done()

	operationCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(session.ctx, cancel)
	defer stop()

	err := operation(operationCtx, session.backend)
	if err != nil && session.ctx.Err() != nil {
		return ErrSessionDisposed
	}
	return err
}

// Dispose tears down the session for account: in-flight operations
// are cancelled and waited for, then the backend session is closed.
// Concurrent callers share one teardown. Disposing an address with no
// session succeeds immediately.
func (m *Manager) Dispose(ctx context.Context, account address.Address) error {
	account = account.Bare()
	m.mu.Lock()
	session := m.sessions[account]
	if session == nil {
		m.mu.Unlock()
		return nil
	}
	disposing := session.disposing
	if disposing == nil {
		session.disposing = make(chan struct{})
		disposing = session.disposing
		go m.teardown(session)
	}
	m.mu.Unlock()

	select {
	case <-disposing:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) teardown(session *managedSession) {
	defer close(session.disposing)

	session.cancel()
	session.active.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := session.backend.Close(ctx); err != nil {
		m.logger.Warn("closing backend session failed", "address", session.account, "error", err)
	}

	m.mu.Lock()
	if m.sessions[session.account] == session {
		delete(m.sessions, session.account)
	}
	for owner := range session.owners {
		if owned := m.attachments[owner]; owned != nil {
			delete(owned, session.account)
		}
	}
	m.mu.Unlock()
	m.logger.Info("session disposed", "address", session.account)
}

// Status lists open sessions, sorted by address.
func (m *Manager) Status() []SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	statuses := make([]SessionStatus, 0, len(m.sessions))
	for account, session := range m.sessions {
		if session.disposing != nil {
			continue
		}
		statuses = append(statuses, SessionStatus{
			Address:       account,
			Authenticated: session.backend.Authenticated(),
			Owners:        len(session.owners),
		})
	}
	slices.SortFunc(statuses, func(a, b SessionStatus) int {
		return strings.Compare(a.Address.String(), b.Address.String())
	})
	return statuses
}

// Attachments returns the number of attached clients.
func (m *Manager) Attachments() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attachments)
}

// Close disposes every session.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	accounts := make([]address.Address, 0, len(m.sessions))
	for account := range m.sessions {
		accounts = append(accounts, account)
	}
	m.mu.Unlock()
	for _, account := range accounts {
		m.Dispose(ctx, account)
	}
}
