// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/tandem-chat/tandem/lib/address"
)

// ErrFakeDisposed is returned by FakeSession operations interrupted or
// attempted after Dispose.
var ErrFakeDisposed = errors.New("session disposed")

// ErrFakeConnectionLost is returned by FakeSession operations
// interrupted or attempted after their connection's Disconnect.
var ErrFakeConnectionLost = fmt.Errorf("fake session: %w", ErrDisconnected)

// FakeDirectory scripts what fake sessions answer. Populate every
// field before connecting; release held operations by closing the
// gate channels.
type FakeDirectory struct {
	// Credentials maps bare account addresses to their credential.
	// Login for an address not present fails with a *RejectedError
	// reading "not authorized".
	// A nil map accepts every login.
	Credentials map[address.Address]string

	// Rosters maps bare account addresses to their contacts.
	Rosters map[address.Address][]address.Address

	// Endpoints maps bare contact addresses to their child endpoints.
	Endpoints map[address.Address][]Endpoint

	// Capabilities maps endpoint addresses to advertised features.
	Capabilities map[address.Address]CapabilitySet

	// Errors makes any query targeting the address fail.
	Errors map[address.Address]error

	// RosterErr makes QueryRoster fail.
	RosterErr error

	// LoginGate, when non-nil, holds Login until it is closed (or the
	// session is disposed, or ctx ends).
	LoginGate chan struct{}

	// LoginErr, when non-nil, makes Login fail with it once released.
	LoginErr error

	// LoginStarted, when non-nil, receives the account of each Login
	// call as it starts (dropped if the buffer is full).
	LoginStarted chan address.Address

	// QueryGate, when non-nil, holds every query until closed.
	QueryGate chan struct{}

	// DisposeGate, when non-nil, holds Dispose until closed.
	DisposeGate chan struct{}

	mu                sync.Mutex
	capabilityQueries map[address.Address]int
	endpointQueries   map[address.Address]int
	logins            int
	disposals         int
}

// CapabilityQueries returns how many capability queries targeted
// target.
func (d *FakeDirectory) CapabilityQueries(target address.Address) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capabilityQueries[target]
}

// EndpointQueries returns how many child-endpoint queries targeted
// target.
func (d *FakeDirectory) EndpointQueries(target address.Address) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.endpointQueries[target]
}

// Logins returns the number of Login calls that started.
func (d *FakeDirectory) Logins() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logins
}

// Disposals returns the number of completed session disposals.
func (d *FakeDirectory) Disposals() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disposals
}

func (d *FakeDirectory) count(counter *map[address.Address]int, target address.Address) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if *counter == nil {
		*counter = make(map[address.Address]int)
	}
	(*counter)[target]++
}

// FakeConnector is an in-memory Connector.
type FakeConnector struct {
	Directory *FakeDirectory

	// Err, when non-nil, makes Connect fail.
	Err error

	// Gate, when non-nil, holds Connect until closed.
	Gate chan struct{}

	mu          sync.Mutex
	connections []*FakeConnection
	connects    int
}

var _ Connector = (*FakeConnector)(nil)

// NewFakeConnector returns a connector serving directory.
func NewFakeConnector(directory *FakeDirectory) *FakeConnector {
	return &FakeConnector{Directory: directory}
}

// Connect implements Connector.
func (c *FakeConnector) Connect(ctx context.Context) (Connection, error) {
	c.mu.Lock()
	c.connects++
	gate, failure := c.Gate, c.Err
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}

	connection := &FakeConnection{
		directory:    c.Directory,
		disconnected: make(chan struct{}),
		sessions:     make(map[address.Address][]*FakeSession),
	}
	c.mu.Lock()
	c.connections = append(c.connections, connection)
	c.mu.Unlock()
	return connection, nil
}

// SetErr changes the failure returned by later Connect calls.
func (c *FakeConnector) SetErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Err = err
}

// Connects returns the number of Connect calls.
func (c *FakeConnector) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// Last returns the most recent successful connection, or nil.
func (c *FakeConnector) Last() *FakeConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.connections) == 0 {
		return nil
	}
	return c.connections[len(c.connections)-1]
}

// FakeConnection is an in-memory Connection.
type FakeConnection struct {
	directory *FakeDirectory

	disconnectOnce sync.Once
	disconnected   chan struct{}

	mu       sync.Mutex
	sessions map[address.Address][]*FakeSession
	closed   bool
}

var _ Connection = (*FakeConnection)(nil)

// SessionFor implements Connection.
func (c *FakeConnection) SessionFor(ctx context.Context, account address.Address) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("connection closed")
	}
	select {
	case <-c.disconnected:
		return nil, ErrFakeConnectionLost
	default:
	}
	session := &FakeSession{
		directory:  c.directory,
		connection: c,
		account:    account,
		disposed:   make(chan struct{}),
	}
	c.sessions[account] = append(c.sessions[account], session)
	return session, nil
}

// Disconnected implements Connection.
func (c *FakeConnection) Disconnected() <-chan struct{} { return c.disconnected }

// Disconnect simulates the session manager going away. Every session
// of the connection fails its in-flight and later operations with
// ErrFakeConnectionLost, as the daemon's sessions die with the client.
func (c *FakeConnection) Disconnect() {
	c.disconnectOnce.Do(func() { close(c.disconnected) })
}

// Close implements Connection.
func (c *FakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Sessions returns every session opened for account, oldest first.
func (c *FakeConnection) Sessions(account address.Address) []*FakeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sessions[account])
}

// FakeSession is an in-memory Session answering from a FakeDirectory.
type FakeSession struct {
	directory  *FakeDirectory
	connection *FakeConnection
	account    address.Address

	disposeOnce sync.Once
	disposed    chan struct{}
}

var _ Session = (*FakeSession)(nil)

// Address implements Session.
func (s *FakeSession) Address() address.Address { return s.account }

// Disposed is closed once Dispose has completed.
func (s *FakeSession) Disposed() <-chan struct{} { return s.disposed }

// wait blocks on gate (if any), returning early on disposal, on
// disconnect, or when ctx ends.
func (s *FakeSession) wait(ctx context.Context, gate chan struct{}) error {
	if gate != nil {
		select {
		case <-gate:
		case <-s.disposed:
			return ErrFakeDisposed
		case <-s.connection.disconnected:
			return ErrFakeConnectionLost
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	select {
	case <-s.disposed:
		return ErrFakeDisposed
	case <-s.connection.disconnected:
		return ErrFakeConnectionLost
	default:
		return nil
	}
}

// Login implements Session.
func (s *FakeSession) Login(ctx context.Context, credential []byte) error {
	s.directory.mu.Lock()
	s.directory.logins++
	gate := s.directory.LoginGate
	s.directory.mu.Unlock()
	if s.directory.LoginStarted != nil {
		select {
		case s.directory.LoginStarted <- s.account:
		default:
		}
	}

	if err := s.wait(ctx, gate); err != nil {
		return err
	}
	if s.directory.LoginErr != nil {
		return s.directory.LoginErr
	}
	if s.directory.Credentials == nil {
		return nil
	}
	expected, known := s.directory.Credentials[s.account.Bare()]
	if !known || expected != string(credential) {
		return &RejectedError{Message: "not authorized"}
	}
	return nil
}

// QueryRoster implements Session.
func (s *FakeSession) QueryRoster(ctx context.Context) ([]address.Address, error) {
	if err := s.wait(ctx, s.directory.QueryGate); err != nil {
		return nil, err
	}
	if s.directory.RosterErr != nil {
		return nil, s.directory.RosterErr
	}
	return slices.Clone(s.directory.Rosters[s.account.Bare()]), nil
}

// QueryChildEndpoints implements Session.
func (s *FakeSession) QueryChildEndpoints(ctx context.Context, target address.Address) ([]Endpoint, error) {
	s.directory.count(&s.directory.endpointQueries, target)
	if err := s.wait(ctx, s.directory.QueryGate); err != nil {
		return nil, err
	}
	if err := s.directory.Errors[target]; err != nil {
		return nil, err
	}
	return slices.Clone(s.directory.Endpoints[target]), nil
}

// QueryCapabilities implements Session.
func (s *FakeSession) QueryCapabilities(ctx context.Context, target address.Address) (CapabilitySet, error) {
	s.directory.count(&s.directory.capabilityQueries, target)
	if err := s.wait(ctx, s.directory.QueryGate); err != nil {
		return nil, err
	}
	if err := s.directory.Errors[target]; err != nil {
		return nil, err
	}
	capabilities, known := s.directory.Capabilities[target]
	if !known {
		return nil, fmt.Errorf("item-not-found: %s", target)
	}
	return slices.Clone(capabilities), nil
}

// Dispose implements Session. Any operation blocked on a gate returns
// ErrFakeDisposed.
func (s *FakeSession) Dispose(ctx context.Context) error {
	if gate := s.directory.disposeGate(); gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.disposeOnce.Do(func() {
		close(s.disposed)
		s.directory.mu.Lock()
		s.directory.disposals++
		s.directory.mu.Unlock()
	})
	return nil
}

func (d *FakeDirectory) disposeGate() chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.DisposeGate
}
