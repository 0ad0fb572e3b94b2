// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package sessionmgr

import (
	"context"
	"errors"

	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/gateway"
)

var (
	// ErrSessionDisposed is returned by operations interrupted or
	// attempted after their session was disposed.
	ErrSessionDisposed = errors.New("session disposed")

	// ErrNoSession is returned for operations on an address with no
	// open session.
	ErrNoSession = errors.New("no session open for address")

	// ErrNotAuthenticated is returned by queries on a session that has
	// not logged in.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrItemNotFound is returned when a query target does not exist.
	ErrItemNotFound = errors.New("item-not-found")
)

// AuthError is a rejected credential. Message is the backend's text,
// passed through to the user unchanged.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return e.Message }

// Backend is the directory service sessions are opened against.
type Backend interface {
	// Name identifies the backend in status output.
	Name() string

	// Open creates an unauthenticated session for account. It must
	// not block on the network.
	Open(account address.Address) (BackendSession, error)
}

// BackendSession is one account's session with a Backend. Every
// method must honor ctx: the Manager cancels it on disposal.
type BackendSession interface {
	Login(ctx context.Context, credential []byte) error
	Authenticated() bool
	Roster(ctx context.Context) ([]address.Address, error)
	Endpoints(ctx context.Context, target address.Address) ([]gateway.Endpoint, error)
	Capabilities(ctx context.Context, target address.Address) (gateway.CapabilitySet, error)

	// Publish advertises one of the account's own endpoints with its
	// features.
	Publish(ctx context.Context, record EndpointRecord) error

	// Close releases the session. Called once, after every operation
	// on it has returned.
	Close(ctx context.Context) error
}

// EndpointRecord is a published endpoint: its address, an optional
// node (non-empty for sub-resources that are not devices), and the
// features it advertises.
type EndpointRecord struct {
	Address  address.Address `yaml:"address" cbor:"address"`
	Node     string          `yaml:"node,omitempty" cbor:"node,omitempty"`
	Features []string        `yaml:"features,omitempty" cbor:"features,omitempty"`
}
