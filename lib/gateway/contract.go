// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"slices"

	"github.com/tandem-chat/tandem/lib/address"
)

// Connector establishes a connection to the backing session manager.
// Implementations: *sessionmgr.Client (Unix socket to tandem-sessiond)
// and *FakeConnector (tests).
type Connector interface {
	// Connect blocks until the connection is ready or fails.
	Connect(ctx context.Context) (Connection, error)
}

// Connection is a live binding to the session manager. It hands out
// per-address sessions and reports when the binding is lost.
type Connection interface {
	// SessionFor opens (or reattaches to) the session manager's
	// session for address.
	SessionFor(ctx context.Context, account address.Address) (Session, error)

	// Disconnected is closed when the connection drops for any reason
	// other than Close.
	Disconnected() <-chan struct{}

	// Close releases the connection. Idempotent.
	Close() error
}

// Session is one account's session inside the session manager. Every
// method blocks on a round trip and must honor ctx.
type Session interface {
	// Address returns the account address the session was opened for.
	Address() address.Address

	// Login authenticates the session. A rejected credential is
	// reported with an error satisfying [IsRejected]; any other error
	// means the session manager could not be asked.
	Login(ctx context.Context, credential []byte) error

	// QueryRoster returns the account's contacts.
	QueryRoster(ctx context.Context) ([]address.Address, error)

	// QueryChildEndpoints lists the endpoints published under target
	// (a bare contact address).
	QueryChildEndpoints(ctx context.Context, target address.Address) ([]Endpoint, error)

	// QueryCapabilities returns the features target advertises.
	QueryCapabilities(ctx context.Context, target address.Address) (CapabilitySet, error)

	// Dispose tears the session down in the session manager,
	// cancelling anything in flight on it, and returns when teardown
	// has completed.
	Dispose(ctx context.Context) error
}

// Endpoint is one entry of a child-endpoint listing. Entries with a
// non-empty Node describe sub-resources rather than devices and are
// not call candidates.
type Endpoint struct {
	Address address.Address `cbor:"address" yaml:"address"`
	Node    string          `cbor:"node,omitempty" yaml:"node,omitempty"`
}

// IsDevice reports whether the endpoint names a device (empty node).
func (e Endpoint) IsDevice() bool { return e.Node == "" }

// CapabilitySet is the list of feature identifiers an endpoint
// advertises.
type CapabilitySet []string

// Has reports whether feature is advertised.
func (c CapabilitySet) Has(feature string) bool {
	return slices.Contains(c, feature)
}

// FeatureWebRTC is the capability identifier a callee must advertise
// for a WebRTC call handoff.
const FeatureWebRTC = "urn:xmpp:webrtc:0"

// RejectedError is the session manager refusing a request it received,
// such as a login with a wrong credential. Message is meant for
// display.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string { return e.Message }

// DisplayMessage returns Message.
func (e *RejectedError) DisplayMessage() string { return e.Message }

// Rejected marks the error as a refusal.
func (e *RejectedError) Rejected() bool { return true }

// IsRejected reports whether err (or an error it wraps) is a refusal by
// the session manager, as opposed to a transport failure, a lost
// connection, or a cancelled context. Errors opt in by implementing
// Rejected() bool.
func IsRejected(err error) bool {
	var rejection interface{ Rejected() bool }
	return errors.As(err, &rejection) && rejection.Rejected()
}
