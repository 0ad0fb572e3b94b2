// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"errors"
	"fmt"

	"github.com/tandem-chat/tandem/lib/address"
)

// ErrNoLocalAccount is returned by StartDiscovery when no local
// account is configured. The pipeline does not start.
var ErrNoLocalAccount = errors.New("discovery: no local account")

// ErrSessionUnavailable is wrapped in a QueryFailedError when the
// local session could not be obtained.
var ErrSessionUnavailable = errors.New("discovery: local session unavailable")

// ErrBusy is returned by StartDiscovery while a search is running.
var ErrBusy = errors.New("discovery: already searching")

// ErrClosed is returned after Close.
var ErrClosed = errors.New("discovery: pipeline closed")

// QueryFailedError reports that the endpoint enumeration for Target
// failed. Per-candidate capability errors never produce one; they
// only reject that candidate.
type QueryFailedError struct {
	Target address.Address
	Err    error
}

func (e *QueryFailedError) Error() string {
	return fmt.Sprintf("discovery: querying endpoints of %s: %v", e.Target, e.Err)
}

func (e *QueryFailedError) Unwrap() error { return e.Err }
