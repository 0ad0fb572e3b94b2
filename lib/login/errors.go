// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package login

import (
	"errors"
	"fmt"

	"github.com/tandem-chat/tandem/lib/address"
)

// ErrConnectionLost is emitted when the session manager connection
// drops while a login is in flight. Its message is what the
// credential field shows.
var ErrConnectionLost = errors.New("login canceled by the system")

// ErrSessionManagerUnavailable is emitted (wrapping the connect
// error) when no connection to the session manager can be made.
var ErrSessionManagerUnavailable = errors.New("session manager unavailable")

// ErrBusy is returned by StartLogin while a login is already in
// flight.
var ErrBusy = errors.New("login: already authenticating")

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("login: coordinator closed")

// malformedAddressMessage is shown on the address field for input
// that does not parse.
const malformedAddressMessage = "malformed address"

// InvalidAddressError is returned by StartLogin for address text that
// does not parse. The gateway is never contacted.
type InvalidAddressError struct {
	Input string
	Err   error
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("login: invalid address %q: %v", e.Input, e.Err)
}

func (e *InvalidAddressError) Unwrap() error { return e.Err }

// AuthenticationFailedError reports a login the session manager
// rejected. Message is the session manager's own text, shown verbatim
// on the credential field.
type AuthenticationFailedError struct {
	Address address.Address
	Message string
	Err     error
}

func (e *AuthenticationFailedError) Error() string {
	return fmt.Sprintf("login: authentication failed for %s: %s", e.Address, e.Message)
}

func (e *AuthenticationFailedError) Unwrap() error { return e.Err }

// IsAuthenticationFailed reports whether err is (or wraps) an
// *AuthenticationFailedError.
func IsAuthenticationFailed(err error) bool {
	var target *AuthenticationFailedError
	return errors.As(err, &target)
}

// displayer is implemented by errors that carry a message meant for
// the user, separate from their diagnostic Error() text.
type displayer interface {
	DisplayMessage() string
}

// displayMessage returns the user-facing text for err.
func displayMessage(err error) string {
	var d displayer
	if errors.As(err, &d) {
		return d.DisplayMessage()
	}
	return err.Error()
}
