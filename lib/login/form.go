// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package login

// Status is the login coordinator's state.
type Status int

const (
	// StatusIdle accepts a new login.
	StatusIdle Status = iota

	// StatusAuthenticating has a login in flight.
	StatusAuthenticating
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusAuthenticating:
		return "authenticating"
	default:
		return "unknown"
	}
}

// Mode selects whether the form adds a new account or updates the
// credential of an existing one.
type Mode int

const (
	// ModeAdd lets the user type any address.
	ModeAdd Mode = iota

	// ModeUpdate locks the address field to a preset account.
	ModeUpdate
)

// Trigger labels.
const (
	LabelLogin  = "Log in"
	LabelCancel = "Cancel"
)

// Form is the presentation state of the login screen. It is derived
// from Status transitions and input changes; screens render it and
// never compute it themselves.
type Form struct {
	AddressEnabled    bool
	CredentialEnabled bool

	// Progress is true while authenticating.
	Progress bool

	TriggerLabel   string
	TriggerEnabled bool

	// AddressError and CredentialError are field-level messages. Empty
	// means no error.
	AddressError    string
	CredentialError string

	// Address is the value the address field must show in ModeUpdate
	// (the locked preset). Empty in ModeAdd.
	Address string
}

// idleForm is the form for StatusIdle. filled reports whether both
// inputs are non-empty.
func idleForm(mode Mode, preset string, filled bool) Form {
	return Form{
		AddressEnabled:    mode != ModeUpdate,
		CredentialEnabled: true,
		TriggerLabel:      LabelLogin,
		TriggerEnabled:    filled,
		Address:           preset,
	}
}

// authenticatingForm is the form for StatusAuthenticating.
func authenticatingForm(preset string) Form {
	return Form{
		Progress:       true,
		TriggerLabel:   LabelCancel,
		TriggerEnabled: true,
		Address:        preset,
	}
}
