// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/tandem-chat/tandem/lib/secret"
)

// ReadPassword returns the password for a login. A non-empty
// passwordFile is read with secret.ReadFromPath ("-" is the first line
// of stdin). Otherwise the user is prompted on the terminal with echo
// off.
func ReadPassword(passwordFile string) (*secret.Buffer, error) {
	if passwordFile != "" {
		buffer, err := secret.ReadFromPath(passwordFile)
		if err != nil {
			return nil, Validation("%w", err)
		}
		return buffer, nil
	}

	descriptor := int(os.Stdin.Fd())
	if !term.IsTerminal(descriptor) {
		return nil, Validation("no terminal available for the password prompt (use --password-file)")
	}
	fmt.Fprint(os.Stderr, "Password: ")
	password, err := term.ReadPassword(descriptor)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, Internal("reading password: %w", err)
	}
	buffer, err := secret.NewFromBytes(password)
	if err != nil {
		secret.Zero(password)
		return nil, Validation("password is empty")
	}
	return buffer, nil
}
