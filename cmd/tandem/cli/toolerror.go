// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies command errors for the exit code.
type ErrorCategory string

const (
	// CategoryValidation means the user supplied bad input: wrong
	// argument count, malformed address, unknown flag.
	CategoryValidation ErrorCategory = "validation"

	// CategoryNotFound means a referenced thing does not exist: no
	// stored credential, no contact by that name.
	CategoryNotFound ErrorCategory = "not_found"

	// CategoryTransient means a temporary failure such as an
	// unreachable session manager or a timed-out query.
	CategoryTransient ErrorCategory = "transient"

	// CategoryInternal means an unexpected failure.
	CategoryInternal ErrorCategory = "internal"
)

// ToolError is a categorized command error. It wraps the underlying
// error so errors.Is and errors.As still see the chain.
type ToolError struct {
	Category ErrorCategory
	Err      error
}

func (e *ToolError) Error() string { return e.Err.Error() }

func (e *ToolError) Unwrap() error { return e.Err }

// ExitCode maps the category to a process exit code: 2 for usage
// problems, 3 for missing things, 4 for retryable failures, 1 for the
// rest.
func (e *ToolError) ExitCode() int {
	switch e.Category {
	case CategoryValidation:
		return 2
	case CategoryNotFound:
		return 3
	case CategoryTransient:
		return 4
	default:
		return 1
	}
}

// Validation creates a validation error.
func Validation(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryValidation, Err: fmt.Errorf(format, args...)}
}

// NotFound creates a not-found error.
func NotFound(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryNotFound, Err: fmt.Errorf(format, args...)}
}

// Transient creates a transient error.
func Transient(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryTransient, Err: fmt.Errorf(format, args...)}
}

// Internal creates an internal error.
func Internal(format string, args ...any) *ToolError {
	return &ToolError{Category: CategoryInternal, Err: fmt.Errorf(format, args...)}
}

// CategoryOf returns the category of the first ToolError in err's
// chain, or CategoryInternal.
func CategoryOf(err error) ErrorCategory {
	var toolError *ToolError
	if errors.As(err, &toolError) {
		return toolError.Category
	}
	return CategoryInternal
}
