// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Error codes the Matrix backend distinguishes.
const (
	ErrCodeForbidden       = "M_FORBIDDEN"
	ErrCodeUserDeactivated = "M_USER_DEACTIVATED"
	ErrCodeNotFound        = "M_NOT_FOUND"
	ErrCodeLimitExceeded   = "M_LIMIT_EXCEEDED"
	ErrCodeUnknown         = "M_UNKNOWN"
)

// MatrixError is an error response from the homeserver. Extract it with
// errors.As, or test a code with [IsMatrixError].
type MatrixError struct {
	Code    string
	Message string

	// StatusCode is the HTTP status of the response.
	StatusCode int

	// RetryAfter is the server's back-off hint on M_LIMIT_EXCEEDED.
	// Zero when absent.
	RetryAfter time.Duration
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// RejectsCredentials reports whether the homeserver refused a login
// because of the account or password, as opposed to a transport or
// server fault.
func (e *MatrixError) RejectsCredentials() bool {
	return e.Code == ErrCodeForbidden || e.Code == ErrCodeUserDeactivated
}

// UnmarshalJSON decodes the standard error body,
// {"errcode": ..., "error": ..., "retry_after_ms": ...}.
func (e *MatrixError) UnmarshalJSON(data []byte) error {
	var body struct {
		Code         string `json:"errcode"`
		Message      string `json:"error"`
		RetryAfterMS int64  `json:"retry_after_ms"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return err
	}
	e.Code = body.Code
	e.Message = body.Message
	e.RetryAfter = time.Duration(body.RetryAfterMS) * time.Millisecond
	return nil
}

// MarshalJSON is the inverse of UnmarshalJSON. Test servers use it to
// produce error bodies.
func (e MatrixError) MarshalJSON() ([]byte, error) {
	body := map[string]any{"errcode": e.Code, "error": e.Message}
	if e.RetryAfter > 0 {
		body["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return json.Marshal(body)
}

// IsMatrixError reports whether err wraps a *MatrixError with code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	return errors.As(err, &matrixErr) && matrixErr.Code == code
}
