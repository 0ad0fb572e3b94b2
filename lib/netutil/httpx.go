// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small network I/O helpers shared by the Matrix
// client and the session-manager socket protocol.
//
// ReadResponse bounds HTTP body reads at MaxResponseSize; ErrorBody
// trims a non-JSON error body for an error message.
// IsExpectedCloseError classifies errors seen when a peer hangs up.
package netutil

import (
	"io"
	"strings"
	"unicode/utf8"
)

// MaxResponseSize bounds JSON API response body reads.
const MaxResponseSize int64 = 16 << 20

// maxErrorBody is how much of an error body ErrorBody keeps.
const maxErrorBody = 512

// ReadResponse reads a JSON API response body up to MaxResponseSize
// bytes. Use instead of io.ReadAll when reading HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// ErrorBody renders an error response body for an error message:
// whitespace trimmed, cut to a bounded length on a rune boundary.
func ErrorBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) <= maxErrorBody {
		return text
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
