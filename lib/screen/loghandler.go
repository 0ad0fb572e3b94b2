// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package screen

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// logRecordMsg delivers a slog record to the running screen.
type logRecordMsg struct {
	summary string
	level   slog.Level
}

// logFadeMsg clears the log line set by the record with the same
// sequence number.
type logFadeMsg struct{ sequence int }

// logFadeDelay is how long a log line stays on screen.
const logFadeDelay = 5 * time.Second

// ProgramLogHandler is a slog.Handler that routes records into the
// running bubbletea program instead of stderr, where they would tear
// the alternate screen. Records below the configured level, and
// records arriving while no program is set, are dropped.
//
// Handlers derived via WithAttrs and WithGroup share the program
// pointer, so SetProgram on the root reaches all of them.
type ProgramLogHandler struct {
	level   slog.Level
	program *atomic.Pointer[tea.Program]
	attrs   []slog.Attr
	group   string
}

// NewProgramLogHandler creates a handler delivering records at or
// above level.
func NewProgramLogHandler(level slog.Level) *ProgramLogHandler {
	return &ProgramLogHandler{
		level:   level,
		program: &atomic.Pointer[tea.Program]{},
	}
}

// SetProgram sets (or, with nil, clears) the receiving program. Safe
// to call from any goroutine.
func (handler *ProgramLogHandler) SetProgram(program *tea.Program) {
	handler.program.Store(program)
}

// Enabled implements slog.Handler.
func (handler *ProgramLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= handler.level
}

// Handle formats the record as "message (key=value, ...)" and sends
// it to the program.
func (handler *ProgramLogHandler) Handle(_ context.Context, record slog.Record) error {
	program := handler.program.Load()
	if program == nil {
		return nil
	}
	program.Send(logRecordMsg{summary: handler.summarize(record), level: record.Level})
	return nil
}

func (handler *ProgramLogHandler) summarize(record slog.Record) string {
	var parts []string
	for _, attr := range handler.attrs {
		parts = append(parts, handler.format(attr))
	}
	record.Attrs(func(attr slog.Attr) bool {
		parts = append(parts, handler.format(attr))
		return true
	})
	if len(parts) == 0 {
		return record.Message
	}
	return fmt.Sprintf("%s (%s)", record.Message, strings.Join(parts, ", "))
}

func (handler *ProgramLogHandler) format(attr slog.Attr) string {
	name := attr.Key
	if handler.group != "" {
		name = handler.group + "." + name
	}
	return fmt.Sprintf("%s=%s", name, attr.Value)
}

// WithAttrs implements slog.Handler.
func (handler *ProgramLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := *handler
	derived.attrs = append(append([]slog.Attr(nil), handler.attrs...), attrs...)
	return &derived
}

// WithGroup implements slog.Handler.
func (handler *ProgramLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return handler
	}
	derived := *handler
	if derived.group != "" {
		derived.group += "." + name
	} else {
		derived.group = name
	}
	return &derived
}
