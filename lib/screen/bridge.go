// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package screen

import (
	"context"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tandem-chat/tandem/lib/cancel"
)

// callTimeout bounds a coordinator call made from a screen command.
// The coordination loop answers in microseconds unless it is stopped.
const callTimeout = 5 * time.Second

// receive returns a command that waits for the next value on channel
// and wraps it as a message. It returns nil once done is closed, which
// ends the subscription's chain of commands.
func receive[T any](channel <-chan T, done <-chan struct{}, wrap func(T) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		select {
		case value := <-channel:
			return wrap(value)
		case <-done:
			return nil
		}
	}
}

// errorMsg carries the failure of a coordinator call.
type errorMsg struct{ err error }

// invoke returns a command that runs a coordinator call with a
// bounded context. A failure is delivered as an errorMsg.
func invoke(call func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		if err := call(ctx); err != nil {
			return errorMsg{err: err}
		}
		return nil
	}
}

// feeds owns a screen's subscriptions. It is shared by every copy of
// the (value-typed) model.
type feeds struct {
	done     chan struct{}
	once     sync.Once
	registry *cancel.Registry
}

func newFeeds() *feeds {
	return &feeds{done: make(chan struct{}), registry: cancel.NewRegistry()}
}

func (f *feeds) track(subscriptions ...*cancel.Subscription) {
	for _, subscription := range subscriptions {
		f.registry.Track(subscription)
	}
}

func (f *feeds) close() {
	f.once.Do(func() {
		close(f.done)
		f.registry.CancelAll()
	})
}
