// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package screen

import (
	"context"
	"io"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tandem-chat/tandem/lib/loop"
	"github.com/tandem-chat/tandem/lib/testutil"
)

const waitTimeout = 5 * time.Second

var plainRenderer = NewRenderer(io.Discard, true)

// startLoop runs a coordination loop for the duration of the test.
func startLoop(t *testing.T) (*loop.Loop, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	l := loop.New(loop.Config{})
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l, ctx
}

// run executes command and returns its message.
func run(t *testing.T, command tea.Cmd) tea.Msg {
	t.Helper()
	if command == nil {
		return nil
	}
	result := make(chan tea.Msg, 1)
	go func() { result <- command() }()
	return testutil.RequireReceive(t, result, waitTimeout, "command did not complete")
}

// runAll executes command, expanding batches, and returns every
// non-nil message. Only use it on commands that all complete.
func runAll(t *testing.T, command tea.Cmd) []tea.Msg {
	t.Helper()
	message := run(t, command)
	if batch, ok := message.(tea.BatchMsg); ok {
		var messages []tea.Msg
		for _, inner := range batch {
			messages = append(messages, runAll(t, inner)...)
		}
		return messages
	}
	if message == nil {
		return nil
	}
	return []tea.Msg{message}
}

// press delivers a key to model and feeds the messages of the
// resulting commands back in.
func press(t *testing.T, model tea.Model, keyMessage tea.KeyMsg) tea.Model {
	t.Helper()
	model, command := model.Update(keyMessage)
	for _, message := range runAll(t, command) {
		model, _ = model.Update(message)
	}
	return model
}

// typeText delivers text one rune at a time.
func typeText(t *testing.T, model tea.Model, text string) tea.Model {
	t.Helper()
	for _, r := range text {
		model = press(t, model, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
	return model
}

func keyOf(keyType tea.KeyType) tea.KeyMsg {
	return tea.KeyMsg{Type: keyType}
}
