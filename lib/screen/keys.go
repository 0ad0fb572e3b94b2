// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package screen

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the key bindings shared by the screens.
type KeyMap struct {
	// Roster navigation.
	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding

	// Login form focus.
	NextField     key.Binding
	PreviousField key.Binding

	// Submit triggers the login button, or calls the selected contact.
	Submit key.Binding

	// Dismiss cancels a running search, or clears the filter.
	Dismiss key.Binding

	FilterActivate key.Binding
	Refresh        key.Binding

	// Quit leaves the roster; Interrupt leaves any screen, including
	// while a text field has focus.
	Quit      key.Binding
	Interrupt key.Binding
}

// DefaultKeyMap is the built-in key binding set. Vim-style navigation
// (j/k) works alongside the arrow keys outside of text fields.
var DefaultKeyMap = KeyMap{
	Up: key.NewBinding(
		key.WithKeys("k", "up"),
		key.WithHelp("k/↑", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("j", "down"),
		key.WithHelp("j/↓", "down"),
	),
	PageUp: key.NewBinding(
		key.WithKeys("pgup"),
		key.WithHelp("pgup", "page up"),
	),
	PageDown: key.NewBinding(
		key.WithKeys("pgdown"),
		key.WithHelp("pgdn", "page down"),
	),
	NextField: key.NewBinding(
		key.WithKeys("tab", "down"),
		key.WithHelp("tab", "next field"),
	),
	PreviousField: key.NewBinding(
		key.WithKeys("shift+tab", "up"),
		key.WithHelp("shift+tab", "previous field"),
	),
	Submit: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "submit"),
	),
	Dismiss: key.NewBinding(
		key.WithKeys("esc"),
		key.WithHelp("esc", "cancel"),
	),
	FilterActivate: key.NewBinding(
		key.WithKeys("/"),
		key.WithHelp("/", "filter"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r", "ctrl+r"),
		key.WithHelp("r", "refresh"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Interrupt: key.NewBinding(
		key.WithKeys("ctrl+c"),
		key.WithHelp("ctrl+c", "quit"),
	),
}
