// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Package screen provides the terminal screens for tandem: the login
// form and the roster.
//
// Screens are bubbletea models that render coordinator state and
// forward user intent. They never compute presentation state
// themselves: the login screen draws whatever [login.Form] the
// coordinator publishes, and the roster screen draws the roster
// loader's list and the discovery pipeline's status and notices.
//
// Reactive values reach the bubbletea program through commands that
// block on a subscription channel and re-arm after each delivery.
// Coordinator calls (start, cancel, input changes) also run as
// commands so Update never blocks on the coordination loop.
package screen
