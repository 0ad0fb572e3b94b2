// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package screen

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme defines the color palette for tandem's screens. All colors use
// ANSI 256-color codes for broad terminal compatibility.
type Theme struct {
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Selected roster row.
	SelectedBackground lipgloss.Color
	SelectedForeground lipgloss.Color

	HeaderForeground lipgloss.Color
	BorderColor      lipgloss.Color
	HelpText         lipgloss.Color

	// Field errors and failure lines.
	ErrorText lipgloss.Color

	// The notices line under the roster.
	NoticeText lipgloss.Color

	// Characters matched by the roster filter.
	MatchForeground lipgloss.Color

	Spinner lipgloss.Color
}

// DefaultTheme is the built-in dark theme.
var DefaultTheme = Theme{
	NormalText:         lipgloss.Color("252"),
	FaintText:          lipgloss.Color("243"),
	SelectedBackground: lipgloss.Color("237"),
	SelectedForeground: lipgloss.Color("255"),
	HeaderForeground:   lipgloss.Color("75"),
	BorderColor:        lipgloss.Color("240"),
	HelpText:           lipgloss.Color("245"),
	ErrorText:          lipgloss.Color("203"),
	NoticeText:         lipgloss.Color("180"),
	MatchForeground:    lipgloss.Color("214"),
	Spinner:            lipgloss.Color("75"),
}

// NewRenderer returns a lipgloss renderer writing to output. With
// plain set, styles render without any escape sequences (tests,
// NO_COLOR, dumb terminals).
func NewRenderer(output io.Writer, plain bool) *lipgloss.Renderer {
	if plain {
		return lipgloss.NewRenderer(output, termenv.WithProfile(termenv.Ascii))
	}
	return lipgloss.NewRenderer(output, termenv.WithColorCache(true))
}

// styles are the theme's colors bound to a renderer.
type styles struct {
	normal   lipgloss.Style
	faint    lipgloss.Style
	header   lipgloss.Style
	selected lipgloss.Style
	help     lipgloss.Style
	err      lipgloss.Style
	notice   lipgloss.Style
	match    lipgloss.Style
	// match on the selected row
	selectedMatch lipgloss.Style
	button        lipgloss.Style
	disabled      lipgloss.Style
	spinner       lipgloss.Style
	frame         lipgloss.Style
}

func newStyles(renderer *lipgloss.Renderer, theme Theme) styles {
	return styles{
		normal: renderer.NewStyle().Foreground(theme.NormalText),
		faint:  renderer.NewStyle().Foreground(theme.FaintText),
		header: renderer.NewStyle().Foreground(theme.HeaderForeground).Bold(true),
		selected: renderer.NewStyle().
			Foreground(theme.SelectedForeground).
			Background(theme.SelectedBackground),
		help:   renderer.NewStyle().Foreground(theme.HelpText),
		err:    renderer.NewStyle().Foreground(theme.ErrorText),
		notice: renderer.NewStyle().Foreground(theme.NoticeText),
		match:  renderer.NewStyle().Foreground(theme.MatchForeground).Bold(true),
		selectedMatch: renderer.NewStyle().
			Foreground(theme.MatchForeground).
			Background(theme.SelectedBackground).
			Bold(true),
		button: renderer.NewStyle().
			Foreground(theme.SelectedForeground).
			Background(theme.HeaderForeground).
			Padding(0, 1),
		disabled: renderer.NewStyle().
			Foreground(theme.FaintText).
			Background(theme.SelectedBackground).
			Padding(0, 1),
		spinner: renderer.NewStyle().Foreground(theme.Spinner),
		frame: renderer.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(theme.BorderColor).
			Padding(0, 1),
	}
}
