// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package screen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/junegunn/fzf/src/util"

	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/discovery"
	"github.com/tandem-chat/tandem/lib/roster"
)

// defaultRosterRows is the number of visible rows before the first
// window size arrives.
const defaultRosterRows = 10

// rosterChrome is the number of lines the roster view spends on
// everything except rows.
const rosterChrome = 9

type rosterMsg struct{ entries []address.Address }

type rosterLoadingMsg struct{ loading bool }

type discoveryStatusMsg struct{ status discovery.Status }

type rosterNoticeMsg struct{ text string }

type discoveryNoticeMsg struct{ notice discovery.Notice }

// RosterOptions configures a RosterModel. Zero values select
// defaults.
type RosterOptions struct {
	Theme    *Theme
	Keys     *KeyMap
	Renderer *lipgloss.Renderer
}

// RosterModel lists the local account and its contacts. Enter starts a
// search for a callable device of the selected entry; Esc dismisses a
// running search. Typing "/" filters the list with fzf-style fuzzy
// matching.
type RosterModel struct {
	loader   *roster.Loader
	pipeline *discovery.Pipeline
	keys     KeyMap
	styles   styles

	filter    textinput.Model
	filtering bool
	slab      *util.Slab

	entries []address.Address
	matches []match
	cursor  int
	offset  int
	rows    int
	width   int

	loading   bool
	status    discovery.Status
	searching address.Address
	spinner   spinner.Model

	notice      string
	noticeError bool

	logLine     string
	logLevel    slog.Level
	logSequence int

	quitting bool

	rosters          <-chan []address.Address
	loadings         <-chan bool
	statuses         <-chan discovery.Status
	rosterNotices    <-chan string
	discoveryNotices <-chan discovery.Notice
	feeds            *feeds
}

// NewRosterModel subscribes to the loader and the pipeline. Call
// Close when the program has exited.
func NewRosterModel(loader *roster.Loader, pipeline *discovery.Pipeline, options RosterOptions) RosterModel {
	theme := DefaultTheme
	if options.Theme != nil {
		theme = *options.Theme
	}
	keys := DefaultKeyMap
	if options.Keys != nil {
		keys = *options.Keys
	}
	renderer := options.Renderer
	if renderer == nil {
		renderer = lipgloss.DefaultRenderer()
	}

	filter := textinput.New()
	filter.Prompt = "/ "
	filter.Placeholder = "filter"
	filter.Cursor.SetMode(cursor.CursorStatic)

	model := RosterModel{
		loader:   loader,
		pipeline: pipeline,
		keys:     keys,
		styles:   newStyles(renderer, theme),
		filter:   filter,
		slab:     newSlab(),
		rows:     defaultRosterRows,
		spinner:  spinner.New(spinner.WithSpinner(spinner.MiniDot)),
		feeds:    newFeeds(),
	}
	model.spinner.Style = model.styles.spinner

	rosters, rosterSubscription := loader.Roster().Changes(4)
	loadings, loadingSubscription := loader.Loading().Changes(4)
	statuses, statusSubscription := pipeline.Status().Changes(4)
	rosterNotices, rosterNoticeSubscription := loader.Notices().Channel(8)
	discoveryNotices, discoveryNoticeSubscription := pipeline.Notices().Channel(8)
	model.rosters = rosters
	model.loadings = loadings
	model.statuses = statuses
	model.rosterNotices = rosterNotices
	model.discoveryNotices = discoveryNotices
	model.feeds.track(rosterSubscription, loadingSubscription, statusSubscription,
		rosterNoticeSubscription, discoveryNoticeSubscription)

	select {
	case entries := <-rosters:
		model.setEntries(entries)
	default:
	}
	select {
	case loading := <-loadings:
		model.loading = loading
	default:
	}
	select {
	case status := <-statuses:
		model.status = status
	default:
	}
	return model
}

// Close releases the model's subscriptions and ends its pending
// commands. Idempotent.
func (model RosterModel) Close() { model.feeds.close() }

// Selected is the entry under the cursor.
func (model RosterModel) Selected() (address.Address, bool) {
	if model.cursor < 0 || model.cursor >= len(model.matches) {
		return address.Empty, false
	}
	return model.matches[model.cursor].address, true
}

// Init implements tea.Model. It also requests a roster refresh.
func (model RosterModel) Init() tea.Cmd {
	return tea.Batch(
		model.waitRoster(),
		model.waitLoading(),
		model.waitStatus(),
		model.waitRosterNotice(),
		model.waitDiscoveryNotice(),
		model.spinner.Tick,
		model.refresh(),
	)
}

func (model RosterModel) waitRoster() tea.Cmd {
	return receive(model.rosters, model.feeds.done, func(entries []address.Address) tea.Msg {
		return rosterMsg{entries: entries}
	})
}

func (model RosterModel) waitLoading() tea.Cmd {
	return receive(model.loadings, model.feeds.done, func(loading bool) tea.Msg {
		return rosterLoadingMsg{loading: loading}
	})
}

func (model RosterModel) waitStatus() tea.Cmd {
	return receive(model.statuses, model.feeds.done, func(status discovery.Status) tea.Msg {
		return discoveryStatusMsg{status: status}
	})
}

func (model RosterModel) waitRosterNotice() tea.Cmd {
	return receive(model.rosterNotices, model.feeds.done, func(text string) tea.Msg {
		return rosterNoticeMsg{text: text}
	})
}

func (model RosterModel) waitDiscoveryNotice() tea.Cmd {
	return receive(model.discoveryNotices, model.feeds.done, func(notice discovery.Notice) tea.Msg {
		return discoveryNoticeMsg{notice: notice}
	})
}

func (model RosterModel) refresh() tea.Cmd {
	return invoke(model.loader.Refresh)
}

// Update implements tea.Model.
func (model RosterModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case rosterMsg:
		model.setEntries(message.entries)
		return model, model.waitRoster()

	case rosterLoadingMsg:
		model.loading = message.loading
		return model, model.waitLoading()

	case discoveryStatusMsg:
		model.status = message.status
		if message.status == discovery.StatusIdle {
			model.searching = address.Empty
		}
		return model, model.waitStatus()

	case rosterNoticeMsg:
		model.notice = message.text
		model.noticeError = true
		return model, model.waitRosterNotice()

	case discoveryNoticeMsg:
		model.notice = message.notice.Message()
		switch message.notice.Kind {
		case discovery.NoticeQueryFailed, discovery.NoticeLaunchFailed:
			model.noticeError = true
		case discovery.NoticeResult:
			model.noticeError = message.notice.Outcome.Err != nil
		default:
			model.noticeError = false
		}
		return model, model.waitDiscoveryNotice()

	case errorMsg:
		model.notice = message.err.Error()
		model.noticeError = true
		return model, nil

	case logRecordMsg:
		model.logSequence++
		model.logLine = message.summary
		model.logLevel = message.level
		sequence := model.logSequence
		return model, tea.Tick(logFadeDelay, func(time.Time) tea.Msg {
			return logFadeMsg{sequence: sequence}
		})

	case logFadeMsg:
		if message.sequence == model.logSequence {
			model.logLine = ""
		}
		return model, nil

	case spinner.TickMsg:
		var command tea.Cmd
		model.spinner, command = model.spinner.Update(message)
		return model, command

	case tea.WindowSizeMsg:
		model.width = message.Width
		model.rows = max(message.Height-rosterChrome, 3)
		model.clampOffset()
		return model, nil

	case tea.KeyMsg:
		if key.Matches(message, model.keys.Interrupt) {
			model.quitting = true
			return model, tea.Quit
		}
		if model.filtering {
			return model.handleFilterKey(message)
		}
		return model.handleKey(message)
	}
	return model, nil
}

func (model RosterModel) handleKey(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Quit):
		model.quitting = true
		return model, tea.Quit

	case key.Matches(message, model.keys.Up):
		model.moveCursor(-1)

	case key.Matches(message, model.keys.Down):
		model.moveCursor(1)

	case key.Matches(message, model.keys.PageUp):
		model.moveCursor(-model.rows)

	case key.Matches(message, model.keys.PageDown):
		model.moveCursor(model.rows)

	case key.Matches(message, model.keys.FilterActivate):
		model.filtering = true
		model.filter.Focus()

	case key.Matches(message, model.keys.Refresh):
		return model, model.refresh()

	case key.Matches(message, model.keys.Submit):
		return model.startDiscovery()

	case key.Matches(message, model.keys.Dismiss):
		if model.status == discovery.StatusSearching {
			return model, invoke(model.pipeline.CancelDiscovery)
		}
		if model.filter.Value() != "" {
			model.filter.SetValue("")
			model.applyFilter()
		}
	}
	return model, nil
}

// handleFilterKey routes keys while the filter has focus: Esc clears
// it, Enter keeps it and returns to the list, arrows still move the
// cursor, and everything else edits the pattern.
func (model RosterModel) handleFilterKey(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch message.Type {
	case tea.KeyEsc:
		model.filtering = false
		model.filter.Blur()
		model.filter.SetValue("")
		model.applyFilter()
		return model, nil
	case tea.KeyEnter:
		model.filtering = false
		model.filter.Blur()
		return model, nil
	case tea.KeyUp:
		model.moveCursor(-1)
		return model, nil
	case tea.KeyDown:
		model.moveCursor(1)
		return model, nil
	}

	before := model.filter.Value()
	var command tea.Cmd
	model.filter, command = model.filter.Update(message)
	if model.filter.Value() != before {
		model.applyFilter()
	}
	return model, command
}

func (model RosterModel) startDiscovery() (tea.Model, tea.Cmd) {
	if model.status == discovery.StatusSearching {
		return model, nil
	}
	selected, ok := model.Selected()
	if !ok {
		return model, nil
	}
	model.searching = selected
	model.notice = ""
	pipeline := model.pipeline
	return model, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
		defer cancel()
		err := pipeline.StartDiscovery(ctx, selected)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, discovery.ErrNoLocalAccount):
			return errorMsg{err: errors.New("no account is signed in")}
		default:
			return errorMsg{err: err}
		}
	}
}

// setEntries replaces the roster, keeping the selected entry under
// the cursor when it is still listed.
func (model *RosterModel) setEntries(entries []address.Address) {
	model.entries = entries
	model.applyFilter()
}

func (model *RosterModel) applyFilter() {
	selected, hadSelection := model.Selected()
	model.matches = fuzzyFilter(model.filter.Value(), model.entries, model.slab)
	model.cursor = 0
	if hadSelection {
		for index, found := range model.matches {
			if found.address == selected {
				model.cursor = index
				break
			}
		}
	}
	model.clampOffset()
}

func (model *RosterModel) moveCursor(delta int) {
	if len(model.matches) == 0 {
		return
	}
	model.cursor = min(max(model.cursor+delta, 0), len(model.matches)-1)
	model.clampOffset()
}

// clampOffset scrolls the window so the cursor is visible.
func (model *RosterModel) clampOffset() {
	if model.cursor < model.offset {
		model.offset = model.cursor
	}
	if model.cursor >= model.offset+model.rows {
		model.offset = model.cursor - model.rows + 1
	}
	model.offset = max(min(model.offset, len(model.matches)-model.rows), 0)
}

// View implements tea.Model.
func (model RosterModel) View() string {
	if model.quitting {
		return ""
	}
	s := model.styles
	var lines []string

	header := s.header.Render("Contacts")
	if model.loading {
		header += " " + model.spinner.View() + s.faint.Render(" loading")
	}
	lines = append(lines, header)

	if model.filtering || model.filter.Value() != "" {
		lines = append(lines, model.filter.View())
	} else {
		lines = append(lines, "")
	}

	if len(model.matches) == 0 {
		empty := "no contacts"
		if len(model.entries) > 0 {
			empty = "no matches"
		}
		lines = append(lines, s.faint.Render(empty))
	}
	end := min(model.offset+model.rows, len(model.matches))
	for index := model.offset; index < end; index++ {
		lines = append(lines, model.row(index))
	}
	lines = append(lines, "")

	if model.status == discovery.StatusSearching {
		target := "contact"
		if !model.searching.IsEmpty() {
			target = model.searching.String()
		}
		lines = append(lines, model.spinner.View()+s.normal.Render(fmt.Sprintf(" looking for a device of %s", target)))
	} else {
		lines = append(lines, "")
	}

	switch {
	case model.notice != "" && model.noticeError:
		lines = append(lines, s.err.Render(model.notice))
	case model.notice != "":
		lines = append(lines, s.notice.Render(model.notice))
	default:
		lines = append(lines, "")
	}

	if model.logLine != "" {
		style := s.notice
		if model.logLevel >= slog.LevelError {
			style = s.err
		}
		lines = append(lines, style.Render(model.logLine))
	} else {
		lines = append(lines, s.help.Render(model.helpLine()))
	}

	if model.width > 0 {
		for index, line := range lines {
			lines[index] = ansi.Truncate(line, model.width, "…")
		}
	}
	return strings.Join(lines, "\n")
}

func (model RosterModel) row(index int) string {
	found := model.matches[index]
	text := found.address.String()
	if index == model.cursor {
		return model.styles.selected.Render("> ") +
			highlight(text, found.positions, model.styles.selected, model.styles.selectedMatch)
	}
	return "  " + highlight(text, found.positions, model.styles.normal, model.styles.match)
}

func (model RosterModel) helpLine() string {
	switch {
	case model.filtering:
		return "type to filter • enter: keep • esc: clear"
	case model.status == discovery.StatusSearching:
		return "esc: stop searching • q: quit"
	default:
		return "enter: call • /: filter • r: refresh • q: quit"
	}
}
