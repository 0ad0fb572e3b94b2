// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package screen

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tandem-chat/tandem/lib/login"
)

type loginField int

const (
	fieldAddress loginField = iota
	fieldCredential
)

type loginFormMsg struct{ form login.Form }

type loginFailureMsg struct{ err error }

type loginFinishedMsg struct{ result login.Result }

// LoginOptions configures a LoginModel. Zero values select defaults.
type LoginOptions struct {
	Theme    *Theme
	Keys     *KeyMap
	Renderer *lipgloss.Renderer

	// Finished delivers the coordinator host's result. The screen
	// records it and quits. Nil means the screen runs until
	// interrupted.
	Finished <-chan login.Result

	// Title is shown above the form. Empty means "Sign in".
	Title string
}

// LoginModel is the login form. It renders the coordinator's
// login.Form and forwards input changes, submit, and cancel.
type LoginModel struct {
	coordinator *login.Coordinator
	keys        KeyMap
	styles      styles
	title       string

	address    textinput.Model
	credential textinput.Model
	spinner    spinner.Model
	focus      loginField

	form     login.Form
	failure  string
	result   *login.Result
	quitting bool

	forms    <-chan login.Form
	failures <-chan error
	finished <-chan login.Result
	feeds    *feeds
}

// NewLoginModel subscribes to the coordinator's form and failures.
// Call Close when the program has exited.
func NewLoginModel(coordinator *login.Coordinator, options LoginOptions) LoginModel {
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
	title := options.Title
	if title == "" {
		title = "Sign in"
	}

	address := textinput.New()
	address.Prompt = ""
	address.Placeholder = "user@example.org"
	address.CharLimit = 3 * 1023
	address.Cursor.SetMode(cursor.CursorStatic)

	credential := textinput.New()
	credential.Prompt = ""
	credential.Placeholder = "password"
	credential.EchoMode = textinput.EchoPassword
	credential.EchoCharacter = '•'
	credential.Cursor.SetMode(cursor.CursorStatic)

	model := LoginModel{
		coordinator: coordinator,
		keys:        keys,
		styles:      newStyles(renderer, theme),
		title:       title,
		address:     address,
		credential:  credential,
		spinner:     spinner.New(spinner.WithSpinner(spinner.Dot)),
		finished:    options.Finished,
		feeds:       newFeeds(),
	}
	model.spinner.Style = model.styles.spinner

	forms, formSubscription := coordinator.Form().Changes(4)
	failures, failureSubscription := coordinator.Failures().Channel(4)
	model.forms = forms
	model.failures = failures
	model.feeds.track(formSubscription, failureSubscription)

	// The form replays its current value into the channel; apply it
	// now so the first frame is already correct.
	select {
	case form := <-forms:
		model.applyForm(form)
	default:
	}
	return model
}

// Result is the login result, once the coordinator's host reported
// success.
func (model LoginModel) Result() (login.Result, bool) {
	if model.result == nil {
		return login.Result{}, false
	}
	return *model.result, true
}

// Close releases the model's subscriptions and ends its pending
// commands. Idempotent.
func (model LoginModel) Close() { model.feeds.close() }

// Init implements tea.Model.
func (model LoginModel) Init() tea.Cmd {
	commands := []tea.Cmd{
		model.waitForm(),
		model.waitFailure(),
		model.spinner.Tick,
	}
	if model.finished != nil {
		commands = append(commands, model.waitFinished())
	}
	return tea.Batch(commands...)
}

func (model LoginModel) waitForm() tea.Cmd {
	return receive(model.forms, model.feeds.done, func(form login.Form) tea.Msg {
		return loginFormMsg{form: form}
	})
}

func (model LoginModel) waitFailure() tea.Cmd {
	return receive(model.failures, model.feeds.done, func(err error) tea.Msg {
		return loginFailureMsg{err: err}
	})
}

func (model LoginModel) waitFinished() tea.Cmd {
	return receive(model.finished, model.feeds.done, func(result login.Result) tea.Msg {
		return loginFinishedMsg{result: result}
	})
}

// Update implements tea.Model.
func (model LoginModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch message := message.(type) {
	case loginFormMsg:
		model.applyForm(message.form)
		return model, model.waitForm()

	case loginFailureMsg:
		// The field error already carries the message. Clear the
		// credential so the next attempt starts from an empty field.
		model.credential.SetValue("")
		model.setFocus(fieldCredential)
		return model, tea.Batch(model.waitFailure(), model.inputChanged())

	case loginFinishedMsg:
		result := message.result
		model.result = &result
		model.quitting = true
		return model, tea.Quit

	case errorMsg:
		var invalid *login.InvalidAddressError
		if !errors.As(message.err, &invalid) {
			model.failure = message.err.Error()
		}
		return model, nil

	case spinner.TickMsg:
		var command tea.Cmd
		model.spinner, command = model.spinner.Update(message)
		return model, command

	case tea.KeyMsg:
		return model.handleKey(message)
	}
	return model, nil
}

func (model LoginModel) handleKey(message tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(message, model.keys.Interrupt):
		model.quitting = true
		return model, tea.Quit

	case key.Matches(message, model.keys.Submit):
		return model, model.submit()

	case key.Matches(message, model.keys.NextField):
		model.setFocus(model.nextField(1))
		return model, nil

	case key.Matches(message, model.keys.PreviousField):
		model.setFocus(model.nextField(-1))
		return model, nil
	}

	model.failure = ""
	before := model.address.Value() + "\x00" + model.credential.Value()
	var command tea.Cmd
	switch model.focus {
	case fieldAddress:
		model.address, command = model.address.Update(message)
	case fieldCredential:
		model.credential, command = model.credential.Update(message)
	}
	if model.address.Value()+"\x00"+model.credential.Value() == before {
		return model, command
	}
	return model, tea.Batch(command, model.inputChanged())
}

// submit presses the trigger: log in when it reads "Log in", cancel
// when it reads "Cancel". A disabled trigger does nothing.
func (model LoginModel) submit() tea.Cmd {
	if !model.form.TriggerEnabled {
		return nil
	}
	coordinator := model.coordinator
	if model.form.TriggerLabel == login.LabelCancel {
		return invoke(coordinator.CancelLogin)
	}
	addressText := strings.TrimSpace(model.address.Value())
	credentialText := model.credential.Value()
	return invoke(func(ctx context.Context) error {
		return coordinator.StartLogin(ctx, addressText, credentialText)
	})
}

func (model LoginModel) inputChanged() tea.Cmd {
	coordinator := model.coordinator
	addressText := strings.TrimSpace(model.address.Value())
	credentialText := model.credential.Value()
	return invoke(func(ctx context.Context) error {
		return coordinator.InputChanged(ctx, addressText, credentialText)
	})
}

// applyForm takes over a published form: field enablement, the locked
// address, and focus.
func (model *LoginModel) applyForm(form login.Form) {
	model.form = form
	if form.Address != "" {
		model.address.SetValue(form.Address)
	}
	switch {
	case model.enabled(model.focus):
		model.setFocus(model.focus)
	case model.enabled(fieldCredential):
		model.setFocus(fieldCredential)
	default:
		model.address.Blur()
		model.credential.Blur()
	}
}

func (model LoginModel) enabled(field loginField) bool {
	switch field {
	case fieldAddress:
		return model.form.AddressEnabled
	case fieldCredential:
		return model.form.CredentialEnabled
	}
	return false
}

// nextField returns the next enabled field in direction, or the
// current one when no other field is enabled.
func (model LoginModel) nextField(direction int) loginField {
	candidate := model.focus
	for range 2 {
		candidate = loginField((int(candidate) + direction + 2) % 2)
		if model.enabled(candidate) {
			return candidate
		}
	}
	return model.focus
}

func (model *LoginModel) setFocus(field loginField) {
	if !model.enabled(field) {
		return
	}
	model.focus = field
	if field == fieldAddress {
		model.address.Focus()
		model.credential.Blur()
	} else {
		model.credential.Focus()
		model.address.Blur()
	}
}

// View implements tea.Model.
func (model LoginModel) View() string {
	if model.quitting {
		return ""
	}
	s := model.styles
	var lines []string
	lines = append(lines, s.header.Render(model.title), "")

	lines = append(lines, model.fieldLabel("Address", fieldAddress, model.form.AddressEnabled))
	lines = append(lines, model.address.View())
	if model.form.AddressError != "" {
		lines = append(lines, s.err.Render(model.form.AddressError))
	}
	lines = append(lines, "")

	lines = append(lines, model.fieldLabel("Password", fieldCredential, model.form.CredentialEnabled))
	lines = append(lines, model.credential.View())
	if model.form.CredentialError != "" {
		lines = append(lines, s.err.Render(model.form.CredentialError))
	}
	lines = append(lines, "")

	button := s.disabled.Render(model.form.TriggerLabel)
	if model.form.TriggerEnabled {
		button = s.button.Render(model.form.TriggerLabel)
	}
	if model.form.Progress {
		button = lipgloss.JoinHorizontal(lipgloss.Center, button, " ", model.spinner.View(), s.faint.Render(" signing in"))
	}
	lines = append(lines, button)

	if model.failure != "" {
		lines = append(lines, "", s.err.Render(model.failure))
	}
	lines = append(lines, "", s.help.Render("tab: next field • enter: submit • ctrl+c: quit"))
	return s.frame.Render(strings.Join(lines, "\n"))
}

func (model LoginModel) fieldLabel(label string, field loginField, enabled bool) string {
	switch {
	case !enabled:
		return model.styles.faint.Render(label)
	case model.focus == field:
		return model.styles.header.Render(label)
	default:
		return model.styles.normal.Render(label)
	}
}
