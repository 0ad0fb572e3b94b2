// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/cancel"
	"github.com/tandem-chat/tandem/lib/gateway"
	"github.com/tandem-chat/tandem/lib/loop"
	"github.com/tandem-chat/tandem/lib/reactive"
	"github.com/tandem-chat/tandem/lib/secret"
)

// credentialRequiredMessage is shown on the credential field when the
// login is started with an empty credential.
const credentialRequiredMessage = "credential required"

// CredentialStore persists the credential of a successful login.
// Implemented by *credstore.Store.
type CredentialStore interface {
	Store(ctx context.Context, account address.Address, credential *secret.Buffer) error
}

// Host is the screen (or command) that owns the coordinator. Finish is
// called once per successful login, on the loop goroutine.
type Host interface {
	Finish(result Result)
}

// HostFunc adapts a function to Host.
type HostFunc func(Result)

// Finish calls f(result).
func (f HostFunc) Finish(result Result) { f(result) }

// Result describes a successful login.
type Result struct {
	Address address.Address
	Mode    Mode
}

// Config configures a Coordinator.
type Config struct {
	Gateway *gateway.Gateway
	Loop    *loop.Loop

	// Store receives the credential of every successful login. Nil
	// skips persistence.
	Store CredentialStore

	// Host is notified of success. Nil is allowed.
	Host Host

	// Mode and Preset select update mode: the address field is locked
	// to Preset and StartLogin ignores the typed address.
	Mode   Mode
	Preset address.Address

	Logger *slog.Logger
}

// Coordinator drives the Idle ⇄ Authenticating state machine of one
// login screen. All state is owned by the loop goroutine; the public
// methods enter the loop with loop.Call, so the state they publish is
// visible when they return.
type Coordinator struct {
	gateway *gateway.Gateway
	loop    *loop.Loop
	store   CredentialStore
	host    Host
	mode    Mode
	preset  address.Address
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	status   *reactive.State[Status]
	form     *reactive.State[Form]
	failures *reactive.Event[error]
	registry *cancel.Registry

	// Loop-owned.
	generation uint64
	current    *attempt
	filled     bool
	closed     bool
}

// attempt is one login in flight. canceled is set once the attempt is
// no longer wanted (user cancel, disconnect, Close) and is read by the
// worker, so it is atomic. The worker's completion closes credential.
type attempt struct {
	generation uint64
	account    address.Address
	credential *secret.Buffer
	canceled   atomic.Bool
}

// New creates a Coordinator in StatusIdle and subscribes it to the
// gateway's disconnect signal.
func New(config Config) (*Coordinator, error) {
	if config.Gateway == nil {
		return nil, errors.New("login: Gateway is required")
	}
	if config.Loop == nil {
		return nil, errors.New("login: Loop is required")
	}
	if config.Mode == ModeUpdate && config.Preset.IsEmpty() {
		return nil, errors.New("login: update mode requires a preset address")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancelFunc := context.WithCancel(context.Background())

	c := &Coordinator{
		gateway:  config.Gateway,
		loop:     config.Loop,
		store:    config.Store,
		host:     config.Host,
		mode:     config.Mode,
		preset:   config.Preset,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancelFunc,
		status:   reactive.NewState(StatusIdle),
		form:     reactive.NewState(Form{}),
		failures: reactive.NewEvent[error](),
		registry: cancel.NewRegistry(),
	}
	c.registry.Track(c.status.Observe(c.render))
	c.registry.Track(c.gateway.OnDisconnect(func(error) {
		c.loop.Post(c.handleDisconnect)
	}))
	return c, nil
}

// Status is the coordinator's state, for screens to observe.
func (c *Coordinator) Status() *reactive.State[Status] { return c.status }

// Form is the derived presentation state.
func (c *Coordinator) Form() *reactive.State[Form] { return c.form }

// Failures emits *AuthenticationFailedError for a refused credential,
// ErrConnectionLost, ErrSessionManagerUnavailable (wrapped), and the
// wrapped error of any other failed login.
func (c *Coordinator) Failures() *reactive.Event[error] { return c.failures }

// StartLogin validates addressText and starts a login. A malformed
// address leaves the coordinator Idle, sets the address field error,
// and returns *InvalidAddressError without touching the gateway.
// Otherwise the coordinator is Authenticating when StartLogin returns
// and the connection, session, and authentication proceed in the
// background.
func (c *Coordinator) StartLogin(ctx context.Context, addressText, credentialText string) error {
	var result error
	if err := c.loop.Call(ctx, func() {
		result = c.startLogin(addressText, credentialText)
	}); err != nil {
		return err
	}
	return result
}

func (c *Coordinator) startLogin(addressText, credentialText string) error {
	if c.closed {
		return ErrClosed
	}
	if c.current != nil {
		return ErrBusy
	}
	if c.mode == ModeUpdate {
		addressText = c.preset.String()
	}

	account, err := address.Parse(addressText)
	if err != nil {
		c.form.Update(func(form *Form) {
			form.AddressError = malformedAddressMessage
			form.CredentialError = ""
		})
		return &InvalidAddressError{Input: addressText, Err: err}
	}
	credential, err := secret.NewFromString(credentialText)
	if err != nil {
		c.form.Update(func(form *Form) {
			form.AddressError = ""
			form.CredentialError = credentialRequiredMessage
		})
		return fmt.Errorf("login: %w", err)
	}

	c.generation++
	current := &attempt{
		generation: c.generation,
		account:    account,
		credential: credential,
	}
	c.current = current
	c.logger.Info("login started", "address", account, "generation", current.generation)
	c.status.Set(StatusAuthenticating)

	c.registry.Track(loop.Submit(c.loop, c.ctx,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.authenticate(ctx, current)
		},
		func(_ struct{}, err error) {
			c.complete(current, err)
		}))
	return nil
}

// authenticate runs on a worker: obtain the session, log in, persist
// the credential.
func (c *Coordinator) authenticate(ctx context.Context, current *attempt) error {
	handle, err := c.gateway.SessionFor(ctx, current.account)
	if err != nil {
		if errors.Is(err, gateway.ErrUnavailable) {
			return fmt.Errorf("%w: %w", ErrSessionManagerUnavailable, err)
		}
		return err
	}
	if current.canceled.Load() {
		// The cancel found no session to dispose; this one belongs to
		// the cancelled attempt. A later SessionFor for the account
		// waits the disposal out, so the worker does not.
		handle.Dispose()
		return context.Canceled
	}

	if err := handle.Session().Login(ctx, current.credential.Bytes()); err != nil {
		return classifyLoginError(handle, current.account, err)
	}
	if current.canceled.Load() {
		return context.Canceled
	}
	if c.store != nil {
		if err := c.store.Store(ctx, current.account, current.credential); err != nil {
			return fmt.Errorf("login: saving credential: %w", err)
		}
	}
	return nil
}

// classifyLoginError maps a Login failure to what the user is told.
// Only a refusal by the session manager is an authentication failure.
// A failure caused by the connection dropping is ErrConnectionLost even
// when it arrives before the gateway's disconnect signal.
func classifyLoginError(handle *gateway.SessionHandle, account address.Address, err error) error {
	switch {
	case handle.Lost() || errors.Is(err, gateway.ErrDisconnected):
		return ErrConnectionLost
	case gateway.IsRejected(err):
		return &AuthenticationFailedError{
			Address: account,
			Message: displayMessage(err),
			Err:     err,
		}
	default:
		return fmt.Errorf("login: authenticating %s: %w", account, err)
	}
}

// complete applies a worker result on the loop.
func (c *Coordinator) complete(current *attempt, err error) {
	current.credential.Close()
	if !c.isCurrent(current) || current.canceled.Load() {
		c.logger.Debug("stale login completion ignored", "generation", current.generation, "error", err)
		return
	}
	c.finishAttempt()

	if err == nil {
		c.logger.Info("login succeeded", "address", current.account)
		if c.host != nil {
			c.host.Finish(Result{Address: current.account, Mode: c.mode})
		}
		c.status.Set(StatusIdle)
		return
	}

	if errors.Is(err, ErrConnectionLost) {
		c.logger.Warn("login interrupted by connection loss", "address", current.account)
	} else {
		c.logger.Warn("login failed", "address", current.account, "error", err)
	}
	c.status.Set(StatusIdle)
	message := err.Error()
	var authErr *AuthenticationFailedError
	if errors.As(err, &authErr) {
		message = authErr.Message
	} else if errors.Is(err, ErrSessionManagerUnavailable) {
		message = ErrSessionManagerUnavailable.Error()
	}
	c.form.Update(func(form *Form) { form.CredentialError = message })
	c.failures.Emit(err)
}

// CancelLogin cancels the login in flight by disposing its session.
// The trigger is disabled at once; the coordinator returns to Idle
// only when the disposal completes. A no-op when Idle or when a
// cancel is already pending.
func (c *Coordinator) CancelLogin(ctx context.Context) error {
	return c.loop.Call(ctx, c.cancelLogin)
}

func (c *Coordinator) cancelLogin() {
	current := c.current
	if current == nil || current.canceled.Load() {
		return
	}
	current.canceled.Store(true)
	c.logger.Info("login cancel requested", "address", current.account, "generation", current.generation)
	c.form.Update(func(form *Form) { form.TriggerEnabled = false })

	disposed := c.gateway.DisposeSession(current.account)
	c.registry.Track(cancel.Go(c.ctx, func(ctx context.Context) {
		select {
		case <-disposed:
			c.loop.Post(func() { c.canceled(current) })
		case <-ctx.Done():
		}
	}))
}

// canceled runs on the loop once the session disposal has completed.
func (c *Coordinator) canceled(current *attempt) {
	if !c.isCurrent(current) {
		return
	}
	c.finishAttempt()
	c.logger.Info("login canceled", "address", current.account)
	c.status.Set(StatusIdle)
}

// handleDisconnect runs on the loop when the gateway connection drops.
func (c *Coordinator) handleDisconnect() {
	current := c.current
	if current == nil {
		return
	}
	current.canceled.Store(true)
	c.finishAttempt()
	c.logger.Warn("login interrupted by connection loss", "address", current.account)
	c.status.Set(StatusIdle)
	c.form.Update(func(form *Form) { form.CredentialError = ErrConnectionLost.Error() })
	c.failures.Emit(ErrConnectionLost)
}

// InputChanged records the current field contents. The trigger is
// enabled only while both are non-empty (in update mode, only the
// credential counts).
func (c *Coordinator) InputChanged(ctx context.Context, addressText, credentialText string) error {
	return c.loop.Call(ctx, func() {
		filled := credentialText != "" && (c.mode == ModeUpdate || addressText != "")
		if filled == c.filled {
			return
		}
		c.filled = filled
		if c.current == nil {
			c.form.Update(func(form *Form) { form.TriggerEnabled = filled })
		}
	})
}

// Close cancels everything the coordinator started and completes its
// states. The in-flight login, if any, is abandoned without disposing
// its session. Idempotent.
func (c *Coordinator) Close() {
	c.loop.Call(context.Background(), func() {
		if c.closed {
			return
		}
		c.closed = true
		if c.current != nil {
			c.current.canceled.Store(true)
			c.finishAttempt()
		}
	})
	c.cancel()
	c.registry.CancelAll()
	c.status.Complete()
	c.form.Complete()
}

func (c *Coordinator) isCurrent(current *attempt) bool {
	return c.current != nil && c.current == current && c.current.generation == c.generation
}

// finishAttempt clears the current attempt and advances the
// generation so any completion still in flight is recognised as
// stale.
func (c *Coordinator) finishAttempt() {
	c.current = nil
	c.generation++
}

// render derives the form from a status transition. It runs exactly
// once per transition (State suppresses repeats).
func (c *Coordinator) render(status Status) {
	preset := ""
	if c.mode == ModeUpdate {
		preset = c.preset.String()
	}
	switch status {
	case StatusAuthenticating:
		c.form.Set(authenticatingForm(preset))
	default:
		c.form.Set(idleForm(c.mode, preset, c.filled))
	}
}
