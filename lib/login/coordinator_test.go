// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package login

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/gateway"
	"github.com/tandem-chat/tandem/lib/loop"
	"github.com/tandem-chat/tandem/lib/secret"
	"github.com/tandem-chat/tandem/lib/testutil"
)

const waitTimeout = 5 * time.Second

var alice = address.MustParse("alice@example.org")

type recordingStore struct {
	mu     sync.Mutex
	stored map[address.Address]string
}

func (s *recordingStore) Store(_ context.Context, account address.Address, credential *secret.Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stored == nil {
		s.stored = make(map[address.Address]string)
	}
	s.stored[account] = credential.String()
	return nil
}

func (s *recordingStore) get(account address.Address) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.stored[account]
	return value, ok
}

type harness struct {
	directory   *gateway.FakeDirectory
	connector   *gateway.FakeConnector
	gateway     *gateway.Gateway
	coordinator *Coordinator
	store       *recordingStore
	finished    chan Result
	statuses    chan Status
	failures    chan error
}

func newHarness(t *testing.T, directory *gateway.FakeDirectory, configure func(*Config)) *harness {
	t.Helper()
	ctx, cancelLoop := context.WithCancel(context.Background())
	l := loop.New(loop.Config{})
	go l.Run(ctx)

	connector := gateway.NewFakeConnector(directory)
	g := gateway.New(gateway.Config{Connector: connector})

	h := &harness{
		directory: directory,
		connector: connector,
		gateway:   g,
		store:     &recordingStore{},
		finished:  make(chan Result, 4),
		statuses:  make(chan Status, 16),
		failures:  make(chan error, 4),
	}
	config := Config{
		Gateway: g,
		Loop:    l,
		Store:   h.store,
		Host:    HostFunc(func(result Result) { h.finished <- result }),
	}
	if configure != nil {
		configure(&config)
	}
	coordinator, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.coordinator = coordinator
	coordinator.Status().Observe(func(status Status) { h.statuses <- status })
	coordinator.Failures().Observe(func(err error) { h.failures <- err })

	// The initial replay.
	if got := testutil.RequireReceive(t, h.statuses, waitTimeout, "initial status"); got != StatusIdle {
		t.Fatalf("initial status = %v, want idle", got)
	}

	t.Cleanup(func() {
		coordinator.Close()
		g.Close()
		cancelLoop()
		<-l.Done()
	})
	return h
}

func (h *harness) requireStatus(t *testing.T, want Status, message string) {
	t.Helper()
	if got := testutil.RequireReceive(t, h.statuses, waitTimeout, message); got != want {
		t.Fatalf("%s: status = %v, want %v", message, got, want)
	}
}

func TestMalformedAddressStaysIdle(t *testing.T) {
	h := newHarness(t, &gateway.FakeDirectory{}, nil)

	for _, input := range []string{"", "not an address", "@example.org", "alice@example.org/"} {
		err := h.coordinator.StartLogin(context.Background(), input, "pw")
		var invalid *InvalidAddressError
		if !errors.As(err, &invalid) {
			t.Fatalf("StartLogin(%q) error = %v, want *InvalidAddressError", input, err)
		}
		if got := h.coordinator.Status().Value(); got != StatusIdle {
			t.Fatalf("StartLogin(%q) left status %v", input, got)
		}
		if got := h.coordinator.Form().Value().AddressError; got != malformedAddressMessage {
			t.Errorf("AddressError = %q, want %q", got, malformedAddressMessage)
		}
	}
	if got := h.connector.Connects(); got != 0 {
		t.Fatalf("gateway contacted %d times for malformed input", got)
	}
	testutil.RequireNoReceive(t, h.statuses, 20*time.Millisecond, "no transition")
}

func TestLoginSuccess(t *testing.T) {
	h := newHarness(t, &gateway.FakeDirectory{
		Credentials: map[address.Address]string{alice: "hunter2"},
	}, nil)

	if err := h.coordinator.StartLogin(context.Background(), "alice@example.org", "hunter2"); err != nil {
		t.Fatalf("StartLogin: %v", err)
	}
	// Authenticating is published before StartLogin returns.
	if got := h.coordinator.Status().Value(); got != StatusAuthenticating {
		t.Fatalf("status after StartLogin = %v, want authenticating", got)
	}
	form := h.coordinator.Form().Value()
	if form.AddressEnabled || form.CredentialEnabled || !form.Progress || form.TriggerLabel != LabelCancel {
		t.Errorf("authenticating form = %+v", form)
	}

	h.requireStatus(t, StatusAuthenticating, "authenticating")
	result := testutil.RequireReceive(t, h.finished, waitTimeout, "host finished")
	h.requireStatus(t, StatusIdle, "idle after success")

	if result.Address != alice || result.Mode != ModeAdd {
		t.Errorf("result = %+v", result)
	}
	if stored, ok := h.store.get(alice); !ok || stored != "hunter2" {
		t.Errorf("stored credential = %q, %v", stored, ok)
	}
	form = h.coordinator.Form().Value()
	if !form.AddressEnabled || !form.CredentialEnabled || form.Progress || form.TriggerLabel != LabelLogin {
		t.Errorf("idle form = %+v", form)
	}
}

func TestLoginFailureSurfacesMessage(t *testing.T) {
	h := newHarness(t, &gateway.FakeDirectory{
		Credentials: map[address.Address]string{alice: "hunter2"},
	}, nil)

	if err := h.coordinator.StartLogin(context.Background(), "alice@example.org", "wrong"); err != nil {
		t.Fatalf("StartLogin: %v", err)
	}
	h.requireStatus(t, StatusAuthenticating, "authenticating")
	h.requireStatus(t, StatusIdle, "idle after failure")

	err := testutil.RequireReceive(t, h.failures, waitTimeout, "failure emitted")
	var authErr *AuthenticationFailedError
	if !errors.As(err, &authErr) {
		t.Fatalf("failure = %v, want *AuthenticationFailedError", err)
	}
	if authErr.Message != "not authorized" {
		t.Errorf("Message = %q, want verbatim session manager text", authErr.Message)
	}

	waitForm(t, h, func(form Form) bool { return form.CredentialError == "not authorized" })
	if _, ok := h.store.get(alice); ok {
		t.Error("credential stored for a failed login")
	}
	testutil.RequireNoReceive(t, h.finished, 20*time.Millisecond, "host not finished")
}

func TestCancelWaitsForDisposal(t *testing.T) {
	directory := &gateway.FakeDirectory{
		LoginGate:    make(chan struct{}),
		LoginStarted: make(chan address.Address, 1),
		DisposeGate:  make(chan struct{}),
	}
	h := newHarness(t, directory, nil)
	h.coordinator.InputChanged(context.Background(), "alice@example.org", "pw")

	if err := h.coordinator.StartLogin(context.Background(), "alice@example.org", "pw"); err != nil {
		t.Fatalf("StartLogin: %v", err)
	}
	h.requireStatus(t, StatusAuthenticating, "authenticating")
	testutil.RequireReceive(t, directory.LoginStarted, waitTimeout, "login in flight")

	if err := h.coordinator.CancelLogin(context.Background()); err != nil {
		t.Fatalf("CancelLogin: %v", err)
	}
	if h.coordinator.Form().Value().TriggerEnabled {
		t.Error("trigger still enabled after cancel request")
	}
	testutil.RequireNoReceive(t, h.statuses, 50*time.Millisecond, "still authenticating while disposal is held")
	if got := h.coordinator.Status().Value(); got != StatusAuthenticating {
		t.Fatalf("status before disposal completed = %v", got)
	}

	close(directory.DisposeGate)
	h.requireStatus(t, StatusIdle, "idle after disposal")
	if !h.coordinator.Form().Value().TriggerEnabled {
		t.Error("trigger not re-enabled after disposal")
	}
	if got := directory.Disposals(); got != 1 {
		t.Errorf("disposals = %d, want 1", got)
	}
	testutil.RequireNoReceive(t, h.failures, 20*time.Millisecond, "user cancel is not a failure")
	testutil.RequireNoReceive(t, h.finished, 20*time.Millisecond, "host not finished")
}

func TestDisconnectDuringLogin(t *testing.T) {
	directory := &gateway.FakeDirectory{
		LoginGate:    make(chan struct{}),
		LoginStarted: make(chan address.Address, 1),
	}
	h := newHarness(t, directory, nil)

	if err := h.coordinator.StartLogin(context.Background(), "alice@example.org", "pw"); err != nil {
		t.Fatalf("StartLogin: %v", err)
	}
	h.requireStatus(t, StatusAuthenticating, "authenticating")
	testutil.RequireReceive(t, directory.LoginStarted, waitTimeout, "login in flight")

	h.connector.Last().Disconnect()

	h.requireStatus(t, StatusIdle, "idle after disconnect")
	if err := testutil.RequireReceive(t, h.failures, waitTimeout, "failure"); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("failure = %v, want ErrConnectionLost", err)
	}
	waitForm(t, h, func(form Form) bool { return form.CredentialError == "login canceled by the system" })

	// The held login finishing now is stale.
	close(directory.LoginGate)
	testutil.RequireNoReceive(t, h.statuses, 50*time.Millisecond, "stale completion ignored")
	testutil.RequireNoReceive(t, h.finished, 20*time.Millisecond, "host not finished")
	if _, ok := h.store.get(alice); ok {
		t.Error("credential stored by an abandoned login")
	}
}

func TestCancelOverlappingDisconnect(t *testing.T) {
	directory := &gateway.FakeDirectory{
		LoginGate:    make(chan struct{}),
		LoginStarted: make(chan address.Address, 1),
		DisposeGate:  make(chan struct{}),
	}
	h := newHarness(t, directory, nil)

	if err := h.coordinator.StartLogin(context.Background(), "alice@example.org", "pw"); err != nil {
		t.Fatalf("StartLogin: %v", err)
	}
	h.requireStatus(t, StatusAuthenticating, "authenticating")
	testutil.RequireReceive(t, directory.LoginStarted, waitTimeout, "login in flight")

	if err := h.coordinator.CancelLogin(context.Background()); err != nil {
		t.Fatalf("CancelLogin: %v", err)
	}
	h.connector.Last().Disconnect()
	h.requireStatus(t, StatusIdle, "idle after disconnect")

	close(directory.DisposeGate)
	testutil.RequireNoReceive(t, h.statuses, 50*time.Millisecond, "single idle transition")
	if err := testutil.RequireReceive(t, h.failures, waitTimeout, "failure"); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("failure = %v, want ErrConnectionLost", err)
	}
}

func TestLoginErrorRacingDisconnect(t *testing.T) {
	// The held Login fails the moment its connection drops, racing the
	// gateway's disconnect signal. Whichever reaches the loop first, the
	// user sees exactly one connection-lost failure.
	for round := range 10 {
		directory := &gateway.FakeDirectory{
			LoginGate:    make(chan struct{}),
			LoginStarted: make(chan address.Address, 1),
		}
		h := newHarness(t, directory, nil)

		if err := h.coordinator.StartLogin(context.Background(), "alice@example.org", "pw"); err != nil {
			t.Fatalf("round %d: StartLogin: %v", round, err)
		}
		h.requireStatus(t, StatusAuthenticating, "authenticating")
		testutil.RequireReceive(t, directory.LoginStarted, waitTimeout, "login in flight")

		h.connector.Last().Disconnect()

		h.requireStatus(t, StatusIdle, "idle after disconnect")
		err := testutil.RequireReceive(t, h.failures, waitTimeout, "failure")
		if !errors.Is(err, ErrConnectionLost) || IsAuthenticationFailed(err) {
			t.Fatalf("round %d: failure = %v, want ErrConnectionLost", round, err)
		}
		testutil.RequireNoReceive(t, h.failures, 20*time.Millisecond, "single failure")
		if got := h.coordinator.Form().Value().CredentialError; got != ErrConnectionLost.Error() {
			t.Fatalf("round %d: CredentialError = %q", round, got)
		}
	}
}

func TestLoginLostBeforeDisconnectNoticed(t *testing.T) {
	// The session manager client reports the drop before the gateway
	// has seen it.
	h := newHarness(t, &gateway.FakeDirectory{
		LoginErr: fmt.Errorf("reading response: %w", gateway.ErrDisconnected),
	}, nil)

	if err := h.coordinator.StartLogin(context.Background(), "alice@example.org", "pw"); err != nil {
		t.Fatalf("StartLogin: %v", err)
	}
	h.requireStatus(t, StatusAuthenticating, "authenticating")
	h.requireStatus(t, StatusIdle, "idle")
	if err := testutil.RequireReceive(t, h.failures, waitTimeout, "failure"); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("failure = %v, want ErrConnectionLost", err)
	}
}

func TestLoginTransportErrorIsNotAuthenticationFailure(t *testing.T) {
	transport := errors.New("reading response: i/o timeout")
	h := newHarness(t, &gateway.FakeDirectory{LoginErr: transport}, nil)

	if err := h.coordinator.StartLogin(context.Background(), "alice@example.org", "pw"); err != nil {
		t.Fatalf("StartLogin: %v", err)
	}
	h.requireStatus(t, StatusAuthenticating, "authenticating")
	h.requireStatus(t, StatusIdle, "idle")

	err := testutil.RequireReceive(t, h.failures, waitTimeout, "failure")
	if IsAuthenticationFailed(err) {
		t.Fatalf("transport failure classified as authentication failure: %v", err)
	}
	if !errors.Is(err, transport) || errors.Is(err, ErrConnectionLost) {
		t.Fatalf("failure = %v, want the wrapped transport error", err)
	}
	waitForm(t, h, func(form Form) bool { return form.CredentialError == err.Error() })
}

func TestCanceledSessionDisposalDoesNotHoldWorker(t *testing.T) {
	ctx, cancelLoop := context.WithCancel(context.Background())
	l := loop.New(loop.Config{Workers: 1})
	go l.Run(ctx)
	t.Cleanup(func() {
		cancelLoop()
		<-l.Done()
	})

	directory := &gateway.FakeDirectory{DisposeGate: make(chan struct{})}
	defer close(directory.DisposeGate)
	h := newHarness(t, directory, func(config *Config) { config.Loop = l })
	h.connector.Gate = make(chan struct{})

	// Cancelled while the connection is still pending: there is no
	// session to dispose yet, so the cancel completes at once.
	if err := h.coordinator.StartLogin(ctx, "alice@example.org", "pw"); err != nil {
		t.Fatalf("StartLogin: %v", err)
	}
	h.requireStatus(t, StatusAuthenticating, "authenticating")
	if err := h.coordinator.CancelLogin(ctx); err != nil {
		t.Fatalf("CancelLogin: %v", err)
	}
	h.requireStatus(t, StatusIdle, "idle after cancel")

	// The session arrives late and its disposal is held. The only
	// worker must still be free for the next login.
	close(h.connector.Gate)
	if err := h.coordinator.StartLogin(ctx, "bob@example.net", "pw"); err != nil {
		t.Fatalf("second StartLogin: %v", err)
	}
	result := testutil.RequireReceive(t, h.finished, waitTimeout, "second login finished")
	if result.Address != address.MustParse("bob@example.net") {
		t.Errorf("result = %+v", result)
	}
}

func TestSessionManagerUnavailable(t *testing.T) {
	h := newHarness(t, &gateway.FakeDirectory{}, nil)
	h.connector.SetErr(errors.New("dial unix: no such file"))

	if err := h.coordinator.StartLogin(context.Background(), "alice@example.org", "pw"); err != nil {
		t.Fatalf("StartLogin: %v", err)
	}
	h.requireStatus(t, StatusAuthenticating, "authenticating")
	h.requireStatus(t, StatusIdle, "idle after connect failure")

	err := testutil.RequireReceive(t, h.failures, waitTimeout, "failure")
	if !errors.Is(err, ErrSessionManagerUnavailable) || !errors.Is(err, gateway.ErrUnavailable) {
		t.Fatalf("failure = %v, want ErrSessionManagerUnavailable wrapping gateway.ErrUnavailable", err)
	}
	if IsAuthenticationFailed(err) {
		t.Error("connect failure classified as authentication failure")
	}
}

func TestStartLoginWhileAuthenticating(t *testing.T) {
	directory := &gateway.FakeDirectory{LoginGate: make(chan struct{})}
	h := newHarness(t, directory, nil)

	if err := h.coordinator.StartLogin(context.Background(), "alice@example.org", "pw"); err != nil {
		t.Fatalf("StartLogin: %v", err)
	}
	if err := h.coordinator.StartLogin(context.Background(), "alice@example.org", "pw"); !errors.Is(err, ErrBusy) {
		t.Fatalf("second StartLogin = %v, want ErrBusy", err)
	}
	close(directory.LoginGate)
	h.requireStatus(t, StatusAuthenticating, "authenticating")
	h.requireStatus(t, StatusIdle, "idle")
}

func TestInputChangedTogglesTrigger(t *testing.T) {
	h := newHarness(t, &gateway.FakeDirectory{}, nil)
	ctx := context.Background()

	if h.coordinator.Form().Value().TriggerEnabled {
		t.Fatal("trigger enabled with empty fields")
	}
	h.coordinator.InputChanged(ctx, "alice@example.org", "")
	if h.coordinator.Form().Value().TriggerEnabled {
		t.Error("trigger enabled with empty credential")
	}
	h.coordinator.InputChanged(ctx, "alice@example.org", "pw")
	if !h.coordinator.Form().Value().TriggerEnabled {
		t.Error("trigger disabled with both fields filled")
	}
	h.coordinator.InputChanged(ctx, "", "pw")
	if h.coordinator.Form().Value().TriggerEnabled {
		t.Error("trigger enabled with empty address")
	}
}

func TestUpdateModeLocksAddress(t *testing.T) {
	h := newHarness(t, &gateway.FakeDirectory{
		Credentials: map[address.Address]string{alice: "new"},
	}, func(config *Config) {
		config.Mode = ModeUpdate
		config.Preset = alice
	})

	form := h.coordinator.Form().Value()
	if form.AddressEnabled || form.Address != "alice@example.org" {
		t.Fatalf("update-mode form = %+v", form)
	}

	// Typed address text is ignored in update mode.
	if err := h.coordinator.StartLogin(context.Background(), "garbage", "new"); err != nil {
		t.Fatalf("StartLogin: %v", err)
	}
	result := testutil.RequireReceive(t, h.finished, waitTimeout, "host finished")
	if result.Address != alice || result.Mode != ModeUpdate {
		t.Errorf("result = %+v", result)
	}
	h.requireStatus(t, StatusAuthenticating, "authenticating")
	h.requireStatus(t, StatusIdle, "idle")
	if h.coordinator.Form().Value().AddressEnabled {
		t.Error("address field unlocked after login in update mode")
	}
}

func TestCloseStopsEverything(t *testing.T) {
	directory := &gateway.FakeDirectory{LoginGate: make(chan struct{})}
	h := newHarness(t, directory, nil)

	if err := h.coordinator.StartLogin(context.Background(), "alice@example.org", "pw"); err != nil {
		t.Fatalf("StartLogin: %v", err)
	}
	h.coordinator.Close()
	h.coordinator.Close()

	if !h.coordinator.Status().Completed() {
		t.Error("status not completed after Close")
	}
	if err := h.coordinator.StartLogin(context.Background(), "alice@example.org", "pw"); !errors.Is(err, ErrClosed) {
		t.Errorf("StartLogin after Close = %v, want ErrClosed", err)
	}
	close(directory.LoginGate)
	testutil.RequireNoReceive(t, h.finished, 50*time.Millisecond, "no completion after Close")
}

// waitForm waits until the form satisfies predicate.
func waitForm(t *testing.T, h *harness, predicate func(Form) bool) {
	t.Helper()
	changes, subscription := h.coordinator.Form().Changes(8)
	defer subscription.Dispose()
	deadline := time.After(waitTimeout)
	for {
		select {
		case form := <-changes:
			if predicate(form) {
				return
			}
		case <-deadline:
			t.Fatalf("form never satisfied predicate; last = %+v", h.coordinator.Form().Value())
		}
	}
}
