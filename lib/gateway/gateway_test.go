// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/testutil"
)

var alice = address.MustParse("alice@example.org")

func newTestGateway(t *testing.T, connector Connector) *Gateway {
	t.Helper()
	g := New(Config{Connector: connector})
	t.Cleanup(func() { g.Close() })
	return g
}

func TestAcquireConnectionSharesAttempt(t *testing.T) {
	connector := NewFakeConnector(&FakeDirectory{})
	connector.Gate = make(chan struct{})
	g := newTestGateway(t, connector)

	first := g.AcquireConnection()
	second := g.AcquireConnection()
	if first != second {
		t.Fatal("concurrent AcquireConnection calls returned different latches")
	}

	close(connector.Gate)
	testutil.RequireClosed(t, first.Done(), 5*time.Second, "connection latch")
	if _, ok, _ := first.Result(); !ok {
		t.Fatal("connection latch resolved none")
	}
	if third := g.AcquireConnection(); third != first {
		t.Error("AcquireConnection after success returned a new latch")
	}
	if got := connector.Connects(); got != 1 {
		t.Errorf("Connect called %d times, want 1", got)
	}
}

func TestAcquireConnectionRetriesAfterFailure(t *testing.T) {
	connector := NewFakeConnector(&FakeDirectory{})
	connector.Err = errors.New("no socket")
	g := newTestGateway(t, connector)

	failed := g.AcquireConnection()
	testutil.RequireClosed(t, failed.Done(), 5*time.Second, "failed attempt")
	if _, ok, _ := failed.Result(); ok {
		t.Fatal("failed attempt resolved with a connection")
	}

	connector.SetErr(nil)
	retry := g.AcquireConnection()
	if retry == failed {
		t.Fatal("AcquireConnection after failure reused the failed latch")
	}
	testutil.RequireClosed(t, retry.Done(), 5*time.Second, "retry attempt")
	if _, ok, _ := retry.Result(); !ok {
		t.Fatal("retry resolved none")
	}
}

func TestSessionForUnavailable(t *testing.T) {
	connector := NewFakeConnector(&FakeDirectory{})
	connector.Err = errors.New("no socket")
	g := newTestGateway(t, connector)

	_, err := g.SessionFor(context.Background(), alice)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("SessionFor error = %v, want ErrUnavailable", err)
	}
}

func TestSessionForReusesHandle(t *testing.T) {
	g := newTestGateway(t, NewFakeConnector(&FakeDirectory{}))

	first, err := g.SessionFor(context.Background(), alice)
	if err != nil {
		t.Fatalf("SessionFor: %v", err)
	}
	second, err := g.SessionFor(context.Background(), alice)
	if err != nil {
		t.Fatalf("SessionFor: %v", err)
	}
	if first != second {
		t.Fatal("SessionFor returned different handles for the same address")
	}
	if first.Session().Address() != alice {
		t.Errorf("session address = %s, want %s", first.Session().Address(), alice)
	}
}

func TestDisposeSingleFlightAndForget(t *testing.T) {
	directory := &FakeDirectory{DisposeGate: make(chan struct{})}
	connector := NewFakeConnector(directory)
	g := newTestGateway(t, connector)

	handle, err := g.SessionFor(context.Background(), alice)
	if err != nil {
		t.Fatalf("SessionFor: %v", err)
	}

	first := handle.Dispose()
	second := handle.Dispose()
	if first != second {
		t.Fatal("second Dispose returned a different channel")
	}
	if via := g.DisposeSession(alice); via != first {
		t.Fatal("DisposeSession returned a different channel for an in-flight disposal")
	}
	testutil.RequireNoReceive(t, first, 20*time.Millisecond, "disposal held by gate")

	close(directory.DisposeGate)
	testutil.RequireClosed(t, first, 5*time.Second, "disposal complete")
	if got := directory.Disposals(); got != 1 {
		t.Fatalf("session disposed %d times, want 1", got)
	}

	fresh, err := g.SessionFor(context.Background(), alice)
	if err != nil {
		t.Fatalf("SessionFor after dispose: %v", err)
	}
	if fresh == handle {
		t.Fatal("disposed handle was not forgotten")
	}
	if got := len(connector.Last().Sessions(alice)); got != 2 {
		t.Errorf("sessions opened = %d, want 2", got)
	}
}

func TestDisposeSessionWithoutHandle(t *testing.T) {
	g := newTestGateway(t, NewFakeConnector(&FakeDirectory{}))
	testutil.RequireClosed(t, g.DisposeSession(alice), time.Second, "nothing to dispose")
}

func TestDisconnectForgetsHandlesAndReconnects(t *testing.T) {
	connector := NewFakeConnector(&FakeDirectory{})
	g := newTestGateway(t, connector)

	disconnects := make(chan error, 1)
	g.OnDisconnect(func(err error) { disconnects <- err })

	handle, err := g.SessionFor(context.Background(), alice)
	if err != nil {
		t.Fatalf("SessionFor: %v", err)
	}
	firstConnection := connector.Last()
	firstConnection.Disconnect()

	if err := testutil.RequireReceive(t, disconnects, 5*time.Second, "disconnect event"); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("disconnect event = %v, want ErrDisconnected", err)
	}

	// A lost handle disposes without a round trip.
	testutil.RequireClosed(t, handle.Dispose(), 5*time.Second, "lost handle disposal")

	fresh, err := g.SessionFor(context.Background(), alice)
	if err != nil {
		t.Fatalf("SessionFor after disconnect: %v", err)
	}
	if fresh == handle {
		t.Fatal("handle from the lost connection was reused")
	}
	if connector.Connects() != 2 || connector.Last() == firstConnection {
		t.Fatalf("expected a second connection, got %d connects", connector.Connects())
	}
}

func TestLocalSession(t *testing.T) {
	g := newTestGateway(t, NewFakeConnector(&FakeDirectory{}))

	none := LocalSession(context.Background(), g, address.Empty)
	if _, ok, resolved := none.Result(); !resolved || ok {
		t.Fatal("LocalSession for empty address did not resolve none immediately")
	}

	latch := LocalSession(context.Background(), g, alice)
	session, ok, err := latch.Wait(context.Background())
	if err != nil || !ok {
		t.Fatalf("Wait() = (_, %v, %v)", ok, err)
	}
	if session.Address() != alice {
		t.Errorf("session address = %s, want %s", session.Address(), alice)
	}
}

func TestLocalReacquiresAfterDisconnect(t *testing.T) {
	connector := NewFakeConnector(&FakeDirectory{})
	g := newTestGateway(t, connector)
	ctx := context.Background()
	local := NewLocal(ctx, g, alice)

	first := local.Latch()
	firstSession, ok, err := first.Wait(ctx)
	if err != nil || !ok {
		t.Fatalf("Wait() = (_, %v, %v)", ok, err)
	}
	if again := local.Latch(); again != first {
		t.Fatal("Latch replaced a live session")
	}

	connector.Last().Disconnect()
	if _, err := firstSession.QueryRoster(ctx); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("query on a dropped session = %v, want ErrDisconnected", err)
	}

	// The watcher may not have run yet; the next latch must still be a
	// fresh session on a fresh connection.
	second := local.Latch()
	if second == first {
		t.Fatal("Latch kept the session of a dropped connection")
	}
	secondSession, ok, err := second.Wait(ctx)
	if err != nil || !ok {
		t.Fatalf("Wait() after disconnect = (_, %v, %v)", ok, err)
	}
	if secondSession == firstSession {
		t.Fatal("reacquired the dropped session")
	}
	if _, err := secondSession.QueryRoster(ctx); err != nil {
		t.Fatalf("query on the reacquired session: %v", err)
	}
	if got := connector.Connects(); got != 2 {
		t.Errorf("Connect called %d times, want 2", got)
	}
}

func TestLocalRetriesAfterNone(t *testing.T) {
	connector := NewFakeConnector(&FakeDirectory{})
	connector.Err = errors.New("no socket")
	g := newTestGateway(t, connector)
	ctx := context.Background()
	local := NewLocal(ctx, g, alice)

	failed := local.Latch()
	if _, ok, err := failed.Wait(ctx); err != nil || ok {
		t.Fatalf("Wait() with no session manager = (_, %v, %v), want none", ok, err)
	}

	connector.SetErr(nil)
	retry := local.Latch()
	if retry == failed {
		t.Fatal("Latch reused a latch that resolved none")
	}
	if _, ok, err := retry.Wait(ctx); err != nil || !ok {
		t.Fatalf("Wait() after recovery = (_, %v, %v)", ok, err)
	}

	empty := NewLocal(ctx, g, address.Empty)
	if _, ok, resolved := empty.Latch().Result(); !resolved || ok {
		t.Error("Local for the empty address did not resolve none immediately")
	}
}

func TestDisconnectFailsHeldOperations(t *testing.T) {
	directory := &FakeDirectory{QueryGate: make(chan struct{})}
	connector := NewFakeConnector(directory)
	g := newTestGateway(t, connector)

	handle, err := g.SessionFor(context.Background(), alice)
	if err != nil {
		t.Fatalf("SessionFor: %v", err)
	}
	held := make(chan error, 1)
	go func() {
		_, err := handle.Session().QueryRoster(context.Background())
		held <- err
	}()
	testutil.RequireNoReceive(t, held, 20*time.Millisecond, "query held by gate")

	connector.Last().Disconnect()
	if err := testutil.RequireReceive(t, held, 5*time.Second, "held query"); !errors.Is(err, ErrFakeConnectionLost) {
		t.Fatalf("held query = %v, want ErrFakeConnectionLost", err)
	}
	if !handle.Lost() {
		t.Error("handle on a dropped connection is not Lost")
	}
}

func TestIsRejected(t *testing.T) {
	rejection := &RejectedError{Message: "not authorized"}
	if !IsRejected(rejection) || !IsRejected(fmt.Errorf("login: %w", rejection)) {
		t.Error("RejectedError not recognised")
	}
	for _, err := range []error{nil, errors.New("i/o timeout"), ErrFakeConnectionLost, context.Canceled} {
		if IsRejected(err) {
			t.Errorf("IsRejected(%v) = true", err)
		}
	}
}

func TestCapabilitySetHas(t *testing.T) {
	set := CapabilitySet{"urn:a", FeatureWebRTC}
	if !set.Has(FeatureWebRTC) {
		t.Error("Has(FeatureWebRTC) = false")
	}
	if set.Has("urn:missing") {
		t.Error("Has(missing) = true")
	}
}
