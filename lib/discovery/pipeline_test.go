// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/gateway"
	"github.com/tandem-chat/tandem/lib/loop"
	"github.com/tandem-chat/tandem/lib/testutil"
)

const waitTimeout = 5 * time.Second

var (
	alice       = address.MustParse("alice@example.org")
	aliceDesk   = address.MustParse("alice@example.org/desk")
	alicePhone  = address.MustParse("alice@example.org/phone")
	bob         = address.MustParse("bob@example.net")
	bobPhone    = address.MustParse("bob@example.net/phone")
	bobLaptop   = address.MustParse("bob@example.net/laptop")
	bobTablet   = address.MustParse("bob@example.net/tablet")
	bobPubsub   = address.MustParse("bob@example.net/pubsub")
	webrtcOnly  = gateway.CapabilitySet{gateway.FeatureWebRTC}
	chatOnly    = gateway.CapabilitySet{"urn:xmpp:chat"}
	launchError = errors.New("peer connection failed")
)

type harness struct {
	directory *gateway.FakeDirectory
	connector *gateway.FakeConnector
	pipeline  *Pipeline
	statuses  chan Status
	notices   chan Notice
	launches  chan Handoff
}

func newHarness(t *testing.T, directory *gateway.FakeDirectory, local address.Address, launchErr error) *harness {
	t.Helper()
	ctx, cancelLoop := context.WithCancel(context.Background())
	l := loop.New(loop.Config{})
	go l.Run(ctx)

	connector := gateway.NewFakeConnector(directory)
	g := gateway.New(gateway.Config{Connector: connector})

	h := &harness{
		directory: directory,
		connector: connector,
		statuses:  make(chan Status, 16),
		notices:   make(chan Notice, 16),
		launches:  make(chan Handoff, 4),
	}
	pipeline, err := New(Config{
		Gateway: g,
		Loop:    l,
		Local:   local,
		Launcher: LauncherFunc(func(_ context.Context, handoff Handoff) error {
			h.launches <- handoff
			return launchErr
		}),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.pipeline = pipeline
	pipeline.Status().Observe(func(status Status) { h.statuses <- status })
	pipeline.Notices().Observe(func(notice Notice) { h.notices <- notice })
	testutil.RequireReceive(t, h.statuses, waitTimeout, "initial status")

	t.Cleanup(func() {
		pipeline.Close()
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

func (h *harness) requireNotice(t *testing.T, want NoticeKind) Notice {
	t.Helper()
	notice := testutil.RequireReceive(t, h.notices, waitTimeout, "notice %v", want)
	if notice.Kind != want {
		t.Fatalf("notice = %v (%s), want %v", notice.Kind, notice.Message(), want)
	}
	return notice
}

func bobDirectory() *gateway.FakeDirectory {
	return &gateway.FakeDirectory{
		Endpoints: map[address.Address][]gateway.Endpoint{
			bob: {
				{Address: bobPubsub, Node: "urn:xmpp:microblog:0"},
				{Address: bobPhone},
				{Address: bobLaptop},
				{Address: bobTablet},
			},
		},
		Capabilities: map[address.Address]gateway.CapabilitySet{
			bobPubsub: webrtcOnly,
			bobPhone:  chatOnly,
			bobLaptop: webrtcOnly,
			bobTablet: webrtcOnly,
		},
	}
}

func TestFirstCapableCandidateIsHandedOff(t *testing.T) {
	directory := bobDirectory()
	h := newHarness(t, directory, alice, nil)

	if err := h.pipeline.StartDiscovery(context.Background(), bob); err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}
	if got := h.pipeline.Status().Value(); got != StatusSearching {
		t.Fatalf("status after StartDiscovery = %v, want searching", got)
	}
	h.requireStatus(t, StatusSearching, "searching")
	h.requireStatus(t, StatusIdle, "idle after acceptance")

	notice := h.requireNotice(t, NoticeHandoff)
	handoff := testutil.RequireReceive(t, h.launches, waitTimeout, "launch")
	if handoff.Remote != bobLaptop || handoff.Local != alice {
		t.Fatalf("handoff = %+v, want alice -> %s", handoff, bobLaptop)
	}
	if handoff.Token == "" || handoff.Token != notice.Handoff.Token {
		t.Errorf("launch token %q does not match notice token %q", handoff.Token, notice.Handoff.Token)
	}

	// Non-device entries are filtered before any capability query,
	// and the fold stops at the first acceptance.
	if got := directory.CapabilityQueries(bobPubsub); got != 0 {
		t.Errorf("pubsub node queried %d times", got)
	}
	if got := directory.CapabilityQueries(bobPhone); got != 1 {
		t.Errorf("phone queried %d times, want 1", got)
	}
	if got := directory.CapabilityQueries(bobTablet); got != 0 {
		t.Errorf("tablet queried %d times after laptop was accepted", got)
	}
}

func TestLocalEndpointIsNeverQueried(t *testing.T) {
	directory := &gateway.FakeDirectory{
		Endpoints: map[address.Address][]gateway.Endpoint{
			alice: {{Address: aliceDesk}, {Address: alicePhone}},
		},
		Capabilities: map[address.Address]gateway.CapabilitySet{
			aliceDesk:  webrtcOnly,
			alicePhone: webrtcOnly,
		},
	}
	h := newHarness(t, directory, aliceDesk, nil)

	if err := h.pipeline.StartDiscovery(context.Background(), alice); err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}
	handoff := testutil.RequireReceive(t, h.launches, waitTimeout, "launch")
	if handoff.Remote != alicePhone {
		t.Fatalf("handoff remote = %s, want %s", handoff.Remote, alicePhone)
	}
	if got := directory.CapabilityQueries(aliceDesk); got != 0 {
		t.Errorf("local endpoint queried %d times", got)
	}
}

func TestCandidateErrorOnlyRejectsThatCandidate(t *testing.T) {
	directory := bobDirectory()
	directory.Capabilities[bobPhone] = webrtcOnly
	directory.Errors = map[address.Address]error{bobPhone: errors.New("remote-server-timeout")}
	h := newHarness(t, directory, alice, nil)

	if err := h.pipeline.StartDiscovery(context.Background(), bob); err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}
	handoff := testutil.RequireReceive(t, h.launches, waitTimeout, "launch")
	if handoff.Remote != bobLaptop {
		t.Fatalf("handoff remote = %s, want %s", handoff.Remote, bobLaptop)
	}
	h.requireNotice(t, NoticeHandoff)
}

func TestNoCandidate(t *testing.T) {
	directory := bobDirectory()
	directory.Capabilities[bobLaptop] = chatOnly
	directory.Capabilities[bobTablet] = chatOnly
	h := newHarness(t, directory, alice, nil)

	if err := h.pipeline.StartDiscovery(context.Background(), bob); err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}
	h.requireStatus(t, StatusSearching, "searching")
	h.requireStatus(t, StatusIdle, "idle")
	notice := h.requireNotice(t, NoticeNoCandidate)
	if notice.Target != bob {
		t.Errorf("notice target = %s, want %s", notice.Target, bob)
	}
	testutil.RequireNoReceive(t, h.launches, 20*time.Millisecond, "no launch")
}

func TestEnumerationFailure(t *testing.T) {
	directory := bobDirectory()
	directory.Errors = map[address.Address]error{bob: errors.New("service-unavailable")}
	h := newHarness(t, directory, alice, nil)

	if err := h.pipeline.StartDiscovery(context.Background(), bob); err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}
	h.requireStatus(t, StatusSearching, "searching")
	h.requireStatus(t, StatusIdle, "idle")
	notice := h.requireNotice(t, NoticeQueryFailed)
	var queryErr *QueryFailedError
	if !errors.As(notice.Err, &queryErr) || queryErr.Target != bob {
		t.Fatalf("notice error = %v, want *QueryFailedError for %s", notice.Err, bob)
	}
}

func TestCancelMidSearch(t *testing.T) {
	directory := bobDirectory()
	directory.QueryGate = make(chan struct{})
	h := newHarness(t, directory, alice, nil)

	if err := h.pipeline.StartDiscovery(context.Background(), bob); err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}
	h.requireStatus(t, StatusSearching, "searching")

	if err := h.pipeline.CancelDiscovery(context.Background()); err != nil {
		t.Fatalf("CancelDiscovery: %v", err)
	}
	// Immediate effect: Idle before any query has unwound.
	if got := h.pipeline.Status().Value(); got != StatusIdle {
		t.Fatalf("status after CancelDiscovery = %v, want idle", got)
	}
	h.requireStatus(t, StatusIdle, "idle")

	close(directory.QueryGate)
	testutil.RequireNoReceive(t, h.launches, 50*time.Millisecond, "no handoff after dismissal")
	testutil.RequireNoReceive(t, h.notices, 20*time.Millisecond, "no notice after dismissal")
	testutil.RequireNoReceive(t, h.statuses, 20*time.Millisecond, "no further transitions")
}

func TestSearchAfterCancelRuns(t *testing.T) {
	directory := bobDirectory()
	directory.QueryGate = make(chan struct{})
	h := newHarness(t, directory, alice, nil)

	h.pipeline.StartDiscovery(context.Background(), bob)
	h.pipeline.CancelDiscovery(context.Background())
	close(directory.QueryGate)

	if err := h.pipeline.StartDiscovery(context.Background(), bob); err != nil {
		t.Fatalf("second StartDiscovery: %v", err)
	}
	handoff := testutil.RequireReceive(t, h.launches, waitTimeout, "launch")
	if handoff.Remote != bobLaptop {
		t.Fatalf("handoff remote = %s", handoff.Remote)
	}
	testutil.RequireNoReceive(t, h.launches, 50*time.Millisecond, "exactly one launch")
}

func TestNoLocalAccount(t *testing.T) {
	h := newHarness(t, bobDirectory(), address.Empty, nil)

	if err := h.pipeline.StartDiscovery(context.Background(), bob); !errors.Is(err, ErrNoLocalAccount) {
		t.Fatalf("StartDiscovery = %v, want ErrNoLocalAccount", err)
	}
	testutil.RequireNoReceive(t, h.statuses, 20*time.Millisecond, "never searching")
}

func TestBusy(t *testing.T) {
	directory := bobDirectory()
	directory.QueryGate = make(chan struct{})
	h := newHarness(t, directory, alice, nil)

	if err := h.pipeline.StartDiscovery(context.Background(), bob); err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}
	if err := h.pipeline.StartDiscovery(context.Background(), bob); !errors.Is(err, ErrBusy) {
		t.Fatalf("second StartDiscovery = %v, want ErrBusy", err)
	}
	close(directory.QueryGate)
}

func TestHandleResultMatchesToken(t *testing.T) {
	h := newHarness(t, bobDirectory(), alice, nil)

	if err := h.pipeline.StartDiscovery(context.Background(), bob); err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}
	handoff := testutil.RequireReceive(t, h.launches, waitTimeout, "launch")
	h.requireNotice(t, NoticeHandoff)

	matched, err := h.pipeline.HandleResult(context.Background(), "unknown-token", Outcome{Accepted: true})
	if err != nil || matched {
		t.Fatalf("HandleResult(unknown) = (%v, %v), want (false, nil)", matched, err)
	}
	matched, err = h.pipeline.HandleResult(context.Background(), handoff.Token, Outcome{Accepted: true})
	if err != nil || !matched {
		t.Fatalf("HandleResult(token) = (%v, %v), want (true, nil)", matched, err)
	}
	notice := h.requireNotice(t, NoticeResult)
	if !notice.Outcome.Accepted || notice.Handoff.Remote != bobLaptop {
		t.Errorf("result notice = %+v", notice)
	}
	if matched, _ = h.pipeline.HandleResult(context.Background(), handoff.Token, Outcome{}); matched {
		t.Error("token matched twice")
	}
}

func TestLaunchFailure(t *testing.T) {
	h := newHarness(t, bobDirectory(), alice, launchError)

	if err := h.pipeline.StartDiscovery(context.Background(), bob); err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}
	handoff := testutil.RequireReceive(t, h.launches, waitTimeout, "launch")
	h.requireNotice(t, NoticeHandoff)
	notice := h.requireNotice(t, NoticeLaunchFailed)
	if !errors.Is(notice.Err, launchError) {
		t.Errorf("notice error = %v, want %v", notice.Err, launchError)
	}
	if matched, _ := h.pipeline.HandleResult(context.Background(), handoff.Token, Outcome{}); matched {
		t.Error("failed launch still pending")
	}
}

func TestDiscoveryAfterReconnect(t *testing.T) {
	h := newHarness(t, bobDirectory(), alice, nil)

	if err := h.pipeline.StartDiscovery(context.Background(), bob); err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}
	h.requireNotice(t, NoticeHandoff)
	testutil.RequireReceive(t, h.launches, waitTimeout, "first launch")

	// The session the first search used dies with its connection.
	h.connector.Last().Disconnect()

	if err := h.pipeline.StartDiscovery(context.Background(), bob); err != nil {
		t.Fatalf("StartDiscovery after disconnect: %v", err)
	}
	notice := testutil.RequireReceive(t, h.notices, waitTimeout, "second outcome")
	if notice.Kind != NoticeHandoff {
		t.Fatalf("search after reconnect = %v (%s), want a handoff", notice.Kind, notice.Message())
	}
	if handoff := testutil.RequireReceive(t, h.launches, waitTimeout, "second launch"); handoff.Remote != bobLaptop {
		t.Errorf("handoff remote = %s, want %s", handoff.Remote, bobLaptop)
	}
	if got := h.connector.Connects(); got != 2 {
		t.Errorf("Connect called %d times, want 2", got)
	}
}

func TestSharedSessionAfterReconnect(t *testing.T) {
	ctx, cancelLoop := context.WithCancel(context.Background())
	l := loop.New(loop.Config{})
	go l.Run(ctx)
	connector := gateway.NewFakeConnector(bobDirectory())
	g := gateway.New(gateway.Config{Connector: connector})
	t.Cleanup(func() {
		g.Close()
		cancelLoop()
		<-l.Done()
	})

	shared := gateway.NewLocal(ctx, g, alice)
	launches := make(chan Handoff, 2)
	pipeline, err := New(Config{
		Loop:    l,
		Local:   alice,
		Session: shared,
		Launcher: LauncherFunc(func(_ context.Context, handoff Handoff) error {
			launches <- handoff
			return nil
		}),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer pipeline.Close()
	notices, subscription := pipeline.Notices().Channel(4)
	defer subscription.Dispose()

	// Another consumer of the shared session holds it when the
	// connection drops.
	if _, ok, err := shared.Latch().Wait(ctx); err != nil || !ok {
		t.Fatalf("shared session = (_, %v, %v)", ok, err)
	}
	connector.Last().Disconnect()

	if err := pipeline.StartDiscovery(ctx, bob); err != nil {
		t.Fatalf("StartDiscovery: %v", err)
	}
	if notice := testutil.RequireReceive(t, notices, waitTimeout, "outcome"); notice.Kind != NoticeHandoff {
		t.Fatalf("search on the shared session = %v (%s), want a handoff", notice.Kind, notice.Message())
	}
	testutil.RequireReceive(t, launches, waitTimeout, "launch")
}
