// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package sessionmgr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/gateway"
)

var (
	alice       = address.MustParse("alice@example.org")
	aliceLaptop = address.MustParse("alice@example.org/laptop")
	bob         = address.MustParse("bob@example.org")
	bobPhone    = address.MustParse("bob@example.org/phone")
	bobDesk     = address.MustParse("bob@example.org/desk")
)

// testDirectory returns a fresh two-account directory.
func testDirectory() *Directory {
	return &Directory{Accounts: map[string]*DirectoryAccount{
		"alice@example.org": {
			Password: "wonderland",
			Contacts: []address.Address{bob},
			Endpoints: []EndpointRecord{
				{Address: aliceLaptop, Features: []string{gateway.FeatureWebRTC}},
			},
		},
		"bob@example.org": {
			Password: "builder",
			Contacts: []address.Address{alice},
			Endpoints: []EndpointRecord{
				{Address: bobDesk, Node: "files"},
				{Address: bobPhone, Features: []string{"urn:xmpp:ping", gateway.FeatureWebRTC}},
			},
		},
	}}
}

func loggedIn(t *testing.T, backend *MemoryBackend, account address.Address, password string) BackendSession {
	t.Helper()
	session, err := backend.Open(account)
	if err != nil {
		t.Fatalf("Open(%s): %v", account, err)
	}
	if err := session.Login(context.Background(), []byte(password)); err != nil {
		t.Fatalf("Login(%s): %v", account, err)
	}
	return session
}

func TestLoadDirectoryYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	content := `accounts:
  alice@example.org:
    password: wonderland
    contacts: [bob@example.org]
    endpoints:
      - address: alice@example.org/laptop
        features: [urn:xmpp:webrtc:0]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	directory, err := LoadDirectory(path)
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	account := directory.Accounts["alice@example.org"]
	if account == nil {
		t.Fatal("alice missing from directory")
	}
	if len(account.Contacts) != 1 || account.Contacts[0] != bob {
		t.Errorf("contacts = %v, want [%s]", account.Contacts, bob)
	}
	if len(account.Endpoints) != 1 || account.Endpoints[0].Address != aliceLaptop {
		t.Errorf("endpoints = %v", account.Endpoints)
	}
}

func TestLoadDirectoryJSONC(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.jsonc")
	content := `{
  // test accounts
  "accounts": {
    "bob@example.org": {
      "password": "builder",
      "endpoints": [{"address": "bob@example.org/phone", "features": ["urn:xmpp:webrtc:0"]}],
    },
  },
}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	directory, err := LoadDirectory(path)
	if err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	if got := directory.Accounts["bob@example.org"].Endpoints[0].Address; got != bobPhone {
		t.Errorf("endpoint = %s, want %s", got, bobPhone)
	}
}

func TestLoadDirectoryRejectsForeignEndpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	content := `accounts:
  alice@example.org:
    password: wonderland
    endpoints:
      - address: bob@example.org/phone
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadDirectory(path); err == nil {
		t.Fatal("expected an error for an endpoint owned by another account")
	}
}

func TestMemoryLoginRejectsWrongPassword(t *testing.T) {
	backend := NewMemoryBackend(testDirectory(), 0, nil)
	session, _ := backend.Open(alice)

	err := session.Login(context.Background(), []byte("looking-glass"))
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("Login error = %v, want *AuthError", err)
	}
	if authErr.Message != "not-authorized" {
		t.Errorf("message = %q, want %q", authErr.Message, "not-authorized")
	}
	if session.Authenticated() {
		t.Error("session authenticated after a rejected login")
	}
}

func TestMemoryQueriesRequireLogin(t *testing.T) {
	backend := NewMemoryBackend(testDirectory(), 0, nil)
	session, _ := backend.Open(alice)

	if _, err := session.Roster(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Roster error = %v, want ErrNotAuthenticated", err)
	}
	if _, err := session.Endpoints(context.Background(), bob); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Endpoints error = %v, want ErrNotAuthenticated", err)
	}
}

func TestMemoryQueries(t *testing.T) {
	backend := NewMemoryBackend(testDirectory(), 0, nil)
	session := loggedIn(t, backend, alice, "wonderland")
	ctx := context.Background()

	roster, err := session.Roster(ctx)
	if err != nil || len(roster) != 1 || roster[0] != bob {
		t.Fatalf("Roster = %v, %v", roster, err)
	}

	endpoints, err := session.Endpoints(ctx, bob)
	if err != nil {
		t.Fatalf("Endpoints: %v", err)
	}
	want := []gateway.Endpoint{{Address: bobDesk, Node: "files"}, {Address: bobPhone}}
	if len(endpoints) != len(want) {
		t.Fatalf("Endpoints = %v, want %v", endpoints, want)
	}
	for index := range want {
		if endpoints[index] != want[index] {
			t.Errorf("endpoint %d = %v, want %v", index, endpoints[index], want[index])
		}
	}

	features, err := session.Capabilities(ctx, bobPhone)
	if err != nil || !features.Has(gateway.FeatureWebRTC) {
		t.Errorf("Capabilities(%s) = %v, %v", bobPhone, features, err)
	}

	if _, err := session.Capabilities(ctx, address.MustParse("bob@example.org/tablet")); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("unknown endpoint error = %v, want ErrItemNotFound", err)
	}
	if _, err := session.Endpoints(ctx, address.MustParse("carol@example.org")); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("unknown contact error = %v, want ErrItemNotFound", err)
	}
}

func TestMemoryPublish(t *testing.T) {
	backend := NewMemoryBackend(testDirectory(), 0, nil)
	aliceSession := loggedIn(t, backend, alice, "wonderland")
	bobSession := loggedIn(t, backend, bob, "builder")
	ctx := context.Background()

	phone := address.MustParse("alice@example.org/phone")
	if err := aliceSession.Publish(ctx, EndpointRecord{Address: phone, Features: []string{gateway.FeatureWebRTC}}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	endpoints, err := bobSession.Endpoints(ctx, alice)
	if err != nil || len(endpoints) != 2 || endpoints[1].Address != phone {
		t.Fatalf("Endpoints after publish = %v, %v", endpoints, err)
	}

	// Republishing replaces the record.
	if err := aliceSession.Publish(ctx, EndpointRecord{Address: phone}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	features, err := bobSession.Capabilities(ctx, phone)
	if err != nil || len(features) != 0 {
		t.Errorf("Capabilities after republish = %v, %v", features, err)
	}

	if err := aliceSession.Publish(ctx, EndpointRecord{Address: bobPhone}); err == nil {
		t.Error("publishing another account's endpoint succeeded")
	}
}
