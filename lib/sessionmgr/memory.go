// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package sessionmgr

import (
	"context"
	"crypto/subtle"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/clock"
	"github.com/tandem-chat/tandem/lib/config"
	"github.com/tandem-chat/tandem/lib/gateway"
)

// Directory is the content of a memory backend: every account, its
// password, its contacts, and the endpoints it has published.
//
//	accounts:
//	  alice@example.org:
//	    password: wonderland
//	    contacts: [bob@example.org]
//	    endpoints:
//	      - address: alice@example.org/laptop
//	        features: [urn:xmpp:webrtc:0]
type Directory struct {
	Accounts map[string]*DirectoryAccount `yaml:"accounts"`
}

// DirectoryAccount is one account in a Directory.
type DirectoryAccount struct {
	Password  string            `yaml:"password"`
	Contacts  []address.Address `yaml:"contacts,omitempty"`
	Endpoints []EndpointRecord  `yaml:"endpoints,omitempty"`
}

// LoadDirectory reads a directory file. Files ending in .json or
// .jsonc are JSON with comments; anything else is YAML.
func LoadDirectory(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}
	var directory Directory
	if err := config.Parse(path, data, &directory); err != nil {
		return nil, err
	}
	if err := directory.validate(); err != nil {
		return nil, fmt.Errorf("directory %s: %w", path, err)
	}
	return &directory, nil
}

func (d *Directory) validate() error {
	for key, account := range d.Accounts {
		parsed, err := address.Parse(key)
		if err != nil {
			return fmt.Errorf("account %q: %w", key, err)
		}
		if !parsed.IsBare() {
			return fmt.Errorf("account %q must be a bare address", key)
		}
		if account == nil {
			return fmt.Errorf("account %q is empty", key)
		}
		for _, endpoint := range account.Endpoints {
			if endpoint.Address.Bare() != parsed {
				return fmt.Errorf("account %q publishes endpoint %s it does not own", key, endpoint.Address)
			}
		}
	}
	return nil
}

// MemoryBackend serves sessions from an in-memory Directory, with an
// optional simulated per-operation latency.
type MemoryBackend struct {
	latency time.Duration
	clock   clock.Clock

	mu        sync.RWMutex
	directory *Directory
}

// NewMemoryBackend creates a backend over directory. clk may be nil.
func NewMemoryBackend(directory *Directory, latency time.Duration, clk clock.Clock) *MemoryBackend {
	if directory == nil {
		directory = &Directory{}
	}
	if directory.Accounts == nil {
		directory.Accounts = make(map[string]*DirectoryAccount)
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryBackend{latency: latency, clock: clk, directory: directory}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Open(account address.Address) (BackendSession, error) {
	return &memorySession{backend: b, account: account}, nil
}

// delay simulates a round trip.
func (b *MemoryBackend) delay(ctx context.Context) error {
	if b.latency <= 0 {
		return ctx.Err()
	}
	select {
	case <-b.clock.After(b.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// account returns a snapshot of the directory entry for account.
func (b *MemoryBackend) account(account address.Address) (DirectoryAccount, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.directory.Accounts[account.Bare().String()]
	if !ok {
		return DirectoryAccount{}, false
	}
	return DirectoryAccount{
		Password:  entry.Password,
		Contacts:  slices.Clone(entry.Contacts),
		Endpoints: slices.Clone(entry.Endpoints),
	}, true
}

type memorySession struct {
	backend *MemoryBackend
	account address.Address

	mu            sync.Mutex
	authenticated bool
}

func (s *memorySession) Login(ctx context.Context, credential []byte) error {
	if err := s.backend.delay(ctx); err != nil {
		return err
	}
	entry, ok := s.backend.account(s.account)
	if !ok || subtle.ConstantTimeCompare([]byte(entry.Password), credential) != 1 {
		return &AuthError{Message: "not-authorized"}
	}
	s.mu.Lock()
	s.authenticated = true
	s.mu.Unlock()
	return nil
}

func (s *memorySession) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

func (s *memorySession) query(ctx context.Context) error {
	if !s.Authenticated() {
		return ErrNotAuthenticated
	}
	return s.backend.delay(ctx)
}

func (s *memorySession) Roster(ctx context.Context) ([]address.Address, error) {
	if err := s.query(ctx); err != nil {
		return nil, err
	}
	entry, ok := s.backend.account(s.account)
	if !ok {
		return nil, nil
	}
	return entry.Contacts, nil
}

func (s *memorySession) Endpoints(ctx context.Context, target address.Address) ([]gateway.Endpoint, error) {
	if err := s.query(ctx); err != nil {
		return nil, err
	}
	entry, ok := s.backend.account(target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, target)
	}
	endpoints := make([]gateway.Endpoint, 0, len(entry.Endpoints))
	for _, record := range entry.Endpoints {
		endpoints = append(endpoints, gateway.Endpoint{Address: record.Address, Node: record.Node})
	}
	return endpoints, nil
}

func (s *memorySession) Capabilities(ctx context.Context, target address.Address) (gateway.CapabilitySet, error) {
	if err := s.query(ctx); err != nil {
		return nil, err
	}
	entry, ok := s.backend.account(target)
	if ok {
		for _, record := range entry.Endpoints {
			if record.Address == target {
				return gateway.CapabilitySet(slices.Clone(record.Features)), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrItemNotFound, target)
}

func (s *memorySession) Publish(ctx context.Context, record EndpointRecord) error {
	if err := s.query(ctx); err != nil {
		return err
	}
	if record.Address.Bare() != s.account.Bare() {
		return fmt.Errorf("cannot publish %s for %s", record.Address, s.account)
	}

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	key := s.account.Bare().String()
	entry := s.backend.directory.Accounts[key]
	if entry == nil {
		return fmt.Errorf("%w: %s", ErrItemNotFound, s.account)
	}
	for index := range entry.Endpoints {
		if entry.Endpoints[index].Address == record.Address {
			entry.Endpoints[index] = record
			return nil
		}
	}
	entry.Endpoints = append(entry.Endpoints, record)
	return nil
}

func (s *memorySession) Close(context.Context) error {
	s.mu.Lock()
	s.authenticated = false
	s.mu.Unlock()
	return nil
}
