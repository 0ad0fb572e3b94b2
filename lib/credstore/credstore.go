// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Package credstore keeps account credentials on disk, encrypted to a
// local age identity.
//
// The store file is an armored age ciphertext of a CBOR map from bare
// address to credential bytes. The identity file holds the private key
// and is generated on first use. Both are written mode 0600.
package credstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/atomicfile"
	"github.com/tandem-chat/tandem/lib/codec"
	"github.com/tandem-chat/tandem/lib/sealed"
	"github.com/tandem-chat/tandem/lib/secret"
)

// ErrNotFound is returned by Load for an address with no saved
// credential.
var ErrNotFound = errors.New("credstore: no saved credential")

// Config configures a Store.
type Config struct {
	// StorePath is the encrypted credential file.
	StorePath string

	// IdentityPath is the age identity file.
	IdentityPath string

	Logger *slog.Logger
}

// Store is the encrypted credential store. Safe for concurrent use
// within one process.
type Store struct {
	path      string
	logger    *slog.Logger
	publicKey string

	mu         sync.Mutex
	privateKey *secret.Buffer
}

// Open opens the store, generating the identity if it does not exist.
// The store file itself is created by the first Store.
func Open(config Config) (*Store, error) {
	if config.StorePath == "" || config.IdentityPath == "" {
		return nil, errors.New("credstore: StorePath and IdentityPath are required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	privateKey, err := loadIdentity(config.IdentityPath, logger)
	if err != nil {
		return nil, err
	}
	publicKey, err := sealed.PublicKeyOf(privateKey)
	if err != nil {
		privateKey.Close()
		return nil, fmt.Errorf("credstore: identity %s: %w", config.IdentityPath, err)
	}
	return &Store{
		path:       config.StorePath,
		logger:     logger,
		publicKey:  publicKey,
		privateKey: privateKey,
	}, nil
}

func loadIdentity(path string, logger *slog.Logger) (*secret.Buffer, error) {
	privateKey, err := secret.ReadFromPath(path)
	if err == nil {
		return privateKey, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("credstore: reading identity: %w", err)
	}

	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("credstore: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		keypair.Close()
		return nil, fmt.Errorf("credstore: creating identity directory: %w", err)
	}
	contents := make([]byte, 0, keypair.PrivateKey.Len()+1)
	contents = append(append(contents, keypair.PrivateKey.Bytes()...), '\n')
	err = atomicfile.Write(path, contents, 0o600)
	secret.Zero(contents)
	if err != nil {
		keypair.Close()
		return nil, fmt.Errorf("credstore: writing identity: %w", err)
	}
	logger.Info("generated credential store identity", "path", path, "recipient", keypair.PublicKey)
	return keypair.PrivateKey, nil
}

// Close releases the identity. The store is unusable afterwards.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.privateKey.Close()
}

// read decrypts the store file. A missing file is an empty store.
// Callers hold mu and must zero the returned credentials.
func (s *Store) read() (map[string][]byte, error) {
	ciphertext, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string][]byte), nil
	}
	if err != nil {
		return nil, fmt.Errorf("credstore: reading %s: %w", s.path, err)
	}
	plaintext, err := sealed.Decrypt(ciphertext, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("credstore: %s: %w", s.path, err)
	}
	defer plaintext.Close()

	entries := make(map[string][]byte)
	if err := codec.Unmarshal(plaintext.Bytes(), &entries); err != nil {
		return nil, fmt.Errorf("credstore: decoding %s: %w", s.path, err)
	}
	return entries, nil
}

func (s *Store) write(entries map[string][]byte) error {
	plaintext, err := codec.Marshal(entries)
	if err != nil {
		return fmt.Errorf("credstore: encoding: %w", err)
	}
	ciphertext, err := sealed.Encrypt(plaintext, s.publicKey)
	secret.Zero(plaintext)
	if err != nil {
		return fmt.Errorf("credstore: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("credstore: creating directory: %w", err)
	}
	return atomicfile.Write(s.path, ciphertext, 0o600)
}

func zeroAll(entries map[string][]byte) {
	for _, credential := range entries {
		secret.Zero(credential)
	}
}

// update applies change to the decrypted entries and writes them back.
func (s *Store) update(change func(entries map[string][]byte)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, err := s.read()
	if err != nil {
		return err
	}
	defer zeroAll(entries)
	change(entries)
	return s.write(entries)
}

// Store saves credential for account's bare address, replacing any
// earlier one. The credential is borrowed, not closed.
func (s *Store) Store(_ context.Context, account address.Address, credential *secret.Buffer) error {
	if account.IsEmpty() {
		return errors.New("credstore: empty address")
	}
	key := account.Bare().String()
	if err := s.update(func(entries map[string][]byte) {
		if previous, ok := entries[key]; ok {
			secret.Zero(previous)
		}
		entries[key] = slices.Clone(credential.Bytes())
	}); err != nil {
		return err
	}
	s.logger.Debug("credential saved", "address", key)
	return nil
}

// Load returns the saved credential for account's bare address, or
// ErrNotFound. The caller must Close the returned buffer.
func (s *Store) Load(_ context.Context, account address.Address) (*secret.Buffer, error) {
	s.mu.Lock()
	entries, err := s.read()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	defer zeroAll(entries)

	credential, ok := entries[account.Bare().String()]
	if !ok || len(credential) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNotFound, account.Bare())
	}
	return secret.NewFromBytes(slices.Clone(credential))
}

// Remove deletes the saved credential for account. Removing an absent
// entry is not an error.
func (s *Store) Remove(_ context.Context, account address.Address) error {
	return s.update(func(entries map[string][]byte) {
		key := account.Bare().String()
		if credential, ok := entries[key]; ok {
			secret.Zero(credential)
			delete(entries, key)
		}
	})
}

// Addresses lists the accounts with saved credentials, sorted.
func (s *Store) Addresses(context.Context) ([]address.Address, error) {
	s.mu.Lock()
	entries, err := s.read()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	defer zeroAll(entries)

	addresses := make([]address.Address, 0, len(entries))
	for key := range entries {
		parsed, err := address.Parse(key)
		if err != nil {
			s.logger.Warn("skipping malformed credential entry", "key", key, "error", err)
			continue
		}
		addresses = append(addresses, parsed)
	}
	slices.SortFunc(addresses, func(a, b address.Address) int {
		return strings.Compare(a.String(), b.String())
	})
	return addresses, nil
}
