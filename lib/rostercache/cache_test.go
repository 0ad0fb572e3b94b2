// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package rostercache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/clock"
	"github.com/tandem-chat/tandem/lib/codec"
	"github.com/tandem-chat/tandem/lib/config"
)

var (
	alice = address.MustParse("alice@example.org")
	bob   = address.MustParse("bob@example.org")
	carol = address.MustParse("carol@example.org")
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newCache(t *testing.T, compression string) (*Cache, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache", "roster.cbor")
	cache, err := New(Config{Path: path, Compression: compression, Clock: clock.Fake(epoch)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cache, path
}

// largeRoster is big and repetitive enough that every codec shrinks it.
func largeRoster() []address.Address {
	contacts := make([]address.Address, 0, 200)
	for index := range 200 {
		contacts = append(contacts, address.MustParse(fmt.Sprintf("contact%03d@example.org", index)))
	}
	return contacts
}

func TestSaveAndLoad(t *testing.T) {
	for _, compression := range []string{config.CompressionNone, config.CompressionLZ4, config.CompressionZstd} {
		t.Run(compression, func(t *testing.T) {
			cache, _ := newCache(t, compression)
			for name, contacts := range map[string][]address.Address{
				"small": {bob, carol},
				"large": largeRoster(),
			} {
				if err := cache.Save(alice, contacts); err != nil {
					t.Fatalf("Save(%s): %v", name, err)
				}
				entry, ok, err := cache.Load(alice)
				if err != nil || !ok {
					t.Fatalf("Load(%s) = %v, %v", name, ok, err)
				}
				if len(entry.Contacts) != len(contacts) {
					t.Fatalf("%s: %d contacts, want %d", name, len(entry.Contacts), len(contacts))
				}
				for index := range contacts {
					if entry.Contacts[index] != contacts[index] {
						t.Errorf("%s: contact %d = %s, want %s", name, index, entry.Contacts[index], contacts[index])
					}
				}
				if !entry.SavedAt.Equal(epoch) {
					t.Errorf("SavedAt = %v, want %v", entry.SavedAt, epoch)
				}
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	cache, _ := newCache(t, "")
	if _, ok, err := cache.Load(alice); err != nil || ok {
		t.Fatalf("Load on empty cache = %v, %v", ok, err)
	}
}

func TestEntriesAreKeyedByBareAddress(t *testing.T) {
	cache, _ := newCache(t, "")
	if err := cache.Save(address.MustParse("alice@example.org/laptop"), []address.Address{bob}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := cache.Save(bob, []address.Address{alice}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entry, ok, err := cache.Load(alice)
	if err != nil || !ok || len(entry.Contacts) != 1 || entry.Contacts[0] != bob {
		t.Fatalf("Load(alice) = %+v, %v, %v", entry, ok, err)
	}

	if err := cache.Forget(alice); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if _, ok, _ := cache.Load(alice); ok {
		t.Error("alice still cached after Forget")
	}
	if _, ok, _ := cache.Load(bob); !ok {
		t.Error("Forget(alice) dropped bob")
	}
}

func TestDigestMismatchIsCorrupt(t *testing.T) {
	cache, path := newCache(t, config.CompressionNone)
	if err := cache.Save(alice, []address.Address{bob}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var file envelope
	if err := codec.Unmarshal(data, &file); err != nil {
		t.Fatal(err)
	}
	file.Digest[0] ^= 0xff
	tampered, err := codec.Marshal(file)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, tampered, 0o600); err != nil {
		t.Fatal(err)
	}

	if _, _, err := cache.Load(alice); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Load error = %v, want ErrCorrupt", err)
	}

	// Saving over a corrupt file starts fresh.
	if err := cache.Save(bob, []address.Address{alice}); err != nil {
		t.Fatalf("Save over corrupt file: %v", err)
	}
	if _, ok, err := cache.Load(bob); err != nil || !ok {
		t.Fatalf("Load after recovery = %v, %v", ok, err)
	}
}

func TestGarbageIsCorrupt(t *testing.T) {
	cache, path := newCache(t, "")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not cbor at all"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := cache.Load(alice); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Load error = %v, want ErrCorrupt", err)
	}
}

func TestNewRejectsUnknownCompression(t *testing.T) {
	if _, err := New(Config{Path: filepath.Join(t.TempDir(), "roster"), Compression: "brotli"}); err == nil {
		t.Fatal("expected an error for an unknown compression")
	}
}
