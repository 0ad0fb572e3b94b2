// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Package rostercache keeps the last retrieved roster of each account
// on disk so a screen can show it before the session manager answers.
//
// The file is a CBOR envelope around a compressed CBOR payload. The
// envelope records the compression, the payload's uncompressed size,
// and its BLAKE3 digest; a mismatch on load is reported as
// ErrCorrupt.
package rostercache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/tandem-chat/tandem/lib/address"
	"github.com/tandem-chat/tandem/lib/atomicfile"
	"github.com/tandem-chat/tandem/lib/clock"
	"github.com/tandem-chat/tandem/lib/codec"
)

// ErrCorrupt is returned by Load when the file fails its integrity
// check.
var ErrCorrupt = errors.New("rostercache: cache file is corrupt")

const formatVersion = 1

// digestKey is the BLAKE3 key for payload digests: the ASCII domain
// name, zero-padded to 32 bytes.
var digestKey = [32]byte{
	't', 'a', 'n', 'd', 'e', 'm', '.', 'r', 'o', 's', 't', 'e', 'r', 'c', 'a', 'c',
	'h', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Entry is one account's cached roster.
type Entry struct {
	Contacts []address.Address `cbor:"contacts"`
	SavedAt  time.Time         `cbor:"saved_at"`
}

type payload struct {
	Entries map[string]Entry `cbor:"entries"`
}

type envelope struct {
	Version     int      `cbor:"version"`
	Compression string   `cbor:"compression"`
	Size        int      `cbor:"size"`
	Digest      [32]byte `cbor:"digest"`
	Payload     []byte   `cbor:"payload"`
}

// Config configures a Cache.
type Config struct {
	Path string

	// Compression is config.CompressionNone, CompressionLZ4 or
	// CompressionZstd. Empty means zstd.
	Compression string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Cache is the on-disk roster cache.
type Cache struct {
	path        string
	compression string
	clock       clock.Clock
	logger      *slog.Logger

	mu sync.Mutex
}

// New creates a cache at config.Path. Nothing is read or written yet.
func New(config Config) (*Cache, error) {
	if config.Path == "" {
		return nil, errors.New("rostercache: Path is required")
	}
	compression := config.Compression
	if compression == "" {
		compression = defaultCompression
	}
	if !validCompression(compression) {
		return nil, fmt.Errorf("rostercache: unsupported compression %q", compression)
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{path: config.Path, compression: compression, clock: clk, logger: logger}, nil
}

func digest(data []byte) [32]byte {
	hasher, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic("rostercache: blake3 keyed hasher: " + err.Error())
	}
	hasher.Write(data)
	var sum [32]byte
	copy(sum[:], hasher.Sum(nil))
	return sum
}

// read returns every cached entry. A missing file is an empty cache.
func (c *Cache) read() (map[string]Entry, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]Entry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("rostercache: reading %s: %w", c.path, err)
	}

	var file envelope
	if err := codec.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if file.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, file.Version)
	}
	raw, err := decompress(file.Payload, file.Compression, file.Size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if digest(raw) != file.Digest {
		return nil, fmt.Errorf("%w: digest mismatch", ErrCorrupt)
	}

	var content payload
	if err := codec.Unmarshal(raw, &content); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if content.Entries == nil {
		content.Entries = make(map[string]Entry)
	}
	return content.Entries, nil
}

func (c *Cache) write(entries map[string]Entry) error {
	raw, err := codec.Marshal(payload{Entries: entries})
	if err != nil {
		return fmt.Errorf("rostercache: encoding: %w", err)
	}
	file := envelope{
		Version:     formatVersion,
		Compression: c.compression,
		Size:        len(raw),
		Digest:      digest(raw),
	}
	file.Payload, err = compress(raw, c.compression)
	if errors.Is(err, errIncompressible) {
		file.Compression = uncompressed
		file.Payload = raw
	} else if err != nil {
		return fmt.Errorf("rostercache: %w", err)
	}

	data, err := codec.Marshal(file)
	if err != nil {
		return fmt.Errorf("rostercache: encoding envelope: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("rostercache: creating directory: %w", err)
	}
	return atomicfile.Write(c.path, data, 0o600)
}

// Load returns the cached roster for account's bare address. ok is
// false when nothing is cached.
func (c *Cache) Load(account address.Address) (entry Entry, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := c.read()
	if err != nil {
		return Entry{}, false, err
	}
	entry, ok = entries[account.Bare().String()]
	return entry, ok, nil
}

// Save records contacts as account's roster. A corrupt file is
// replaced.
func (c *Cache) Save(account address.Address, contacts []address.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := c.read()
	if errors.Is(err, ErrCorrupt) {
		c.logger.Warn("replacing corrupt roster cache", "path", c.path, "error", err)
		entries = make(map[string]Entry)
	} else if err != nil {
		return err
	}
	entries[account.Bare().String()] = Entry{
		Contacts: slices.Clone(contacts),
		SavedAt:  c.clock.Now().UTC(),
	}
	return c.write(entries)
}

// Forget drops account's entry.
func (c *Cache) Forget(account address.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := c.read()
	if err != nil {
		return err
	}
	key := account.Bare().String()
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return c.write(entries)
}
