// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer is a fixed-size region of locked, non-dumpable memory outside
// the Go heap. It must not be copied. Reading after Close panics.
type Buffer struct {
	mu     sync.Mutex
	region []byte
	closed bool
}

// New maps a zero-filled buffer of size bytes.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}
	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap: %w", err)
	}
	if err := unix.Mlock(region); err != nil {
		unix.Munmap(region)
		return nil, fmt.Errorf("secret: mlock: %w", err)
	}
	if err := unix.Madvise(region, unix.MADV_DONTDUMP); err != nil {
		unix.Munlock(region)
		unix.Munmap(region)
		return nil, fmt.Errorf("secret: madvise(MADV_DONTDUMP): %w", err)
	}
	return &Buffer{region: region}, nil
}

// NewFromBytes copies source into a new Buffer and zeroes source.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: empty source")
	}
	buffer, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(buffer.region, source)
	Zero(source)
	return buffer, nil
}

// NewFromString copies text into a new Buffer. The string itself
// cannot be zeroed; callers holding user input as a string should
// drop it promptly.
func NewFromString(text string) (*Buffer, error) {
	return NewFromBytes([]byte(text))
}

// Bytes returns the protected region. The slice aliases the mapping
// and is invalid after Close.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		panic("secret: read from closed buffer")
	}
	return b.region
}

// String returns a heap copy of the contents, for APIs that insist on
// a string.
func (b *Buffer) String() string {
	return string(b.Bytes())
}

// Len returns the buffer size (zero after Close).
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.region)
}

// Close zeroes and releases the mapping. Idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	Zero(b.region)
	var err error
	if unlockErr := unix.Munlock(b.region); unlockErr != nil {
		err = fmt.Errorf("secret: munlock: %w", unlockErr)
	}
	if unmapErr := unix.Munmap(b.region); unmapErr != nil && err == nil {
		err = fmt.Errorf("secret: munmap: %w", unmapErr)
	}
	b.region = nil
	return err
}

// Zero overwrites data with zeros.
func Zero(data []byte) {
	clear(data)
}
