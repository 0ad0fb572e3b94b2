// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is tandem's single CBOR configuration.
//
// CBOR carries every internal format: the tandem-sessiond socket
// protocol, the encrypted credential store, and the roster cache.
// Encoding is Core Deterministic (RFC 8949 §4.2), so the same value
// always produces the same bytes, which the roster cache relies on
// for its digest. Types with MarshalText/UnmarshalText (notably
// address.Address) travel as CBOR text strings.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
package codec
