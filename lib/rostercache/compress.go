// Copyright 2026 The Tandem Authors
// SPDX-License-Identifier: Apache-2.0

package rostercache

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/tandem-chat/tandem/lib/config"
)

// errIncompressible means compression would not shrink the payload;
// it is then stored as-is.
var errIncompressible = errors.New("payload is incompressible")

const (
	defaultCompression = config.CompressionZstd
	uncompressed       = config.CompressionNone
)

func validCompression(name string) bool {
	switch name {
	case config.CompressionNone, config.CompressionLZ4, config.CompressionZstd:
		return true
	}
	return false
}

// zstd encoders and decoders are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("rostercache: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("rostercache: zstd decoder initialization failed: " + err.Error())
	}
}

func compress(data []byte, compression string) ([]byte, error) {
	switch compression {
	case config.CompressionNone:
		return data, nil
	case config.CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// Zero means the block did not compress.
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return destination[:written], nil
	case config.CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
}

func decompress(compressed []byte, compression string, size int) ([]byte, error) {
	switch compression {
	case config.CompressionNone:
		if len(compressed) != size {
			return nil, fmt.Errorf("uncompressed payload: size %d does not match expected %d", len(compressed), size)
		}
		return compressed, nil
	case config.CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(compressed, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return destination, nil
	case config.CompressionZstd:
		destination, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(destination) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(destination), size)
		}
		return destination, nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}
}
