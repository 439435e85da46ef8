// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies how a stored content blob is compressed.
// The tag is the first byte of every blob when compression is enabled.
// These values are on-disk constants.
type CompressionTag uint8

const (
	// CompressionNone stores content as is. With compression enabled
	// it marks blobs whose compressed form was not smaller.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 is LZ4 block compression: cheap to encode, very
	// fast to decode. The default lightweight compression.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd is zstd at the default level: better ratios on
	// text, slower than LZ4.
	CompressionZstd CompressionTag = 2
)

func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseCompressionTag parses the configuration name of a tag.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// errIncompressible is returned by the compressors when the output is
// not smaller than the input.
var errIncompressible = errors.New("data is incompressible")

// ErrBadEncoding is returned when a stored blob cannot be decoded.
var ErrBadEncoding = errors.New("contentstore: undecodable content blob")

// encode returns the stored form of payload: tag byte, uvarint raw
// size, then the (possibly) compressed bytes. Incompressible payloads
// fall back to CompressionNone.
func encode(payload []byte, tag CompressionTag) ([]byte, error) {
	compressed, err := compress(payload, tag)
	if errors.Is(err, errIncompressible) {
		tag, compressed, err = CompressionNone, payload, nil
	}
	if err != nil {
		return nil, err
	}
	stored := make([]byte, 0, 1+binary.MaxVarintLen64+len(compressed))
	stored = append(stored, byte(tag))
	stored = binary.AppendUvarint(stored, uint64(len(payload)))
	return append(stored, compressed...), nil
}

func decode(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, fmt.Errorf("empty blob: %w", ErrBadEncoding)
	}
	tag := CompressionTag(stored[0])
	size, n := binary.Uvarint(stored[1:])
	if n <= 0 || size > 1<<40 {
		return nil, fmt.Errorf("raw size: %w", ErrBadEncoding)
	}
	body := stored[1+n:]

	switch tag {
	case CompressionNone:
		if uint64(len(body)) != size {
			return nil, fmt.Errorf("stored %d bytes, header says %d: %w", len(body), size, ErrBadEncoding)
		}
		return body, nil
	case CompressionLZ4:
		return decompressLZ4(body, int(size))
	case CompressionZstd:
		return decompressZstd(body, int(size))
	default:
		return nil, fmt.Errorf("compression tag %s: %w", tag, ErrBadEncoding)
	}
}

func compress(data []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionNone:
		return nil, errIncompressible
	case CompressionLZ4:
		return compressLZ4(data)
	case CompressionZstd:
		return compressZstd(data)
	default:
		return nil, fmt.Errorf("unsupported compression tag %s", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w: %w", ErrBadEncoding, err)
	}
	if read != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d: %w", read, size, ErrBadEncoding)
	}
	return destination, nil
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use through
// EncodeAll and DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("contentstore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("contentstore: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w: %w", ErrBadEncoding, err)
	}
	if len(result) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d: %w", len(result), size, ErrBadEncoding)
	}
	return result, nil
}
