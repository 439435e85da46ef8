// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package attribute

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidKey is returned for descriptors with an empty key.
var ErrInvalidKey = errors.New("attribute: empty key")

// Descriptor names a kind of per-record attribute.
type Descriptor struct {
	// Key identifies the attribute across runs. Keys are resolved to
	// small integer ids once per store through a [Registry].
	Key string

	// Version is the payload format version. Stored payloads written
	// under a different version read as absent.
	Version int32

	// Versioned descriptors prefix every payload with a varint version.
	// Raw descriptors store the payload as is and are used for the
	// store's own reserved attributes.
	Versioned bool

	// FixedSize attributes always hold payloads of the same length, so
	// their blobs are allocated without slack.
	FixedSize bool
}

// New returns a versioned descriptor.
func New(key string, version int32, fixedSize bool) Descriptor {
	return Descriptor{Key: key, Version: version, Versioned: true, FixedSize: fixedSize}
}

// Raw returns an unversioned descriptor.
func Raw(key string) Descriptor {
	return Descriptor{Key: key}
}

func (d Descriptor) String() string {
	if !d.Versioned {
		return d.Key
	}
	return fmt.Sprintf("%s@v%d", d.Key, d.Version)
}

// Encode returns the stored form of payload.
func (d Descriptor) Encode(payload []byte) []byte {
	if !d.Versioned {
		return payload
	}
	stored := binary.AppendUvarint(make([]byte, 0, binary.MaxVarintLen32+len(payload)), uint64(uint32(d.Version)))
	return append(stored, payload...)
}

// Decode strips the version prefix from a stored payload. It reports
// false when the stored version differs from d.Version or cannot be
// read, in which case the attribute is to be treated as absent.
func (d Descriptor) Decode(stored []byte) ([]byte, bool) {
	if !d.Versioned {
		return stored, true
	}
	version, n := binary.Uvarint(stored)
	if n <= 0 || version > 0xffffffff || int32(uint32(version)) != d.Version {
		return nil, false
	}
	return stored[n:], true
}
