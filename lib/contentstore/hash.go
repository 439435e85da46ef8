// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentstore

import (
	"encoding/hex"
	"strconv"

	"github.com/zeebo/blake3"
)

// Digest is the 32-byte BLAKE3 content digest used as the dedup key.
type Digest [32]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// contentDomainKey is the BLAKE3 key for content digests: the ASCII
// domain name zero-padded to 32 bytes. Changing it invalidates every
// stored hash index.
var contentDomainKey = [32]byte{
	'b', 'u', 'r', 'e', 'a', 'u', '.', 'v', 'f', 's', '.', 'c', 'o', 'n', 't', 'e',
	'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Hash returns the content digest of payload: the keyed BLAKE3 hash of
// the decimal payload length, a zero byte, and the payload. Prefixing
// the length keeps payloads that are prefixes of one another from
// sharing a hash stream.
func Hash(payload []byte) Digest {
	hasher, err := blake3.NewKeyed(contentDomainKey[:])
	if err != nil {
		// NewKeyed only fails for keys that are not 32 bytes.
		panic("contentstore: blake3 keyed hasher: " + err.Error())
	}
	var prefix [24]byte
	hasher.Write(append(strconv.AppendInt(prefix[:0], int64(len(payload)), 10), 0))
	hasher.Write(payload)

	var digest Digest
	hasher.Sum(digest[:0])
	return digest
}
