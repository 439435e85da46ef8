// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package enumerator

import (
	"fmt"
	"sync"

	"github.com/bureau-foundation/vfsstore/lib/mapped"
)

const hashesMagic int32 = 0x56485348 // "VHSH"

// HashSize is the width of keys stored by Hashes.
const HashSize = 32

// Hashes is a persistent enumerator of fixed-width 32-byte keys. Ids
// start at 1 and are assigned in insertion order. The file
// (base + ".dat") is the header followed by the keys in id order; the
// lookup map is rebuilt from it at open.
//
// Hashes is safe for concurrent use, but callers that pair an id with
// another allocation (the content store does) must hold their own lock
// across LargestID, Enumerate and that allocation.
type Hashes struct {
	mu     sync.RWMutex
	file   *mapped.File
	header indexHeader
	count  int32
	keydir map[[HashSize]byte]int32
}

// OpenHashes opens or creates the hash enumerator stored under base.
func OpenHashes(base string, version int32) (*Hashes, error) {
	file, err := mapped.Open(base + ".dat")
	if err != nil {
		return nil, fmt.Errorf("opening hash index: %w", err)
	}
	enumerator := &Hashes{
		file:   file,
		header: indexHeader{file: file, magic: hashesMagic},
		keydir: make(map[[HashSize]byte]int32),
	}
	if err := enumerator.load(version); err != nil {
		file.Close()
		return nil, err
	}
	return enumerator, nil
}

func (h *Hashes) load(version int32) error {
	if err := h.header.open(version); err != nil {
		return err
	}
	count, err := h.header.count()
	if err != nil {
		return err
	}
	if expected := hashOffset(count + 1); h.file.Length() < expected {
		return fmt.Errorf("hash index %s holds %d bytes for %d entries", h.file.Path(), h.file.Length(), count)
	}
	h.count = count
	for id := int32(1); id <= count; id++ {
		var key [HashSize]byte
		if _, err := h.file.ReadAt(key[:], hashOffset(id)); err != nil {
			return fmt.Errorf("loading hash %d: %w", id, err)
		}
		h.keydir[key] = id
	}
	return nil
}

// Enumerate returns the id of key, appending it if it is new. The
// boolean reports whether key was appended by this call.
func (h *Hashes) Enumerate(key [HashSize]byte) (int32, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id, ok := h.keydir[key]; ok {
		return id, false, nil
	}

	id := h.count + 1
	if _, err := h.file.WriteAt(key[:], hashOffset(id)); err != nil {
		return 0, false, fmt.Errorf("appending hash %d: %w", id, err)
	}
	if err := h.header.setCount(id); err != nil {
		return 0, false, fmt.Errorf("updating hash count: %w", err)
	}
	h.count = id
	h.keydir[key] = id
	return id, true, nil
}

// TryEnumerate returns the id of key, or 0 if it is unknown.
func (h *Hashes) TryEnumerate(key [HashSize]byte) int32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.keydir[key]
}

// ValueOf returns the key assigned to id.
func (h *Hashes) ValueOf(id int32) ([HashSize]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var key [HashSize]byte
	if id < 1 || id > h.count {
		return key, fmt.Errorf("hash %d (largest %d): %w", id, h.count, ErrNotFound)
	}
	if _, err := h.file.ReadAt(key[:], hashOffset(id)); err != nil {
		return key, fmt.Errorf("reading hash %d: %w", id, err)
	}
	return key, nil
}

// LargestID returns the most recently assigned id.
func (h *Hashes) LargestID() int32 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Version returns the format version stamped in the header.
func (h *Hashes) Version() (int32, error) { return h.header.version() }

// SetVersion restamps the header.
func (h *Hashes) SetVersion(version int32) error { return h.header.setVersion(version) }

// IsDirty reports whether the file has unforced writes.
func (h *Hashes) IsDirty() bool { return h.file.IsDirty() }

// Force flushes the file.
func (h *Hashes) Force() error { return h.file.Force() }

// Close forces and closes the file.
func (h *Hashes) Close() error { return h.file.Close() }

// RemoveHashes deletes the file of the enumerator stored under base.
func RemoveHashes(base string) error { return mapped.Remove(base + ".dat") }

func hashOffset(id int32) int64 {
	return headerSize + int64(id-1)*HashSize
}
