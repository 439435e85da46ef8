// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package enumerator

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/vfsstore/lib/mapped"
	"github.com/zeebo/xxh3"
)

const stringsMagic int32 = 0x564e4d45 // "VNME"

// Strings is a persistent, append-only string enumerator. Ids start at
// 1 and are assigned in insertion order; 0 is never assigned.
//
// On disk the enumerator is a log of length-prefixed strings
// (base + ".dat") and an offset index with one int64 per id
// (base + ".idx"). The lookup index in memory maps the xxh3 hash of
// each string to the ids carrying that hash; every candidate is
// confirmed by reading the string back, so hash collisions are
// harmless. The in-memory index is rebuilt at open by reading every
// entry once.
//
// Strings is safe for concurrent use.
type Strings struct {
	mu      sync.RWMutex
	data    *mapped.File
	index   *mapped.File
	header  indexHeader
	count   int32
	keydir  map[uint64][]int32
	scratch []byte
}

// OpenStrings opens or creates the enumerator stored under base. A new
// enumerator is stamped with version.
func OpenStrings(base string, version int32) (*Strings, error) {
	data, err := mapped.Open(base + ".dat")
	if err != nil {
		return nil, fmt.Errorf("opening string log: %w", err)
	}
	index, err := mapped.Open(base + ".idx")
	if err != nil {
		data.Close()
		return nil, fmt.Errorf("opening string index: %w", err)
	}

	enumerator := &Strings{
		data:   data,
		index:  index,
		header: indexHeader{file: index, magic: stringsMagic},
		keydir: make(map[uint64][]int32),
	}
	if err := enumerator.load(version); err != nil {
		enumerator.Close()
		return nil, err
	}
	return enumerator, nil
}

func (s *Strings) load(version int32) error {
	if err := s.header.open(version); err != nil {
		return err
	}
	count, err := s.header.count()
	if err != nil {
		return err
	}
	if expected := int64(headerSize) + int64(count)*8; s.index.Length() < expected {
		return fmt.Errorf("string index %s holds %d bytes for %d entries", s.index.Path(), s.index.Length(), count)
	}
	s.count = count
	for id := int32(1); id <= count; id++ {
		value, err := s.readLocked(id)
		if err != nil {
			return fmt.Errorf("loading string %d: %w", id, err)
		}
		hash := xxh3.HashString(value)
		s.keydir[hash] = append(s.keydir[hash], id)
	}
	return nil
}

// Enumerate returns the id of value, appending it if it is new.
func (s *Strings) Enumerate(value string) (int32, error) {
	hash := xxh3.HashString(value)

	s.mu.RLock()
	id, err := s.findLocked(hash, value)
	s.mu.RUnlock()
	if err != nil || id != 0 {
		return id, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another writer may have appended the same value in between.
	if id, err := s.findLocked(hash, value); err != nil || id != 0 {
		return id, err
	}
	return s.appendLocked(hash, value)
}

// TryEnumerate returns the id of value, or 0 if it was never
// enumerated.
func (s *Strings) TryEnumerate(value string) (int32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(xxh3.HashString(value), value)
}

// ValueOf returns the string assigned to id.
func (s *Strings) ValueOf(id int32) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id < 1 || id > s.count {
		return "", fmt.Errorf("string %d (largest %d): %w", id, s.count, ErrNotFound)
	}
	return s.readLocked(id)
}

// LargestID returns the most recently assigned id.
func (s *Strings) LargestID() int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Version returns the format version stamped in the index header.
func (s *Strings) Version() (int32, error) { return s.header.version() }

// SetVersion restamps the index header.
func (s *Strings) SetVersion(version int32) error { return s.header.setVersion(version) }

// IsDirty reports whether either file has unforced writes.
func (s *Strings) IsDirty() bool { return s.data.IsDirty() || s.index.IsDirty() }

// Force flushes the log before the index so that a forced index never
// points past the forced log.
func (s *Strings) Force() error {
	if err := s.data.Force(); err != nil {
		return err
	}
	return s.index.Force()
}

// Close forces and closes both files.
func (s *Strings) Close() error {
	return errors.Join(s.data.Close(), s.index.Close())
}

// RemoveStrings deletes the files of the enumerator stored under base.
func RemoveStrings(base string) error {
	return errors.Join(mapped.Remove(base+".dat"), mapped.Remove(base+".idx"))
}

func (s *Strings) findLocked(hash uint64, value string) (int32, error) {
	for _, candidate := range s.keydir[hash] {
		stored, err := s.readLocked(candidate)
		if err != nil {
			return 0, err
		}
		if stored == value {
			return candidate, nil
		}
	}
	return 0, nil
}

func (s *Strings) appendLocked(hash uint64, value string) (int32, error) {
	offset := s.data.Length()
	s.scratch = binary.AppendUvarint(s.scratch[:0], uint64(len(value)))
	s.scratch = append(s.scratch, value...)
	if _, err := s.data.WriteAt(s.scratch, offset); err != nil {
		return 0, fmt.Errorf("appending string: %w", err)
	}

	id := s.count + 1
	if err := s.index.PutInt64(entryOffset(id), offset); err != nil {
		return 0, fmt.Errorf("indexing string %d: %w", id, err)
	}
	if err := s.header.setCount(id); err != nil {
		return 0, fmt.Errorf("updating string count: %w", err)
	}
	s.count = id
	s.keydir[hash] = append(s.keydir[hash], id)
	return id, nil
}

func (s *Strings) readLocked(id int32) (string, error) {
	offset, err := s.index.Int64(entryOffset(id))
	if err != nil {
		return "", fmt.Errorf("reading offset of string %d: %w", id, err)
	}

	available := s.data.Length() - offset
	if offset < 0 || available <= 0 {
		return "", fmt.Errorf("string %d at offset %d lies outside the %d-byte log", id, offset, s.data.Length())
	}
	prefix := make([]byte, min(int64(binary.MaxVarintLen64), available))
	if _, err := s.data.ReadAt(prefix, offset); err != nil {
		return "", fmt.Errorf("reading length of string %d: %w", id, err)
	}
	length, width := binary.Uvarint(prefix)
	if width <= 0 || length > uint64(available-int64(width)) {
		return "", fmt.Errorf("string %d at offset %d has a malformed length", id, offset)
	}

	value := make([]byte, length)
	if _, err := s.data.ReadAt(value, offset+int64(width)); err != nil {
		return "", fmt.Errorf("reading string %d: %w", id, err)
	}
	return string(value), nil
}

func entryOffset(id int32) int64 {
	return headerSize + int64(id-1)*8
}
