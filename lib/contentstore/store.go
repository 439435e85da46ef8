// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentstore

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/vfsstore/lib/blobstore"
	"github.com/bureau-foundation/vfsstore/lib/enumerator"
)

// ErrIndexMismatch is returned when the hash index and the blob table
// disagree about the next handle. The two are allocated in lockstep, so
// a mismatch means one of them was damaged.
var ErrIndexMismatch = errors.New("contentstore: hash index out of step with blob table")

// ErrDigestMismatch is returned by Check when a blob no longer hashes
// to the digest it was indexed under.
var ErrDigestMismatch = errors.New("contentstore: content does not match its digest")

// Options configures a Store.
type Options struct {
	// Version is stamped into new files.
	Version int32

	// Share enables content-hash deduplication.
	Share bool

	// Compression enables lightweight compression of stored blobs.
	// CompressionNone stores content raw, without a tag byte.
	Compression CompressionTag
}

// Stats counts deduplication activity since the store was opened.
type Stats struct {
	Stored int64 // blobs written with new bytes
	Reused int64 // writes satisfied by an existing blob
}

// Store is the reference-counted content store.
//
// Store is safe for concurrent use. Writes serialize on an internal
// mutex so that the hash index and the blob table advance together.
type Store struct {
	mu sync.Mutex

	blobs       *blobstore.Store
	hashes      *enumerator.Hashes // nil unless sharing
	compression CompressionTag
	compress    bool

	stored atomic.Int64
	reused atomic.Int64
}

// Open opens or creates the content blobs at base and, when sharing is
// enabled, the hash index at hashesBase.
func Open(base, hashesBase string, options Options) (*Store, error) {
	blobs, err := blobstore.Open(base, blobstore.Options{
		Version:  options.Version,
		Capacity: blobstore.FivePercent,
	})
	if err != nil {
		return nil, fmt.Errorf("opening content blobs: %w", err)
	}
	store := &Store{
		blobs:       blobs,
		compression: options.Compression,
		compress:    options.Compression != CompressionNone,
	}
	if options.Share {
		store.hashes, err = enumerator.OpenHashes(hashesBase, options.Version)
		if err != nil {
			blobs.Close()
			return nil, fmt.Errorf("opening content hashes: %w", err)
		}
		// Handles and hash ids are assigned in lockstep.
		if largest := store.hashes.LargestID(); largest != blobs.Len()-1 {
			store.Close()
			return nil, fmt.Errorf("%d hashes for %d blobs: %w", largest, blobs.Len()-1, ErrIndexMismatch)
		}
	}
	return store, nil
}

// Put stores payload as the content of a record whose current handle
// is current (0 for none) and returns the handle the record must now
// refer to. The reference held through current is transferred to the
// returned handle: it is released when the handle changes. changed is
// false only when the record already referred to identical shared
// content. fixedSize content is never expected to grow and is stored
// without slack.
func (s *Store) Put(current int32, payload []byte, fixedSize bool) (handle int32, changed bool, err error) {
	stored := payload
	if s.compress {
		if stored, err = encode(payload, s.compression); err != nil {
			return 0, false, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hashes != nil {
		return s.putSharedLocked(current, Hash(payload), stored, fixedSize)
	}
	return s.putPrivateLocked(current, stored, fixedSize)
}

// putSharedLocked implements deduplication. An index id at or below
// the largest id seen before enumerating belongs to a committed blob;
// a new index id must be matched by a newly created blob handle.
func (s *Store) putSharedLocked(current int32, digest Digest, stored []byte, fixedSize bool) (int32, bool, error) {
	largest := s.hashes.LargestID()
	id, _, err := s.hashes.Enumerate(digest)
	if err != nil {
		return 0, false, fmt.Errorf("indexing content %s: %w", digest, err)
	}

	if id <= largest {
		if id == current {
			return current, false, nil
		}
		if err := s.blobs.Acquire(id); err != nil {
			return 0, false, fmt.Errorf("sharing content blob %d: %w", id, err)
		}
		s.reused.Add(1)
	} else {
		handle, err := s.blobs.Create()
		if err != nil {
			return 0, false, fmt.Errorf("allocating content blob: %w", err)
		}
		if handle != id {
			return 0, false, fmt.Errorf("hash id %d, blob handle %d: %w", id, handle, ErrIndexMismatch)
		}
		if err := s.blobs.Write(handle, stored, fixedSize); err != nil {
			return 0, false, fmt.Errorf("writing content blob %d: %w", handle, err)
		}
		s.stored.Add(1)
	}

	if current != 0 {
		if _, err := s.blobs.Release(current, false); err != nil {
			return 0, false, fmt.Errorf("releasing content blob %d: %w", current, err)
		}
	}
	return id, true, nil
}

func (s *Store) putPrivateLocked(current int32, stored []byte, fixedSize bool) (int32, bool, error) {
	if current != 0 {
		count, err := s.blobs.RefCount(current)
		if err != nil {
			return 0, false, fmt.Errorf("content blob %d: %w", current, err)
		}
		if count == 1 {
			if err := s.blobs.Write(current, stored, fixedSize); err != nil {
				return 0, false, fmt.Errorf("rewriting content blob %d: %w", current, err)
			}
			s.stored.Add(1)
			return current, true, nil
		}
	}

	handle, err := s.blobs.Create()
	if err != nil {
		return 0, false, fmt.Errorf("allocating content blob: %w", err)
	}
	if err := s.blobs.Write(handle, stored, fixedSize); err != nil {
		return 0, false, fmt.Errorf("writing content blob %d: %w", handle, err)
	}
	s.stored.Add(1)
	if current != 0 {
		if _, err := s.blobs.Release(current, true); err != nil {
			return 0, false, fmt.Errorf("releasing content blob %d: %w", current, err)
		}
	}
	return handle, true, nil
}

// Read returns the content stored under handle.
func (s *Store) Read(handle int32) ([]byte, error) {
	stored, err := s.blobs.Read(handle)
	if err != nil {
		return nil, err
	}
	if !s.compress {
		return stored, nil
	}
	payload, err := decode(stored)
	if err != nil {
		return nil, fmt.Errorf("content blob %d: %w", handle, err)
	}
	return payload, nil
}

// Acquire adds a reference to handle.
func (s *Store) Acquire(handle int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs.Acquire(handle)
}

// Release drops a reference to handle. Without sharing, the last
// release deletes the blob; shared blobs stay indexed and may be
// reacquired by a later write of the same bytes.
func (s *Store) Release(handle int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.blobs.Release(handle, s.hashes == nil)
	return err
}

// RefCount returns the number of references to handle.
func (s *Store) RefCount(handle int32) (int32, error) {
	return s.blobs.RefCount(handle)
}

// Exists reports whether handle names a live blob.
func (s *Store) Exists(handle int32) bool { return s.blobs.Exists(handle) }

// Len returns one past the largest handle ever allocated.
func (s *Store) Len() int32 { return s.blobs.Len() }

// Check verifies one blob: its blob-table entry and checksum, that it
// decodes, and with sharing that it still hashes to its indexed digest.
func (s *Store) Check(handle int32) error {
	if err := s.blobs.Check(handle); err != nil {
		return err
	}
	payload, err := s.Read(handle)
	if err != nil {
		return err
	}
	if s.hashes == nil {
		return nil
	}
	indexed, err := s.hashes.ValueOf(handle)
	if err != nil {
		return fmt.Errorf("content blob %d: %w", handle, err)
	}
	if Digest(indexed) != Hash(payload) {
		return fmt.Errorf("content blob %d: %w", handle, ErrDigestMismatch)
	}
	// A dedup lookup of the digest must land on this blob.
	if found := s.hashes.TryEnumerate(indexed); found != handle {
		return fmt.Errorf("content blob %d: digest resolves to %d: %w", handle, found, ErrIndexMismatch)
	}
	return nil
}

// Stats returns write counters.
func (s *Store) Stats() Stats {
	return Stats{Stored: s.stored.Load(), Reused: s.reused.Load()}
}

// Versions returns the format version of every file the store owns.
func (s *Store) Versions() ([]int32, error) {
	blobVersion, err := s.blobs.Version()
	if err != nil {
		return nil, err
	}
	versions := []int32{blobVersion}
	if s.hashes != nil {
		hashVersion, err := s.hashes.Version()
		if err != nil {
			return nil, err
		}
		versions = append(versions, hashVersion)
	}
	return versions, nil
}

// IsDirty reports unforced writes.
func (s *Store) IsDirty() bool {
	return s.blobs.IsDirty() || (s.hashes != nil && s.hashes.IsDirty())
}

// Force persists blobs before the hash index, so a forced index entry
// never names an unforced blob.
func (s *Store) Force() error {
	if err := s.blobs.Force(); err != nil {
		return err
	}
	if s.hashes != nil {
		return s.hashes.Force()
	}
	return nil
}

// Close forces and closes the store.
func (s *Store) Close() error {
	err := s.blobs.Close()
	if s.hashes != nil {
		err = errors.Join(err, s.hashes.Close())
	}
	return err
}

// Remove deletes the files of a content store.
func Remove(base, hashesBase string) error {
	return errors.Join(blobstore.Remove(base), enumerator.RemoveHashes(hashesBase))
}
