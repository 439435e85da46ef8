// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/vfsstore/lib/mapped"
	"github.com/zeebo/xxh3"
)

const tableMagic int32 = 0x56424c42 // "VBLB"

// Entry layouts. Every handle owns one entry in the table file; entry 0
// is the header (magic, version).
const (
	addressOffset  = 0  // int64: byte offset in the data file, 0 if never written
	sizeOffset     = 8  // int32: payload size
	capacityOffset = 12 // int32: reserved bytes at address, -1 once deleted
	refCountOffset = 16 // int32: full layout only
	checksumOffset = 20 // int64: full layout only, xxh3 of the payload

	compactEntrySize = 16
	fullEntrySize    = 28

	headerMagicOffset   = 0
	headerVersionOffset = 4
)

// dataHeaderSize keeps address 0 free to mean "never written".
const dataHeaderSize = 8

// deletedCapacity marks a deleted entry.
const deletedCapacity = -1

var (
	// ErrNotFound is returned for handles that were never created or
	// have been deleted.
	ErrNotFound = errors.New("blobstore: no such blob")

	// ErrChecksum is returned when a payload does not match its
	// stored checksum.
	ErrChecksum = errors.New("blobstore: checksum mismatch")

	// ErrNoRefCount is returned for reference-count operations on a
	// compact store.
	ErrNoRefCount = errors.New("blobstore: compact store has no reference counts")

	// ErrRefCount is returned when releasing a blob that holds no
	// references.
	ErrRefCount = errors.New("blobstore: reference count underflow")
)

// CapacityPolicy returns how many bytes to reserve for a payload of the
// given size when a blob has to be (re)located. Reserving slack lets
// later appends and rewrites happen in place.
type CapacityPolicy func(size int) int

// ReasonablySmall suits attribute directories and other small blobs
// that grow by appending: at least 32 bytes, 20% slack, never more than
// rounding up to the next KiB.
func ReasonablySmall(size int) int {
	grown := size + size/5
	rounded := (size/1024 + 1) * 1024
	return max(32, min(grown, rounded))
}

// FivePercent suits file content, which is usually rewritten whole.
func FivePercent(size int) int {
	return size + size/20
}

// Options configures a Store.
type Options struct {
	// Version is stamped into a new table header.
	Version int32

	// Compact selects the 16-byte entry layout without reference counts
	// or checksums.
	Compact bool

	// Capacity decides slack on relocation. Nil uses ReasonablySmall.
	Capacity CapacityPolicy
}

// Store is a handle-addressed blob storage. See the package
// documentation for the file layout.
//
// Store is safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	table     *mapped.File
	data      *mapped.File
	compact   bool
	entrySize int64
	capacity  CapacityPolicy

	count int32   // entries including the header
	free  []int32 // deleted handles, reused LIFO
}

// Open opens or creates the store under base (base.rt and base.dat).
func Open(base string, options Options) (*Store, error) {
	if options.Capacity == nil {
		options.Capacity = ReasonablySmall
	}
	entrySize := int64(fullEntrySize)
	if options.Compact {
		entrySize = compactEntrySize
	}

	table, err := mapped.Open(base + ".rt")
	if err != nil {
		return nil, fmt.Errorf("opening blob table: %w", err)
	}
	data, err := mapped.Open(base + ".dat")
	if err != nil {
		table.Close()
		return nil, fmt.Errorf("opening blob data: %w", err)
	}

	store := &Store{
		table:     table,
		data:      data,
		compact:   options.Compact,
		entrySize: entrySize,
		capacity:  options.Capacity,
	}
	if err := store.load(options.Version); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) load(version int32) error {
	if s.table.Length() == 0 {
		if err := s.table.Zero(0, s.entrySize); err != nil {
			return fmt.Errorf("writing blob table header: %w", err)
		}
		if err := s.table.PutInt32(headerMagicOffset, tableMagic); err != nil {
			return err
		}
		if err := s.table.PutInt32(headerVersionOffset, version); err != nil {
			return err
		}
	}
	if s.data.Length() == 0 {
		if err := s.data.Zero(0, dataHeaderSize); err != nil {
			return fmt.Errorf("writing blob data header: %w", err)
		}
	}

	magic, err := s.table.Int32(headerMagicOffset)
	if err != nil {
		return err
	}
	if magic != tableMagic {
		return fmt.Errorf("blob table %s: magic 0x%x, want 0x%x", s.table.Path(), magic, tableMagic)
	}
	if s.table.Length()%s.entrySize != 0 {
		return fmt.Errorf("blob table %s is %d bytes, not a multiple of the %d-byte entry",
			s.table.Path(), s.table.Length(), s.entrySize)
	}

	s.count = int32(s.table.Length() / s.entrySize)
	for id := int32(1); id < s.count; id++ {
		capacity, err := s.table.Int32(s.offset(id, capacityOffset))
		if err != nil {
			return err
		}
		if capacity == deletedCapacity {
			s.free = append(s.free, id)
		}
	}
	return nil
}

// Create allocates an empty blob and returns its handle. In the full
// layout the new blob holds one reference.
func (s *Store) Create() (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked()
}

func (s *Store) createLocked() (int32, error) {
	var id int32
	if n := len(s.free); n > 0 {
		id = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		id = s.count
		s.count++
	}
	if err := s.table.Zero(s.offset(id, 0), s.entrySize); err != nil {
		return 0, fmt.Errorf("allocating blob %d: %w", id, err)
	}
	if !s.compact {
		if err := s.table.PutInt32(s.offset(id, refCountOffset), 1); err != nil {
			return 0, err
		}
		if err := s.table.PutInt64(s.offset(id, checksumOffset), int64(xxh3.Hash(nil))); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// Write replaces the payload of id. The blob is rewritten in place when
// its reserved capacity suffices; otherwise it is relocated to the end
// of the data file with the capacity chosen by the policy, or exactly
// len(payload) bytes when fixedSize is set.
func (s *Store) Write(id int32, payload []byte, fixedSize bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.entryLocked(id)
	if err != nil {
		return err
	}

	if entry.address == 0 || int(entry.capacity) < len(payload) {
		capacity := len(payload)
		if !fixedSize {
			capacity = max(capacity, s.capacity(len(payload)))
		}
		address, err := s.allocateLocked(capacity)
		if err != nil {
			return err
		}
		entry.address = address
		entry.capacity = int32(capacity)
	}
	if _, err := s.data.WriteAt(payload, entry.address); err != nil {
		return fmt.Errorf("writing blob %d: %w", id, err)
	}
	entry.size = int32(len(payload))
	return s.storeEntryLocked(id, entry, payload)
}

// Append adds payload to the end of the blob, relocating it when the
// reserved capacity is exhausted.
func (s *Store) Append(id int32, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.entryLocked(id)
	if err != nil {
		return err
	}

	newSize := int(entry.size) + len(payload)
	if entry.address == 0 || newSize > int(entry.capacity) {
		existing, err := s.readLocked(id, entry)
		if err != nil {
			return err
		}
		capacity := max(newSize, s.capacity(newSize))
		address, err := s.allocateLocked(capacity)
		if err != nil {
			return err
		}
		if _, err := s.data.WriteAt(existing, address); err != nil {
			return fmt.Errorf("relocating blob %d: %w", id, err)
		}
		entry.address = address
		entry.capacity = int32(capacity)
	}
	if _, err := s.data.WriteAt(payload, entry.address+int64(entry.size)); err != nil {
		return fmt.Errorf("appending to blob %d: %w", id, err)
	}
	entry.size = int32(newSize)
	return s.storeEntryLocked(id, entry, nil)
}

// Replace overwrites part of the payload in place. The range must lie
// within the current payload.
func (s *Store) Replace(id int32, offset int, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, err := s.entryLocked(id)
	if err != nil {
		return err
	}
	if offset < 0 || offset+len(payload) > int(entry.size) {
		return fmt.Errorf("replacing %d bytes at %d of blob %d holding %d bytes: %w",
			len(payload), offset, id, entry.size, mapped.ErrOutOfRange)
	}
	if _, err := s.data.WriteAt(payload, entry.address+int64(offset)); err != nil {
		return fmt.Errorf("replacing in blob %d: %w", id, err)
	}
	return s.storeEntryLocked(id, entry, nil)
}

// Read returns a copy of the payload of id. In the full layout the
// checksum is verified.
func (s *Store) Read(id int32) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, err := s.entryLocked(id)
	if err != nil {
		return nil, err
	}
	payload, err := s.readLocked(id, entry)
	if err != nil {
		return nil, err
	}
	if !s.compact && xxh3.Hash(payload) != entry.checksum {
		return nil, fmt.Errorf("blob %d: %w", id, ErrChecksum)
	}
	return payload, nil
}

// Size returns the payload size of id.
func (s *Store) Size(id int32) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, err := s.entryLocked(id)
	if err != nil {
		return 0, err
	}
	return int(entry.size), nil
}

// Delete releases the handle for reuse. The data bytes are abandoned;
// compaction is not performed.
func (s *Store) Delete(id int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(id)
}

func (s *Store) deleteLocked(id int32) error {
	if _, err := s.entryLocked(id); err != nil {
		return err
	}
	if err := s.table.Zero(s.offset(id, 0), s.entrySize); err != nil {
		return fmt.Errorf("deleting blob %d: %w", id, err)
	}
	if err := s.table.PutInt32(s.offset(id, capacityOffset), deletedCapacity); err != nil {
		return fmt.Errorf("deleting blob %d: %w", id, err)
	}
	s.free = append(s.free, id)
	return nil
}

// Acquire adds a reference to id.
func (s *Store) Acquire(id int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	count, err := s.refCountLocked(id)
	if err != nil {
		return err
	}
	return s.table.PutInt32(s.offset(id, refCountOffset), count+1)
}

// Release drops a reference to id and returns the remaining count. When
// the count reaches zero and deleteUnreferenced is set, the blob is
// deleted.
func (s *Store) Release(id int32, deleteUnreferenced bool) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count, err := s.refCountLocked(id)
	if err != nil {
		return 0, err
	}
	if count <= 0 {
		return 0, fmt.Errorf("releasing blob %d with %d references: %w", id, count, ErrRefCount)
	}
	count--
	if count == 0 && deleteUnreferenced {
		return 0, s.deleteLocked(id)
	}
	if err := s.table.PutInt32(s.offset(id, refCountOffset), count); err != nil {
		return 0, err
	}
	return count, nil
}

// RefCount returns the number of references held on id.
func (s *Store) RefCount(id int32) (int32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refCountLocked(id)
}

// Exists reports whether id names a live blob.
func (s *Store) Exists(id int32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, err := s.entryLocked(id)
	return err == nil
}

// Len returns one past the largest handle ever allocated.
func (s *Store) Len() int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Check verifies the structural consistency of one blob: its extent
// lies inside the data file, its size fits its capacity, and (in the
// full layout) its checksum matches.
func (s *Store) Check(id int32) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, err := s.entryLocked(id)
	if err != nil {
		return err
	}
	if entry.size < 0 || entry.size > entry.capacity {
		return fmt.Errorf("blob %d: size %d exceeds capacity %d", id, entry.size, entry.capacity)
	}
	if entry.address == 0 {
		if entry.size != 0 {
			return fmt.Errorf("blob %d: %d bytes at no address", id, entry.size)
		}
		return nil
	}
	if entry.address < dataHeaderSize || entry.address+int64(entry.capacity) > s.data.Length() {
		return fmt.Errorf("blob %d: extent [%d, %d) outside data file of %d bytes",
			id, entry.address, entry.address+int64(entry.capacity), s.data.Length())
	}
	if s.compact {
		return nil
	}
	payload, err := s.readLocked(id, entry)
	if err != nil {
		return err
	}
	if xxh3.Hash(payload) != entry.checksum {
		return fmt.Errorf("blob %d: %w", id, ErrChecksum)
	}
	return nil
}

// Version returns the format version stamped in the table header.
func (s *Store) Version() (int32, error) { return s.table.Int32(headerVersionOffset) }

// SetVersion restamps the table header.
func (s *Store) SetVersion(version int32) error {
	return s.table.PutInt32(headerVersionOffset, version)
}

// IsDirty reports whether either file has unforced writes.
func (s *Store) IsDirty() bool { return s.table.IsDirty() || s.data.IsDirty() }

// Force flushes data before the table so that a forced entry never
// points at unforced bytes.
func (s *Store) Force() error {
	if err := s.data.Force(); err != nil {
		return err
	}
	return s.table.Force()
}

// Close forces and closes both files.
func (s *Store) Close() error {
	return errors.Join(s.data.Close(), s.table.Close())
}

// Remove deletes the files of the store under base.
func Remove(base string) error {
	return errors.Join(mapped.Remove(base+".rt"), mapped.Remove(base+".dat"))
}

type entry struct {
	address  int64
	size     int32
	capacity int32
	checksum uint64
}

func (s *Store) offset(id int32, field int64) int64 {
	return int64(id)*s.entrySize + field
}

func (s *Store) entryLocked(id int32) (entry, error) {
	if id <= 0 || id >= s.count {
		return entry{}, fmt.Errorf("blob %d (table holds %d): %w", id, s.count, ErrNotFound)
	}
	var raw [fullEntrySize]byte
	if _, err := s.table.ReadAt(raw[:s.entrySize], s.offset(id, 0)); err != nil {
		return entry{}, fmt.Errorf("reading blob entry %d: %w", id, err)
	}
	result := entry{
		address:  int64(binary.LittleEndian.Uint64(raw[addressOffset:])),
		size:     int32(binary.LittleEndian.Uint32(raw[sizeOffset:])),
		capacity: int32(binary.LittleEndian.Uint32(raw[capacityOffset:])),
	}
	if result.capacity == deletedCapacity {
		return entry{}, fmt.Errorf("blob %d: %w", id, ErrNotFound)
	}
	if !s.compact {
		result.checksum = binary.LittleEndian.Uint64(raw[checksumOffset:])
	}
	return result, nil
}

// storeEntryLocked writes address, size and capacity back, and in the
// full layout the checksum. payload may be passed when the caller
// already holds the complete new payload; otherwise it is read back.
func (s *Store) storeEntryLocked(id int32, e entry, payload []byte) error {
	if err := s.table.PutInt64(s.offset(id, addressOffset), e.address); err != nil {
		return err
	}
	if err := s.table.PutInt32(s.offset(id, sizeOffset), e.size); err != nil {
		return err
	}
	if err := s.table.PutInt32(s.offset(id, capacityOffset), e.capacity); err != nil {
		return err
	}
	if s.compact {
		return nil
	}
	if payload == nil {
		var err error
		if payload, err = s.readLocked(id, e); err != nil {
			return err
		}
	}
	return s.table.PutInt64(s.offset(id, checksumOffset), int64(xxh3.Hash(payload)))
}

func (s *Store) readLocked(id int32, e entry) ([]byte, error) {
	payload := make([]byte, e.size)
	if e.size == 0 {
		return payload, nil
	}
	if _, err := s.data.ReadAt(payload, e.address); err != nil {
		return nil, fmt.Errorf("reading blob %d: %w", id, err)
	}
	return payload, nil
}

func (s *Store) allocateLocked(capacity int) (int64, error) {
	address := s.data.Length()
	if capacity == 0 {
		// A zero-capacity blob still needs a distinct non-zero address.
		return address, nil
	}
	if err := s.data.Zero(address, int64(capacity)); err != nil {
		return 0, fmt.Errorf("allocating %d bytes: %w", capacity, err)
	}
	return address, nil
}

func (s *Store) refCountLocked(id int32) (int32, error) {
	if s.compact {
		return 0, ErrNoRefCount
	}
	if _, err := s.entryLocked(id); err != nil {
		return 0, err
	}
	return s.table.Int32(s.offset(id, refCountOffset))
}
