// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

package mapped

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// minimumGrowth is the smallest amount by which the physical file is
// extended when a write lands past the current capacity.
const minimumGrowth = 64 << 10

// lengthSuffix names the sidecar file holding the logical length.
const lengthSuffix = ".len"

var (
	// ErrOutOfRange is returned for reads past the logical length and
	// for negative offsets.
	ErrOutOfRange = errors.New("mapped: offset out of range")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("mapped: file is closed")

	// ErrLengthMissing is returned by Open when a non-empty file has no
	// length sidecar. The file was never forced, so its contents cannot
	// be trusted.
	ErrLengthMissing = errors.New("mapped: length sidecar missing")
)

// File is a growable memory-mapped file. See the package documentation
// for the length/capacity model.
type File struct {
	path string

	mu     sync.RWMutex
	fd     int
	data   []byte // MAP_SHARED, PROT_READ|PROT_WRITE; len(data) is the capacity
	length int64
	closed bool

	dirty atomic.Bool
}

// Open opens or creates the mapped file at path. A new file starts
// empty with no mapping; the first write allocates capacity.
func Open(path string) (*File, error) {
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening mapped file %s: %w", path, err)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stating mapped file %s: %w", path, err)
	}

	length, err := readLength(path, stat.Size)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	file := &File{path: path, fd: fd, length: length}
	if stat.Size > 0 {
		data, err := unix.Mmap(fd, 0, int(stat.Size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("memory-mapping %s: %w", path, err)
		}
		file.data = data
	}
	return file, nil
}

// readLength loads the logical length from the sidecar. A missing
// sidecar is fine for an empty file and an error otherwise.
func readLength(path string, physicalSize int64) (int64, error) {
	raw, err := os.ReadFile(path + lengthSuffix)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if physicalSize == 0 {
				return 0, nil
			}
			return 0, fmt.Errorf("%s: %w", path, ErrLengthMissing)
		}
		return 0, fmt.Errorf("reading length of %s: %w", path, err)
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("length sidecar of %s is %d bytes, want 8", path, len(raw))
	}
	length := int64(binary.LittleEndian.Uint64(raw))
	if length < 0 || length > physicalSize {
		return 0, fmt.Errorf("length sidecar of %s records %d bytes but the file holds %d",
			path, length, physicalSize)
	}
	return length, nil
}

// Path returns the path the file was opened with.
func (f *File) Path() string { return f.path }

// Length returns the logical length in bytes.
func (f *File) Length() int64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.length
}

// IsDirty reports whether the file was written since the last Force.
func (f *File) IsDirty() bool { return f.dirty.Load() }

// ReadAt copies len(p) bytes starting at off. The whole range must lie
// within the logical length.
func (f *File) ReadAt(p []byte, off int64) (count int, err error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.checkRead(off, int64(len(p))); err != nil {
		return 0, err
	}

	defer recoverFault(f.path, off, debug.SetPanicOnFault(true), &err)
	return copy(p, f.data[off:off+int64(len(p))]), nil
}

// WriteAt copies p into the file at off, growing the file as needed.
func (f *File) WriteAt(p []byte, off int64) (count int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("%s: write at %d: %w", f.path, off, ErrOutOfRange)
	}

	end := off + int64(len(p))
	if end > int64(len(f.data)) {
		if err := f.growLocked(end); err != nil {
			return 0, err
		}
	}

	defer recoverFault(f.path, off, debug.SetPanicOnFault(true), &err)
	count = copy(f.data[off:end], p)
	if end > f.length {
		f.length = end
	}
	f.dirty.Store(true)
	return count, nil
}

// Int32 reads a little-endian int32 at off.
func (f *File) Int32(off int64) (value int32, err error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.checkRead(off, 4); err != nil {
		return 0, err
	}
	defer recoverFault(f.path, off, debug.SetPanicOnFault(true), &err)
	return int32(binary.LittleEndian.Uint32(f.data[off:])), nil
}

// PutInt32 writes a little-endian int32 at off.
func (f *File) PutInt32(off int64, value int32) error {
	var buffer [4]byte
	binary.LittleEndian.PutUint32(buffer[:], uint32(value))
	_, err := f.WriteAt(buffer[:], off)
	return err
}

// Int64 reads a little-endian int64 at off.
func (f *File) Int64(off int64) (value int64, err error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.checkRead(off, 8); err != nil {
		return 0, err
	}
	defer recoverFault(f.path, off, debug.SetPanicOnFault(true), &err)
	return int64(binary.LittleEndian.Uint64(f.data[off:])), nil
}

// PutInt64 writes a little-endian int64 at off.
func (f *File) PutInt64(off int64, value int64) error {
	var buffer [8]byte
	binary.LittleEndian.PutUint64(buffer[:], uint64(value))
	_, err := f.WriteAt(buffer[:], off)
	return err
}

// Zero overwrites size bytes at off with zeros, growing the file if
// the range extends past the current length.
func (f *File) Zero(off, size int64) error {
	_, err := f.WriteAt(make([]byte, size), off)
	return err
}

// Force flushes the mapping to disk and persists the logical length.
// Force on a clean file is a no-op.
func (f *File) Force() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	return f.forceLocked()
}

func (f *File) forceLocked() error {
	if !f.dirty.Load() {
		return nil
	}
	if len(f.data) > 0 {
		if err := unix.Msync(f.data, unix.MS_SYNC); err != nil {
			return fmt.Errorf("syncing %s: %w", f.path, err)
		}
	}
	if err := writeLength(f.path, f.length); err != nil {
		return err
	}
	f.dirty.Store(false)
	return nil
}

// Close forces pending writes, unmaps the file and closes the
// descriptor. Close is idempotent.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true

	firstErr := f.forceLocked()
	if f.data != nil {
		if err := unix.Munmap(f.data); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unmapping %s: %w", f.path, err)
		}
		f.data = nil
	}
	if err := unix.Close(f.fd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing %s: %w", f.path, err)
	}
	f.fd = -1
	return firstErr
}

func (f *File) checkRead(off, size int64) error {
	if f.closed {
		return ErrClosed
	}
	if off < 0 || size < 0 || off+size > f.length {
		return fmt.Errorf("%s: read %d bytes at %d with length %d: %w",
			f.path, size, off, f.length, ErrOutOfRange)
	}
	return nil
}

// growLocked extends the file and remaps it so that at least required
// bytes are addressable.
func (f *File) growLocked(required int64) error {
	capacity := int64(len(f.data)) * 2
	if capacity < minimumGrowth {
		capacity = minimumGrowth
	}
	for capacity < required {
		capacity *= 2
	}
	pageSize := int64(unix.Getpagesize())
	capacity = (capacity + pageSize - 1) / pageSize * pageSize

	if f.data != nil {
		if err := unix.Munmap(f.data); err != nil {
			return fmt.Errorf("unmapping %s for growth: %w", f.path, err)
		}
		f.data = nil
	}
	if err := unix.Ftruncate(f.fd, capacity); err != nil {
		return fmt.Errorf("extending %s to %d bytes: %w", f.path, capacity, err)
	}
	data, err := unix.Mmap(f.fd, 0, int(capacity), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("remapping %s at %d bytes: %w", f.path, capacity, err)
	}
	f.data = data
	return nil
}

func writeLength(path string, length int64) error {
	var buffer [8]byte
	binary.LittleEndian.PutUint64(buffer[:], uint64(length))
	temporaryPath := path + lengthSuffix + ".tmp"
	if err := os.WriteFile(temporaryPath, buffer[:], 0o644); err != nil {
		return fmt.Errorf("writing length of %s: %w", path, err)
	}
	if err := os.Rename(temporaryPath, path+lengthSuffix); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming length of %s into place: %w", path, err)
	}
	return nil
}

// recoverFault converts a page fault on the mapping (for example an
// I/O error on the backing device) into an error instead of a SIGBUS
// crash. It must be deferred directly by the accessing function, with
// the previous SetPanicOnFault setting.
func recoverFault(path string, off int64, previous bool, err *error) {
	debug.SetPanicOnFault(previous)
	if r := recover(); r != nil {
		*err = fmt.Errorf("page fault accessing %s at offset %d: %v", path, off, r)
	}
}

// Remove deletes a mapped file and its length sidecar. Missing files
// are not an error.
func Remove(path string) error {
	var errs []error
	for _, name := range []string{path, path + lengthSuffix} {
		if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
