// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsrecords

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/vfsstore/lib/config"
	"github.com/bureau-foundation/vfsstore/lib/marker"
	"github.com/bureau-foundation/vfsstore/lib/records"
)

// Store is an open record store. Create one with [Open] and release it
// with [Store.Close]. Store is safe for concurrent use.
type Store struct {
	directory string
	settings  settings
	logger    *slog.Logger

	// lock gates conn and everything reachable from it.
	lock sync.RWMutex
	conn *connection

	state         atomic.Int32
	localModCount atomic.Int64
	flushes       atomic.Int64

	stopFlusher chan struct{}
	flusherDone chan struct{}
	stopOnce    sync.Once
}

// Open opens the store in directory, creating or rebuilding it as
// needed. The returned error wraps ErrUnrecoverable when the directory
// could not be brought into a usable state.
func Open(directory string, options Options) (*Store, error) {
	resolved, err := resolveOptions(options)
	if err != nil {
		return nil, fmt.Errorf("configuring record store: %w", err)
	}
	store := &Store{
		directory: directory,
		settings:  resolved,
		logger:    resolved.logger,
	}
	store.state.Store(int32(StateOpening))

	conn, err := openConnection(directory, resolved)
	if err != nil {
		store.state.Store(int32(StateClosed))
		return nil, err
	}
	store.conn = conn
	store.state.Store(int32(StateConnected))
	store.logger.Info("record store opened",
		"path", directory,
		"version", resolved.version,
		"records", conn.table.Len()-1,
		"free", conn.free.Len(),
	)

	if resolved.storage.BackgroundFlush {
		store.startFlusher()
	}
	return store, nil
}

// Directory returns the store directory.
func (s *Store) Directory() string { return s.directory }

// State returns the lifecycle state.
func (s *Store) State() State { return State(s.state.Load()) }

// Storage returns the storage toggles the store was opened with.
func (s *Store) Storage() config.StorageConfig { return s.settings.storage }

// FormatVersion returns the on-disk format version of the store.
func (s *Store) FormatVersion() int32 { return s.settings.version }

// Close stops the flusher, forces every storage and releases the
// files. Closing a closed store is a no-op.
func (s *Store) Close() error {
	s.stopBackgroundFlush()

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.conn == nil {
		return nil
	}
	corrupted := s.State() == StateCorrupted
	if !corrupted {
		s.state.Store(int32(StateClosing))
	}
	forceErr := s.conn.force(corrupted)
	closeErr := s.conn.close()
	s.conn = nil
	s.state.Store(int32(StateClosed))
	s.logger.Info("record store closed", "path", s.directory, "corrupted", corrupted)
	if err := errors.Join(forceErr, closeErr); err != nil {
		return fmt.Errorf("closing record store: %w", err)
	}
	return nil
}

// Force persists every dirty storage and marks the store safely
// closed until the next mutation.
func (s *Store) Force() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.conn == nil {
		return fmt.Errorf("force: %w", ErrClosed)
	}
	if err := s.conn.force(s.State() == StateCorrupted); err != nil {
		return s.poisonLocked("force", err)
	}
	s.flushes.Add(1)
	return nil
}

// InvalidateCaches writes the corruption marker so that the next Open
// rebuilds the store from scratch. The open store keeps working.
func (s *Store) InvalidateCaches(reason string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.conn == nil {
		return fmt.Errorf("invalidate caches: %w", ErrClosed)
	}
	report := marker.Report{
		Time:   s.settings.clock.Now(),
		Reason: "caches invalidated: " + reason,
	}
	if err := marker.Write(s.conn.paths.marker(), report); err != nil {
		return fmt.Errorf("invalidate caches: %w", err)
	}
	s.logger.Warn("record store invalidated, rebuilding on next open", "path", s.directory, "reason", reason)
	return nil
}

// LocalModCount returns the number of successful mutations since the
// store was opened.
func (s *Store) LocalModCount() int64 { return s.localModCount.Load() }

// GlobalModCount returns the persistent modification counter. It only
// grows across sessions and is stamped into each mutated record.
func (s *Store) GlobalModCount() (int32, error) {
	return readValue(s, "global mod count", func(c *connection) (int32, error) {
		return c.table.GlobalModCount()
	})
}

// CreationTimestamp returns when the store was created, in
// milliseconds since the epoch.
func (s *Store) CreationTimestamp() (int64, error) {
	return readValue(s, "creation timestamp", func(c *connection) (int64, error) {
		return c.table.CreationTimestamp()
	})
}

// read runs fn under the read lock.
func (s *Store) read(op string, fn func(c *connection) error) error {
	s.lock.RLock()
	if s.conn == nil {
		s.lock.RUnlock()
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	err := fn(s.conn)
	s.lock.RUnlock()
	if err == nil {
		return nil
	}
	if callerError(err) {
		return s.rejected(op, err)
	}
	// The read lock cannot be upgraded; poison under a fresh write lock.
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.poisonLocked(op, err)
}

// write runs fn under the write lock and counts it as a mutation when
// it succeeds.
func (s *Store) write(op string, fn func(c *connection) error) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.conn == nil {
		return fmt.Errorf("%s: %w", op, ErrClosed)
	}
	if err := s.conn.markDirty(); err != nil {
		return s.poisonLocked(op, err)
	}
	if err := fn(s.conn); err != nil {
		if callerError(err) {
			return s.rejected(op, err)
		}
		return s.poisonLocked(op, err)
	}
	s.localModCount.Add(1)
	return nil
}

func readValue[T any](s *Store, op string, fn func(c *connection) (T, error)) (T, error) {
	var result T
	err := s.read(op, func(c *connection) error {
		var err error
		result, err = fn(c)
		return err
	})
	return result, err
}

func writeValue[T any](s *Store, op string, fn func(c *connection) (T, error)) (T, error) {
	var result T
	err := s.write(op, func(c *connection) error {
		var err error
		result, err = fn(c)
		return err
	})
	return result, err
}

func (s *Store) rejected(op string, err error) error {
	if errors.Is(err, ErrInvariant) {
		s.logger.Error("record store invariant violated", "operation", op, "error", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// poisonLocked moves the store to StateCorrupted on the first failure:
// it writes the corruption marker and makes a best-effort flush. The
// caller holds the write lock.
func (s *Store) poisonLocked(op string, cause error) error {
	failure := fmt.Errorf("%s: %w", op, cause)
	if s.conn == nil {
		return failure
	}
	if s.state.Swap(int32(StateCorrupted)) != int32(StateCorrupted) {
		s.logger.Error("record store corrupted", "path", s.directory, "operation", op, "error", cause)
		report := marker.Report{
			Time:   s.settings.clock.Now(),
			Reason: failure.Error(),
			Stack:  debug.Stack(),
		}
		if err := marker.Write(s.conn.paths.marker(), report); err != nil {
			s.logger.Error("writing corruption marker", "path", s.conn.paths.marker(), "error", err)
		}
		if err := s.conn.force(true); err != nil {
			s.logger.Error("flushing corrupted record store", "path", s.directory, "error", err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrCorrupted, cause)
}

// checkID rejects ids outside the allocated range, and the header.
func (c *connection) checkID(id int32) error {
	if id < records.RootID || id >= c.table.Len() {
		return invariantf("record %d out of range [%d, %d)", id, records.RootID, c.table.Len())
	}
	return nil
}

// bump advances the global modification counter and stamps it into
// the record.
func (c *connection) bump(id int32) error {
	count, err := c.table.GlobalModCount()
	if err != nil {
		return err
	}
	count++
	if err := c.table.SetGlobalModCount(count); err != nil {
		return err
	}
	return c.table.PutInt32(id, records.ModCountField, count)
}
