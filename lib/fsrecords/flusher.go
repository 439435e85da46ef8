// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsrecords

import "github.com/bureau-foundation/vfsstore/lib/clock"

func (s *Store) startFlusher() {
	s.stopFlusher = make(chan struct{})
	s.flusherDone = make(chan struct{})
	ticker := s.settings.clock.NewTicker(s.settings.flushInterval)
	go s.flushLoop(ticker)
}

func (s *Store) stopBackgroundFlush() {
	if s.stopFlusher == nil {
		return
	}
	s.stopOnce.Do(func() { close(s.stopFlusher) })
	<-s.flusherDone
}

// flushLoop forces the store on a tick only when no mutation happened
// since the previous tick, so bursts of writes are not interrupted by
// syncs.
func (s *Store) flushLoop(ticker *clock.Ticker) {
	defer close(s.flusherDone)
	defer ticker.Stop()

	observed := s.localModCount.Load()
	for {
		select {
		case <-s.stopFlusher:
			return
		case <-ticker.C:
			current := s.localModCount.Load()
			flushed := false
			if current == observed && !s.heavyActivity() {
				flushed = s.flushIfDirty()
			}
			observed = current
			if s.settings.flushHook != nil {
				s.settings.flushHook(flushed)
			}
		}
	}
}

func (s *Store) heavyActivity() bool {
	return s.settings.heavy != nil && s.settings.heavy.Active()
}

// flushIfDirty checks dirtiness without blocking writers and takes the
// write lock only to persist.
func (s *Store) flushIfDirty() bool {
	if !s.lock.TryRLock() {
		return false
	}
	dirty := s.conn != nil && s.conn.isDirty()
	s.lock.RUnlock()
	if !dirty {
		return false
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.conn == nil {
		return false
	}
	if err := s.conn.force(s.State() == StateCorrupted); err != nil {
		s.poisonLocked("background flush", err)
		return false
	}
	s.flushes.Add(1)
	s.logger.Debug("record store flushed", "path", s.directory)
	return true
}
