// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsrecords

import (
	"testing"
	"time"

	"github.com/bureau-foundation/vfsstore/lib/clock"
	"github.com/bureau-foundation/vfsstore/lib/records"
	"github.com/bureau-foundation/vfsstore/lib/testutil"
)

const flushInterval = 5 * time.Second

type flusherHarness struct {
	store *Store
	clock *clock.FakeClock
	ticks chan bool
}

func newFlusherHarness(t *testing.T, heavy HeavyActivity) *flusherHarness {
	t.Helper()
	storage := testStorage()
	storage.BackgroundFlush = true
	storage.FlushInterval = flushInterval.String()

	fake := clock.Fake(epoch)
	ticks := make(chan bool, 1)
	store, err := Open(t.TempDir(), Options{
		Storage:   storage,
		Clock:     fake,
		Heavy:     heavy,
		flushHook: func(flushed bool) { ticks <- flushed },
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	harness := &flusherHarness{store: store, clock: fake, ticks: ticks}
	// The first tick settles whatever the open itself left dirty and
	// pins the flusher's view of the modification count.
	harness.tick(t)
	return harness
}

func (h *flusherHarness) tick(t *testing.T) bool {
	t.Helper()
	h.clock.WaitForTimers(1)
	h.clock.Advance(flushInterval)
	return testutil.RequireReceive(t, h.ticks, 5*time.Second, "waiting for flusher tick")
}

func (h *flusherHarness) status(t *testing.T) records.Status {
	t.Helper()
	h.store.lock.RLock()
	defer h.store.lock.RUnlock()
	status, err := h.store.conn.table.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	return status
}

func TestBackgroundFlushWaitsForQuiet(t *testing.T) {
	harness := newFlusherHarness(t, nil)
	store := harness.store

	mustCreate(t, store)
	if got := harness.status(t); got != records.StatusConnected {
		t.Fatalf("status after mutation = %s, want %s", got, records.StatusConnected)
	}
	if harness.tick(t) {
		t.Error("flushed on a tick that followed a mutation")
	}
	if !harness.tick(t) {
		t.Fatal("did not flush on a quiet tick")
	}
	if got := harness.status(t); got != records.StatusSafelyClosed {
		t.Errorf("status after background flush = %s, want %s", got, records.StatusSafelyClosed)
	}
	if harness.tick(t) {
		t.Error("flushed a clean store")
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Flushes < 1 {
		t.Errorf("Flushes = %d, want at least 1", stats.Flushes)
	}
}

func TestBackgroundFlushDefersToHeavyActivity(t *testing.T) {
	var latch Latch
	harness := newFlusherHarness(t, &latch)

	exit := latch.Enter()
	mustCreate(t, harness.store)
	harness.tick(t)
	if harness.tick(t) {
		t.Error("flushed during heavy activity")
	}
	exit()
	exit()
	if latch.Active() {
		t.Fatal("latch still active after exit")
	}
	if !harness.tick(t) {
		t.Error("did not flush after heavy activity ended")
	}
}

func TestCloseStopsFlusher(t *testing.T) {
	harness := newFlusherHarness(t, nil)
	if err := harness.store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	testutil.RequireClosed(t, harness.store.flusherDone, time.Second, "flusher exit")
	if pending := harness.clock.PendingCount(); pending != 0 {
		t.Errorf("PendingCount() after Close = %d, want 0", pending)
	}
	harness.clock.Advance(flushInterval)
	select {
	case flushed := <-harness.ticks:
		t.Errorf("flusher ticked after Close (flushed %t)", flushed)
	case <-time.After(50 * time.Millisecond): //nolint:realclock asserting absence
	}
}
