// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blobstore

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T, options Options) (*Store, string) {
	t.Helper()
	base := filepath.Join(t.TempDir(), "blobs")
	store, err := Open(base, options)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, base
}

func mustCreate(t *testing.T, store *Store) int32 {
	t.Helper()
	id, err := store.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return id
}

func mustRead(t *testing.T, store *Store, id int32) []byte {
	t.Helper()
	payload, err := store.Read(id)
	if err != nil {
		t.Fatalf("Read(%d): %v", id, err)
	}
	return payload
}

func TestWriteReadRelocate(t *testing.T) {
	store, _ := newTestStore(t, Options{Version: 1})
	id := mustCreate(t, store)
	if id != 1 {
		t.Errorf("first handle = %d, want 1", id)
	}

	if got := mustRead(t, store, id); len(got) != 0 {
		t.Errorf("new blob holds %d bytes, want 0", len(got))
	}

	small := []byte("hello")
	if err := store.Write(id, small, false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := mustRead(t, store, id); !bytes.Equal(got, small) {
		t.Errorf("Read = %q, want %q", got, small)
	}

	// Larger than the reserved capacity forces a relocation.
	large := bytes.Repeat([]byte("x"), 4000)
	if err := store.Write(id, large, false); err != nil {
		t.Fatalf("Write large: %v", err)
	}
	if got := mustRead(t, store, id); !bytes.Equal(got, large) {
		t.Errorf("Read after relocation returned %d bytes, want %d", len(got), len(large))
	}

	// Shrinking stays in place.
	if err := store.Write(id, small, false); err != nil {
		t.Fatalf("Write shrink: %v", err)
	}
	if got := mustRead(t, store, id); !bytes.Equal(got, small) {
		t.Errorf("Read after shrink = %q, want %q", got, small)
	}
	if err := store.Check(id); err != nil {
		t.Errorf("Check: %v", err)
	}
}

func TestAppendAndReplace(t *testing.T) {
	store, _ := newTestStore(t, Options{})
	id := mustCreate(t, store)

	var want []byte
	for i := range 100 {
		chunk := []byte{byte(i), byte(i + 1), byte(i + 2)}
		if err := store.Append(id, chunk); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		want = append(want, chunk...)
	}
	if got := mustRead(t, store, id); !bytes.Equal(got, want) {
		t.Fatalf("Read after appends differs from appended bytes")
	}

	if err := store.Replace(id, 10, []byte{0xff, 0xfe}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	want[10], want[11] = 0xff, 0xfe
	if got := mustRead(t, store, id); !bytes.Equal(got, want) {
		t.Errorf("Read after Replace differs")
	}
	if err := store.Replace(id, len(want)-1, []byte{1, 2}); err == nil {
		t.Error("Replace past the end succeeded")
	}
	if err := store.Check(id); err != nil {
		t.Errorf("Check: %v", err)
	}
}

func TestFixedSizeReservesExactly(t *testing.T) {
	store, _ := newTestStore(t, Options{})
	first := mustCreate(t, store)
	second := mustCreate(t, store)

	if err := store.Write(first, []byte("abcd"), true); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.Write(second, []byte("efgh"), true); err != nil {
		t.Fatalf("Write: %v", err)
	}
	// Growing the first blob must not clobber the second.
	if err := store.Append(first, []byte("!")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if got := mustRead(t, store, second); string(got) != "efgh" {
		t.Errorf("second blob = %q, want %q", got, "efgh")
	}
	if got := mustRead(t, store, first); string(got) != "abcd!" {
		t.Errorf("first blob = %q, want %q", got, "abcd!")
	}
}

func TestDeleteReusesHandlesAcrossReopen(t *testing.T) {
	store, base := newTestStore(t, Options{Version: 7})
	a := mustCreate(t, store)
	b := mustCreate(t, store)
	c := mustCreate(t, store)
	if err := store.Write(b, []byte("bee"), false); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if err := store.Delete(a); err != nil {
		t.Fatalf("Delete(a): %v", err)
	}
	if err := store.Delete(c); err != nil {
		t.Fatalf("Delete(c): %v", err)
	}
	if _, err := store.Read(a); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read of deleted blob: error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(a); !errors.Is(err, ErrNotFound) {
		t.Errorf("double Delete: error = %v, want ErrNotFound", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(base, Options{Version: 7})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	version, err := reopened.Version()
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if version != 7 {
		t.Errorf("Version() = %d, want 7", version)
	}
	if got := mustRead(t, reopened, b); string(got) != "bee" {
		t.Errorf("surviving blob = %q, want %q", got, "bee")
	}

	reused := map[int32]bool{mustCreate(t, reopened): true, mustCreate(t, reopened): true}
	if !reused[a] || !reused[c] {
		t.Errorf("reused handles = %v, want %d and %d", reused, a, c)
	}
	if next := mustCreate(t, reopened); next != 4 {
		t.Errorf("handle after reuse = %d, want 4", next)
	}
}

func TestRefCounts(t *testing.T) {
	store, _ := newTestStore(t, Options{Capacity: FivePercent})
	id := mustCreate(t, store)

	count, err := store.RefCount(id)
	if err != nil {
		t.Fatalf("RefCount: %v", err)
	}
	if count != 1 {
		t.Errorf("RefCount of new blob = %d, want 1", count)
	}
	if err := store.Acquire(id); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if count, _ := store.RefCount(id); count != 2 {
		t.Errorf("RefCount after Acquire = %d, want 2", count)
	}

	if count, err := store.Release(id, true); err != nil || count != 1 {
		t.Errorf("Release = %d, %v, want 1, nil", count, err)
	}
	if count, err := store.Release(id, true); err != nil || count != 0 {
		t.Errorf("final Release = %d, %v, want 0, nil", count, err)
	}
	if store.Exists(id) {
		t.Error("blob survived its last release with deleteUnreferenced set")
	}

	kept := mustCreate(t, store)
	if _, err := store.Release(kept, false); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !store.Exists(kept) {
		t.Error("blob deleted although deleteUnreferenced was false")
	}
	if _, err := store.Release(kept, false); !errors.Is(err, ErrRefCount) {
		t.Errorf("Release at zero: error = %v, want ErrRefCount", err)
	}
}

func TestCompactLayout(t *testing.T) {
	store, base := newTestStore(t, Options{Compact: true})
	id := mustCreate(t, store)
	if err := store.Write(id, []byte("compact"), false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := store.RefCount(id); !errors.Is(err, ErrNoRefCount) {
		t.Errorf("RefCount on compact store: error = %v, want ErrNoRefCount", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening with the other layout must not silently misread entries.
	if _, err := Open(base, Options{}); err == nil {
		t.Error("opening a compact table with the full layout succeeded")
	}
}

func TestCheckDetectsChecksumMismatch(t *testing.T) {
	store, _ := newTestStore(t, Options{})
	id := mustCreate(t, store)
	if err := store.Write(id, []byte("payload"), false); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entry, err := store.entryLocked(id)
	if err != nil {
		t.Fatalf("entryLocked: %v", err)
	}
	if _, err := store.data.WriteAt([]byte("X"), entry.address); err != nil {
		t.Fatalf("corrupting data: %v", err)
	}

	if err := store.Check(id); !errors.Is(err, ErrChecksum) {
		t.Errorf("Check: error = %v, want ErrChecksum", err)
	}
	if _, err := store.Read(id); !errors.Is(err, ErrChecksum) {
		t.Errorf("Read: error = %v, want ErrChecksum", err)
	}
}

func TestCapacityPolicies(t *testing.T) {
	for _, test := range []struct {
		size, small, content int
	}{
		{0, 32, 0},
		{10, 32, 10},
		{100, 120, 105},
		{1000, 1024, 1050},
		{10000, 10240, 10500},
	} {
		if got := ReasonablySmall(test.size); got != test.small {
			t.Errorf("ReasonablySmall(%d) = %d, want %d", test.size, got, test.small)
		}
		if got := FivePercent(test.size); got != test.content {
			t.Errorf("FivePercent(%d) = %d, want %d", test.size, got, test.content)
		}
	}
}
