// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package contentstore

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bureau-foundation/vfsstore/lib/blobstore"
	"github.com/bureau-foundation/vfsstore/lib/testutil"
)

func newTestStore(t *testing.T, options Options) (*Store, string) {
	t.Helper()
	directory := t.TempDir()
	store, err := Open(filepath.Join(directory, "content"), filepath.Join(directory, "content.hashes"), options)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, directory
}

func mustPut(t *testing.T, store *Store, current int32, payload []byte) int32 {
	t.Helper()
	handle, _, err := store.Put(current, payload, false)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	return handle
}

func TestHashPrefixesLength(t *testing.T) {
	if Hash([]byte("ab")) == Hash([]byte("abc")) {
		t.Error("distinct payloads hash equal")
	}
	if Hash(nil) != Hash([]byte{}) {
		t.Error("nil and empty payloads hash differently")
	}
	if Hash([]byte("x")) != Hash([]byte("x")) {
		t.Error("Hash is not deterministic")
	}
}

func TestSharedContentDeduplicates(t *testing.T) {
	store, _ := newTestStore(t, Options{Share: true})
	payload := []byte("identical bytes in two files")

	first := mustPut(t, store, 0, payload)
	second := mustPut(t, store, 0, payload)
	if first != second {
		t.Fatalf("handles = %d, %d, want equal", first, second)
	}
	count, err := store.RefCount(first)
	if err != nil {
		t.Fatalf("RefCount: %v", err)
	}
	if count != 2 {
		t.Errorf("RefCount = %d, want 2", count)
	}
	if stats := store.Stats(); stats.Stored != 1 || stats.Reused != 1 {
		t.Errorf("Stats = %+v, want 1 stored and 1 reused", stats)
	}

	// Rewriting the same bytes is not a change.
	handle, changed, err := store.Put(first, payload, false)
	if err != nil {
		t.Fatalf("Put same bytes: %v", err)
	}
	if handle != first || changed {
		t.Errorf("Put same bytes = %d, %v, want %d, false", handle, changed, first)
	}

	// Moving one record to new bytes releases its reference.
	other := mustPut(t, store, second, []byte("different"))
	if other == first {
		t.Fatal("different bytes shared a handle")
	}
	if count, _ := store.RefCount(first); count != 1 {
		t.Errorf("RefCount after moving one record = %d, want 1", count)
	}

	// A shared blob released to zero survives and is revived.
	if err := store.Release(first); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !store.Exists(first) {
		t.Fatal("shared blob deleted at zero references")
	}
	revived := mustPut(t, store, 0, payload)
	if revived != first {
		t.Errorf("revived handle = %d, want %d", revived, first)
	}
	got, err := store.Read(revived)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("Read = %q, want %q", got, payload)
	}
}

func TestSharedConcurrentWriters(t *testing.T) {
	store, _ := newTestStore(t, Options{Share: true})
	payload := []byte(strings.Repeat("same content ", 100))

	const writers = 16
	handles := make([]int32, writers)
	var group sync.WaitGroup
	for i := range writers {
		group.Add(1)
		go func() {
			defer group.Done()
			handle, _, err := store.Put(0, payload, false)
			if err != nil {
				t.Errorf("Put: %v", err)
				return
			}
			handles[i] = handle
		}()
	}
	group.Wait()

	for i, handle := range handles {
		if handle != handles[0] {
			t.Fatalf("writer %d got handle %d, writer 0 got %d", i, handle, handles[0])
		}
	}
	if count, _ := store.RefCount(handles[0]); count != writers {
		t.Errorf("RefCount = %d, want %d", count, writers)
	}
	if err := store.Check(handles[0]); err != nil {
		t.Errorf("Check: %v", err)
	}
}

func TestSharedSurvivesReopen(t *testing.T) {
	store, directory := newTestStore(t, Options{Share: true, Version: 4})
	handle := mustPut(t, store, 0, []byte("persisted"))
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(filepath.Join(directory, "content"), filepath.Join(directory, "content.hashes"),
		Options{Share: true, Version: 4})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	again := mustPut(t, reopened, 0, []byte("persisted"))
	if again != handle {
		t.Errorf("handle after reopen = %d, want %d", again, handle)
	}
	versions, err := reopened.Versions()
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	for _, version := range versions {
		if version != 4 {
			t.Errorf("Versions() = %v, want all 4", versions)
		}
	}
}

func TestPrivateContentRewritesInPlace(t *testing.T) {
	store, _ := newTestStore(t, Options{})

	handle := mustPut(t, store, 0, []byte("v1"))
	rewritten := mustPut(t, store, handle, []byte("version two"))
	if rewritten != handle {
		t.Errorf("sole owner rewrite moved handle %d to %d", handle, rewritten)
	}

	// A second reference forces copy-on-write.
	if err := store.Acquire(handle); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	copied := mustPut(t, store, handle, []byte("version three"))
	if copied == handle {
		t.Fatal("shared blob was rewritten in place")
	}
	got, err := store.Read(handle)
	if err != nil {
		t.Fatalf("Read original: %v", err)
	}
	if string(got) != "version two" {
		t.Errorf("original blob = %q, want %q", got, "version two")
	}

	if err := store.Release(handle); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if store.Exists(handle) {
		t.Error("private blob survived its last release")
	}
	if _, err := store.Read(handle); !errors.Is(err, blobstore.ErrNotFound) {
		t.Errorf("Read of released blob: error = %v, want ErrNotFound", err)
	}
}

func TestCompression(t *testing.T) {
	for _, tag := range []CompressionTag{CompressionLZ4, CompressionZstd} {
		t.Run(tag.String(), func(t *testing.T) {
			store, _ := newTestStore(t, Options{Share: true, Compression: tag})

			for _, payload := range [][]byte{
				nil,
				[]byte("short"),
				[]byte(strings.Repeat("compressible text ", 500)),
				{0x13, 0x57, 0x9b, 0xdf, 0x02, 0x46, 0x8a, 0xce},
			} {
				handle := mustPut(t, store, 0, payload)
				got, err := store.Read(handle)
				if err != nil {
					t.Fatalf("Read: %v", err)
				}
				if !bytes.Equal(got, payload) {
					t.Errorf("Read returned %d bytes, want %d", len(got), len(payload))
				}
				if err := store.Check(handle); err != nil {
					t.Errorf("Check: %v", err)
				}
			}
		})
	}
}

func TestEncodeFallsBackWhenIncompressible(t *testing.T) {
	payload := []byte{1, 2, 3}
	stored, err := encode(payload, CompressionLZ4)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if CompressionTag(stored[0]) != CompressionNone {
		t.Errorf("tag = %s, want none", CompressionTag(stored[0]))
	}
	decoded, err := decode(stored)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Errorf("decode = %v, want %v", decoded, payload)
	}
	if _, err := decode([]byte{9, 0}); !errors.Is(err, ErrBadEncoding) {
		t.Errorf("decode with unknown tag: error = %v, want ErrBadEncoding", err)
	}
}

func TestParseCompressionTag(t *testing.T) {
	for _, tag := range []CompressionTag{CompressionNone, CompressionLZ4, CompressionZstd} {
		parsed, err := ParseCompressionTag(tag.String())
		if err != nil {
			t.Fatalf("ParseCompressionTag(%q): %v", tag, err)
		}
		if parsed != tag {
			t.Errorf("ParseCompressionTag(%q) = %s", tag, parsed)
		}
	}
	if _, err := ParseCompressionTag("brotli"); err == nil {
		t.Error("ParseCompressionTag accepted brotli")
	}
}

func TestCheckResolvesDigestToItsBlob(t *testing.T) {
	store, directory := newTestStore(t, Options{Share: true})
	first := mustPut(t, store, 0, []byte("first payload"))
	second := mustPut(t, store, 0, []byte("second payload"))
	for _, handle := range []int32{first, second} {
		if err := store.Check(handle); err != nil {
			t.Errorf("Check(%d): %v", handle, err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Index the first digest a second time, in the second blob's slot.
	digest := Hash([]byte("first payload"))
	hashes := filepath.Join(directory, "content.hashes.dat")
	testutil.OverwriteFile(t, hashes, 16+int64(second-1)*int64(len(digest)), digest[:])

	reopened, err := Open(filepath.Join(directory, "content"), filepath.Join(directory, "content.hashes"), Options{Share: true})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if err := reopened.Check(first); !errors.Is(err, ErrIndexMismatch) {
		t.Errorf("Check(%d) = %v, want ErrIndexMismatch", first, err)
	}
	if err := reopened.Check(second); !errors.Is(err, ErrDigestMismatch) {
		t.Errorf("Check(%d) = %v, want ErrDigestMismatch", second, err)
	}
}
