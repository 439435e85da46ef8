// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsrecords

import (
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/bureau-foundation/vfsstore/lib/names"
	"github.com/bureau-foundation/vfsstore/lib/records"
)

func TestCreateNameParentList(t *testing.T) {
	store, _ := newTestStore(t)

	id := mustCreate(t, store)
	if id != 2 {
		t.Fatalf("CreateRecord() = %d, want 2", id)
	}
	if err := store.SetName(id, "foo.txt"); err != nil {
		t.Fatalf("SetName: %v", err)
	}
	if err := store.SetParent(id, records.RootID); err != nil {
		t.Fatalf("SetParent: %v", err)
	}
	if err := store.UpdateChildren(records.RootID, []int32{id}); err != nil {
		t.Fatalf("UpdateChildren: %v", err)
	}

	children, err := store.List(records.RootID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !slices.Equal(children, []int32{2}) {
		t.Errorf("List(1) = %v, want [2]", children)
	}
	name, err := store.Name(id)
	if err != nil {
		t.Fatalf("Name: %v", err)
	}
	if name != "foo.txt" {
		t.Errorf("Name(2) = %q, want %q", name, "foo.txt")
	}
	parent, err := store.Parent(id)
	if err != nil {
		t.Fatalf("Parent: %v", err)
	}
	if parent != records.RootID {
		t.Errorf("Parent(2) = %d, want 1", parent)
	}
	path, err := store.Path(id)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if path != "/foo.txt" {
		t.Errorf("Path(2) = %q, want %q", path, "/foo.txt")
	}
	report, err := store.CheckSanity()
	if err != nil {
		t.Fatalf("CheckSanity: %v", err)
	}
	if err := report.Err(); err != nil {
		t.Errorf("CheckSanity problems: %v", err)
	}
}

func TestSetParentRejectsSelf(t *testing.T) {
	store, _ := newTestStore(t)
	id := mustCreate(t, store)
	if err := store.SetParent(id, records.RootID); err != nil {
		t.Fatalf("SetParent: %v", err)
	}

	err := store.SetParent(id, id)
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("SetParent(%d, %d): error = %v, want ErrInvariant", id, id, err)
	}
	parent, err := store.Parent(id)
	if err != nil {
		t.Fatalf("Parent: %v", err)
	}
	if parent != records.RootID {
		t.Errorf("Parent after rejected self-parent = %d, want %d", parent, records.RootID)
	}

	attributes := FileAttributes{Length: 1}
	if err := store.WriteAttributesToRecord(id, id, attributes, "x"); !errors.Is(err, ErrInvariant) {
		t.Errorf("WriteAttributesToRecord with self parent: error = %v, want ErrInvariant", err)
	}
}

func TestStoredSelfParentReadsAsRoot(t *testing.T) {
	store, _ := newTestStore(t)
	id := mustCreate(t, store)

	store.lock.Lock()
	err := store.conn.table.PutInt32(id, records.ParentField, id)
	store.lock.Unlock()
	if err != nil {
		t.Fatalf("PutInt32: %v", err)
	}

	parent, err := store.Parent(id)
	if err != nil {
		t.Fatalf("Parent: %v", err)
	}
	if parent != 0 {
		t.Errorf("Parent of a self-parented record = %d, want 0", parent)
	}
	report, err := store.CheckSanity()
	if err != nil {
		t.Fatalf("CheckSanity: %v", err)
	}
	if report.Err() == nil {
		t.Error("CheckSanity did not report the self-parented record")
	}
}

func TestParentCycleIsCorruption(t *testing.T) {
	store, _ := newTestStore(t)
	first := mustCreate(t, store)
	second := mustCreate(t, store)
	if err := store.SetParent(first, second); err != nil {
		t.Fatalf("SetParent: %v", err)
	}
	if err := store.SetParent(second, first); err != nil {
		t.Fatalf("SetParent: %v", err)
	}

	if _, err := store.Ancestors(first); !errors.Is(err, ErrCorrupted) {
		t.Errorf("Ancestors on a cycle: error = %v, want ErrCorrupted", err)
	}
	if store.State() != StateCorrupted {
		t.Errorf("State() = %v, want %v", store.State(), StateCorrupted)
	}
}

func TestConcurrentCreateRecord(t *testing.T) {
	store, _ := newTestStore(t)

	const workers = 8
	const perWorker = 1000
	results := make([][]int32, workers)
	var group sync.WaitGroup
	for worker := range workers {
		group.Add(1)
		go func() {
			defer group.Done()
			for range perWorker {
				id, err := store.CreateRecord()
				if err != nil {
					t.Errorf("CreateRecord: %v", err)
					return
				}
				results[worker] = append(results[worker], id)
			}
		}()
	}
	group.Wait()

	seen := make(map[int32]bool, workers*perWorker)
	for _, ids := range results {
		for _, id := range ids {
			if seen[id] {
				t.Fatalf("id %d handed out twice", id)
			}
			seen[id] = true
		}
	}
	if len(seen) != workers*perWorker {
		t.Fatalf("got %d distinct ids, want %d", len(seen), workers*perWorker)
	}
	// A fresh store has no free slots, so the ids are exactly the range
	// after the super-root.
	for id := records.FirstScannedID; id < records.FirstScannedID+workers*perWorker; id++ {
		if !seen[id] {
			t.Errorf("id %d missing", id)
		}
	}
	if got := store.LocalModCount(); got != workers*perWorker {
		t.Errorf("LocalModCount() = %d, want %d", got, workers*perWorker)
	}
}

func TestFreedRecordReusedAfterRestart(t *testing.T) {
	store, directory := newTestStore(t)
	first := mustCreate(t, store)
	second := mustCreate(t, store)
	third := mustCreate(t, store)

	if err := store.DeleteRecord(second); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if err := store.DeleteRecord(second); !errors.Is(err, ErrInvariant) {
		t.Errorf("second DeleteRecord: error = %v, want ErrInvariant", err)
	}
	// Freed slots wait for the next scan.
	if id := mustCreate(t, store); id != third+1 {
		t.Errorf("CreateRecord before restart = %d, want %d", id, third+1)
	}
	closeStore(t, store)

	store = openTestStore(t, directory, testStorage())
	if id := mustCreate(t, store); id != second {
		t.Errorf("CreateRecord after restart = %d, want reused %d", id, second)
	}
	next := mustCreate(t, store)
	if next == second {
		t.Fatalf("slot %d handed out twice", second)
	}
	if next != third+2 {
		t.Errorf("CreateRecord with empty free list = %d, want %d", next, third+2)
	}

	// Several freed slots come back most recently listed first.
	if err := store.DeleteRecord(first); err != nil {
		t.Fatalf("DeleteRecord(%d): %v", first, err)
	}
	if err := store.DeleteRecord(third); err != nil {
		t.Fatalf("DeleteRecord(%d): %v", third, err)
	}
	closeStore(t, store)

	store = openTestStore(t, directory, testStorage())
	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.FreeRecords != 2 {
		t.Errorf("FreeRecords = %d, want 2", stats.FreeRecords)
	}
	if id := mustCreate(t, store); id != third {
		t.Errorf("first reuse = %d, want %d", id, third)
	}
	if id := mustCreate(t, store); id != first {
		t.Errorf("second reuse = %d, want %d", id, first)
	}
	deleted, err := store.IsDeleted(first)
	if err != nil {
		t.Fatalf("IsDeleted: %v", err)
	}
	if deleted {
		t.Errorf("reused record %d still marked deleted", first)
	}
	report, err := store.CheckSanity()
	if err != nil {
		t.Fatalf("CheckSanity: %v", err)
	}
	if err := report.Err(); err != nil {
		t.Errorf("CheckSanity problems: %v", err)
	}
}

func TestDeleteReleasesContent(t *testing.T) {
	for _, lazy := range []bool{false, true} {
		name := "eager"
		if lazy {
			name = "lazy"
		}
		t.Run(name, func(t *testing.T) {
			storage := testStorage()
			storage.ShareContents = false
			storage.LazyDataCleaning = lazy
			directory := t.TempDir()
			store := openTestStore(t, directory, storage)

			id := mustCreate(t, store)
			if err := store.StoreContent(id, []byte("payload"), false); err != nil {
				t.Fatalf("StoreContent: %v", err)
			}
			handle, err := store.ContentID(id)
			if err != nil {
				t.Fatalf("ContentID: %v", err)
			}
			if err := store.DeleteRecord(id); err != nil {
				t.Fatalf("DeleteRecord: %v", err)
			}

			_, err = store.ContentRefCount(handle)
			if lazy {
				if err != nil {
					t.Fatalf("ContentRefCount after lazy delete: %v", err)
				}
			} else if !errors.Is(err, ErrInvariant) {
				t.Fatalf("ContentRefCount after eager delete: error = %v, want ErrInvariant", err)
			}
			closeStore(t, store)

			store = openTestStore(t, directory, storage)
			if reused := mustCreate(t, store); reused != id {
				t.Fatalf("CreateRecord after restart = %d, want %d", reused, id)
			}
			if _, err := store.ContentRefCount(handle); !errors.Is(err, ErrInvariant) {
				t.Errorf("ContentRefCount after reuse: error = %v, want ErrInvariant", err)
			}
			if handle, err := store.ContentID(id); err != nil || handle != 0 {
				t.Errorf("ContentID of reused record = %d, %v, want 0", handle, err)
			}
		})
	}
}

func TestReuseReleasesDataFreedLazily(t *testing.T) {
	storage := testStorage()
	storage.ShareContents = false
	storage.LazyDataCleaning = true
	directory := t.TempDir()
	store := openTestStore(t, directory, storage)

	id := mustCreate(t, store)
	mustStoreContent(t, store, id, "payload")
	handle := mustContentID(t, store, id)
	if err := store.DeleteRecord(id); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	closeStore(t, store)

	storage.LazyDataCleaning = false
	store = openTestStore(t, directory, storage)
	if reused := mustCreate(t, store); reused != id {
		t.Fatalf("CreateRecord after restart = %d, want %d", reused, id)
	}
	if _, err := store.ContentRefCount(handle); !errors.Is(err, ErrInvariant) {
		t.Errorf("ContentRefCount after reuse with eager cleaning: error = %v, want ErrInvariant", err)
	}
	requireSane(t, store)
}

func TestDeleteRecordDetachesFromParent(t *testing.T) {
	store, _ := newTestStore(t)
	directory := mustCreate(t, store)
	if err := store.WriteAttributesToRecord(directory, records.RootID, FileAttributes{Directory: true}, "dir"); err != nil {
		t.Fatalf("WriteAttributesToRecord: %v", err)
	}
	var files []int32
	for _, name := range []string{"a", "b", "c"} {
		id := mustCreate(t, store)
		if err := store.WriteAttributesToRecord(id, directory, FileAttributes{Length: 1}, name); err != nil {
			t.Fatalf("WriteAttributesToRecord: %v", err)
		}
		files = append(files, id)
	}
	if err := store.UpdateChildren(records.RootID, []int32{directory}); err != nil {
		t.Fatalf("UpdateChildren: %v", err)
	}
	if err := store.UpdateChildren(directory, files); err != nil {
		t.Fatalf("UpdateChildren: %v", err)
	}

	if err := store.DeleteRecord(files[1]); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	children, err := store.List(directory)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if want := []int32{files[0], files[2]}; !slices.Equal(children, want) {
		t.Errorf("List after delete = %v, want %v", children, want)
	}

	if err := store.DeleteRecordRecursively(directory); err != nil {
		t.Fatalf("DeleteRecordRecursively: %v", err)
	}
	for _, id := range []int32{directory, files[0], files[2]} {
		deleted, err := store.IsDeleted(id)
		if err != nil {
			t.Fatalf("IsDeleted: %v", err)
		}
		if !deleted {
			t.Errorf("record %d survived recursive delete", id)
		}
	}
	rootChildren, err := store.List(records.RootID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(rootChildren) != 0 {
		t.Errorf("List(root) after recursive delete = %v, want empty", rootChildren)
	}
	report, err := store.CheckSanity()
	if err != nil {
		t.Fatalf("CheckSanity: %v", err)
	}
	if err := report.Err(); err != nil {
		t.Errorf("CheckSanity problems: %v", err)
	}
}

func TestDeleteSuperRootRejected(t *testing.T) {
	store, _ := newTestStore(t)
	if err := store.DeleteRecord(records.RootID); !errors.Is(err, ErrInvariant) {
		t.Errorf("DeleteRecord(super-root): error = %v, want ErrInvariant", err)
	}
}

func TestFieldValidation(t *testing.T) {
	store, _ := newTestStore(t)
	id := mustCreate(t, store)

	tests := []struct {
		name string
		call func() error
	}{
		{"length below -1", func() error { return store.SetLength(id, -2) }},
		{"free flag", func() error { return store.SetFlags(id, records.FlagFree) }},
		{"unknown flag", func() error { return store.SetFlags(id, records.Flags(0x8000)) }},
		{"parent out of range", func() error { return store.SetParent(id, 500) }},
		{"name with separator", func() error { return store.SetName(id, "a/b") }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if err := test.call(); err == nil {
				t.Fatal("call succeeded")
			}
		})
	}
	if store.State() != StateConnected {
		t.Errorf("State() = %v, want %v", store.State(), StateConnected)
	}

	if err := store.SetLength(id, -1); err != nil {
		t.Errorf("SetLength(-1): %v", err)
	}
	flags := records.FlagReadOnly | records.FlagHidden
	if err := store.SetFlags(id, flags); err != nil {
		t.Fatalf("SetFlags: %v", err)
	}
	got, err := store.Flags(id)
	if err != nil {
		t.Fatalf("Flags: %v", err)
	}
	if got != flags {
		t.Errorf("Flags() = %s, want %s", got, flags)
	}
	if err := store.SetTimestamp(id, 1234); err != nil {
		t.Fatalf("SetTimestamp: %v", err)
	}
	timestamp, err := store.Timestamp(id)
	if err != nil {
		t.Fatalf("Timestamp: %v", err)
	}
	if timestamp != 1234 {
		t.Errorf("Timestamp() = %d, want 1234", timestamp)
	}
}

func TestModCounts(t *testing.T) {
	store, _ := newTestStore(t)
	id := mustCreate(t, store)

	before, err := store.GlobalModCount()
	if err != nil {
		t.Fatalf("GlobalModCount: %v", err)
	}
	if err := store.SetLength(id, 7); err != nil {
		t.Fatalf("SetLength: %v", err)
	}
	after, err := store.GlobalModCount()
	if err != nil {
		t.Fatalf("GlobalModCount: %v", err)
	}
	if after <= before {
		t.Errorf("GlobalModCount() = %d after mutation, want more than %d", after, before)
	}
	recordCount, err := store.ModCount(id)
	if err != nil {
		t.Fatalf("ModCount: %v", err)
	}
	if recordCount != after {
		t.Errorf("ModCount(%d) = %d, want %d", id, recordCount, after)
	}

	local := store.LocalModCount()
	if _, err := store.Length(id); err != nil {
		t.Fatalf("Length: %v", err)
	}
	if store.LocalModCount() != local {
		t.Errorf("read changed LocalModCount from %d to %d", local, store.LocalModCount())
	}
	if err := store.SetParent(id, id); err == nil {
		t.Fatal("SetParent to self succeeded")
	}
	if store.LocalModCount() != local {
		t.Errorf("rejected mutation changed LocalModCount from %d to %d", local, store.LocalModCount())
	}
}

func TestWriteAttributesToRecord(t *testing.T) {
	store, _ := newTestStore(t)
	id := mustCreate(t, store)
	if err := store.SetFlags(id, records.FlagMustReloadContent); err != nil {
		t.Fatalf("SetFlags: %v", err)
	}

	attributes := FileAttributes{ReadOnly: true, Hidden: true, Length: 99, Timestamp: 5000}
	if err := store.WriteAttributesToRecord(id, records.RootID, attributes, "notes.md"); err != nil {
		t.Fatalf("WriteAttributesToRecord: %v", err)
	}
	record, err := store.Record(id)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if record.Parent != records.RootID {
		t.Errorf("Parent = %d, want %d", record.Parent, records.RootID)
	}
	if want := records.FlagReadOnly | records.FlagHidden; record.Flags != want {
		t.Errorf("Flags = %s, want %s", record.Flags, want)
	}
	if record.Length != 99 || record.Timestamp != 5000 {
		t.Errorf("Length, Timestamp = %d, %d, want 99, 5000", record.Length, record.Timestamp)
	}
	name, err := store.NameByID(record.Name)
	if err != nil {
		t.Fatalf("NameByID: %v", err)
	}
	if name != "notes.md" {
		t.Errorf("name = %q, want %q", name, "notes.md")
	}

	directory := mustCreate(t, store)
	if err := store.WriteAttributesToRecord(directory, records.RootID, FileAttributes{Directory: true, Length: 4096}, "dir"); err != nil {
		t.Fatalf("WriteAttributesToRecord: %v", err)
	}
	length, err := store.Length(directory)
	if err != nil {
		t.Fatalf("Length: %v", err)
	}
	if length != -1 {
		t.Errorf("directory Length() = %d, want -1", length)
	}
}

func TestPathThroughRootRecord(t *testing.T) {
	store, _ := newTestStore(t)
	root, err := store.FindRootRecord("file:///")
	if err != nil {
		t.Fatalf("FindRootRecord: %v", err)
	}
	home := mustCreate(t, store)
	if err := store.WriteAttributesToRecord(home, root, FileAttributes{Directory: true}, "home"); err != nil {
		t.Fatalf("WriteAttributesToRecord: %v", err)
	}
	file := mustCreate(t, store)
	if err := store.WriteAttributesToRecord(file, home, FileAttributes{Length: 3}, "a.txt"); err != nil {
		t.Fatalf("WriteAttributesToRecord: %v", err)
	}

	path, err := store.Path(file)
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if path != "file:///home/a.txt" {
		t.Errorf("Path() = %q, want %q", path, "file:///home/a.txt")
	}
	ancestors, err := store.Ancestors(file)
	if err != nil {
		t.Fatalf("Ancestors: %v", err)
	}
	if want := []int32{file, home, root}; !slices.Equal(ancestors, want) {
		t.Errorf("Ancestors() = %v, want %v", ancestors, want)
	}
}

func TestEnumerateAndTryNameID(t *testing.T) {
	store, _ := newTestStore(t)
	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	before := stats.Names

	for range 2 {
		id, err := store.TryNameID("unseen.txt")
		if err != nil {
			t.Fatalf("TryNameID: %v", err)
		}
		if id != 0 {
			t.Errorf("TryNameID(unseen.txt) = %d, want 0", id)
		}
	}
	if stats, err = store.Stats(); err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Names != before {
		t.Errorf("Names after TryNameID = %d, want %d", stats.Names, before)
	}

	id, err := store.EnumerateName("seen.txt")
	if err != nil {
		t.Fatalf("EnumerateName: %v", err)
	}
	if id == 0 {
		t.Fatal("EnumerateName(seen.txt) = 0")
	}
	again, err := store.EnumerateName("seen.txt")
	if err != nil {
		t.Fatalf("EnumerateName: %v", err)
	}
	if again != id {
		t.Errorf("EnumerateName twice = %d then %d", id, again)
	}
	found, err := store.TryNameID("seen.txt")
	if err != nil {
		t.Fatalf("TryNameID: %v", err)
	}
	if found != id {
		t.Errorf("TryNameID(seen.txt) = %d, want %d", found, id)
	}
	name, err := store.NameByID(id)
	if err != nil {
		t.Fatalf("NameByID: %v", err)
	}
	if name != "seen.txt" {
		t.Errorf("NameByID(%d) = %q, want %q", id, name, "seen.txt")
	}

	if _, err := store.EnumerateName("a/b"); !errors.Is(err, names.ErrInvalidName) {
		t.Errorf("EnumerateName(a/b): error = %v, want ErrInvalidName", err)
	}
	if store.State() != StateConnected {
		t.Errorf("State() = %v after a rejected name, want %v", store.State(), StateConnected)
	}
}
