// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package records

import (
	"fmt"
	"slices"
)

// FreeList holds the reusable record slots found by the last scan.
//
// Deleting a record only sets FlagFree on its slot. The slot is not
// handed out again until the next scan (the next open of the store),
// so a crash between deleting a record and reusing it can never leave
// a slot that is both live and listed as free. Slots freed since the
// scan are remembered as pending so that a consistency check can tell
// them apart from genuinely leaked slots.
//
// FreeList is not safe for concurrent mutation; the record store calls
// it under its write lock.
type FreeList struct {
	ids     []int32
	listed  map[int32]struct{}
	pending map[int32]struct{}
}

// ScanFreeList builds the free list by reading the flags of every slot
// from FirstScannedID to the end of the table, in ascending order.
func ScanFreeList(table *Table) (*FreeList, error) {
	list := &FreeList{
		listed:  make(map[int32]struct{}),
		pending: make(map[int32]struct{}),
	}
	count := table.Len()
	for id := FirstScannedID; id < count; id++ {
		flags, err := table.Flags(id)
		if err != nil {
			return nil, fmt.Errorf("scanning free records: %w", err)
		}
		if flags.Has(FlagFree) {
			list.ids = append(list.ids, id)
			list.listed[id] = struct{}{}
		}
	}
	return list, nil
}

// Pop removes and returns the most recently listed free id. The
// boolean is false when the list is empty.
func (l *FreeList) Pop() (int32, bool) {
	if len(l.ids) == 0 {
		return 0, false
	}
	id := l.ids[len(l.ids)-1]
	l.ids = l.ids[:len(l.ids)-1]
	delete(l.listed, id)
	return id, true
}

// MarkPending records that id was freed during this session. It stays
// unavailable until the next scan.
func (l *FreeList) MarkPending(id int32) {
	l.pending[id] = struct{}{}
}

// Contains reports whether id is available for reuse.
func (l *FreeList) Contains(id int32) bool {
	_, ok := l.listed[id]
	return ok
}

// IsPending reports whether id was freed since the last scan.
func (l *FreeList) IsPending(id int32) bool {
	_, ok := l.pending[id]
	return ok
}

// Len returns the number of reusable ids.
func (l *FreeList) Len() int { return len(l.ids) }

// PendingLen returns the number of ids freed since the last scan.
func (l *FreeList) PendingLen() int { return len(l.pending) }

// IDs returns the reusable ids in pop order reversed (ascending scan
// order).
func (l *FreeList) IDs() []int32 { return slices.Clone(l.ids) }
