// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package records implements the fixed-width record table of the VFS
// store and its lazily rebuilt free list.
//
// Every file system entry the store has seen owns one 40-byte slot
// addressed by its integer id:
//
//	offset  width  field
//	0       4      parent id (0 for roots)
//	4       4      name id
//	8       4      flags
//	12      4      attribute directory handle
//	16      4      content handle
//	20      8      timestamp
//	28      4      modification count
//	32      8      length (-1 for directories)
//
// Slot 0 is the store header: format version at 0, global modification
// count at 8, connection status at 12 and creation timestamp at 16.
// Slot 1 is the synthetic super-root.
//
// The layout is described by [Field] values and applied through
// [Record.Encode], [DecodeRecord] and the [Table] accessors, so no
// other package computes byte offsets.
//
// [FreeList] is rebuilt by [ScanFreeList] on every open; it is never
// persisted separately.
package records
