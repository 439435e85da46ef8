// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package names implements the name table of the VFS store: every file
// name the store has seen, interned once and referenced from records by
// integer id.
//
// Names are append-only. An id, once assigned, always maps to the same
// string, which is what makes aggressive caching safe: there is no
// invalidation path. [Table] layers a direct-mapped array and a sharded
// two-segment LRU (orca-zhang/ecache in LRU-2 mode: a probationary
// segment plus a protected segment for ids hit twice) over the
// persistent [enumerator.Strings]. Concurrent misses for one id are
// coalesced with singleflight.
//
// File names must be single path segments; [Table.Enumerate] rejects
// names containing '/' or '\'. Root URLs go through
// [Table.EnumerateRootURL] instead.
package names
