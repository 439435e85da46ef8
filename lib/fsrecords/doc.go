// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fsrecords is the persistent record store behind a virtual
// file system: one fixed-size record per file or directory, addressed
// by a positive integer id, plus the name, attribute and content
// storages those records refer to.
//
// A [Store] owns one directory:
//
//	records.dat           record table, header in slot 0, super-root in slot 1
//	names.dat, names.idx  interned file names
//	attributes.rt/.dat    attribute directories and large attribute payloads
//	attributes.enum       attribute key registry (CBOR)
//	content.rt/.dat       file content blobs
//	content.hashes.dat    content digest index (shared content only)
//	roots.dat             root table (store_roots_separately only)
//	corruption.marker     present only after a failure
//
// The storages are one unit. Every file carries the format version
// derived from the storage toggles, and the record header carries a
// connection status that is Connected while unforced writes exist and
// SafelyClosed after a force. [Open] rebuilds the whole directory
// from scratch when the marker is present, a version differs, or the
// last session did not close safely. Nothing is repaired in place.
//
// # Concurrency
//
// A single read/write lock gates all storage access: reads take the
// read lock, mutations take the write lock. Errors split two ways.
// Errors caused by the caller (self-parenting, malformed children
// lists, unknown ids) wrap [ErrInvariant] and leave the store
// untouched. Everything else (I/O failures, undecodable data, parent
// cycles) poisons the store: a corruption marker is written, the state
// moves to [StateCorrupted], and the error returned wraps
// [ErrCorrupted]. A corrupted store keeps answering calls until it is
// closed; the next [Open] rebuilds it.
//
// With background flushing on, a goroutine forces dirty storages once
// a flush interval passes with no mutations and no heavy activity
// reported through [Options.Heavy].
//
// # Children, roots and symlinks
//
// Directory listings, the root table and symlink targets are ordinary
// attributes with reserved keys. Children are stored sorted as zigzag
// varint deltas, the first relative to the parent id.
package fsrecords
