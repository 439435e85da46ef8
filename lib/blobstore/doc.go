// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package blobstore stores variable-length byte blobs addressed by small
// integer handles. The record store keeps attribute directories and
// out-of-line attribute values in one store and file content in another.
//
// A store is two memory-mapped files. base.rt is a table of fixed-size
// entries, one per handle, holding the blob's address, size and reserved
// capacity in base.dat. Entry 0 is a header carrying a magic number and
// the format version. The full layout also carries a reference count and
// an xxh3 checksum of the payload; the compact layout omits both.
//
// Blobs are rewritten in place while they fit their reserved capacity
// and relocated to the end of the data file otherwise. A
// [CapacityPolicy] decides how much slack a relocated blob gets.
// Abandoned extents are never reclaimed. Deleted handles are reused,
// most recently deleted first.
package blobstore
