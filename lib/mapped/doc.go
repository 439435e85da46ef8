// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mapped provides a growable, memory-mapped byte file with typed
// little-endian accessors.
//
// A [File] has two sizes. The logical length is the number of bytes the
// owner has written (the highest offset touched so far); the physical
// capacity is the size of the underlying file and of the shared mapping.
// Capacity grows by doubling (with a minimum growth chunk) so that
// appending one record at a time does not remap on every write. The
// logical length survives restarts through a small sidecar file
// (path + ".len") rewritten on every [File.Force].
//
// All reads and writes go through the shared mapping, so data written
// by one goroutine is visible to every reader as soon as the write
// returns. [File.Force] calls msync and then persists the logical
// length. A process crash between two forces can leave the sidecar
// stale; callers that need crash detection keep their own marker (the
// record store uses a connection status word in its header).
//
// Page faults on the mapping (for example from an I/O error on the
// backing device) are converted to errors rather than crashing the
// process.
//
// File is safe for concurrent use. Reads share a read lock; writes
// that grow the mapping take the write lock for the remap.
package mapped
