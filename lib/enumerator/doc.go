// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package enumerator provides persistent, append-only enumerators that
// map values to dense integer ids and back.
//
// [Strings] interns variable-length strings (file names, root URLs).
// [Hashes] interns fixed-width 32-byte digests (content hashes).
//
// Both follow the same model: an append-only file is the source of
// truth and an in-memory lookup map is rebuilt from it at open, the way
// a log-structured store rebuilds its key directory. Ids are never
// reused and values are never removed. Each index file starts with a
// 16-byte header carrying a magic number, the format version stamped
// by the owner, and the number of assigned ids.
package enumerator
