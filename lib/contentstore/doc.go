// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package contentstore stores file content as reference-counted blobs,
// optionally deduplicated by content hash and lightly compressed.
//
// With sharing enabled, every payload is hashed (keyed BLAKE3 over the
// decimal length, a zero byte, and the bytes) and looked up in a
// persistent hash index whose ids are the blob handles. Writing bytes
// that are already stored takes another reference on the existing blob
// instead of storing a copy, so two records with identical content
// converge on one blob with a reference count of two. Shared blobs are
// never deleted: a blob whose count drops to zero stays indexed and is
// revived by the next write of the same bytes.
//
// Without sharing, each record owns its blob. A record's content is
// rewritten in place when it holds the only reference, and the last
// release deletes the blob.
//
// Lightweight compression (LZ4 by default, zstd optionally) prefixes
// each blob with a tag byte and the raw size; content that does not
// shrink is stored uncompressed under [CompressionNone].
package contentstore
