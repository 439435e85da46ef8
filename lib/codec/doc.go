// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used for the store's small
// metadata files (the attribute-id table and the store manifest).
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. Same
// logical data always produces identical bytes, so a metadata file can
// be compared byte-for-byte across runs.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// [WriteFile] replaces a file atomically (temporary file, fsync,
// rename, directory fsync); [ReadFile] is its inverse.
//
// Types serialized here use `cbor` struct tags only.
package codec
