// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package attribute defines typed attribute descriptors, the persistent
// registry that resolves descriptor keys to small integer ids, and the
// codec for a record's attribute directory.
//
// Each record with attributes owns one directory blob: a sequence of
// (attribute id, size-or-address) varint pairs. In inline mode a value
// below [MaxInlineSize] is the length of a payload stored right after
// the pair; otherwise the value (minus MaxInlineSize) is the handle of
// a separate blob. Without inline mode every entry is a blob handle.
//
// A versioned [Descriptor] prefixes its payload with the format
// version. Reading a payload stored under any other version yields
// "absent", so a format change simply invalidates old values instead of
// misreading them.
package attribute
