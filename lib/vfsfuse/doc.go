// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package vfsfuse mounts a record store as a read-only FUSE file
// system for inspection.
//
// The tree is the one the store records: a directory lists the
// children stored for its record, files serve their stored content,
// and records flagged as symlinks resolve to their stored target.
// Mounted at the super-root, the top level lists every file system
// root by its URL, path-escaped so that it forms a single name:
//
//	/mnt/vfs/file:%2F%2F%2F/home/a.txt
//
// Nothing is cached beyond the kernel's entry and attribute timeouts,
// so a mount reflects writes made through the store while it is up.
// Every write returns EROFS.
package vfsfuse
