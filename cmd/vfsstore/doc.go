// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// vfsstore inspects and serves a persistent VFS record store.
//
// The store directory comes from --store, or from paths.store in the
// configuration file named by --config or VFSSTORE_CONFIG. Without
// either, the default configuration is used.
//
// Commands:
//
//	check                  walk every record and report inconsistencies
//	stat                   print store counters
//	ls [ID]                list the children of a record (default: super-root)
//	cat ID                 write the stored content of a record to stdout
//	roots                  list the file system roots
//	invalidate             mark the store for rebuild on next open
//	mount MOUNTPOINT       serve the store read-only over FUSE until interrupted
//
// Opening a store that was not closed cleanly, or that was marked
// corrupted, rebuilds it empty; check and stat report the result.
package main
