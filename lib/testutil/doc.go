// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (select with a wall-clock fallback) so that tests
// driving background goroutines with a fake clock never hang when a
// handshake is missed. They are the only place in the test suite where
// real wall-clock timeouts are used.
//
// [OverwriteFile] damages a store file in place, for corruption tests.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
