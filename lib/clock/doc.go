// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// The record store stamps its creation time and runs a background
// flush ticker; both go through a [Clock] so that tests can drive the
// flusher deterministically:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	store, _ := fsrecords.Open(dir, fsrecords.Options{Clock: c, ...})
//	c.WaitForTimers(1)         // the flusher registered its ticker
//	c.Advance(5 * time.Second) // fire one tick
//
// Production code passes [Real].
package clock
