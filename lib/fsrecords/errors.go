// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsrecords

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/vfsstore/lib/names"
)

var (
	// ErrInvariant is wrapped by errors caused by invalid caller input:
	// self-parenting, malformed children lists, out-of-range ids or
	// lengths. These errors never poison the store.
	ErrInvariant = errors.New("fsrecords: invariant violation")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("fsrecords: store is closed")

	// ErrCorrupted is wrapped by every error that poisoned the store.
	// The next Open rebuilds it.
	ErrCorrupted = errors.New("fsrecords: store is corrupted")

	// ErrUnrecoverable is returned by Open when the store could not be
	// initialized within the configured number of attempts, or its
	// files could not be deleted.
	ErrUnrecoverable = errors.New("fsrecords: store cannot be initialized")

	// ErrNoContent is returned when reading the content of a record
	// that has none. It does not poison the store.
	ErrNoContent = errors.New("fsrecords: record has no content")
)

// State is the lifecycle state of a Store.
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateConnected
	StateClosing
	StateCorrupted
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateCorrupted:
		return "corrupted"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// invariantf returns an error wrapping ErrInvariant.
func invariantf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariant, fmt.Sprintf(format, args...))
}

// callerError reports whether err was caused by the caller and must
// not poison the store.
func callerError(err error) bool {
	return errors.Is(err, ErrInvariant) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, ErrNoContent) ||
		errors.Is(err, names.ErrInvalidName)
}

// corruptionf returns an error describing an inconsistency read from
// disk. It goes through the poison path like any I/O failure.
func corruptionf(format string, args ...any) error {
	return fmt.Errorf("inconsistent store: %s", fmt.Sprintf(format, args...))
}
