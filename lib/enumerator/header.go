// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package enumerator

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/vfsstore/lib/mapped"
)

// headerSize is the number of bytes reserved at the start of every
// index file: magic, format version, entry count, reserved.
const headerSize = 16

const (
	magicOffset   = 0
	versionOffset = 4
	countOffset   = 8
)

var (
	// ErrNotFound is returned by ValueOf for ids that were never
	// assigned.
	ErrNotFound = errors.New("enumerator: id not found")

	// ErrBadMagic is returned when an index file does not start with
	// the expected magic number.
	ErrBadMagic = errors.New("enumerator: bad magic")
)

// indexHeader reads and writes the fixed header of an index file.
type indexHeader struct {
	file  *mapped.File
	magic int32
}

// open validates an existing header or writes a new one into an empty
// file.
func (h indexHeader) open(version int32) error {
	if h.file.Length() == 0 {
		if err := h.file.Zero(0, headerSize); err != nil {
			return fmt.Errorf("writing header of %s: %w", h.file.Path(), err)
		}
		if err := h.file.PutInt32(magicOffset, h.magic); err != nil {
			return err
		}
		return h.file.PutInt32(versionOffset, version)
	}
	magic, err := h.file.Int32(magicOffset)
	if err != nil {
		return fmt.Errorf("reading header of %s: %w", h.file.Path(), err)
	}
	if magic != h.magic {
		return fmt.Errorf("%s: magic 0x%x, want 0x%x: %w", h.file.Path(), magic, h.magic, ErrBadMagic)
	}
	return nil
}

func (h indexHeader) version() (int32, error) { return h.file.Int32(versionOffset) }

func (h indexHeader) setVersion(version int32) error {
	return h.file.PutInt32(versionOffset, version)
}

func (h indexHeader) count() (int32, error) { return h.file.Int32(countOffset) }

func (h indexHeader) setCount(count int32) error {
	return h.file.PutInt32(countOffset, count)
}
