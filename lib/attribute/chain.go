// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package attribute

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
)

// MaxInlineSize is the exclusive upper bound on inline payload sizes.
// In inline mode a directory entry's second varint below this value is
// an inline size; at or above it, the value minus MaxInlineSize is a
// blob handle.
const MaxInlineSize = 64

// directoryMarker is the reserved attribute id written at the start of
// a directory blob when bulk headers are enabled.
const directoryMarker = 0

// ErrMalformed is returned when a directory or blob header cannot be
// decoded.
var ErrMalformed = errors.New("attribute: malformed attribute data")

// Layout selects the on-disk options of attribute chains.
type Layout struct {
	// Inline stores payloads smaller than MaxInlineSize inside the
	// directory blob.
	Inline bool

	// BulkHeaders prefixes the directory blob and every attribute blob
	// with the attribute id and owning record id, so that a blob read
	// through a stale reference is detected.
	BulkHeaders bool
}

// Entry is one attribute in a record's directory.
type Entry struct {
	AttributeID int32

	// Inline entries carry their payload; the rest refer to a blob.
	Inline  bool
	Payload []byte
	Blob    int32

	// offset is the position of an inline payload within the encoded
	// directory, valid for entries returned by DecodeChain.
	offset int
}

// PayloadOffset returns the position of an inline payload within the
// directory blob it was decoded from.
func (e Entry) PayloadOffset() int { return e.offset }

// Chain is the decoded directory blob of one record.
type Chain struct {
	// FileID is the owning record, present only with bulk headers.
	FileID  int32
	Entries []Entry
}

// Find returns the index of the entry for attributeID, or -1.
func (c *Chain) Find(attributeID int32) int {
	return slices.IndexFunc(c.Entries, func(e Entry) bool { return e.AttributeID == attributeID })
}

// Remove deletes the entry for attributeID if present.
func (c *Chain) Remove(attributeID int32) {
	c.Entries = slices.DeleteFunc(c.Entries, func(e Entry) bool { return e.AttributeID == attributeID })
}

// Set replaces or appends the entry for its attribute id.
func (c *Chain) Set(entry Entry) {
	if index := c.Find(entry.AttributeID); index >= 0 {
		c.Entries[index] = entry
		return
	}
	c.Entries = append(c.Entries, entry)
}

// Encode returns the directory blob for c.
func (c *Chain) Encode(layout Layout) []byte {
	var buffer []byte
	if layout.BulkHeaders {
		buffer = binary.AppendVarint(buffer, directoryMarker)
		buffer = binary.AppendVarint(buffer, int64(c.FileID))
	}
	for i := range c.Entries {
		entry := &c.Entries[i]
		buffer = binary.AppendVarint(buffer, int64(entry.AttributeID))
		switch {
		case entry.Inline:
			buffer = binary.AppendVarint(buffer, int64(len(entry.Payload)))
			entry.offset = len(buffer)
			buffer = append(buffer, entry.Payload...)
		case layout.Inline:
			buffer = binary.AppendVarint(buffer, int64(entry.Blob)+MaxInlineSize)
		default:
			buffer = binary.AppendVarint(buffer, int64(entry.Blob))
		}
	}
	return buffer
}

// DecodeChain parses a directory blob.
func DecodeChain(data []byte, layout Layout) (Chain, error) {
	var chain Chain
	position := 0
	next := func(what string) (int64, error) {
		value, n := binary.Varint(data[position:])
		if n <= 0 {
			return 0, fmt.Errorf("%s at byte %d: %w", what, position, ErrMalformed)
		}
		position += n
		return value, nil
	}

	if layout.BulkHeaders {
		marker, err := next("directory marker")
		if err != nil {
			return Chain{}, err
		}
		if marker != directoryMarker {
			return Chain{}, fmt.Errorf("directory marker %d: %w", marker, ErrMalformed)
		}
		fileID, err := next("directory owner")
		if err != nil {
			return Chain{}, err
		}
		chain.FileID = int32(fileID)
	}

	for position < len(data) {
		attributeID, err := next("attribute id")
		if err != nil {
			return Chain{}, err
		}
		if attributeID <= 0 || attributeID > 0x7fffffff {
			return Chain{}, fmt.Errorf("attribute id %d: %w", attributeID, ErrMalformed)
		}
		if chain.Find(int32(attributeID)) >= 0 {
			return Chain{}, fmt.Errorf("attribute id %d listed twice: %w", attributeID, ErrMalformed)
		}
		sizeOrAddress, err := next("attribute reference")
		if err != nil {
			return Chain{}, err
		}
		if sizeOrAddress < 0 {
			return Chain{}, fmt.Errorf("attribute %d reference %d: %w", attributeID, sizeOrAddress, ErrMalformed)
		}

		entry := Entry{AttributeID: int32(attributeID)}
		switch {
		case layout.Inline && sizeOrAddress < MaxInlineSize:
			end := position + int(sizeOrAddress)
			if end > len(data) {
				return Chain{}, fmt.Errorf("attribute %d: %d inline bytes past end of directory: %w",
					attributeID, sizeOrAddress, ErrMalformed)
			}
			entry.Inline = true
			entry.Payload = slices.Clone(data[position:end])
			entry.offset = position
			position = end
		case layout.Inline:
			entry.Blob = int32(sizeOrAddress - MaxInlineSize)
		default:
			entry.Blob = int32(sizeOrAddress)
		}
		if !entry.Inline && entry.Blob <= 0 {
			return Chain{}, fmt.Errorf("attribute %d: blob handle %d: %w", attributeID, entry.Blob, ErrMalformed)
		}
		chain.Entries = append(chain.Entries, entry)
	}
	return chain, nil
}

// AppendBlobHeader appends the bulk header of an attribute blob.
func AppendBlobHeader(buffer []byte, attributeID, fileID int32) []byte {
	buffer = binary.AppendVarint(buffer, int64(attributeID))
	return binary.AppendVarint(buffer, int64(fileID))
}

// StripBlobHeader checks the bulk header of an attribute blob against
// the expected owner and returns the payload after it.
func StripBlobHeader(data []byte, attributeID, fileID int32) ([]byte, error) {
	storedAttribute, n := binary.Varint(data)
	if n <= 0 {
		return nil, fmt.Errorf("blob header attribute id: %w", ErrMalformed)
	}
	storedFile, m := binary.Varint(data[n:])
	if m <= 0 {
		return nil, fmt.Errorf("blob header record id: %w", ErrMalformed)
	}
	if storedAttribute != int64(attributeID) || storedFile != int64(fileID) {
		return nil, fmt.Errorf("blob header names attribute %d of record %d, want attribute %d of record %d: %w",
			storedAttribute, storedFile, attributeID, fileID, ErrMalformed)
	}
	return data[n+m:], nil
}
