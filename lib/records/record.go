// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package records

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// RecordSize is the width of one record slot in bytes.
const RecordSize = 40

// Reserved record ids. Slot 0 holds the store header and is never a
// record; slot 1 is the synthetic super-root whose children are the
// file system roots.
const (
	HeaderID int32 = 0
	RootID   int32 = 1

	// FirstScannedID is where the free-list scan starts. The header
	// and the super-root are never free.
	FirstScannedID int32 = 2
)

// Field describes one fixed-width field inside a record slot. All
// offset arithmetic in the store goes through Field values so that the
// layout is defined in exactly one place.
type Field struct {
	Name   string
	Offset int64
	Width  int64
}

// Record fields. Integers are little-endian.
var (
	ParentField       = Field{Name: "parent", Offset: 0, Width: 4}
	NameField         = Field{Name: "name", Offset: 4, Width: 4}
	FlagsField        = Field{Name: "flags", Offset: 8, Width: 4}
	AttributeRefField = Field{Name: "attribute_ref", Offset: 12, Width: 4}
	ContentRefField   = Field{Name: "content_ref", Offset: 16, Width: 4}
	TimestampField    = Field{Name: "timestamp", Offset: 20, Width: 8}
	ModCountField     = Field{Name: "mod_count", Offset: 28, Width: 4}
	LengthField       = Field{Name: "length", Offset: 32, Width: 8}
)

// Header fields, stored in slot 0.
var (
	VersionField           = Field{Name: "version", Offset: 0, Width: 4}
	GlobalModCountField    = Field{Name: "global_mod_count", Offset: 8, Width: 4}
	ConnectionStatusField  = Field{Name: "connection_status", Offset: 12, Width: 4}
	CreationTimestampField = Field{Name: "creation_timestamp", Offset: 16, Width: 8}
)

// Offset returns the byte offset of field within the slot of id.
func Offset(id int32, field Field) int64 {
	return int64(id)*RecordSize + field.Offset
}

// Flags is the record flag word.
type Flags int32

const (
	FlagDirectory         Flags = 0x01
	FlagReadOnly          Flags = 0x02
	FlagMustReloadContent Flags = 0x04
	FlagSymlink           Flags = 0x08
	FlagSpecial           Flags = 0x10
	FlagHidden            Flags = 0x20
	FlagChildrenCached    Flags = 0x40

	// FlagFree marks a deleted slot awaiting reuse.
	FlagFree Flags = 0x100

	// AllValidFlags is the union of every defined flag. Any other bit
	// set in a stored flag word indicates corruption.
	AllValidFlags = FlagDirectory | FlagReadOnly | FlagMustReloadContent | FlagSymlink |
		FlagSpecial | FlagHidden | FlagChildrenCached | FlagFree
)

// Has reports whether every bit of mask is set.
func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// Valid reports whether f contains only defined bits.
func (f Flags) Valid() bool { return f&^AllValidFlags == 0 }

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	names := []struct {
		flag Flags
		name string
	}{
		{FlagDirectory, "directory"},
		{FlagReadOnly, "read-only"},
		{FlagMustReloadContent, "must-reload"},
		{FlagSymlink, "symlink"},
		{FlagSpecial, "special"},
		{FlagHidden, "hidden"},
		{FlagChildrenCached, "children-cached"},
		{FlagFree, "free"},
	}
	var parts []string
	for _, entry := range names {
		if f.Has(entry.flag) {
			parts = append(parts, entry.name)
		}
	}
	if unknown := f &^ AllValidFlags; unknown != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", int32(unknown)))
	}
	return strings.Join(parts, "|")
}

// Status is the connection status word kept in the header. The values
// are arbitrary magics so that a torn or zeroed header never reads as
// a valid status.
type Status int32

const (
	StatusConnected    Status = 0x12ad34e4
	StatusSafelyClosed Status = 0x1f2f3f4f
	StatusCorrupted    Status = -0x54308081 // 0xabcf7f7f as a signed word
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusSafelyClosed:
		return "safely-closed"
	case StatusCorrupted:
		return "corrupted"
	default:
		return fmt.Sprintf("unknown(0x%x)", uint32(s))
	}
}

// Record is a decoded record slot.
type Record struct {
	Parent       int32
	Name         int32
	Flags        Flags
	AttributeRef int32
	ContentRef   int32
	Timestamp    int64
	ModCount     int32
	Length       int64
}

// Encode writes r into a slot-sized buffer.
func (r Record) Encode() [RecordSize]byte {
	var slot [RecordSize]byte
	putField(slot[:], ParentField, int64(r.Parent))
	putField(slot[:], NameField, int64(r.Name))
	putField(slot[:], FlagsField, int64(r.Flags))
	putField(slot[:], AttributeRefField, int64(r.AttributeRef))
	putField(slot[:], ContentRefField, int64(r.ContentRef))
	putField(slot[:], TimestampField, r.Timestamp)
	putField(slot[:], ModCountField, int64(r.ModCount))
	putField(slot[:], LengthField, r.Length)
	return slot
}

// DecodeRecord parses a slot-sized buffer.
func DecodeRecord(slot []byte) (Record, error) {
	if len(slot) != RecordSize {
		return Record{}, fmt.Errorf("record slot is %d bytes, want %d", len(slot), RecordSize)
	}
	return Record{
		Parent:       int32(field(slot, ParentField)),
		Name:         int32(field(slot, NameField)),
		Flags:        Flags(field(slot, FlagsField)),
		AttributeRef: int32(field(slot, AttributeRefField)),
		ContentRef:   int32(field(slot, ContentRefField)),
		Timestamp:    field(slot, TimestampField),
		ModCount:     int32(field(slot, ModCountField)),
		Length:       field(slot, LengthField),
	}, nil
}

func putField(slot []byte, f Field, value int64) {
	switch f.Width {
	case 4:
		binary.LittleEndian.PutUint32(slot[f.Offset:], uint32(int32(value)))
	case 8:
		binary.LittleEndian.PutUint64(slot[f.Offset:], uint64(value))
	default:
		panic("records: unsupported field width")
	}
}

func field(slot []byte, f Field) int64 {
	switch f.Width {
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(slot[f.Offset:])))
	case 8:
		return int64(binary.LittleEndian.Uint64(slot[f.Offset:]))
	default:
		panic("records: unsupported field width")
	}
}
