// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package records

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/vfsstore/lib/mapped"
)

// ErrInvalidID is returned for ids outside the allocated slot range.
var ErrInvalidID = errors.New("records: id out of range")

// Table is the fixed-width record array stored in a mapped file. Slot
// 0 is the header. Table does no locking of its own beyond what the
// mapped file provides; the record store serializes mutations.
type Table struct {
	file *mapped.File
}

// Open opens or creates the record table at path.
func Open(path string) (*Table, error) {
	file, err := mapped.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening record table: %w", err)
	}
	if file.Length()%RecordSize != 0 {
		length := file.Length()
		file.Close()
		return nil, fmt.Errorf("record table %s is %d bytes, not a multiple of %d", path, length, RecordSize)
	}
	return &Table{file: file}, nil
}

// Len returns the number of slots, including the header slot. Valid
// record ids are 1 through Len()-1.
func (t *Table) Len() int32 {
	return int32(t.file.Length() / RecordSize)
}

// IsEmpty reports whether the table has no header yet.
func (t *Table) IsEmpty() bool { return t.file.Length() == 0 }

// Initialize writes a fresh header and the super-root slot into an
// empty table.
func (t *Table) Initialize(version int32, createdAt int64) error {
	if !t.IsEmpty() {
		return fmt.Errorf("initializing record table %s: table is not empty", t.file.Path())
	}
	if err := t.file.Zero(0, 2*RecordSize); err != nil {
		return fmt.Errorf("allocating header: %w", err)
	}
	if err := t.SetVersion(version); err != nil {
		return err
	}
	if err := t.SetCreationTimestamp(createdAt); err != nil {
		return err
	}
	return t.SetStatus(StatusSafelyClosed)
}

// Append grows the table by one zeroed slot and returns its id.
func (t *Table) Append() (int32, error) {
	id := t.Len()
	if err := t.file.Zero(int64(id)*RecordSize, RecordSize); err != nil {
		return 0, fmt.Errorf("appending record %d: %w", id, err)
	}
	return id, nil
}

// Clean zeroes every field of id.
func (t *Table) Clean(id int32) error {
	if err := t.checkID(id); err != nil {
		return err
	}
	if err := t.file.Zero(int64(id)*RecordSize, RecordSize); err != nil {
		return fmt.Errorf("cleaning record %d: %w", id, err)
	}
	return nil
}

// Read decodes the whole slot of id.
func (t *Table) Read(id int32) (Record, error) {
	if err := t.checkID(id); err != nil {
		return Record{}, err
	}
	var slot [RecordSize]byte
	if _, err := t.file.ReadAt(slot[:], int64(id)*RecordSize); err != nil {
		return Record{}, fmt.Errorf("reading record %d: %w", id, err)
	}
	return DecodeRecord(slot[:])
}

// Write replaces the whole slot of id.
func (t *Table) Write(id int32, record Record) error {
	if err := t.checkID(id); err != nil {
		return err
	}
	slot := record.Encode()
	if _, err := t.file.WriteAt(slot[:], int64(id)*RecordSize); err != nil {
		return fmt.Errorf("writing record %d: %w", id, err)
	}
	return nil
}

// Int32 reads a 4-byte field of id.
func (t *Table) Int32(id int32, field Field) (int32, error) {
	if err := t.checkField(id, field, 4); err != nil {
		return 0, err
	}
	value, err := t.file.Int32(Offset(id, field))
	if err != nil {
		return 0, fmt.Errorf("reading %s of record %d: %w", field.Name, id, err)
	}
	return value, nil
}

// PutInt32 writes a 4-byte field of id.
func (t *Table) PutInt32(id int32, field Field, value int32) error {
	if err := t.checkField(id, field, 4); err != nil {
		return err
	}
	if err := t.file.PutInt32(Offset(id, field), value); err != nil {
		return fmt.Errorf("writing %s of record %d: %w", field.Name, id, err)
	}
	return nil
}

// Int64 reads an 8-byte field of id.
func (t *Table) Int64(id int32, field Field) (int64, error) {
	if err := t.checkField(id, field, 8); err != nil {
		return 0, err
	}
	value, err := t.file.Int64(Offset(id, field))
	if err != nil {
		return 0, fmt.Errorf("reading %s of record %d: %w", field.Name, id, err)
	}
	return value, nil
}

// PutInt64 writes an 8-byte field of id.
func (t *Table) PutInt64(id int32, field Field, value int64) error {
	if err := t.checkField(id, field, 8); err != nil {
		return err
	}
	if err := t.file.PutInt64(Offset(id, field), value); err != nil {
		return fmt.Errorf("writing %s of record %d: %w", field.Name, id, err)
	}
	return nil
}

// Flags reads the flag word of id.
func (t *Table) Flags(id int32) (Flags, error) {
	value, err := t.Int32(id, FlagsField)
	return Flags(value), err
}

// Version returns the format version stored in the header.
func (t *Table) Version() (int32, error) { return t.Int32(HeaderID, VersionField) }

// SetVersion stores the format version in the header.
func (t *Table) SetVersion(version int32) error {
	return t.PutInt32(HeaderID, VersionField, version)
}

// GlobalModCount returns the store-wide modification counter.
func (t *Table) GlobalModCount() (int32, error) {
	return t.Int32(HeaderID, GlobalModCountField)
}

// SetGlobalModCount stores the store-wide modification counter.
func (t *Table) SetGlobalModCount(count int32) error {
	return t.PutInt32(HeaderID, GlobalModCountField, count)
}

// Status returns the connection status word.
func (t *Table) Status() (Status, error) {
	value, err := t.Int32(HeaderID, ConnectionStatusField)
	return Status(value), err
}

// SetStatus stores the connection status word.
func (t *Table) SetStatus(status Status) error {
	return t.PutInt32(HeaderID, ConnectionStatusField, int32(status))
}

// CreationTimestamp returns when the store was created, in Unix
// milliseconds.
func (t *Table) CreationTimestamp() (int64, error) {
	return t.Int64(HeaderID, CreationTimestampField)
}

// SetCreationTimestamp stores the creation time in Unix milliseconds.
func (t *Table) SetCreationTimestamp(millis int64) error {
	return t.PutInt64(HeaderID, CreationTimestampField, millis)
}

// IsDirty reports whether the table has unforced writes.
func (t *Table) IsDirty() bool { return t.file.IsDirty() }

// Force flushes the table to disk.
func (t *Table) Force() error { return t.file.Force() }

// Close forces and closes the table.
func (t *Table) Close() error { return t.file.Close() }

// Path returns the table file path.
func (t *Table) Path() string { return t.file.Path() }

func (t *Table) checkID(id int32) error {
	if id < 0 || id >= t.Len() {
		return fmt.Errorf("record %d (table holds %d slots): %w", id, t.Len(), ErrInvalidID)
	}
	return nil
}

func (t *Table) checkField(id int32, field Field, width int64) error {
	if field.Width != width {
		return fmt.Errorf("field %s is %d bytes wide, accessed as %d", field.Name, field.Width, width)
	}
	return t.checkID(id)
}
