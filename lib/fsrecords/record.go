// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsrecords

import (
	"github.com/bureau-foundation/vfsstore/lib/records"
)

// FileAttributes is the file system metadata written into a record in
// one step by WriteAttributesToRecord.
type FileAttributes struct {
	Directory bool
	ReadOnly  bool
	Symlink   bool
	Special   bool
	Hidden    bool

	// Length is ignored for directories, which always store -1.
	Length int64

	// Timestamp is the modification time in milliseconds.
	Timestamp int64
}

func (a FileAttributes) flags() records.Flags {
	var flags records.Flags
	if a.Directory {
		flags |= records.FlagDirectory
	}
	if a.ReadOnly {
		flags |= records.FlagReadOnly
	}
	if a.Symlink {
		flags |= records.FlagSymlink
	}
	if a.Special {
		flags |= records.FlagSpecial
	}
	if a.Hidden {
		flags |= records.FlagHidden
	}
	return flags
}

// CreateRecord allocates a record and returns its id. A slot freed in
// an earlier session is reused most recent first; otherwise the table
// grows by one slot.
func (s *Store) CreateRecord() (int32, error) {
	return writeValue(s, "create record", func(c *connection) (int32, error) {
		return c.createRecord()
	})
}

func (c *connection) createRecord() (int32, error) {
	id, reused := c.free.Pop()
	if reused {
		// Eager cleaning already cleared the refs, unless the slot was
		// freed in a session that cleaned lazily.
		if err := c.releaseData(id); err != nil {
			return 0, err
		}
		if err := c.table.Clean(id); err != nil {
			return 0, err
		}
	} else {
		var err error
		if id, err = c.table.Append(); err != nil {
			return 0, err
		}
	}
	if err := c.bump(id); err != nil {
		return 0, err
	}
	return id, nil
}

// DeleteRecord frees id and removes it from its parent's children
// list or from the root table. The slot becomes reusable after the
// next Open. Children of id are left alone; see
// DeleteRecordRecursively.
func (s *Store) DeleteRecord(id int32) error {
	return s.write("delete record", func(c *connection) error {
		if err := c.checkDeletable(id); err != nil {
			return err
		}
		if err := c.detach(id); err != nil {
			return err
		}
		return c.freeRecord(id)
	})
}

// DeleteRecordRecursively frees id and every record reachable through
// its children lists.
func (s *Store) DeleteRecordRecursively(id int32) error {
	return s.write("delete record recursively", func(c *connection) error {
		if err := c.checkDeletable(id); err != nil {
			return err
		}
		if err := c.detach(id); err != nil {
			return err
		}
		return c.freeSubtree(id)
	})
}

func (c *connection) checkDeletable(id int32) error {
	if err := c.checkID(id); err != nil {
		return err
	}
	if id == records.RootID {
		return invariantf("the super-root cannot be deleted")
	}
	flags, err := c.table.Flags(id)
	if err != nil {
		return err
	}
	if flags.Has(records.FlagFree) {
		return invariantf("record %d is already deleted", id)
	}
	return nil
}

// detach unlinks id from wherever it is listed.
func (c *connection) detach(id int32) error {
	parent, err := c.table.Int32(id, records.ParentField)
	if err != nil {
		return err
	}
	if parent == 0 {
		_, err := c.removeRoot(id)
		return err
	}
	if parent == id || parent < records.RootID || parent >= c.table.Len() {
		return nil
	}
	return c.removeChild(parent, id)
}

// freeSubtree frees id and its descendants, children before parents.
func (c *connection) freeSubtree(id int32) error {
	order := []int32{id}
	seen := map[int32]bool{id: true}
	for next := 0; next < len(order); next++ {
		children, err := c.children(order[next])
		if err != nil {
			return err
		}
		for _, child := range children {
			if seen[child] || child >= c.table.Len() {
				continue
			}
			flags, err := c.table.Flags(child)
			if err != nil {
				return err
			}
			if flags.Has(records.FlagFree) {
				continue
			}
			seen[child] = true
			order = append(order, child)
		}
	}
	for i := len(order) - 1; i >= 0; i-- {
		if err := c.freeRecord(order[i]); err != nil {
			return err
		}
	}
	return nil
}

func (c *connection) freeRecord(id int32) error {
	if !c.settings.storage.LazyDataCleaning {
		if err := c.releaseData(id); err != nil {
			return err
		}
	}
	flags, err := c.table.Flags(id)
	if err != nil {
		return err
	}
	if err := c.table.PutInt32(id, records.FlagsField, int32(flags|records.FlagFree)); err != nil {
		return err
	}
	c.free.MarkPending(id)
	return c.bump(id)
}

// releaseData drops the content reference and deletes the attribute
// blobs of id.
func (c *connection) releaseData(id int32) error {
	record, err := c.table.Read(id)
	if err != nil {
		return err
	}
	if record.ContentRef != 0 {
		if err := c.contents.Release(record.ContentRef); err != nil {
			return err
		}
		if err := c.table.PutInt32(id, records.ContentRefField, 0); err != nil {
			return err
		}
	}
	if record.AttributeRef != 0 {
		if err := c.deleteAttributes(id, record.AttributeRef); err != nil {
			return err
		}
		if err := c.table.PutInt32(id, records.AttributeRefField, 0); err != nil {
			return err
		}
	}
	return nil
}

// IsDeleted reports whether id has been freed.
func (s *Store) IsDeleted(id int32) (bool, error) {
	flags, err := s.Flags(id)
	if err != nil {
		return false, err
	}
	return flags.Has(records.FlagFree), nil
}

// MaxID returns the largest record id ever allocated.
func (s *Store) MaxID() (int32, error) {
	return readValue(s, "max id", func(c *connection) (int32, error) {
		return c.table.Len() - 1, nil
	})
}

// Record returns every field of id.
func (s *Store) Record(id int32) (records.Record, error) {
	return readValue(s, "read record", func(c *connection) (records.Record, error) {
		if err := c.checkID(id); err != nil {
			return records.Record{}, err
		}
		return c.table.Read(id)
	})
}

// Parent returns the parent of id, 0 for roots. A record that names
// itself as parent is reported as a root and logged.
func (s *Store) Parent(id int32) (int32, error) {
	return readValue(s, "get parent", func(c *connection) (int32, error) {
		if err := c.checkID(id); err != nil {
			return 0, err
		}
		return c.parent(id)
	})
}

func (c *connection) parent(id int32) (int32, error) {
	parent, err := c.table.Int32(id, records.ParentField)
	if err != nil {
		return 0, err
	}
	if parent == id {
		c.settings.logger.Error("record is its own parent", "record", id)
		return 0, nil
	}
	return parent, nil
}

// SetParent sets the parent of id. A record cannot be its own parent;
// the request is rejected and the previous parent kept.
func (s *Store) SetParent(id, parent int32) error {
	return s.write("set parent", func(c *connection) error {
		if err := c.checkID(id); err != nil {
			return err
		}
		if parent == id {
			return invariantf("record %d cannot be its own parent", id)
		}
		if parent != 0 {
			if err := c.checkID(parent); err != nil {
				return err
			}
		}
		if err := c.table.PutInt32(id, records.ParentField, parent); err != nil {
			return err
		}
		return c.bump(id)
	})
}

// NameID returns the name id of id.
func (s *Store) NameID(id int32) (int32, error) {
	return readValue(s, "get name id", func(c *connection) (int32, error) {
		if err := c.checkID(id); err != nil {
			return 0, err
		}
		return c.table.Int32(id, records.NameField)
	})
}

// Name returns the name of id.
func (s *Store) Name(id int32) (string, error) {
	return readValue(s, "get name", func(c *connection) (string, error) {
		if err := c.checkID(id); err != nil {
			return "", err
		}
		return c.name(id)
	})
}

func (c *connection) name(id int32) (string, error) {
	nameID, err := c.table.Int32(id, records.NameField)
	if err != nil {
		return "", err
	}
	return c.names.ValueOf(nameID)
}

// SetName interns name and stores it in id. Names must be single path
// segments.
func (s *Store) SetName(id int32, name string) error {
	return s.write("set name", func(c *connection) error {
		if err := c.checkID(id); err != nil {
			return err
		}
		nameID, err := c.names.Enumerate(name)
		if err != nil {
			return err
		}
		if err := c.table.PutInt32(id, records.NameField, nameID); err != nil {
			return err
		}
		return c.bump(id)
	})
}

// EnumerateName interns name and returns its id, the same id for
// every call with the same name.
func (s *Store) EnumerateName(name string) (int32, error) {
	return writeValue(s, "enumerate name", func(c *connection) (int32, error) {
		return c.names.Enumerate(name)
	})
}

// TryNameID returns the id of name, or 0 when the name was never
// stored. It does not intern name.
func (s *Store) TryNameID(name string) (int32, error) {
	return readValue(s, "try name id", func(c *connection) (int32, error) {
		return c.names.TryEnumerate(name)
	})
}

// NameByID resolves a name id.
func (s *Store) NameByID(nameID int32) (string, error) {
	return readValue(s, "name by id", func(c *connection) (string, error) {
		if nameID < 0 || nameID > c.names.LargestID() {
			return "", invariantf("name %d out of range", nameID)
		}
		return c.names.ValueOf(nameID)
	})
}

// Flags returns the flags of id.
func (s *Store) Flags(id int32) (records.Flags, error) {
	return readValue(s, "get flags", func(c *connection) (records.Flags, error) {
		if err := c.checkID(id); err != nil {
			return 0, err
		}
		return c.table.Flags(id)
	})
}

// SetFlags replaces the flags of id. FlagFree is managed by the store
// and cannot be set or cleared here.
func (s *Store) SetFlags(id int32, flags records.Flags) error {
	return s.write("set flags", func(c *connection) error {
		if err := c.checkID(id); err != nil {
			return err
		}
		if !flags.Valid() {
			return invariantf("invalid flags %s for record %d", flags, id)
		}
		if flags&records.FlagFree != 0 {
			return invariantf("flag %s is reserved for deletion", records.FlagFree)
		}
		current, err := c.table.Flags(id)
		if err != nil {
			return err
		}
		flags |= current & records.FlagFree
		if err := c.table.PutInt32(id, records.FlagsField, int32(flags)); err != nil {
			return err
		}
		return c.bump(id)
	})
}

// Timestamp returns the timestamp of id in milliseconds.
func (s *Store) Timestamp(id int32) (int64, error) {
	return readValue(s, "get timestamp", func(c *connection) (int64, error) {
		if err := c.checkID(id); err != nil {
			return 0, err
		}
		return c.table.Int64(id, records.TimestampField)
	})
}

// SetTimestamp sets the timestamp of id.
func (s *Store) SetTimestamp(id int32, millis int64) error {
	return s.write("set timestamp", func(c *connection) error {
		if err := c.checkID(id); err != nil {
			return err
		}
		if err := c.table.PutInt64(id, records.TimestampField, millis); err != nil {
			return err
		}
		return c.bump(id)
	})
}

// Length returns the length of id, -1 for directories.
func (s *Store) Length(id int32) (int64, error) {
	return readValue(s, "get length", func(c *connection) (int64, error) {
		if err := c.checkID(id); err != nil {
			return 0, err
		}
		return c.table.Int64(id, records.LengthField)
	})
}

// SetLength sets the length of id. Lengths below -1 are rejected.
func (s *Store) SetLength(id int32, length int64) error {
	return s.write("set length", func(c *connection) error {
		if err := c.checkID(id); err != nil {
			return err
		}
		if length < -1 {
			return invariantf("record %d: length %d below -1", id, length)
		}
		if err := c.table.PutInt64(id, records.LengthField, length); err != nil {
			return err
		}
		return c.bump(id)
	})
}

// ModCount returns the global modification count stamped into id by
// its latest mutation.
func (s *Store) ModCount(id int32) (int32, error) {
	return readValue(s, "get mod count", func(c *connection) (int32, error) {
		if err := c.checkID(id); err != nil {
			return 0, err
		}
		return c.table.Int32(id, records.ModCountField)
	})
}

// WriteAttributesToRecord sets parent, name, flags, length and
// timestamp of id in one mutation.
func (s *Store) WriteAttributesToRecord(id, parent int32, attributes FileAttributes, name string) error {
	return s.write("write attributes to record", func(c *connection) error {
		if err := c.checkID(id); err != nil {
			return err
		}
		if parent == id {
			return invariantf("record %d cannot be its own parent", id)
		}
		if parent != 0 {
			if err := c.checkID(parent); err != nil {
				return err
			}
		}
		length := attributes.Length
		if attributes.Directory {
			length = -1
		}
		if length < -1 {
			return invariantf("record %d: length %d below -1", id, length)
		}
		nameID, err := c.names.Enumerate(name)
		if err != nil {
			return err
		}

		record, err := c.table.Read(id)
		if err != nil {
			return err
		}
		record.Parent = parent
		record.Name = nameID
		record.Flags = attributes.flags() | record.Flags&records.FlagFree
		record.Length = length
		record.Timestamp = attributes.Timestamp
		if err := c.table.Write(id, record); err != nil {
			return err
		}
		return c.bump(id)
	})
}
