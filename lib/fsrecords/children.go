// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsrecords

import (
	"encoding/binary"
	"slices"

	"github.com/bureau-foundation/vfsstore/lib/records"
)

// Child is one entry of a directory listing.
type Child struct {
	ID     int32
	NameID int32
	Name   string
}

// encodeChildren writes a sorted list as a count followed by zigzag
// varint deltas, the first relative to parent.
func encodeChildren(parent int32, ids []int32) []byte {
	buffer := binary.AppendUvarint(make([]byte, 0, 1+len(ids)*2), uint64(len(ids)))
	previous := int64(parent)
	for _, id := range ids {
		buffer = binary.AppendVarint(buffer, int64(id)-previous)
		previous = int64(id)
	}
	return buffer
}

func decodeChildren(parent int32, data []byte) ([]int32, error) {
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, corruptionf("children of record %d: unreadable count", parent)
	}
	// Every delta takes at least one byte.
	if count > uint64(len(data)-n) {
		return nil, corruptionf("children of record %d: count %d exceeds %d bytes", parent, count, len(data)-n)
	}
	position := n
	ids := make([]int32, 0, count)
	previous := int64(parent)
	for i := uint64(0); i < count; i++ {
		delta, n := binary.Varint(data[position:])
		if n <= 0 {
			return nil, corruptionf("children of record %d: unreadable delta %d", parent, i)
		}
		position += n
		if i > 0 && delta <= 0 {
			return nil, corruptionf("children of record %d: delta %d after child %d", parent, delta, previous)
		}
		id := previous + delta
		if id <= 0 || id > 0x7fffffff || id == int64(parent) {
			return nil, corruptionf("children of record %d: invalid child %d", parent, id)
		}
		ids = append(ids, int32(id))
		previous = id
	}
	if position != len(data) {
		return nil, corruptionf("children of record %d: %d trailing bytes", parent, len(data)-position)
	}
	return ids, nil
}

// sortChildren returns a sorted copy of ids after checking that every
// id is a distinct allocated record other than parent.
func (c *connection) sortChildren(parent int32, ids []int32) ([]int32, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	for i, id := range sorted {
		if id == parent {
			return nil, invariantf("record %d cannot be its own child", parent)
		}
		if id <= records.RootID || id >= c.table.Len() {
			return nil, invariantf("child %d of record %d out of range [%d, %d)",
				id, parent, records.RootID+1, c.table.Len())
		}
		if i > 0 && sorted[i-1] == id {
			return nil, invariantf("child %d listed twice under record %d", id, parent)
		}
	}
	return sorted, nil
}

func (c *connection) children(parent int32) ([]int32, error) {
	data, found, err := c.readAttribute(parent, childrenAttribute)
	if err != nil || !found {
		return nil, err
	}
	return decodeChildren(parent, data)
}

func (c *connection) setChildren(parent int32, ids []int32) error {
	sorted, err := c.sortChildren(parent, ids)
	if err != nil {
		return err
	}
	if err := c.writeAttribute(parent, childrenAttribute, encodeChildren(parent, sorted)); err != nil {
		return err
	}
	flags, err := c.table.Flags(parent)
	if err != nil {
		return err
	}
	return c.table.PutInt32(parent, records.FlagsField, int32(flags|records.FlagChildrenCached))
}

// removeChild drops child from the list of parent if it is listed.
func (c *connection) removeChild(parent, child int32) error {
	ids, err := c.children(parent)
	if err != nil {
		return err
	}
	index := slices.Index(ids, child)
	if index < 0 {
		return nil
	}
	return c.setChildren(parent, slices.Delete(ids, index, index+1))
}

// List returns the children of parent in ascending id order.
func (s *Store) List(parent int32) ([]int32, error) {
	return readValue(s, "list children", func(c *connection) ([]int32, error) {
		if err := c.checkID(parent); err != nil {
			return nil, err
		}
		return c.children(parent)
	})
}

// ListAll returns the children of parent with their names.
func (s *Store) ListAll(parent int32) ([]Child, error) {
	return readValue(s, "list children", func(c *connection) ([]Child, error) {
		if err := c.checkID(parent); err != nil {
			return nil, err
		}
		ids, err := c.children(parent)
		if err != nil {
			return nil, err
		}
		listing := make([]Child, 0, len(ids))
		for _, id := range ids {
			if id >= c.table.Len() {
				return nil, corruptionf("child %d of record %d past the end of the table", id, parent)
			}
			nameID, err := c.table.Int32(id, records.NameField)
			if err != nil {
				return nil, err
			}
			name, err := c.names.ValueOf(nameID)
			if err != nil {
				return nil, err
			}
			listing = append(listing, Child{ID: id, NameID: nameID, Name: name})
		}
		return listing, nil
	})
}

// UpdateChildren replaces the children list of parent. The list is
// stored sorted; duplicates, parent itself and ids that are not
// allocated records are rejected.
func (s *Store) UpdateChildren(parent int32, ids []int32) error {
	return s.write("update children", func(c *connection) error {
		if err := c.checkID(parent); err != nil {
			return err
		}
		return c.setChildren(parent, ids)
	})
}

// ModifyChildren replaces the children list of parent with the result
// of update applied to the current list, atomically with respect to
// other callers.
func (s *Store) ModifyChildren(parent int32, update func(current []int32) []int32) error {
	return s.write("modify children", func(c *connection) error {
		if err := c.checkID(parent); err != nil {
			return err
		}
		current, err := c.children(parent)
		if err != nil {
			return err
		}
		return c.setChildren(parent, update(current))
	})
}

// MayHaveChildren reports whether id could have children: true when
// its list was never stored, otherwise whether the list is non-empty.
func (s *Store) MayHaveChildren(id int32) (bool, error) {
	return readValue(s, "may have children", func(c *connection) (bool, error) {
		if err := c.checkID(id); err != nil {
			return false, err
		}
		data, found, err := c.readAttribute(id, childrenAttribute)
		if err != nil || !found {
			return true, err
		}
		count, n := binary.Uvarint(data)
		if n <= 0 {
			return false, corruptionf("children of record %d: unreadable count", id)
		}
		return count > 0, nil
	})
}

// WereChildrenAccessed reports whether a children list was ever stored
// for id.
func (s *Store) WereChildrenAccessed(id int32) (bool, error) {
	flags, err := s.Flags(id)
	if err != nil {
		return false, err
	}
	return flags.Has(records.FlagChildrenCached), nil
}
