// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsrecords

import (
	"encoding/binary"
	"unicode/utf8"
)

// Symlink targets are stored as a uvarint length and UTF-8 bytes.
// Targets written by the previous format carry a two-byte big-endian
// length instead and are still readable.

func encodeSymlink(target string) []byte {
	buffer := binary.AppendUvarint(make([]byte, 0, binary.MaxVarintLen32+len(target)), uint64(len(target)))
	return append(buffer, target...)
}

func decodeSymlink(id int32, data []byte) (string, error) {
	length, n := binary.Uvarint(data)
	if n <= 0 || length != uint64(len(data)-n) {
		return "", corruptionf("symlink target of record %d: bad length", id)
	}
	return validSymlink(id, data[n:])
}

func decodeLegacySymlink(id int32, data []byte) (string, error) {
	if len(data) < 2 || int(binary.BigEndian.Uint16(data)) != len(data)-2 {
		return "", corruptionf("legacy symlink target of record %d: bad length", id)
	}
	return validSymlink(id, data[2:])
}

func validSymlink(id int32, target []byte) (string, error) {
	if !utf8.Valid(target) {
		return "", corruptionf("symlink target of record %d is not UTF-8", id)
	}
	return string(target), nil
}

// SymlinkTarget returns the stored symlink target of id. The boolean
// is false when none is stored.
func (s *Store) SymlinkTarget(id int32) (string, bool, error) {
	var target string
	var found bool
	err := s.read("get symlink target", func(c *connection) error {
		if err := c.checkID(id); err != nil {
			return err
		}
		data, ok, err := c.readAttribute(id, symlinkAttribute)
		if err != nil {
			return err
		}
		if ok {
			target, err = decodeSymlink(id, data)
			found = err == nil
			return err
		}
		data, ok, err = c.readAttribute(id, legacySymlinkAttribute)
		if err != nil || !ok {
			return err
		}
		target, err = decodeLegacySymlink(id, data)
		found = err == nil
		return err
	})
	return target, found, err
}

// SetSymlinkTarget stores the symlink target of id, replacing a target
// in the previous format.
func (s *Store) SetSymlinkTarget(id int32, target string) error {
	return s.write("set symlink target", func(c *connection) error {
		if err := c.checkID(id); err != nil {
			return err
		}
		if !utf8.ValidString(target) {
			return invariantf("symlink target of record %d is not UTF-8", id)
		}
		return c.writeAttribute(id, symlinkAttribute, encodeSymlink(target))
	})
}
