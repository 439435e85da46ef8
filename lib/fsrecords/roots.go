// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsrecords

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/bureau-foundation/vfsstore/lib/records"
)

// Root is one entry of the root table: a file system root URL and the
// record standing for it.
type Root struct {
	ID  int32
	URL string
}

// FindRootRecord returns the record of the root with the given URL,
// creating it on first use. Root records are directories with no
// parent, named by their URL.
func (s *Store) FindRootRecord(url string) (int32, error) {
	return writeValue(s, "find root record", func(c *connection) (int32, error) {
		if url == "" {
			return 0, invariantf("empty root URL")
		}
		roots, err := c.loadRoots()
		if err != nil {
			return 0, err
		}
		for _, root := range roots {
			if root.URL == url {
				return root.ID, nil
			}
		}

		id, err := c.createRecord()
		if err != nil {
			return 0, err
		}
		nameID, err := c.names.EnumerateRootURL(url)
		if err != nil {
			return 0, err
		}
		record := records.Record{Name: nameID, Flags: records.FlagDirectory, Length: -1}
		if err := c.table.Write(id, record); err != nil {
			return 0, err
		}
		if err := c.bump(id); err != nil {
			return 0, err
		}
		if err := c.storeRoots(append(roots, Root{ID: id, URL: url})); err != nil {
			return 0, err
		}
		return id, nil
	})
}

// DeleteRootRecord removes id from the root table and frees its
// subtree.
func (s *Store) DeleteRootRecord(id int32) error {
	return s.write("delete root record", func(c *connection) error {
		if err := c.checkDeletable(id); err != nil {
			return err
		}
		removed, err := c.removeRoot(id)
		if err != nil {
			return err
		}
		if !removed {
			return invariantf("record %d is not a root", id)
		}
		return c.freeSubtree(id)
	})
}

// ListRoots returns the root table ordered by record id.
func (s *Store) ListRoots() ([]Root, error) {
	return readValue(s, "list roots", func(c *connection) ([]Root, error) {
		roots, err := c.loadRoots()
		if err != nil {
			return nil, err
		}
		slices.SortFunc(roots, func(a, b Root) int { return int(a.ID) - int(b.ID) })
		return roots, nil
	})
}

// removeRoot drops id from the root table and reports whether it was
// listed.
func (c *connection) removeRoot(id int32) (bool, error) {
	roots, err := c.loadRoots()
	if err != nil {
		return false, err
	}
	index := slices.IndexFunc(roots, func(root Root) bool { return root.ID == id })
	if index < 0 {
		return false, nil
	}
	return true, c.storeRoots(slices.Delete(roots, index, index+1))
}

func (c *connection) loadRoots() ([]Root, error) {
	if c.settings.storage.StoreRootsSeparately {
		return readRootsFile(c.paths.roots())
	}
	data, found, err := c.readAttribute(records.RootID, rootsAttribute)
	if err != nil || !found {
		return nil, err
	}
	return c.decodeRoots(data)
}

func (c *connection) storeRoots(roots []Root) error {
	if c.settings.storage.StoreRootsSeparately {
		if err := writeRootsFile(c.paths.roots(), roots); err != nil {
			return err
		}
		return c.bump(records.RootID)
	}
	data, err := c.encodeRoots(roots)
	if err != nil {
		return err
	}
	return c.writeAttribute(records.RootID, rootsAttribute, data)
}

type rootEntry struct {
	nameID int32
	id     int32
}

// encodeRoots stores the table sorted by name id as a count followed
// by (name id delta, record id delta) zigzag varint pairs.
func (c *connection) encodeRoots(roots []Root) ([]byte, error) {
	entries := make([]rootEntry, 0, len(roots))
	for _, root := range roots {
		nameID, err := c.names.EnumerateRootURL(root.URL)
		if err != nil {
			return nil, err
		}
		entries = append(entries, rootEntry{nameID: nameID, id: root.ID})
	}
	slices.SortFunc(entries, func(a, b rootEntry) int { return int(a.nameID) - int(b.nameID) })

	buffer := binary.AppendUvarint(nil, uint64(len(entries)))
	var previousName, previousID int64
	for _, entry := range entries {
		buffer = binary.AppendVarint(buffer, int64(entry.nameID)-previousName)
		buffer = binary.AppendVarint(buffer, int64(entry.id)-previousID)
		previousName, previousID = int64(entry.nameID), int64(entry.id)
	}
	return buffer, nil
}

func (c *connection) decodeRoots(data []byte) ([]Root, error) {
	count, position := binary.Uvarint(data)
	if position <= 0 || count > uint64(len(data)) {
		return nil, corruptionf("root table: unreadable count")
	}
	roots := make([]Root, 0, count)
	var nameID, id int64
	for i := uint64(0); i < count; i++ {
		nameDelta, n := binary.Varint(data[position:])
		if n <= 0 {
			return nil, corruptionf("root table: unreadable entry %d", i)
		}
		position += n
		idDelta, n := binary.Varint(data[position:])
		if n <= 0 {
			return nil, corruptionf("root table: unreadable entry %d", i)
		}
		position += n
		nameID += nameDelta
		id += idDelta
		if nameID <= 0 || id <= int64(records.RootID) || id >= int64(c.table.Len()) {
			return nil, corruptionf("root table: entry %d names record %d with name %d", i, id, nameID)
		}
		url, err := c.names.ValueOf(int32(nameID))
		if err != nil {
			return nil, err
		}
		roots = append(roots, Root{ID: int32(id), URL: url})
	}
	if position != len(data) {
		return nil, corruptionf("root table: %d trailing bytes", len(data)-position)
	}
	return roots, nil
}

// readRootsFile parses roots.dat: one "id<TAB>url" line per root.
func readRootsFile(path string) ([]Root, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading root table: %w", err)
	}
	var roots []Root
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Text()
		if text == "" {
			continue
		}
		idText, url, ok := strings.Cut(text, "\t")
		if !ok || url == "" {
			return nil, corruptionf("root table line %d: %q", line, text)
		}
		id, err := strconv.ParseInt(idText, 10, 32)
		if err != nil || id <= int64(records.RootID) {
			return nil, corruptionf("root table line %d: bad record id %q", line, idText)
		}
		roots = append(roots, Root{ID: int32(id), URL: url})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading root table: %w", err)
	}
	return roots, nil
}

// writeRootsFile replaces roots.dat atomically.
func writeRootsFile(path string, roots []Root) error {
	var buffer bytes.Buffer
	for _, root := range roots {
		fmt.Fprintf(&buffer, "%d\t%s\n", root.ID, root.URL)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("writing root table: %w", err)
	}
	if _, err := file.Write(buffer.Bytes()); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing root table: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing root table: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing root table: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming root table: %w", err)
	}
	return nil
}
