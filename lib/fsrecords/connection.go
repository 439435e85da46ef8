// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsrecords

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/vfsstore/lib/attribute"
	"github.com/bureau-foundation/vfsstore/lib/blobstore"
	"github.com/bureau-foundation/vfsstore/lib/clock"
	"github.com/bureau-foundation/vfsstore/lib/contentstore"
	"github.com/bureau-foundation/vfsstore/lib/enumerator"
	"github.com/bureau-foundation/vfsstore/lib/mapped"
	"github.com/bureau-foundation/vfsstore/lib/marker"
	"github.com/bureau-foundation/vfsstore/lib/names"
	"github.com/bureau-foundation/vfsstore/lib/records"
)

// storePaths names the files of a store directory.
type storePaths struct {
	directory string
}

func (p storePaths) records() string       { return filepath.Join(p.directory, "records.dat") }
func (p storePaths) names() string         { return filepath.Join(p.directory, "names") }
func (p storePaths) namesData() string     { return p.names() + ".dat" }
func (p storePaths) attributes() string    { return filepath.Join(p.directory, "attributes") }
func (p storePaths) registry() string      { return filepath.Join(p.directory, "attributes.enum") }
func (p storePaths) contents() string      { return filepath.Join(p.directory, "content") }
func (p storePaths) contentHashes() string { return filepath.Join(p.directory, "content.hashes") }
func (p storePaths) roots() string         { return filepath.Join(p.directory, "roots.dat") }
func (p storePaths) marker() string        { return filepath.Join(p.directory, "corruption.marker") }

// required lists the files an existing store cannot be opened without.
// Each storage recreates a missing file empty, so their absence has to
// be caught before the storages are opened.
func (p storePaths) required(shared bool) []string {
	paths := []string{
		p.records(),
		p.namesData(),
		p.names() + ".idx",
		p.attributes() + ".rt",
		p.attributes() + ".dat",
		p.registry(),
		p.contents() + ".rt",
		p.contents() + ".dat",
	}
	if shared {
		paths = append(paths, p.contentHashes()+".dat")
	}
	return paths
}

// remove deletes every file a store may own. The directory itself and
// unrelated files in it are left alone.
func (p storePaths) remove() error {
	return errors.Join(
		mapped.Remove(p.records()),
		enumerator.RemoveStrings(p.names()),
		blobstore.Remove(p.attributes()),
		removeFile(p.registry()),
		contentstore.Remove(p.contents(), p.contentHashes()),
		removeFile(p.roots()),
		marker.Clear(p.marker()),
	)
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// connection is one open generation of the store files. Its methods
// assume the caller holds the store lock appropriately.
type connection struct {
	paths    storePaths
	settings settings

	table      *records.Table
	free       *records.FreeList
	nameStore  *enumerator.Strings
	names      *names.Table
	attributes *blobstore.Store
	registry   *attribute.Registry
	contents   *contentstore.Store

	// reserved attribute ids, resolved at open
	childrenID int32
	rootsID    int32

	// headerDirty is set once StatusConnected has been written for the
	// current batch of unforced mutations.
	headerDirty bool
}

// errRebuild marks an open failure that is answered by wiping the
// store and starting over.
type errRebuild struct {
	reason string
	err    error
}

func (e *errRebuild) Error() string {
	if e.err == nil {
		return e.reason
	}
	return e.reason + ": " + e.err.Error()
}

func (e *errRebuild) Unwrap() error { return e.err }

func rebuild(reason string, err error) error {
	return &errRebuild{reason: reason, err: err}
}

// openConnection opens the store directory, rebuilding it from scratch
// up to settings.attempts times.
func openConnection(directory string, s settings) (*connection, error) {
	paths := storePaths{directory: directory}
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %w", ErrUnrecoverable, directory, err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		conn, err := tryOpen(paths, s)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		s.logger.Warn("record store unusable, rebuilding",
			"path", directory,
			"attempt", attempt,
			"error", err,
		)
		if err := paths.remove(); err != nil {
			return nil, fmt.Errorf("%w: deleting store files in %s: %w", ErrUnrecoverable, directory, err)
		}
	}
	return nil, fmt.Errorf("%w: %d attempts failed, last: %w", ErrUnrecoverable, s.attempts, lastErr)
}

// tryOpen makes one attempt. On failure every file it opened is
// closed again.
func tryOpen(paths storePaths, s settings) (*connection, error) {
	markerPresent, err := marker.Exists(paths.marker())
	if err != nil {
		return nil, rebuild("checking corruption marker", err)
	}
	if markerPresent {
		reason, _ := marker.Read(paths.marker())
		s.logger.Error("corruption marker found", "path", paths.marker(), "report", firstLine(reason))
		return nil, rebuild("corruption marker present", nil)
	}

	fresh := true
	if exists, err := fileExists(paths.namesData()); err != nil {
		return nil, rebuild("checking names file", err)
	} else if exists {
		fresh = false
	}
	if fresh {
		// Leftovers without a names file belong to no usable store.
		if err := paths.remove(); err != nil {
			return nil, fmt.Errorf("%w: deleting leftover files: %w", ErrUnrecoverable, err)
		}
	} else {
		for _, path := range paths.required(s.storage.ShareContents) {
			present, err := fileExists(path)
			if err != nil {
				return nil, rebuild("checking "+filepath.Base(path), err)
			}
			if !present {
				return nil, rebuild(filepath.Base(path)+" missing", nil)
			}
		}
	}

	conn := &connection{paths: paths, settings: s}
	if err := conn.open(fresh); err != nil {
		conn.close()
		return nil, err
	}
	return conn, nil
}

func (c *connection) open(fresh bool) error {
	s := c.settings
	var err error

	if c.table, err = records.Open(c.paths.records()); err != nil {
		return rebuild("opening record table", err)
	}
	if fresh != c.table.IsEmpty() {
		return rebuild("record table does not match names file", nil)
	}
	if fresh {
		if err := c.table.Initialize(s.version, clock.UnixMilli(s.clock)); err != nil {
			return rebuild("initializing record table", err)
		}
		if err := c.table.PutInt32(records.RootID, records.FlagsField, int32(records.FlagDirectory)); err != nil {
			return rebuild("initializing super-root", err)
		}
	}
	if c.nameStore, err = enumerator.OpenStrings(c.paths.names(), s.version); err != nil {
		return rebuild("opening names", err)
	}
	if c.attributes, err = blobstore.Open(c.paths.attributes(), blobstore.Options{
		Version: s.version,
		Compact: s.storage.SmallAttributeTable,
	}); err != nil {
		return rebuild("opening attributes", err)
	}
	if c.contents, err = contentstore.Open(c.paths.contents(), c.paths.contentHashes(), contentstore.Options{
		Version:     s.version,
		Share:       s.storage.ShareContents,
		Compression: s.compression,
	}); err != nil {
		return rebuild("opening contents", err)
	}
	if c.registry, err = attribute.OpenRegistry(c.paths.registry()); err != nil {
		return rebuild("opening attribute registry", err)
	}

	if err := c.checkVersions(); err != nil {
		return err
	}
	status, err := c.table.Status()
	if err != nil {
		return rebuild("reading connection status", err)
	}
	if status != records.StatusSafelyClosed {
		return rebuild(fmt.Sprintf("store was not closed safely (status %s)", status), nil)
	}

	if c.free, err = records.ScanFreeList(c.table); err != nil {
		return rebuild("scanning free records", err)
	}
	if err := c.checkReferences(); err != nil {
		return err
	}
	c.names = names.New(c.nameStore, s.nameCache)
	if c.childrenID, err = c.registry.ID(childrenAttribute); err != nil {
		return rebuild("registering children attribute", err)
	}
	if c.rootsID, err = c.registry.ID(rootsAttribute); err != nil {
		return rebuild("registering roots attribute", err)
	}
	for _, descriptor := range []attribute.Descriptor{symlinkAttribute, legacySymlinkAttribute} {
		if _, err := c.registry.ID(descriptor); err != nil {
			return rebuild("registering "+descriptor.Key, err)
		}
	}
	return nil
}

// checkReferences rejects a record table whose name, attribute or
// content references point past the end of their storage, which is
// what a storage replaced behind the store's back looks like.
func (c *connection) checkReferences() error {
	largestName := c.nameStore.LargestID()
	attributeCount := c.attributes.Len()
	contentCount := c.contents.Len()
	count := c.table.Len()
	for id := records.RootID; id < count; id++ {
		record, err := c.table.Read(id)
		if err != nil {
			return rebuild("reading records", err)
		}
		switch {
		case record.Name < 0 || record.Name > largestName:
			return rebuild(fmt.Sprintf("record %d names %d, names hold %d", id, record.Name, largestName), nil)
		case record.AttributeRef < 0 || record.AttributeRef >= attributeCount:
			return rebuild(fmt.Sprintf("record %d attributes at %d, table holds %d", id, record.AttributeRef, attributeCount), nil)
		case record.ContentRef < 0 || record.ContentRef >= contentCount:
			return rebuild(fmt.Sprintf("record %d content at %d, table holds %d", id, record.ContentRef, contentCount), nil)
		}
	}
	return nil
}

func (c *connection) checkVersions() error {
	want := c.settings.version
	check := func(name string, version int32, err error) error {
		if err != nil {
			return rebuild("reading "+name+" version", err)
		}
		if version != want {
			return rebuild(fmt.Sprintf("%s version %d, want %d", name, version, want), nil)
		}
		return nil
	}

	version, err := c.table.Version()
	if err := check("records", version, err); err != nil {
		return err
	}
	version, err = c.nameStore.Version()
	if err := check("names", version, err); err != nil {
		return err
	}
	version, err = c.attributes.Version()
	if err := check("attributes", version, err); err != nil {
		return err
	}
	versions, err := c.contents.Versions()
	if err != nil {
		return rebuild("reading contents version", err)
	}
	for _, version := range versions {
		if err := check("contents", version, nil); err != nil {
			return err
		}
	}
	return nil
}

// markDirty stamps StatusConnected on the first mutation after a
// force, so a crash before the next force is detected on open.
func (c *connection) markDirty() error {
	if c.headerDirty {
		return nil
	}
	if err := c.table.SetStatus(records.StatusConnected); err != nil {
		return err
	}
	c.headerDirty = true
	return nil
}

func (c *connection) isDirty() bool {
	return c.headerDirty ||
		c.table.IsDirty() ||
		c.nameStore.IsDirty() ||
		c.attributes.IsDirty() ||
		c.contents.IsDirty()
}

// force persists every storage, then stamps the header and persists
// the record table last, so a SafelyClosed status on disk always
// describes forced storages. A corrupted store is flushed best effort:
// every storage is attempted and the failures are joined.
func (c *connection) force(corrupted bool) error {
	storages := []struct {
		name  string
		force func() error
	}{
		{"names", c.nameStore.Force},
		{"attributes", c.attributes.Force},
		{"contents", c.contents.Force},
	}
	var errs []error
	for _, storage := range storages {
		if err := storage.force(); err != nil {
			if !corrupted {
				return fmt.Errorf("forcing %s: %w", storage.name, err)
			}
			errs = append(errs, fmt.Errorf("forcing %s: %w", storage.name, err))
		}
	}
	status := records.StatusSafelyClosed
	if corrupted {
		status = records.StatusCorrupted
	}
	if err := c.table.SetStatus(status); err != nil {
		return errors.Join(append(errs, err)...)
	}
	if err := c.table.Force(); err != nil {
		return errors.Join(append(errs, fmt.Errorf("forcing records: %w", err))...)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	c.headerDirty = false
	return nil
}

// close releases every open file. It does not force.
func (c *connection) close() error {
	var errs []error
	if c.contents != nil {
		errs = append(errs, c.contents.Close())
	}
	if c.attributes != nil {
		errs = append(errs, c.attributes.Close())
	}
	if c.nameStore != nil {
		errs = append(errs, c.nameStore.Close())
	}
	if c.table != nil {
		errs = append(errs, c.table.Close())
	}
	return errors.Join(errs...)
}

func firstLine(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	return line
}
