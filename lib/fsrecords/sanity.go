// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsrecords

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/vfsstore/lib/attribute"
	"github.com/bureau-foundation/vfsstore/lib/records"
)

// SanityReport is the result of a full consistency walk.
type SanityReport struct {
	Records     int32
	LiveRecords int32
	Problems    []error
}

// Err joins every problem found, nil for a consistent store.
func (r SanityReport) Err() error { return errors.Join(r.Problems...) }

func (r *SanityReport) addf(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Errorf(format, args...))
}

// CheckSanity walks every record and the blobs it references. Problems
// are collected in the report rather than poisoning the store; the
// error is reserved for failures to read the store at all.
func (s *Store) CheckSanity() (SanityReport, error) {
	return readValue(s, "check sanity", func(c *connection) (SanityReport, error) {
		return c.checkSanity()
	})
}

type sanityWalk struct {
	conn   *connection
	report *SanityReport

	attributeOwners map[int32]int32
	contentChecked  map[int32]bool
	acyclic         map[int32]bool
}

func (c *connection) checkSanity() (SanityReport, error) {
	report := SanityReport{Records: c.table.Len() - 1}
	walk := &sanityWalk{
		conn:            c,
		report:          &report,
		attributeOwners: make(map[int32]int32),
		contentChecked:  make(map[int32]bool),
		acyclic:         map[int32]bool{records.RootID: true},
	}
	for id := records.RootID; id < c.table.Len(); id++ {
		if err := walk.record(id); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (w *sanityWalk) record(id int32) error {
	c := w.conn
	record, err := c.table.Read(id)
	if err != nil {
		return err
	}

	if !record.Flags.Valid() {
		w.report.addf("record %d: invalid flags %s", id, record.Flags)
	}
	free := record.Flags.Has(records.FlagFree)
	listed := c.free.Contains(id) || c.free.IsPending(id)
	switch {
	case free && !listed:
		w.report.addf("record %d: free but not on the free list", id)
	case !free && c.free.Contains(id):
		w.report.addf("record %d: live but on the free list", id)
	}
	if id == records.RootID && free {
		w.report.addf("super-root is marked free")
	}

	// Lazily cleaned slots still own their blobs until reuse.
	w.attributes(id, record.AttributeRef)
	w.content(id, record.ContentRef)
	if free {
		return nil
	}
	w.report.LiveRecords++

	if record.Length < -1 {
		w.report.addf("record %d: length %d", id, record.Length)
	}
	if record.Name < 0 || record.Name > c.names.LargestID() {
		w.report.addf("record %d: name id %d out of range", id, record.Name)
	}
	w.parent(id, record)
	if record.Flags.Has(records.FlagDirectory) {
		w.children(id)
	}
	return nil
}

func (w *sanityWalk) parent(id int32, record records.Record) {
	c := w.conn
	switch {
	case record.Parent == 0:
		return
	case record.Parent == id:
		w.report.addf("record %d: is its own parent", id)
		return
	case record.Parent < records.RootID || record.Parent >= c.table.Len():
		w.report.addf("record %d: parent %d out of range", id, record.Parent)
		return
	}

	flags, err := c.table.Flags(record.Parent)
	if err != nil {
		w.report.addf("record %d: reading parent %d: %v", id, record.Parent, err)
		return
	}
	if flags.Has(records.FlagFree) {
		w.report.addf("record %d: parent %d is free", id, record.Parent)
	}
	if !flags.Has(records.FlagDirectory) {
		w.report.addf("record %d: parent %d is not a directory", id, record.Parent)
	}
	if record.Name == 0 {
		w.report.addf("record %d: has a parent but no name", id)
	}

	if w.acyclic[id] {
		return
	}
	chain, err := c.ancestors(id)
	if err != nil {
		w.report.addf("record %d: %v", id, err)
		return
	}
	for _, ancestor := range chain {
		w.acyclic[ancestor] = true
	}
}

func (w *sanityWalk) children(id int32) {
	c := w.conn
	children, err := c.children(id)
	if err != nil {
		w.report.addf("record %d: children: %v", id, err)
		return
	}
	for _, child := range children {
		if child >= c.table.Len() {
			w.report.addf("record %d: child %d past the end of the table", id, child)
			continue
		}
		record, err := c.table.Read(child)
		if err != nil {
			w.report.addf("record %d: child %d: %v", id, child, err)
			continue
		}
		if record.Flags.Has(records.FlagFree) {
			w.report.addf("record %d: child %d is free", id, child)
		} else if record.Parent != id {
			w.report.addf("record %d: child %d names parent %d", id, child, record.Parent)
		}
	}
}

func (w *sanityWalk) attributes(id, directory int32) {
	if directory == 0 {
		return
	}
	c := w.conn
	if !w.claimAttributeBlob(id, directory) {
		return
	}
	if err := c.attributes.Check(directory); err != nil {
		w.report.addf("record %d: attribute directory: %v", id, err)
		return
	}
	data, err := c.attributes.Read(directory)
	if err != nil {
		w.report.addf("record %d: attribute directory: %v", id, err)
		return
	}
	chain, err := attribute.DecodeChain(data, c.settings.layout)
	if err != nil {
		w.report.addf("record %d: attribute directory: %v", id, err)
		return
	}
	if c.settings.layout.BulkHeaders && chain.FileID != id {
		w.report.addf("record %d: attribute directory belongs to record %d", id, chain.FileID)
	}
	for _, entry := range chain.Entries {
		if _, known := c.registry.Key(entry.AttributeID); !known {
			w.report.addf("record %d: unregistered attribute id %d", id, entry.AttributeID)
		}
		if entry.Inline || !w.claimAttributeBlob(id, entry.Blob) {
			continue
		}
		if err := c.attributes.Check(entry.Blob); err != nil {
			w.report.addf("record %d: attribute blob %d: %v", id, entry.Blob, err)
			continue
		}
		if !c.settings.layout.BulkHeaders {
			continue
		}
		blob, err := c.attributes.Read(entry.Blob)
		if err == nil {
			_, err = attribute.StripBlobHeader(blob, entry.AttributeID, id)
		}
		if err != nil {
			w.report.addf("record %d: attribute blob %d: %v", id, entry.Blob, err)
		}
	}
}

// claimAttributeBlob records id as the owner of blob and reports
// whether it was unclaimed.
func (w *sanityWalk) claimAttributeBlob(id, blob int32) bool {
	if owner, claimed := w.attributeOwners[blob]; claimed {
		w.report.addf("record %d: attribute blob %d already used by record %d", id, blob, owner)
		return false
	}
	w.attributeOwners[blob] = id
	return true
}

func (w *sanityWalk) content(id, handle int32) {
	if handle == 0 {
		return
	}
	c := w.conn
	if !c.contents.Exists(handle) {
		w.report.addf("record %d: content blob %d does not exist", id, handle)
		return
	}
	if w.contentChecked[handle] {
		return
	}
	w.contentChecked[handle] = true
	if err := c.contents.Check(handle); err != nil {
		w.report.addf("record %d: content blob %d: %v", id, handle, err)
	}
}
