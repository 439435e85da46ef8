// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsrecords

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/bureau-foundation/vfsstore/lib/attribute"
	"github.com/bureau-foundation/vfsstore/lib/records"
)

// reservedPrefix marks attribute keys owned by the store.
const reservedPrefix = "vfs."

var (
	childrenAttribute      = attribute.Raw("vfs.children")
	rootsAttribute         = attribute.Raw("vfs.roots")
	symlinkAttribute       = attribute.New("vfs.symlink", 2, false)
	legacySymlinkAttribute = attribute.New("vfs.symlink", 1, false)
)

func checkDescriptor(descriptor attribute.Descriptor) error {
	if descriptor.Key == "" {
		return invariantf("%v", attribute.ErrInvalidKey)
	}
	if strings.HasPrefix(descriptor.Key, reservedPrefix) {
		return invariantf("attribute key %q is reserved", descriptor.Key)
	}
	return nil
}

// ReadAttribute returns the payload stored for descriptor in id. The
// boolean is false when the attribute is absent, including when it was
// written under a different descriptor version.
func (s *Store) ReadAttribute(id int32, descriptor attribute.Descriptor) ([]byte, bool, error) {
	var payload []byte
	var found bool
	err := s.read("read attribute", func(c *connection) error {
		if err := checkDescriptor(descriptor); err != nil {
			return err
		}
		if err := c.checkID(id); err != nil {
			return err
		}
		var err error
		payload, found, err = c.readAttribute(id, descriptor)
		return err
	})
	return payload, found, err
}

// WriteAttributeBytes replaces the payload stored for descriptor in id.
// An empty payload is stored as present and empty.
func (s *Store) WriteAttributeBytes(id int32, descriptor attribute.Descriptor, payload []byte) error {
	return s.write("write attribute", func(c *connection) error {
		if err := checkDescriptor(descriptor); err != nil {
			return err
		}
		if err := c.checkID(id); err != nil {
			return err
		}
		return c.writeAttribute(id, descriptor, payload)
	})
}

// WriteAttribute returns a writer whose Close stores everything
// written as the payload for descriptor in id.
func (s *Store) WriteAttribute(id int32, descriptor attribute.Descriptor) *AttributeWriter {
	return &AttributeWriter{store: s, id: id, descriptor: descriptor}
}

// AttributeWriter buffers an attribute payload until Close.
type AttributeWriter struct {
	store      *Store
	id         int32
	descriptor attribute.Descriptor
	buffer     bytes.Buffer
	closed     bool
}

func (w *AttributeWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("attribute writer: %w", ErrClosed)
	}
	return w.buffer.Write(p)
}

// Close commits the payload. Closing twice is a no-op.
func (w *AttributeWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.store.WriteAttributeBytes(w.id, w.descriptor, w.buffer.Bytes())
}

// loadChain decodes the attribute directory of id. A record without a
// directory yields an empty chain and reference 0.
func (c *connection) loadChain(id int32) (attribute.Chain, int32, error) {
	directory, err := c.table.Int32(id, records.AttributeRefField)
	if err != nil {
		return attribute.Chain{}, 0, err
	}
	if directory == 0 {
		return attribute.Chain{FileID: id}, 0, nil
	}
	data, err := c.attributes.Read(directory)
	if err != nil {
		return attribute.Chain{}, 0, fmt.Errorf("attribute directory of record %d: %w", id, err)
	}
	chain, err := attribute.DecodeChain(data, c.settings.layout)
	if err != nil {
		return attribute.Chain{}, 0, fmt.Errorf("attribute directory of record %d: %w", id, err)
	}
	if !c.settings.layout.BulkHeaders {
		chain.FileID = id
	} else if chain.FileID != id {
		return attribute.Chain{}, 0, corruptionf("attribute directory %d of record %d belongs to record %d",
			directory, id, chain.FileID)
	}
	return chain, directory, nil
}

func (c *connection) readAttribute(id int32, descriptor attribute.Descriptor) ([]byte, bool, error) {
	attributeID, registered := c.registry.Lookup(descriptor.Key)
	if !registered {
		return nil, false, nil
	}
	chain, _, err := c.loadChain(id)
	if err != nil {
		return nil, false, err
	}
	index := chain.Find(attributeID)
	if index < 0 {
		return nil, false, nil
	}
	entry := chain.Entries[index]
	stored := entry.Payload
	if !entry.Inline {
		if stored, err = c.attributes.Read(entry.Blob); err != nil {
			return nil, false, fmt.Errorf("attribute %s of record %d: %w", descriptor.Key, id, err)
		}
		if c.settings.layout.BulkHeaders {
			if stored, err = attribute.StripBlobHeader(stored, attributeID, id); err != nil {
				return nil, false, fmt.Errorf("attribute %s of record %d: %w", descriptor.Key, id, err)
			}
		}
	}
	payload, ok := descriptor.Decode(stored)
	if !ok {
		return nil, false, nil
	}
	return payload, true, nil
}

// writeAttribute rewrites one entry of the directory of id. An inline
// entry of unchanged size is patched in place; anything else writes
// the directory anew. Payloads too large to inline go to their own
// blob, reusing the handle the entry already had.
func (c *connection) writeAttribute(id int32, descriptor attribute.Descriptor, payload []byte) error {
	attributeID, err := c.registry.ID(descriptor)
	if err != nil {
		return err
	}
	stored := descriptor.Encode(payload)
	chain, directory, err := c.loadChain(id)
	if err != nil {
		return err
	}

	var existing attribute.Entry
	index := chain.Find(attributeID)
	if index >= 0 {
		existing = chain.Entries[index]
	}

	if c.settings.layout.Inline && len(stored) < attribute.MaxInlineSize {
		if index >= 0 && existing.Inline && len(existing.Payload) == len(stored) {
			if err := c.attributes.Replace(directory, existing.PayloadOffset(), stored); err != nil {
				return err
			}
			return c.bump(id)
		}
		if index >= 0 && !existing.Inline {
			if err := c.attributes.Delete(existing.Blob); err != nil {
				return err
			}
		}
		chain.Set(attribute.Entry{AttributeID: attributeID, Inline: true, Payload: stored})
		return c.writeDirectory(id, directory, chain)
	}

	data := stored
	if c.settings.layout.BulkHeaders {
		data = append(attribute.AppendBlobHeader(nil, attributeID, id), stored...)
	}
	if index >= 0 && !existing.Inline {
		if err := c.attributes.Write(existing.Blob, data, descriptor.FixedSize); err != nil {
			return err
		}
		return c.bump(id)
	}
	if index >= 0 {
		chain.Remove(attributeID)
	}
	blob, err := c.attributes.Create()
	if err != nil {
		return err
	}
	if err := c.attributes.Write(blob, data, descriptor.FixedSize); err != nil {
		return err
	}
	chain.Set(attribute.Entry{AttributeID: attributeID, Blob: blob})
	return c.writeDirectory(id, directory, chain)
}

// writeDirectory stores chain as the directory of id, allocating a
// directory blob when the record has none.
func (c *connection) writeDirectory(id, directory int32, chain attribute.Chain) error {
	chain.FileID = id
	encoded := chain.Encode(c.settings.layout)
	if directory == 0 {
		var err error
		if directory, err = c.attributes.Create(); err != nil {
			return err
		}
		if err := c.table.PutInt32(id, records.AttributeRefField, directory); err != nil {
			return err
		}
	}
	if err := c.attributes.Write(directory, encoded, false); err != nil {
		return err
	}
	return c.bump(id)
}

// deleteAttributes deletes the directory blob of id and every blob it
// refers to.
func (c *connection) deleteAttributes(id, directory int32) error {
	data, err := c.attributes.Read(directory)
	if err != nil {
		return fmt.Errorf("attribute directory of record %d: %w", id, err)
	}
	chain, err := attribute.DecodeChain(data, c.settings.layout)
	if err != nil {
		return fmt.Errorf("attribute directory of record %d: %w", id, err)
	}
	for _, entry := range chain.Entries {
		if entry.Inline {
			continue
		}
		if err := c.attributes.Delete(entry.Blob); err != nil {
			return fmt.Errorf("attribute blob %d of record %d: %w", entry.Blob, id, err)
		}
	}
	return c.attributes.Delete(directory)
}
