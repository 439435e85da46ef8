// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsrecords

import (
	"bytes"
	"fmt"
	"io"

	"github.com/bureau-foundation/vfsstore/lib/records"
)

// StoreContent replaces the content of id. With shared contents,
// identical bytes stored under several records occupy one blob.
// readOnly content is stored without growth slack.
func (s *Store) StoreContent(id int32, data []byte, readOnly bool) error {
	return s.write("store content", func(c *connection) error {
		if err := c.checkID(id); err != nil {
			return err
		}
		record, err := c.table.Read(id)
		if err != nil {
			return err
		}
		handle, changed, err := c.contents.Put(record.ContentRef, data, readOnly)
		if err != nil {
			return err
		}
		if handle != record.ContentRef {
			if err := c.table.PutInt32(id, records.ContentRefField, handle); err != nil {
				return err
			}
			changed = true
		}
		if record.Flags.Has(records.FlagMustReloadContent) {
			flags := record.Flags &^ records.FlagMustReloadContent
			if err := c.table.PutInt32(id, records.FlagsField, int32(flags)); err != nil {
				return err
			}
			changed = true
		}
		if !changed {
			return nil
		}
		return c.bump(id)
	})
}

// WriteContent returns a writer whose Close stores everything written
// as the content of id.
func (s *Store) WriteContent(id int32, readOnly bool) *ContentWriter {
	return &ContentWriter{store: s, id: id, readOnly: readOnly}
}

// ContentWriter buffers file content until Close.
type ContentWriter struct {
	store    *Store
	id       int32
	readOnly bool
	buffer   bytes.Buffer
	closed   bool
}

func (w *ContentWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fmt.Errorf("content writer: %w", ErrClosed)
	}
	return w.buffer.Write(p)
}

// Close commits the content. Closing twice is a no-op.
func (w *ContentWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.store.StoreContent(w.id, w.buffer.Bytes(), w.readOnly)
}

// ReadContent returns a reader over the content of id. The error wraps
// ErrNoContent when none was stored.
func (s *Store) ReadContent(id int32) (io.Reader, error) {
	data, err := s.ReadContentBytes(id)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

// ReadContentBytes returns the content of id.
func (s *Store) ReadContentBytes(id int32) ([]byte, error) {
	return readValue(s, "read content", func(c *connection) ([]byte, error) {
		if err := c.checkID(id); err != nil {
			return nil, err
		}
		handle, err := c.table.Int32(id, records.ContentRefField)
		if err != nil {
			return nil, err
		}
		if handle == 0 {
			return nil, fmt.Errorf("record %d: %w", id, ErrNoContent)
		}
		return c.contents.Read(handle)
	})
}

// ContentID returns the content handle of id, 0 when it has none.
func (s *Store) ContentID(id int32) (int32, error) {
	return readValue(s, "content id", func(c *connection) (int32, error) {
		if err := c.checkID(id); err != nil {
			return 0, err
		}
		return c.table.Int32(id, records.ContentRefField)
	})
}

// AcquireContent adds a reference to the content of id and returns its
// handle, or 0 without a reference when id has no content. The
// reference is dropped with ReleaseContent.
func (s *Store) AcquireContent(id int32) (int32, error) {
	return writeValue(s, "acquire content", func(c *connection) (int32, error) {
		if err := c.checkID(id); err != nil {
			return 0, err
		}
		handle, err := c.table.Int32(id, records.ContentRefField)
		if err != nil || handle == 0 {
			return 0, err
		}
		if err := c.contents.Acquire(handle); err != nil {
			return 0, err
		}
		return handle, nil
	})
}

// ReleaseContent drops a reference taken by AcquireContent or
// StoreUnlinkedContent.
func (s *Store) ReleaseContent(handle int32) error {
	return s.write("release content", func(c *connection) error {
		if err := c.checkContentHandle(handle); err != nil {
			return err
		}
		count, err := c.contents.RefCount(handle)
		if err != nil {
			return err
		}
		if count <= 0 {
			return invariantf("content blob %d holds no references", handle)
		}
		return c.contents.Release(handle)
	})
}

// StoreUnlinkedContent stores data without attaching it to a record
// and returns a handle holding one reference.
func (s *Store) StoreUnlinkedContent(data []byte) (int32, error) {
	return writeValue(s, "store unlinked content", func(c *connection) (int32, error) {
		handle, _, err := c.contents.Put(0, data, false)
		return handle, err
	})
}

// ReadContentByID returns the content stored under handle.
func (s *Store) ReadContentByID(handle int32) ([]byte, error) {
	return readValue(s, "read content by id", func(c *connection) ([]byte, error) {
		if err := c.checkContentHandle(handle); err != nil {
			return nil, err
		}
		return c.contents.Read(handle)
	})
}

// ContentRefCount returns the number of references held on handle.
func (s *Store) ContentRefCount(handle int32) (int32, error) {
	return readValue(s, "content ref count", func(c *connection) (int32, error) {
		if err := c.checkContentHandle(handle); err != nil {
			return 0, err
		}
		return c.contents.RefCount(handle)
	})
}

func (c *connection) checkContentHandle(handle int32) error {
	if handle <= 0 || !c.contents.Exists(handle) {
		return invariantf("no content blob %d", handle)
	}
	return nil
}
