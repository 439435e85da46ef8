// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsrecords

import (
	"github.com/bureau-foundation/vfsstore/lib/contentstore"
	"github.com/bureau-foundation/vfsstore/lib/names"
)

// Stats is a snapshot of store counters.
type Stats struct {
	State State

	// Records counts allocated slots excluding the header, free or not.
	Records            int32
	FreeRecords        int
	PendingFreeRecords int

	GlobalModCount int32
	LocalModCount  int64

	Names     int32
	NameCache names.Stats

	AttributeKeys  int
	AttributeBlobs int32
	ContentBlobs   int32
	Content        contentstore.Stats

	// Flushes counts forces since open, explicit and background.
	Flushes int64
}

// Stats returns current counters.
func (s *Store) Stats() (Stats, error) {
	return readValue(s, "stats", func(c *connection) (Stats, error) {
		global, err := c.table.GlobalModCount()
		if err != nil {
			return Stats{}, err
		}
		return Stats{
			State:              s.State(),
			Records:            c.table.Len() - 1,
			FreeRecords:        c.free.Len(),
			PendingFreeRecords: c.free.PendingLen(),
			GlobalModCount:     global,
			LocalModCount:      s.localModCount.Load(),
			Names:              c.names.LargestID(),
			NameCache:          c.names.Stats(),
			AttributeKeys:      c.registry.Len(),
			AttributeBlobs:     c.attributes.Len() - 1,
			ContentBlobs:       c.contents.Len() - 1,
			Content:            c.contents.Stats(),
			Flushes:            s.flushes.Load(),
		}, nil
	})
}
