// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsrecords

import (
	"slices"
	"strings"

	"github.com/bureau-foundation/vfsstore/lib/records"
)

// MaxParentDepth bounds parent walks. No legitimate tree is deeper.
const MaxParentDepth = 4096

// Ancestors returns id followed by its parent, grandparent and so on
// up to a record with no parent. A cycle or a chain deeper than
// MaxParentDepth poisons the store.
func (s *Store) Ancestors(id int32) ([]int32, error) {
	return readValue(s, "ancestors", func(c *connection) ([]int32, error) {
		if err := c.checkID(id); err != nil {
			return nil, err
		}
		return c.ancestors(id)
	})
}

func (c *connection) ancestors(id int32) ([]int32, error) {
	chain := []int32{id}
	visited := map[int32]bool{id: true}
	for current := id; ; {
		parent, err := c.parent(current)
		if err != nil {
			return nil, err
		}
		if parent == 0 {
			return chain, nil
		}
		if parent < records.RootID || parent >= c.table.Len() {
			return nil, corruptionf("record %d has parent %d outside the table", current, parent)
		}
		if visited[parent] {
			c.settings.logger.Error("parent cycle", "record", id, "repeated", parent)
			return nil, corruptionf("parent chain of record %d revisits record %d", id, parent)
		}
		if len(chain) >= MaxParentDepth {
			return nil, corruptionf("parent chain of record %d deeper than %d", id, MaxParentDepth)
		}
		visited[parent] = true
		chain = append(chain, parent)
		current = parent
	}
}

// Path returns the names from the topmost ancestor of id down to id,
// joined by '/'. A root record contributes its URL.
func (s *Store) Path(id int32) (string, error) {
	return readValue(s, "path", func(c *connection) (string, error) {
		if err := c.checkID(id); err != nil {
			return "", err
		}
		chain, err := c.ancestors(id)
		if err != nil {
			return "", err
		}
		slices.Reverse(chain)

		var builder strings.Builder
		for i, ancestor := range chain {
			name, err := c.name(ancestor)
			if err != nil {
				return "", err
			}
			if i > 0 && !strings.HasSuffix(builder.String(), "/") {
				builder.WriteByte('/')
			}
			builder.WriteString(name)
		}
		return builder.String(), nil
	})
}
