// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package attribute

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"sync"

	"github.com/bureau-foundation/vfsstore/lib/codec"
)

// registryFile is the on-disk form of a Registry. Keys[i] has id i+1.
type registryFile struct {
	Keys []string `cbor:"keys"`
}

// Registry maps attribute keys to stable ids. The mapping is persisted
// to a CBOR file that is rewritten atomically whenever a new key is
// registered; ids are never reassigned.
//
// Registry is safe for concurrent use.
type Registry struct {
	path string

	mu   sync.RWMutex
	ids  map[string]int32
	keys []string
}

// OpenRegistry loads the registry at path, or starts an empty one if
// the file does not exist yet. The file is not created until the first
// key is registered.
func OpenRegistry(path string) (*Registry, error) {
	registry := &Registry{path: path, ids: make(map[string]int32)}

	var stored registryFile
	err := codec.ReadFile(path, &stored)
	if errors.Is(err, fs.ErrNotExist) {
		return registry, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading attribute registry: %w", err)
	}
	for i, key := range stored.Keys {
		if key == "" {
			return nil, fmt.Errorf("attribute registry %s: entry %d: %w", path, i+1, ErrInvalidKey)
		}
		if _, exists := registry.ids[key]; exists {
			return nil, fmt.Errorf("attribute registry %s: duplicate key %q", path, key)
		}
		registry.ids[key] = int32(i + 1)
	}
	registry.keys = stored.Keys
	return registry, nil
}

// ID returns the id of the descriptor's key, registering it on first
// use.
func (r *Registry) ID(descriptor Descriptor) (int32, error) {
	if descriptor.Key == "" {
		return 0, ErrInvalidKey
	}

	r.mu.RLock()
	id, ok := r.ids[descriptor.Key]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.ids[descriptor.Key]; ok {
		return id, nil
	}
	keys := append(slices.Clone(r.keys), descriptor.Key)
	if err := codec.WriteFile(r.path, registryFile{Keys: keys}); err != nil {
		return 0, fmt.Errorf("registering attribute %s: %w", descriptor, err)
	}
	r.keys = keys
	id = int32(len(keys))
	r.ids[descriptor.Key] = id
	return id, nil
}

// Lookup returns the id of key without registering it.
func (r *Registry) Lookup(key string) (int32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[key]
	return id, ok
}

// Key returns the key registered under id.
func (r *Registry) Key(id int32) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id <= 0 || int(id) > len(r.keys) {
		return "", false
	}
	return r.keys[id-1], true
}

// Len returns the number of registered keys.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}

// Path returns the registry file path.
func (r *Registry) Path() string { return r.path }
