// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package names

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/vfsstore/lib/enumerator"
	"github.com/orca-zhang/ecache"
	"golang.org/x/sync/singleflight"
)

// ErrInvalidName is returned when a name is not a single path segment.
var ErrInvalidName = errors.New("names: name contains a path separator")

// Default cache geometry.
const (
	DefaultDirectSlots       = 1024
	DefaultShards            = 16
	DefaultShardCapacity     = 512
	DefaultProtectedCapacity = 256
)

// Options configures the cache layers in front of the enumerator.
type Options struct {
	// DirectSlots is the size of the direct-mapped array. Rounded up
	// to a power of two. Zero uses DefaultDirectSlots.
	DirectSlots int

	// Shards is the number of independently locked LRU shards. Zero
	// uses DefaultShards.
	Shards int

	// ShardCapacity is the probationary segment size per shard. Zero
	// uses DefaultShardCapacity.
	ShardCapacity int

	// ProtectedCapacity is the protected segment size per shard: ids
	// hit a second time while probationary are promoted into it. Zero
	// uses DefaultProtectedCapacity.
	ProtectedCapacity int

	// TTL bounds how long an entry may sit in the LRU. Names never
	// change, so zero (no expiry) is the usual setting.
	TTL time.Duration
}

// Stats counts where ValueOf lookups were answered.
type Stats struct {
	DirectHits int64
	CacheHits  int64
	DiskLoads  int64
}

// Table is the name table: a persistent string enumerator behind a
// layered cache. Lookups by id try a direct-mapped array indexed by
// id modulo its size, then a sharded two-segment LRU keyed by the
// decimal id, then disk. Concurrent misses for the same id share a
// single disk read. Enumerating a name populates both cache layers.
//
// Table is safe for concurrent use.
type Table struct {
	enumerator *enumerator.Strings

	direct []atomic.Pointer[entry]
	mask   int32
	lru    *ecache.Cache
	loads  singleflight.Group

	directHits atomic.Int64
	cacheHits  atomic.Int64
	diskLoads  atomic.Int64
}

type entry struct {
	id   int32
	name string
}

// New wraps an open enumerator with the cache layers.
func New(persistent *enumerator.Strings, options Options) *Table {
	if options.DirectSlots <= 0 {
		options.DirectSlots = DefaultDirectSlots
	}
	if options.Shards <= 0 {
		options.Shards = DefaultShards
	}
	if options.ShardCapacity <= 0 {
		options.ShardCapacity = DefaultShardCapacity
	}
	if options.ProtectedCapacity <= 0 {
		options.ProtectedCapacity = DefaultProtectedCapacity
	}

	slots := 1
	for slots < options.DirectSlots {
		slots <<= 1
	}

	var expiration []time.Duration
	if options.TTL > 0 {
		expiration = append(expiration, options.TTL)
	}
	lru := ecache.NewLRUCache(clampUint16(options.Shards), clampUint16(options.ShardCapacity), expiration...).
		LRU2(clampUint16(options.ProtectedCapacity))

	return &Table{
		enumerator: persistent,
		direct:     make([]atomic.Pointer[entry], slots),
		mask:       int32(slots - 1),
		lru:        lru,
	}
}

// ValidateName reports whether name is a single path segment.
func ValidateName(name string) error {
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return nil
}

// Enumerate interns a path segment and returns its id. The empty name
// is id 0 and is never stored.
func (t *Table) Enumerate(name string) (int32, error) {
	if err := ValidateName(name); err != nil {
		return 0, err
	}
	return t.enumerate(name)
}

// EnumerateRootURL interns a file system root URL. Root URLs contain
// separators by nature, so they skip segment validation.
func (t *Table) EnumerateRootURL(url string) (int32, error) {
	return t.enumerate(url)
}

func (t *Table) enumerate(name string) (int32, error) {
	if name == "" {
		return 0, nil
	}
	id, err := t.enumerator.Enumerate(name)
	if err != nil {
		return 0, fmt.Errorf("enumerating name: %w", err)
	}
	t.remember(id, name)
	return id, nil
}

// TryEnumerate returns the id of name without interning it. Zero
// means the name was never stored.
func (t *Table) TryEnumerate(name string) (int32, error) {
	if name == "" {
		return 0, nil
	}
	id, err := t.enumerator.TryEnumerate(name)
	if err != nil {
		return 0, fmt.Errorf("looking up name: %w", err)
	}
	return id, nil
}

// ValueOf returns the name with the given id. Id 0 is the empty name.
func (t *Table) ValueOf(id int32) (string, error) {
	if id == 0 {
		return "", nil
	}
	if id < 0 {
		return "", fmt.Errorf("name %d: %w", id, enumerator.ErrNotFound)
	}

	if cached := t.direct[id&t.mask].Load(); cached != nil && cached.id == id {
		t.directHits.Add(1)
		return cached.name, nil
	}

	key := strconv.FormatInt(int64(id), 10)
	if value, ok := t.lru.Get(key); ok {
		t.cacheHits.Add(1)
		name := value.(string)
		t.direct[id&t.mask].Store(&entry{id: id, name: name})
		return name, nil
	}

	value, err, _ := t.loads.Do(key, func() (any, error) {
		t.diskLoads.Add(1)
		name, err := t.enumerator.ValueOf(id)
		if err != nil {
			return nil, err
		}
		t.remember(id, name)
		return name, nil
	})
	if err != nil {
		return "", fmt.Errorf("loading name %d: %w", id, err)
	}
	return value.(string), nil
}

// LargestID returns the most recently assigned name id.
func (t *Table) LargestID() int32 { return t.enumerator.LargestID() }

// Stats returns lookup counters since the table was created.
func (t *Table) Stats() Stats {
	return Stats{
		DirectHits: t.directHits.Load(),
		CacheHits:  t.cacheHits.Load(),
		DiskLoads:  t.diskLoads.Load(),
	}
}

func (t *Table) remember(id int32, name string) {
	t.direct[id&t.mask].Store(&entry{id: id, name: name})
	t.lru.Put(strconv.FormatInt(int64(id), 10), name)
}

func clampUint16(value int) uint16 {
	if value > 0xffff {
		return 0xffff
	}
	return uint16(value)
}
