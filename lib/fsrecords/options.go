// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fsrecords

import (
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/vfsstore/lib/attribute"
	"github.com/bureau-foundation/vfsstore/lib/clock"
	"github.com/bureau-foundation/vfsstore/lib/config"
	"github.com/bureau-foundation/vfsstore/lib/contentstore"
	"github.com/bureau-foundation/vfsstore/lib/names"
)

// Options configures a Store.
type Options struct {
	// Storage holds the storage toggles. The zero value is valid: every
	// toggle off, a 5s flush interval, three initialization attempts.
	Storage config.StorageConfig

	// NameCache sizes the name table caches.
	NameCache names.Options

	// Clock supplies the creation timestamp and drives the background
	// flusher. Nil uses the real clock.
	Clock clock.Clock

	// Logger receives lifecycle and corruption events. Nil logs errors
	// to stderr.
	Logger *slog.Logger

	// Heavy suppresses background flushes while active. Nil never
	// suppresses.
	Heavy HeavyActivity

	// flushHook, when set, is called after every flusher tick with
	// whether the tick forced the store.
	flushHook func(flushed bool)
}

// HeavyActivity reports whether the host application is in the middle
// of an expensive operation during which background flushes should
// wait.
type HeavyActivity interface {
	Active() bool
}

// Latch is a counting HeavyActivity. The zero value is inactive.
type Latch struct {
	count atomic.Int32
}

// Enter marks the start of a heavy operation and returns the function
// that marks its end.
func (l *Latch) Enter() (exit func()) {
	l.count.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			l.count.Add(-1)
		}
	}
}

// Active reports whether any heavy operation is in progress.
func (l *Latch) Active() bool { return l.count.Load() > 0 }

const defaultFlushInterval = 5 * time.Second

// settings is Options resolved into what the connection needs.
type settings struct {
	storage       config.StorageConfig
	nameCache     names.Options
	version       int32
	layout        attribute.Layout
	compression   contentstore.CompressionTag
	flushInterval time.Duration
	attempts      int

	clock     clock.Clock
	logger    *slog.Logger
	heavy     HeavyActivity
	flushHook func(bool)
}

func resolveOptions(options Options) (settings, error) {
	resolved := settings{
		storage:   options.Storage,
		nameCache: options.NameCache,
		version:   options.Storage.FormatVersion(),
		layout: attribute.Layout{
			Inline:      options.Storage.InlineAttributes,
			BulkHeaders: options.Storage.BulkAttributeHeaders,
		},
		flushInterval: defaultFlushInterval,
		attempts:      options.Storage.MaxInitializationAttempts,
		clock:         options.Clock,
		logger:        options.Logger,
		heavy:         options.Heavy,
		flushHook:     options.flushHook,
	}
	if options.Storage.FlushInterval != "" {
		period, err := options.Storage.FlushPeriod()
		if err != nil {
			return settings{}, err
		}
		resolved.flushInterval = period
	}
	if options.Storage.LightweightCompression {
		name := options.Storage.Compression
		if name == "" {
			name = "lz4"
		}
		tag, err := contentstore.ParseCompressionTag(name)
		if err != nil {
			return settings{}, err
		}
		resolved.compression = tag
	}
	if resolved.attempts <= 0 {
		resolved.attempts = 3
	}
	if resolved.clock == nil {
		resolved.clock = clock.Real()
	}
	if resolved.logger == nil {
		resolved.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}
	return resolved, nil
}
