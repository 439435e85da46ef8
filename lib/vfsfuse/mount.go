// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vfsfuse

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"syscall"
	"time"

	"github.com/bureau-foundation/vfsstore/lib/fsrecords"
	"github.com/bureau-foundation/vfsstore/lib/records"
	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the filesystem is mounted.
	// It is created if it does not exist.
	Mountpoint string

	// Store is the record store to expose.
	Store *fsrecords.Store

	// Root is the record shown at the mountpoint. Zero uses the
	// super-root.
	Root int32

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, errors are logged
	// to stderr.
	Logger *slog.Logger
}

// Mount mounts the store at the configured mountpoint. The caller must
// call Unmount on the returned Server when done.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if options.Root == 0 {
		options.Root = records.RootID
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelError,
		}))
	}

	record, err := options.Store.Record(options.Root)
	if err != nil {
		return nil, fmt.Errorf("reading mount root %d: %w", options.Root, err)
	}
	if options.Root != records.RootID && !record.Flags.Has(records.FlagDirectory) {
		return nil, fmt.Errorf("mount root %d is not a directory", options.Root)
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	root := &directoryNode{options: &options, id: options.Root}
	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		MountOptions: fuse.MountOptions{
			FsName:     "vfsstore",
			Name:       "vfsstore",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("record store mounted",
		"mountpoint", options.Mountpoint,
		"store", options.Store.Directory(),
		"root", options.Root,
	)
	return server, nil
}

// entry is one name under a directory node.
type entry struct {
	name string
	id   int32
}

// rootName is the single path segment a file system root is listed
// under at the super-root.
func rootName(rootURL string) string {
	return url.PathEscape(rootURL)
}

// entries lists the names under id. The super-root lists the root
// table as well as any children stored for it. Unnamed children cannot
// be addressed and are skipped.
func entries(store *fsrecords.Store, id int32) ([]entry, error) {
	var listing []entry
	seen := make(map[string]bool)
	add := func(name string, child int32) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		listing = append(listing, entry{name: name, id: child})
	}

	if id == records.RootID {
		roots, err := store.ListRoots()
		if err != nil {
			return nil, err
		}
		for _, root := range roots {
			add(rootName(root.URL), root.ID)
		}
	}
	children, err := store.ListAll(id)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		deleted, err := store.IsDeleted(child.ID)
		if err != nil {
			return nil, err
		}
		if !deleted {
			add(child.Name, child.ID)
		}
	}
	return listing, nil
}

// fileMode maps record flags to a file type and read-only permissions.
func fileMode(flags records.Flags) uint32 {
	switch {
	case flags.Has(records.FlagDirectory):
		return syscall.S_IFDIR | 0o555
	case flags.Has(records.FlagSymlink):
		return syscall.S_IFLNK | 0o777
	default:
		return syscall.S_IFREG | 0o444
	}
}

// fillAttr describes id in out.
func fillAttr(store *fsrecords.Store, id int32, out *fuse.Attr) error {
	record, err := store.Record(id)
	if err != nil {
		return err
	}
	out.Ino = uint64(id)
	out.Mode = fileMode(record.Flags)
	if id == records.RootID {
		out.Mode = syscall.S_IFDIR | 0o555
	}
	size, err := fileSize(store, id, record)
	if err != nil {
		return err
	}
	out.Size = uint64(size)
	out.Blocks = (out.Size + 511) / 512
	out.Blksize = 4096
	if record.Timestamp > 0 {
		modified := time.UnixMilli(record.Timestamp)
		out.SetTimes(nil, &modified, nil)
	}
	return nil
}

// fileSize prefers the stored content over the recorded length, which
// may describe a file whose content was never loaded.
func fileSize(store *fsrecords.Store, id int32, record records.Record) (int64, error) {
	switch {
	case record.Flags.Has(records.FlagDirectory) || id == records.RootID:
		return 0, nil
	case record.Flags.Has(records.FlagSymlink):
		target, _, err := store.SymlinkTarget(id)
		return int64(len(target)), err
	case record.ContentRef != 0:
		data, err := store.ReadContentBytes(id)
		return int64(len(data)), err
	case record.Length > 0:
		return record.Length, nil
	default:
		return 0, nil
	}
}

// errno logs err and converts it for the kernel.
func errno(logger *slog.Logger, operation string, id int32, err error) syscall.Errno {
	if errors.Is(err, fsrecords.ErrNoContent) {
		return syscall.ENODATA
	}
	logger.Error("store operation failed", "operation", operation, "record", id, "error", err)
	return syscall.EIO
}
