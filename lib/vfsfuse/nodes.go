// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vfsfuse

import (
	"context"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// directoryNode lists the children of a directory record.
type directoryNode struct {
	gofuse.Inode
	options *Options
	id      int32
}

var _ gofuse.InodeEmbedder = (*directoryNode)(nil)
var _ gofuse.NodeGetattrer = (*directoryNode)(nil)
var _ gofuse.NodeLookuper = (*directoryNode)(nil)
var _ gofuse.NodeReaddirer = (*directoryNode)(nil)

func (d *directoryNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if err := fillAttr(d.options.Store, d.id, &out.Attr); err != nil {
		return errno(d.options.Logger, "getattr", d.id, err)
	}
	return 0
}

func (d *directoryNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	listing, err := entries(d.options.Store, d.id)
	if err != nil {
		return nil, errno(d.options.Logger, "lookup", d.id, err)
	}
	for _, candidate := range listing {
		if candidate.name != name {
			continue
		}
		if err := fillAttr(d.options.Store, candidate.id, &out.Attr); err != nil {
			return nil, errno(d.options.Logger, "lookup", candidate.id, err)
		}
		child := d.newChild(ctx, candidate.id, out.Mode)
		return child, 0
	}
	return nil, syscall.ENOENT
}

func (d *directoryNode) newChild(ctx context.Context, id int32, mode uint32) *gofuse.Inode {
	stable := gofuse.StableAttr{Mode: mode & syscall.S_IFMT, Ino: uint64(id)}
	switch mode & syscall.S_IFMT {
	case syscall.S_IFDIR:
		return d.NewInode(ctx, &directoryNode{options: d.options, id: id}, stable)
	case syscall.S_IFLNK:
		return d.NewInode(ctx, &symlinkNode{options: d.options, id: id}, stable)
	default:
		return d.NewInode(ctx, &fileNode{options: d.options, id: id}, stable)
	}
}

func (d *directoryNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	listing, err := entries(d.options.Store, d.id)
	if err != nil {
		return nil, errno(d.options.Logger, "readdir", d.id, err)
	}
	stream := &sliceDirStream{entries: make([]fuse.DirEntry, 0, len(listing))}
	for _, child := range listing {
		flags, err := d.options.Store.Flags(child.id)
		if err != nil {
			return nil, errno(d.options.Logger, "readdir", child.id, err)
		}
		stream.entries = append(stream.entries, fuse.DirEntry{
			Name: child.name,
			Mode: fileMode(flags) & syscall.S_IFMT,
			Ino:  uint64(child.id),
		})
	}
	return stream, 0
}

// fileNode serves the stored content of a file record.
type fileNode struct {
	gofuse.Inode
	options *Options
	id      int32
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeSetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)

func (f *fileNode) Getattr(ctx context.Context, fh gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if err := fillAttr(f.options.Store, f.id, &out.Attr); err != nil {
		return errno(f.options.Logger, "getattr", f.id, err)
	}
	return 0
}

func (f *fileNode) Setattr(ctx context.Context, fh gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	return syscall.EROFS
}

// Open snapshots the content so that a reader sees one version even if
// the record is rewritten while the file is open.
func (f *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_TRUNC) != 0 {
		return nil, 0, syscall.EROFS
	}
	record, err := f.options.Store.Record(f.id)
	if err != nil {
		return nil, 0, errno(f.options.Logger, "open", f.id, err)
	}
	var data []byte
	if record.ContentRef != 0 {
		if data, err = f.options.Store.ReadContentBytes(f.id); err != nil {
			return nil, 0, errno(f.options.Logger, "open", f.id, err)
		}
	}
	return &contentHandle{data: data}, fuse.FOPEN_DIRECT_IO, 0
}

// contentHandle is an open file: the content as it was at Open.
type contentHandle struct {
	data []byte
}

var _ gofuse.FileReader = (*contentHandle)(nil)

func (h *contentHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if off >= int64(len(h.data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := min(off+int64(len(dest)), int64(len(h.data)))
	return fuse.ReadResultData(h.data[off:end]), 0
}

// symlinkNode resolves a symlink record to its stored target.
type symlinkNode struct {
	gofuse.Inode
	options *Options
	id      int32
}

var _ gofuse.InodeEmbedder = (*symlinkNode)(nil)
var _ gofuse.NodeGetattrer = (*symlinkNode)(nil)
var _ gofuse.NodeReadlinker = (*symlinkNode)(nil)

func (s *symlinkNode) Getattr(ctx context.Context, fh gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if err := fillAttr(s.options.Store, s.id, &out.Attr); err != nil {
		return errno(s.options.Logger, "getattr", s.id, err)
	}
	return 0
}

func (s *symlinkNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	target, found, err := s.options.Store.SymlinkTarget(s.id)
	if err != nil {
		return nil, errno(s.options.Logger, "readlink", s.id, err)
	}
	if !found {
		return nil, syscall.ENODATA
	}
	return []byte(target), 0
}

// sliceDirStream implements fs.DirStream from a slice of entries.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
