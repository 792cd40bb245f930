// Package daxview is a minimal, read-only bazil.org/fuse filesystem
// exposing a single file, "region", whose contents mirror a mapped
// persistent-memory region. It exists purely as an operational
// smoke-test harness for cmd/pmemctl serve: mounting it and reading
// the file shows that a region mapped through pkg/pmem.MapFile is
// reachable the way a human operator would look at it. Reading the
// file only reads the mapped bytes; it does not flush them.
//
// It is trimmed to one fixed root directory holding one fixed
// read-only file node; there is no Create/Mkdir/Remove/Write because
// this view never grows or shrinks the region it mirrors.
package daxview

import (
	"context"
	"os"
	"syscall"
	"time"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

// FS is the root filesystem: one fixed directory containing one fixed
// file, "region".
type FS struct {
	root *dir
}

// New builds a view over data, which should be the slice returned by
// pkg/pmem.MapFile (or any mapped region the caller wants to inspect
// through a file interface).
func New(data []byte) *FS {
	f := &file{data: data, modTime: time.Now()}
	d := &dir{file: f, modTime: f.modTime}
	return &FS{root: d}
}

// Root implements fusefs.FS.
func (f *FS) Root() (fusefs.Node, error) {
	return f.root, nil
}

type dir struct {
	file    *file
	modTime time.Time
}

const regionName = "region"

func (d *dir) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Inode = 1
	a.Mode = os.ModeDir | 0555
	a.Size = 4096
	a.Mtime = d.modTime
	a.Ctime = d.modTime
	a.Atime = d.modTime
	return nil
}

func (d *dir) Lookup(ctx context.Context, name string) (fusefs.Node, error) {
	if name == regionName {
		return d.file, nil
	}
	return nil, syscall.ENOENT
}

func (d *dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	return []fuse.Dirent{
		{Inode: 2, Type: fuse.DT_File, Name: regionName},
	}, nil
}

// file mirrors the mapped region read-only; it never copies data,
// Read slices directly into the backing mmap.
type file struct {
	data    []byte
	modTime time.Time
}

func (f *file) Attr(ctx context.Context, a *fuse.Attr) error {
	a.Inode = 2
	a.Mode = 0444
	a.Size = uint64(len(f.data))
	a.Mtime = f.modTime
	a.Ctime = f.modTime
	a.Atime = f.modTime
	return nil
}

func (f *file) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	if req.Offset >= int64(len(f.data)) {
		resp.Data = []byte{}
		return nil
	}
	end := req.Offset + int64(req.Size)
	if end > int64(len(f.data)) {
		end = int64(len(f.data))
	}
	resp.Data = f.data[req.Offset:end]
	return nil
}
