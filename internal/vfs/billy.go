// Copyright 2025 GraftFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vfs

import (
	"context"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
)

// BillyAdapter exposes a process view as a billy.Filesystem, so tooling
// written against billy (walkers, copiers, the CLI verbs) can run over
// the namespace without speaking the syscall surface. Paths are
// resolved against the process's working directory, mounts and
// symlinks included.
type BillyAdapter struct {
	proc *Process
}

// NewBillyAdapter wraps a process view in the billy interface.
func NewBillyAdapter(proc *Process) *BillyAdapter {
	return &BillyAdapter{proc: proc}
}

// billyErr collapses internal errors to the Errno the syscall surface
// would report. Errno matches the os sentinels through errors.Is, so
// billy callers can keep their usual os.IsNotExist-style checks.
func billyErr(err error) error {
	if err == nil {
		return nil
	}
	return toErrno(err)
}

// BillyFile adapts one open descriptor. The file keeps its own offset;
// transfers go through the positional natives so concurrent holders of
// the same descriptor never fight over the cursor.
type BillyFile struct {
	adapter    *BillyAdapter
	fd         int
	name       string
	flags      int
	offset     int64
	appendMode bool
}

// BillyFileInfo carries Stat results across the os.FileInfo interface.
type BillyFileInfo struct {
	name string
	stat Stat
}

func (b *BillyAdapter) Create(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

func (b *BillyAdapter) Open(filename string) (billy.File, error) {
	return b.OpenFile(filename, os.O_RDONLY, 0)
}

func (b *BillyAdapter) OpenFile(filename string, flag int, _ os.FileMode) (billy.File, error) {
	ctx := context.Background()
	if flag&os.O_EXCL != 0 {
		if _, err := b.proc.stat(ctx, filename, true); err == nil {
			return nil, EEXIST
		}
	}
	vflags := 0
	if flag&os.O_CREATE != 0 {
		vflags = O_CREATE
	}
	fd, err := b.proc.open(ctx, filename, vflags)
	if err != nil {
		return nil, billyErr(err)
	}
	if flag&os.O_TRUNC != 0 {
		if err := b.proc.ftruncate(ctx, fd, 0); err != nil {
			_ = b.proc.closeFD(ctx, fd)
			return nil, billyErr(err)
		}
	}
	return &BillyFile{
		adapter:    b,
		fd:         fd,
		name:       filename,
		flags:      flag,
		appendMode: flag&os.O_APPEND != 0,
	}, nil
}

func (b *BillyAdapter) Stat(filename string) (os.FileInfo, error) {
	st, err := b.proc.stat(context.Background(), filename, true)
	if err != nil {
		return nil, billyErr(err)
	}
	return &BillyFileInfo{name: path.Base(filename), stat: st}, nil
}

func (b *BillyAdapter) Lstat(filename string) (os.FileInfo, error) {
	st, err := b.proc.stat(context.Background(), filename, false)
	if err != nil {
		return nil, billyErr(err)
	}
	return &BillyFileInfo{name: path.Base(filename), stat: st}, nil
}

func (b *BillyAdapter) Rename(oldpath, newpath string) error {
	return billyErr(b.proc.rename(context.Background(), oldpath, newpath))
}

// Remove takes a name out of the tree, whichever kind it is. Files and
// symlinks are unlinked; an empty directory is removed.
func (b *BillyAdapter) Remove(filename string) error {
	ctx := context.Background()
	err := b.proc.unlink(ctx, filename)
	if toErrno(err) == EISDIR {
		return billyErr(b.proc.rmdir(ctx, filename))
	}
	return billyErr(err)
}

func (b *BillyAdapter) Join(elem ...string) string {
	return path.Join(elem...)
}

func (b *BillyAdapter) TempFile(dir, prefix string) (billy.File, error) {
	return nil, os.ErrInvalid
}

func (b *BillyAdapter) ReadDir(dirname string) ([]os.FileInfo, error) {
	ctx := context.Background()
	entries, err := b.proc.readDir(ctx, dirname)
	if err != nil {
		return nil, billyErr(err)
	}
	infos := make([]os.FileInfo, 0, len(entries))
	for _, e := range entries {
		st, serr := b.proc.stat(ctx, path.Join(dirname, e.Name), false)
		if serr != nil {
			// Lost a race with a concurrent remove; skip the entry.
			continue
		}
		infos = append(infos, &BillyFileInfo{name: e.Name, stat: st})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name() < infos[j].Name() })
	return infos, nil
}

func (b *BillyAdapter) MkdirAll(filename string, _ os.FileMode) error {
	ctx := context.Background()
	clean := path.Clean(filename)
	if clean == "/" || clean == "." || clean == "" {
		return nil
	}
	var prefix string
	if strings.HasPrefix(clean, "/") {
		prefix = "/"
		clean = clean[1:]
	}
	for _, part := range strings.Split(clean, "/") {
		prefix = path.Join(prefix, part)
		if err := b.proc.mkdir(ctx, prefix); err != nil && toErrno(err) != EEXIST {
			return billyErr(err)
		}
	}
	return nil
}

func (b *BillyAdapter) Symlink(target, link string) error {
	return billyErr(b.proc.symlink(context.Background(), target, link))
}

func (b *BillyAdapter) Readlink(link string) (string, error) {
	target, err := b.proc.readlink(context.Background(), link)
	return target, billyErr(err)
}

func (b *BillyAdapter) Chroot(path string) (billy.Filesystem, error) {
	return nil, os.ErrInvalid
}

func (b *BillyAdapter) Root() string {
	return "/"
}

// billy.Change interface. Ownership, modes and times are not kept, so
// the calls succeed without effect.

func (b *BillyAdapter) Chmod(name string, mode os.FileMode) error { return nil }

func (b *BillyAdapter) Lchown(name string, uid, gid int) error { return nil }

func (b *BillyAdapter) Chown(name string, uid, gid int) error { return nil }

func (b *BillyAdapter) Chtimes(name string, atime, mtime time.Time) error { return nil }

func (b *BillyAdapter) Capabilities() billy.Capability {
	return billy.WriteCapability | billy.ReadCapability |
		billy.ReadAndWriteCapability | billy.SeekCapability |
		billy.TruncateCapability
}

func (f *BillyFile) Name() string {
	return f.name
}

func (f *BillyFile) Read(p []byte) (int, error) {
	n, err := f.adapter.proc.pread(context.Background(), f.fd, p, f.offset)
	if err != nil {
		return 0, billyErr(err)
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	f.offset += int64(n)
	return n, nil
}

func (f *BillyFile) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.adapter.proc.pread(context.Background(), f.fd, p, off)
	if err != nil {
		return 0, billyErr(err)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *BillyFile) Write(p []byte) (int, error) {
	ctx := context.Background()
	off := f.offset
	if f.appendMode {
		st, err := f.adapter.proc.fstat(ctx, f.fd)
		if err != nil {
			return 0, billyErr(err)
		}
		off = int64(st.Size)
	}
	n, err := f.adapter.proc.pwrite(ctx, f.fd, p, off)
	if err != nil {
		return 0, billyErr(err)
	}
	f.offset = off + int64(n)
	return n, nil
}

func (f *BillyFile) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = f.offset + offset
	case io.SeekEnd:
		st, err := f.adapter.proc.fstat(context.Background(), f.fd)
		if err != nil {
			return 0, billyErr(err)
		}
		pos = int64(st.Size) + offset
	default:
		return 0, os.ErrInvalid
	}
	if pos < 0 {
		return 0, os.ErrInvalid
	}
	f.offset = pos
	return pos, nil
}

func (f *BillyFile) Close() error {
	return billyErr(f.adapter.proc.closeFD(context.Background(), f.fd))
}

func (f *BillyFile) Lock() error   { return nil }
func (f *BillyFile) Unlock() error { return nil }

func (f *BillyFile) Truncate(size int64) error {
	return billyErr(f.adapter.proc.ftruncate(context.Background(), f.fd, size))
}

func (fi *BillyFileInfo) Name() string {
	return fi.name
}

func (fi *BillyFileInfo) Size() int64 {
	return int64(fi.stat.Size)
}

func (fi *BillyFileInfo) Mode() os.FileMode {
	switch fi.stat.Type {
	case TypeDir:
		return os.ModeDir | 0755
	case TypeSymlink:
		return os.ModeSymlink | 0777
	default:
		return 0644
	}
}

func (fi *BillyFileInfo) ModTime() time.Time {
	return time.Time{}
}

func (fi *BillyFileInfo) IsDir() bool {
	return fi.stat.Type == TypeDir
}

func (fi *BillyFileInfo) Sys() interface{} {
	return &fi.stat
}

var (
	_ billy.Filesystem = (*BillyAdapter)(nil)
	_ billy.Change     = (*BillyAdapter)(nil)
	_ billy.Capable    = (*BillyAdapter)(nil)
	_ billy.File       = (*BillyFile)(nil)
	_ os.FileInfo      = (*BillyFileInfo)(nil)
)
