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

// Package memfs provides the ephemeral in-memory filesystem backend.
// A MemFS lives for the duration of one mount; nothing survives Close.
package memfs

import (
	"context"
	"math"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"graftfs/internal/common"
	"graftfs/internal/vfs"
)

// RootIno is the inode number of the root directory.
const RootIno vfs.Ino = 1

// dirEntryStatSize is how many bytes each entry contributes to a
// directory's reported size.
const dirEntryStatSize = 16

// dirent is one name in a directory. The id is the enumeration token:
// per-directory, monotonically assigned, never reused.
type dirent struct {
	id  uint64
	ino vfs.Ino
}

// inode holds one filesystem object. The fields after nlink are
// type-specific: data for files, target for symlinks, the rest for
// directories. Directories always have nlink 1; an nlink of 0 marks a
// directory that has been removed but is still pinned by an open
// descriptor or cwd.
type inode struct {
	typ   vfs.FileType
	nlink uint32

	data   []byte
	target string

	entries map[string]dirent
	parent  vfs.Ino
	nextID  uint64
}

// MemFS is an in-memory vfs.Backend. All state sits behind one mutex;
// every operation is atomic with respect to the others.
type MemFS struct {
	mu       sync.Mutex
	nodes    map[vfs.Ino]*inode
	nextIno  vfs.Ino
	maxNlink uint32
}

// compile-time interface check
var _ vfs.Backend = (*MemFS)(nil)

// The filesystem registers under both of its common names. A device
// token makes no sense for a memory filesystem and is rejected.
func init() {
	factory := func(device string, limits vfs.Limits) (vfs.Backend, error) {
		if device != "" {
			return nil, common.ErrInvalidArg
		}
		return New(limits.MaxNlink), nil
	}
	vfs.RegisterFS("memfs", factory)
	vfs.RegisterFS("tmpfs", factory)
}

// New creates a filesystem containing only an empty root directory.
// maxNlink of 0 selects the default hard-link ceiling.
func New(maxNlink uint32) *MemFS {
	if maxNlink == 0 {
		maxNlink = vfs.DefaultLimits().MaxNlink
	}
	root := &inode{
		typ:     vfs.TypeDir,
		nlink:   1,
		entries: make(map[string]dirent),
		parent:  RootIno,
	}
	return &MemFS{
		nodes:    map[vfs.Ino]*inode{RootIno: root},
		nextIno:  RootIno + 1,
		maxNlink: maxNlink,
	}
}

// Root implements vfs.Backend.
func (m *MemFS) Root() vfs.Ino {
	return RootIno
}

// node returns the inode or ErrNotFound.
func (m *MemFS) node(ino vfs.Ino) (*inode, error) {
	n, ok := m.nodes[ino]
	if !ok {
		return nil, common.ErrNotFound
	}
	return n, nil
}

// dir returns the inode if it is a directory.
func (m *MemFS) dir(ino vfs.Ino) (*inode, error) {
	n, err := m.node(ino)
	if err != nil {
		return nil, err
	}
	if n.typ != vfs.TypeDir {
		return nil, common.ErrNotDir
	}
	return n, nil
}

// liveDir is dir plus a check that the directory has not been removed.
// Creating anything inside a removed directory reports ErrNotFound.
func (m *MemFS) liveDir(ino vfs.Ino) (*inode, error) {
	n, err := m.dir(ino)
	if err != nil {
		return nil, err
	}
	if n.nlink == 0 {
		return nil, common.ErrNotFound
	}
	return n, nil
}

// allocIno hands out the next free inode number, wrapping around and
// skipping numbers still in use. Zero is never issued.
func (m *MemFS) allocIno() (vfs.Ino, error) {
	if uint64(len(m.nodes)) >= uint64(math.MaxUint32) {
		return 0, common.ErrNoSpace
	}
	for {
		ino := m.nextIno
		m.nextIno++
		if ino == 0 {
			continue
		}
		if _, used := m.nodes[ino]; !used {
			return ino, nil
		}
	}
}

// addEntry inserts a name with a fresh entry ID. The caller has already
// checked for duplicates.
func (n *inode) addEntry(name string, ino vfs.Ino) {
	id := n.nextID
	n.nextID++
	n.entries[name] = dirent{id: id, ino: ino}
}

// Lookup implements vfs.Backend.
func (m *MemFS) Lookup(ctx context.Context, dir vfs.Ino, name string) (vfs.Ino, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.dir(dir)
	if err != nil {
		return 0, err
	}
	ent, ok := d.entries[name]
	if !ok {
		return 0, common.ErrNotFound
	}
	return ent.ino, nil
}

// ParentOf implements vfs.Backend. The root is its own parent. Removed
// directories still report their last parent so that a process sitting
// in one can climb out.
func (m *MemFS) ParentOf(ctx context.Context, dir vfs.Ino) (vfs.Ino, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.dir(dir)
	if err != nil {
		return 0, err
	}
	return d.parent, nil
}

// Create implements vfs.Backend. An existing regular file or symlink is
// returned untouched; only a missing name allocates a new file inode.
func (m *MemFS) Create(ctx context.Context, dir vfs.Ino, name string) (vfs.Ino, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log.Tracef("[MemFS] Create: dir=%d name=%q", dir, name)
	d, err := m.liveDir(dir)
	if err != nil {
		return 0, err
	}
	if ent, ok := d.entries[name]; ok {
		n := m.nodes[ent.ino]
		if n.typ == vfs.TypeDir {
			return 0, common.ErrIsDir
		}
		return ent.ino, nil
	}
	ino, err := m.allocIno()
	if err != nil {
		return 0, err
	}
	m.nodes[ino] = &inode{typ: vfs.TypeFile, nlink: 1}
	d.addEntry(name, ino)
	return ino, nil
}

// Mkdir implements vfs.Backend.
func (m *MemFS) Mkdir(ctx context.Context, dir vfs.Ino, name string) (vfs.Ino, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log.Tracef("[MemFS] Mkdir: dir=%d name=%q", dir, name)
	d, err := m.liveDir(dir)
	if err != nil {
		return 0, err
	}
	if _, ok := d.entries[name]; ok {
		return 0, common.ErrExists
	}
	ino, err := m.allocIno()
	if err != nil {
		return 0, err
	}
	m.nodes[ino] = &inode{
		typ:     vfs.TypeDir,
		nlink:   1,
		entries: make(map[string]dirent),
		parent:  dir,
	}
	d.addEntry(name, ino)
	return ino, nil
}

// Symlink implements vfs.Backend. The target is stored verbatim.
func (m *MemFS) Symlink(ctx context.Context, dir vfs.Ino, name, target string) (vfs.Ino, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log.Tracef("[MemFS] Symlink: dir=%d name=%q target=%q", dir, name, target)
	if target == "" {
		return 0, common.ErrInvalidArg
	}
	d, err := m.liveDir(dir)
	if err != nil {
		return 0, err
	}
	if _, ok := d.entries[name]; ok {
		return 0, common.ErrExists
	}
	ino, err := m.allocIno()
	if err != nil {
		return 0, err
	}
	m.nodes[ino] = &inode{typ: vfs.TypeSymlink, nlink: 1, target: target}
	d.addEntry(name, ino)
	return ino, nil
}

// Link implements vfs.Backend.
func (m *MemFS) Link(ctx context.Context, dir vfs.Ino, name string, target vfs.Ino) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log.Tracef("[MemFS] Link: dir=%d name=%q target=%d", dir, name, target)
	d, err := m.liveDir(dir)
	if err != nil {
		return err
	}
	t, err := m.node(target)
	if err != nil {
		return err
	}
	if t.typ == vfs.TypeDir {
		return common.ErrIsDir
	}
	if _, ok := d.entries[name]; ok {
		return common.ErrExists
	}
	if t.nlink >= m.maxNlink {
		return common.ErrTooManyLinks
	}
	t.nlink++
	d.addEntry(name, target)
	return nil
}

// Unlink implements vfs.Backend. The inode's content is kept until
// Release observes a zero link count.
func (m *MemFS) Unlink(ctx context.Context, dir vfs.Ino, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log.Tracef("[MemFS] Unlink: dir=%d name=%q", dir, name)
	d, err := m.dir(dir)
	if err != nil {
		return err
	}
	ent, ok := d.entries[name]
	if !ok {
		return common.ErrNotFound
	}
	n := m.nodes[ent.ino]
	if n.typ == vfs.TypeDir {
		return common.ErrIsDir
	}
	n.nlink--
	delete(d.entries, name)
	return nil
}

// Rmdir implements vfs.Backend. The directory keeps its parent pointer
// while pinned so ".." still resolves from inside it.
func (m *MemFS) Rmdir(ctx context.Context, dir vfs.Ino, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log.Tracef("[MemFS] Rmdir: dir=%d name=%q", dir, name)
	d, err := m.dir(dir)
	if err != nil {
		return err
	}
	ent, ok := d.entries[name]
	if !ok {
		return common.ErrNotFound
	}
	n := m.nodes[ent.ino]
	if n.typ != vfs.TypeDir {
		return common.ErrNotDir
	}
	if len(n.entries) > 0 {
		return common.ErrNotEmpty
	}
	n.nlink--
	delete(d.entries, name)
	return nil
}

// Rename implements vfs.Backend with replace semantics: an existing
// destination file is replaced by a file, an existing empty directory by
// a directory. Both directories change in one critical section, so the
// operation is atomic to every other caller.
func (m *MemFS) Rename(ctx context.Context, srcDir vfs.Ino, srcName string, dstDir vfs.Ino, dstName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log.Tracef("[MemFS] Rename: %d/%q -> %d/%q", srcDir, srcName, dstDir, dstName)
	sd, err := m.dir(srcDir)
	if err != nil {
		return err
	}
	srcEnt, ok := sd.entries[srcName]
	if !ok {
		return common.ErrNotFound
	}
	dd, err := m.liveDir(dstDir)
	if err != nil {
		return err
	}
	src := m.nodes[srcEnt.ino]

	// Same entry: nothing to do. This also covers two hard links to one
	// inode, where rename must leave both names in place.
	if dstEnt, ok := dd.entries[dstName]; ok && dstEnt.ino == srcEnt.ino {
		return nil
	}

	if src.typ == vfs.TypeDir {
		// A directory cannot move under itself.
		for cur := dstDir; ; {
			if cur == srcEnt.ino {
				return common.ErrInvalidArg
			}
			parent := m.nodes[cur].parent
			if parent == cur {
				break
			}
			cur = parent
		}
	}

	if dstEnt, ok := dd.entries[dstName]; ok {
		dst := m.nodes[dstEnt.ino]
		switch {
		case src.typ != vfs.TypeDir && dst.typ == vfs.TypeDir:
			return common.ErrIsDir
		case src.typ == vfs.TypeDir && dst.typ != vfs.TypeDir:
			return common.ErrNotDir
		case dst.typ == vfs.TypeDir && len(dst.entries) > 0:
			return common.ErrNotEmpty
		}
		dst.nlink--
		delete(dd.entries, dstName)
	}

	delete(sd.entries, srcName)
	dd.addEntry(dstName, srcEnt.ino)
	if src.typ == vfs.TypeDir {
		src.parent = dstDir
	}
	return nil
}

// ReadDir implements vfs.Backend. Entries come back in ascending entry-ID
// order starting at fromID inclusive, so a caller can hand a previously
// returned ID back in to re-read from that exact entry.
func (m *MemFS) ReadDir(ctx context.Context, dir vfs.Ino, fromID uint64, max int) ([]vfs.DirEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, err := m.dir(dir)
	if err != nil {
		return nil, err
	}
	var out []vfs.DirEntry
	for name, ent := range d.entries {
		if ent.id < fromID {
			continue
		}
		out = append(out, vfs.DirEntry{
			EntryID: ent.id,
			Ino:     ent.ino,
			Type:    m.nodes[ent.ino].typ,
			Name:    name,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out, nil
}

// Readlink implements vfs.Backend.
func (m *MemFS) Readlink(ctx context.Context, ino vfs.Ino) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.node(ino)
	if err != nil {
		return "", err
	}
	if n.typ != vfs.TypeSymlink {
		return "", common.ErrNotSymlink
	}
	return n.target, nil
}

// fileNode fetches a regular-file inode for data access.
func (m *MemFS) fileNode(ino vfs.Ino) (*inode, error) {
	n, err := m.node(ino)
	if err != nil {
		return nil, err
	}
	switch n.typ {
	case vfs.TypeDir:
		return nil, common.ErrIsDir
	case vfs.TypeSymlink:
		return nil, common.ErrInvalidArg
	}
	return n, nil
}

// ReadAt implements vfs.Backend. Reading at or past the end returns 0.
func (m *MemFS) ReadAt(ctx context.Context, ino vfs.Ino, p []byte, off uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log.Tracef("[MemFS] ReadAt: ino=%d off=%d len=%d", ino, off, len(p))
	n, err := m.fileNode(ino)
	if err != nil {
		return 0, err
	}
	if off >= uint64(len(n.data)) {
		return 0, nil
	}
	return copy(p, n.data[off:]), nil
}

// WriteAt implements vfs.Backend. Writing past the end zero-fills the gap.
func (m *MemFS) WriteAt(ctx context.Context, ino vfs.Ino, p []byte, off uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	log.Tracef("[MemFS] WriteAt: ino=%d off=%d len=%d", ino, off, len(p))
	n, err := m.fileNode(ino)
	if err != nil {
		return 0, err
	}
	end := off + uint64(len(p))
	if end < off || end > math.MaxInt64 {
		return 0, common.ErrNoSpace
	}
	if end > uint64(len(n.data)) {
		n.data = append(n.data, make([]byte, end-uint64(len(n.data)))...)
	}
	copy(n.data[off:], p)
	return len(p), nil
}

// Truncate implements vfs.Backend.
func (m *MemFS) Truncate(ctx context.Context, ino vfs.Ino, size uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log.Tracef("[MemFS] Truncate: ino=%d size=%d", ino, size)
	n, err := m.fileNode(ino)
	if err != nil {
		return err
	}
	if size > math.MaxInt64 {
		return common.ErrNoSpace
	}
	switch {
	case size < uint64(len(n.data)):
		n.data = n.data[:size]
	case size > uint64(len(n.data)):
		n.data = append(n.data, make([]byte, size-uint64(len(n.data)))...)
	}
	return nil
}

// Stat implements vfs.Backend. Directory sizes are synthetic: a fixed
// number of bytes per entry.
func (m *MemFS) Stat(ctx context.Context, ino vfs.Ino) (vfs.Stat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.node(ino)
	if err != nil {
		return vfs.Stat{}, err
	}
	st := vfs.Stat{Ino: ino, Nlink: n.nlink, Type: n.typ}
	switch n.typ {
	case vfs.TypeFile:
		st.Size = uint64(len(n.data))
	case vfs.TypeSymlink:
		st.Size = uint64(len(n.target))
	case vfs.TypeDir:
		st.Size = uint64(len(n.entries)) * dirEntryStatSize
	}
	return st, nil
}

// Release implements vfs.Backend. Called when the last pin drops; frees
// the inode if no name refers to it anymore.
func (m *MemFS) Release(ctx context.Context, ino vfs.Ino) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.node(ino)
	if err != nil {
		return err
	}
	if n.nlink == 0 {
		log.Tracef("[MemFS] Release: freeing ino=%d", ino)
		delete(m.nodes, ino)
	}
	return nil
}

// Sync implements vfs.Backend. There is no durable storage to flush.
func (m *MemFS) Sync(ctx context.Context) error {
	return nil
}

// Close implements vfs.Backend.
func (m *MemFS) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	log.Debugf("[MemFS] Close: dropping %d inodes", len(m.nodes))
	m.nodes = make(map[vfs.Ino]*inode)
	return nil
}
