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

package storage

import (
	"context"
	"math"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/uptrace/bun"

	"graftfs/internal/common"
	"graftfs/internal/util"
	"graftfs/internal/vfs"
)

// dirEntryStatSize is how many bytes each entry contributes to a
// directory's reported size.
const dirEntryStatSize = 16

// Backend exposes a Volume as a vfs.Backend. Mutating operations run in
// a single SQLite transaction, retried on transient lock errors, so a
// half-applied rename or unlink can never be observed after a crash.
//
// Files are chunked and logically sparse: chunks that were never written
// read back as zeros, and growing a file records only its new size.
type Backend struct {
	vol      *Volume
	db       *BunDB
	maxNlink int64
}

// compile-time interface check
var _ vfs.Backend = (*Backend)(nil)

// The device token for a mount is the volume path on the host
// filesystem. A missing file becomes a fresh volume; an existing one is
// opened and validated.
func init() {
	vfs.RegisterFS("sqlfs", func(device string, limits vfs.Limits) (vfs.Backend, error) {
		if device == "" {
			return nil, common.ErrInvalidArg
		}
		var vol *Volume
		var err error
		if _, serr := os.Stat(device); os.IsNotExist(serr) {
			vol, err = Create(device)
		} else {
			vol, err = Open(device)
		}
		if err != nil {
			return nil, err
		}
		return NewBackend(vol, limits.MaxNlink), nil
	})
}

// NewBackend wraps an open volume. maxNlink of 0 selects the default
// hard-link ceiling. The backend owns the volume from here on; Close
// closes it.
func NewBackend(vol *Volume, maxNlink uint32) *Backend {
	if maxNlink == 0 {
		maxNlink = vfs.DefaultLimits().MaxNlink
	}
	return &Backend{
		vol:      vol,
		db:       vol.BunDB(),
		maxNlink: int64(maxNlink),
	}
}

// Volume returns the underlying volume.
func (b *Backend) Volume() *Volume {
	return b.vol
}

// Root implements vfs.Backend.
func (b *Backend) Root() vfs.Ino {
	return vfs.Ino(RootIno)
}

// runTx runs fn in one transaction, retrying on "database is locked".
func (b *Backend) runTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return util.Retry(ctx, func() error {
		return b.db.RunInTx(ctx, nil, fn)
	}, util.VolumeRetryOptions(ctx)...)
}

// toIno narrows a database inode number to the wire representation.
func toIno(ino int64) (vfs.Ino, error) {
	if ino <= 0 || ino > math.MaxUint32 {
		return 0, common.ErrNoSpace
	}
	return vfs.Ino(ino), nil
}

// dirWith fetches an inode and requires it to be a directory.
func (b *Backend) dirWith(idb bun.IDB, ctx context.Context, ino vfs.Ino) (*InodeModel, error) {
	inode, err := b.db.GetInodeWith(idb, ctx, int64(ino))
	if err != nil {
		return nil, err
	}
	if inode.Type != TypeDir {
		return nil, common.ErrNotDir
	}
	return inode, nil
}

// liveDirWith is dirWith plus a check that the directory has not been
// removed. Creating anything inside a removed directory reports
// ErrNotFound.
func (b *Backend) liveDirWith(idb bun.IDB, ctx context.Context, ino vfs.Ino) (*InodeModel, error) {
	inode, err := b.dirWith(idb, ctx, ino)
	if err != nil {
		return nil, err
	}
	if inode.Nlink == 0 {
		return nil, common.ErrNotFound
	}
	return inode, nil
}

// fileWith fetches a regular-file inode for data access.
func (b *Backend) fileWith(idb bun.IDB, ctx context.Context, ino vfs.Ino) (*InodeModel, error) {
	inode, err := b.db.GetInodeWith(idb, ctx, int64(ino))
	if err != nil {
		return nil, err
	}
	switch inode.Type {
	case TypeDir:
		return nil, common.ErrIsDir
	case TypeSymlink:
		return nil, common.ErrInvalidArg
	}
	return inode, nil
}

// Lookup implements vfs.Backend.
func (b *Backend) Lookup(ctx context.Context, dir vfs.Ino, name string) (vfs.Ino, error) {
	if _, err := b.dirWith(b.db.DB, ctx, dir); err != nil {
		return 0, err
	}
	dentry, err := b.db.GetDentry(ctx, int64(dir), name)
	if err != nil {
		return 0, err
	}
	return toIno(dentry.Ino)
}

// ParentOf implements vfs.Backend. The root is its own parent. Removed
// directories still report their last parent so that a process sitting
// in one can climb out.
func (b *Backend) ParentOf(ctx context.Context, dir vfs.Ino) (vfs.Ino, error) {
	inode, err := b.dirWith(b.db.DB, ctx, dir)
	if err != nil {
		return 0, err
	}
	return toIno(inode.ParentIno)
}

// Create implements vfs.Backend. An existing regular file or symlink is
// returned untouched; only a missing name allocates a new file inode.
func (b *Backend) Create(ctx context.Context, dir vfs.Ino, name string) (vfs.Ino, error) {
	log.Tracef("[SQLFS] Create: dir=%d name=%q", dir, name)
	var ino vfs.Ino
	err := b.runTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := b.liveDirWith(tx, ctx, dir); err != nil {
			return err
		}
		existing, err := b.db.GetDentryWith(tx, ctx, int64(dir), name)
		if err == nil {
			child, err := b.db.GetInodeWith(tx, ctx, existing.Ino)
			if err != nil {
				return err
			}
			if child.Type == TypeDir {
				return common.ErrIsDir
			}
			ino, err = toIno(existing.Ino)
			return err
		}
		if err != common.ErrNotFound {
			return err
		}
		newIno, err := b.db.CreateInodeWith(tx, ctx, TypeFile, 0, 0)
		if err != nil {
			return err
		}
		if err := b.db.InsertDentryWith(tx, ctx, &DentryModel{ParentIno: int64(dir), Name: name, Ino: newIno}); err != nil {
			return err
		}
		ino, err = toIno(newIno)
		return err
	})
	if err != nil {
		return 0, err
	}
	return ino, nil
}

// Mkdir implements vfs.Backend.
func (b *Backend) Mkdir(ctx context.Context, dir vfs.Ino, name string) (vfs.Ino, error) {
	log.Tracef("[SQLFS] Mkdir: dir=%d name=%q", dir, name)
	var ino vfs.Ino
	err := b.runTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := b.liveDirWith(tx, ctx, dir); err != nil {
			return err
		}
		if _, err := b.db.GetDentryWith(tx, ctx, int64(dir), name); err == nil {
			return common.ErrExists
		} else if err != common.ErrNotFound {
			return err
		}
		newIno, err := b.db.CreateInodeWith(tx, ctx, TypeDir, 0, int64(dir))
		if err != nil {
			return err
		}
		if err := b.db.InsertDentryWith(tx, ctx, &DentryModel{ParentIno: int64(dir), Name: name, Ino: newIno}); err != nil {
			return err
		}
		ino, err = toIno(newIno)
		return err
	})
	if err != nil {
		return 0, err
	}
	return ino, nil
}

// Symlink implements vfs.Backend. The target is stored verbatim.
func (b *Backend) Symlink(ctx context.Context, dir vfs.Ino, name, target string) (vfs.Ino, error) {
	log.Tracef("[SQLFS] Symlink: dir=%d name=%q target=%q", dir, name, target)
	if target == "" {
		return 0, common.ErrInvalidArg
	}
	var ino vfs.Ino
	err := b.runTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := b.liveDirWith(tx, ctx, dir); err != nil {
			return err
		}
		if _, err := b.db.GetDentryWith(tx, ctx, int64(dir), name); err == nil {
			return common.ErrExists
		} else if err != common.ErrNotFound {
			return err
		}
		newIno, err := b.db.CreateInodeWith(tx, ctx, TypeSymlink, int64(len(target)), 0)
		if err != nil {
			return err
		}
		if err := b.db.InsertSymlinkWith(tx, ctx, newIno, target); err != nil {
			return err
		}
		if err := b.db.InsertDentryWith(tx, ctx, &DentryModel{ParentIno: int64(dir), Name: name, Ino: newIno}); err != nil {
			return err
		}
		ino, err = toIno(newIno)
		return err
	})
	if err != nil {
		return 0, err
	}
	return ino, nil
}

// Link implements vfs.Backend.
func (b *Backend) Link(ctx context.Context, dir vfs.Ino, name string, target vfs.Ino) error {
	log.Tracef("[SQLFS] Link: dir=%d name=%q target=%d", dir, name, target)
	return b.runTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := b.liveDirWith(tx, ctx, dir); err != nil {
			return err
		}
		tgt, err := b.db.GetInodeWith(tx, ctx, int64(target))
		if err != nil {
			return err
		}
		if tgt.Type == TypeDir {
			return common.ErrIsDir
		}
		if _, err := b.db.GetDentryWith(tx, ctx, int64(dir), name); err == nil {
			return common.ErrExists
		} else if err != common.ErrNotFound {
			return err
		}
		if tgt.Nlink >= b.maxNlink {
			return common.ErrTooManyLinks
		}
		if err := b.db.AddInodeNlinkWith(tx, ctx, int64(target), 1); err != nil {
			return err
		}
		return b.db.InsertDentryWith(tx, ctx, &DentryModel{ParentIno: int64(dir), Name: name, Ino: int64(target)})
	})
}

// Unlink implements vfs.Backend. The inode's content is kept until
// Release observes a zero link count.
func (b *Backend) Unlink(ctx context.Context, dir vfs.Ino, name string) error {
	log.Tracef("[SQLFS] Unlink: dir=%d name=%q", dir, name)
	return b.runTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := b.dirWith(tx, ctx, dir); err != nil {
			return err
		}
		dentry, err := b.db.GetDentryWith(tx, ctx, int64(dir), name)
		if err != nil {
			return err
		}
		child, err := b.db.GetInodeWith(tx, ctx, dentry.Ino)
		if err != nil {
			return err
		}
		if child.Type == TypeDir {
			return common.ErrIsDir
		}
		if err := b.db.DeleteDentryWith(tx, ctx, int64(dir), name); err != nil {
			return err
		}
		return b.db.AddInodeNlinkWith(tx, ctx, dentry.Ino, -1)
	})
}

// Rmdir implements vfs.Backend. The directory keeps its parent pointer
// while pinned so ".." still resolves from inside it.
func (b *Backend) Rmdir(ctx context.Context, dir vfs.Ino, name string) error {
	log.Tracef("[SQLFS] Rmdir: dir=%d name=%q", dir, name)
	return b.runTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := b.dirWith(tx, ctx, dir); err != nil {
			return err
		}
		dentry, err := b.db.GetDentryWith(tx, ctx, int64(dir), name)
		if err != nil {
			return err
		}
		child, err := b.db.GetInodeWith(tx, ctx, dentry.Ino)
		if err != nil {
			return err
		}
		if child.Type != TypeDir {
			return common.ErrNotDir
		}
		count, err := b.db.CountDentriesWith(tx, ctx, dentry.Ino)
		if err != nil {
			return err
		}
		if count > 0 {
			return common.ErrNotEmpty
		}
		if err := b.db.DeleteDentryWith(tx, ctx, int64(dir), name); err != nil {
			return err
		}
		return b.db.AddInodeNlinkWith(tx, ctx, dentry.Ino, -1)
	})
}

// Rename implements vfs.Backend with replace semantics: an existing
// destination file is replaced by a file, an existing empty directory by
// a directory. The whole move commits as one transaction.
func (b *Backend) Rename(ctx context.Context, srcDir vfs.Ino, srcName string, dstDir vfs.Ino, dstName string) error {
	log.Tracef("[SQLFS] Rename: %d/%q -> %d/%q", srcDir, srcName, dstDir, dstName)
	return b.runTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		if _, err := b.dirWith(tx, ctx, srcDir); err != nil {
			return err
		}
		srcDentry, err := b.db.GetDentryWith(tx, ctx, int64(srcDir), srcName)
		if err != nil {
			return err
		}
		if _, err := b.liveDirWith(tx, ctx, dstDir); err != nil {
			return err
		}
		src, err := b.db.GetInodeWith(tx, ctx, srcDentry.Ino)
		if err != nil {
			return err
		}

		// Same entry: nothing to do. This also covers two hard links to one
		// inode, where rename must leave both names in place.
		dstDentry, err := b.db.GetDentryWith(tx, ctx, int64(dstDir), dstName)
		if err != nil && err != common.ErrNotFound {
			return err
		}
		if dstDentry != nil && dstDentry.Ino == srcDentry.Ino {
			return nil
		}

		if src.Type == TypeDir {
			// A directory cannot move under itself.
			for cur := int64(dstDir); ; {
				if cur == srcDentry.Ino {
					return common.ErrInvalidArg
				}
				inode, err := b.db.GetInodeWith(tx, ctx, cur)
				if err != nil {
					return err
				}
				if inode.ParentIno == cur {
					break
				}
				cur = inode.ParentIno
			}
		}

		if dstDentry != nil {
			dst, err := b.db.GetInodeWith(tx, ctx, dstDentry.Ino)
			if err != nil {
				return err
			}
			switch {
			case src.Type != TypeDir && dst.Type == TypeDir:
				return common.ErrIsDir
			case src.Type == TypeDir && dst.Type != TypeDir:
				return common.ErrNotDir
			}
			if dst.Type == TypeDir {
				count, err := b.db.CountDentriesWith(tx, ctx, dstDentry.Ino)
				if err != nil {
					return err
				}
				if count > 0 {
					return common.ErrNotEmpty
				}
			}
			if err := b.db.DeleteDentryWith(tx, ctx, int64(dstDir), dstName); err != nil {
				return err
			}
			if err := b.db.AddInodeNlinkWith(tx, ctx, dstDentry.Ino, -1); err != nil {
				return err
			}
		}

		if err := b.db.DeleteDentryWith(tx, ctx, int64(srcDir), srcName); err != nil {
			return err
		}
		if err := b.db.InsertDentryWith(tx, ctx, &DentryModel{ParentIno: int64(dstDir), Name: dstName, Ino: srcDentry.Ino}); err != nil {
			return err
		}
		if src.Type == TypeDir && srcDir != dstDir {
			return b.db.SetInodeParentWith(tx, ctx, srcDentry.Ino, int64(dstDir))
		}
		return nil
	})
}

// ReadDir implements vfs.Backend. Entry IDs come from the dentries
// rowid, so they ascend in insertion order and are never reused, which
// is exactly what resumable directory reads need.
func (b *Backend) ReadDir(ctx context.Context, dir vfs.Ino, fromID uint64, max int) ([]vfs.DirEntry, error) {
	if _, err := b.dirWith(b.db.DB, ctx, dir); err != nil {
		return nil, err
	}
	if fromID > math.MaxInt64 {
		return nil, nil
	}
	rows, err := b.db.ListDirEntries(ctx, int64(dir), int64(fromID), max)
	if err != nil {
		return nil, err
	}
	entries := make([]vfs.DirEntry, 0, len(rows))
	for _, row := range rows {
		ino, err := toIno(row.Ino)
		if err != nil {
			return nil, err
		}
		entries = append(entries, vfs.DirEntry{
			EntryID: uint64(row.ID),
			Ino:     ino,
			Type:    vfs.FileType(row.Type),
			Name:    row.Name,
		})
	}
	return entries, nil
}

// Readlink implements vfs.Backend.
func (b *Backend) Readlink(ctx context.Context, ino vfs.Ino) (string, error) {
	inode, err := b.db.GetInode(ctx, int64(ino))
	if err != nil {
		return "", err
	}
	if inode.Type != TypeSymlink {
		return "", common.ErrNotSymlink
	}
	return b.db.GetSymlink(ctx, int64(ino))
}

// ReadAt implements vfs.Backend. Reading at or past the end returns 0.
// Chunks that were never written, and bytes beyond a short stored chunk,
// read back as zeros.
func (b *Backend) ReadAt(ctx context.Context, ino vfs.Ino, p []byte, off uint64) (int, error) {
	log.Tracef("[SQLFS] ReadAt: ino=%d off=%d len=%d", ino, off, len(p))
	inode, err := b.fileWith(b.db.DB, ctx, ino)
	if err != nil {
		return 0, err
	}
	size := uint64(inode.Size)
	if off >= size || len(p) == 0 {
		return 0, nil
	}
	n := uint64(len(p))
	if n > size-off {
		n = size - off
	}

	startChunk := int64(off / ChunkSize)
	endChunk := int64((off + n - 1) / ChunkSize)
	chunks, err := b.db.ReadContentChunks(ctx, int64(ino), startChunk, endChunk)
	if err != nil {
		return 0, err
	}

	buf := p[:n]
	for i := range buf {
		buf[i] = 0
	}
	for _, chunk := range chunks {
		data := chunk.Data
		chunkStart := uint64(chunk.ChunkIdx) * ChunkSize
		if chunkStart+uint64(len(data)) <= off || chunkStart >= off+n {
			continue
		}
		var srcFrom, dstFrom uint64
		if chunkStart < off {
			srcFrom = off - chunkStart
		} else {
			dstFrom = chunkStart - off
		}
		copy(buf[dstFrom:], data[srcFrom:])
	}
	return int(n), nil
}

// WriteAt implements vfs.Backend. Partially overwritten chunks are
// merged read-modify-write; the gap between the old end and off is left
// unstored and reads back as zeros.
func (b *Backend) WriteAt(ctx context.Context, ino vfs.Ino, p []byte, off uint64) (int, error) {
	log.Tracef("[SQLFS] WriteAt: ino=%d off=%d len=%d", ino, off, len(p))
	end := off + uint64(len(p))
	if end < off || end > math.MaxInt64 {
		return 0, common.ErrNoSpace
	}
	err := b.runTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		inode, err := b.fileWith(tx, ctx, ino)
		if err != nil {
			return err
		}

		pos := 0
		for pos < len(p) {
			chunkIdx := int64((off + uint64(pos)) / ChunkSize)
			chunkOff := int((off + uint64(pos)) % ChunkSize)
			writeLen := min(ChunkSize-chunkOff, len(p)-pos)

			// Partial chunk writes merge with whatever is stored.
			var existing []byte
			if chunkOff > 0 || writeLen < ChunkSize {
				existing, err = b.db.GetContentChunkWith(tx, ctx, int64(ino), chunkIdx)
				if err != nil {
					return err
				}
			}
			newChunk := make([]byte, max(len(existing), chunkOff+writeLen))
			copy(newChunk, existing)
			copy(newChunk[chunkOff:], p[pos:pos+writeLen])

			if err := b.db.UpsertContentChunkWith(tx, ctx, int64(ino), chunkIdx, newChunk); err != nil {
				return err
			}
			pos += writeLen
		}

		if int64(end) > inode.Size {
			return b.db.SetInodeSizeWith(tx, ctx, int64(ino), int64(end))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// Truncate implements vfs.Backend. Shrinking physically trims the cut
// chunk and drops everything beyond it so stale bytes can never resurface;
// growing records only the new size.
func (b *Backend) Truncate(ctx context.Context, ino vfs.Ino, size uint64) error {
	log.Tracef("[SQLFS] Truncate: ino=%d size=%d", ino, size)
	if size > math.MaxInt64 {
		return common.ErrNoSpace
	}
	return b.runTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		inode, err := b.fileWith(tx, ctx, ino)
		if err != nil {
			return err
		}
		if int64(size) < inode.Size {
			cutChunk := int64(size / ChunkSize)
			cutOff := int(size % ChunkSize)
			if cutOff > 0 {
				existing, err := b.db.GetContentChunkWith(tx, ctx, int64(ino), cutChunk)
				if err != nil {
					return err
				}
				if len(existing) > cutOff {
					if err := b.db.UpsertContentChunkWith(tx, ctx, int64(ino), cutChunk, existing[:cutOff]); err != nil {
						return err
					}
				}
				cutChunk++
			}
			if err := b.db.DeleteContentFromWith(tx, ctx, int64(ino), cutChunk); err != nil {
				return err
			}
		}
		if int64(size) != inode.Size {
			return b.db.SetInodeSizeWith(tx, ctx, int64(ino), int64(size))
		}
		return nil
	})
}

// Stat implements vfs.Backend. Directory sizes are synthetic: a fixed
// number of bytes per entry.
func (b *Backend) Stat(ctx context.Context, ino vfs.Ino) (vfs.Stat, error) {
	inode, err := b.db.GetInode(ctx, int64(ino))
	if err != nil {
		return vfs.Stat{}, err
	}
	st := vfs.Stat{Ino: ino, Nlink: uint32(inode.Nlink), Type: vfs.FileType(inode.Type)}
	if inode.Type == TypeDir {
		count, err := b.db.CountDentries(ctx, int64(ino))
		if err != nil {
			return vfs.Stat{}, err
		}
		st.Size = uint64(count) * dirEntryStatSize
	} else {
		st.Size = uint64(inode.Size)
	}
	return st, nil
}

// Release implements vfs.Backend. Called when the last pin drops; frees
// the inode's rows if no name refers to it anymore.
func (b *Backend) Release(ctx context.Context, ino vfs.Ino) error {
	return b.runTx(ctx, func(ctx context.Context, tx bun.Tx) error {
		inode, err := b.db.GetInodeWith(tx, ctx, int64(ino))
		if err != nil {
			return err
		}
		if inode.Nlink > 0 {
			return nil
		}
		log.Tracef("[SQLFS] Release: freeing ino=%d", ino)
		switch inode.Type {
		case TypeFile:
			if err := b.db.DeleteContentWith(tx, ctx, int64(ino)); err != nil {
				return err
			}
		case TypeSymlink:
			if err := b.db.DeleteSymlinkWith(tx, ctx, int64(ino)); err != nil {
				return err
			}
		}
		return b.db.DeleteInodeWith(tx, ctx, int64(ino))
	})
}

// Sync implements vfs.Backend by checkpointing the WAL.
func (b *Backend) Sync(ctx context.Context) error {
	return b.vol.Sync()
}

// Close implements vfs.Backend.
func (b *Backend) Close(ctx context.Context) error {
	log.Debugf("[SQLFS] Close: %s", b.vol.Path())
	return b.vol.Close()
}
