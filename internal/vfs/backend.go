package vfs

import "context"

// Backend is the inode-store contract a filesystem implements to be
// mountable. Backends deal purely in inodes within their own namespace:
// path walking, mount crossing, symlink expansion, descriptor state, and
// errno translation all live above this interface.
//
// Name arguments are single path components, never slash-separated paths.
// Errors are the common package sentinels (possibly wrapped); backends
// never return errno values.
type Backend interface {
	// Root returns the inode of the filesystem root directory.
	Root() Ino

	// Lookup resolves name within the directory dir.
	// Returns ErrNotDir if dir is not a directory, ErrNotFound if the
	// name is absent or dir has been removed.
	Lookup(ctx context.Context, dir Ino, name string) (Ino, error)

	// ParentOf returns the parent directory of dir. The root is its own
	// parent.
	ParentOf(ctx context.Context, dir Ino) (Ino, error)

	// Create opens name in dir as a regular file, allocating a new inode
	// if the name is absent. An existing regular file is returned as-is,
	// with its content intact. Returns ErrIsDir if name is a directory.
	Create(ctx context.Context, dir Ino, name string) (Ino, error)

	// Mkdir creates an empty directory. Returns ErrExists if the name is
	// taken.
	Mkdir(ctx context.Context, dir Ino, name string) (Ino, error)

	// Symlink creates a symlink holding target verbatim; target is never
	// validated or resolved here.
	Symlink(ctx context.Context, dir Ino, name, target string) (Ino, error)

	// Link adds name in dir as a new hard link to target, incrementing
	// its link count. Directories cannot be linked (ErrIsDir); exceeding
	// the link ceiling returns ErrTooManyLinks.
	Link(ctx context.Context, dir Ino, name string, target Ino) error

	// Unlink removes a non-directory name from dir and decrements the
	// inode's link count. The inode's content survives until the count
	// reaches zero and the last pin is released. Returns ErrIsDir for
	// directories.
	Unlink(ctx context.Context, dir Ino, name string) error

	// Rmdir removes an empty directory. Returns ErrNotEmpty if entries
	// remain, ErrNotDir if name is not a directory.
	Rmdir(ctx context.Context, dir Ino, name string) error

	// Rename atomically moves srcName in srcDir to dstName in dstDir,
	// replacing a compatible existing destination (file over file, dir
	// over empty dir). Either both the removal and the insertion happen
	// or neither does.
	Rename(ctx context.Context, srcDir Ino, srcName string, dstDir Ino, dstName string) error

	// ReadDir returns up to max entries of dir whose EntryID is >= fromID,
	// in ascending EntryID order. Passing a previously returned EntryID
	// yields that same entry again, which is what directory seeking needs.
	// max <= 0 means no limit.
	ReadDir(ctx context.Context, dir Ino, fromID uint64, max int) ([]DirEntry, error)

	// Readlink returns the stored symlink target. Returns ErrNotSymlink
	// for other inode types.
	Readlink(ctx context.Context, ino Ino) (string, error)

	// ReadAt reads into p starting at off. Short reads happen only at
	// end of file; reading at or past the end returns 0, nil.
	ReadAt(ctx context.Context, ino Ino, p []byte, off uint64) (int, error)

	// WriteAt writes p at off, extending the file as needed. Regions
	// between the old end and off read back as zeros.
	WriteAt(ctx context.Context, ino Ino, p []byte, off uint64) (int, error)

	// Truncate sets the file size, discarding or zero-extending content.
	Truncate(ctx context.Context, ino Ino, size uint64) error

	// Stat reports current metadata for any inode type.
	Stat(ctx context.Context, ino Ino) (Stat, error)

	// Release is called once when the last pin on ino is dropped. If the
	// inode's link count is zero its storage is reclaimed; otherwise this
	// is a no-op.
	Release(ctx context.Context, ino Ino) error

	// Sync flushes buffered state to durable storage. Ephemeral backends
	// may make this a no-op.
	Sync(ctx context.Context) error

	// Close tears the backend down after its final unmount. No calls
	// follow Close.
	Close(ctx context.Context) error
}
