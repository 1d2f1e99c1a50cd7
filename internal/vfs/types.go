package vfs

// Ino identifies an inode within a single filesystem. Inode numbers are
// only meaningful together with the filesystem that issued them; the same
// value may appear on every mounted filesystem.
type Ino = uint32

// FileType tags an inode as a regular file, a symlink, or a directory.
// The numeric values appear verbatim in encoded Stat and Dirent records.
type FileType uint8

const (
	// TypeFile is a regular file
	TypeFile FileType = 1
	// TypeSymlink is a symbolic link
	TypeSymlink FileType = 2
	// TypeDir is a directory
	TypeDir FileType = 3
)

// Stat is the caller-visible metadata for an inode.
type Stat struct {
	Ino   Ino
	Nlink uint32
	Size  uint64
	Type  FileType
}

// DirEntry is one directory entry as reported by a backend. EntryID is the
// backend-assigned ordering token: IDs are unique within a directory,
// assigned in insertion order, and never reused, so a reader can resume an
// interrupted listing from any previously seen ID.
type DirEntry struct {
	EntryID uint64
	Ino     Ino
	Type    FileType
	Name    string
}

// Open flags. O_CREATE is the only flag honored; any other bit is rejected.
const (
	O_CREATE = 64
)

// Whence values for Seek.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// Memory protection bits for Mmap. Only read-only mappings are supported.
const (
	ProtRead  = 1
	ProtWrite = 2
)

// PageSize is the mapping granularity: Mmap addresses and lengths are
// rounded to this boundary.
const PageSize = 4096

// Limits bounds the per-instance resource tables.
type Limits struct {
	// MaxOpenFiles caps descriptors per process table.
	MaxOpenFiles int
	// MaxMounts caps concurrently mounted filesystems.
	MaxMounts int
	// MaxSymlinkDepth caps symlink expansions in a single resolution.
	MaxSymlinkDepth int
	// MaxNlink caps hard links per inode.
	MaxNlink uint32
}

// DefaultLimits returns the limits used when a caller passes a zero value.
func DefaultLimits() Limits {
	return Limits{
		MaxOpenFiles:    1024,
		MaxMounts:       256,
		MaxSymlinkDepth: 32,
		MaxNlink:        65535,
	}
}

// withDefaults fills in any zero field from DefaultLimits.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxOpenFiles <= 0 {
		l.MaxOpenFiles = d.MaxOpenFiles
	}
	if l.MaxMounts <= 0 {
		l.MaxMounts = d.MaxMounts
	}
	if l.MaxSymlinkDepth <= 0 {
		l.MaxSymlinkDepth = d.MaxSymlinkDepth
	}
	if l.MaxNlink == 0 {
		l.MaxNlink = d.MaxNlink
	}
	return l
}
