package vfs

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Process is one process's view of the namespace: a descriptor table, a
// working directory and an address space for memory mappings. The
// exported methods form the syscall surface and return encoded int64
// results; the lowercase natives underneath return ordinary Go errors
// and serve in-process callers such as the billy adapter.
type Process struct {
	vfs *VFS

	// mu guards the descriptor table, the address space and done. The
	// working directory fields are guarded by vfs.mu instead, because
	// every reader is a resolution that already holds the namespace
	// lock.
	mu   sync.Mutex
	fds  *fdTable
	as   *addressSpace
	done bool

	cwd     ref
	cwdPath string
}

// =============================================================================
// Descriptor Natives
// =============================================================================

// handle fetches the live handle for fd, without keeping the table lock
// across the caller's I/O.
func (p *Process) handle(fd int) (*fileHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fds.get(fd)
}

func (p *Process) open(ctx context.Context, pathname string, flags int) (int, error) {
	if flags&^O_CREATE != 0 {
		return 0, EINVAL
	}
	v := p.vfs
	v.mu.Lock()
	defer v.mu.Unlock()

	r, err := v.resolve(ctx, p.cwd, pathname, true)
	if err != nil {
		if flags&O_CREATE == 0 || toErrno(err) != ENOENT {
			return 0, err
		}
		dir, name := splitParent(pathname)
		parent, perr := v.resolve(ctx, p.cwd, dir, true)
		if perr != nil {
			return 0, perr
		}
		if nerr := checkCreateName(name); nerr != nil {
			return 0, nerr
		}
		ino, cerr := parent.mnt.backend.Create(ctx, parent.ino, name)
		if cerr != nil {
			return 0, cerr
		}
		r = ref{mnt: parent.mnt, ino: ino}
	}
	st, err := r.mnt.backend.Stat(ctx, r.ino)
	if err != nil {
		return 0, err
	}
	if st.Type == TypeSymlink {
		// Only the create fallback can land here: the name exists as a
		// symlink whose target does not.
		return 0, ENOENT
	}
	if st.Type == TypeDir && flags&O_CREATE != 0 {
		return 0, EISDIR
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	h := &fileHandle{mnt: r.mnt, ino: r.ino, isDir: st.Type == TypeDir, flags: flags, refs: 1}
	fd, err := p.fds.allocate(h)
	if err != nil {
		return 0, err
	}
	v.pinLocked(r)
	return fd, nil
}

func (p *Process) closeFD(ctx context.Context, fd int) error {
	v := p.vfs
	v.mu.Lock()
	defer v.mu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeSlotLocked(ctx, fd)
}

// closeSlotLocked drops one descriptor slot. Both the namespace lock and
// the process lock are held.
func (p *Process) closeSlotLocked(ctx context.Context, fd int) error {
	h, err := p.fds.clear(fd)
	if err != nil {
		return err
	}
	h.refs--
	if h.refs == 0 {
		p.vfs.unpinLocked(ctx, ref{mnt: h.mnt, ino: h.ino})
	}
	return nil
}

func (p *Process) read(ctx context.Context, fd int, buf []byte) (int, error) {
	h, err := p.handle(fd)
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.isDir {
		return 0, EISDIR
	}
	n, err := h.mnt.backend.ReadAt(ctx, h.ino, buf, uint64(h.cursor))
	if err != nil {
		return 0, err
	}
	h.cursor += int64(n)
	return n, nil
}

func (p *Process) write(ctx context.Context, fd int, data []byte) (int, error) {
	h, err := p.handle(fd)
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.isDir {
		return 0, EISDIR
	}
	n, err := h.mnt.backend.WriteAt(ctx, h.ino, data, uint64(h.cursor))
	if err != nil {
		return 0, err
	}
	h.cursor += int64(n)
	return n, nil
}

// pread and pwrite transfer at an explicit offset without moving the
// descriptor cursor. They are not part of the syscall surface; the
// billy adapter is built on them.
func (p *Process) pread(ctx context.Context, fd int, buf []byte, off int64) (int, error) {
	if off < 0 {
		return 0, EINVAL
	}
	h, err := p.handle(fd)
	if err != nil {
		return 0, err
	}
	if h.isDir {
		return 0, EISDIR
	}
	return h.mnt.backend.ReadAt(ctx, h.ino, buf, uint64(off))
}

func (p *Process) pwrite(ctx context.Context, fd int, data []byte, off int64) (int, error) {
	if off < 0 {
		return 0, EINVAL
	}
	h, err := p.handle(fd)
	if err != nil {
		return 0, err
	}
	if h.isDir {
		return 0, EISDIR
	}
	return h.mnt.backend.WriteAt(ctx, h.ino, data, uint64(off))
}

func (p *Process) lseek(ctx context.Context, fd int, offset int64, whence int) (int64, error) {
	h, err := p.handle(fd)
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	var pos int64
	switch whence {
	case SeekSet:
		// On a directory this is seekdir: the offset is an entry ID
		// previously reported by getdents.
		pos = offset
	case SeekCur:
		if h.isDir {
			return 0, EISDIR
		}
		pos = h.cursor + offset
	case SeekEnd:
		if h.isDir {
			return 0, EISDIR
		}
		st, serr := h.mnt.backend.Stat(ctx, h.ino)
		if serr != nil {
			return 0, serr
		}
		pos = int64(st.Size) + offset
	default:
		return 0, EINVAL
	}
	if pos < 0 {
		return 0, EINVAL
	}
	h.cursor = pos
	return pos, nil
}

func (p *Process) ftruncate(ctx context.Context, fd int, size int64) error {
	if size < 0 {
		return EINVAL
	}
	h, err := p.handle(fd)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.isDir {
		return EISDIR
	}
	if err := h.mnt.backend.Truncate(ctx, h.ino, uint64(size)); err != nil {
		return err
	}
	// Only this descriptor's cursor is clamped; other descriptors on
	// the same file keep their positions.
	if h.cursor > size {
		h.cursor = size
	}
	return nil
}

func (p *Process) fstat(ctx context.Context, fd int) (Stat, error) {
	h, err := p.handle(fd)
	if err != nil {
		return Stat{}, err
	}
	return h.mnt.backend.Stat(ctx, h.ino)
}

// stat resolves a path and reports its metadata. Not part of the
// syscall surface; the billy adapter needs path-based Stat and Lstat.
func (p *Process) stat(ctx context.Context, pathname string, follow bool) (Stat, error) {
	v := p.vfs
	v.mu.RLock()
	defer v.mu.RUnlock()
	r, err := v.resolve(ctx, p.cwd, pathname, follow)
	if err != nil {
		return Stat{}, err
	}
	return r.mnt.backend.Stat(ctx, r.ino)
}

func (p *Process) getdents(ctx context.Context, fd int, buf []byte) (int, error) {
	h, err := p.handle(fd)
	if err != nil {
		return 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.isDir {
		return 0, ENOTDIR
	}
	// Fetch at most as many entries as the smallest record could pack;
	// encoding stops earlier when names are long.
	max := len(buf)/direntSize("") + 1
	entries, err := h.mnt.backend.ReadDir(ctx, h.ino, uint64(h.cursor), max)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	n, consumed, err := encodeDirents(entries, buf)
	if err != nil {
		return 0, err
	}
	h.cursor = int64(entries[consumed-1].EntryID) + 1
	return n, nil
}

// readDir enumerates a directory by path in one call. Not part of the
// syscall surface.
func (p *Process) readDir(ctx context.Context, pathname string) ([]DirEntry, error) {
	v := p.vfs
	v.mu.RLock()
	defer v.mu.RUnlock()
	r, err := v.resolve(ctx, p.cwd, pathname, true)
	if err != nil {
		return nil, err
	}
	return r.mnt.backend.ReadDir(ctx, r.ino, 0, 0)
}

func (p *Process) dup(fd int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, err := p.fds.get(fd)
	if err != nil {
		return 0, err
	}
	nfd, err := p.fds.allocate(h)
	if err != nil {
		return 0, err
	}
	h.refs++
	return nfd, nil
}

func (p *Process) dup2(ctx context.Context, oldfd, newfd int) (int, error) {
	v := p.vfs
	v.mu.Lock()
	defer v.mu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()

	h, err := p.fds.get(oldfd)
	if err != nil {
		return 0, err
	}
	if newfd < 0 || newfd >= p.fds.max {
		return 0, EBADF
	}
	if oldfd == newfd {
		return newfd, nil
	}
	// Implicit close of whatever occupied the target slot.
	if old, cerr := p.fds.clear(newfd); cerr == nil {
		old.refs--
		if old.refs == 0 {
			v.unpinLocked(ctx, ref{mnt: old.mnt, ino: old.ino})
		}
	}
	if err := p.fds.place(newfd, h); err != nil {
		return 0, err
	}
	h.refs++
	return newfd, nil
}

// =============================================================================
// Namespace Natives
// =============================================================================

func (p *Process) mkdir(ctx context.Context, pathname string) error {
	v := p.vfs
	v.mu.Lock()
	defer v.mu.Unlock()

	dir, name := splitParent(pathname)
	parent, err := v.resolve(ctx, p.cwd, dir, true)
	if err != nil {
		return err
	}
	if err := checkCreateName(name); err != nil {
		return err
	}
	_, err = parent.mnt.backend.Mkdir(ctx, parent.ino, name)
	return err
}

func (p *Process) unlink(ctx context.Context, pathname string) error {
	v := p.vfs
	v.mu.Lock()
	defer v.mu.Unlock()

	dir, name := splitParent(pathname)
	parent, err := v.resolve(ctx, p.cwd, dir, true)
	if err != nil {
		return err
	}
	if err := checkRemoveName(name); err != nil {
		return err
	}
	ino, err := parent.mnt.backend.Lookup(ctx, parent.ino, name)
	if err != nil {
		return err
	}
	if err := parent.mnt.backend.Unlink(ctx, parent.ino, name); err != nil {
		return err
	}
	v.releaseIfIdleLocked(ctx, ref{mnt: parent.mnt, ino: ino})
	return nil
}

func (p *Process) rmdir(ctx context.Context, pathname string) error {
	v := p.vfs
	v.mu.Lock()
	defer v.mu.Unlock()

	dir, name := splitParent(pathname)
	parent, err := v.resolve(ctx, p.cwd, dir, true)
	if err != nil {
		return err
	}
	if err := checkRemoveName(name); err != nil {
		return err
	}
	ino, err := parent.mnt.backend.Lookup(ctx, parent.ino, name)
	if err != nil {
		return err
	}
	if _, covered := v.mounts.covering(parent.mnt, ino); covered {
		return EBUSY
	}
	if err := parent.mnt.backend.Rmdir(ctx, parent.ino, name); err != nil {
		return err
	}
	v.releaseIfIdleLocked(ctx, ref{mnt: parent.mnt, ino: ino})
	return nil
}

func (p *Process) link(ctx context.Context, oldpath, newpath string) error {
	v := p.vfs
	v.mu.Lock()
	defer v.mu.Unlock()

	src, err := v.resolve(ctx, p.cwd, oldpath, false)
	if err != nil {
		return err
	}
	dir, name := splitParent(newpath)
	parent, err := v.resolve(ctx, p.cwd, dir, true)
	if err != nil {
		return err
	}
	if err := checkCreateName(name); err != nil {
		return err
	}
	if src.mnt != parent.mnt {
		return EXDEV
	}
	return parent.mnt.backend.Link(ctx, parent.ino, name, src.ino)
}

func (p *Process) symlink(ctx context.Context, target, linkpath string) error {
	v := p.vfs
	v.mu.Lock()
	defer v.mu.Unlock()

	dir, name := splitParent(linkpath)
	parent, err := v.resolve(ctx, p.cwd, dir, true)
	if err != nil {
		return err
	}
	if err := checkCreateName(name); err != nil {
		return err
	}
	_, err = parent.mnt.backend.Symlink(ctx, parent.ino, name, target)
	return err
}

func (p *Process) readlink(ctx context.Context, pathname string) (string, error) {
	v := p.vfs
	v.mu.RLock()
	defer v.mu.RUnlock()

	r, err := v.resolve(ctx, p.cwd, pathname, false)
	if err != nil {
		return "", err
	}
	return r.mnt.backend.Readlink(ctx, r.ino)
}

func (p *Process) rename(ctx context.Context, oldpath, newpath string) error {
	v := p.vfs
	v.mu.Lock()
	defer v.mu.Unlock()

	srcDir, srcName := splitParent(oldpath)
	dstDir, dstName := splitParent(newpath)
	sp, err := v.resolve(ctx, p.cwd, srcDir, true)
	if err != nil {
		return err
	}
	if err := checkRemoveName(srcName); err != nil {
		return err
	}
	dp, err := v.resolve(ctx, p.cwd, dstDir, true)
	if err != nil {
		return err
	}
	if err := checkCreateName(dstName); err != nil {
		return err
	}
	if sp.mnt != dp.mnt {
		return EXDEV
	}
	srcIno, err := sp.mnt.backend.Lookup(ctx, sp.ino, srcName)
	if err != nil {
		return err
	}
	if _, covered := v.mounts.covering(sp.mnt, srcIno); covered {
		return EBUSY
	}
	var replaced ref
	haveReplaced := false
	if dstIno, lerr := dp.mnt.backend.Lookup(ctx, dp.ino, dstName); lerr == nil {
		if _, covered := v.mounts.covering(dp.mnt, dstIno); covered {
			return EBUSY
		}
		if dstIno != srcIno {
			replaced = ref{mnt: dp.mnt, ino: dstIno}
			haveReplaced = true
		}
	}
	if err := sp.mnt.backend.Rename(ctx, sp.ino, srcName, dp.ino, dstName); err != nil {
		return err
	}
	if haveReplaced {
		v.releaseIfIdleLocked(ctx, replaced)
	}
	return nil
}

func (p *Process) chdir(ctx context.Context, pathname string) error {
	v := p.vfs
	v.mu.Lock()
	defer v.mu.Unlock()

	r, err := v.resolve(ctx, p.cwd, pathname, true)
	if err != nil {
		return err
	}
	st, err := r.mnt.backend.Stat(ctx, r.ino)
	if err != nil {
		return err
	}
	if st.Type != TypeDir {
		return ENOTDIR
	}
	// Pin the new directory before dropping the old one, so chdir(".")
	// never lets the only pin go.
	v.pinLocked(r)
	v.unpinLocked(ctx, p.cwd)
	p.cwd = r
	p.cwdPath = joinCwd(p.cwdPath, pathname)
	return nil
}

func (p *Process) getcwdPath() string {
	v := p.vfs
	v.mu.RLock()
	defer v.mu.RUnlock()
	return p.cwdPath
}

func (p *Process) mount(ctx context.Context, device, target, fstype string) error {
	v := p.vfs
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mountLocked(ctx, p.cwd, device, target, fstype)
}

func (p *Process) unmount(ctx context.Context, target string) error {
	v := p.vfs
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.unmountLocked(ctx, p.cwd, target)
}

// =============================================================================
// Mapping Natives
// =============================================================================

func (p *Process) mmap(ctx context.Context, addr, length uint64, prot, flags, fd int, offset int64) (uint64, error) {
	if length == 0 || offset < 0 || offset%PageSize != 0 {
		return 0, EINVAL
	}
	if prot != ProtRead {
		// Write-shared mappings are not provided.
		return 0, EINVAL
	}
	_ = flags // accepted for call-shape compatibility; no flag changes behavior

	h, err := p.handle(fd)
	if err != nil {
		return 0, err
	}
	if h.isDir {
		return 0, EISDIR
	}
	st, err := h.mnt.backend.Stat(ctx, h.ino)
	if err != nil {
		return 0, err
	}
	end := uint64(offset) + length
	if end < length || end > st.Size {
		// The backend cannot supply content past the end of the file.
		return 0, EINVAL
	}
	rounded := pageRound(length)
	if rounded == 0 {
		return 0, EINVAL
	}
	// Snapshot the content before touching any table; a mapping holds
	// bytes as of map time, not live pages.
	data := make([]byte, rounded)
	if _, err := h.mnt.backend.ReadAt(ctx, h.ino, data[:length], uint64(offset)); err != nil {
		return 0, err
	}

	v := p.vfs
	v.mu.Lock()
	defer v.mu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	a, err := p.as.place(addr, rounded)
	if err != nil {
		return 0, err
	}
	p.as.insert(&mapping{addr: a, length: rounded, mnt: h.mnt, ino: h.ino, data: data})
	v.pinLocked(ref{mnt: h.mnt, ino: h.ino})
	return a, nil
}

func (p *Process) munmap(ctx context.Context, addr, length uint64) error {
	if length == 0 {
		return EINVAL
	}
	v := p.vfs
	v.mu.Lock()
	defer v.mu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	m, err := p.as.remove(addr, pageRound(length))
	if err != nil {
		return err
	}
	v.unpinLocked(ctx, ref{mnt: m.mnt, ino: m.ino})
	return nil
}

func (p *Process) readMapped(addr uint64, buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.as.read(addr, buf)
}

func (p *Process) closeAll(ctx context.Context) {
	v := p.vfs
	v.mu.Lock()
	defer v.mu.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	p.done = true
	for fd := range p.fds.slots {
		if p.fds.slots[fd] != nil {
			_ = p.closeSlotLocked(ctx, fd)
		}
	}
	for addr, m := range p.as.mappings {
		delete(p.as.mappings, addr)
		v.unpinLocked(ctx, ref{mnt: m.mnt, ino: m.ino})
	}
	v.unpinLocked(ctx, p.cwd)
}

// =============================================================================
// Syscall Surface
// =============================================================================

// Open opens pathname and returns a descriptor. With O_CREATE a missing
// final component is created as an empty file; an existing file is
// opened untouched.
func (p *Process) Open(pathname string, flags int) (res int64) {
	defer recoverVFSPanic("Open", &res)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Open %q → %d (%v)", pathname, res, time.Since(start)) }()
	}
	log.Debugf("[VFS] Open: path=%q flags=%#x", pathname, flags)
	fd, err := p.open(context.Background(), pathname, flags)
	return valueResult(int64(fd), err)
}

// Close releases a descriptor.
func (p *Process) Close(fd int) (res int64) {
	defer recoverVFSPanic("Close", &res)
	log.Debugf("[VFS] Close: fd=%d", fd)
	return errnoResult(p.closeFD(context.Background(), fd))
}

// Read transfers up to len(buf) bytes from the descriptor's cursor and
// advances it. Returns the byte count; 0 means end of file.
func (p *Process) Read(fd int, buf []byte) (res int64) {
	defer recoverVFSPanic("Read", &res)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Read fd=%d len=%d → %d (%v)", fd, len(buf), res, time.Since(start)) }()
	}
	n, err := p.read(context.Background(), fd, buf)
	return valueResult(int64(n), err)
}

// Write transfers len(data) bytes at the descriptor's cursor and
// advances it. Writing past the end of the file extends it.
func (p *Process) Write(fd int, data []byte) (res int64) {
	defer recoverVFSPanic("Write", &res)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Write fd=%d len=%d → %d (%v)", fd, len(data), res, time.Since(start)) }()
	}
	n, err := p.write(context.Background(), fd, data)
	return valueResult(int64(n), err)
}

// Lseek64 repositions the descriptor's cursor and returns the new
// position. On a directory only SEEK_SET is meaningful: the offset is
// an entry ID from a getdents record.
func (p *Process) Lseek64(fd int, offset int64, whence int) (res int64) {
	defer recoverVFSPanic("Lseek64", &res)
	log.Debugf("[VFS] Lseek64: fd=%d offset=%d whence=%d", fd, offset, whence)
	pos, err := p.lseek(context.Background(), fd, offset, whence)
	return valueResult(pos, err)
}

// Ftruncate sets the file's size. Only the calling descriptor's cursor
// is clamped when it ends up past the new end.
func (p *Process) Ftruncate(fd int, size int64) (res int64) {
	defer recoverVFSPanic("Ftruncate", &res)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Ftruncate fd=%d size=%d → %d (%v)", fd, size, res, time.Since(start)) }()
	}
	log.Debugf("[VFS] Ftruncate: fd=%d size=%d", fd, size)
	return errnoResult(p.ftruncate(context.Background(), fd, size))
}

// Fstat reports metadata for an open descriptor. The status is 0 on
// success or a negated errno; the Stat is zero-valued on failure.
func (p *Process) Fstat(fd int) (st Stat, res int64) {
	defer recoverVFSPanic("Fstat", &res)
	s, err := p.fstat(context.Background(), fd)
	if err != nil {
		return Stat{}, errnoResult(err)
	}
	return s, 0
}

// Getdents fills buf with encoded directory records starting at the
// descriptor's position and advances it past the last record returned.
// Returns the bytes written; 0 means the directory is exhausted.
func (p *Process) Getdents(fd int, buf []byte) (res int64) {
	defer recoverVFSPanic("Getdents", &res)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Getdents fd=%d → %d (%v)", fd, res, time.Since(start)) }()
	}
	n, err := p.getdents(context.Background(), fd, buf)
	return valueResult(int64(n), err)
}

// Mkdir creates an empty directory.
func (p *Process) Mkdir(pathname string) (res int64) {
	defer recoverVFSPanic("Mkdir", &res)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Mkdir %q → %d (%v)", pathname, res, time.Since(start)) }()
	}
	log.Debugf("[VFS] Mkdir: path=%q", pathname)
	return errnoResult(p.mkdir(context.Background(), pathname))
}

// Unlink removes a name. The inode survives while other names or open
// descriptors still reach it.
func (p *Process) Unlink(pathname string) (res int64) {
	defer recoverVFSPanic("Unlink", &res)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Unlink %q → %d (%v)", pathname, res, time.Since(start)) }()
	}
	log.Debugf("[VFS] Unlink: path=%q", pathname)
	return errnoResult(p.unlink(context.Background(), pathname))
}

// Rmdir removes an empty directory.
func (p *Process) Rmdir(pathname string) (res int64) {
	defer recoverVFSPanic("Rmdir", &res)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Rmdir %q → %d (%v)", pathname, res, time.Since(start)) }()
	}
	log.Debugf("[VFS] Rmdir: path=%q", pathname)
	return errnoResult(p.rmdir(context.Background(), pathname))
}

// Link makes newpath a second name for the file at oldpath. Both must
// live on the same mount.
func (p *Process) Link(oldpath, newpath string) (res int64) {
	defer recoverVFSPanic("Link", &res)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Link %q %q → %d (%v)", oldpath, newpath, res, time.Since(start)) }()
	}
	log.Debugf("[VFS] Link: old=%q new=%q", oldpath, newpath)
	return errnoResult(p.link(context.Background(), oldpath, newpath))
}

// Symlink creates a symbolic link at linkpath holding target verbatim.
func (p *Process) Symlink(target, linkpath string) (res int64) {
	defer recoverVFSPanic("Symlink", &res)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Symlink %q → %d (%v)", linkpath, res, time.Since(start)) }()
	}
	log.Debugf("[VFS] Symlink: target=%q link=%q", target, linkpath)
	return errnoResult(p.symlink(context.Background(), target, linkpath))
}

// Readlink copies the link's target into buf without following it.
// Like the C call, the result is truncated to fit, no NUL is added, and
// the byte count placed is returned.
func (p *Process) Readlink(pathname string, buf []byte) (res int64) {
	defer recoverVFSPanic("Readlink", &res)
	log.Debugf("[VFS] Readlink: path=%q", pathname)
	target, err := p.readlink(context.Background(), pathname)
	if err != nil {
		return errnoResult(err)
	}
	return int64(copy(buf, target))
}

// Rename moves a name within one mount, atomically replacing a
// compatible destination.
func (p *Process) Rename(oldpath, newpath string) (res int64) {
	defer recoverVFSPanic("Rename", &res)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Rename %q %q → %d (%v)", oldpath, newpath, res, time.Since(start)) }()
	}
	log.Debugf("[VFS] Rename: old=%q new=%q", oldpath, newpath)
	return errnoResult(p.rename(context.Background(), oldpath, newpath))
}

// Chdir moves the working directory. The directory stays pinned, so its
// mount reports busy until the process moves away or exits.
func (p *Process) Chdir(pathname string) (res int64) {
	defer recoverVFSPanic("Chdir", &res)
	log.Debugf("[VFS] Chdir: path=%q", pathname)
	return errnoResult(p.chdir(context.Background(), pathname))
}

// Getcwd copies the working directory path and a trailing NUL into buf.
// The status is 0, or -ERANGE when buf cannot hold both.
func (p *Process) Getcwd(buf []byte) (res int64) {
	defer recoverVFSPanic("Getcwd", &res)
	cwd := p.getcwdPath()
	if len(buf) < len(cwd)+1 {
		return -int64(ERANGE)
	}
	n := copy(buf, cwd)
	buf[n] = 0
	return 0
}

// Mount grafts a filesystem of the registered type fstype over the
// directory at target.
func (p *Process) Mount(device, target, fstype string) (res int64) {
	defer recoverVFSPanic("Mount", &res)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Mount %q → %d (%v)", target, res, time.Since(start)) }()
	}
	log.Debugf("[VFS] Mount: device=%q target=%q fstype=%q", device, target, fstype)
	return errnoResult(p.mount(context.Background(), device, target, fstype))
}

// Unmount detaches the mount at target after flushing it. A mount with
// open descriptors, working directories, mappings or child mounts
// inside reports busy.
func (p *Process) Unmount(target string) (res int64) {
	defer recoverVFSPanic("Unmount", &res)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Unmount %q → %d (%v)", target, res, time.Since(start)) }()
	}
	log.Debugf("[VFS] Unmount: target=%q", target)
	return errnoResult(p.unmount(context.Background(), target))
}

// Sync flushes every mounted backend and blocks until they report
// durability.
func (p *Process) Sync() (res int64) {
	defer recoverVFSPanic("Sync", &res)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Sync → %d (%v)", res, time.Since(start)) }()
	}
	log.Debugf("[VFS] Sync")
	return errnoResult(p.vfs.syncAll(context.Background()))
}

// Mmap maps length bytes of the file at offset and returns the address.
// The mapping snapshots content at map time and pins the backing inode;
// only read access is provided. A zero addr lets the kernel-side
// allocator place the mapping.
func (p *Process) Mmap(addr, length uint64, prot, flags, fd int, offset int64) (res int64) {
	defer recoverVFSPanic("Mmap", &res)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Mmap fd=%d len=%d → %#x (%v)", fd, length, res, time.Since(start)) }()
	}
	log.Debugf("[VFS] Mmap: addr=%#x length=%d prot=%d fd=%d offset=%d", addr, length, prot, fd, offset)
	a, err := p.mmap(context.Background(), addr, length, prot, flags, fd, offset)
	return valueResult(int64(a), err)
}

// Munmap removes exactly one prior mapping and drops its pin.
func (p *Process) Munmap(addr, length uint64) (res int64) {
	defer recoverVFSPanic("Munmap", &res)
	log.Debugf("[VFS] Munmap: addr=%#x length=%d", addr, length)
	return errnoResult(p.munmap(context.Background(), addr, length))
}

// ReadMapped copies bytes out of a live mapping, the way a load through
// the mapped pointer would. Any byte outside a mapping faults.
func (p *Process) ReadMapped(addr uint64, buf []byte) (res int64) {
	defer recoverVFSPanic("ReadMapped", &res)
	n, err := p.readMapped(addr, buf)
	return valueResult(int64(n), err)
}

// Dup returns a new descriptor sharing the open file description, the
// cursor included, at the smallest free number.
func (p *Process) Dup(fd int) (res int64) {
	defer recoverVFSPanic("Dup", &res)
	log.Debugf("[VFS] Dup: fd=%d", fd)
	nfd, err := p.dup(fd)
	return valueResult(int64(nfd), err)
}

// Dup2 makes newfd refer to oldfd's open file description, closing
// whatever newfd held. Duplicating a descriptor onto itself is a no-op.
func (p *Process) Dup2(oldfd, newfd int) (res int64) {
	defer recoverVFSPanic("Dup2", &res)
	log.Debugf("[VFS] Dup2: oldfd=%d newfd=%d", oldfd, newfd)
	nfd, err := p.dup2(context.Background(), oldfd, newfd)
	return valueResult(int64(nfd), err)
}

// CloseAll tears the process view down: every descriptor, mapping and
// the working directory pin are released. The process must not be used
// afterwards; calling it again is harmless.
func (p *Process) CloseAll() (res int64) {
	defer recoverVFSPanic("CloseAll", &res)
	log.Debugf("[VFS] CloseAll")
	p.closeAll(context.Background())
	return 0
}
