package vfs

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// BackendFactory builds the backend instance for one mount. The device
// string is interpreted by the filesystem type: a volume path for
// sqlfs, empty for the memory filesystems.
type BackendFactory func(device string, limits Limits) (Backend, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]BackendFactory)
)

// RegisterFS makes a filesystem type mountable. Backends register
// themselves from an init function, driver style; importing the package
// is enough to mount its type.
func RegisterFS(fstype string, factory BackendFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if factory == nil {
		panic("vfs: RegisterFS with nil factory for " + fstype)
	}
	if _, dup := factories[fstype]; dup {
		panic("vfs: RegisterFS called twice for " + fstype)
	}
	factories[fstype] = factory
}

func lookupFactory(fstype string) (BackendFactory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[fstype]
	return f, ok
}

// VFS is a mount namespace: the mount tree, the pin table that keeps
// busy accounting honest, and the limits every process in the namespace
// shares.
//
// mu guards the mount tree, the pins, and every process's working
// directory. Data transfers run against backends without it; only
// namespace walks and mutations take the lock.
type VFS struct {
	mu     sync.RWMutex
	mounts *mountTable
	pins   map[mountKey]int
	limits Limits
}

// New builds a namespace with root mounted at "/". Zero-valued limits
// fields fall back to the defaults.
func New(root Backend, limits Limits) *VFS {
	limits = limits.withDefaults()
	v := &VFS{
		mounts: newMountTable(root, limits.MaxMounts),
		pins:   make(map[mountKey]int),
		limits: limits,
	}
	log.Debugf("[VFS] namespace up: max_fds=%d max_mounts=%d max_symlink_depth=%d",
		limits.MaxOpenFiles, limits.MaxMounts, limits.MaxSymlinkDepth)
	return v
}

// NewProcess creates a process view of the namespace. Every process
// starts with an empty descriptor table and its working directory
// pinned at the root.
func (v *VFS) NewProcess() *Process {
	v.mu.Lock()
	defer v.mu.Unlock()

	cwd := v.rootRef()
	v.pinLocked(cwd)
	return &Process{
		vfs:     v,
		fds:     newFDTable(v.limits.MaxOpenFiles),
		cwd:     cwd,
		cwdPath: "/",
		as:      newAddressSpace(),
	}
}

// pinLocked takes one reference on r. Pins hold the inode alive at its
// backend and keep the mount busy.
func (v *VFS) pinLocked(r ref) {
	v.pins[r.key()]++
	r.mnt.pins++
}

// unpinLocked drops one reference. When the last pin on an inode goes,
// the backend gets its Release call and may reclaim unlinked state.
func (v *VFS) unpinLocked(ctx context.Context, r ref) {
	r.mnt.pins--
	k := r.key()
	if n := v.pins[k]; n > 1 {
		v.pins[k] = n - 1
		return
	}
	delete(v.pins, k)
	if err := r.mnt.backend.Release(ctx, r.ino); err != nil {
		log.Warnf("[VFS] release of ino %d on %s failed: %v", r.ino, r.mnt.fstype, err)
	}
}

// releaseIfIdleLocked hands the backend its Release callback right away
// when an unlink or replace cut a name nobody holds open. Pinned inodes
// get the callback later, from the final unpin.
func (v *VFS) releaseIfIdleLocked(ctx context.Context, r ref) {
	if v.pins[r.key()] > 0 {
		return
	}
	if err := r.mnt.backend.Release(ctx, r.ino); err != nil {
		log.Warnf("[VFS] release of ino %d on %s failed: %v", r.ino, r.mnt.fstype, err)
	}
}

// mountLocked grafts a new filesystem over the directory target names.
// The target must be an empty directory that is not already serving as
// a mount point.
func (v *VFS) mountLocked(ctx context.Context, start ref, device, target, fstype string) error {
	if v.mounts.full() {
		return ENOSPC
	}
	factory, ok := lookupFactory(fstype)
	if !ok {
		return ENODEV
	}
	r, err := v.resolve(ctx, start, target, true)
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
	if r.isRoot() {
		// Already a mount root, the global root included.
		return ENOTEMPTY
	}
	entries, err := r.mnt.backend.ReadDir(ctx, r.ino, 0, 1)
	if err != nil {
		return err
	}
	if len(entries) > 0 {
		return ENOTEMPTY
	}
	backend, err := factory(device, v.limits)
	if err != nil {
		return err
	}
	mp := &mountPoint{
		parent:  r.mnt,
		dirIno:  r.ino,
		backend: backend,
		fstype:  fstype,
		device:  device,
		path:    target,
	}
	v.mounts.attach(mp)
	log.Infof("[VFS] mounted %s at %q (device=%q, id=%d)", fstype, target, device, mp.id)
	return nil
}

// unmountLocked detaches the mount whose root the target resolves to,
// flushing the backend first. A busy mount stays put.
func (v *VFS) unmountLocked(ctx context.Context, start ref, target string) error {
	r, err := v.resolve(ctx, start, target, true)
	if err != nil {
		return err
	}
	if !r.isRoot() {
		return EINVAL
	}
	mp := r.mnt
	if mp.parent == nil {
		// The root mount never detaches.
		return EBUSY
	}
	if mp.pins > 0 || mp.children > 0 {
		log.Debugf("[VFS] unmount %q refused: pins=%d children=%d", target, mp.pins, mp.children)
		return EBUSY
	}
	if err := mp.backend.Sync(ctx); err != nil {
		return fmt.Errorf("flush before unmount: %w", err)
	}
	if err := mp.backend.Close(ctx); err != nil {
		log.Warnf("[VFS] closing %s backend for %q: %v", mp.fstype, target, err)
	}
	v.mounts.detach(mp)
	log.Infof("[VFS] unmounted %s from %q", mp.fstype, target)
	return nil
}

// syncAll flushes every mounted backend. Each backend gets its flush
// attempt even after one fails; the first failure decides the status.
func (v *VFS) syncAll(ctx context.Context) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var firstErr error
	for _, mp := range v.mounts.byID {
		if err := mp.backend.Sync(ctx); err != nil {
			log.Errorf("[VFS] sync of %s at %q failed: %v", mp.fstype, mp.path, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
