package vfs

// mountPoint is one grafted filesystem instance. The root mount has id 0
// and no parent; every other mount covers exactly one directory inode in
// its parent's backend.
type mountPoint struct {
	id      int
	parent  *mountPoint
	dirIno  Ino // covered directory in the parent's backend
	backend Backend
	fstype  string
	device  string
	path    string // mount target as given at mount time, for logs

	// pins counts open descriptors, working directories and memory
	// mappings referencing inodes inside this mount. children counts
	// mounts grafted onto directories below this one. A mount with
	// either nonzero cannot be detached.
	pins     int
	children int
}

// mountKey addresses one inode within one mount instance. Inode numbers
// are only unique per backend, so anything that spans mounts keys on the
// pair, never on the bare inode.
type mountKey struct {
	mountID int
	ino     Ino
}

// mountTable is the mount tree: every live mount by id, plus the cover
// map from (parent mount, covered directory) to the mount grafted there.
// The table itself is not locked; the owning VFS serializes access.
type mountTable struct {
	root   *mountPoint
	byID   map[int]*mountPoint
	cover  map[mountKey]*mountPoint
	nextID int
	max    int
}

func newMountTable(root Backend, maxMounts int) *mountTable {
	rm := &mountPoint{
		id:      0,
		backend: root,
		fstype:  "rootfs",
		path:    "/",
	}
	return &mountTable{
		root:   rm,
		byID:   map[int]*mountPoint{0: rm},
		cover:  make(map[mountKey]*mountPoint),
		nextID: 1,
		max:    maxMounts,
	}
}

// full reports whether the table is at capacity, the root mount included.
func (t *mountTable) full() bool {
	return len(t.byID) >= t.max
}

// covering returns the mount grafted onto dir in parent, if any.
func (t *mountTable) covering(parent *mountPoint, dir Ino) (*mountPoint, bool) {
	mp, ok := t.cover[mountKey{parent.id, dir}]
	return mp, ok
}

// attach assigns mp its id and wires it into the tree. The caller has
// verified that the covered directory is a free, empty mount target.
func (t *mountTable) attach(mp *mountPoint) {
	mp.id = t.nextID
	t.nextID++
	t.byID[mp.id] = mp
	t.cover[mountKey{mp.parent.id, mp.dirIno}] = mp
	mp.parent.children++
}

// detach unwires mp. The caller has verified that mp is idle.
func (t *mountTable) detach(mp *mountPoint) {
	delete(t.byID, mp.id)
	delete(t.cover, mountKey{mp.parent.id, mp.dirIno})
	mp.parent.children--
}
