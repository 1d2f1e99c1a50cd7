package vfs

import "sync"

// fileHandle is one open file description. Descriptors produced by dup
// share a handle, and with it the cursor. For directories the cursor
// holds the next entry ID to enumerate rather than a byte offset.
type fileHandle struct {
	mnt   *mountPoint
	ino   Ino
	isDir bool
	flags int

	// refs counts descriptor slots pointing at this handle. It is
	// guarded by the owning process's lock, not by mu.
	refs int

	mu     sync.Mutex
	cursor int64
}

// fdTable maps descriptor numbers to handles. The zero slot is a
// descriptor like any other; allocation always picks the smallest free
// number.
type fdTable struct {
	slots []*fileHandle
	max   int
}

func newFDTable(maxOpen int) *fdTable {
	return &fdTable{max: maxOpen}
}

// allocate installs h in the lowest free slot.
func (t *fdTable) allocate(h *fileHandle) (int, error) {
	for fd, cur := range t.slots {
		if cur == nil {
			t.slots[fd] = h
			return fd, nil
		}
	}
	if len(t.slots) >= t.max {
		return 0, EMFILE
	}
	t.slots = append(t.slots, h)
	return len(t.slots) - 1, nil
}

// get returns the live handle for fd.
func (t *fdTable) get(fd int) (*fileHandle, error) {
	if fd < 0 || fd >= len(t.slots) || t.slots[fd] == nil {
		return nil, EBADF
	}
	return t.slots[fd], nil
}

// place installs h at a caller-chosen descriptor number, growing the
// table as needed. dup2 may target any slot below the limit.
func (t *fdTable) place(fd int, h *fileHandle) error {
	if fd < 0 || fd >= t.max {
		return EBADF
	}
	for len(t.slots) <= fd {
		t.slots = append(t.slots, nil)
	}
	t.slots[fd] = h
	return nil
}

// clear empties a slot and returns what was there.
func (t *fdTable) clear(fd int) (*fileHandle, error) {
	h, err := t.get(fd)
	if err != nil {
		return nil, err
	}
	t.slots[fd] = nil
	return h, nil
}
