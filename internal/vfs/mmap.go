package vfs

// mapping is one live memory mapping: a snapshot of file content taken
// at map time, pinned to its backing inode so the mount stays busy for
// as long as the pages are visible.
type mapping struct {
	addr   uint64
	length uint64 // page-rounded
	mnt    *mountPoint
	ino    Ino
	data   []byte
}

// mmapBase is where automatic placement starts handing out addresses.
// The addresses are synthetic; nothing is wired into host memory.
const mmapBase uint64 = 0x10000000

// addressSpace is a per-process mapping table with a bump allocator for
// automatic placement. Guarded by the owning process's lock.
type addressSpace struct {
	mappings map[uint64]*mapping
	next     uint64
}

func newAddressSpace() *addressSpace {
	return &addressSpace{
		mappings: make(map[uint64]*mapping),
		next:     mmapBase,
	}
}

// overlaps reports whether [addr, addr+length) intersects any mapping.
func (as *addressSpace) overlaps(addr, length uint64) bool {
	for _, m := range as.mappings {
		if addr < m.addr+m.length && m.addr < addr+length {
			return true
		}
	}
	return false
}

// place picks the address for a new mapping of length bytes, already
// page-rounded. A zero hint lets the allocator choose; otherwise the
// exact hint is honored or the call fails.
func (as *addressSpace) place(hint, length uint64) (uint64, error) {
	if hint == 0 {
		for as.overlaps(as.next, length) {
			as.next += PageSize
		}
		addr := as.next
		as.next += length
		return addr, nil
	}
	if hint%PageSize != 0 || as.overlaps(hint, length) {
		return 0, EINVAL
	}
	return hint, nil
}

func (as *addressSpace) insert(m *mapping) {
	as.mappings[m.addr] = m
}

// remove detaches the mapping that starts exactly at addr and spans
// exactly length bytes. Partial unmapping is not a thing here.
func (as *addressSpace) remove(addr, length uint64) (*mapping, error) {
	m, ok := as.mappings[addr]
	if !ok || m.length != length {
		return nil, EINVAL
	}
	delete(as.mappings, addr)
	return m, nil
}

// read copies mapped bytes at addr into p. The whole range must fall
// inside a single mapping; anything else is a fault.
func (as *addressSpace) read(addr uint64, p []byte) (int, error) {
	end := addr + uint64(len(p))
	if end < addr {
		return 0, EFAULT
	}
	for _, m := range as.mappings {
		if addr >= m.addr && end <= m.addr+m.length {
			return copy(p, m.data[addr-m.addr:]), nil
		}
	}
	return 0, EFAULT
}

// pageRound rounds n up to a whole number of pages.
func pageRound(n uint64) uint64 {
	return (n + PageSize - 1) &^ uint64(PageSize-1)
}
