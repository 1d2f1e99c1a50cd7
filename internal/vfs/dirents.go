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

import "encoding/binary"

// Directory records are emitted in a fixed little-endian layout:
//
//	offset  0  u64  entry ID of this record
//	offset  8  u32  inode number
//	offset 12  u16  record length, 8-aligned
//	offset 14  u8   file type
//	offset 15  ...  name bytes, NUL terminated
//
// The entry ID doubles as the seek token: handing it to lseek SEEK_SET
// on the directory descriptor repositions enumeration at this record.
const (
	direntNameOff = 15
	direntAlign   = 8
)

// direntSize is the encoded record length for a name.
func direntSize(name string) int {
	return (direntNameOff + 1 + len(name) + direntAlign) &^ (direntAlign - 1)
}

// encodeDirents packs entries into buf, stopping before the first record
// that does not fit. It returns the bytes written and the number of
// entries consumed. A buffer that cannot hold even one record is the
// caller's error.
func encodeDirents(entries []DirEntry, buf []byte) (n, consumed int, err error) {
	for _, e := range entries {
		rec := direntSize(e.Name)
		if n+rec > len(buf) {
			if consumed == 0 {
				return 0, 0, EINVAL
			}
			break
		}
		b := buf[n : n+rec]
		binary.LittleEndian.PutUint64(b[0:8], e.EntryID)
		binary.LittleEndian.PutUint32(b[8:12], uint32(e.Ino))
		binary.LittleEndian.PutUint16(b[12:14], uint16(rec))
		b[14] = byte(e.Type)
		copy(b[direntNameOff:], e.Name)
		for i := direntNameOff + len(e.Name); i < rec; i++ {
			b[i] = 0
		}
		n += rec
		consumed++
	}
	return n, consumed, nil
}
