package pathcache

import "unsafe"

// EntrySize is the on-disk size of an Entry. The value is stored verbatim in
// the mapped file; changing the layout breaks the format and must bump
// FormatVersion.
const EntrySize = 40

// Entry is the cached fingerprint record for one absolute path.
//
// Memory layout (little-endian):
//
//	Offset  Size  Field
//	0       8     mtime (microseconds since epoch)
//	8       8     ctime (microseconds since epoch)
//	16      8     size in bytes
//	24      16    content fingerprint
type Entry struct {
	Mtime int64
	Ctime int64
	Size  int64
	Sum   [16]byte
}

// entryAt reinterprets the 40 bytes at data as an Entry. The pointer aliases
// data and is only valid while data is.
func entryAt(data []byte) *Entry {
	if len(data) < EntrySize {
		return nil
	}
	return (*Entry)(unsafe.Pointer(&data[0]))
}

// bytes returns the entry's on-disk representation.
func (e *Entry) bytes() []byte {
	return (*[EntrySize]byte)(unsafe.Pointer(e))[:]
}

// Matches reports whether the cached stat triple still describes a file with
// the given mtime, ctime and size. A mismatch invalidates the fingerprint.
func (e *Entry) Matches(mtime, ctime, size int64) bool {
	return e.Mtime == mtime && e.Ctime == ctime && e.Size == size
}
