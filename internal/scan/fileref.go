// Package scan enumerates candidate files under a set of roots and groups
// them by size for the fingerprint stage.
package scan

// Fingerprint is a 128-bit non-cryptographic content digest, comparable for
// equality and memcmp-orderable.
type Fingerprint [16]byte

// FileRef describes one candidate file. Created by the enumerator, immutable
// afterwards; the engine owns every FileRef for the whole run.
type FileRef struct {
	// Path is the absolute path of the file, or of the containing archive
	// for archive members.
	Path string

	// Sub is the member name inside the archive, empty for regular files.
	Sub string

	// Size is the logical size in bytes.
	Size int64

	// Mtime and Ctime are microseconds since the epoch.
	Mtime int64
	Ctime int64

	// Prioritized is set when the path lies under the priority root; the
	// reporter places prioritized files last within their group.
	Prioritized bool
}

// IsArchiveMember reports whether the ref names a member inside an archive.
func (f *FileRef) IsArchiveMember() bool {
	return f.Sub != ""
}

// CacheKey is the logical path the fingerprint cache is keyed by.
func (f *FileRef) CacheKey() string {
	if f.IsArchiveMember() {
		return f.Path + ":" + f.Sub
	}
	return f.Path
}

// DisplayPath renders the path for output. Archive members print as
// archive:member, switching to '|' when the record separator is ':'.
func (f *FileRef) DisplayPath(recordSep byte) string {
	if !f.IsArchiveMember() {
		return f.Path
	}
	sep := byte(':')
	if recordSep == ':' {
		sep = '|'
	}
	return f.Path + string(sep) + f.Sub
}

// SizeBucket collects the files sharing one byte size, the unit of
// fingerprint work. Files and Sums are index-aligned: each fingerprint task
// owns its slot, so concurrent writes need no lock.
type SizeBucket struct {
	Size  int64
	Files []*FileRef

	// Sums[i] is the fingerprint of Files[i]; Valid[i] is false until it is
	// computed, and stays false when fingerprinting failed for that slot.
	Sums  []Fingerprint
	Valid []bool

	// PreVerified marks buckets whose members were already confirmed
	// byte-equal by the verifier (2-file buckets), so the reporter does not
	// compare them again.
	PreVerified bool
}

// Add appends a file to the bucket.
func (b *SizeBucket) Add(f *FileRef) {
	b.Files = append(b.Files, f)
}

// Count returns the number of files in the bucket.
func (b *SizeBucket) Count() int {
	return len(b.Files)
}

// EnsureSums sizes the fingerprint arrays to the file count. Called once
// before the bucket is dispatched to the worker pool.
func (b *SizeBucket) EnsureSums() {
	if len(b.Sums) != len(b.Files) {
		b.Sums = make([]Fingerprint, len(b.Files))
		b.Valid = make([]bool, len(b.Files))
	}
}

// BucketMap maps a file size to its bucket.
type BucketMap map[int64]*SizeBucket

// Add files a ref into the bucket for its size, creating the bucket when the
// first file of that size is seen.
func (m BucketMap) Add(f *FileRef) *SizeBucket {
	b := m[f.Size]
	if b == nil {
		b = &SizeBucket{Size: f.Size}
		m[f.Size] = b
	}
	b.Add(f)
	return b
}
