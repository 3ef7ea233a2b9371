package pathcache

import "unsafe"

const (
	// Magic identifies a pathcache file.
	Magic uint32 = 0x46505743 // "FPWC"

	// FormatVersion is the on-disk format version. The cache file is
	// platform-local; any layout change (including Entry) bumps this.
	FormatVersion uint32 = 1

	// numMetas is the number of alternating meta pages.
	numMetas = 2

	// metaSeed folds into the meta checksum.
	metaSeed uint64 = 0x9E3779B97F4A7C15
)

// meta is the header of a meta page. Pages 0 and 1 alternate as commit
// targets; the one with the higher valid txnid is live.
//
// Memory layout (little-endian):
//
//	Offset  Size  Field
//	0       4     magic
//	4       4     version
//	8       8     txnid
//	16      8     root_pgno (0 means empty tree)
//	24      8     last_pgno (first unallocated page)
//	32      8     checksum
//	40      ...   reserved
type meta struct {
	Magic    uint32
	Version  uint32
	Txnid    uint64
	Root     uint64
	Last     uint64
	Checksum uint64
}

// metaAt reinterprets the head of a meta page.
func metaAt(data []byte) *meta {
	return (*meta)(unsafe.Pointer(&data[0]))
}

// sum computes the checksum over the mutable fields.
func (m *meta) sum() uint64 {
	return m.Txnid ^ m.Root ^ m.Last ^ metaSeed
}

// seal stamps the checksum after the other fields are final.
func (m *meta) seal() {
	m.Checksum = m.sum()
}

// validate reports whether the meta page is a complete, supported commit.
func (m *meta) validate() error {
	if m.Magic != Magic {
		return NewError(ErrCorrupted)
	}
	if m.Version != FormatVersion {
		return NewError(ErrVersionMismatch)
	}
	if m.Checksum != m.sum() {
		return NewError(ErrCorrupted)
	}
	return nil
}

// initMeta initializes a meta page for a fresh cache file. Page 0 starts at
// txnid 0 and page 1 at txnid 1, making page 1 the initial live meta.
func initMeta(data []byte, txnid uint64) {
	m := metaAt(data)
	m.Magic = Magic
	m.Version = FormatVersion
	m.Txnid = txnid
	m.Root = 0
	m.Last = numMetas
	m.seal()
}

// metaInfo is the in-memory snapshot taken from the live meta page. Read
// transactions copy it; the committer swaps it atomically.
type metaInfo struct {
	txnid uint64
	root  uint64
	last  uint64
	index int // which of the two meta pages is live
}

// pickLive selects the live meta from the two candidates. Both invalid means
// the file is corrupted and open must fail.
func pickLive(m0, m1 []byte) (*metaInfo, error) {
	v0 := metaAt(m0).validate() == nil
	v1 := metaAt(m1).validate() == nil

	switch {
	case !v0 && !v1:
		return nil, NewError(ErrCorrupted)
	case v0 && (!v1 || metaAt(m0).Txnid > metaAt(m1).Txnid):
		m := metaAt(m0)
		return &metaInfo{txnid: m.Txnid, root: m.Root, last: m.Last, index: 0}, nil
	default:
		m := metaAt(m1)
		return &metaInfo{txnid: m.Txnid, root: m.Root, last: m.Last, index: 1}, nil
	}
}
