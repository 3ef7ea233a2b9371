package pathcache

import (
	"bytes"
	"encoding/binary"
	"unsafe"
)

// PageSize is the fixed size of every page in the cache file.
const PageSize = 4096

// pageHeaderSize is the fixed page header size (16 bytes).
const pageHeaderSize = 16

// pageFlags define page types.
type pageFlags uint16

const (
	// pageBranch indicates a branch (internal) page
	pageBranch pageFlags = 0x01

	// pageLeaf indicates a leaf page
	pageLeaf pageFlags = 0x02
)

// pageHeader is the common page header.
//
// Memory layout (little-endian):
//
//	Offset  Size  Field
//	0       2     flags
//	2       2     num_keys
//	4       2     lower (end of the slot directory, grows down the page)
//	6       2     upper (start of packed node data, grows up from the tail)
//	8       8     pgno
//	16      ...   slot directory (2-byte offsets into node data)
//
// Invariants: pageHeaderSize <= lower <= upper <= PageSize;
// num_keys == (lower - pageHeaderSize) / 2; free space == upper - lower.
type pageHeader struct {
	Flags   pageFlags
	NumKeys uint16
	Lower   uint16
	Upper   uint16
	PageNo  uint64
}

// page provides access to one page's raw bytes.
type page struct {
	data []byte
}

func (p *page) header() *pageHeader {
	return (*pageHeader)(unsafe.Pointer(&p.data[0]))
}

// init initializes an empty page of the given kind.
func (p *page) init(pn uint64, flags pageFlags) {
	h := p.header()
	h.Flags = flags
	h.NumKeys = 0
	h.Lower = pageHeaderSize
	h.Upper = PageSize
	h.PageNo = pn
}

func (p *page) isLeaf() bool {
	return p.header().Flags&pageLeaf != 0
}

func (p *page) isBranch() bool {
	return p.header().Flags&pageBranch != 0
}

func (p *page) numKeys() int {
	return int(p.header().NumKeys)
}

// freeSpace returns the bytes available between the slot directory and the
// packed node data.
func (p *page) freeSpace() int {
	h := p.header()
	return int(h.Upper) - int(h.Lower)
}

// slotOffset returns the node-data offset stored in slot idx.
func (p *page) slotOffset(idx int) uint16 {
	return binary.LittleEndian.Uint16(p.data[pageHeaderSize+idx*2:])
}

func (p *page) setSlotOffset(idx int, off uint16) {
	binary.LittleEndian.PutUint16(p.data[pageHeaderSize+idx*2:], off)
}

// nodeKey returns the key of slot idx. Leaf and branch nodes place the key
// at different offsets past the node header.
func (p *page) nodeKey(idx int) []byte {
	off := p.slotOffset(idx)
	keySize := binary.LittleEndian.Uint16(p.data[off:])
	if p.isBranch() {
		start := int(off) + branchNodeHeaderSize
		return p.data[start : start+int(keySize)]
	}
	start := int(off) + leafNodeHeaderSize
	return p.data[start : start+int(keySize)]
}

// leafValue returns the value bytes of leaf slot idx.
func (p *page) leafValue(idx int) []byte {
	off := p.slotOffset(idx)
	keySize := binary.LittleEndian.Uint16(p.data[off:])
	valSize := binary.LittleEndian.Uint16(p.data[off+2:])
	start := int(off) + leafNodeHeaderSize + int(keySize)
	return p.data[start : start+int(valSize)]
}

// branchChild returns the child page number of branch slot idx.
func (p *page) branchChild(idx int) uint64 {
	off := p.slotOffset(idx)
	return binary.LittleEndian.Uint64(p.data[off+2:])
}

// setBranchChild rewrites the child page number of branch slot idx in place.
func (p *page) setBranchChild(idx int, child uint64) {
	off := p.slotOffset(idx)
	binary.LittleEndian.PutUint64(p.data[off+2:], child)
}

// search performs a binary search over the slot directory. It returns the
// slot index on an exact match, or the insertion point with found == false.
func (p *page) search(key []byte) (int, bool) {
	lo, hi := 0, p.numKeys()
	for lo < hi {
		mid := (lo + hi) / 2
		switch bytes.Compare(key, p.nodeKey(mid)) {
		case 0:
			return mid, true
		case -1:
			hi = mid
		default:
			lo = mid + 1
		}
	}
	return lo, false
}

// childIndex maps a search result to the branch child to follow. Branch keys
// are separators: keys >= key[i] live under child[i]; anything below key[0]
// also descends into child 0.
func childIndex(idx int, found bool) int {
	if found {
		return idx
	}
	if idx > 0 {
		return idx - 1
	}
	return 0
}

// Node encodings.
//
// Leaf node:   key_size u16, value_size u16, key bytes, value bytes.
// Branch node: key_size u16, child_pgno u64, key bytes.
const (
	leafNodeHeaderSize   = 4
	branchNodeHeaderSize = 10
)

func leafNodeSize(keyLen, valLen int) int {
	return leafNodeHeaderSize + keyLen + valLen
}

func branchNodeSize(keyLen int) int {
	return branchNodeHeaderSize + keyLen
}

// nodeSize returns the packed size of slot idx.
func (p *page) nodeSize(idx int) int {
	off := p.slotOffset(idx)
	keySize := int(binary.LittleEndian.Uint16(p.data[off:]))
	if p.isBranch() {
		return branchNodeSize(keySize)
	}
	valSize := int(binary.LittleEndian.Uint16(p.data[off+2:]))
	return leafNodeSize(keySize, valSize)
}

// insertNode packs a prebuilt node at the data tail and inserts its slot at
// idx. Returns false when the page lacks room for the node plus its slot.
func (p *page) insertNode(idx int, node []byte) bool {
	h := p.header()
	n := p.numKeys()
	if idx < 0 || idx > n {
		return false
	}
	if p.freeSpace() < 2+len(node) {
		return false
	}

	newUpper := h.Upper - uint16(len(node))
	copy(p.data[newUpper:], node)
	h.Upper = newUpper

	// Shift the slot directory to make room at idx.
	if idx < n {
		src := pageHeaderSize + idx*2
		copy(p.data[src+2:], p.data[src:pageHeaderSize+n*2])
	}
	p.setSlotOffset(idx, newUpper)
	h.Lower += 2
	h.NumKeys++
	return true
}

// insertLeaf inserts a key/value pair at slot idx.
func (p *page) insertLeaf(idx int, key, value []byte) bool {
	node := make([]byte, leafNodeSize(len(key), len(value)))
	binary.LittleEndian.PutUint16(node[0:], uint16(len(key)))
	binary.LittleEndian.PutUint16(node[2:], uint16(len(value)))
	copy(node[leafNodeHeaderSize:], key)
	copy(node[leafNodeHeaderSize+len(key):], value)
	return p.insertNode(idx, node)
}

// insertBranch inserts a separator/child pair at slot idx.
func (p *page) insertBranch(idx int, key []byte, child uint64) bool {
	node := make([]byte, branchNodeSize(len(key)))
	binary.LittleEndian.PutUint16(node[0:], uint16(len(key)))
	binary.LittleEndian.PutUint64(node[2:], child)
	copy(node[branchNodeHeaderSize:], key)
	return p.insertNode(idx, node)
}

// removeSlot deletes slot idx and compacts the node-data area so the freed
// bytes return to the free span.
func (p *page) removeSlot(idx int) bool {
	h := p.header()
	n := p.numKeys()
	if idx < 0 || idx >= n {
		return false
	}

	if idx < n-1 {
		src := pageHeaderSize + (idx+1)*2
		dst := pageHeaderSize + idx*2
		copy(p.data[dst:], p.data[src:pageHeaderSize+n*2])
	}
	h.Lower -= 2
	h.NumKeys--

	p.compact()
	return true
}

// compact repacks all node data at the page tail, eliminating holes left by
// removed slots.
func (p *page) compact() {
	h := p.header()
	n := p.numKeys()
	if n == 0 {
		h.Upper = PageSize
		return
	}

	var scratch [PageSize]byte
	write := PageSize
	for i := 0; i < n; i++ {
		off := p.slotOffset(i)
		size := p.nodeSize(i)
		write -= size
		copy(scratch[write:write+size], p.data[off:int(off)+size])
		p.setSlotOffset(i, uint16(write))
	}
	copy(p.data[write:], scratch[write:])
	h.Upper = uint16(write)
}

// validate checks the slotted-page invariants.
func (p *page) validate() error {
	h := p.header()
	if h.Lower < pageHeaderSize || h.Lower > h.Upper || int(h.Upper) > PageSize {
		return NewError(ErrCorrupted)
	}
	if int(h.NumKeys) != (int(h.Lower)-pageHeaderSize)/2 {
		return NewError(ErrCorrupted)
	}
	return nil
}
