package pathcache

// MaxKeySize bounds key length so that a split can always place two entries
// on a page.
const MaxKeySize = PageSize / 4

// Txn is a cache transaction. Read transactions hold a snapshot
// (txnid, root) and never block; the write transaction owns a dirty-page
// table of copy-on-write page images.
//
// Pointers returned by Lookup and Cursor borrow from the memory map (or from
// a dirty buffer) and are invalidated when the transaction ends.
type Txn struct {
	env      *Env
	readonly bool
	txnid    uint64
	root     uint64
	last     uint64 // next unallocated page number

	// Write state. dirty maps page number -> page image; every dirty page
	// has a number allocated by this transaction, so pages reachable from
	// the old root are never overwritten. shadow maps the snapshot page
	// number of a copied page to its writable replacement.
	dirty  map[uint64][]byte
	shadow map[uint64]uint64

	done bool
}

// ID returns the transaction ID.
func (t *Txn) ID() uint64 {
	return t.txnid
}

// IsReadOnly returns true for read transactions.
func (t *Txn) IsReadOnly() bool {
	return t.readonly
}

func (t *Txn) valid() bool {
	return t != nil && !t.done && t.env != nil
}

// page returns the page image for pn: the dirty buffer when this transaction
// copied or allocated it, the mapped file otherwise.
func (t *Txn) page(pn uint64) (*page, error) {
	if t.dirty != nil {
		if buf, ok := t.dirty[pn]; ok {
			return &page{data: buf}, nil
		}
	}
	off := int64(pn) * PageSize
	data := t.env.mp.Data()
	if off < 0 || off+PageSize > int64(len(data)) {
		return nil, NewError(ErrCorrupted)
	}
	return &page{data: data[off : off+PageSize]}, nil
}

// getWritable returns a writable copy of pn, allocating a fresh page number
// on first touch. Pages already owned by this transaction come back as-is.
func (t *Txn) getWritable(pn uint64) (uint64, *page, error) {
	if buf, ok := t.dirty[pn]; ok {
		return pn, &page{data: buf}, nil
	}
	if npn, ok := t.shadow[pn]; ok {
		return npn, &page{data: t.dirty[npn]}, nil
	}

	src, err := t.page(pn)
	if err != nil {
		return 0, nil, err
	}

	npn, err := t.allocPgno()
	if err != nil {
		return 0, nil, err
	}
	buf := make([]byte, PageSize)
	copy(buf, src.data)
	t.dirty[npn] = buf
	t.shadow[pn] = npn

	p := &page{data: buf}
	p.header().PageNo = npn
	return npn, p, nil
}

// allocPgno appends one page to the file's logical extent. Allocation is
// append-only within a transaction; free-page reuse is a future extension.
func (t *Txn) allocPgno() (uint64, error) {
	if int64(t.last+1)*PageSize > t.env.mp.Size() {
		return 0, NewError(ErrMapFull)
	}
	pn := t.last
	t.last++
	return pn, nil
}

// allocPage allocates and initialises a fresh page of the given kind.
func (t *Txn) allocPage(flags pageFlags) (uint64, *page, error) {
	pn, err := t.allocPgno()
	if err != nil {
		return 0, nil, err
	}
	buf := make([]byte, PageSize)
	t.dirty[pn] = buf
	p := &page{data: buf}
	p.init(pn, flags)
	return pn, p, nil
}

// findLeaf walks from the snapshot root to the leaf that owns key. The
// traversal uses only pages present at snapshot time (plus this
// transaction's own dirty pages).
func (t *Txn) findLeaf(key []byte) (*page, error) {
	pn := t.root
	for {
		p, err := t.page(pn)
		if err != nil {
			return nil, err
		}
		if p.isLeaf() {
			return p, nil
		}
		if p.numKeys() == 0 {
			return nil, NewError(ErrCorrupted)
		}
		idx, found := p.search(key)
		pn = p.branchChild(childIndex(idx, found))
	}
}

// Lookup returns the entry stored for key, or ErrNotFound. The returned
// pointer aliases the map and is valid until the transaction ends.
func (t *Txn) Lookup(key []byte) (*Entry, error) {
	if !t.valid() {
		return nil, NewError(ErrBadTxn)
	}
	if t.root == 0 {
		return nil, NewError(ErrNotFound)
	}
	leaf, err := t.findLeaf(key)
	if err != nil {
		return nil, err
	}
	idx, found := leaf.search(key)
	if !found {
		return nil, NewError(ErrNotFound)
	}
	ent := entryAt(leaf.leafValue(idx))
	if ent == nil {
		return nil, NewError(ErrCorrupted)
	}
	return ent, nil
}

// Upsert stores entry under key, replacing any previous value. Values are
// fixed-size, so replacement is an in-place overwrite that never changes
// slot geometry; inserts may split leaves up to the root.
func (t *Txn) Upsert(key []byte, entry *Entry) error {
	if !t.valid() || t.readonly {
		return NewError(ErrBadTxn)
	}
	if len(key) == 0 || len(key) > MaxKeySize {
		return NewError(ErrKeyTooLarge)
	}

	if t.root == 0 {
		pn, leaf, err := t.allocPage(pageLeaf)
		if err != nil {
			return err
		}
		if !leaf.insertLeaf(0, key, entry.bytes()) {
			return NewError(ErrProblem)
		}
		t.root = pn
		return nil
	}

	parents, parentIdx, leaf, err := t.cowPath(key)
	if err != nil {
		return err
	}

	idx, found := leaf.search(key)
	if found {
		copy(leaf.leafValue(idx), entry.bytes())
		return nil
	}
	if leaf.insertLeaf(idx, key, entry.bytes()) {
		return nil
	}
	return t.splitInsertLeaf(parents, parentIdx, leaf, idx, key, entry.bytes())
}

// Delete removes key. Empty leaves remain allocated; no merge is performed.
func (t *Txn) Delete(key []byte) error {
	if !t.valid() || t.readonly {
		return NewError(ErrBadTxn)
	}
	if t.root == 0 {
		return NewError(ErrNotFound)
	}

	// Probe read-only first so misses do not dirty the path.
	leaf, err := t.findLeaf(key)
	if err != nil {
		return err
	}
	if _, found := leaf.search(key); !found {
		return NewError(ErrNotFound)
	}

	_, _, wleaf, err := t.cowPath(key)
	if err != nil {
		return err
	}
	idx, found := wleaf.search(key)
	if !found {
		return NewError(ErrNotFound)
	}
	wleaf.removeSlot(idx)
	return nil
}

// cowPath shadows every page on the root-to-leaf path for key, updating
// child pointers in the copied parents as it descends. Returns the writable
// branch chain (top-down), the child index followed in each branch, and the
// writable leaf.
func (t *Txn) cowPath(key []byte) ([]*page, []int, *page, error) {
	rootPn, cur, err := t.getWritable(t.root)
	if err != nil {
		return nil, nil, nil, err
	}
	t.root = rootPn

	var parents []*page
	var parentIdx []int
	for cur.isBranch() {
		if cur.numKeys() == 0 {
			return nil, nil, nil, NewError(ErrCorrupted)
		}
		idx, found := cur.search(key)
		ci := childIndex(idx, found)
		childPn := cur.branchChild(ci)
		newPn, child, err := t.getWritable(childPn)
		if err != nil {
			return nil, nil, nil, err
		}
		if newPn != childPn {
			cur.setBranchChild(ci, newPn)
		}
		parents = append(parents, cur)
		parentIdx = append(parentIdx, ci)
		cur = child
	}
	return parents, parentIdx, cur, nil
}

// splitInsertLeaf splits a full leaf at the midpoint slot and inserts the
// pending key into the owning half. The separator is the first key of the
// right half, promoted to the parent by copy.
func (t *Txn) splitInsertLeaf(parents []*page, parentIdx []int, leaf *page, idx int, key, value []byte) error {
	n := leaf.numKeys()
	mid := (n + 1) / 2

	rightPn, right, err := t.splitNode(leaf, mid)
	if err != nil {
		return err
	}

	if idx >= mid {
		if !right.insertLeaf(idx-mid, key, value) {
			return NewError(ErrProblem)
		}
	} else {
		if !leaf.insertLeaf(idx, key, value) {
			return NewError(ErrProblem)
		}
	}

	sep := right.nodeKey(0)
	return t.insertParent(parents, parentIdx, leaf.header().PageNo, leaf.nodeKey(0), sep, rightPn)
}

// splitNode moves slots [mid, n) of p to a freshly allocated page of the
// same kind and compacts p down to slots [0, mid).
func (t *Txn) splitNode(p *page, mid int) (uint64, *page, error) {
	flags := p.header().Flags
	n := p.numKeys()

	nodes := make([][]byte, n)
	for i := 0; i < n; i++ {
		off := p.slotOffset(i)
		size := p.nodeSize(i)
		nodes[i] = append([]byte(nil), p.data[off:int(off)+size]...)
	}

	rightPn, right, err := t.allocPage(flags)
	if err != nil {
		return 0, nil, err
	}

	pn := p.header().PageNo
	p.init(pn, flags)
	for i := 0; i < mid; i++ {
		if !p.insertNode(i, nodes[i]) {
			return 0, nil, NewError(ErrProblem)
		}
	}
	for i := mid; i < n; i++ {
		if !right.insertNode(i-mid, nodes[i]) {
			return 0, nil, NewError(ErrProblem)
		}
	}
	return rightPn, right, nil
}

// insertParent records a split in the parent: the separator key and the new
// right page. Overflowing parents split recursively; a root split allocates
// a new root branch over the two halves.
func (t *Txn) insertParent(parents []*page, parentIdx []int, leftPn uint64, leftFirst, sep []byte, rightPn uint64) error {
	if len(parents) == 0 {
		rootPn, root, err := t.allocPage(pageBranch)
		if err != nil {
			return err
		}
		if !root.insertBranch(0, leftFirst, leftPn) || !root.insertBranch(1, sep, rightPn) {
			return NewError(ErrProblem)
		}
		t.root = rootPn
		return nil
	}

	parent := parents[len(parents)-1]
	pos := parentIdx[len(parents)-1] + 1
	if parent.insertBranch(pos, sep, rightPn) {
		return nil
	}

	n := parent.numKeys()
	mid := (n + 1) / 2
	newRightPn, newRight, err := t.splitNode(parent, mid)
	if err != nil {
		return err
	}
	if pos >= mid {
		if !newRight.insertBranch(pos-mid, sep, rightPn) {
			return NewError(ErrProblem)
		}
	} else {
		if !parent.insertBranch(pos, sep, rightPn) {
			return NewError(ErrProblem)
		}
	}

	newSep := newRight.nodeKey(0)
	return t.insertParent(parents[:len(parents)-1], parentIdx[:len(parentIdx)-1],
		parent.header().PageNo, parent.nodeKey(0), newSep, newRightPn)
}

// Commit makes the transaction's changes durable: dirty pages are written at
// their own offsets, then the opposite meta page is stamped with the new
// (txnid, root, last) and the live meta swaps to it. A crash before the meta
// write leaves the previous state; after it, the new state.
func (t *Txn) Commit() error {
	if !t.valid() {
		return NewError(ErrBadTxn)
	}
	if t.readonly {
		t.finishRead()
		return nil
	}

	env := t.env

	for pn, buf := range t.dirty {
		if _, err := env.file.WriteAt(buf, int64(pn)*PageSize); err != nil {
			t.finishWrite()
			return WrapError(ErrProblem, err)
		}
	}
	if len(t.dirty) > 0 {
		if err := env.file.Sync(); err != nil {
			t.finishWrite()
			return WrapError(ErrProblem, err)
		}
	}

	metaIdx := 1 - env.meta.Load().index
	buf := make([]byte, PageSize)
	m := metaAt(buf)
	m.Magic = Magic
	m.Version = FormatVersion
	m.Txnid = t.txnid
	m.Root = t.root
	m.Last = t.last
	m.seal()

	if _, err := env.file.WriteAt(buf, int64(metaIdx)*PageSize); err != nil {
		t.finishWrite()
		return WrapError(ErrProblem, err)
	}
	if err := env.file.Sync(); err != nil {
		t.finishWrite()
		return WrapError(ErrProblem, err)
	}

	env.meta.Store(&metaInfo{txnid: t.txnid, root: t.root, last: t.last, index: metaIdx})

	t.finishWrite()
	return nil
}

// Abort discards the dirty-page table and releases the writer lock. No file
// I/O happens.
func (t *Txn) Abort() {
	if !t.valid() {
		return
	}
	if t.readonly {
		t.finishRead()
		return
	}
	t.finishWrite()
}

func (t *Txn) finishRead() {
	t.done = true
	t.env.txnWg.Done()
	t.env = nil
}

func (t *Txn) finishWrite() {
	t.done = true
	t.dirty = nil
	t.shadow = nil
	t.env.lock.unlock()
	t.env.releaseWriter()
	t.env.txnWg.Done()
	t.env = nil
}
