package pathcache

// Cursor iterates all entries of a transaction's snapshot in ascending key
// order. Sweep uses it to scan every leaf. Returned key and entry pointers
// borrow from the map and are invalidated when the transaction ends.
type Cursor struct {
	txn     *Txn
	stack   []cursorPos
	leaf    *page
	leafIdx int
	started bool
}

type cursorPos struct {
	pn  uint64
	idx int
}

// Cursor returns a cursor positioned before the first entry.
func (t *Txn) Cursor() *Cursor {
	return &Cursor{txn: t}
}

// Next advances to the next entry. It returns ErrNotFound past the end.
// Leaves emptied by earlier sweeps remain allocated and are skipped.
func (c *Cursor) Next() ([]byte, *Entry, error) {
	if !c.txn.valid() {
		return nil, nil, NewError(ErrBadTxn)
	}

	if !c.started {
		c.started = true
		if c.txn.root == 0 {
			return nil, nil, NewError(ErrNotFound)
		}
		if err := c.descend(c.txn.root); err != nil {
			return nil, nil, err
		}
	}

	for {
		if c.leaf != nil && c.leafIdx < c.leaf.numKeys() {
			key := c.leaf.nodeKey(c.leafIdx)
			ent := entryAt(c.leaf.leafValue(c.leafIdx))
			if ent == nil {
				return nil, nil, NewError(ErrCorrupted)
			}
			c.leafIdx++
			return key, ent, nil
		}
		c.leaf = nil

		advanced := false
		for len(c.stack) > 0 {
			top := &c.stack[len(c.stack)-1]
			p, err := c.txn.page(top.pn)
			if err != nil {
				return nil, nil, err
			}
			top.idx++
			if top.idx < p.numKeys() {
				if err := c.descend(p.branchChild(top.idx)); err != nil {
					return nil, nil, err
				}
				advanced = true
				break
			}
			c.stack = c.stack[:len(c.stack)-1]
		}
		if !advanced {
			return nil, nil, NewError(ErrNotFound)
		}
	}
}

// descend walks to the leftmost leaf under pn, recording the branch chain.
func (c *Cursor) descend(pn uint64) error {
	for {
		p, err := c.txn.page(pn)
		if err != nil {
			return err
		}
		if p.isLeaf() {
			c.leaf = p
			c.leafIdx = 0
			return nil
		}
		if p.numKeys() == 0 {
			return NewError(ErrCorrupted)
		}
		c.stack = append(c.stack, cursorPos{pn: pn, idx: 0})
		pn = p.branchChild(0)
	}
}
