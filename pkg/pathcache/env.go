// Package pathcache is an embedded, single-file fingerprint cache keyed by
// absolute path. It is a memory-mapped copy-on-write B+ tree with
// single-writer/multiple-reader transactions: readers take lock-free
// snapshots, the writer commits through a two-meta-page ping-pong, and a
// mark-and-sweep pass garbage-collects entries for paths not seen during a
// run.
//
// The file format is platform-local and not portable across machines.
package pathcache

import (
	"os"
	"sync"
	"sync/atomic"

	"github.com/plorenz/dupfind/pkg/mmap"
)

// DefaultMapSize is the address space reserved for the cache file when the
// caller does not choose one. The file is extended sparsely to this size at
// open, so commits never remap.
const DefaultMapSize = 1 << 30

// Options configure Open.
type Options struct {
	// Create makes Open initialise a fresh cache when the file is missing.
	Create bool

	// MapSize is the mapped (and sparse file) size in bytes. Zero selects
	// DefaultMapSize. Rounded up to a page multiple.
	MapSize int64

	// IntraProcessLock replaces the inter-process flock writer lock with a
	// plain mutex. Only safe when no other process opens the same file.
	IntraProcessLock bool
}

// Env is an open cache environment. One Env supports arbitrarily many
// concurrent read transactions and at most one write transaction.
type Env struct {
	path string
	file *os.File
	mp   *mmap.Map
	lock writerLock

	// Live meta snapshot, swapped atomically at commit.
	meta atomic.Pointer[metaInfo]

	// In-process write transaction serialisation.
	txnMu       sync.Mutex
	txnCond     *sync.Cond
	writeActive bool

	// Close waits for all transactions before unmapping.
	txnWg sync.WaitGroup

	closeMu sync.Mutex
	closed  bool

	// Visited set for mark-and-sweep.
	visitedMu sync.Mutex
	visited   map[string]struct{}
}

// Open opens or creates the cache file at path.
func Open(path string, opts Options) (*Env, error) {
	mapSize := opts.MapSize
	if mapSize <= 0 {
		mapSize = DefaultMapSize
	}
	if rem := mapSize % PageSize; rem != 0 {
		mapSize += PageSize - rem
	}

	flags := os.O_RDWR
	if opts.Create {
		flags |= os.O_CREATE
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, WrapError(ErrInvalid, err)
	}

	fi, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, WrapError(ErrInvalid, err)
	}

	fresh := fi.Size() < numMetas*PageSize
	if fresh && !opts.Create {
		file.Close()
		return nil, NewError(ErrCorrupted)
	}

	if fi.Size() > mapSize {
		mapSize = fi.Size()
		if rem := mapSize % PageSize; rem != 0 {
			mapSize += PageSize - rem
		}
	}
	// Extend sparsely to the full map size so commits never outgrow the map.
	if fi.Size() < mapSize {
		if err := file.Truncate(mapSize); err != nil {
			file.Close()
			return nil, WrapError(ErrProblem, err)
		}
	}

	if fresh {
		if err := initNewCache(file); err != nil {
			file.Close()
			return nil, err
		}
	}

	mp, err := mmap.New(int(file.Fd()), 0, int(mapSize), false)
	if err != nil {
		file.Close()
		return nil, WrapError(ErrProblem, err)
	}

	e := &Env{
		path:    path,
		file:    file,
		mp:      mp,
		visited: make(map[string]struct{}),
	}
	e.txnCond = sync.NewCond(&e.txnMu)

	if opts.IntraProcessLock {
		e.lock = &mutexLock{}
	} else {
		fl, err := openFlock(path)
		if err != nil {
			e.closeFiles()
			return nil, err
		}
		e.lock = fl
	}

	if err := e.readMeta(); err != nil {
		e.closeFiles()
		return nil, err
	}

	return e, nil
}

// initNewCache writes the two initial meta pages. Meta 0 gets txnid 0 and
// meta 1 gets txnid 1, so meta 1 is the initial live page.
func initNewCache(file *os.File) error {
	for i := 0; i < numMetas; i++ {
		buf := make([]byte, PageSize)
		initMeta(buf, uint64(i))
		if _, err := file.WriteAt(buf, int64(i)*PageSize); err != nil {
			return WrapError(ErrProblem, err)
		}
	}
	if err := file.Sync(); err != nil {
		return WrapError(ErrProblem, err)
	}
	return nil
}

// readMeta selects the live meta from the mapped file.
func (e *Env) readMeta() error {
	data := e.mp.Data()
	if len(data) < numMetas*PageSize {
		return NewError(ErrCorrupted)
	}
	mi, err := pickLive(data[:PageSize], data[PageSize:2*PageSize])
	if err != nil {
		return err
	}
	e.meta.Store(mi)
	return nil
}

// Path returns the cache file path.
func (e *Env) Path() string {
	return e.path
}

// Close unmaps and closes the cache. It waits for all open transactions to
// end first, so late readers never touch unmapped memory.
func (e *Env) Close() {
	e.closeMu.Lock()
	if e.closed {
		e.closeMu.Unlock()
		return
	}
	e.closed = true
	e.closeMu.Unlock()

	e.txnWg.Wait()
	e.closeFiles()
}

func (e *Env) closeFiles() {
	if e.mp != nil {
		e.mp.Close()
		e.mp = nil
	}
	if e.lock != nil {
		e.lock.close()
		e.lock = nil
	}
	if e.file != nil {
		e.file.Close()
		e.file = nil
	}
}

func (e *Env) isClosed() bool {
	e.closeMu.Lock()
	defer e.closeMu.Unlock()
	return e.closed
}

// BeginRead starts a read transaction. Readers never block: the transaction
// is the (txnid, root) snapshot captured here, frozen for its lifetime.
func (e *Env) BeginRead() (*Txn, error) {
	if e.isClosed() {
		return nil, NewError(ErrInvalid)
	}
	mi := e.meta.Load()
	e.txnWg.Add(1)
	return &Txn{
		env:      e,
		readonly: true,
		txnid:    mi.txnid,
		root:     mi.root,
		last:     mi.last,
	}, nil
}

// BeginWrite starts the write transaction, blocking until the writer lock is
// available. At most one write transaction is alive per environment.
func (e *Env) BeginWrite() (*Txn, error) {
	if e.isClosed() {
		return nil, NewError(ErrInvalid)
	}

	e.txnMu.Lock()
	for e.writeActive {
		e.txnCond.Wait()
	}
	e.writeActive = true
	e.txnMu.Unlock()

	if err := e.lock.lock(); err != nil {
		e.releaseWriter()
		return nil, err
	}

	// Another process may have committed while we waited for the lock.
	if err := e.readMeta(); err != nil {
		e.lock.unlock()
		e.releaseWriter()
		return nil, err
	}

	mi := e.meta.Load()
	e.txnWg.Add(1)
	return &Txn{
		env:    e,
		txnid:  mi.txnid + 1,
		root:   mi.root,
		last:   mi.last,
		dirty:  make(map[uint64][]byte),
		shadow: make(map[uint64]uint64),
	}, nil
}

func (e *Env) releaseWriter() {
	e.txnMu.Lock()
	e.writeActive = false
	e.txnCond.Broadcast()
	e.txnMu.Unlock()
}

// MarkVisited records that a path was consulted during this run. Thread-safe;
// fingerprint workers call it concurrently.
func (e *Env) MarkVisited(path string) {
	e.visitedMu.Lock()
	e.visited[path] = struct{}{}
	e.visitedMu.Unlock()
}

// VisitedCount returns the number of paths marked since the last sweep.
func (e *Env) VisitedCount() int {
	e.visitedMu.Lock()
	defer e.visitedMu.Unlock()
	return len(e.visited)
}

// Sweep deletes every cache entry whose key was not marked visited since the
// previous sweep, then clears the visited set. Single-threaded; must not run
// concurrently with other cache activity. Returns the number of entries
// deleted.
func (e *Env) Sweep() (int, error) {
	txn, err := e.BeginWrite()
	if err != nil {
		return 0, err
	}

	e.visitedMu.Lock()
	visited := e.visited
	e.visitedMu.Unlock()

	var stale []string
	cur := txn.Cursor()
	for {
		key, _, err := cur.Next()
		if IsNotFound(err) {
			break
		}
		if err != nil {
			txn.Abort()
			return 0, err
		}
		if _, ok := visited[string(key)]; !ok {
			stale = append(stale, string(key))
		}
	}

	for _, key := range stale {
		if err := txn.Delete([]byte(key)); err != nil && !IsNotFound(err) {
			txn.Abort()
			return 0, err
		}
	}

	if err := txn.Commit(); err != nil {
		return 0, err
	}

	e.visitedMu.Lock()
	e.visited = make(map[string]struct{})
	e.visitedMu.Unlock()

	return len(stale), nil
}
