package pathcache

import "sync"

// writerLock serialises write transactions. The default implementation is an
// inter-process flock on a sidecar file; IntraProcessLock selects a plain
// mutex for environments that are never shared across processes.
type writerLock interface {
	lock() error
	unlock() error
	close() error
}

// mutexLock is the intra-process writer lock.
type mutexLock struct {
	mu sync.Mutex
}

func (l *mutexLock) lock() error {
	l.mu.Lock()
	return nil
}

func (l *mutexLock) unlock() error {
	l.mu.Unlock()
	return nil
}

func (l *mutexLock) close() error {
	return nil
}
