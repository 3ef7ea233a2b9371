//go:build unix

package pathcache

import (
	"os"

	"golang.org/x/sys/unix"
)

// flockLock is the inter-process writer lock, an exclusive flock on a
// sidecar lock file next to the cache file.
type flockLock struct {
	file *os.File
}

// LockSuffix is appended to the cache path to name the lock file.
const LockSuffix = ".lock"

func openFlock(path string) (*flockLock, error) {
	f, err := os.OpenFile(path+LockSuffix, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, WrapError(ErrInvalid, err)
	}
	return &flockLock{file: f}, nil
}

func (l *flockLock) lock() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_EX); err != nil {
		return WrapError(ErrBusy, err)
	}
	return nil
}

func (l *flockLock) unlock() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		return WrapError(ErrProblem, err)
	}
	return nil
}

func (l *flockLock) close() error {
	return l.file.Close()
}
