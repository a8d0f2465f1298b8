package storage

import (
	"os"
	"sync"
	"syscall"
)

const lockFileSuffix = ".lock"

// FileLock serializes access to a single on-disk path across both
// goroutines (via an in-process mutex) and processes (via flock on a
// sidecar ".lock" file), so Storage.Put/Delete calls against the same
// document never interleave.
type FileLock struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewFileLock creates a lock for path. The lock is not held until
// Lock or TryLock succeeds.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Lock blocks until the exclusive lock on path is acquired.
func (l *FileLock) Lock() error {
	l.mu.Lock()

	file, err := os.OpenFile(l.path+lockFileSuffix, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		l.mu.Unlock()
		return err
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX); err != nil {
		file.Close()
		l.mu.Unlock()
		return err
	}

	l.file = file
	return nil
}

// TryLock attempts to acquire the lock without blocking, returning
// false immediately if it's already held.
func (l *FileLock) TryLock() bool {
	if !l.mu.TryLock() {
		return false
	}

	file, err := os.OpenFile(l.path+lockFileSuffix, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		l.mu.Unlock()
		return false
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		l.mu.Unlock()
		return false
	}

	l.file = file
	return true
}

// Unlock releases a lock acquired by Lock or TryLock and removes the
// sidecar lock file. Unlocking a lock that isn't held is a no-op.
func (l *FileLock) Unlock() error {
	if l.file == nil {
		return nil
	}

	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()
	os.Remove(l.path + lockFileSuffix)

	l.file = nil
	l.mu.Unlock()
	return nil
}
