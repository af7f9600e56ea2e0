package baseline

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockFilename = ".lock"

// ErrCacheLocked is returned when another process holds the cache.
var ErrCacheLocked = errors.New("baseline cache is locked by another process")

// dirLock guards a cache directory against concurrent runs with an advisory
// file lock. The kernel drops the lock when the holder exits.
type dirLock struct {
	fl *flock.Flock
}

func newDirLock(dir string) *dirLock {
	return &dirLock{fl: flock.New(filepath.Join(dir, lockFilename))}
}

func (l *dirLock) Acquire() error {
	locked, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("locking %s: %w", l.fl.Path(), err)
	}

	if !locked {
		return ErrCacheLocked
	}

	return nil
}

func (l *dirLock) Release() error {
	if !l.fl.Locked() {
		return nil
	}

	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("unlocking %s: %w", l.fl.Path(), err)
	}

	return nil
}
