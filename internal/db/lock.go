package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process holds a store file for longer
// than the configured lock timeout. Callers may retry.
var ErrLocked = errors.New("store file is locked by another process")

const lockRetryDelay = 25 * time.Millisecond

// FileLock is an advisory lock on the sidecar "<path>.lock". The data file
// itself is replaced by rename on every write, so locking it directly
// would lock an inode that disappears.
type FileLock struct {
	path string
	fl   *flock.Flock
}

func lockPath(path string) string {
	return path + ".lock"
}

// AcquireLock blocks until the lock on path is held, ctx is done or
// timeout elapses. A zero timeout waits on ctx only.
func AcquireLock(ctx context.Context, path string, exclusive bool, timeout time.Duration) (*FileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	fl := flock.New(lockPath(path))
	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = fl.TryLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = fl.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrLocked)
		}
		return nil, fmt.Errorf("lock %s: %w", filepath.Base(path), err)
	}
	if !locked {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrLocked)
	}
	return &FileLock{path: path, fl: fl}, nil
}

// Release unlocks and closes the lock file. Calling it more than once is
// harmless.
func (l *FileLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	err := l.fl.Unlock()
	l.fl = nil
	if err != nil {
		return fmt.Errorf("unlock %s: %w", filepath.Base(l.path), err)
	}
	return nil
}
