package ledgerfile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// ErrLockTimeout is returned when the advisory lock is not acquired in time.
var ErrLockTimeout = errors.New("ledger lock timeout")

const lockPollInterval = 25 * time.Millisecond

// FileLock is an advisory flock(2) on a sidecar file. It only excludes other
// holders of the same lock file; it does not protect against plain readers.
type FileLock struct {
	path string
	f    *os.File
}

func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Acquire blocks until the exclusive lock is held, ctx is done or timeout passes.
func (l *FileLock) Acquire(ctx context.Context, timeout time.Duration) error {
	if l.f != nil {
		return errors.New("ledger lock already held")
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			l.f = f
			return nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			_ = f.Close()
			return fmt.Errorf("flock %s: %w", l.path, err)
		}
		if time.Now().After(deadline) {
			_ = f.Close()
			return fmt.Errorf("%w after %s", ErrLockTimeout, timeout)
		}
		select {
		case <-ctx.Done():
			_ = f.Close()
			return ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *FileLock) Release() error {
	if l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil
	uerr := unix.Flock(int(f.Fd()), unix.LOCK_UN)
	cerr := f.Close()
	if uerr != nil {
		return uerr
	}
	return cerr
}
