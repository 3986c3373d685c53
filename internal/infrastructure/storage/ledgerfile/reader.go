package ledgerfile

import (
	"errors"
	"os"
	"time"

	"tradeguard/internal/domain/model"
)

const (
	readAttempts   = 3
	readRetryDelay = 50 * time.Millisecond
)

// ReadSnapshot reads the ledger without taking the lock, for status-only
// readers in another process. Writes are rename-atomic, so a decode failure
// here usually means the file was swapped mid-read; it is retried before
// falling back to the backups.
func ReadSnapshot(path string, backups int) (*model.Ledger, error) {
	var lastErr error
	for i := 0; i < readAttempts; i++ {
		l, err := readLedger(path)
		if err == nil {
			return l, nil
		}
		if errors.Is(err, os.ErrNotExist) {
			break
		}
		lastErr = err
		time.Sleep(readRetryDelay)
	}
	l, err := Load(path, backups)
	if err != nil && lastErr != nil {
		return nil, &model.StateCorruptionError{Path: path, Err: lastErr}
	}
	return l, err
}
