package port

import (
	"context"

	"tradeguard/internal/domain/model"
)

// LedgerStore is the durable ledger owned by the trading process.
type LedgerStore interface {
	Snapshot() *model.Ledger
	Update(ctx context.Context, fn func(l *model.Ledger) error) error
	SetStartingBalance(ctx context.Context, equity float64) error
	Degraded() bool
	RetryPending(ctx context.Context) bool
}
