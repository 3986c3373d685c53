package port

import (
	"context"
	"time"

	"tradeguard/internal/domain/model"
)

// HaltEvent is written once when the circuit breaker trips.
type HaltEvent struct {
	Reason     model.HaltReason
	Detail     string
	Equity     float64
	PeakEquity float64
	Drawdown   float64
	TradeCount int
	At         time.Time
}

// Repository is an append-only journal mirroring what the ledger records.
// It is an audit trail; the ledger file stays the source of truth.
type Repository interface {
	InsertTrade(ctx context.Context, t model.TradeRecord) error
	UpdateTrade(ctx context.Context, t model.TradeRecord) error
	InsertDivergence(ctx context.Context, d model.Divergence) error
	InsertHalt(ctx context.Context, h HaltEvent) error

	Close() error
}
