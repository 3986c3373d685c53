package port

import "context"

type Tick struct {
	Symbol   string  // "BTCUSDT"
	PriceStr string  // raw string
	PriceNum float64 // parsed float64 (best-effort)
	Ts       int64   // unix ms
}

type PriceFeed interface {
	Name() string
	Subscribe(ctx context.Context, symbols []string) (<-chan Tick, error)
}

// PriceBook returns the last observed price for a symbol.
type PriceBook interface {
	LastPrice(symbol string) (float64, bool)
	Snapshot() map[string]float64
}
