package port

import "context"

// Status is the read-only view served by the control surface.
type Status struct {
	State         string  `json:"state"` // running | halted | stopped
	HaltReason    string  `json:"halt_reason,omitempty"`
	OpenPositions int     `json:"open_positions"`
	TradeCount    int     `json:"trade_count"`
	Equity        float64 `json:"equity"`
	PeakEquity    float64 `json:"peak_equity"`
	Drawdown      float64 `json:"drawdown"`
	Degraded      bool    `json:"degraded"`
	Simulation    bool    `json:"simulation"`
	Divergences   int     `json:"divergences"`
	Cycles        int64   `json:"cycles"`
	UpdatedAt     int64   `json:"updated_at_ms"`
}

const (
	StateRunning = "running"
	StateHalted  = "halted"
	StateStopped = "stopped"
)

// Sink receives a status snapshot after every cycle.
type Sink interface {
	PublishStatus(ctx context.Context, s Status) error
}
