// Package metrics holds the Prometheus collectors updated by the trading loop
// and the ledger store. They are registered in init() and served at /metrics
// by the control server.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Orders counts placement attempts by result: ok | rejected | error.
	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeguard_orders_total",
			Help: "Order placement attempts by result",
		},
		[]string{"result", "side"},
	)

	// SignalsSkipped counts signals that never reached the gateway, by reason.
	SignalsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeguard_signals_skipped_total",
			Help: "Signals discarded before order placement",
		},
		[]string{"reason"},
	)

	Divergences = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeguard_reconcile_divergences_total",
			Help: "Reconciliation divergences by kind",
		},
		[]string{"kind"},
	)

	Halts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeguard_halts_total",
			Help: "Circuit breaker trips by reason",
		},
		[]string{"reason"},
	)

	Retries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeguard_retries_total",
			Help: "Retried transient failures by operation",
		},
		[]string{"op"},
	)

	LedgerSaveFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradeguard_ledger_save_failures_total",
			Help: "Failed ledger writes",
		},
	)

	Equity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeguard_equity_usd",
			Help: "Last queried account equity",
		},
	)

	Drawdown = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeguard_drawdown_ratio",
			Help: "Drawdown from peak equity (0..1)",
		},
	)

	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeguard_open_positions",
			Help: "Open positions in the ledger",
		},
	)

	// Degraded is 1 while the ledger has unsaved changes after a failed write.
	Degraded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeguard_ledger_degraded",
			Help: "1 when the last ledger write failed",
		},
	)

	Halted = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeguard_halted",
			Help: "1 when the circuit breaker has tripped",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Orders, SignalsSkipped, Divergences, Halts, Retries, LedgerSaveFailures,
		Equity, Drawdown, OpenPositions, Degraded, Halted,
	)
}

// BoolGauge sets g to 1 or 0.
func BoolGauge(g prometheus.Gauge, on bool) {
	if on {
		g.Set(1)
		return
	}
	g.Set(0)
}
