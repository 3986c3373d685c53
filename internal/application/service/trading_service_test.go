package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeguard/internal/application/port"
	"tradeguard/internal/domain/model"
	domain "tradeguard/internal/domain/service"
	"tradeguard/internal/infrastructure/exchange/paper"
	"tradeguard/internal/infrastructure/storage/ledgerfile"
)

var now0 = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

// mockGateway 模拟交易所
type mockGateway struct {
	mu             sync.Mutex
	equity         []float64
	positions      []model.ExchangePosition
	reject         bool
	equityFailures int
	orders         []port.OrderRequest
}

func (g *mockGateway) Name() string { return "mock" }

func (g *mockGateway) PlaceOrder(_ context.Context, req port.OrderRequest) (port.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders = append(g.orders, req)
	if g.reject {
		return port.OrderResult{Status: port.OrderErr}, &model.RejectedOrderError{Symbol: req.Symbol, Code: -2019, Reason: "Margin is insufficient"}
	}
	if req.ReduceOnly {
		g.positions = nil
	} else {
		g.positions = append(g.positions, model.ExchangePosition{Symbol: req.Symbol, Side: req.Side, Quantity: req.Quantity, EntryPrice: req.Price})
	}
	return port.OrderResult{Status: port.OrderOK, OrderID: fmt.Sprintf("o-%d", len(g.orders)), FilledQty: req.Quantity, AvgPrice: req.Price}, nil
}

func (g *mockGateway) QueryPositions(context.Context) ([]model.ExchangePosition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]model.ExchangePosition(nil), g.positions...), nil
}

func (g *mockGateway) QueryEquity(context.Context) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.equityFailures > 0 {
		g.equityFailures--
		return 0, model.Transient("equity", errors.New("timeout"))
	}
	eq := g.equity[0]
	if len(g.equity) > 1 {
		g.equity = g.equity[1:]
	}
	return eq, nil
}

func (g *mockGateway) orderCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.orders)
}

type mockSignals struct {
	batches [][]model.Signal
}

func (m *mockSignals) Poll(context.Context) ([]model.Signal, error) {
	if len(m.batches) == 0 {
		return nil, nil
	}
	b := m.batches[0]
	m.batches = m.batches[1:]
	return b, nil
}

func (m *mockSignals) Close() error { return nil }

type mockPrices map[string]float64

func (m mockPrices) LastPrice(symbol string) (float64, bool) {
	p, ok := m[symbol]
	return p, ok
}

func (m mockPrices) Snapshot() map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func signal(sym string) model.Signal {
	return model.Signal{Symbol: sym, Direction: model.SideLong, EntryPrice: 100, StopPrice: 95, TargetPrice: 110, Confidence: 80, Timestamp: now0}
}

func repeat(sig model.Signal, n int) []model.Signal {
	out := make([]model.Signal, n)
	for i := range out {
		out[i] = sig
	}
	return out
}

func newStore(t *testing.T) *ledgerfile.Store {
	t.Helper()
	s, err := ledgerfile.Open(context.Background(), ledgerfile.Options{
		Path: filepath.Join(t.TempDir(), "state.json"),
		Now:  func() time.Time { return now0 },
	})
	require.NoError(t, err)
	return s
}

func newService(store port.LedgerStore, gw port.Gateway, sigs port.SignalSource, prices port.PriceBook) *TradingService {
	sizing := domain.DefaultSizingParams()
	sizing.MinConfidence = 40
	return NewTradingService(Options{
		PollInterval:     time.Millisecond,
		Sizing:           sizing,
		Breaker:          domain.DefaultBreakerParams(),
		Retry:            domain.RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2},
		MaxOpenPositions: 3,
		Now:              func() time.Time { return now0 },
	}, Deps{Store: store, Gateway: gw, Signals: sigs, Prices: prices})
}

func TestRepeatSignalsForOpenSymbolNeverReachGateway(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.UpsertPosition(ctx, model.Position{Symbol: "BTCUSDT", Side: model.SideLong, Quantity: 0.1, EntryPrice: 100, OpenTime: now0, Status: model.StatusOpen}))
	gw := &mockGateway{
		equity:    []float64{10000},
		positions: []model.ExchangePosition{{Symbol: "BTCUSDT", Side: model.SideLong, Quantity: 0.1, EntryPrice: 100}},
	}
	svc := newService(store, gw, &mockSignals{batches: [][]model.Signal{repeat(signal("BTCUSDT"), 51)}}, nil)

	svc.Startup(ctx)
	svc.RunCycle(ctx)

	assert.Equal(t, 0, gw.orderCount())
	l := store.Snapshot()
	assert.Len(t, l.OpenPositions(), 1)
	assert.Empty(t, l.History)
	st := svc.Status()
	assert.Equal(t, port.StateRunning, st.State)
	assert.Equal(t, 0, st.TradeCount)
}

func TestRejectedOrdersDoNotCountOrHalt(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	gw := &mockGateway{equity: []float64{10000}, reject: true}
	svc := newService(store, gw, &mockSignals{batches: [][]model.Signal{repeat(signal("ETHUSDT"), 60)}}, nil)

	svc.Startup(ctx)
	svc.RunCycle(ctx)

	assert.Equal(t, 60, gw.orderCount(), "rejections are not retried")
	l := store.Snapshot()
	assert.Empty(t, l.OpenPositions())
	assert.Empty(t, l.History)
	assert.Equal(t, 0, domain.ConfirmedTradeCount(l.History, now0))
	assert.False(t, svc.Halted())
	assert.Equal(t, port.StateRunning, svc.Status().State)
}

func TestConfirmedFillIsPersisted(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	gw := &mockGateway{equity: []float64{10000}}
	svc := newService(store, gw, &mockSignals{batches: [][]model.Signal{{signal("SOLUSDT"), signal("SOLUSDT")}}}, nil)

	svc.Startup(ctx)
	svc.RunCycle(ctx)

	require.Equal(t, 1, gw.orderCount(), "second signal short-circuits on the open position")
	onDisk, err := ledgerfile.Load(store.Path(), 5)
	require.NoError(t, err)
	require.True(t, onDisk.HasOpen("SOLUSDT"))
	require.Len(t, onDisk.History, 1)
	tr := onDisk.History[0]
	assert.Equal(t, model.SourceFill, tr.Source)
	assert.Equal(t, "o-1", tr.OrderID)
	assert.Greater(t, tr.Quantity, 0.0)
	assert.Equal(t, 1, svc.Status().TradeCount)
	assert.Equal(t, 1, svc.Status().OpenPositions)
}

func TestSignalIDIsExecutedOnce(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	gw := &mockGateway{equity: []float64{10000}, reject: true}
	sig := signal("ADAUSDT")
	sig.ID = "sig-1"
	svc := newService(store, gw, &mockSignals{batches: [][]model.Signal{{sig, sig}, {sig}}}, nil)

	svc.Startup(ctx)
	svc.RunCycle(ctx)
	svc.RunCycle(ctx)

	assert.Equal(t, 1, gw.orderCount())
}

func TestMaxOpenPositionsIsEnforced(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	gw := &mockGateway{equity: []float64{10000}}
	sigs := []model.Signal{signal("A"), signal("B"), signal("C"), signal("D")}
	svc := newService(store, gw, &mockSignals{batches: [][]model.Signal{sigs}}, nil)

	svc.Startup(ctx)
	svc.RunCycle(ctx)

	assert.Equal(t, 3, gw.orderCount())
	assert.Len(t, store.Snapshot().OpenPositions(), 3)
}

func TestDrawdownHaltsAndStaysHalted(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	gw := &mockGateway{equity: []float64{10000, 10000, 7900, 12000}}
	sigs := &mockSignals{batches: [][]model.Signal{nil, {signal("BTCUSDT")}, {signal("ETHUSDT")}}}
	svc := newService(store, gw, sigs, nil)

	svc.Startup(ctx)
	assert.Equal(t, 10000.0, store.Snapshot().StartingEquity)

	svc.RunCycle(ctx) // 10000
	require.False(t, svc.Halted())

	svc.RunCycle(ctx) // 7900
	require.True(t, svc.Halted())
	st := svc.Status()
	assert.Equal(t, port.StateHalted, st.State)
	assert.Equal(t, string(model.HaltDrawdown), st.HaltReason)
	assert.InDelta(t, 0.21, st.Drawdown, 1e-9)

	svc.RunCycle(ctx) // equity back to 12000
	assert.Equal(t, port.StateHalted, svc.Status().State)
	assert.Equal(t, 0, gw.orderCount())
}

func TestTransientEquityFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.SetStartingBalance(ctx, 10000))
	gw := &mockGateway{equity: []float64{10000}}
	svc := newService(store, gw, &mockSignals{}, nil)
	svc.Startup(ctx)

	gw.equityFailures = 2
	svc.RunCycle(ctx)
	assert.Equal(t, 10000.0, svc.Status().Equity)
}

func TestStartupClosesPositionGoneFromExchange(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.UpsertPosition(ctx, model.Position{Symbol: "XRPUSDT", Side: model.SideLong, Quantity: 100, EntryPrice: 0.5, OpenTime: now0, Status: model.StatusOpen}))
	gw := &mockGateway{equity: []float64{10000}}
	svc := newService(store, gw, &mockSignals{}, mockPrices{"XRPUSDT": 0.6})

	svc.Startup(ctx)

	l := store.Snapshot()
	assert.False(t, l.HasOpen("XRPUSDT"))
	require.Len(t, l.History, 1)
	assert.Equal(t, model.StatusClosed, l.History[0].Status)
	assert.InDelta(t, 10.0, *l.History[0].RealizedPnl, 1e-9)

	svc.reconcile(ctx)
	svc.RunCycle(ctx)
	assert.Equal(t, 1, svc.Status().Divergences, "second reconcile finds nothing new")
	assert.Len(t, store.Snapshot().History, 1)
}

// recordingJournal 记录流水调用
type recordingJournal struct {
	mu          sync.Mutex
	inserted    []model.TradeRecord
	updated     []model.TradeRecord
	divergences []model.Divergence
	halts       []port.HaltEvent
}

func (j *recordingJournal) InsertTrade(_ context.Context, t model.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inserted = append(j.inserted, t)
	return nil
}

func (j *recordingJournal) UpdateTrade(_ context.Context, t model.TradeRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.updated = append(j.updated, t)
	return nil
}

func (j *recordingJournal) InsertDivergence(_ context.Context, d model.Divergence) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.divergences = append(j.divergences, d)
	return nil
}

func (j *recordingJournal) InsertHalt(_ context.Context, h port.HaltEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.halts = append(j.halts, h)
	return nil
}

func (j *recordingJournal) Close() error { return nil }

func TestReconcileCloseUpdatesJournaledFill(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.UpsertPosition(ctx, model.Position{Symbol: "XRPUSDT", Side: model.SideLong, Quantity: 100, EntryPrice: 0.5, OpenTime: now0, Status: model.StatusOpen}))
	require.NoError(t, store.AppendTrade(ctx, model.TradeRecord{
		ID: "fill-1", Symbol: "XRPUSDT", Side: model.SideLong, Quantity: 100, EntryPrice: 0.5,
		EntryTime: now0, Status: model.StatusOpen, Source: model.SourceFill,
	}))
	journal := &recordingJournal{}
	svc := newService(store, &mockGateway{equity: []float64{10000}}, &mockSignals{}, mockPrices{"XRPUSDT": 0.6})
	svc.deps.Journal = journal

	svc.Startup(ctx)

	require.Len(t, journal.updated, 1)
	assert.Equal(t, "fill-1", journal.updated[0].ID)
	assert.Equal(t, model.StatusClosed, journal.updated[0].Status)
	require.NotNil(t, journal.updated[0].ExitTime)
	assert.Nil(t, journal.updated[0].RealizedPnl)

	require.Len(t, journal.inserted, 1)
	assert.Equal(t, model.SourceReconcile, journal.inserted[0].Source)
	assert.InDelta(t, 10.0, *journal.inserted[0].RealizedPnl, 1e-9)
	assert.Len(t, journal.divergences, 1)

	svc.reconcile(ctx)
	assert.Len(t, journal.updated, 1, "unchanged exchange state journals nothing new")
	assert.Len(t, journal.inserted, 1)
}

func TestExchangeSideLiquidationIsReconciled(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	prices := mockPrices{"BTCUSDT": 100}
	gw := paper.NewGateway(10000, prices, 0.001)
	sigs := &mockSignals{batches: [][]model.Signal{{signal("BTCUSDT")}}}
	svc := newService(store, gw, sigs, prices)

	svc.Startup(ctx)
	svc.RunCycle(ctx)
	require.True(t, store.Snapshot().HasOpen("BTCUSDT"))

	prices["BTCUSDT"] = 97
	require.True(t, gw.Liquidate("BTCUSDT"))
	svc.reconcile(ctx)

	l := store.Snapshot()
	assert.False(t, l.HasOpen("BTCUSDT"))
	require.Len(t, l.History, 2)
	assert.Equal(t, model.StatusClosed, l.History[0].Status)
	assert.Nil(t, l.History[0].RealizedPnl, "pnl is carried by the reconcile record only")
	closed := l.History[1]
	assert.Equal(t, model.SourceReconcile, closed.Source)
	require.NotNil(t, closed.RealizedPnl)
	assert.Less(t, *closed.RealizedPnl, 0.0)

	eq, err := gw.QueryEquity(ctx)
	require.NoError(t, err)
	assert.InDelta(t, eq-10000, *closed.RealizedPnl, 1e-6)
}

func TestStopLossClosesPosition(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	gw := &mockGateway{equity: []float64{10000}}
	prices := mockPrices{}
	sigs := &mockSignals{batches: [][]model.Signal{{signal("BTCUSDT")}}}
	svc := newService(store, gw, sigs, prices)

	svc.Startup(ctx)
	svc.RunCycle(ctx)
	require.True(t, store.Snapshot().HasOpen("BTCUSDT"))

	prices["BTCUSDT"] = 94
	svc.RunCycle(ctx)

	l := store.Snapshot()
	assert.False(t, l.HasOpen("BTCUSDT"))
	require.Len(t, l.History, 1)
	tr := l.History[0]
	assert.Equal(t, model.StatusClosed, tr.Status)
	assert.Equal(t, "stop_loss", tr.CloseReason)
	require.NotNil(t, tr.RealizedPnl)
	assert.Less(t, *tr.RealizedPnl, 0.0)
	assert.True(t, gw.orders[1].ReduceOnly)
}

func TestRunStopsOnFlagAndStopFile(t *testing.T) {
	store := newStore(t)
	gw := &mockGateway{equity: []float64{10000}}
	svc := newService(store, gw, &mockSignals{}, nil)
	svc.Stop()
	require.NoError(t, svc.Run(context.Background()))
	assert.Equal(t, port.StateStopped, svc.Status().State)

	stopFile := filepath.Join(t.TempDir(), "stop")
	svc2 := newService(newStore(t), &mockGateway{equity: []float64{10000}}, &mockSignals{}, nil)
	svc2.opts.StopFile = stopFile
	done := make(chan error, 1)
	go func() { done <- svc2.Run(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, os.WriteFile(stopFile, nil, 0o644))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
	_, err := os.Stat(stopFile)
	assert.True(t, os.IsNotExist(err))
}
