package console

import (
	"bytes"
	"context"
	"database/sql"
	"testing"
	"time"

	"tradeguard/internal/application/port"
	"tradeguard/internal/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusLine(t *testing.T) {
	st := port.Status{
		State: port.StateHalted, HaltReason: "drawdown", OpenPositions: 1, TradeCount: 3,
		Equity: 7900, PeakEquity: 10000, Drawdown: 0.21, Degraded: true, Simulation: true,
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli(),
	}
	assert.Equal(t, "2026-01-02 03:04:05 halted open=1 trades=3 equity=7900.00 peak=10000.00 dd=21.00% halt=drawdown DEGRADED [sim]", StatusLine(st))
}

func TestSinkWritesLine(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewSink(&buf).PublishStatus(context.Background(), port.Status{State: port.StateRunning}))
	assert.Contains(t, buf.String(), "running open=0")
}

func TestRenderLedger(t *testing.T) {
	now := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	l := model.NewLedger(now)
	l.Positions["BTCUSDT"] = model.Position{Symbol: "BTCUSDT", Side: model.SideLong, Quantity: 0.5, EntryPrice: 100, Status: model.StatusOpen, OpenTime: now}
	l.History = append(l.History, model.TradeRecord{ID: "a", Symbol: "BTCUSDT", EntryTime: now, Status: model.StatusOpen, Source: model.SourceFill})

	var buf bytes.Buffer
	require.NoError(t, RenderLedger(&buf, l, now))
	out := buf.String()
	assert.Contains(t, out, "trades today")
	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, "long")

	buf.Reset()
	require.NoError(t, RenderLedger(&buf, model.NewLedger(now), now))
	assert.Contains(t, buf.String(), "no open positions")
}

func TestRenderTrades(t *testing.T) {
	var buf bytes.Buffer
	rows := []port.TradeRow{
		{ID: "x1", Symbol: "ETHUSDT", Side: "short", Quantity: 1, EntryPrice: 50, Status: "OPEN", Source: "fill"},
		{ID: "x2", Symbol: "BTCUSDT", Side: "long", Quantity: 1, EntryPrice: 100, Status: "CLOSED", Source: "fill",
			ExitPrice: sql.NullFloat64{Float64: 110, Valid: true}, RealizedPnl: sql.NullFloat64{Float64: 10, Valid: true}},
	}
	require.NoError(t, RenderTrades(&buf, rows))
	assert.Contains(t, buf.String(), "10.00")
	assert.Contains(t, buf.String(), "x1")
}
