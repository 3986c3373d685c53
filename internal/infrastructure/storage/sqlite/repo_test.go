package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tradeguard/internal/application/port"
	"tradeguard/internal/domain/model"
)

func newRepo(t *testing.T) *Repo {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteRepoTradeLifecycle(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	entry := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tr := model.TradeRecord{
		ID: "01J0000000000000000000000A", Symbol: "BTCUSDT", Side: model.SideLong,
		Quantity: 0.5, EntryPrice: 60000, EntryTime: entry, Confidence: 80,
		Status: model.StatusOpen, Source: model.SourceFill, OrderID: "42",
	}
	if err := repo.InsertTrade(ctx, tr); err != nil {
		t.Fatalf("InsertTrade failed: %v", err)
	}
	// journaling the same record twice is harmless
	if err := repo.InsertTrade(ctx, tr); err != nil {
		t.Fatalf("duplicate InsertTrade failed: %v", err)
	}

	exit := entry.Add(time.Hour)
	tr.Status = model.StatusClosed
	tr.ExitPrice = model.Float(61000)
	tr.ExitTime = &exit
	tr.RealizedPnl = model.Float(500)
	tr.CloseReason = "take_profit"
	if err := repo.UpdateTrade(ctx, tr); err != nil {
		t.Fatalf("UpdateTrade failed: %v", err)
	}

	rows, err := repo.ListTrades(ctx, 10)
	if err != nil {
		t.Fatalf("ListTrades failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(rows))
	}
	got := rows[0]
	if got.Status != "CLOSED" || got.CloseReason != "take_profit" {
		t.Errorf("unexpected status/reason: %s/%s", got.Status, got.CloseReason)
	}
	if !got.RealizedPnl.Valid || got.RealizedPnl.Float64 != 500 {
		t.Errorf("expected pnl 500, got %+v", got.RealizedPnl)
	}
	if !got.ExitMs.Valid || got.ExitMs.Int64 != exit.UnixMilli() {
		t.Errorf("unexpected exit time %+v", got.ExitMs)
	}
}

func TestSQLiteRepoDivergenceAndHalt(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	after := &model.Position{Symbol: "ETHUSDT", Side: model.SideShort, Quantity: 2, EntryPrice: 3000, Status: model.StatusOpen, OpenTime: now}
	if err := repo.InsertDivergence(ctx, model.Divergence{Kind: model.DivergenceMissing, Symbol: "ETHUSDT", After: after, At: now}); err != nil {
		t.Fatalf("InsertDivergence failed: %v", err)
	}
	if err := repo.InsertHalt(ctx, port.HaltEvent{Reason: model.HaltDrawdown, Detail: "dd", Equity: 7900, PeakEquity: 10000, Drawdown: 0.21, At: now}); err != nil {
		t.Fatalf("InsertHalt failed: %v", err)
	}

	if n, err := repo.CountDivergences(ctx); err != nil || n != 1 {
		t.Errorf("expected 1 divergence, got %d (%v)", n, err)
	}
	if n, err := repo.CountHalts(ctx); err != nil || n != 1 {
		t.Errorf("expected 1 halt, got %d (%v)", n, err)
	}
}
