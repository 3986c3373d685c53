package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"tradeguard/internal/domain/model"
)

// Runs only against a real server: TRADEGUARD_TEST_PG_DSN=postgres://...
func TestPostgresRepoTrade(t *testing.T) {
	dsn := os.Getenv("TRADEGUARD_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TRADEGUARD_TEST_PG_DSN not set")
	}
	repo, err := New(dsn)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	id := "test-" + time.Now().Format("20060102150405.000000000")
	tr := model.TradeRecord{
		ID: id, Symbol: "BTCUSDT", Side: model.SideLong, Quantity: 1, EntryPrice: 100,
		EntryTime: time.Now().UTC(), Confidence: 70, Status: model.StatusOpen, Source: model.SourceFill,
	}
	if err := repo.InsertTrade(ctx, tr); err != nil {
		t.Fatalf("InsertTrade failed: %v", err)
	}
	tr.Status = model.StatusClosed
	tr.ExitPrice = model.Float(101)
	if err := repo.UpdateTrade(ctx, tr); err != nil {
		t.Fatalf("UpdateTrade failed: %v", err)
	}

	var status string
	if err := repo.db.QueryRowContext(ctx, `SELECT status FROM trades WHERE id=$1`, id).Scan(&status); err != nil {
		t.Fatalf("select failed: %v", err)
	}
	if status != "CLOSED" {
		t.Errorf("expected CLOSED, got %s", status)
	}
	_, _ = repo.db.ExecContext(ctx, `DELETE FROM trades WHERE id=$1`, id)
}
