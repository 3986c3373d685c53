package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tradeguard/internal/application/port"
	"tradeguard/internal/domain/model"
)

// Repo mirrors the journal into a shared database for reporting.
type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS trades (
  id TEXT PRIMARY KEY,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  quantity DOUBLE PRECISION NOT NULL,
  entry_price DOUBLE PRECISION NOT NULL,
  exit_price DOUBLE PRECISION,
  entry_ms BIGINT NOT NULL,
  exit_ms BIGINT,
  realized_pnl DOUBLE PRECISION,
  confidence DOUBLE PRECISION NOT NULL,
  status TEXT NOT NULL,
  source TEXT NOT NULL,
  order_id TEXT NOT NULL,
  close_reason TEXT NOT NULL,
  updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);

CREATE TABLE IF NOT EXISTS divergences (
  id BIGSERIAL PRIMARY KEY,
  kind TEXT NOT NULL,
  symbol TEXT NOT NULL,
  before_json JSONB,
  after_json JSONB,
  ts_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_divergences_ts ON divergences(ts_ms);

CREATE TABLE IF NOT EXISTS halts (
  id BIGSERIAL PRIMARY KEY,
  reason TEXT NOT NULL,
  detail TEXT NOT NULL,
  equity DOUBLE PRECISION NOT NULL,
  peak_equity DOUBLE PRECISION NOT NULL,
  drawdown DOUBLE PRECISION NOT NULL,
  trade_count INTEGER NOT NULL,
  ts_ms BIGINT NOT NULL
);
`)
	return err
}

func (r *Repo) InsertTrade(ctx context.Context, t model.TradeRecord) error {
	row := port.TradeRowOf(t)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trades(id, symbol, side, quantity, entry_price, exit_price, entry_ms, exit_ms,
			realized_pnl, confidence, status, source, order_id, close_reason, updated_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT(id) DO NOTHING
	`, row.ID, row.Symbol, row.Side, row.Quantity, row.EntryPrice, row.ExitPrice, row.EntryMs, row.ExitMs,
		row.RealizedPnl, row.Confidence, row.Status, row.Source, row.OrderID, row.CloseReason, time.Now().UnixMilli())
	return err
}

func (r *Repo) UpdateTrade(ctx context.Context, t model.TradeRecord) error {
	row := port.TradeRowOf(t)
	_, err := r.db.ExecContext(ctx, `
		UPDATE trades SET exit_price=$1, exit_ms=$2, realized_pnl=$3, status=$4, close_reason=$5, updated_at=$6
		WHERE id=$7
	`, row.ExitPrice, row.ExitMs, row.RealizedPnl, row.Status, row.CloseReason, time.Now().UnixMilli(), row.ID)
	return err
}

func (r *Repo) InsertDivergence(ctx context.Context, d model.Divergence) error {
	before, after := port.DivergenceJSON(d)
	_, err := r.db.ExecContext(ctx, `INSERT INTO divergences(kind, symbol, before_json, after_json, ts_ms) VALUES($1, $2, $3, $4, $5)`,
		string(d.Kind), d.Symbol, before, after, d.At.UnixMilli())
	return err
}

func (r *Repo) InsertHalt(ctx context.Context, h port.HaltEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO halts(reason, detail, equity, peak_equity, drawdown, trade_count, ts_ms)
		VALUES($1, $2, $3, $4, $5, $6, $7)
	`, string(h.Reason), h.Detail, h.Equity, h.PeakEquity, h.Drawdown, h.TradeCount, h.At.UnixMilli())
	return err
}

var _ port.Repository = (*Repo)(nil)
