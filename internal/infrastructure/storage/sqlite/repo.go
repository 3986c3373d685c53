package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"tradeguard/internal/application/port"
	"tradeguard/internal/domain/model"
)

// Repo is the local audit journal. The ledger file stays authoritative.
type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
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
  quantity REAL NOT NULL,
  entry_price REAL NOT NULL,
  exit_price REAL,
  entry_ms INTEGER NOT NULL,
  exit_ms INTEGER,
  realized_pnl REAL,
  confidence REAL NOT NULL,
  status TEXT NOT NULL,
  source TEXT NOT NULL,
  order_id TEXT NOT NULL,
  close_reason TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
CREATE INDEX IF NOT EXISTS idx_trades_entry ON trades(entry_ms);

CREATE TABLE IF NOT EXISTS divergences (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  kind TEXT NOT NULL,
  symbol TEXT NOT NULL,
  before_json TEXT,
  after_json TEXT,
  ts_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_divergences_ts ON divergences(ts_ms);

CREATE TABLE IF NOT EXISTS halts (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  reason TEXT NOT NULL,
  detail TEXT NOT NULL,
  equity REAL NOT NULL,
  peak_equity REAL NOT NULL,
  drawdown REAL NOT NULL,
  trade_count INTEGER NOT NULL,
  ts_ms INTEGER NOT NULL
);
`)
	return err
}

func (r *Repo) InsertTrade(ctx context.Context, t model.TradeRecord) error {
	row := port.TradeRowOf(t)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO trades(id, symbol, side, quantity, entry_price, exit_price, entry_ms, exit_ms,
			realized_pnl, confidence, status, source, order_id, close_reason, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, row.ID, row.Symbol, row.Side, row.Quantity, row.EntryPrice, row.ExitPrice, row.EntryMs, row.ExitMs,
		row.RealizedPnl, row.Confidence, row.Status, row.Source, row.OrderID, row.CloseReason, time.Now().UnixMilli())
	return err
}

func (r *Repo) UpdateTrade(ctx context.Context, t model.TradeRecord) error {
	row := port.TradeRowOf(t)
	_, err := r.db.ExecContext(ctx, `
		UPDATE trades SET exit_price=?, exit_ms=?, realized_pnl=?, status=?, close_reason=?, updated_at=?
		WHERE id=?
	`, row.ExitPrice, row.ExitMs, row.RealizedPnl, row.Status, row.CloseReason, time.Now().UnixMilli(), row.ID)
	return err
}

func (r *Repo) InsertDivergence(ctx context.Context, d model.Divergence) error {
	before, after := port.DivergenceJSON(d)
	_, err := r.db.ExecContext(ctx, `INSERT INTO divergences(kind, symbol, before_json, after_json, ts_ms) VALUES(?, ?, ?, ?, ?)`,
		string(d.Kind), d.Symbol, before, after, d.At.UnixMilli())
	return err
}

func (r *Repo) InsertHalt(ctx context.Context, h port.HaltEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO halts(reason, detail, equity, peak_equity, drawdown, trade_count, ts_ms)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`, string(h.Reason), h.Detail, h.Equity, h.PeakEquity, h.Drawdown, h.TradeCount, h.At.UnixMilli())
	return err
}

// ListTrades returns the newest trades first.
func (r *Repo) ListTrades(ctx context.Context, limit int) ([]port.TradeRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, symbol, side, quantity, entry_price, exit_price, entry_ms, exit_ms,
			realized_pnl, confidence, status, source, order_id, close_reason
		FROM trades ORDER BY entry_ms DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []port.TradeRow
	for rows.Next() {
		var t port.TradeRow
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Side, &t.Quantity, &t.EntryPrice, &t.ExitPrice, &t.EntryMs, &t.ExitMs,
			&t.RealizedPnl, &t.Confidence, &t.Status, &t.Source, &t.OrderID, &t.CloseReason); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountDivergences is used by status reporting and tests.
func (r *Repo) CountDivergences(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM divergences`).Scan(&n)
	return n, err
}

// CountHalts returns how many halt events were journaled.
func (r *Repo) CountHalts(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM halts`).Scan(&n)
	return n, err
}

var _ port.Repository = (*Repo)(nil)
