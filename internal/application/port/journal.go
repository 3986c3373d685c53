package port

import (
	"database/sql"
	"encoding/json"

	"tradeguard/internal/domain/model"
)

// TradeRow is the column layout shared by the SQL journals.
type TradeRow struct {
	ID          string
	Symbol      string
	Side        string
	Quantity    float64
	EntryPrice  float64
	ExitPrice   sql.NullFloat64
	EntryMs     int64
	ExitMs      sql.NullInt64
	RealizedPnl sql.NullFloat64
	Confidence  float64
	Status      string
	Source      string
	OrderID     string
	CloseReason string
}

func TradeRowOf(t model.TradeRecord) TradeRow {
	row := TradeRow{
		ID:          t.ID,
		Symbol:      t.Symbol,
		Side:        string(t.Side),
		Quantity:    t.Quantity,
		EntryPrice:  t.EntryPrice,
		EntryMs:     t.EntryTime.UnixMilli(),
		Confidence:  t.Confidence,
		Status:      string(t.Status),
		Source:      string(t.Source),
		OrderID:     t.OrderID,
		CloseReason: t.CloseReason,
	}
	if t.ExitPrice != nil {
		row.ExitPrice = sql.NullFloat64{Float64: *t.ExitPrice, Valid: true}
	}
	if t.ExitTime != nil {
		row.ExitMs = sql.NullInt64{Int64: t.ExitTime.UnixMilli(), Valid: true}
	}
	if t.RealizedPnl != nil {
		row.RealizedPnl = sql.NullFloat64{Float64: *t.RealizedPnl, Valid: true}
	}
	return row
}

// DivergenceJSON renders the before/after positions; absent sides are NULL.
func DivergenceJSON(d model.Divergence) (before, after sql.NullString) {
	enc := func(p *model.Position) sql.NullString {
		if p == nil {
			return sql.NullString{}
		}
		b, err := json.Marshal(p)
		if err != nil {
			return sql.NullString{}
		}
		return sql.NullString{String: string(b), Valid: true}
	}
	return enc(d.Before), enc(d.After)
}
