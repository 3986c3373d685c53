package ledgerfile

import (
	"fmt"
	"sort"
	"time"

	"tradeguard/internal/domain/model"
)

const schemaVersion = 1

// EncodeLedger maps a Ledger onto the closed value set. Every field is listed
// explicitly; times are written as RFC3339 strings in UTC.
func EncodeLedger(l *model.Ledger) model.Value {
	positions := make(map[string]model.Value, len(l.Positions))
	for sym, p := range l.Positions {
		positions[sym] = encodePosition(p)
	}
	history := make([]model.Value, 0, len(l.History))
	for _, t := range l.History {
		history = append(history, encodeTrade(t))
	}
	meta := make(map[string]model.Value, len(l.Metadata))
	for k, v := range l.Metadata {
		meta[k] = v.Clone()
	}
	return model.Map(map[string]model.Value{
		"version":          model.Number(schemaVersion),
		"open_positions":   model.Map(positions),
		"trade_history":    model.List(history...),
		"starting_balance": model.Number(l.StartingEquity),
		"session_start":    encodeTime(l.SessionStart),
		"last_updated":     encodeTime(l.LastUpdated),
		"metadata":         model.Map(meta),
	})
}

func encodePosition(p model.Position) model.Value {
	return model.Map(map[string]model.Value{
		"symbol":       model.String(p.Symbol),
		"side":         model.String(string(p.Side)),
		"quantity":     model.Number(p.Quantity),
		"entry_price":  model.Number(p.EntryPrice),
		"stop_price":   model.Number(p.StopPrice),
		"target_price": model.Number(p.TargetPrice),
		"open_time":    encodeTime(p.OpenTime),
		"status":       model.String(string(p.Status)),
	})
}

func encodeTrade(t model.TradeRecord) model.Value {
	exitTime := model.Null()
	if t.ExitTime != nil {
		exitTime = encodeTime(*t.ExitTime)
	}
	return model.Map(map[string]model.Value{
		"id":           model.String(t.ID),
		"symbol":       model.String(t.Symbol),
		"side":         model.String(string(t.Side)),
		"quantity":     model.Number(t.Quantity),
		"entry_price":  model.Number(t.EntryPrice),
		"exit_price":   model.OptNumber(t.ExitPrice),
		"entry_time":   encodeTime(t.EntryTime),
		"exit_time":    exitTime,
		"realized_pnl": model.OptNumber(t.RealizedPnl),
		"confidence":   model.Number(t.Confidence),
		"status":       model.String(string(t.Status)),
		"source":       model.String(string(t.Source)),
		"order_id":     model.String(t.OrderID),
		"close_reason": model.String(t.CloseReason),
	})
}

func encodeTime(t time.Time) model.Value {
	return model.String(t.UTC().Format(time.RFC3339Nano))
}

// DecodeLedger is the strict inverse of EncodeLedger. Any unexpected key, kind
// or enum value is an error; nothing is coerced.
func DecodeLedger(v model.Value) (*model.Ledger, error) {
	d := &decoder{}
	top := d.object(v, "ledger", "version", "open_positions", "trade_history",
		"starting_balance", "session_start", "last_updated", "metadata")
	if d.err != nil {
		return nil, d.err
	}
	if ver := d.number(top, "version"); d.err == nil && ver != schemaVersion {
		return nil, fmt.Errorf("unsupported schema version %v", ver)
	}

	l := &model.Ledger{
		Positions:      make(map[string]model.Position),
		History:        make([]model.TradeRecord, 0),
		StartingEquity: d.number(top, "starting_balance"),
		SessionStart:   d.time(top, "session_start"),
		LastUpdated:    d.time(top, "last_updated"),
		Metadata:       make(map[string]model.Value),
	}

	if raw, ok := d.field(top, "open_positions", model.KindMap); ok {
		m, _ := raw.AsMap()
		for sym, pv := range m {
			p := d.position(pv)
			if d.err != nil {
				return nil, fmt.Errorf("open_positions[%s]: %w", sym, d.err)
			}
			if p.Symbol != sym {
				return nil, fmt.Errorf("open_positions[%s]: symbol field is %q", sym, p.Symbol)
			}
			l.Positions[sym] = p
		}
	}
	if raw, ok := d.field(top, "trade_history", model.KindList); ok {
		items, _ := raw.AsList()
		for i, tv := range items {
			t := d.trade(tv)
			if d.err != nil {
				return nil, fmt.Errorf("trade_history[%d]: %w", i, d.err)
			}
			l.History = append(l.History, t)
		}
	}
	if raw, ok := d.field(top, "metadata", model.KindMap); ok {
		m, _ := raw.AsMap()
		for k, mv := range m {
			l.Metadata[k] = mv.Clone()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	return l, nil
}

// decoder keeps the first error and turns later calls into no-ops.
type decoder struct {
	err error
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf(format, args...)
	}
}

func (d *decoder) object(v model.Value, what string, keys ...string) map[string]model.Value {
	if d.err != nil {
		return nil
	}
	m, ok := v.AsMap()
	if !ok {
		d.fail("%s: expected map, got %s", what, v.Kind())
		return nil
	}
	allowed := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		allowed[k] = struct{}{}
	}
	var unknown []string
	for k := range m {
		if _, ok := allowed[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		d.fail("%s: unknown keys %v", what, unknown)
		return nil
	}
	for _, k := range keys {
		if _, ok := m[k]; !ok {
			d.fail("%s: missing key %q", what, k)
			return nil
		}
	}
	return m
}

func (d *decoder) field(m map[string]model.Value, key string, kind model.Kind) (model.Value, bool) {
	if d.err != nil {
		return model.Value{}, false
	}
	v := m[key]
	if v.Kind() != kind {
		d.fail("%s: expected %s, got %s", key, kind, v.Kind())
		return model.Value{}, false
	}
	return v, true
}

func (d *decoder) number(m map[string]model.Value, key string) float64 {
	v, ok := d.field(m, key, model.KindNumber)
	if !ok {
		return 0
	}
	n, _ := v.AsNumber()
	return n
}

func (d *decoder) optNumber(m map[string]model.Value, key string) *float64 {
	if d.err != nil || m[key].IsNull() {
		return nil
	}
	n := d.number(m, key)
	return &n
}

func (d *decoder) str(m map[string]model.Value, key string) string {
	v, ok := d.field(m, key, model.KindString)
	if !ok {
		return ""
	}
	s, _ := v.AsString()
	return s
}

func (d *decoder) time(m map[string]model.Value, key string) time.Time {
	s := d.str(m, key)
	if d.err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		d.fail("%s: bad timestamp %q", key, s)
		return time.Time{}
	}
	return t.UTC()
}

func (d *decoder) optTime(m map[string]model.Value, key string) *time.Time {
	if d.err != nil || m[key].IsNull() {
		return nil
	}
	t := d.time(m, key)
	return &t
}

func (d *decoder) side(m map[string]model.Value, key string) model.Side {
	s := model.Side(d.str(m, key))
	if d.err == nil && !s.Valid() {
		d.fail("%s: unknown side %q", key, s)
	}
	return s
}

func (d *decoder) status(m map[string]model.Value, key string) model.Status {
	s := model.Status(d.str(m, key))
	if d.err == nil && !s.Valid() {
		d.fail("%s: unknown status %q", key, s)
	}
	return s
}

func (d *decoder) position(v model.Value) model.Position {
	m := d.object(v, "position", "symbol", "side", "quantity", "entry_price",
		"stop_price", "target_price", "open_time", "status")
	return model.Position{
		Symbol:      d.str(m, "symbol"),
		Side:        d.side(m, "side"),
		Quantity:    d.number(m, "quantity"),
		EntryPrice:  d.number(m, "entry_price"),
		StopPrice:   d.number(m, "stop_price"),
		TargetPrice: d.number(m, "target_price"),
		OpenTime:    d.time(m, "open_time"),
		Status:      d.status(m, "status"),
	}
}

func (d *decoder) trade(v model.Value) model.TradeRecord {
	m := d.object(v, "trade", "id", "symbol", "side", "quantity", "entry_price",
		"exit_price", "entry_time", "exit_time", "realized_pnl", "confidence",
		"status", "source", "order_id", "close_reason")
	t := model.TradeRecord{
		ID:          d.str(m, "id"),
		Symbol:      d.str(m, "symbol"),
		Side:        d.side(m, "side"),
		Quantity:    d.number(m, "quantity"),
		EntryPrice:  d.number(m, "entry_price"),
		ExitPrice:   d.optNumber(m, "exit_price"),
		EntryTime:   d.time(m, "entry_time"),
		ExitTime:    d.optTime(m, "exit_time"),
		RealizedPnl: d.optNumber(m, "realized_pnl"),
		Confidence:  d.number(m, "confidence"),
		Status:      d.status(m, "status"),
		Source:      model.TradeSource(d.str(m, "source")),
		OrderID:     d.str(m, "order_id"),
		CloseReason: d.str(m, "close_reason"),
	}
	if d.err == nil && !t.Source.Valid() {
		d.fail("source: unknown trade source %q", t.Source)
	}
	return t
}
