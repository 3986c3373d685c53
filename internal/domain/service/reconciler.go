package service

import (
	"math"
	"sort"
	"time"

	"tradeguard/internal/domain/model"
)

// CloseReasonExchange 交易所已无该持仓时写入的平仓原因
const CloseReasonExchange = "exchange_closed"

// Reconciler 以交易所为准校正本地账本
type Reconciler struct {
	QtyTolerance float64 // 相对误差，超过即视为数量不一致
	Now          func() time.Time
	NewID        func(at time.Time) string
}

// NewReconciler newID 用于生成合成成交记录的 ID
func NewReconciler(newID func(at time.Time) string) *Reconciler {
	return &Reconciler{
		QtyTolerance: 1e-6,
		Now:          func() time.Time { return time.Now().UTC() },
		NewID:        newID,
	}
}

// Sync 返回校正后的账本副本和差异列表，不修改入参。
// lastPrices 为最近观测到的价格，用于估算交易所侧平仓的盈亏；
// 该价格可能已过期，结果只是近似值。
// 交易所状态不变时重复调用不会产生新的差异。
func (r *Reconciler) Sync(l *model.Ledger, exchange []model.ExchangePosition, lastPrices map[string]float64) (*model.Ledger, []model.Divergence) {
	out := l.Clone()
	now := r.Now()
	var divs []model.Divergence

	reported := make(map[string]model.ExchangePosition, len(exchange))
	for _, ep := range exchange {
		if ep.Quantity <= 0 || ep.Symbol == "" {
			continue
		}
		reported[ep.Symbol] = ep
	}

	symbols := make([]string, 0, len(reported))
	for sym := range reported {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		ep := reported[sym]
		local, ok := out.Positions[sym]
		if !ok || !local.IsOpen() {
			after := model.Position{
				Symbol:     sym,
				Side:       ep.Side,
				Quantity:   ep.Quantity,
				EntryPrice: ep.EntryPrice,
				OpenTime:   now,
				Status:     model.StatusOpen,
			}
			var before *model.Position
			if ok {
				b := local
				before = &b
			}
			out.Positions[sym] = after
			divs = append(divs, model.Divergence{Kind: model.DivergenceMissing, Symbol: sym, Before: before, After: &after, At: now})
			continue
		}

		if local.Side == ep.Side && r.sameQty(local.Quantity, ep.Quantity) {
			continue
		}
		before := local
		after := local
		if after.Side != ep.Side {
			after.StopPrice = 0
			after.TargetPrice = 0
		}
		after.Side = ep.Side
		after.Quantity = ep.Quantity
		after.EntryPrice = ep.EntryPrice
		out.Positions[sym] = after
		divs = append(divs, model.Divergence{Kind: model.DivergenceMismatch, Symbol: sym, Before: &before, After: &after, At: now})
	}

	for _, local := range activePositions(l) {
		if _, ok := reported[local.Symbol]; ok {
			continue
		}
		before := local
		after := local
		after.Status = model.StatusClosed
		out.Positions[local.Symbol] = after

		exitPrice, pnl := lastObserved(local, lastPrices)
		if i := out.OpenTradeIndex(local.Symbol); i >= 0 {
			t := out.History[i]
			t.Status = model.StatusClosed
			t.ExitTime = model.Time(now)
			t.CloseReason = CloseReasonExchange
			out.History[i] = t
		}
		out.History = append(out.History, model.TradeRecord{
			ID:          r.NewID(now),
			Symbol:      local.Symbol,
			Side:        local.Side,
			Quantity:    local.Quantity,
			EntryPrice:  local.EntryPrice,
			ExitPrice:   exitPrice,
			EntryTime:   local.OpenTime,
			ExitTime:    model.Time(now),
			RealizedPnl: pnl,
			Status:      model.StatusClosed,
			Source:      model.SourceReconcile,
			CloseReason: CloseReasonExchange,
		})
		divs = append(divs, model.Divergence{Kind: model.DivergenceClosed, Symbol: local.Symbol, Before: &before, After: &after, At: now})
	}

	return out, divs
}

// activePositions OPEN 与 CLOSING 的持仓，按 symbol 排序
func activePositions(l *model.Ledger) []model.Position {
	out := make([]model.Position, 0, len(l.Positions))
	for _, p := range l.Positions {
		if p.Status != model.StatusClosed {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (r *Reconciler) sameQty(local, remote float64) bool {
	scale := math.Max(1, math.Abs(remote))
	return math.Abs(local-remote) <= r.QtyTolerance*scale
}

func lastObserved(p model.Position, lastPrices map[string]float64) (exit, pnl *float64) {
	price, ok := lastPrices[p.Symbol]
	if !ok || price <= 0 {
		return nil, nil
	}
	return model.Float(price), model.Float(p.PnlAt(price))
}
