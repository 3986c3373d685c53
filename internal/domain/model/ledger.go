package model

import (
	"fmt"
	"sort"
	"time"
)

// Ledger 完整的持久化状态：持仓、成交历史和会话信息
type Ledger struct {
	Positions      map[string]Position
	History        []TradeRecord
	StartingEquity float64
	SessionStart   time.Time
	LastUpdated    time.Time
	Metadata       map[string]Value
}

// NewLedger 创建空账本
func NewLedger(now time.Time) *Ledger {
	return &Ledger{
		Positions:    make(map[string]Position),
		History:      make([]TradeRecord, 0),
		SessionStart: now,
		LastUpdated:  now,
		Metadata:     make(map[string]Value),
	}
}

// Clone 深拷贝
func (l *Ledger) Clone() *Ledger {
	out := &Ledger{
		Positions:      make(map[string]Position, len(l.Positions)),
		History:        make([]TradeRecord, len(l.History)),
		StartingEquity: l.StartingEquity,
		SessionStart:   l.SessionStart,
		LastUpdated:    l.LastUpdated,
		Metadata:       make(map[string]Value, len(l.Metadata)),
	}
	for k, p := range l.Positions {
		out.Positions[k] = p
	}
	for i, t := range l.History {
		out.History[i] = cloneTrade(t)
	}
	for k, v := range l.Metadata {
		out.Metadata[k] = v.Clone()
	}
	return out
}

func cloneTrade(t TradeRecord) TradeRecord {
	if t.ExitPrice != nil {
		t.ExitPrice = Float(*t.ExitPrice)
	}
	if t.RealizedPnl != nil {
		t.RealizedPnl = Float(*t.RealizedPnl)
	}
	if t.ExitTime != nil {
		t.ExitTime = Time(*t.ExitTime)
	}
	return t
}

// OpenPositions 按 symbol 排序返回所有 OPEN 持仓
func (l *Ledger) OpenPositions() []Position {
	out := make([]Position, 0, len(l.Positions))
	for _, p := range l.Positions {
		if p.IsOpen() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// HasOpen symbol 是否已有 OPEN 持仓
func (l *Ledger) HasOpen(symbol string) bool {
	p, ok := l.Positions[symbol]
	return ok && p.IsOpen()
}

// TradeIndex 按 ID 查找成交记录下标，找不到返回 -1
func (l *Ledger) TradeIndex(id string) int {
	for i := range l.History {
		if l.History[i].ID == id {
			return i
		}
	}
	return -1
}

// OpenTradeIndex 找到 symbol 最近一条未平仓记录
func (l *Ledger) OpenTradeIndex(symbol string) int {
	for i := len(l.History) - 1; i >= 0; i-- {
		t := l.History[i]
		if t.Symbol == symbol && !t.Closed() {
			return i
		}
	}
	return -1
}

// SetTradeStatus 更新成交记录状态；exit 字段只能写入一次
func (l *Ledger) SetTradeStatus(id string, status Status, exitPrice *float64, exitTime *time.Time, pnl *float64) error {
	i := l.TradeIndex(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrTradeNotFound, id)
	}
	t := l.History[i]
	if exitPrice != nil || exitTime != nil || pnl != nil {
		if t.Closed() {
			return fmt.Errorf("%w: %s", ErrTradeAlreadyClosed, id)
		}
		if exitPrice != nil {
			t.ExitPrice = Float(*exitPrice)
		}
		if exitTime != nil {
			t.ExitTime = Time(exitTime.UTC())
		}
		if pnl != nil {
			t.RealizedPnl = Float(*pnl)
		}
	}
	t.Status = status
	l.History[i] = t
	return nil
}
