package model

import "time"

// TradeSource 成交记录来源。只有 SourceFill 代表交易所确认的成交
type TradeSource string

const (
	SourceFill      TradeSource = "fill"
	SourceReconcile TradeSource = "reconcile"
)

func (s TradeSource) Valid() bool { return s == SourceFill || s == SourceReconcile }

// TradeRecord 开仓/平仓快照，只追加。Exit 字段只写入一次
type TradeRecord struct {
	ID          string      `json:"id"`
	Symbol      string      `json:"symbol"`
	Side        Side        `json:"side"`
	Quantity    float64     `json:"quantity"`
	EntryPrice  float64     `json:"entry_price"`
	ExitPrice   *float64    `json:"exit_price,omitempty"`
	EntryTime   time.Time   `json:"entry_time"`
	ExitTime    *time.Time  `json:"exit_time,omitempty"`
	RealizedPnl *float64    `json:"realized_pnl,omitempty"`
	Confidence  float64     `json:"confidence"`
	Status      Status      `json:"status"`
	Source      TradeSource `json:"source"`
	OrderID     string      `json:"order_id,omitempty"`
	CloseReason string      `json:"close_reason,omitempty"`
}

// Confirmed 是否为交易所确认的成交
func (t TradeRecord) Confirmed() bool { return t.Source == SourceFill }

func (t TradeRecord) Closed() bool { return t.ExitTime != nil }

// Float 返回 f 的指针，用于可选数值字段
func Float(f float64) *float64 { return &f }

// Time 返回 t 的指针
func Time(t time.Time) *time.Time { return &t }
