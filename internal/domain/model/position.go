package model

import "time"

// Side 持仓方向
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

func (s Side) Valid() bool { return s == SideLong || s == SideShort }

// Sign long 为 +1，short 为 -1
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Opposite 平仓方向
func (s Side) Opposite() Side {
	if s == SideShort {
		return SideLong
	}
	return SideShort
}

// Status 持仓/成交记录状态
type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusClosing Status = "CLOSING"
	StatusClosed  Status = "CLOSED"
)

func (s Status) Valid() bool {
	return s == StatusOpen || s == StatusClosing || s == StatusClosed
}

// Position 单个交易对的持仓，按 symbol 唯一。平仓后保留为 CLOSED，不做物理删除
type Position struct {
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Quantity    float64   `json:"quantity"`
	EntryPrice  float64   `json:"entry_price"`
	StopPrice   float64   `json:"stop_price"`
	TargetPrice float64   `json:"target_price"`
	OpenTime    time.Time `json:"open_time"`
	Status      Status    `json:"status"`
}

func (p Position) IsOpen() bool { return p.Status == StatusOpen }

// PnlAt 以给定价格计算未实现盈亏
func (p Position) PnlAt(price float64) float64 {
	return (price - p.EntryPrice) * p.Quantity * p.Side.Sign()
}

// ExchangePosition 交易所查询到的持仓
type ExchangePosition struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Quantity   float64 `json:"quantity"`
	EntryPrice float64 `json:"entry_price"`
}
