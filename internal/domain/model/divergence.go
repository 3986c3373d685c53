package model

import "time"

// DivergenceKind 对账差异类型
type DivergenceKind string

const (
	DivergenceMissing  DivergenceKind = "missing"  // 交易所有、本地没有
	DivergenceMismatch DivergenceKind = "mismatch" // 方向或数量不一致
	DivergenceClosed   DivergenceKind = "closed"   // 本地 OPEN，交易所已无持仓
)

// Divergence 一次对账差异（ReconciliationDivergence），非致命，仅记录
type Divergence struct {
	Kind   DivergenceKind `json:"kind"`
	Symbol string         `json:"symbol"`
	Before *Position      `json:"before,omitempty"`
	After  *Position      `json:"after,omitempty"`
	At     time.Time      `json:"at"`
}
