package service

import (
	"math"

	"github.com/shopspring/decimal"

	"tradeguard/internal/domain/model"
)

// SizingParams 仓位计算参数
type SizingParams struct {
	BaseRiskPct    float64 // 单笔风险占权益比例
	MaxPositionPct float64 // 单仓名义价值上限（占权益比例）
	MinConfidence  float64 // 低于该信心度不下单
	MinIncrement   float64 // 最小下单步长，结果向下取整
	LossThreshold  int     // 连亏次数阈值
	LossFactor     float64 // 连亏时的缩放系数
	WinThreshold   int     // 连赢次数阈值
	WinFactor      float64 // 连赢时的缩放系数
}

// DefaultSizingParams 默认参数
func DefaultSizingParams() SizingParams {
	return SizingParams{
		BaseRiskPct:    0.02,
		MaxPositionPct: 0.05,
		MinConfidence:  50,
		MinIncrement:   0.001,
		LossThreshold:  3,
		LossFactor:     0.5,
		WinThreshold:   3,
		WinFactor:      0.75,
	}
}

// SizingContext 每次计算时由交易循环提供的最新账户信息
type SizingContext struct {
	Equity      float64
	CurrentVol  float64
	BaselineVol float64
	WinStreak   int
	LossStreak  int
}

// Size 根据信号和账户状态计算下单数量，纯函数，结果 >= 0
func Size(sig model.Signal, c SizingContext, p SizingParams) float64 {
	if sig.Confidence < p.MinConfidence {
		return 0
	}
	if c.Equity <= 0 || sig.EntryPrice <= 0 {
		return 0
	}

	baseRisk := c.Equity * p.BaseRiskPct * (sig.Confidence / 100)

	volAdj := 1.0
	if c.CurrentVol > 0 {
		volAdj = clamp(c.BaselineVol/c.CurrentVol, 0.5, 1.5)
	}

	streakAdj := 1.0
	switch {
	case p.LossThreshold > 0 && c.LossStreak >= p.LossThreshold:
		streakAdj = p.LossFactor
	case p.WinThreshold > 0 && c.WinStreak >= p.WinThreshold:
		streakAdj = p.WinFactor
	}

	riskPerUnit := math.Abs(sig.EntryPrice - sig.StopPrice)
	if riskPerUnit == 0 {
		return 0
	}

	qty := baseRisk * volAdj * streakAdj / riskPerUnit
	maxQty := c.Equity * p.MaxPositionPct / sig.EntryPrice
	if qty > maxQty {
		qty = maxQty
	}
	return FloorToIncrement(qty, p.MinIncrement)
}

// FloorToIncrement 向下取整到步长，避免浮点误差导致多出一个步长
func FloorToIncrement(qty, inc float64) float64 {
	if qty <= 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return 0
	}
	if inc <= 0 {
		return qty
	}
	step := decimal.NewFromFloat(inc)
	n := decimal.NewFromFloat(qty).Div(step).Floor()
	f, _ := n.Mul(step).Float64()
	return f
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
