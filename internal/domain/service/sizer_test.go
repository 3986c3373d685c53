package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tradeguard/internal/domain/model"
)

func baseSignal() model.Signal {
	return model.Signal{Symbol: "BTCUSDT", Direction: model.SideLong, EntryPrice: 100, StopPrice: 95, TargetPrice: 110, Confidence: 80}
}

func baseParams() SizingParams {
	p := DefaultSizingParams()
	p.MinConfidence = 40
	p.MaxPositionPct = 0.1
	return p
}

func TestSizeBelowMinConfidenceIsZero(t *testing.T) {
	t.Parallel()
	sig := baseSignal()
	sig.Confidence = 39
	qty := Size(sig, SizingContext{Equity: 10000}, baseParams())
	assert.Equal(t, 0.0, qty)

	sig.Confidence = 40
	assert.Greater(t, Size(sig, SizingContext{Equity: 10000}, baseParams()), 0.0)
}

func TestSizeFormula(t *testing.T) {
	t.Parallel()
	// baseRisk = 10000*0.02*0.8 = 160; riskPerUnit = 5 -> 32 units, cap = 10000*0.1/100 = 10
	qty := Size(baseSignal(), SizingContext{Equity: 10000}, baseParams())
	assert.InDelta(t, 10.0, qty, 1e-9)

	p := baseParams()
	p.MaxPositionPct = 1
	qty = Size(baseSignal(), SizingContext{Equity: 10000}, p)
	assert.InDelta(t, 32.0, qty, 1e-9)
}

func TestSizeHigherVolatilityIsStrictlySmaller(t *testing.T) {
	t.Parallel()
	p := baseParams()
	p.MaxPositionPct = 1
	calm := Size(baseSignal(), SizingContext{Equity: 10000, CurrentVol: 0.02, BaselineVol: 0.02}, p)
	wild := Size(baseSignal(), SizingContext{Equity: 10000, CurrentVol: 0.04, BaselineVol: 0.02}, p)
	assert.Less(t, wild, calm)
	assert.InDelta(t, calm/2, wild, 1e-9)
}

func TestSizeVolatilityAdjustmentIsClamped(t *testing.T) {
	t.Parallel()
	p := baseParams()
	p.MaxPositionPct = 1
	neutral := Size(baseSignal(), SizingContext{Equity: 10000}, p)
	veryCalm := Size(baseSignal(), SizingContext{Equity: 10000, CurrentVol: 0.001, BaselineVol: 0.02}, p)
	veryWild := Size(baseSignal(), SizingContext{Equity: 10000, CurrentVol: 1, BaselineVol: 0.02}, p)
	assert.InDelta(t, neutral*1.5, veryCalm, 1e-9)
	assert.InDelta(t, neutral*0.5, veryWild, 1e-9)
}

func TestSizeStreakAdjustments(t *testing.T) {
	t.Parallel()
	p := baseParams()
	p.MaxPositionPct = 1
	neutral := Size(baseSignal(), SizingContext{Equity: 10000}, p)

	losing := Size(baseSignal(), SizingContext{Equity: 10000, LossStreak: 3}, p)
	assert.InDelta(t, neutral*p.LossFactor, losing, 1e-9)

	winning := Size(baseSignal(), SizingContext{Equity: 10000, WinStreak: 3}, p)
	assert.InDelta(t, neutral*p.WinFactor, winning, 1e-9)

	// loss takes precedence
	both := Size(baseSignal(), SizingContext{Equity: 10000, WinStreak: 5, LossStreak: 5}, p)
	assert.InDelta(t, losing, both, 1e-9)
}

func TestSizeZeroRiskPerUnit(t *testing.T) {
	t.Parallel()
	sig := baseSignal()
	sig.StopPrice = sig.EntryPrice
	assert.Equal(t, 0.0, Size(sig, SizingContext{Equity: 10000}, baseParams()))
}

func TestSizeFloorsToIncrement(t *testing.T) {
	t.Parallel()
	p := baseParams()
	p.MaxPositionPct = 1
	p.MinIncrement = 0.1
	sig := baseSignal()
	sig.StopPrice = 97 // 160/3 = 53.333...
	assert.InDelta(t, 53.3, Size(sig, SizingContext{Equity: 10000}, p), 1e-9)
}

func TestFloorToIncrementNeverRoundsUp(t *testing.T) {
	t.Parallel()
	cases := []struct {
		qty, inc, want float64
	}{
		{0.3, 0.1, 0.3},
		{0.29999, 0.1, 0.2},
		{1.0049, 0.001, 1.004},
		{5, 0, 5},
		{-1, 0.1, 0},
	}
	for _, c := range cases {
		assert.InDelta(t, c.want, FloorToIncrement(c.qty, c.inc), 1e-12, "qty=%v inc=%v", c.qty, c.inc)
	}
}
