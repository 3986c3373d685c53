package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tradeguard/internal/domain/model"
)

func closedWith(pnl float64) model.TradeRecord {
	return model.TradeRecord{ExitTime: model.Time(day), RealizedPnl: model.Float(pnl), Status: model.StatusClosed}
}

func TestStreaks(t *testing.T) {
	open := model.TradeRecord{Status: model.StatusOpen}
	unknown := model.TradeRecord{ExitTime: model.Time(day), Status: model.StatusClosed}

	cases := []struct {
		name         string
		history      []model.TradeRecord
		wins, losses int
	}{
		{"empty", nil, 0, 0},
		{"wins", []model.TradeRecord{closedWith(-1), closedWith(2), closedWith(3)}, 2, 0},
		{"losses skip open and null pnl", []model.TradeRecord{closedWith(5), closedWith(-1), unknown, closedWith(-2), open}, 0, 2},
		{"breakeven stops", []model.TradeRecord{closedWith(-1), closedWith(0), closedWith(1)}, 1, 0},
	}
	for _, c := range cases {
		w, l := Streaks(c.history)
		assert.Equal(t, c.wins, w, c.name)
		assert.Equal(t, c.losses, l, c.name)
	}
}

func TestVolatilityTracker(t *testing.T) {
	v := NewVolatilityTracker(2, 4)
	cur, base := v.Volatility("X")
	assert.Zero(t, cur)
	assert.Zero(t, base)

	for _, p := range []float64{100, 101, 100, 101, 100} {
		v.Observe("X", p)
	}
	cur, base = v.Volatility("X")
	assert.Greater(t, cur, 0.0)
	assert.Greater(t, base, 0.0)

	// a calm stretch lowers current vs baseline
	for i := 0; i < 2; i++ {
		v.Observe("X", 100)
	}
	cur, base = v.Volatility("X")
	assert.Zero(t, cur)
	assert.Greater(t, base, cur)
}
