package service

import "tradeguard/internal/domain/model"

// Streaks 从最近一笔已平仓记录往回数连续盈利/亏损次数，pnl 为空的记录跳过
func Streaks(history []model.TradeRecord) (wins, losses int) {
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		if !t.Closed() || t.RealizedPnl == nil {
			continue
		}
		pnl := *t.RealizedPnl
		switch {
		case pnl > 0:
			if losses > 0 {
				return wins, losses
			}
			wins++
		case pnl < 0:
			if wins > 0 {
				return wins, losses
			}
			losses++
		default:
			return wins, losses
		}
	}
	return wins, losses
}
