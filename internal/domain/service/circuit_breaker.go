package service

import (
	"fmt"
	"sync"
	"time"

	"tradeguard/internal/domain/model"
)

// BreakerParams 熔断阈值
type BreakerParams struct {
	MaxDailyTrades int     // 当日确认成交笔数上限
	MaxDrawdown    float64 // 相对峰值权益的最大回撤（0.20 = 20%）
}

func DefaultBreakerParams() BreakerParams {
	return BreakerParams{MaxDailyTrades: 50, MaxDrawdown: 0.20}
}

// Decision 单次评估结果（CircuitBreakerState），不持久化
type Decision struct {
	Halted     bool
	Reason     model.HaltReason
	TradeCount int
	PeakEquity float64
	Drawdown   float64
}

// CircuitBreaker 熔断器。一旦触发保持触发状态，直到进程重启
type CircuitBreaker struct {
	mu      sync.Mutex
	params  BreakerParams
	now     func() time.Time
	peak    float64
	tripped *Decision
}

// NewCircuitBreaker now 为空时使用系统时间
func NewCircuitBreaker(p BreakerParams, now func() time.Time) *CircuitBreaker {
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{params: p, now: now}
}

// Evaluate 按顺序检查：确认成交笔数、回撤
func (cb *CircuitBreaker) Evaluate(l *model.Ledger, currentEquity float64) Decision {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.tripped != nil {
		return *cb.tripped
	}

	if l.StartingEquity > cb.peak {
		cb.peak = l.StartingEquity
	}
	if currentEquity > cb.peak {
		cb.peak = currentEquity
	}

	d := Decision{
		TradeCount: ConfirmedTradeCount(l.History, cb.now()),
		PeakEquity: cb.peak,
		Drawdown:   Drawdown(cb.peak, currentEquity),
	}

	switch {
	case cb.params.MaxDailyTrades > 0 && d.TradeCount >= cb.params.MaxDailyTrades:
		d.Halted = true
		d.Reason = model.HaltTradeCount
	case d.Drawdown > cb.params.MaxDrawdown:
		d.Halted = true
		d.Reason = model.HaltDrawdown
	}

	if d.Halted {
		tripped := d
		cb.tripped = &tripped
	}
	return d
}

// Tripped 返回触发时的决策
func (cb *CircuitBreaker) Tripped() (Decision, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.tripped == nil {
		return Decision{}, false
	}
	return *cb.tripped, true
}

// Peak 本次运行观测到的最高权益
func (cb *CircuitBreaker) Peak() float64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.peak
}

// Err 已触发时返回 *model.SafetyHalt
func (cb *CircuitBreaker) Err() error {
	d, ok := cb.Tripped()
	if !ok {
		return nil
	}
	return HaltError(d)
}

// HaltError 将触发的决策转换为 SafetyHalt 错误
func HaltError(d Decision) error {
	detail := ""
	switch d.Reason {
	case model.HaltTradeCount:
		detail = fmt.Sprintf("%d confirmed trades today", d.TradeCount)
	case model.HaltDrawdown:
		detail = fmt.Sprintf("drawdown %.4f from peak %.2f", d.Drawdown, d.PeakEquity)
	}
	return &model.SafetyHalt{Reason: d.Reason, Detail: detail}
}

// ConfirmedTradeCount 统计与 now 同一 UTC 日内、由交易所确认成交产生的记录数。
// 拒单、重复信号、对账生成的记录都不计入
func ConfirmedTradeCount(history []model.TradeRecord, now time.Time) int {
	y, m, d := now.UTC().Date()
	n := 0
	for _, t := range history {
		if !t.Confirmed() {
			continue
		}
		ty, tm, td := t.EntryTime.UTC().Date()
		if ty == y && tm == m && td == d {
			n++
		}
	}
	return n
}

// Drawdown 峰值 <= 0 时返回 0
func Drawdown(peak, current float64) float64 {
	if peak <= 0 {
		return 0
	}
	return (peak - current) / peak
}
