package service

import (
	"math"
	"sync"
)

// VolatilityTracker 按交易对记录价格，计算短窗口（当前）与长窗口（基准）
// 的平均绝对收益率
type VolatilityTracker struct {
	mu       sync.Mutex
	short    int
	long     int
	returns  map[string][]float64
	lastSeen map[string]float64
}

// NewVolatilityTracker short/long 为窗口长度（样本数）
func NewVolatilityTracker(short, long int) *VolatilityTracker {
	if short <= 0 {
		short = 20
	}
	if long < short {
		long = short * 5
	}
	return &VolatilityTracker{
		short:    short,
		long:     long,
		returns:  make(map[string][]float64),
		lastSeen: make(map[string]float64),
	}
}

// Observe 记录一个价格样本
func (v *VolatilityTracker) Observe(symbol string, price float64) {
	if price <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	prev, ok := v.lastSeen[symbol]
	v.lastSeen[symbol] = price
	if !ok || prev <= 0 {
		return
	}
	r := append(v.returns[symbol], math.Abs(price/prev-1))
	if len(r) > v.long {
		r = r[len(r)-v.long:]
	}
	v.returns[symbol] = r
}

// Volatility 返回 (current, baseline)。样本不足短窗口时均为 0，此时仓位不做波动率调整
func (v *VolatilityTracker) Volatility(symbol string) (current, baseline float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	r := v.returns[symbol]
	if len(r) < v.short {
		return 0, 0
	}
	return mean(r[len(r)-v.short:]), mean(r)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}
