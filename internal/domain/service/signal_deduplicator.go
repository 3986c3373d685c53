package service

import (
	"fmt"
	"sync"
	"time"

	"tradeguard/internal/domain/model"
)

// SignalDeduplicator 信号去重器 - 防止同一信号被重复执行，并可限制同一交易对的下单频率
type SignalDeduplicator struct {
	mu sync.Mutex

	seen      map[string]time.Time // signal id -> 首次出现时间
	lastOrder map[string]time.Time // symbol -> 最近一次下单时间

	// 配置参数
	MemoryWindow time.Duration // 信号 ID 记忆时长（默认 24 小时）
	Cooldown     time.Duration // 同一交易对两次下单的最小间隔，0 表示不限制

	now func() time.Time
}

// NewSignalDeduplicator 创建信号去重器
func NewSignalDeduplicator(cooldown time.Duration, now func() time.Time) *SignalDeduplicator {
	if now == nil {
		now = time.Now
	}
	return &SignalDeduplicator{
		seen:         make(map[string]time.Time),
		lastOrder:    make(map[string]time.Time),
		MemoryWindow: 24 * time.Hour,
		Cooldown:     cooldown,
		now:          now,
	}
}

// Admit 检查信号能否进入下单流程。没有 ID 的信号只做冷却期检查。
// 通过检查的信号 ID 会被记住，之后再出现直接拒绝
func (d *SignalDeduplicator) Admit(sig model.Signal) (bool, string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	d.prune(now)

	if sig.ID != "" {
		if first, ok := d.seen[sig.ID]; ok {
			return false, fmt.Sprintf("duplicate signal %s (first seen %s ago)", sig.ID, now.Sub(first).Round(time.Second))
		}
	}
	if d.Cooldown > 0 {
		if last, ok := d.lastOrder[sig.Symbol]; ok {
			if wait := d.Cooldown - now.Sub(last); wait > 0 {
				return false, fmt.Sprintf("cooldown period not met (%.1fs remaining)", wait.Seconds())
			}
		}
	}
	if sig.ID != "" {
		d.seen[sig.ID] = now
	}
	return true, ""
}

// RegisterOrder 记录一次下单尝试，用于冷却期判断
func (d *SignalDeduplicator) RegisterOrder(symbol string) {
	d.mu.Lock()
	d.lastOrder[symbol] = d.now()
	d.mu.Unlock()
}

// prune 清理过期记录，调用方持有锁
func (d *SignalDeduplicator) prune(now time.Time) {
	for id, at := range d.seen {
		if now.Sub(at) > d.MemoryWindow {
			delete(d.seen, id)
		}
	}
	if d.Cooldown <= 0 {
		return
	}
	for sym, at := range d.lastOrder {
		if now.Sub(at) > d.Cooldown {
			delete(d.lastOrder, sym)
		}
	}
}
