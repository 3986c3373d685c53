package model

import (
	"errors"
	"fmt"
)

var (
	// ErrSafetyHalt 熔断已触发，交易循环不再下单
	ErrSafetyHalt = errors.New("safety halt")
	// ErrStateCorruption 账本文件及全部备份都无法读取
	ErrStateCorruption = errors.New("state corruption")
	// ErrTradeNotFound 按 ID 找不到成交记录
	ErrTradeNotFound = errors.New("trade not found")
	// ErrTradeAlreadyClosed exit 字段已写入过
	ErrTradeAlreadyClosed = errors.New("trade already closed")
)

// TransientError 网络超时、限频等可重试错误
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient error in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient 包装为可重试错误
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient 判断是否可重试
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// RejectedOrderError 交易所拒单（数量、价格、保证金等）
type RejectedOrderError struct {
	Symbol string
	Code   int
	Reason string
}

func (e *RejectedOrderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("order rejected for %s: code=%d %s", e.Symbol, e.Code, e.Reason)
	}
	return fmt.Sprintf("order rejected for %s: %s", e.Symbol, e.Reason)
}

// IsRejected 判断是否为拒单
func IsRejected(err error) bool {
	var re *RejectedOrderError
	return errors.As(err, &re)
}

// StateCorruptionError 账本无法解析
type StateCorruptionError struct {
	Path string
	Err  error
}

func (e *StateCorruptionError) Error() string {
	return fmt.Sprintf("state corruption at %s: %v", e.Path, e.Err)
}

func (e *StateCorruptionError) Unwrap() error { return e.Err }

func (e *StateCorruptionError) Is(target error) bool { return target == ErrStateCorruption }

// HaltReason 熔断原因
type HaltReason string

const (
	HaltTradeCount HaltReason = "trade-count"
	HaltDrawdown   HaltReason = "drawdown"
)

// SafetyHalt 熔断触发，需重启进程才能恢复
type SafetyHalt struct {
	Reason HaltReason
	Detail string
}

func (e *SafetyHalt) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("safety halt: %s", e.Reason)
	}
	return fmt.Sprintf("safety halt: %s (%s)", e.Reason, e.Detail)
}

func (e *SafetyHalt) Is(target error) bool { return target == ErrSafetyHalt }
