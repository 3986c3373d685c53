package service

import (
	"context"
	"errors"
	"time"

	"tradeguard/internal/domain/model"
)

// RetryPolicy 显式的重试策略，作为参数传给每个网络调用点。
// 只有 TransientError 会被重试
type RetryPolicy struct {
	MaxAttempts  int           // 含首次调用，最多 3 次
	InitialDelay time.Duration // 第一次重试前的等待
	MaxDelay     time.Duration // 指数退避上限
	Multiplier   float64
	Timeout      time.Duration // 单次调用超时，0 表示不限制

	// OnRetry 每次准备重试时回调，可为空
	OnRetry func(op string, attempt int, err error)
}

const maxRetryAttempts = 3

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		Timeout:      10 * time.Second,
	}
}

func (p RetryPolicy) attempts() int {
	switch {
	case p.MaxAttempts <= 0:
		return 1
	case p.MaxAttempts > maxRetryAttempts:
		return maxRetryAttempts
	}
	return p.MaxAttempts
}

// Backoff 第 n 次失败后（n 从 1 开始）的等待时长
func (p RetryPolicy) Backoff(n int) time.Duration {
	d := p.InitialDelay
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 1; i < n; i++ {
		d = time.Duration(float64(d) * mult)
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Retry 执行 fn，TransientError 时按策略退避重试；其他错误立即返回
func Retry[T any](ctx context.Context, p RetryPolicy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	n := p.attempts()
	var lastErr error
	for attempt := 1; attempt <= n; attempt++ {
		v, err := callOnce(ctx, p.Timeout, fn)
		if err == nil {
			return v, nil
		}
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && !model.IsTransient(err) {
			// 单次尝试超时，父 ctx 仍有效
			err = model.Transient(op, err)
		}
		lastErr = err
		if !model.IsTransient(err) || attempt == n {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(op, attempt, err)
		}
		t := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, ctx.Err()
		case <-t.C:
		}
	}
	return zero, lastErr
}

func callOnce[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(cctx)
}
