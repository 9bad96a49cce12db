package decision

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy 原子操作的有限重试策略
type RetryPolicy struct {
	// 最大尝试次数（含首次）
	MaxAttempts int
	// 瞬时故障首次退避
	InitialBackoff time.Duration
	// 退避上限
	MaxBackoff time.Duration
}

// DefaultRetryPolicy 3 次尝试，2ms 起步指数退避
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialBackoff: 2 * time.Millisecond, MaxBackoff: 20 * time.Millisecond}
}

// conflictAwareBackOff 冲突立即重试，瞬时故障按指数退避
type conflictAwareBackOff struct {
	exp          *backoff.ExponentialBackOff
	lastConflict *bool
}

func (b *conflictAwareBackOff) NextBackOff() time.Duration {
	if *b.lastConflict {
		return 0
	}
	return b.exp.NextBackOff()
}

func (b *conflictAwareBackOff) Reset() { b.exp.Reset() }

// Retry 执行 op，版本冲突与瞬时故障会被重试，其余错误立即返回。
// onRetry 在每次重试前调用，可为 nil。
func Retry[T any](ctx context.Context, p RetryPolicy, onRetry func(err error), op func(ctx context.Context) (T, error)) (T, error) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialBackoff
	exp.MaxInterval = p.MaxBackoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0.2

	lastConflict := false
	operation := func() (T, error) {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		kind := KindOf(err)
		if !kind.Retryable() {
			return v, backoff.Permanent(err)
		}
		lastConflict = kind == KindConflict
		return v, err
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(&conflictAwareBackOff{exp: exp, lastConflict: &lastConflict}),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
	}
	if onRetry != nil {
		opts = append(opts, backoff.WithNotify(func(err error, _ time.Duration) { onRetry(err) }))
	}
	return backoff.Retry(ctx, operation, opts...)
}
