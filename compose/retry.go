package compose

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy 节点重试策略，指数退避且有上限。
// MaxRetries 为重试次数，不含首次执行：MaxRetries=3 时最多执行 4 次。
type RetryPolicy struct {
	MaxRetries          int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
	// RetryIf 返回 false 的错误不再重试，为空时重试所有错误
	RetryIf func(err error) bool
}

// DefaultRetryPolicy 3 次重试，200ms 起步，翻倍增长，单次等待不超过 60s
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:          3,
		InitialInterval:     200 * time.Millisecond,
		MaxInterval:         60 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.2,
	}
}

func (p *RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	if eb.InitialInterval <= 0 {
		eb.InitialInterval = 200 * time.Millisecond
	}
	eb.MaxInterval = p.MaxInterval
	if eb.MaxInterval <= 0 {
		eb.MaxInterval = 60 * time.Second
	}
	eb.Multiplier = p.Multiplier
	if eb.Multiplier < 1 {
		eb.Multiplier = 2
	}
	eb.RandomizationFactor = p.RandomizationFactor
	// 次数由 MaxRetries 控制，不限制总耗时
	eb.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxRetries)), ctx)
}

func (p *RetryPolicy) retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if _, ok := isInterruptError(err); ok {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if p.RetryIf != nil {
		return p.RetryIf(err)
	}
	return true
}

// retry 按策略执行 op，attempt 从 1 开始。
// 返回最后一次执行的错误；等待期间 ctx 结束则返回 ctx 的错误。
func retry(ctx context.Context, p *RetryPolicy, op func(attempt int) error,
	onRetry func(attempt int, err error, wait time.Duration)) error {

	if p == nil || p.MaxRetries <= 0 {
		return op(1)
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := op(attempt)
		if err != nil && !p.retryable(ctx, err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
	}
	return backoff.RetryNotify(operation, p.newBackOff(ctx), notify)
}
