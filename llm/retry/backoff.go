// Package retry wraps cenkalti/backoff with the policy shape used at the
// LLM backend and database boundaries.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Policy 描述一次重试的节奏；零值字段在 New 中补默认值
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter 在每次等待上加 ±25% 随机抖动
	Jitter bool
	// ShouldRetry 为空时所有错误都重试
	ShouldRetry func(err error) bool
	OnRetry     func(attempt int, err error, delay time.Duration)
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer 按 Policy 反复执行函数，直到成功、放弃或 ctx 结束
type Retryer struct {
	policy Policy
	logger *zap.Logger
}

func New(policy Policy, logger *zap.Logger) *Retryer {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy.MaxRetries = max(policy.MaxRetries, 0)
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	policy.MaxDelay = max(policy.MaxDelay, policy.InitialDelay)
	if policy.Multiplier < 1 {
		policy.Multiplier = 2.0
	}
	return &Retryer{policy: policy, logger: logger}
}

func (r *Retryer) Policy() Policy { return r.policy }

func (r *Retryer) backOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval: r.policy.InitialDelay,
		MaxInterval:     r.policy.MaxDelay,
		Multiplier:      r.policy.Multiplier,
	}
	if r.policy.Jitter {
		b.RandomizationFactor = 0.25
	}
	b.Reset()
	return b
}

// Delay 返回第 attempt 次重试前的等待时间（attempt 从 1 开始）
func (r *Retryer) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	b := r.backOff()
	for range attempt - 1 {
		b.NextBackOff()
	}
	return b.NextBackOff()
}

func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do is the typed form of Retryer.Do. A non-retryable error is returned as is.
func Do[T any](ctx context.Context, r *Retryer, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		attempt   int
		permanent bool
	)
	op := func() (T, error) {
		res, err := fn(ctx)
		if err != nil && r.policy.ShouldRetry != nil && !r.policy.ShouldRetry(err) {
			permanent = true
			return res, backoff.Permanent(err)
		}
		return res, err
	}
	notify := func(err error, delay time.Duration) {
		attempt++
		r.logger.Debug("retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", r.policy.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(err))
		if r.policy.OnRetry != nil {
			r.policy.OnRetry(attempt, err, delay)
		}
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(r.backOff()),
		backoff.WithMaxTries(uint(r.policy.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	switch {
	case err == nil:
		if attempt > 0 {
			r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
		}
		return res, nil
	case permanent:
		r.logger.Debug("error not retryable", zap.Error(err))
		return res, err
	case ctx.Err() != nil:
		return res, fmt.Errorf("retry canceled: %w", err)
	}
	r.logger.Warn("retries exhausted", zap.Int("attempts", attempt+1), zap.Error(err))
	return res, fmt.Errorf("failed after %d retries: %w", r.policy.MaxRetries, err)
}
