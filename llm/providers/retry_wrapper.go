package providers

import (
	"context"
	"time"

	"github.com/BaSui01/chatflow/llm"
	"github.com/BaSui01/chatflow/llm/retry"
	"go.uber.org/zap"
)

// RetryableProvider 在 Provider 外层做指数退避重试。
// 调度器从不重试，后端的瞬时故障只在这一层消化。
type RetryableProvider struct {
	inner   llm.Provider
	retryer *retry.Retryer
}

// NewRetryableProvider 默认只重试 llm.IsRetryable 的错误；
// policy.ShouldRetry 非空时以它为准。
func NewRetryableProvider(inner llm.Provider, policy retry.Policy, logger *zap.Logger) *RetryableProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "retry_provider"), zap.String("provider", inner.Name()))

	if policy.ShouldRetry == nil {
		policy.ShouldRetry = llm.IsRetryable
	}
	if policy.OnRetry == nil {
		policy.OnRetry = func(attempt int, err error, delay time.Duration) {
			logger.Warn("llm call failed, will retry",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		}
	}
	return &RetryableProvider{inner: inner, retryer: retry.New(policy, logger)}
}

var _ llm.Provider = (*RetryableProvider)(nil)

func (p *RetryableProvider) Name() string { return p.inner.Name() }

func (p *RetryableProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return p.inner.HealthCheck(ctx)
}

func (p *RetryableProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	return retry.Do(ctx, p.retryer, func(ctx context.Context) (*llm.ChatResponse, error) {
		return p.inner.Completion(ctx, req)
	})
}

// Stream 只重试建立连接；流中途的错误以 chunk.Err 交给调用方
func (p *RetryableProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	return retry.Do(ctx, p.retryer, func(ctx context.Context) (<-chan llm.StreamChunk, error) {
		return p.inner.Stream(ctx, req)
	})
}
