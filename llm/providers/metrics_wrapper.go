package providers

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/chatflow/llm"
)

// RequestRecorder receives one observation per completion call.
type RequestRecorder interface {
	RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int)
}

// InstrumentedProvider reports latency, status and token usage of the
// wrapped provider.
type InstrumentedProvider struct {
	inner    llm.Provider
	recorder RequestRecorder
}

// NewInstrumentedProvider wraps inner. A nil recorder returns inner as is.
func NewInstrumentedProvider(inner llm.Provider, recorder RequestRecorder) llm.Provider {
	if recorder == nil {
		return inner
	}
	return &InstrumentedProvider{inner: inner, recorder: recorder}
}

var _ llm.Provider = (*InstrumentedProvider)(nil)

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }

func (p *InstrumentedProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	return p.inner.HealthCheck(ctx)
}

// Completion records the call after it returns.
func (p *InstrumentedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	start := time.Now()
	resp, err := p.inner.Completion(ctx, req)
	var prompt, completion int
	if resp != nil {
		prompt, completion = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	p.recorder.RecordLLMRequest(p.inner.Name(), req.Model, requestStatus(err), time.Since(start), prompt, completion)
	return resp, err
}

// Stream records the time to establish the stream only.
func (p *InstrumentedProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	start := time.Now()
	ch, err := p.inner.Stream(ctx, req)
	p.recorder.RecordLLMRequest(p.inner.Name(), req.Model, requestStatus(err), time.Since(start), 0, 0)
	return ch, err
}

// requestStatus maps an error to a low-cardinality label.
func requestStatus(err error) string {
	if err == nil {
		return "success"
	}
	var e *llm.Error
	if errors.As(err, &e) {
		return string(e.Code)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "error"
}
