package llm

import (
	"context"
	"errors"
	"strings"
)

// Provider 是一个聊天补全后端。实现需可被多个群聊并发使用。
type Provider interface {
	Name() string
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// Stream 返回的通道在响应结束或出错后关闭
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
	HealthCheck(ctx context.Context) (*HealthStatus, error)
}

var (
	errNilResponse = errors.New("nil chat response")
	errNoChoices   = errors.New("model returned no choices")
)

// FirstContent returns the text of the first choice.
func FirstContent(resp *ChatResponse) (string, error) {
	switch {
	case resp == nil:
		return "", errNilResponse
	case len(resp.Choices) == 0:
		return "", errNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

// CollectStream concatenates the deltas of a stream. Text received before
// an error or cancellation is returned with the error.
func CollectStream(ctx context.Context, ch <-chan StreamChunk) (string, error) {
	var b strings.Builder
	for {
		select {
		case <-ctx.Done():
			return b.String(), ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				return b.String(), nil
			}
			if chunk.Err != nil {
				return b.String(), chunk.Err
			}
			b.WriteString(chunk.Delta.Content)
		}
	}
}
