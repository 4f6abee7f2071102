package openaicompat

import (
	"strings"
	"time"

	"github.com/BaSui01/chatflow/llm"
)

// WireMessage /v1/chat/completions 中的一条消息，流式响应里也用作 delta
type WireMessage struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
	Name    string `json:"name,omitempty"`
}

// Request 请求体
type Request struct {
	Model       string        `json:"model"`
	Messages    []WireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
	Seed        *int          `json:"seed,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// Choice 响应中的一个候选
type Choice struct {
	Index        int          `json:"index"`
	FinishReason string       `json:"finish_reason"`
	Message      WireMessage  `json:"message"`
	Delta        *WireMessage `json:"delta,omitempty"`
}

// Usage token 用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response 完整响应，也是每个 SSE data 帧的结构
type Response struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
	Created int64    `json:"created,omitempty"`
}

type modelList struct {
	Data []llm.Model `json:"data"`
}

func newRequest(req *llm.ChatRequest, model string, stream bool) Request {
	msgs := make([]WireMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = WireMessage{Role: string(m.Role), Content: m.Content, Name: wireName(m.Name)}
	}
	return Request{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Seed:        req.Seed,
		Stop:        req.Stop,
		Stream:      stream,
	}
}

// wireName 参与者名可能带空格，name 字段只接受 [A-Za-z0-9_-]
func wireName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, name)
}

func (u *Usage) toLLM() *llm.ChatUsage {
	if u == nil {
		return nil
	}
	return &llm.ChatUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func (r Response) toLLM(provider string) *llm.ChatResponse {
	out := &llm.ChatResponse{
		ID:       r.ID,
		Provider: provider,
		Model:    r.Model,
		Choices:  make([]llm.ChatChoice, 0, len(r.Choices)),
	}
	for _, c := range r.Choices {
		out.Choices = append(out.Choices, llm.ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message:      llm.Message{Role: llm.RoleAssistant, Content: c.Message.Content, Name: c.Message.Name},
		})
	}
	if u := r.Usage.toLLM(); u != nil {
		out.Usage = *u
	}
	if r.Created != 0 {
		out.CreatedAt = time.Unix(r.Created, 0)
	}
	return out
}

func (r Response) chunks(provider string) []llm.StreamChunk {
	out := make([]llm.StreamChunk, 0, len(r.Choices))
	for _, c := range r.Choices {
		chunk := llm.StreamChunk{
			ID:           r.ID,
			Provider:     provider,
			Model:        r.Model,
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Delta:        llm.Message{Role: llm.RoleAssistant},
			Usage:        r.Usage.toLLM(),
		}
		if c.Delta != nil {
			chunk.Delta.Content = c.Delta.Content
		}
		out = append(out, chunk)
	}
	return out
}
