package api

import (
	"time"

	"github.com/BaSui01/chatflow/agent/conversation"
	"github.com/BaSui01/chatflow/agent/declarative"
)

// =============================================================================
// 群聊请求与响应类型
// =============================================================================

// RunRequest 发起一次群聊。Scenario 与 Definition 二选一。
type RunRequest struct {
	// 已注册场景名称
	Scenario string `json:"scenario,omitempty" example:"story_circle"`
	// 内联场景定义
	Definition *declarative.ScenarioDefinition `json:"definition,omitempty"`
	// 开场消息，覆盖场景中的 message
	Message string `json:"message,omitempty"`
	// 开场发言人，覆盖场景中的 start
	Start string `json:"start,omitempty"`
	// 指定群聊 ID，为空时自动生成
	ChatID string `json:"chat_id,omitempty"`
	// 后台运行：立即返回 202 与 chat_id，结果稍后通过 GET /v1/chats/{id} 查询
	Async bool `json:"async,omitempty"`
}

// Accepted 后台群聊已受理
type Accepted struct {
	ChatID string `json:"chat_id"`
	Status string `json:"status"`
}

// ChatSummary 列表接口返回的群聊摘要
type ChatSummary struct {
	ChatID    string              `json:"chat_id"`
	Policy    conversation.Kind   `json:"policy"`
	Rounds    int                 `json:"rounds"`
	Reason    conversation.Reason `json:"reason"`
	Error     string              `json:"error,omitempty"`
	StartedAt time.Time           `json:"started_at"`
	EndedAt   time.Time           `json:"ended_at"`
}

// SummaryOf 从结果构造摘要
func SummaryOf(res *conversation.Result) ChatSummary {
	return ChatSummary{
		ChatID:    res.ChatID,
		Policy:    res.Policy,
		Rounds:    res.Rounds,
		Reason:    res.Reason,
		Error:     res.Error,
		StartedAt: res.StartedAt,
		EndedAt:   res.EndedAt,
	}
}

// =============================================================================
// WebSocket 流式帧
// =============================================================================

// FrameType websocket 帧类型
type FrameType string

const (
	FrameMessage FrameType = "message"
	FrameResult  FrameType = "result"
	FrameError   FrameType = "error"
)

// StreamFrame websocket 推送帧
type StreamFrame struct {
	Type    FrameType             `json:"type"`
	ChatID  string                `json:"chat_id,omitempty"`
	Message *conversation.Message `json:"message,omitempty"`
	Result  *conversation.Result  `json:"result,omitempty"`
	Error   *StreamError          `json:"error,omitempty"`
}

// StreamError error 帧携带的错误
type StreamError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}
