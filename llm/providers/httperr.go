package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/chatflow/llm"
)

// statusOverloaded 部分后端在模型过载时返回的非标准状态码
const statusOverloaded = 529

// maxErrorBody 读取错误响应体的上限
const maxErrorBody = 64 << 10

var statusCodes = map[int]struct {
	code      llm.ErrorCode
	retryable bool
}{
	http.StatusUnauthorized:       {llm.ErrUnauthorized, false},
	http.StatusForbidden:          {llm.ErrForbidden, false},
	http.StatusTooManyRequests:    {llm.ErrRateLimited, true},
	http.StatusRequestTimeout:     {llm.ErrUpstreamTimeout, true},
	http.StatusGatewayTimeout:     {llm.ErrUpstreamTimeout, true},
	http.StatusBadGateway:         {llm.ErrUpstreamError, true},
	http.StatusServiceUnavailable: {llm.ErrUpstreamError, true},
	statusOverloaded:              {llm.ErrModelOverloaded, true},
}

// MapHTTPError 把后端的 HTTP 失败转换为 llm.Error。
// 400 中提到额度的视为 QUOTA_EXCEEDED，本地运行时常这样报告；
// 未列出的 5xx 可重试，4xx 不可重试。
func MapHTTPError(status int, msg string, provider string) *llm.Error {
	e := &llm.Error{Message: msg, HTTPStatus: status, Provider: provider}
	if m, ok := statusCodes[status]; ok {
		e.Code, e.Retryable = m.code, m.retryable
		return e
	}
	if status == http.StatusBadRequest {
		e.Code = llm.ErrInvalidRequest
		if lower := strings.ToLower(msg); strings.Contains(lower, "quota") || strings.Contains(lower, "credit") {
			e.Code = llm.ErrQuotaExceeded
		}
		return e
	}
	e.Code = llm.ErrUpstreamError
	e.Retryable = status >= http.StatusInternalServerError
	return e
}

// ReadErrorMessage 从错误响应体提取消息：优先 {"error":{"message","type"}}，否则原文
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return "failed to read error response"
	}
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error.Message != "" {
		if payload.Error.Type == "" {
			return payload.Error.Message
		}
		return fmt.Sprintf("%s (type: %s)", payload.Error.Message, payload.Error.Type)
	}
	return strings.TrimSpace(string(data))
}

// UpstreamError 把传输或解码失败包装为可重试的 502
func UpstreamError(err error, provider string) *llm.Error {
	return &llm.Error{
		Code:       llm.ErrUpstreamError,
		Message:    err.Error(),
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
		Provider:   provider,
	}
}

// TimeoutError 请求超过截止时间
func TimeoutError(err error, provider string) *llm.Error {
	return &llm.Error{
		Code:       llm.ErrUpstreamTimeout,
		Message:    err.Error(),
		HTTPStatus: http.StatusGatewayTimeout,
		Retryable:  true,
		Provider:   provider,
	}
}

// BearerTokenHeaders 设置 Bearer 认证与 JSON Content-Type
func BearerTokenHeaders(r *http.Request, apiKey string) {
	if apiKey != "" {
		r.Header.Set("Authorization", "Bearer "+apiKey)
	}
	r.Header.Set("Content-Type", "application/json")
}
