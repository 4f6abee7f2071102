package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode 跨层共享的错误码，HTTP 层按它选择状态码
type ErrorCode string

// 请求与后端
const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized        ErrorCode = "UNAUTHORIZED"
	ErrForbidden           ErrorCode = "FORBIDDEN"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
	ErrUpstreamTimeout     ErrorCode = "UPSTREAM_TIMEOUT"
	ErrTimeout             ErrorCode = "TIMEOUT"
	ErrUpstreamError       ErrorCode = "UPSTREAM_ERROR"
	ErrInternalError       ErrorCode = "INTERNAL_ERROR"
	ErrServiceUnavailable  ErrorCode = "SERVICE_UNAVAILABLE"
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
)

// 群聊调度
const (
	ErrUnknownSpeaker     ErrorCode = "UNKNOWN_SPEAKER"
	ErrNoEligibleSpeaker  ErrorCode = "NO_ELIGIBLE_SPEAKER"
	ErrAmbiguousSpeaker   ErrorCode = "AMBIGUOUS_SPEAKER"
	ErrInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrChatNotFound       ErrorCode = "CHAT_NOT_FOUND"
	ErrScenarioNotFound   ErrorCode = "SCENARIO_NOT_FOUND"
	ErrParticipantFailure ErrorCode = "PARTICIPANT_FAILURE"
)

type codeInfo struct {
	status    int
	retryable bool
}

var codes = map[ErrorCode]codeInfo{
	ErrInvalidRequest:      {http.StatusBadRequest, false},
	ErrUnauthorized:        {http.StatusUnauthorized, false},
	ErrForbidden:           {http.StatusForbidden, false},
	ErrRateLimited:         {http.StatusTooManyRequests, true},
	ErrUpstreamTimeout:     {http.StatusGatewayTimeout, true},
	ErrTimeout:             {http.StatusGatewayTimeout, false},
	ErrUpstreamError:       {http.StatusBadGateway, false},
	ErrInternalError:       {http.StatusInternalServerError, false},
	ErrServiceUnavailable:  {http.StatusServiceUnavailable, true},
	ErrProviderUnavailable: {http.StatusServiceUnavailable, true},

	ErrUnknownSpeaker:     {http.StatusUnprocessableEntity, false},
	ErrNoEligibleSpeaker:  {http.StatusUnprocessableEntity, false},
	ErrAmbiguousSpeaker:   {http.StatusUnprocessableEntity, false},
	ErrInvalidTransition:  {http.StatusUnprocessableEntity, false},
	ErrChatNotFound:       {http.StatusNotFound, false},
	ErrScenarioNotFound:   {http.StatusNotFound, false},
	ErrParticipantFailure: {http.StatusBadGateway, false},
}

// HTTPStatus 错误码对应的 HTTP 状态码，未知错误码为 500
func (c ErrorCode) HTTPStatus() int {
	if info, ok := codes[c]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// Retryable 该类错误默认是否值得重试
func (c ErrorCode) Retryable() bool {
	return codes[c].retryable
}

// Error 结构化错误。HTTPStatus 为 0 时使用错误码的默认状态码。
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Cause      error     `json:"-"`
}

// NewError 以错误码默认的 Retryable 创建错误
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Retryable: code.Retryable()}
}

// Errorf 同 NewError，消息按格式化生成
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(e.Code))
	b.WriteString("] ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Status 返回应写出的 HTTP 状态码
func (e *Error) Status() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return e.Code.HTTPStatus()
}

// WithCause 记录底层错误
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus 覆盖错误码的默认状态码
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable 覆盖错误码的默认 Retryable
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// AsError 在错误链中查找 *Error
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// IsErrorCode 错误链中的 *Error 是否带有 code
func IsErrorCode(err error, code ErrorCode) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// IsRetryable 错误链中的 *Error 是否可重试，普通错误返回 false
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	return ok && e.Retryable
}

// GetErrorCode 返回错误链中的错误码，没有时返回空串
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}
