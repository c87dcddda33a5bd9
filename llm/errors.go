package llm

import (
	"errors"
	"fmt"
)

// ErrorKind 是面向调用方的错误分类，集合封闭。
type ErrorKind string

const (
	ErrNetworkUnreachable    ErrorKind = "network_unreachable"     // 网络不可达/代理配置问题
	ErrAuthInvalid           ErrorKind = "auth_invalid"            // 密钥无效或无权限
	ErrModelNotFound         ErrorKind = "model_not_found"         // 模型不存在或端点错误
	ErrContentPolicyRejected ErrorKind = "content_policy_rejected" // 命中内容安全
	ErrMalformedResponse     ErrorKind = "malformed_response"      // 响应结构不符合预期
	ErrParseFailure          ErrorKind = "parse_failure"           // 结构化文本解析失败
	ErrProviderUnsupported   ErrorKind = "provider_unsupported"    // 该 Provider 不支持此操作
	ErrUnknown               ErrorKind = "unknown"
)

// Error 是引擎对外暴露的唯一错误形态：一个 ErrorKind 加上可读的诊断信息。
type Error struct {
	Kind       ErrorKind    `json:"kind"`
	Detail     string       `json:"detail"`
	Provider   ProviderKind `json:"provider,omitempty"`
	Model      string       `json:"model,omitempty"`
	HTTPStatus int          `json:"http_status,omitempty"`
	Cause      error        `json:"-"`
}

// NewError creates an Error with the given kind and detail.
func NewError(kind ErrorKind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Provider != "" {
		prefix += "/" + string(e.Provider)
	}
	if e.Model != "" {
		prefix += "(" + e.Model + ")"
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", prefix, e.Detail, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", prefix, e.Detail)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// WithCause 附加底层错误。
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus 设置 HTTP 状态码。
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithProvider 设置 Provider，已存在时不覆盖。
func (e *Error) WithProvider(p ProviderKind) *Error {
	if e.Provider == "" {
		e.Provider = p
	}
	return e
}

// WithModel 设置模型 ID，已存在时不覆盖。
func (e *Error) WithModel(model string) *Error {
	if e.Model == "" {
		e.Model = model
	}
	return e
}

// KindOf 提取错误分类；非 *Error 返回 ErrUnknown，nil 返回空串。
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
