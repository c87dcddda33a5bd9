package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"

	"github.com/tidwall/gjson"
)

const maxDetailBody = 512

// Classify 将任意错误转换为带 ErrorKind 的 *Error。
// 已经是 *Error 的错误只补充 provider/model，不会被重新分类。
func Classify(err error, provider ProviderKind, model string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e.WithProvider(provider).WithModel(model)
	}
	if errors.Is(err, context.Canceled) {
		return &Error{
			Kind:     ErrUnknown,
			Detail:   "request canceled by caller",
			Provider: provider,
			Model:    model,
			Cause:    err,
		}
	}
	if isNetworkError(err) {
		return &Error{
			Kind:     ErrNetworkUnreachable,
			Detail:   networkGuidance(provider),
			Provider: provider,
			Model:    model,
			Cause:    err,
		}
	}
	return &Error{
		Kind:     ErrUnknown,
		Detail:   fmt.Sprintf("%s call for model %q failed", providerLabel(provider), model),
		Provider: provider,
		Model:    model,
		Cause:    err,
	}
}

// ClassifyHTTP 按 HTTP 状态码与响应体分类。body 可以是原始 JSON 或已提取的消息。
func ClassifyHTTP(status int, body string, provider ProviderKind, model string) *Error {
	msg := truncate(strings.TrimSpace(body), maxDetailBody)
	e := &Error{Provider: provider, Model: model, HTTPStatus: status}

	if policy, ok := ClassifyPayload([]byte(body)); ok {
		e.Kind = ErrContentPolicyRejected
		e.Detail = policy
		return e
	}

	switch {
	case status == http.StatusUnauthorized:
		e.Kind = ErrAuthInvalid
		e.Detail = fmt.Sprintf("%s rejected the credential (401); check the API key configured for provider %q: %s",
			providerLabel(provider), provider, msg)
	case status == http.StatusForbidden:
		e.Kind = ErrAuthInvalid
		e.Detail = fmt.Sprintf("%s denied access (403); the key may lack permission for model %q or the region is blocked: %s",
			providerLabel(provider), model, msg)
	case status == http.StatusNotFound:
		e.Kind = ErrModelNotFound
		e.Detail = fmt.Sprintf("model %q was not found at %s (404); check the model id and base URL: %s",
			model, providerLabel(provider), msg)
	case status == http.StatusBadRequest && looksLikeBadKey(msg):
		e.Kind = ErrAuthInvalid
		e.Detail = fmt.Sprintf("%s reported an invalid API key: %s", providerLabel(provider), msg)
	case status == http.StatusBadRequest && looksLikePolicy(msg):
		e.Kind = ErrContentPolicyRejected
		e.Detail = fmt.Sprintf("%s rejected the prompt by content policy: %s", providerLabel(provider), msg)
	default:
		e.Kind = ErrUnknown
		e.Detail = fmt.Sprintf("%s returned HTTP %d for model %q: %s", providerLabel(provider), status, model, msg)
	}
	return e
}

// 即梦视觉接口的风控拒绝码：输入文本、输入图片、输出图片/视频审核不通过
var jimengRiskCodes = map[int64]bool{
	50411: true,
	50412: true,
	50413: true,
	50511: true,
	50512: true,
}

// ClassifyPayload 检查后端在正常响应体中报告的安全拒绝字段，
// 命中时返回诊断信息与 true。
func ClassifyPayload(raw []byte) (string, bool) {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return "", false
	}
	if r := gjson.GetBytes(raw, "promptFeedback.blockReason"); r.Exists() && r.String() != "" {
		return "prompt blocked by safety filter: " + r.String(), true
	}
	for _, fr := range gjson.GetBytes(raw, "candidates.#.finishReason").Array() {
		switch strings.ToUpper(fr.String()) {
		case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST", "SPII", "IMAGE_SAFETY":
			return "generation stopped by safety filter: " + fr.String(), true
		}
	}
	if fr := gjson.GetBytes(raw, "choices.0.finish_reason"); fr.String() == "content_filter" {
		return "completion filtered by provider content policy", true
	}
	if code := gjson.GetBytes(raw, "error.code"); code.String() == "content_policy_violation" || code.String() == "moderation_blocked" {
		return "content policy violation: " + gjson.GetBytes(raw, "error.message").String(), true
	}
	if code := gjson.GetBytes(raw, "code"); code.Type == gjson.Number && jimengRiskCodes[code.Int()] {
		return fmt.Sprintf("Jimeng risk control rejected the request (code %d): %s", code.Int(), gjson.GetBytes(raw, "message").String()), true
	}
	if n := gjson.GetBytes(raw, "response.generateVideoResponse.raiMediaFilteredCount"); n.Int() > 0 {
		reasons := gjson.GetBytes(raw, "response.generateVideoResponse.raiMediaFilteredReasons").String()
		return "video filtered by responsible-AI policy: " + reasons, true
	}
	return "", false
}

// ParseFailure 构造 parse_failure 错误，detail 只包含输入的前 100 个字符。
func ParseFailure(input string, cause error) *Error {
	return &Error{
		Kind:   ErrParseFailure,
		Detail: "could not parse structured output from model response: " + truncate(input, 100),
		Cause:  cause,
	}
}

// Unsupported 构造 provider_unsupported 错误。
func Unsupported(provider ProviderKind, model, what string) *Error {
	return &Error{
		Kind:     ErrProviderUnsupported,
		Detail:   fmt.Sprintf("%s does not support %s (model %q); pick a different model for this role", providerLabel(provider), what, model),
		Provider: provider,
		Model:    model,
	}
}

// Malformed 构造 malformed_response 错误。
func Malformed(provider ProviderKind, model, detail string) *Error {
	return &Error{Kind: ErrMalformedResponse, Detail: detail, Provider: provider, Model: model}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "connection refused") ||
		strings.Contains(s, "no such host") ||
		strings.Contains(s, "tls handshake")
}

func networkGuidance(provider ProviderKind) string {
	return fmt.Sprintf("cannot reach %s; check network connectivity, the HTTP proxy setting (http.proxy_url / HTTPS_PROXY) or VPN, and the configured base URL",
		providerLabel(provider))
}

func looksLikeBadKey(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "api key not valid") ||
		strings.Contains(m, "api_key_invalid") ||
		strings.Contains(m, "invalid api key") ||
		strings.Contains(m, "incorrect api key")
}

func looksLikePolicy(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "safety") ||
		strings.Contains(m, "content policy") ||
		strings.Contains(m, "content_policy") ||
		strings.Contains(m, "moderation")
}

func providerLabel(p ProviderKind) string {
	switch p {
	case ProviderGoogle:
		return "Google Gemini"
	case ProviderOpenAI:
		return "OpenAI"
	case ProviderAnthropic:
		return "Anthropic"
	case ProviderDeepSeek:
		return "DeepSeek"
	case ProviderXAI:
		return "xAI"
	case ProviderJimeng:
		return "Jimeng"
	case ProviderJimengWeb:
		return "Jimeng Web"
	case ProviderQwen:
		return "Qwen (DashScope)"
	case "":
		return "provider"
	default:
		return "the OpenAI-compatible endpoint"
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
