package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/BaSui01/genstudio/llm"
)

// maxResponseBody 单次响应体上限，内联图像可能有数十 MB。
const maxResponseBody = 64 << 20

// ReadErrorMessage 从错误响应体中提取可读消息
// 依次尝试 error.message、message、msg、error（字符串），失败则回退到原始文本
func ReadErrorMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "message", "msg", "error", "ResponseMetadata.Error.Message"} {
			r := gjson.GetBytes(body, path)
			if r.Exists() && r.Type == gjson.String && r.String() != "" {
				if t := gjson.GetBytes(body, "error.type"); path == "error.message" && t.String() != "" {
					return fmt.Sprintf("%s (type: %s)", r.String(), t.String())
				}
				return r.String()
			}
		}
	}
	return strings.TrimSpace(string(body))
}

// CheckResponse 状态码 >= 400 时返回分类后的错误。
// 响应体中的安全拒绝字段优先于状态码。
func CheckResponse(status int, body []byte, provider llm.ProviderKind, model string) error {
	if status < 400 {
		return nil
	}
	if detail, ok := llm.ClassifyPayload(body); ok {
		return &llm.Error{
			Kind:       llm.ErrContentPolicyRejected,
			Detail:     detail,
			Provider:   provider,
			Model:      model,
			HTTPStatus: status,
		}
	}
	return llm.ClassifyHTTP(status, ReadErrorMessage(body), provider, model)
}

// BearerHeaders 是标准的 Bearer token 认证 header 构建函数。
func BearerHeaders(r *http.Request, apiKey string) {
	if apiKey != "" {
		r.Header.Set("Authorization", "Bearer "+apiKey)
	}
	r.Header.Set("Content-Type", "application/json")
}

// Do 发送请求并读取完整响应体。网络错误经 llm.Classify 归类。
func Do(client *http.Client, req *http.Request, provider llm.ProviderKind, model string) (int, []byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, llm.Classify(err, provider, model)
	}
	defer SafeCloseBody(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, llm.Classify(err, provider, model)
	}
	return resp.StatusCode, body, nil
}

// PostJSON 以 JSON 方式 POST payload，返回成功响应体；失败时返回分类后的错误。
func PostJSON(ctx context.Context, client *http.Client, url string, payload any,
	headers func(*http.Request), provider llm.ProviderKind, model string) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, llm.Classify(fmt.Errorf("failed to create request: %w", err), provider, model)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers != nil {
		headers(req)
	}

	status, body, err := Do(client, req, provider, model)
	if err != nil {
		return nil, err
	}
	if err := CheckResponse(status, body, provider, model); err != nil {
		return nil, err
	}
	return body, nil
}

// GetJSON 发送 GET 请求，返回成功响应体；失败时返回分类后的错误。
func GetJSON(ctx context.Context, client *http.Client, url string,
	headers func(*http.Request), provider llm.ProviderKind, model string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, llm.Classify(fmt.Errorf("failed to create request: %w", err), provider, model)
	}
	if headers != nil {
		headers(req)
	}
	status, body, err := Do(client, req, provider, model)
	if err != nil {
		return nil, err
	}
	if err := CheckResponse(status, body, provider, model); err != nil {
		return nil, err
	}
	return body, nil
}

// SafeCloseBody 安全关闭 HTTP 响应体并忽略错误
func SafeCloseBody(body io.ReadCloser) {
	if body != nil {
		_ = body.Close()
	}
}

// Endpoint 拼接 base URL 与路径，处理多余的斜杠。
func Endpoint(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}
