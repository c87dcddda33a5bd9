// Package openai 通过 openai-go SDK 调用 Images API（DALL-E、gpt-image）。
// 对话类请求走 openaicompat，这里只处理图像角色。
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"github.com/BaSui01/genstudio/llm"
	"github.com/BaSui01/genstudio/llm/providers"
)

// IsImageModel reports whether the model is served by the Images API.
func IsImageModel(model string) bool {
	m := strings.ToLower(model)
	return strings.Contains(m, "dall-e") || strings.Contains(m, "gpt-image")
}

// ImagesTransport Images API 传输层
type ImagesTransport struct {
	client *http.Client
	logger *zap.Logger
	size   string
}

// New 创建 Images 传输层，size 为空时使用 1024x1024。
func New(client *http.Client, logger *zap.Logger, size string) *ImagesTransport {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if size == "" {
		size = "1024x1024"
	}
	return &ImagesTransport{client: client, logger: logger.With(zap.String("component", "openai_images")), size: size}
}

func (t *ImagesTransport) Name() string { return "openai_images" }

// sdkBaseURL SDK 的 base URL 需要包含 /v1。
func sdkBaseURL(base string) string {
	base = strings.TrimRight(base, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base + "/"
}

// Generate 以请求文本作为 prompt 生成一张图像。
// 参考图分片会被忽略，Images.Generate 不接受输入图像。
func (t *ImagesTransport) Generate(ctx context.Context, call *llm.Call) (*llm.GenerationResult, error) {
	prompt := call.Request.Text()
	if prompt == "" {
		return nil, &llm.Error{Kind: llm.ErrUnknown, Detail: "image generation requires a text prompt", Provider: call.Provider, Model: call.Model}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(call.Credential.Key),
		option.WithHTTPClient(t.client),
		option.WithMaxRetries(0),
	}
	if call.Credential.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(sdkBaseURL(call.Credential.BaseURL)))
	}
	client := openai.NewClient(opts...)

	params := openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(call.Model),
		N:      openai.Int(1),
		Size:   openai.ImageGenerateParamsSize(t.size),
	}
	// gpt-image 系列固定返回 b64_json，不接受 response_format
	if strings.Contains(strings.ToLower(call.Model), "dall-e") {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormatB64JSON
	}

	start := time.Now()
	resp, err := client.Images.Generate(ctx, params)
	if err != nil {
		return nil, classifyAPIError(err, call)
	}
	t.logger.Debug("image generated",
		zap.String("model", call.Model),
		zap.Int("images", len(resp.Data)),
		zap.Duration("latency", time.Since(start)))

	return providers.BuildResult(call, []byte(resp.RawJSON()))
}

func classifyAPIError(err error, call *llm.Call) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == "content_policy_violation" || apiErr.Code == "moderation_blocked" {
			return &llm.Error{
				Kind:       llm.ErrContentPolicyRejected,
				Detail:     "content policy violation: " + apiErr.Message,
				Provider:   call.Provider,
				Model:      call.Model,
				HTTPStatus: apiErr.StatusCode,
				Cause:      err,
			}
		}
		msg := apiErr.Message
		if msg == "" {
			msg = providers.ReadErrorMessage([]byte(apiErr.RawJSON()))
		}
		return llm.ClassifyHTTP(apiErr.StatusCode, msg, call.Provider, call.Model).WithCause(err)
	}
	return llm.Classify(err, call.Provider, call.Model)
}

var _ llm.Transport = (*ImagesTransport)(nil)
