// Package anthropic 通过 anthropic-sdk-go 调用 Messages API。
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/BaSui01/genstudio/llm"
	"github.com/BaSui01/genstudio/llm/providers"
)

// defaultMaxTokens Messages API 要求显式的 max_tokens
const defaultMaxTokens int64 = 8192

// Transport Anthropic 传输层
type Transport struct {
	client *http.Client
	logger *zap.Logger
}

// New 创建 Anthropic 传输层。
func New(client *http.Client, logger *zap.Logger) *Transport {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{client: client, logger: logger.With(zap.String("component", "anthropic"))}
}

func (t *Transport) Name() string { return "anthropic" }

// Generate 发送一次 Messages 请求。SDK 自带的重试被关闭，重试策略由调用方决定。
func (t *Transport) Generate(ctx context.Context, call *llm.Call) (*llm.GenerationResult, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(call.Credential.Key),
		option.WithHTTPClient(t.client),
		option.WithMaxRetries(0),
	}
	if call.Credential.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(call.Credential.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	start := time.Now()
	msg, err := client.Messages.New(ctx, buildParams(call))
	if err != nil {
		return nil, classifyAPIError(err, call)
	}
	raw := []byte(msg.RawJSON())
	t.logger.Debug("message finished",
		zap.String("model", call.Model),
		zap.String("stop_reason", string(msg.StopReason)),
		zap.Duration("latency", time.Since(start)))

	if msg.StopReason == "refusal" {
		return nil, &llm.Error{
			Kind:     llm.ErrContentPolicyRejected,
			Detail:   "Anthropic declined to answer the request (stop_reason=refusal)",
			Provider: call.Provider,
			Model:    call.Model,
		}
	}
	return providers.BuildResult(call, raw)
}

func buildParams(call *llm.Call) anthropic.MessageNewParams {
	req := call.Request
	parts := req.Parts
	if req.JSONMode {
		parts = providers.AppendJSONInstruction(parts)
	}

	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.IsInline():
			blocks = append(blocks, anthropic.NewImageBlockBase64(p.InlineData.MIMEType, p.InlineData.Data))
		case strings.TrimSpace(p.Text) != "":
			blocks = append(blocks, anthropic.NewTextBlock(p.Text))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(call.Model),
		MaxTokens: defaultMaxTokens,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*req.Temperature))
	}
	if s := strings.TrimSpace(req.SystemInstruction); s != "" {
		params.System = []anthropic.TextBlockParam{{Text: s}}
	}
	return params
}

func classifyAPIError(err error, call *llm.Call) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llm.ClassifyHTTP(apiErr.StatusCode, providers.ReadErrorMessage([]byte(apiErr.RawJSON())), call.Provider, call.Model).
			WithCause(err)
	}
	return llm.Classify(err, call.Provider, call.Model)
}

var _ llm.Transport = (*Transport)(nil)
