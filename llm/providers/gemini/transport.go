// Package gemini 通过 google.golang.org/genai SDK 调用 Gemini API。
// 只服务没有自定义 BaseURL 的 google 凭据；带 BaseURL 的凭据走 OpenAI 兼容协议。
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/BaSui01/genstudio/llm"
	"github.com/BaSui01/genstudio/llm/providers"
)

// 四个可配置的危害类别全部设为 BLOCK_NONE。
// 剧本分析经常包含冲突与暴力情节，默认阈值会误拦。
var safetySettings = []*genai.SafetySetting{
	{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockThresholdBlockNone},
	{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockThresholdBlockNone},
}

// Transport Gemini SDK 传输层
type Transport struct {
	client  *http.Client
	logger  *zap.Logger
	baseURL string
}

// Option 配置 Transport。
type Option func(*Transport)

// WithBaseURL 覆盖 SDK 的 API 端点（测试或私有网关）。
func WithBaseURL(u string) Option {
	return func(t *Transport) { t.baseURL = u }
}

// New 创建 Gemini 传输层。
func New(client *http.Client, logger *zap.Logger, opts ...Option) *Transport {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Transport{client: client, logger: logger.With(zap.String("component", "gemini"))}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Name() string { return "gemini" }

func (t *Transport) newClient(ctx context.Context, key string) (*genai.Client, error) {
	cfg := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: t.client,
	}
	if t.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: t.baseURL}
	}
	return genai.NewClient(ctx, cfg)
}

// Generate 调用 Models.GenerateContent，并把 SDK 响应序列化为 JSON 交给提取器。
func (t *Transport) Generate(ctx context.Context, call *llm.Call) (*llm.GenerationResult, error) {
	if call.Credential.Key == "" {
		return nil, &llm.Error{
			Kind:     llm.ErrAuthInvalid,
			Detail:   "no API key configured for Google Gemini; add a google credential or set GEMINI_API_KEY",
			Provider: llm.ProviderGoogle,
			Model:    call.Model,
		}
	}

	contents, err := buildContents(call.Request)
	if err != nil {
		return nil, llm.Classify(err, call.Provider, call.Model)
	}
	client, err := t.newClient(ctx, call.Credential.Key)
	if err != nil {
		return nil, llm.Classify(fmt.Errorf("create genai client: %w", err), call.Provider, call.Model)
	}

	start := time.Now()
	resp, err := client.Models.GenerateContent(ctx, call.Model, contents, buildConfig(call.Request))
	if err != nil {
		return nil, classifyAPIError(err, call)
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, llm.Malformed(call.Provider, call.Model, "failed to encode Gemini response: "+err.Error())
	}
	t.logger.Debug("generate content finished",
		zap.String("model", call.Model),
		zap.Int("candidates", len(resp.Candidates)),
		zap.Duration("latency", time.Since(start)))

	return providers.BuildResult(call, raw)
}

func buildContents(req *llm.GenerationRequest) ([]*genai.Content, error) {
	parts := make([]*genai.Part, 0, len(req.Parts))
	for i, p := range req.Parts {
		if p.IsInline() {
			data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("part %d: invalid base64 inline data: %w", i, err)
			}
			parts = append(parts, genai.NewPartFromBytes(data, p.InlineData.MIMEType))
			continue
		}
		if p.Text != "" {
			parts = append(parts, genai.NewPartFromText(p.Text))
		}
	}
	if len(parts) == 0 {
		return nil, errors.New("request has no content parts")
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, nil
}

func buildConfig(req *llm.GenerationRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:    req.Temperature,
		SafetySettings: safetySettings,
	}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSONMode {
		cfg.ResponseMIMEType = "application/json"
	}
	if req.WantImage {
		cfg.ResponseModalities = []string{"TEXT", "IMAGE"}
	}
	return cfg
}

// classifyAPIError 把 SDK 的 APIError 交给 HTTP 状态码分类，其余按网络/未知处理。
func classifyAPIError(err error, call *llm.Call) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return llm.ClassifyHTTP(apiErr.Code, apiErr.Message, call.Provider, call.Model).WithCause(err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return llm.ClassifyHTTP(apiErrPtr.Code, apiErrPtr.Message, call.Provider, call.Model).WithCause(err)
	}
	return llm.Classify(err, call.Provider, call.Model)
}

var _ llm.Transport = (*Transport)(nil)
