package openaicompat

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/sjson"
	"go.uber.org/zap"

	"github.com/BaSui01/genstudio/llm"
	"github.com/BaSui01/genstudio/llm/providers"
)

// DefaultBaseURLs 各 Provider 的默认端点。
// other 与带 BaseURL 的 google 凭据必须自带端点。
var DefaultBaseURLs = map[llm.ProviderKind]string{
	llm.ProviderOpenAI:   "https://api.openai.com",
	llm.ProviderDeepSeek: "https://api.deepseek.com",
	llm.ProviderXAI:      "https://api.x.ai",
	llm.ProviderQwen:     "https://dashscope.aliyuncs.com/compatible-mode/v1",
	llm.ProviderJimeng:   "https://ark.cn-beijing.volces.com/api/v3",
}

// 支持 response_format=json_object 的后端；其他后端只依赖文本指令
var honorsResponseFormat = map[llm.ProviderKind]bool{
	llm.ProviderOpenAI:   true,
	llm.ProviderDeepSeek: true,
	llm.ProviderQwen:     true,
}

// Transport 是 OpenAI 兼容协议的传输层，无状态，可并发使用。
type Transport struct {
	client *http.Client
	logger *zap.Logger
	extra  map[llm.ProviderKind]map[string]any
}

// Option 配置 Transport。
type Option func(*Transport)

// WithExtraBody 为某个 Provider 的请求体追加字段，key 为 sjson 路径。
func WithExtraBody(provider llm.ProviderKind, path string, value any) Option {
	return func(t *Transport) {
		if t.extra[provider] == nil {
			t.extra[provider] = make(map[string]any)
		}
		t.extra[provider][path] = value
	}
}

// New 创建传输层。
func New(client *http.Client, logger *zap.Logger, opts ...Option) *Transport {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Transport{
		client: client,
		logger: logger.With(zap.String("component", "openaicompat")),
		extra: map[llm.ProviderKind]map[string]any{
			// 通义千问 3 在非流式调用下必须关闭思考模式
			llm.ProviderQwen: {"enable_thinking": false},
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Name() string { return "openaicompat" }

// ChatURL 拼接 chat completions 地址。
// base 已经以版本段结尾（/v1、/v3 等）时只追加 /chat/completions。
func ChatURL(base string) string {
	base = strings.TrimRight(base, "/")
	if u, err := url.Parse(base); err == nil && versionSuffix(u.Path) {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

func versionSuffix(path string) bool {
	i := strings.LastIndexByte(path, '/')
	seg := path[i+1:]
	if len(seg) < 2 || seg[0] != 'v' {
		return false
	}
	for _, r := range seg[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Generate 发送一次非流式 chat completions 请求。
func (t *Transport) Generate(ctx context.Context, call *llm.Call) (*llm.GenerationResult, error) {
	base := call.Credential.BaseURL
	if base == "" {
		base = DefaultBaseURLs[call.Provider]
	}
	if base == "" {
		return nil, &llm.Error{
			Kind:     llm.ErrProviderUnsupported,
			Detail:   fmt.Sprintf("no endpoint configured for provider %q; set base_url on the credential", call.Provider),
			Provider: call.Provider,
			Model:    call.Model,
		}
	}

	body, err := t.buildBody(call)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	raw, err := providers.PostJSON(ctx, t.client, ChatURL(base), body,
		func(r *http.Request) { providers.BearerHeaders(r, call.Credential.Key) },
		call.Provider, call.Model)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("chat completion finished",
		zap.String("provider", string(call.Provider)),
		zap.String("model", call.Model),
		zap.Int("bytes", len(raw)),
		zap.Duration("latency", time.Since(start)))

	return providers.BuildResult(call, raw)
}

func (t *Transport) buildBody(call *llm.Call) (json.RawMessage, error) {
	req := call.Request
	body := providers.ChatRequest{
		Model:       call.Model,
		Messages:    providers.BuildMessages(req),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSONMode && honorsResponseFormat[call.Provider] {
		body.ResponseFormat = &providers.ResponseFormat{Type: "json_object"}
	}
	if req.WantImage {
		body.Modalities = []string{"text", "image"}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	for path, v := range t.extra[call.Provider] {
		if data, err = sjson.SetBytes(data, path, v); err != nil {
			return nil, fmt.Errorf("set extra body field %s: %w", path, err)
		}
	}
	return data, nil
}

var _ llm.Transport = (*Transport)(nil)
