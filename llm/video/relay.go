package video

import (
	"context"
	"net/http"
	"net/url"

	"github.com/BaSui01/genstudio/llm"
	"github.com/BaSui01/genstudio/llm/providers"
)

// RelayBackend 面向 OpenAI 兼容中转服务的通用视频接口：
// POST {base}/v1/video/generations 提交，GET {base}/v1/video/generations/{id} 查询。
// 响应字段由 SnapshotFromJSON 宽松解析。
type RelayBackend struct {
	client   *http.Client
	provider llm.ProviderKind
}

// NewRelayBackend 创建中转后端，provider 用于错误分类。
func NewRelayBackend(client *http.Client, provider llm.ProviderKind) *RelayBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &RelayBackend{client: client, provider: provider}
}

func (b *RelayBackend) Name() string { return "relay" }

type relayRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	Image          string `json:"image,omitempty"`
	EndImage       string `json:"end_image,omitempty"`
	Duration       int    `json:"duration,omitempty"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
	Resolution     string `json:"resolution,omitempty"`
}

func dataURI(d *llm.InlineData) string {
	if d == nil {
		return ""
	}
	return llm.ContentPart{InlineData: d}.DataURI()
}

func (b *RelayBackend) base(cred llm.Credential, model string) (string, error) {
	if cred.BaseURL == "" {
		return "", llm.Unsupported(b.provider, model, "video generation without a relay base URL on the credential")
	}
	return cred.BaseURL, nil
}

func (b *RelayBackend) Submit(ctx context.Context, req *SubmitRequest) (*Snapshot, error) {
	base, err := b.base(req.Credential, req.Model)
	if err != nil {
		return nil, err
	}
	body := relayRequest{
		Model:          req.Model,
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		Image:          dataURI(req.Image),
		EndImage:       dataURI(req.EndImage),
		Duration:       req.DurationSeconds,
		AspectRatio:    req.AspectRatio,
		Resolution:     req.Resolution,
	}
	raw, err := providers.PostJSON(ctx, b.client, providers.Endpoint(base, "/v1/video/generations"), body,
		func(r *http.Request) { providers.BearerHeaders(r, req.Credential.Key) }, b.provider, req.Model)
	if err != nil {
		return nil, err
	}
	return SnapshotFromJSON(raw), nil
}

func (b *RelayBackend) Poll(ctx context.Context, task Task) (*Snapshot, error) {
	base, err := b.base(task.Credential, task.Model)
	if err != nil {
		return nil, err
	}
	raw, err := providers.GetJSON(ctx, b.client, providers.Endpoint(base, "/v1/video/generations/"+url.PathEscape(task.ID)),
		func(r *http.Request) { providers.BearerHeaders(r, task.Credential.Key) }, b.provider, task.Model)
	if err != nil {
		return nil, err
	}
	snap := SnapshotFromJSON(raw)
	if snap.TaskID == "" {
		snap.TaskID = task.ID
	}
	return snap, nil
}

// Download 结果 URL 在中转服务自身域名下时带上 Bearer 头。
func (b *RelayBackend) Download(ctx context.Context, task Task, rawURL string) ([]byte, string, error) {
	var headers func(*http.Request)
	if sameHost(rawURL, task.Credential.BaseURL) {
		headers = func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+task.Credential.Key) }
	}
	return download(ctx, b.client, rawURL, headers)
}

func sameHost(a, b string) bool {
	ua, err1 := url.Parse(a)
	ub, err2 := url.Parse(b)
	return err1 == nil && err2 == nil && ua.Host != "" && ua.Host == ub.Host
}
