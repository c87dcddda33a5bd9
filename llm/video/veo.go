package video

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/BaSui01/genstudio/llm"
	"github.com/BaSui01/genstudio/llm/providers"
)

// DefaultVeoBaseURL Gemini API 端点
const DefaultVeoBaseURL = "https://generativelanguage.googleapis.com"

// VeoBackend 通过 predictLongRunning 提交 Veo 任务，并轮询 operations 资源。
type VeoBackend struct {
	client  *http.Client
	baseURL string
}

// NewVeoBackend 创建 Veo 后端，baseURL 为空时使用 Gemini API。
func NewVeoBackend(client *http.Client, baseURL string) *VeoBackend {
	if client == nil {
		client = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = DefaultVeoBaseURL
	}
	return &VeoBackend{client: client, baseURL: baseURL}
}

func (b *VeoBackend) Name() string { return "veo" }

type veoImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

type veoInstance struct {
	Prompt    string    `json:"prompt"`
	Image     *veoImage `json:"image,omitempty"`
	LastFrame *veoImage `json:"lastFrame,omitempty"`
}

type veoParams struct {
	AspectRatio     string `json:"aspectRatio,omitempty"`
	NegativePrompt  string `json:"negativePrompt,omitempty"`
	DurationSeconds int    `json:"durationSeconds,omitempty"`
	Resolution      string `json:"resolution,omitempty"`
}

type veoRequest struct {
	Instances  []veoInstance `json:"instances"`
	Parameters veoParams     `json:"parameters"`
}

func toVeoImage(d *llm.InlineData) *veoImage {
	if d == nil {
		return nil
	}
	return &veoImage{BytesBase64Encoded: d.Data, MimeType: d.MIMEType}
}

func (b *VeoBackend) headers(key string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("x-goog-api-key", key)
	}
}

// Submit 返回的 TaskID 是 operation 名称，如 models/veo-3.1/operations/abc。
func (b *VeoBackend) Submit(ctx context.Context, req *SubmitRequest) (*Snapshot, error) {
	body := veoRequest{
		Instances: []veoInstance{{
			Prompt:    req.Prompt,
			Image:     toVeoImage(req.Image),
			LastFrame: toVeoImage(req.EndImage),
		}},
		Parameters: veoParams{
			AspectRatio:     req.AspectRatio,
			NegativePrompt:  req.NegativePrompt,
			DurationSeconds: req.DurationSeconds,
			Resolution:      req.Resolution,
		},
	}
	url := providers.Endpoint(b.baseURL, fmt.Sprintf("/v1beta/models/%s:predictLongRunning", req.Model))
	raw, err := providers.PostJSON(ctx, b.client, url, body, b.headers(req.Credential.Key), llm.ProviderGoogle, req.Model)
	if err != nil {
		return nil, err
	}
	name := gjson.GetBytes(raw, "name").String()
	if name == "" {
		return nil, llm.Malformed(llm.ProviderGoogle, req.Model, "Veo submit response is missing the operation name")
	}
	snap := veoSnapshot(raw)
	snap.TaskID = name
	return snap, nil
}

// Poll 查询 operation。
func (b *VeoBackend) Poll(ctx context.Context, task Task) (*Snapshot, error) {
	url := providers.Endpoint(b.baseURL, "/v1beta/"+strings.TrimLeft(task.ID, "/"))
	raw, err := providers.GetJSON(ctx, b.client, url, b.headers(task.Credential.Key), llm.ProviderGoogle, task.Model)
	if err != nil {
		return nil, err
	}
	snap := veoSnapshot(raw)
	snap.TaskID = task.ID
	return snap, nil
}

// Download 视频文件 URI 需要同一个 API key。
func (b *VeoBackend) Download(ctx context.Context, task Task, url string) ([]byte, string, error) {
	return download(ctx, b.client, url, b.headers(task.Credential.Key))
}

// veoSnapshot done=false 继续轮询；error 字段或 RAI 过滤视为失败。
func veoSnapshot(raw []byte) *Snapshot {
	snap := &Snapshot{Raw: append([]byte(nil), raw...)}
	if msg := gjson.GetBytes(raw, "error.message"); msg.Exists() {
		snap.Status = StatusFailed
		snap.RawStatus = "error"
		snap.ErrorMessage = msg.String()
		_, snap.PolicyRejected = llm.ClassifyPayload(raw)
		return snap
	}
	if !gjson.GetBytes(raw, "done").Bool() {
		snap.RawStatus = "running"
		return snap
	}
	snap.RawStatus = "done"
	if detail, ok := llm.ClassifyPayload(raw); ok {
		snap.Status = StatusFailed
		snap.PolicyRejected = true
		snap.ErrorMessage = detail
		return snap
	}
	snap.Status = StatusSucceeded
	snap.ResultURL = FindResultURL(raw)
	return snap
}
