package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/BaSui01/genstudio/llm"
	"github.com/BaSui01/genstudio/llm/providers"
)

const (
	// DefaultJimengBaseURL 火山引擎视觉服务
	DefaultJimengBaseURL = "https://visual.volcengineapi.com"
	jimengAPIVersion     = "2022-08-31"
	jimengCodeOK         = 10000
)

// 默认 req_key：文生视频、首帧图生视频、首尾帧图生视频
const (
	jimengReqKeyT2V          = "jimeng_t2v_v30"
	jimengReqKeyI2VFirst     = "jimeng_i2v_first_v30"
	jimengReqKeyI2VFirstTail = "jimeng_i2v_first_tail_v30"
)

// JimengBackend 即梦签名 API（CVSync2AsyncSubmitTask / CVSync2AsyncGetResult）。
// 凭据 Key 为 AccessKey，Secret 为 SecretKey。
type JimengBackend struct {
	client *http.Client
}

// NewJimengBackend 创建即梦后端。
func NewJimengBackend(client *http.Client) *JimengBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &JimengBackend{client: client}
}

func (b *JimengBackend) Name() string { return "jimeng" }

// jimengReqKey 模型 ID 本身就是 req_key 时直接使用，否则按输入图片数选择。
func jimengReqKey(req *SubmitRequest) string {
	if strings.HasPrefix(req.Model, "jimeng_") {
		return req.Model
	}
	switch {
	case req.Image != nil && req.EndImage != nil:
		return jimengReqKeyI2VFirstTail
	case req.Image != nil:
		return jimengReqKeyI2VFirst
	default:
		return jimengReqKeyT2V
	}
}

// jimengFrames 5 秒 121 帧，10 秒 241 帧。
func jimengFrames(seconds int) int {
	if seconds >= 10 {
		return 241
	}
	return 121
}

func (b *JimengBackend) Submit(ctx context.Context, req *SubmitRequest) (*Snapshot, error) {
	reqKey := jimengReqKey(req)
	body := map[string]any{
		"req_key": reqKey,
		"prompt":  req.Prompt,
		"seed":    -1,
		"frames":  jimengFrames(req.DurationSeconds),
	}
	var images []string
	for _, img := range []*llm.InlineData{req.Image, req.EndImage} {
		if img != nil {
			images = append(images, img.Data)
		}
	}
	if len(images) > 0 {
		body["binary_data_base64"] = images
	} else if req.AspectRatio != "" {
		body["aspect_ratio"] = req.AspectRatio
	}

	raw, err := b.call(ctx, req.Credential, "CVSync2AsyncSubmitTask", body, req.Model)
	if err != nil {
		return nil, err
	}
	taskID := gjson.GetBytes(raw, "data.task_id").String()
	if taskID == "" {
		return nil, llm.Malformed(llm.ProviderJimeng, req.Model, "Jimeng submit response is missing data.task_id")
	}
	// req_key 在轮询时也要带上
	return &Snapshot{TaskID: reqKey + ":" + taskID, Status: StatusPending, RawStatus: "submitted", Raw: raw}, nil
}

func (b *JimengBackend) Poll(ctx context.Context, task Task) (*Snapshot, error) {
	reqKey, taskID, ok := strings.Cut(task.ID, ":")
	if !ok {
		return nil, llm.Malformed(llm.ProviderJimeng, task.Model, "invalid Jimeng task id: "+task.ID)
	}
	raw, err := b.call(ctx, task.Credential, "CVSync2AsyncGetResult", map[string]any{
		"req_key": reqKey,
		"task_id": taskID,
	}, task.Model)
	if err != nil {
		if llm.IsKind(err, llm.ErrContentPolicyRejected) {
			return &Snapshot{TaskID: task.ID, Status: StatusFailed, RawStatus: "risk", PolicyRejected: true, ErrorMessage: llm.Classify(err, llm.ProviderJimeng, task.Model).Detail}, nil
		}
		return nil, err
	}
	status := gjson.GetBytes(raw, "data.status")
	snap := &Snapshot{
		TaskID:    task.ID,
		Status:    NormalizeStatus(status),
		RawStatus: status.String(),
		Raw:       raw,
	}
	switch snap.Status {
	case StatusSucceeded:
		snap.ResultURL = gjson.GetBytes(raw, "data.video_url").String()
	case StatusFailed:
		snap.ErrorMessage = fmt.Sprintf("Jimeng task %s ended with status %q", taskID, snap.RawStatus)
	}
	return snap, nil
}

// Download 视频 URL 是预签名的 TOS 地址，不需要认证头。
func (b *JimengBackend) Download(ctx context.Context, _ Task, url string) ([]byte, string, error) {
	return download(ctx, b.client, url, nil)
}

// call 发送签名请求。业务码不是 10000 时返回分类后的错误。
func (b *JimengBackend) call(ctx context.Context, cred llm.Credential, action string, payload any, model string) ([]byte, error) {
	if cred.Key == "" || cred.Secret == "" {
		return nil, &llm.Error{
			Kind:     llm.ErrAuthInvalid,
			Detail:   "Jimeng requires both an access key and a secret key",
			Provider: llm.ProviderJimeng,
			Model:    model,
		}
	}
	base := cred.BaseURL
	if base == "" {
		base = DefaultJimengBaseURL
	}
	u, err := url.Parse(providers.Endpoint(base, "/"))
	if err != nil {
		return nil, llm.Malformed(llm.ProviderJimeng, model, "invalid Jimeng base URL: "+base)
	}
	u.RawQuery = url.Values{"Action": {action}, "Version": {jimengAPIVersion}}.Encode()

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(data))
	if err != nil {
		return nil, llm.Classify(fmt.Errorf("failed to create request: %w", err), llm.ProviderJimeng, model)
	}
	req.Header.Set("Content-Type", "application/json")
	newVolcSigner(cred.Key, cred.Secret).Sign(req, data)

	status, body, err := providers.Do(b.client, req, llm.ProviderJimeng, model)
	if err != nil {
		return nil, err
	}
	if err := providers.CheckResponse(status, body, llm.ProviderJimeng, model); err != nil {
		return nil, err
	}
	if code := gjson.GetBytes(body, "code"); code.Exists() && code.Int() != jimengCodeOK {
		if detail, ok := llm.ClassifyPayload(body); ok {
			return nil, &llm.Error{Kind: llm.ErrContentPolicyRejected, Detail: detail, Provider: llm.ProviderJimeng, Model: model}
		}
		return nil, &llm.Error{
			Kind:     llm.ErrUnknown,
			Detail:   fmt.Sprintf("Jimeng %s returned code %d: %s", action, code.Int(), providers.ReadErrorMessage(body)),
			Provider: llm.ProviderJimeng,
			Model:    model,
		}
	}
	return body, nil
}
