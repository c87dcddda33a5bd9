package video

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/BaSui01/genstudio/llm"
	"github.com/BaSui01/genstudio/llm/providers"
)

const (
	// DefaultJimengWebBaseURL 即梦网页端
	DefaultJimengWebBaseURL = "https://jimeng.jianying.com"
	jimengWebAppID          = "513695"
	jimengWebDefaultModel   = "dreamina_ic_generate_video_model_vgfm_3.0"
)

// 网页端数字状态码
const (
	jimengWebProcessing = 20
	jimengWebSucceeded  = 10
	jimengWebFailed     = 30
)

// JimengWebBackend 即梦网页 API，凭据 Key 为 sessionid Cookie。
// 只支持文生视频；网页端的图生视频需要先走素材上传流程。
type JimengWebBackend struct {
	client *http.Client
}

// NewJimengWebBackend 创建即梦网页后端。
func NewJimengWebBackend(client *http.Client) *JimengWebBackend {
	if client == nil {
		client = http.DefaultClient
	}
	return &JimengWebBackend{client: client}
}

func (b *JimengWebBackend) Name() string { return "jimeng_web" }

func (b *JimengWebBackend) endpoint(cred llm.Credential, path string) string {
	base := cred.BaseURL
	if base == "" {
		base = DefaultJimengWebBaseURL
	}
	q := url.Values{"aid": {jimengWebAppID}, "device_platform": {"web"}, "region": {"CN"}}
	return providers.Endpoint(base, path) + "?" + q.Encode()
}

func (b *JimengWebBackend) headers(sessionID string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Cookie", "sessionid="+sessionID)
		r.Header.Set("Appid", jimengWebAppID)
		r.Header.Set("Referer", DefaultJimengWebBaseURL+"/ai-tool/video/generate")
	}
}

func jimengWebModel(model string) string {
	if strings.HasPrefix(model, "dreamina_") {
		return model
	}
	return jimengWebDefaultModel
}

func (b *JimengWebBackend) Submit(ctx context.Context, req *SubmitRequest) (*Snapshot, error) {
	if req.Image != nil || req.EndImage != nil {
		return nil, llm.Unsupported(llm.ProviderJimengWeb, req.Model, "image-to-video through the web session API")
	}
	if req.Credential.Key == "" {
		return nil, &llm.Error{Kind: llm.ErrAuthInvalid, Detail: "Jimeng web requires a sessionid cookie value", Provider: llm.ProviderJimengWeb, Model: req.Model}
	}

	duration := req.DurationSeconds
	if duration <= 0 {
		duration = 5
	}
	ratio := req.AspectRatio
	if ratio == "" {
		ratio = "16:9"
	}
	input := map[string]any{"prompt": req.Prompt, "duration_ms": duration * 1000, "video_mode": 2}
	params := map[string]any{
		"video_gen_inputs":   []any{input},
		"video_aspect_ratio": ratio,
		"model_req_key":      jimengWebModel(req.Model),
	}
	component := map[string]any{
		"type":          "video_base_component",
		"id":            uuid.NewString(),
		"generate_type": "gen_video",
		"abilities":     map[string]any{"gen_video": map[string]any{"text_to_video_params": params}},
	}
	draft, err := json.Marshal(map[string]any{
		"type":           "draft",
		"id":             uuid.NewString(),
		"min_version":    "3.0.5",
		"component_list": []any{component},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal draft: %w", err)
	}
	body := map[string]any{
		"extend":        map[string]any{"root_model": jimengWebModel(req.Model)},
		"submit_id":     uuid.NewString(),
		"draft_content": string(draft),
	}

	raw, err := providers.PostJSON(ctx, b.client, b.endpoint(req.Credential, "/mweb/v1/aigc_draft/generate"),
		body, b.headers(req.Credential.Key), llm.ProviderJimengWeb, req.Model)
	if err != nil {
		return nil, err
	}
	if err := jimengWebCheck(raw, req.Model); err != nil {
		return nil, err
	}
	id := gjson.GetBytes(raw, "data.aigc_data.history_record_id").String()
	if id == "" {
		return nil, llm.Malformed(llm.ProviderJimengWeb, req.Model, "Jimeng web response is missing data.aigc_data.history_record_id")
	}
	return &Snapshot{TaskID: id, Status: StatusPending, RawStatus: "submitted", Raw: raw}, nil
}

func (b *JimengWebBackend) Poll(ctx context.Context, task Task) (*Snapshot, error) {
	raw, err := providers.PostJSON(ctx, b.client, b.endpoint(task.Credential, "/mweb/v1/get_history_by_ids"),
		map[string]any{"history_ids": []string{task.ID}}, b.headers(task.Credential.Key), llm.ProviderJimengWeb, task.Model)
	if err != nil {
		return nil, err
	}
	if err := jimengWebCheck(raw, task.Model); err != nil {
		return nil, err
	}
	record := gjson.GetBytes(raw, "data."+gjsonEscape(task.ID))
	if !record.Exists() {
		return &Snapshot{TaskID: task.ID, Status: StatusPending, RawStatus: "unknown", Raw: raw}, nil
	}

	status := record.Get("status")
	snap := &Snapshot{TaskID: task.ID, Status: NormalizeStatus(status), RawStatus: status.String(), Raw: raw}
	switch status.Int() {
	case jimengWebSucceeded:
		snap.ResultURL = record.Get("item_list.0.video.transcoded_video.origin.video_url").String()
	case jimengWebFailed:
		msg := record.Get("fail_msg").String()
		if msg == "" {
			msg = fmt.Sprintf("Jimeng web task failed with code %s", record.Get("fail_code").String())
		}
		snap.ErrorMessage = msg
		snap.PolicyRejected = looksLikeRisk(msg)
	case jimengWebProcessing:
	}
	return snap, nil
}

func (b *JimengWebBackend) Download(ctx context.Context, _ Task, url string) ([]byte, string, error) {
	return download(ctx, b.client, url, nil)
}

// jimengWebCheck 网页端成功时 ret 为 "0"；会话失效返回 1014 或 34010105。
func jimengWebCheck(raw []byte, model string) error {
	ret := gjson.GetBytes(raw, "ret")
	if !ret.Exists() || ret.String() == "0" {
		return nil
	}
	msg := gjson.GetBytes(raw, "errmsg").String()
	e := &llm.Error{Provider: llm.ProviderJimengWeb, Model: model}
	switch ret.String() {
	case "1014", "34010105":
		e.Kind = llm.ErrAuthInvalid
		e.Detail = "Jimeng web session is invalid or expired; log in again and update the sessionid: " + msg
	default:
		e.Kind = llm.ErrUnknown
		if looksLikeRisk(msg) {
			e.Kind = llm.ErrContentPolicyRejected
		}
		e.Detail = fmt.Sprintf("Jimeng web returned ret=%s: %s", ret.String(), msg)
	}
	return e
}

var riskKeywords = []string{"risk", "sensitive", "违规", "敏感", "审核", "安全"}

func looksLikeRisk(msg string) bool {
	m := strings.ToLower(msg)
	for _, k := range riskKeywords {
		if strings.Contains(m, k) {
			return true
		}
	}
	return false
}

// gjsonEscape 转义路径中的特殊字符
func gjsonEscape(s string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return r.Replace(s)
}
