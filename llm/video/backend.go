// Package video 实现异步视频生成任务：提交、按固定间隔轮询、归一化状态、下载结果。
//
// 三种后端共享同一个状态机（IDLE → SUBMITTED → POLLING → SUCCEEDED | FAILED）：
// Google Veo（predictLongRunning + operations）、即梦签名 API（火山引擎视觉服务）
// 与即梦网页 API（会话 Cookie、数字状态码）。另有一个面向中转服务的通用 HTTP 后端。
package video

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/BaSui01/genstudio/llm"
	"github.com/BaSui01/genstudio/llm/providers"
)

// maxVideoBytes 下载视频的大小上限
const maxVideoBytes = 512 << 20

// Backend 是一个视频生成后端的线协议实现。
type Backend interface {
	// Name 返回后端标识（日志与指标）。
	Name() string

	// Submit 提交任务。返回的 Snapshot 可能已经是终态（同步完成的后端）。
	Submit(ctx context.Context, req *SubmitRequest) (*Snapshot, error)

	// Poll 查询任务状态。
	Poll(ctx context.Context, task Task) (*Snapshot, error)

	// Download 下载结果视频，返回数据与 MIME 类型。
	Download(ctx context.Context, task Task, url string) ([]byte, string, error)
}

// SubmitRequest 视频生成请求
type SubmitRequest struct {
	Model      string           `json:"model"`
	Provider   llm.ProviderKind `json:"provider"`
	Credential llm.Credential   `json:"-"`

	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`

	// Image 首帧参考图，EndImage 尾帧（插帧模式）
	Image    *llm.InlineData `json:"image,omitempty"`
	EndImage *llm.InlineData `json:"end_image,omitempty"`

	DurationSeconds int    `json:"duration_seconds,omitempty"`
	AspectRatio     string `json:"aspect_ratio,omitempty"`
	Resolution      string `json:"resolution,omitempty"`
}

// Task 标识一个已提交的任务，轮询与下载时使用。
type Task struct {
	ID         string
	Model      string
	Credential llm.Credential
}

// Status 归一化后的任务状态
type Status int

const (
	StatusPending Status = iota
	StatusSucceeded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Snapshot 是后端一次提交或轮询响应的归一化视图。
type Snapshot struct {
	TaskID    string
	Status    Status
	RawStatus string
	ResultURL string

	// 部分后端直接在响应中内联视频数据
	Blob     []byte
	MIMEType string

	ErrorMessage   string
	PolicyRejected bool

	Raw json.RawMessage
}

// NormalizeStatus 把后端的字符串或数字状态归一化。
// success/succeeded/completed/done/10 → 成功；failed/failure/error/30 → 失败；其余继续轮询。
func NormalizeStatus(v any) Status {
	switch s := v.(type) {
	case nil:
		return StatusPending
	case Status:
		return s
	case int:
		return normalizeCode(int64(s))
	case int64:
		return normalizeCode(s)
	case float64:
		return normalizeCode(int64(s))
	case json.Number:
		if n, err := s.Int64(); err == nil {
			return normalizeCode(n)
		}
		return normalizeString(s.String())
	case string:
		return normalizeString(s)
	case gjson.Result:
		if s.Type == gjson.Number {
			return normalizeCode(s.Int())
		}
		return normalizeString(s.String())
	default:
		return normalizeString(fmt.Sprint(v))
	}
}

func normalizeCode(n int64) Status {
	switch n {
	case 10:
		return StatusSucceeded
	case 30:
		return StatusFailed
	default:
		return StatusPending
	}
}

func normalizeString(s string) Status {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "success", "succeeded", "succeed", "successful", "completed", "complete", "done", "finished":
		return StatusSucceeded
	case "failed", "failure", "fail", "error", "cancelled", "canceled", "expired", "not_found":
		return StatusFailed
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return normalizeCode(n)
	}
	return StatusPending
}

// 结果 URL 可能出现的字段，按顺序查找
var resultURLPaths = []string{
	"video_url",
	"videoUrl",
	"result_url",
	"resultUrl",
	"url",
	"output.video_url",
	"output.url",
	"data.video_url",
	"data.url",
	"data.result_url",
	"data.output.video_url",
	"data.video.url",
	"data.videos.0.url",
	"result.video_url",
	"result.url",
	"videos.0.url",
	"videos.0.uri",
	"output.0",
	"response.generateVideoResponse.generatedSamples.0.video.uri",
	"response.generatedVideos.0.video.uri",
}

// FindResultURL 在响应体中查找视频 URL。
func FindResultURL(raw []byte) string {
	for _, p := range resultURLPaths {
		r := gjson.GetBytes(raw, p)
		if r.Type == gjson.String && looksLikeURL(r.String()) {
			return r.String()
		}
	}
	return ""
}

var statusPaths = []string{"status", "state", "task_status", "data.status", "data.task_status", "output.task_status", "result.status"}

// FindStatus 在响应体中查找状态字段。
func FindStatus(raw []byte) gjson.Result {
	for _, p := range statusPaths {
		if r := gjson.GetBytes(raw, p); r.Exists() && (r.Type == gjson.String || r.Type == gjson.Number) {
			return r
		}
	}
	return gjson.Result{}
}

var errorPaths = []string{"error_message", "errorMessage", "error.message", "fail_reason", "failure_reason", "data.error_message", "data.fail_reason", "output.message", "message", "error"}

// FindErrorMessage 在响应体中查找错误信息。
func FindErrorMessage(raw []byte) string {
	for _, p := range errorPaths {
		if r := gjson.GetBytes(raw, p); r.Type == gjson.String && r.String() != "" {
			return r.String()
		}
	}
	return ""
}

var taskIDPaths = []string{"task_id", "taskId", "id", "data.task_id", "data.id", "output.task_id", "name"}

// FindTaskID 在提交响应中查找任务 ID。
func FindTaskID(raw []byte) string {
	for _, p := range taskIDPaths {
		if r := gjson.GetBytes(raw, p); r.Exists() && r.String() != "" && (r.Type == gjson.String || r.Type == gjson.Number) {
			return r.String()
		}
	}
	return ""
}

// SnapshotFromJSON 通用响应解析：状态、URL、错误信息、安全拒绝。
func SnapshotFromJSON(raw []byte) *Snapshot {
	snap := &Snapshot{Raw: append(json.RawMessage(nil), raw...)}
	snap.TaskID = FindTaskID(raw)
	status := FindStatus(raw)
	snap.RawStatus = status.String()
	snap.Status = NormalizeStatus(status)
	snap.ResultURL = FindResultURL(raw)
	if snap.Status == StatusPending && !status.Exists() && snap.ResultURL != "" {
		snap.Status = StatusSucceeded
	}
	if snap.Status == StatusFailed {
		snap.ErrorMessage = FindErrorMessage(raw)
	}
	if detail, ok := llm.ClassifyPayload(raw); ok {
		snap.Status = StatusFailed
		snap.PolicyRejected = true
		if snap.ErrorMessage == "" {
			snap.ErrorMessage = detail
		}
	}
	return snap
}

func looksLikeURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// download 下载视频，MIME 优先取 Content-Type，否则按内容嗅探。
func download(ctx context.Context, client *http.Client, url string, headers func(*http.Request)) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	if headers != nil {
		headers(req)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download video: %w", err)
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("download video: status=%d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxVideoBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read video body: %w", err)
	}
	mime := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}
