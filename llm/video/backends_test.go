package video

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/BaSui01/genstudio/llm"
)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in   any
		want Status
	}{
		{nil, StatusPending},
		{"SUCCEEDED", StatusSucceeded},
		{"completed", StatusSucceeded},
		{"done", StatusSucceeded},
		{"Failed", StatusFailed},
		{"error", StatusFailed},
		{"expired", StatusFailed},
		{"running", StatusPending},
		{"in_queue", StatusPending},
		{10, StatusSucceeded},
		{30, StatusFailed},
		{20, StatusPending},
		{float64(10), StatusSucceeded},
		{int64(30), StatusFailed},
		{json.Number("10"), StatusSucceeded},
		{"30", StatusFailed},
		{gjson.Parse(`10`), StatusSucceeded},
		{gjson.Parse(`"failure"`), StatusFailed},
		{StatusFailed, StatusFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeStatus(tt.in), "input %v", tt.in)
	}
}

func TestSnapshotFromJSON(t *testing.T) {
	s := SnapshotFromJSON([]byte(`{"id":"t1","status":"processing"}`))
	assert.Equal(t, "t1", s.TaskID)
	assert.Equal(t, StatusPending, s.Status)

	s = SnapshotFromJSON([]byte(`{"status":"failed","error_message":"x"}`))
	assert.Equal(t, StatusFailed, s.Status)
	assert.Equal(t, "x", s.ErrorMessage)

	// 只有 URL 没有状态字段的同步响应
	s = SnapshotFromJSON([]byte(`{"data":{"video_url":"https://cdn/v.mp4"}}`))
	assert.Equal(t, StatusSucceeded, s.Status)
	assert.Equal(t, "https://cdn/v.mp4", s.ResultURL)

	s = SnapshotFromJSON([]byte(`{"task_id":"t2","status":"success","output":{"video_url":"https://cdn/o.mp4"}}`))
	assert.Equal(t, StatusSucceeded, s.Status)
	assert.Equal(t, "https://cdn/o.mp4", s.ResultURL)

	s = SnapshotFromJSON([]byte(`{"status":"success","choices":[{"finish_reason":"content_filter"}]}`))
	assert.Equal(t, StatusFailed, s.Status)
	assert.True(t, s.PolicyRejected)
}

func TestVolcSigner_KnownAnswer(t *testing.T) {
	body := []byte(`{"req_key":"jimeng_t2v_v30"}`)
	newReq := func(b []byte) *http.Request {
		r, err := http.NewRequest(http.MethodPost,
			"https://visual.volcengineapi.com/?Action=CVSync2AsyncSubmitTask&Version=2022-08-31", bytes.NewReader(b))
		require.NoError(t, err)
		r.Header.Set("Content-Type", "application/json")
		return r
	}
	s := newVolcSigner("AK", "SK")
	s.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	r1 := newReq(body)
	s.Sign(r1, body)
	assert.Equal(t, "20240102T030405Z", r1.Header.Get("X-Date"))
	assert.Equal(t, "35a80ef09335c09ecd16b019c98178a01bebbb03a4716ee0e4d7ed31e328b3f4", r1.Header.Get("X-Content-Sha256"))
	assert.Equal(t,
		"HMAC-SHA256 Credential=AK/20240102/cn-north-1/cv/request, "+
			"SignedHeaders=content-type;host;x-content-sha256;x-date, "+
			"Signature=ea40112b12a6fd23b83abfe642dc6794c405c1412d7413fac45049b4efedf029",
		r1.Header.Get("Authorization"))

	r2 := newReq(body)
	s.Sign(r2, body)
	assert.Equal(t, r1.Header.Get("Authorization"), r2.Header.Get("Authorization"))

	other := []byte(`{"req_key":"jimeng_i2v_first_v30"}`)
	r3 := newReq(other)
	s.Sign(r3, other)
	assert.NotEqual(t, r1.Header.Get("Authorization"), r3.Header.Get("Authorization"))
}

func TestBackendFor(t *testing.T) {
	tests := []struct {
		provider llm.ProviderKind
		baseURL  string
		want     string
	}{
		{llm.ProviderGoogle, "", "veo"},
		{llm.ProviderGoogle, "https://relay.example.com", "relay"},
		{llm.ProviderJimeng, "", "jimeng"},
		{llm.ProviderJimengWeb, "", "jimeng_web"},
		{llm.ProviderQwen, "https://dashscope.example.com", "relay"},
		{llm.ProviderOther, "https://relay.example.com", "relay"},
	}
	for _, tt := range tests {
		b, err := BackendFor(tt.provider, llm.Credential{BaseURL: tt.baseURL}, "m", nil)
		require.NoError(t, err)
		assert.Equal(t, tt.want, b.Name())
	}

	for _, p := range []llm.ProviderKind{llm.ProviderAnthropic, llm.ProviderDeepSeek, llm.ProviderXAI} {
		_, err := BackendFor(p, llm.Credential{}, "m", nil)
		assert.True(t, llm.IsKind(err, llm.ErrProviderUnsupported), p)
	}
}

func TestJimengReqKey(t *testing.T) {
	img := &llm.InlineData{MIMEType: "image/png", Data: "AAAA"}
	assert.Equal(t, "jimeng_t2v_v30", jimengReqKey(&SubmitRequest{Model: "jimeng-video-3.0"}))
	assert.Equal(t, "jimeng_i2v_first_v30", jimengReqKey(&SubmitRequest{Model: "jimeng-video-3.0", Image: img}))
	assert.Equal(t, "jimeng_i2v_first_tail_v30", jimengReqKey(&SubmitRequest{Image: img, EndImage: img}))
	assert.Equal(t, "jimeng_ti2v_v30_pro", jimengReqKey(&SubmitRequest{Model: "jimeng_ti2v_v30_pro", Image: img}))
}

func TestVeoBackend_EndToEnd(t *testing.T) {
	var polls atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gk", r.Header.Get("x-goog-api-key"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1beta/models/veo-3.1:predictLongRunning":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "a cat surfing", gjsonGet(body, "instances.0.prompt"))
			assert.Equal(t, "16:9", gjsonGet(body, "parameters.aspectRatio"))
			_, _ = w.Write([]byte(`{"name":"models/veo-3.1/operations/op1"}`))
		case r.URL.Path == "/v1beta/models/veo-3.1/operations/op1":
			if polls.Add(1) < 2 {
				_, _ = w.Write([]byte(`{"name":"models/veo-3.1/operations/op1","done":false}`))
				return
			}
			_, _ = w.Write([]byte(`{"done":true,"response":{"generateVideoResponse":{"generatedSamples":[{"video":{"uri":"` +
				srv.URL + `/v1beta/files/f1:download?alt=media"}}]}}}`))
		case r.URL.Path == "/v1beta/files/f1:download":
			w.Header().Set("Content-Type", "video/mp4")
			_, _ = w.Write([]byte("veo-bytes"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	req := testRequest()
	req.Credential = llm.Credential{ID: "g", Provider: llm.ProviderGoogle, Key: "gk"}
	req.AspectRatio = "16:9"

	job, err := fastPoller().Run(context.Background(), NewVeoBackend(srv.Client(), srv.URL), req)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, job.State)
	assert.Equal(t, "models/veo-3.1/operations/op1", job.TaskID)
	assert.Equal(t, []byte("veo-bytes"), job.Blob)
	assert.Equal(t, "video/mp4", job.MIMEType)
	assert.True(t, job.Visited(StatePolling))
}

func TestVeoBackend_RAIFiltered(t *testing.T) {
	snap := veoSnapshot([]byte(`{"done":true,"response":{"generateVideoResponse":{"raiMediaFilteredCount":1,"raiMediaFilteredReasons":["celebrity"]}}}`))
	assert.Equal(t, StatusFailed, snap.Status)
	assert.True(t, snap.PolicyRejected)

	snap = veoSnapshot([]byte(`{"done":true,"error":{"code":500,"message":"internal"}}`))
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "internal", snap.ErrorMessage)
	assert.False(t, snap.PolicyRejected)
}

func TestJimengBackend_EndToEnd(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v.mp4" {
			_, _ = w.Write([]byte("jimeng-bytes"))
			return
		}
		assert.True(t, strings.HasPrefix(r.Header.Get("Authorization"), "HMAC-SHA256 Credential=ak/"))
		assert.NotEmpty(t, r.Header.Get("X-Date"))
		assert.Equal(t, "2022-08-31", r.URL.Query().Get("Version"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "jimeng_t2v_v30", body["req_key"])

		switch r.URL.Query().Get("Action") {
		case "CVSync2AsyncSubmitTask":
			assert.Equal(t, "a cat surfing", body["prompt"])
			_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"task_id":"tid"}}`))
		case "CVSync2AsyncGetResult":
			assert.Equal(t, "tid", body["task_id"])
			_, _ = w.Write([]byte(`{"code":10000,"message":"Success","data":{"status":"done","video_url":"` + srv.URL + `/v.mp4"}}`))
		}
	}))
	defer srv.Close()

	req := &SubmitRequest{
		Model:      "jimeng-video-3.0",
		Provider:   llm.ProviderJimeng,
		Prompt:     "a cat surfing",
		Credential: llm.Credential{Key: "ak", Secret: "sk", BaseURL: srv.URL},
	}
	job, err := fastPoller().Run(context.Background(), NewJimengBackend(srv.Client()), req)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/v.mp4", job.ResultURL)
	assert.Equal(t, []byte("jimeng-bytes"), job.Blob)
}

func TestJimengBackend_RiskRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("Action") {
		case "CVSync2AsyncSubmitTask":
			_, _ = w.Write([]byte(`{"code":10000,"data":{"task_id":"tid"}}`))
		default:
			_, _ = w.Write([]byte(`{"code":50413,"message":"Post Text Risk Not Pass"}`))
		}
	}))
	defer srv.Close()

	req := &SubmitRequest{
		Model:      "jimeng-video-3.0",
		Provider:   llm.ProviderJimeng,
		Prompt:     "x",
		Credential: llm.Credential{Key: "ak", Secret: "sk", BaseURL: srv.URL},
	}
	job, err := fastPoller().Run(context.Background(), NewJimengBackend(srv.Client()), req)
	assert.True(t, llm.IsKind(err, llm.ErrContentPolicyRejected))
	assert.Equal(t, StateFailed, job.State)
}

func TestJimengBackend_MissingSecret(t *testing.T) {
	_, err := NewJimengBackend(nil).Submit(context.Background(), &SubmitRequest{Credential: llm.Credential{Key: "ak"}})
	assert.True(t, llm.IsKind(err, llm.ErrAuthInvalid))
}

func jimengWebServer(t *testing.T, history string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sessionid=sess", r.Header.Get("Cookie"))
		assert.Equal(t, "513695", r.URL.Query().Get("aid"))
		switch r.URL.Path {
		case "/mweb/v1/aigc_draft/generate":
			var body map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			draft, _ := body["draft_content"].(string)
			assert.Contains(t, draft, "a cat surfing")
			_, _ = w.Write([]byte(`{"ret":"0","data":{"aigc_data":{"history_record_id":"h1"}}}`))
		case "/mweb/v1/get_history_by_ids":
			_, _ = w.Write([]byte(history))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestJimengWebBackend_Failure(t *testing.T) {
	srv := jimengWebServer(t, `{"ret":"0","data":{"h1":{"status":30,"fail_msg":"prompt contains sensitive content"}}}`)
	defer srv.Close()

	req := &SubmitRequest{
		Model:      "jimeng-web",
		Provider:   llm.ProviderJimengWeb,
		Prompt:     "a cat surfing",
		Credential: llm.Credential{Key: "sess", BaseURL: srv.URL},
	}
	job, err := fastPoller().Run(context.Background(), NewJimengWebBackend(srv.Client()), req)
	assert.True(t, llm.IsKind(err, llm.ErrContentPolicyRejected))
	assert.Equal(t, "prompt contains sensitive content", job.Err.Detail)
}

func TestJimengWebBackend_Success(t *testing.T) {
	srv := jimengWebServer(t, `{"ret":"0","data":{"h1":{"status":10,"item_list":[{"video":{"transcoded_video":{"origin":{"video_url":"https://cdn.example.com/w.mp4"}}}}]}}}`)
	defer srv.Close()

	req := &SubmitRequest{
		Model:      "jimeng-web",
		Provider:   llm.ProviderJimengWeb,
		Prompt:     "a cat surfing",
		Credential: llm.Credential{Key: "sess", BaseURL: srv.URL},
	}
	p := NewPoller(PollerConfig{Interval: 2 * time.Millisecond, SkipDownload: true}, nil)
	job, err := p.Run(context.Background(), NewJimengWebBackend(srv.Client()), req)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/w.mp4", job.ResultURL)
}

func TestJimengWebBackend_Errors(t *testing.T) {
	_, err := NewJimengWebBackend(nil).Submit(context.Background(), &SubmitRequest{
		Credential: llm.Credential{Key: "sess"},
		Image:      &llm.InlineData{MIMEType: "image/png", Data: "AAAA"},
	})
	assert.True(t, llm.IsKind(err, llm.ErrProviderUnsupported))

	assert.True(t, llm.IsKind(jimengWebCheck([]byte(`{"ret":"1014","errmsg":"not login"}`), "m"), llm.ErrAuthInvalid))
	assert.NoError(t, jimengWebCheck([]byte(`{"ret":"0"}`), "m"))
}

func TestRelayBackend_EndToEnd(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer rk", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/video/generations":
			var body relayRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "data:image/png;base64,AAAA", body.Image)
			_, _ = w.Write([]byte(`{"id":"vid1","status":"queued"}`))
		case r.URL.Path == "/v1/video/generations/vid1":
			_, _ = w.Write([]byte(`{"id":"vid1","status":"succeeded","video_url":"` + srv.URL + `/out.mp4"}`))
		case r.URL.Path == "/out.mp4":
			_, _ = w.Write([]byte("relay-bytes"))
		}
	}))
	defer srv.Close()

	req := &SubmitRequest{
		Model:      "sora-2",
		Provider:   llm.ProviderOther,
		Prompt:     "a cat surfing",
		Image:      &llm.InlineData{MIMEType: "image/png", Data: "AAAA"},
		Credential: llm.Credential{Key: "rk", BaseURL: srv.URL},
	}
	job, err := fastPoller().Run(context.Background(), NewRelayBackend(srv.Client(), llm.ProviderOther), req)
	require.NoError(t, err)
	assert.Equal(t, "vid1", job.TaskID)
	assert.Equal(t, []byte("relay-bytes"), job.Blob)
}

func TestRelayBackend_RequiresBaseURL(t *testing.T) {
	_, err := NewRelayBackend(nil, llm.ProviderQwen).Submit(context.Background(), &SubmitRequest{Model: "wan"})
	assert.True(t, llm.IsKind(err, llm.ErrProviderUnsupported))
}

func gjsonGet(v any, path string) string {
	data, _ := json.Marshal(v)
	return gjson.GetBytes(data, path).String()
}
