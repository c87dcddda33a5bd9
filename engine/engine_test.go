package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/BaSui01/genstudio/config"
	"github.com/BaSui01/genstudio/internal/metrics"
	"github.com/BaSui01/genstudio/llm"
	"github.com/BaSui01/genstudio/llm/credentials"
	"github.com/BaSui01/genstudio/llm/video"
)

// fakeDispatcher 记录请求并返回预设结果
type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
	reply func(model string, req *llm.GenerationRequest) (*llm.GenerationResult, error)
	creds map[llm.ProviderKind]llm.Credential
}

type dispatchCall struct {
	model    string
	provider llm.ProviderKind
	req      llm.GenerationRequest
}

func (f *fakeDispatcher) Dispatch(_ context.Context, model string, provider llm.ProviderKind, req *llm.GenerationRequest) (*llm.GenerationResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, dispatchCall{model: model, provider: provider, req: *req})
	f.mu.Unlock()
	res, err := f.reply(model, req)
	if res != nil {
		res.Provider, res.Model = provider, model
	}
	return res, err
}

func (f *fakeDispatcher) ResolveCredential(_ context.Context, provider llm.ProviderKind) llm.Credential {
	if c, ok := f.creds[provider]; ok {
		return c
	}
	return llm.Credential{Provider: provider}
}

func (f *fakeDispatcher) last() dispatchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func textReply(text string) func(string, *llm.GenerationRequest) (*llm.GenerationResult, error) {
	return func(string, *llm.GenerationRequest) (*llm.GenerationResult, error) {
		return &llm.GenerationResult{Text: text}, nil
	}
}

func newTestEngine(t *testing.T, d *fakeDispatcher, opts ...Option) *Engine {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Video.PollInterval = 2 * time.Millisecond
	cfg.Video.MaxWait = 5 * time.Second
	all := append([]Option{WithDispatcher(d), WithLogger(zaptest.NewLogger(t))}, opts...)
	e, err := New(cfg, all...)
	require.NoError(t, err)
	return e
}

func prompt(text string) *llm.GenerationRequest {
	return &llm.GenerationRequest{Parts: []llm.ContentPart{llm.TextPart(text)}}
}

func gridPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 7, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestNew_Defaults(t *testing.T) {
	e, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultModelsConfig().RoleModels(), e.RoleModels())
	assert.NotNil(t, e.Store())
	assert.Equal(t, 5*time.Second, e.Poller().Config().Interval)
}

func TestNew_InvalidProxy(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HTTP.ProxyURL = "::not a url"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestGenerate_RoutesByRole(t *testing.T) {
	d := &fakeDispatcher{reply: textReply("scene breakdown")}
	e := newTestEngine(t, d)

	res, err := e.Generate(context.Background(), llm.RoleScriptAnalysis, prompt("analyze"))
	require.NoError(t, err)
	assert.Equal(t, "scene breakdown", res.Text)

	call := d.last()
	assert.Equal(t, "gemini-2.5-flash", call.model)
	assert.Equal(t, llm.ProviderGoogle, call.provider)
	assert.False(t, call.req.WantImage)
}

func TestGenerate_UnsupportedRoles(t *testing.T) {
	d := &fakeDispatcher{reply: textReply("x")}
	e := newTestEngine(t, d)
	e.SetRoleModels(map[llm.ModelRole]string{
		llm.RoleAudioGeneration: "some-tts",
		llm.RoleVideoGeneration: "veo-3.0-generate-001",
	})

	_, err := e.Generate(context.Background(), llm.RoleAudioGeneration, prompt("sing"))
	assert.True(t, llm.IsKind(err, llm.ErrProviderUnsupported))
	_, err = e.Generate(context.Background(), llm.RoleVideoGeneration, prompt("film"))
	assert.True(t, llm.IsKind(err, llm.ErrProviderUnsupported))

	_, err = e.Generate(context.Background(), llm.RoleChatAssistant, prompt("hi"))
	assert.True(t, llm.IsKind(err, llm.ErrModelNotFound))
	assert.Empty(t, d.calls)
}

func TestGenerateImage_RequiresImage(t *testing.T) {
	d := &fakeDispatcher{reply: textReply("I cannot draw")}
	e := newTestEngine(t, d)

	_, err := e.GenerateImage(context.Background(), prompt("a castle"))
	assert.True(t, llm.IsKind(err, llm.ErrMalformedResponse))
	assert.True(t, d.last().req.WantImage)
}

func TestSetRoleModels_CopiesAndSwaps(t *testing.T) {
	d := &fakeDispatcher{reply: textReply("ok")}
	e := newTestEngine(t, d)

	m := map[llm.ModelRole]string{llm.RoleChatAssistant: "deepseek-chat"}
	e.SetRoleModels(m)
	m[llm.RoleChatAssistant] = "mutated"

	_, err := e.Generate(context.Background(), llm.RoleChatAssistant, prompt("hi"))
	require.NoError(t, err)
	assert.Equal(t, "deepseek-chat", d.last().model)
	assert.Equal(t, llm.ProviderDeepSeek, d.last().provider)

	// 并发替换与读取
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			e.SetRoleModels(map[llm.ModelRole]string{llm.RoleChatAssistant: "grok-4"})
		}()
		go func() {
			defer wg.Done()
			_, _ = e.Generate(context.Background(), llm.RoleChatAssistant, prompt("hi"))
		}()
	}
	wg.Wait()
}

func TestGenerateGrid_InlineImage(t *testing.T) {
	data := gridPNG(t, 40, 20)
	d := &fakeDispatcher{reply: func(string, *llm.GenerationRequest) (*llm.GenerationResult, error) {
		return &llm.GenerationResult{Image: &llm.InlineImage{MIMEType: "image/png", Data: base64.StdEncoding.EncodeToString(data)}}, nil
	}}
	reg := prometheus.NewRegistry()
	e := newTestEngine(t, d, WithMetrics(metrics.NewCollectorWith("engine_test", reg, zaptest.NewLogger(t))))

	out, err := e.GenerateGrid(context.Background(), prompt("storyboard"), llm.GridSpec{Rows: 2, Cols: 4})
	require.NoError(t, err)
	require.Len(t, out.Panels, 8)
	for i, p := range out.Panels {
		assert.Equal(t, i, p.Index)
		assert.Equal(t, 10, p.Width)
		assert.Equal(t, 10, p.Height)
	}
	assert.Equal(t, 1, out.Panels[1].Col)
	assert.Equal(t, 1, out.Panels[4].Row)
}

func TestGenerateGrid_ImageURL(t *testing.T) {
	data := gridPNG(t, 9, 9)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	d := &fakeDispatcher{reply: func(string, *llm.GenerationRequest) (*llm.GenerationResult, error) {
		return &llm.GenerationResult{Image: &llm.InlineImage{URL: srv.URL + "/grid.png"}}, nil
	}}
	e := newTestEngine(t, d, WithHTTPClient(srv.Client()))

	out, err := e.GenerateGrid(context.Background(), prompt("storyboard"), llm.GridSpec{Rows: 3, Cols: 3})
	require.NoError(t, err)
	assert.Len(t, out.Panels, 9)
}

func TestGenerateGrid_Errors(t *testing.T) {
	d := &fakeDispatcher{reply: func(string, *llm.GenerationRequest) (*llm.GenerationResult, error) {
		return &llm.GenerationResult{Image: &llm.InlineImage{Data: "!!not base64"}}, nil
	}}
	e := newTestEngine(t, d)

	_, err := e.GenerateGrid(context.Background(), prompt("x"), llm.GridSpec{Rows: 0, Cols: 2})
	assert.True(t, llm.IsKind(err, llm.ErrMalformedResponse))
	assert.Empty(t, d.calls)

	_, err = e.GenerateGrid(context.Background(), prompt("x"), llm.GridSpec{Rows: 1, Cols: 1})
	assert.True(t, llm.IsKind(err, llm.ErrMalformedResponse))

	// 图像太小
	tiny := base64.StdEncoding.EncodeToString(gridPNG(t, 2, 2))
	d.reply = func(string, *llm.GenerationRequest) (*llm.GenerationResult, error) {
		return &llm.GenerationResult{Image: &llm.InlineImage{Data: tiny}}, nil
	}
	_, err = e.GenerateGrid(context.Background(), prompt("x"), llm.GridSpec{Rows: 3, Cols: 3})
	var le *llm.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, llm.ErrMalformedResponse, le.Kind)
	assert.Equal(t, "gemini-2.5-flash-image", le.Model)
}

func TestParseStructured(t *testing.T) {
	d := &fakeDispatcher{reply: textReply("Here you go:\n```json\n{\"scenes\": [{\"id\": 1}, {\"id\": 2},]}\n```")}
	e := newTestEngine(t, d)

	v, err := e.ParseStructured(context.Background(), llm.RoleScriptAnalysis, prompt("split into scenes"), `{"scenes":[{"id":number}]}`)
	require.NoError(t, err)
	obj, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Len(t, obj["scenes"], 2)

	call := d.last()
	assert.True(t, call.req.JSONMode)
	require.Len(t, call.req.Parts, 2)
	assert.Contains(t, call.req.Parts[1].Text, `{"scenes":[{"id":number}]}`)
}

func TestDecodeStructured_Typed(t *testing.T) {
	d := &fakeDispatcher{reply: textReply(`[{"name":"Ada","age":36}`)}
	e := newTestEngine(t, d)

	var people []struct {
		Name string `json:"name"`
		Age  int    `json:"age"`
	}
	require.NoError(t, e.DecodeStructured(context.Background(), llm.RoleChatAssistant, prompt("list"), "", &people))
	require.Len(t, people, 1)
	assert.Equal(t, "Ada", people[0].Name)
	assert.Len(t, d.last().req.Parts, 1)
}

func TestParseStructured_Failure(t *testing.T) {
	d := &fakeDispatcher{reply: textReply("no json at all, sorry")}
	e := newTestEngine(t, d)

	_, err := e.ParseStructured(context.Background(), llm.RoleScriptAnalysis, prompt("x"), "")
	var le *llm.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, llm.ErrParseFailure, le.Kind)
	assert.Equal(t, "gemini-2.5-flash", le.Model)
}

func TestParseStructured_DispatchErrorPassesThrough(t *testing.T) {
	d := &fakeDispatcher{reply: func(string, *llm.GenerationRequest) (*llm.GenerationResult, error) {
		return nil, llm.NewError(llm.ErrAuthInvalid, "bad key")
	}}
	e := newTestEngine(t, d)
	_, err := e.ParseStructured(context.Background(), llm.RoleScriptAnalysis, prompt("x"), "")
	assert.True(t, llm.IsKind(err, llm.ErrAuthInvalid))
}

func TestStructuredRequest_DoesNotMutateInput(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		texts := rapid.SliceOfN(rapid.String(), 1, 5).Draw(t, "texts")
		hint := rapid.String().Draw(t, "hint")
		req := &llm.GenerationRequest{}
		for _, s := range texts {
			req.Parts = append(req.Parts, llm.TextPart(s))
		}
		before := append([]llm.ContentPart(nil), req.Parts...)

		out := structuredRequest(req, hint)
		if !out.JSONMode {
			t.Fatal("json mode not set")
		}
		if req.JSONMode {
			t.Fatal("input request was modified")
		}
		if len(req.Parts) != len(before) {
			t.Fatalf("input parts changed: %d -> %d", len(before), len(req.Parts))
		}
		want := len(before)
		if strings.TrimSpace(hint) != "" {
			want++
		}
		if len(out.Parts) != want {
			t.Fatalf("got %d parts, want %d", len(out.Parts), want)
		}
	})
}

// videoBackend 立即完成或按脚本返回
type videoBackend struct {
	submitted []*video.SubmitRequest
	mu        sync.Mutex
	pending   bool
}

func (b *videoBackend) Name() string { return "fake" }

func (b *videoBackend) Submit(_ context.Context, req *video.SubmitRequest) (*video.Snapshot, error) {
	b.mu.Lock()
	b.submitted = append(b.submitted, req)
	b.mu.Unlock()
	if b.pending {
		return &video.Snapshot{TaskID: "task-1", Status: video.StatusPending}, nil
	}
	return &video.Snapshot{TaskID: "task-1", Status: video.StatusSucceeded, ResultURL: "https://cdn.example.com/v.mp4"}, nil
}

func (b *videoBackend) Poll(context.Context, video.Task) (*video.Snapshot, error) {
	return &video.Snapshot{Status: video.StatusPending}, nil
}

func (b *videoBackend) Download(context.Context, video.Task, string) ([]byte, string, error) {
	return []byte("mp4"), "video/mp4", nil
}

func TestRunVideo(t *testing.T) {
	store := credentials.NewStore([]llm.Credential{{ID: "veo-key", Provider: llm.ProviderGoogle, Key: "gk"}},
		credentials.WithEnv(func(string) string { return "" }))
	d := &fakeDispatcher{creds: map[llm.ProviderKind]llm.Credential{
		llm.ProviderGoogle: {ID: "veo-key", Provider: llm.ProviderGoogle, Key: "gk"},
	}}
	b := &videoBackend{}
	var selected llm.ProviderKind
	e := newTestEngine(t, d, WithCredentialStore(store), WithBackendSelector(
		func(p llm.ProviderKind, cred llm.Credential, model string, _ *http.Client) (video.Backend, error) {
			selected = p
			assert.Equal(t, "gk", cred.Key)
			return b, nil
		}))

	job, err := e.RunVideo(context.Background(), &VideoRequest{Prompt: "a cat surfing", DurationSeconds: 8})
	require.NoError(t, err)
	assert.Equal(t, video.StateSucceeded, job.State)
	assert.Equal(t, []byte("mp4"), job.Blob)
	assert.Equal(t, llm.ProviderGoogle, selected)
	require.Len(t, b.submitted, 1)
	assert.Equal(t, "veo-3.0-generate-001", b.submitted[0].Model)
	assert.Equal(t, 8, b.submitted[0].DurationSeconds)
	assert.Equal(t, int64(1), store.Usage("veo-key"))
}

func TestSubmitVideo_CancelStopsPolling(t *testing.T) {
	d := &fakeDispatcher{}
	b := &videoBackend{pending: true}
	e := newTestEngine(t, d, WithBackendSelector(
		func(llm.ProviderKind, llm.Credential, string, *http.Client) (video.Backend, error) { return b, nil }))

	h, err := e.SubmitVideo(context.Background(), &VideoRequest{Model: "seedance-1.0-pro", Prompt: "rain"})
	require.NoError(t, err)
	h.Cancel()
	job, err := h.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, video.StateFailed, job.State)
	assert.Equal(t, llm.ProviderJimeng, job.Provider)
}

func TestSubmitVideo_UnsupportedProvider(t *testing.T) {
	d := &fakeDispatcher{}
	e := newTestEngine(t, d)
	_, err := e.SubmitVideo(context.Background(), &VideoRequest{Model: "claude-sonnet-4-5", Prompt: "x"})
	assert.True(t, llm.IsKind(err, llm.ErrProviderUnsupported))

	_, err = e.SubmitVideo(context.Background(), nil)
	assert.Error(t, err)

	e.SetRoleModels(nil)
	_, err = e.RunVideo(context.Background(), &VideoRequest{Prompt: "x"})
	assert.True(t, llm.IsKind(err, llm.ErrModelNotFound))
}

func TestSubmitVideo_BackendError(t *testing.T) {
	d := &fakeDispatcher{}
	e := newTestEngine(t, d, WithBackendSelector(
		func(llm.ProviderKind, llm.Credential, string, *http.Client) (video.Backend, error) {
			return nil, errors.New("boom")
		}))
	_, err := e.SubmitVideo(context.Background(), &VideoRequest{Model: "veo-3.0-generate-001", Prompt: "x"})
	var le *llm.Error
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "veo-3.0-generate-001", le.Model)
}
