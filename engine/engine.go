// Package engine 是 genstudio 的入站 API：把角色映射到模型，
// 经 ProviderResolver 与 Dispatcher 完成文本/图像生成，
// 并在其上提供结构化解析、拼图切分和视频任务。
package engine

import (
	"context"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BaSui01/genstudio/config"
	"github.com/BaSui01/genstudio/internal/httpx"
	"github.com/BaSui01/genstudio/internal/metrics"
	"github.com/BaSui01/genstudio/llm"
	"github.com/BaSui01/genstudio/llm/credentials"
	"github.com/BaSui01/genstudio/llm/dispatch"
	"github.com/BaSui01/genstudio/llm/image"
	"github.com/BaSui01/genstudio/llm/video"
)

// Dispatcher 发送单次生成请求。*dispatch.Dispatcher 实现了该接口。
type Dispatcher interface {
	Dispatch(ctx context.Context, model string, provider llm.ProviderKind, req *llm.GenerationRequest) (*llm.GenerationResult, error)
	ResolveCredential(ctx context.Context, provider llm.ProviderKind) llm.Credential
}

// BackendSelector 为视频任务选择后端，默认 video.BackendFor。
type BackendSelector func(provider llm.ProviderKind, cred llm.Credential, model string, client *http.Client) (video.Backend, error)

// Engine 并发安全。角色映射可以在运行时整体替换。
type Engine struct {
	models     atomic.Pointer[map[llm.ModelRole]string]
	resolve    func(modelID string) llm.ProviderKind
	dispatcher Dispatcher
	store      llm.CredentialStore
	client     *http.Client
	poller     *video.Poller
	backendFor BackendSelector
	sliceOpts  []image.Option
	logger     *zap.Logger
	metrics    *metrics.Collector
}

// Option 配置 Engine。
type Option func(*Engine)

// WithLogger 设置日志记录器。
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器，同时传给默认的分发器和轮询器。
func WithMetrics(c *metrics.Collector) Option { return func(e *Engine) { e.metrics = c } }

// WithCredentialStore 替换由配置构造的凭据仓库（例如合并了数据库凭据的 Store）。
func WithCredentialStore(s llm.CredentialStore) Option { return func(e *Engine) { e.store = s } }

// WithHTTPClient 替换由配置构造的 HTTP 客户端。
func WithHTTPClient(c *http.Client) Option { return func(e *Engine) { e.client = c } }

// WithDispatcher 替换默认分发器。
func WithDispatcher(d Dispatcher) Option { return func(e *Engine) { e.dispatcher = d } }

// WithBackendSelector 替换视频后端选择。
func WithBackendSelector(s BackendSelector) Option { return func(e *Engine) { e.backendFor = s } }

// WithResolver 替换模型到 Provider 的解析函数。
func WithResolver(r func(string) llm.ProviderKind) Option { return func(e *Engine) { e.resolve = r } }

// WithSliceOptions 设置拼图切分选项（输出格式、并发度）。
func WithSliceOptions(opts ...image.Option) Option {
	return func(e *Engine) { e.sliceOpts = append(e.sliceOpts, opts...) }
}

// New 用显式配置创建引擎。cfg 为 nil 时使用默认配置。
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	e := &Engine{
		resolve:    llm.ResolveProvider,
		backendFor: video.BackendFor,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	base := e.logger
	e.logger = base.With(zap.String("component", "engine"))

	if e.client == nil {
		client, err := httpx.NewClient(httpx.Options{Timeout: cfg.HTTP.Timeout, ProxyURL: cfg.HTTP.ProxyURL})
		if err != nil {
			return nil, llm.NewError(llm.ErrNetworkUnreachable, "invalid HTTP client configuration: "+err.Error()).WithCause(err)
		}
		e.client = client
	}
	if e.store == nil {
		e.store = credentials.NewStore(cfg.LLMCredentials(), credentials.WithLogger(base))
	}
	if e.dispatcher == nil {
		e.dispatcher = dispatch.New(e.store, e.client, base, dispatch.WithMetrics(e.metrics))
	}
	e.poller = video.NewPoller(video.PollerConfig{
		Interval:     cfg.Video.PollInterval,
		MaxAttempts:  cfg.Video.MaxAttempts,
		MaxWait:      cfg.Video.MaxWait,
		SkipDownload: cfg.Video.SkipDownload,
	}, base, video.WithMetrics(e.metrics))

	e.SetRoleModels(cfg.Models.RoleModels())
	return e, nil
}

// SetRoleModels 原子地替换角色映射。传入的 map 会被复制。
func (e *Engine) SetRoleModels(models map[llm.ModelRole]string) {
	cp := make(map[llm.ModelRole]string, len(models))
	for role, model := range models {
		cp[role] = model
	}
	e.models.Store(&cp)
}

// RoleModels 返回当前角色映射的副本。
func (e *Engine) RoleModels() map[llm.ModelRole]string {
	cur := e.models.Load()
	cp := make(map[llm.ModelRole]string, len(*cur))
	for role, model := range *cur {
		cp[role] = model
	}
	return cp
}

// ModelFor 返回角色当前的模型与 Provider。
func (e *Engine) ModelFor(role llm.ModelRole) (string, llm.ProviderKind, error) {
	model := (*e.models.Load())[role]
	if model == "" {
		return "", "", llm.NewError(llm.ErrModelNotFound,
			"no model is configured for role "+string(role)+"; set models."+string(role)+" in the configuration")
	}
	return model, e.resolve(model), nil
}

// Store 返回引擎使用的凭据仓库。
func (e *Engine) Store() llm.CredentialStore { return e.store }

// Poller 返回视频轮询器。
func (e *Engine) Poller() *video.Poller { return e.poller }
