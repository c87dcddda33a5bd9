// Package dispatch 把一次归一化请求路由到具体的传输层：
// 解析凭据（context 覆盖优先）、按 Provider 与凭据形态选择适配器、
// 可选的按凭据限流，成功后恰好上报一次用量。
package dispatch

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/genstudio/internal/metrics"
	"github.com/BaSui01/genstudio/llm"
	"github.com/BaSui01/genstudio/llm/providers/anthropic"
	"github.com/BaSui01/genstudio/llm/providers/gemini"
	"github.com/BaSui01/genstudio/llm/providers/openai"
	"github.com/BaSui01/genstudio/llm/providers/openaicompat"
)

const instrumentationName = "github.com/BaSui01/genstudio/llm/dispatch"

// RateLimiter 按凭据阻塞到允许下一次调用。credentials.Store 实现了该接口。
type RateLimiter interface {
	Wait(ctx context.Context, credentialID string) error
}

// Dispatcher 是并发安全的请求分发器。
type Dispatcher struct {
	store   llm.CredentialStore
	limiter RateLimiter
	logger  *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer

	google    llm.Transport
	compat    llm.Transport
	anthropic llm.Transport
	images    llm.Transport

	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

// Option 配置 Dispatcher。
type Option func(*Dispatcher)

// WithGoogleTransport 替换 Gemini SDK 传输层。
func WithGoogleTransport(t llm.Transport) Option { return func(d *Dispatcher) { d.google = t } }

// WithCompatTransport 替换 OpenAI 兼容传输层。
func WithCompatTransport(t llm.Transport) Option { return func(d *Dispatcher) { d.compat = t } }

// WithAnthropicTransport 替换 Anthropic 传输层。
func WithAnthropicTransport(t llm.Transport) Option { return func(d *Dispatcher) { d.anthropic = t } }

// WithImagesTransport 替换 OpenAI Images 传输层。
func WithImagesTransport(t llm.Transport) Option { return func(d *Dispatcher) { d.images = t } }

// WithRateLimiter 设置按凭据限流器。
func WithRateLimiter(l RateLimiter) Option { return func(d *Dispatcher) { d.limiter = l } }

// WithMetrics 设置 Prometheus 指标收集器。
func WithMetrics(c *metrics.Collector) Option { return func(d *Dispatcher) { d.metrics = c } }

// New 创建分发器。client 用于默认传输层，可以为 nil。
func New(store llm.CredentialStore, client *http.Client, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		store:     store,
		logger:    logger.With(zap.String("component", "dispatcher")),
		tracer:    otel.Tracer(instrumentationName),
		google:    gemini.New(client, logger),
		compat:    openaicompat.New(client, logger),
		anthropic: anthropic.New(client, logger),
		images:    openai.New(client, logger, ""),
	}
	if l, ok := store.(RateLimiter); ok {
		d.limiter = l
	}
	for _, opt := range opts {
		opt(d)
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if d.requests, err = meter.Int64Counter("genstudio.dispatch.requests",
		metric.WithDescription("Dispatched generation requests"),
		metric.WithUnit("{request}")); err != nil {
		d.logger.Warn("failed to create request counter", zap.Error(err))
	}
	if d.latency, err = meter.Float64Histogram("genstudio.dispatch.duration",
		metric.WithDescription("Generation request latency"),
		metric.WithUnit("s")); err != nil {
		d.logger.Warn("failed to create latency histogram", zap.Error(err))
	}
	return d
}

// SelectTransport 选择适配器：
//
//	google + 空 BaseURL          → Gemini SDK
//	google + BaseURL             → OpenAI 兼容（自建代理）
//	openai 图像模型（WantImage）  → Images API
//	openai/deepseek/xai/qwen/jimeng/other → OpenAI 兼容
//	anthropic                    → Anthropic SDK
//	jimeng_web                   → provider_unsupported
func (d *Dispatcher) SelectTransport(provider llm.ProviderKind, cred llm.Credential, model string, req *llm.GenerationRequest) (llm.Transport, error) {
	switch provider {
	case llm.ProviderGoogle:
		if cred.HasBaseURL() {
			return d.compat, nil
		}
		return d.google, nil
	case llm.ProviderAnthropic:
		return d.anthropic, nil
	case llm.ProviderOpenAI:
		if req != nil && req.WantImage && openai.IsImageModel(model) {
			return d.images, nil
		}
		return d.compat, nil
	case llm.ProviderDeepSeek, llm.ProviderXAI, llm.ProviderQwen, llm.ProviderJimeng, llm.ProviderOther:
		return d.compat, nil
	case llm.ProviderJimengWeb:
		return nil, llm.Unsupported(provider, model, "synchronous text or image generation")
	default:
		return nil, llm.Unsupported(provider, model, "generation")
	}
}

// ResolveCredential context 中的覆盖信息优先于 Store。
// 找不到凭据时返回空凭据，调用会在传输层以 auth_invalid 失败。
func (d *Dispatcher) ResolveCredential(ctx context.Context, provider llm.ProviderKind) llm.Credential {
	var cred llm.Credential
	if d.store != nil {
		if c, ok := d.store.Resolve(provider); ok {
			cred = c
		}
	}
	if cred.Provider == "" {
		cred.Provider = provider
	}
	if ov, ok := llm.CredentialOverrideFromContext(ctx); ok {
		cred = ov.Apply(cred)
	}
	return cred
}

// Dispatch 发送请求。返回的错误总是 *llm.Error。
func (d *Dispatcher) Dispatch(ctx context.Context, model string, provider llm.ProviderKind, req *llm.GenerationRequest) (*llm.GenerationResult, error) {
	if req == nil || len(req.Parts) == 0 {
		return nil, &llm.Error{Kind: llm.ErrUnknown, Detail: "generation request has no content parts", Provider: provider, Model: model}
	}

	cred := d.ResolveCredential(ctx, provider)
	transport, err := d.SelectTransport(provider, cred, model, req)
	if err != nil {
		d.record(ctx, provider, "none", llm.KindOf(err), 0)
		return nil, err
	}

	ctx, span := d.tracer.Start(ctx, "llm.dispatch", trace.WithAttributes(
		attribute.String("llm.provider", string(provider)),
		attribute.String("llm.model", model),
		attribute.String("llm.transport", transport.Name()),
		attribute.String("llm.credential_id", cred.ID)))
	defer span.End()

	if d.limiter != nil && cred.ID != "" {
		if err := d.limiter.Wait(ctx, cred.ID); err != nil {
			e := llm.Classify(err, provider, model)
			span.SetStatus(codes.Error, e.Detail)
			d.record(ctx, provider, transport.Name(), e.Kind, 0)
			return nil, e
		}
	}

	start := time.Now()
	res, err := transport.Generate(ctx, &llm.Call{Model: model, Provider: provider, Credential: cred, Request: req})
	elapsed := time.Since(start)
	if err != nil {
		e := llm.Classify(err, provider, model)
		span.SetStatus(codes.Error, e.Detail)
		span.SetAttributes(attribute.String("llm.error_kind", string(e.Kind)))
		d.record(ctx, provider, transport.Name(), e.Kind, elapsed)
		d.logger.Warn("generation failed",
			zap.String("provider", string(provider)),
			zap.String("model", model),
			zap.String("transport", transport.Name()),
			zap.String("kind", string(e.Kind)),
			zap.Duration("latency", elapsed),
			zap.Error(e.Cause))
		return nil, e
	}

	if res.Usage.CredentialID == "" {
		res.Usage = llm.UsageEvent{CredentialID: cred.ID, Provider: provider, Model: model}
	}
	d.report(res.Usage)
	span.SetStatus(codes.Ok, "")
	d.record(ctx, provider, transport.Name(), "", elapsed)
	d.logger.Debug("generation finished",
		zap.String("provider", string(provider)),
		zap.String("model", model),
		zap.String("transport", transport.Name()),
		zap.Bool("image", res.Image != nil),
		zap.Duration("latency", elapsed))
	return res, nil
}

// report 成功调用恰好上报一次
func (d *Dispatcher) report(u llm.UsageEvent) {
	if u.CredentialID == "" {
		return
	}
	if d.store != nil {
		d.store.ReportUsage(u.CredentialID)
	}
	d.metrics.RecordCredentialUsage(string(u.Provider), u.CredentialID)
}

func (d *Dispatcher) record(ctx context.Context, provider llm.ProviderKind, transport string, kind llm.ErrorKind, elapsed time.Duration) {
	outcome := "ok"
	if kind != "" {
		outcome = string(kind)
	}
	d.metrics.RecordDispatch(string(provider), transport, outcome, elapsed)

	attrs := metric.WithAttributes(
		attribute.String("provider", string(provider)),
		attribute.String("transport", transport),
		attribute.String("outcome", outcome))
	if d.requests != nil {
		d.requests.Add(ctx, 1, attrs)
	}
	if d.latency != nil {
		d.latency.Record(ctx, elapsed.Seconds(), attrs)
	}
}
