package video

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/genstudio/internal/metrics"
	"github.com/BaSui01/genstudio/llm"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultMaxAttempts  = 360
	DefaultMaxWait      = 30 * time.Minute
)

// PollerConfig 轮询配置
type PollerConfig struct {
	Interval    time.Duration `json:"interval" yaml:"interval"`
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"` // <=0 使用默认值
	MaxWait     time.Duration `json:"max_wait" yaml:"max_wait"`         // <=0 使用默认值

	// SkipDownload 只返回 URL，不下载视频
	SkipDownload bool `json:"skip_download" yaml:"skip_download"`
}

// DefaultPollerConfig 返回默认轮询配置：5 秒间隔，最多 360 次，30 分钟。
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:    DefaultPollInterval,
		MaxAttempts: DefaultMaxAttempts,
		MaxWait:     DefaultMaxWait,
	}
}

// Poller 驱动视频任务状态机。每个任务在独立 goroutine 中轮询，互不影响。
type Poller struct {
	cfg     PollerConfig
	logger  *zap.Logger
	metrics *metrics.Collector
	tracer  trace.Tracer
}

// PollerOption 配置 Poller。
type PollerOption func(*Poller)

// WithMetrics 设置指标收集器。
func WithMetrics(c *metrics.Collector) PollerOption {
	return func(p *Poller) { p.metrics = c }
}

// NewPoller 创建 Poller。
func NewPoller(cfg PollerConfig, logger *zap.Logger, opts ...PollerOption) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Poller{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "video_poller")),
		tracer: otel.Tracer("genstudio/video"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config 返回生效的配置。
func (p *Poller) Config() PollerConfig { return p.cfg }

// Handle 是一个运行中任务的句柄。
type Handle struct {
	mu     sync.RWMutex
	job    *Job
	done   chan struct{}
	cancel context.CancelFunc
}

// Done 在任务进入终态后关闭。
func (h *Handle) Done() <-chan struct{} { return h.done }

// Snapshot 返回任务当前状态的副本。
func (h *Handle) Snapshot() Job {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.job.clone()
}

// Cancel 取消轮询，任务以 FAILED 结束。已是终态时无效果。
func (h *Handle) Cancel() { h.cancel() }

// Wait 等待任务结束。ctx 只影响等待本身，不会取消任务。
func (h *Handle) Wait(ctx context.Context) (Job, error) {
	select {
	case <-h.done:
		job := h.Snapshot()
		return job, job.Failure()
	case <-ctx.Done():
		return h.Snapshot(), ctx.Err()
	}
}

// update 在锁内修改任务。被状态机拒绝的转换只记录告警，任务保持原状态。
func (h *Handle) update(log *zap.Logger, fn func(j *Job) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	from := h.job.State
	if err := fn(h.job); err != nil {
		log.Warn("video job update rejected",
			zap.String("state", string(from)),
			zap.Error(err))
	}
}

// Run 提交任务并阻塞到终态。任务失败时返回的 error 为 *llm.Error。
func (p *Poller) Run(ctx context.Context, b Backend, req *SubmitRequest) (Job, error) {
	h, err := p.Start(ctx, b, req)
	if err != nil {
		return Job{}, err
	}
	<-h.Done()
	job := h.Snapshot()
	return job, job.Failure()
}

// Start 同步提交任务，成功后在后台轮询。
// 提交失败直接返回错误；同步完成的后端返回的句柄已处于终态。
// ctx 取消或 Handle.Cancel 都会终止轮询。
func (p *Poller) Start(ctx context.Context, b Backend, req *SubmitRequest) (*Handle, error) {
	job := newJob(uuid.NewString(), req.Provider, b.Name(), req.Model)
	log := p.logger.With(
		zap.String("job_id", job.ID),
		zap.String("backend", b.Name()),
		zap.String("model", req.Model))

	jobCtx, cancel := context.WithCancel(ctx)
	h := &Handle{job: job, done: make(chan struct{}), cancel: cancel}

	spanCtx, span := p.tracer.Start(jobCtx, "video.job",
		trace.WithAttributes(
			attribute.String("video.backend", b.Name()),
			attribute.String("video.model", req.Model),
			attribute.String("video.job_id", job.ID)))

	snap, err := b.Submit(spanCtx, req)
	if err != nil {
		e := llm.Classify(err, req.Provider, req.Model)
		h.update(log, func(j *Job) error { return j.fail(e) })
		p.finish(h, span, log)
		cancel()
		close(h.done)
		return nil, e
	}

	h.update(log, func(j *Job) error {
		j.TaskID = snap.TaskID
		return j.transition(StateSubmitted)
	})
	log.Info("video job submitted", zap.String("task_id", snap.TaskID), zap.String("status", snap.RawStatus))

	task := Task{ID: snap.TaskID, Model: req.Model, Credential: req.Credential}

	// 同步完成或立即失败的后端不进入 POLLING
	if snap.Status != StatusPending {
		p.settle(spanCtx, h, b, task, snap, log)
		p.finish(h, span, log)
		cancel()
		close(h.done)
		return h, nil
	}
	if snap.TaskID == "" {
		h.update(log, func(j *Job) error {
			return j.fail(llm.Malformed(req.Provider, req.Model, "video submit response has neither a task id nor a result URL"))
		})
		p.finish(h, span, log)
		cancel()
		close(h.done)
		return h, nil
	}

	h.update(log, func(j *Job) error { return j.transition(StatePolling) })
	go func() {
		defer close(h.done)
		defer cancel()
		p.loop(spanCtx, h, b, task, log)
		p.finish(h, span, log)
	}()
	return h, nil
}

func (p *Poller) loop(ctx context.Context, h *Handle, b Backend, task Task, log *zap.Logger) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	provider, model := h.job.Provider, h.job.Model
	deadline := time.Now().Add(p.cfg.MaxWait)

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			p.failCanceled(h, ctx.Err(), log)
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			p.failCanceled(h, ctx.Err(), log)
			return
		}
		if attempt > p.cfg.MaxAttempts || time.Now().After(deadline) {
			h.update(log, func(j *Job) error {
				return j.fail(&llm.Error{
					Kind: llm.ErrUnknown,
					Detail: fmt.Sprintf("video job %s did not finish after %d polls (%s); the task may still complete on the provider side",
						task.ID, attempt-1, p.cfg.MaxWait),
					Provider: provider,
					Model:    model,
				})
			})
			log.Warn("video job timed out", zap.Int("attempts", attempt-1))
			return
		}

		h.update(log, func(j *Job) error { j.Attempts = attempt; return nil })
		p.metrics.RecordVideoPoll(b.Name())

		snap, err := b.Poll(ctx, task)
		if err != nil {
			if ctx.Err() != nil {
				p.failCanceled(h, ctx.Err(), log)
				return
			}
			e := llm.Classify(err, provider, model)
			if fatalPollError(e) {
				h.update(log, func(j *Job) error { return j.fail(e) })
				log.Warn("video poll failed permanently", zap.Error(e))
				return
			}
			log.Debug("video poll error, retrying", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if snap.Status == StatusPending {
			log.Debug("video job pending", zap.Int("attempt", attempt), zap.String("status", snap.RawStatus))
			continue
		}
		p.settle(ctx, h, b, task, snap, log)
		return
	}
}

// settle 处理终态快照：成功时解析 URL 并尝试下载，失败时区分内容安全拒绝。
func (p *Poller) settle(ctx context.Context, h *Handle, b Backend, task Task, snap *Snapshot, log *zap.Logger) {
	provider, model := h.job.Provider, h.job.Model

	if snap.Status == StatusFailed {
		e := &llm.Error{Kind: llm.ErrUnknown, Detail: snap.ErrorMessage, Provider: provider, Model: model}
		if snap.PolicyRejected {
			e.Kind = llm.ErrContentPolicyRejected
		}
		if e.Detail == "" {
			e.Detail = fmt.Sprintf("video generation failed with status %q", snap.RawStatus)
		}
		h.update(log, func(j *Job) error { return j.fail(e) })
		return
	}

	if snap.ResultURL == "" && len(snap.Blob) == 0 {
		h.update(log, func(j *Job) error {
			return j.fail(llm.Malformed(provider, model, "video job reported success but no result URL was found in the response"))
		})
		return
	}

	blob, mime := snap.Blob, snap.MIMEType
	if blob == nil && !p.cfg.SkipDownload {
		data, m, err := b.Download(ctx, task, snap.ResultURL)
		if err != nil {
			// 下载失败不影响任务成功，调用方可以稍后用 URL 重试
			log.Warn("video download failed, returning URL only", zap.String("url", snap.ResultURL), zap.Error(err))
		} else {
			blob, mime = data, m
		}
	}
	h.update(log, func(j *Job) error { return j.succeed(snap.ResultURL, blob, mime) })
}

func (p *Poller) failCanceled(h *Handle, cause error, log *zap.Logger) {
	detail := "video polling was canceled"
	if errors.Is(cause, context.DeadlineExceeded) {
		detail = "video polling deadline exceeded"
	}
	h.update(log, func(j *Job) error {
		return j.fail(&llm.Error{Kind: llm.ErrUnknown, Detail: detail, Provider: j.Provider, Model: j.Model, Cause: cause})
	})
	log.Info("video job canceled")
}

func (p *Poller) finish(h *Handle, span trace.Span, log *zap.Logger) {
	job := h.Snapshot()
	kind := ""
	if job.Err != nil {
		kind = string(job.Err.Kind)
		span.SetStatus(codes.Error, job.Err.Detail)
		log.Warn("video job failed", zap.String("kind", kind), zap.String("detail", job.Err.Detail))
	} else {
		span.SetStatus(codes.Ok, "")
		log.Info("video job succeeded",
			zap.String("url", job.ResultURL),
			zap.Int("bytes", len(job.Blob)),
			zap.Duration("elapsed", job.Duration()))
	}
	span.SetAttributes(
		attribute.String("video.state", string(job.State)),
		attribute.Int("video.attempts", job.Attempts))
	span.End()
	p.metrics.RecordVideoJob(job.Backend, string(job.State), kind, job.Duration())
}

// 认证、模型不存在与内容安全错误不会因为重试而恢复
func fatalPollError(e *llm.Error) bool {
	switch e.Kind {
	case llm.ErrAuthInvalid, llm.ErrModelNotFound, llm.ErrContentPolicyRejected, llm.ErrProviderUnsupported:
		return true
	}
	return false
}
