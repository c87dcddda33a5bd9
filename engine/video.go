package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/genstudio/llm"
	"github.com/BaSui01/genstudio/llm/video"
)

// VideoRequest 视频生成请求。Model 为空时使用 video_generation 角色的模型。
type VideoRequest struct {
	Model          string
	Prompt         string
	NegativePrompt string

	// 首帧/尾帧参考图
	Image    *llm.InlineData
	EndImage *llm.InlineData

	DurationSeconds int
	AspectRatio     string
	Resolution      string
}

// prepareVideo 解析模型、Provider、凭据和后端。
func (e *Engine) prepareVideo(ctx context.Context, req *VideoRequest) (video.Backend, *video.SubmitRequest, error) {
	if req == nil {
		return nil, nil, llm.NewError(llm.ErrUnknown, "video request is nil")
	}
	model, provider := req.Model, llm.ProviderKind("")
	if model == "" {
		var err error
		if model, provider, err = e.ModelFor(llm.RoleVideoGeneration); err != nil {
			return nil, nil, err
		}
	} else {
		provider = e.resolve(model)
	}

	cred := e.dispatcher.ResolveCredential(ctx, provider)
	backend, err := e.backendFor(provider, cred, model, e.client)
	if err != nil {
		return nil, nil, llm.Classify(err, provider, model)
	}
	e.logger.Debug("video backend selected",
		zap.String("provider", string(provider)),
		zap.String("model", model),
		zap.String("backend", backend.Name()))

	return backend, &video.SubmitRequest{
		Model:           model,
		Provider:        provider,
		Credential:      cred,
		Prompt:          req.Prompt,
		NegativePrompt:  req.NegativePrompt,
		Image:           req.Image,
		EndImage:        req.EndImage,
		DurationSeconds: req.DurationSeconds,
		AspectRatio:     req.AspectRatio,
		Resolution:      req.Resolution,
	}, nil
}

// SubmitVideo 提交视频任务并在后台轮询。ctx 同时约束提交和整个轮询过程。
func (e *Engine) SubmitVideo(ctx context.Context, req *VideoRequest) (*video.Handle, error) {
	backend, sr, err := e.prepareVideo(ctx, req)
	if err != nil {
		return nil, err
	}
	h, err := e.poller.Start(ctx, backend, sr)
	if err != nil {
		return nil, err
	}
	e.reportVideoUsage(sr)
	return h, nil
}

// RunVideo 提交视频任务并阻塞到终态。
func (e *Engine) RunVideo(ctx context.Context, req *VideoRequest) (video.Job, error) {
	h, err := e.SubmitVideo(ctx, req)
	if err != nil {
		return video.Job{}, err
	}
	// ctx 取消时轮询协程写入 FAILED 后关闭 Done
	<-h.Done()
	job := h.Snapshot()
	return job, job.Failure()
}

// reportVideoUsage 提交被后端接受即计一次用量
func (e *Engine) reportVideoUsage(sr *video.SubmitRequest) {
	if sr.Credential.ID == "" {
		return
	}
	e.store.ReportUsage(sr.Credential.ID)
	e.metrics.RecordCredentialUsage(string(sr.Provider), sr.Credential.ID)
}
