package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/genstudio/llm"
	"github.com/BaSui01/genstudio/llm/image"
	"github.com/BaSui01/genstudio/llm/jsonrepair"
	"github.com/BaSui01/genstudio/llm/providers"
)

// Generate 按角色发送一次同步生成请求。
// 视频角色走 SubmitVideo/RunVideo；音频角色没有可用的传输层。
func (e *Engine) Generate(ctx context.Context, role llm.ModelRole, req *llm.GenerationRequest) (*llm.GenerationResult, error) {
	model, provider, err := e.ModelFor(role)
	if err != nil {
		return nil, err
	}
	switch role {
	case llm.RoleAudioGeneration:
		return nil, llm.Unsupported(provider, model, "audio generation")
	case llm.RoleVideoGeneration:
		return nil, llm.Unsupported(provider, model, "synchronous video generation (use SubmitVideo)")
	}
	if req == nil {
		return nil, llm.NewError(llm.ErrUnknown, "generation request is nil").WithProvider(provider).WithModel(model)
	}

	r := *req
	if role == llm.RoleImageGeneration {
		r.WantImage = true
	}

	res, err := e.dispatcher.Dispatch(ctx, model, provider, &r)
	if err != nil {
		return nil, err
	}
	if r.WantImage && res.Image == nil {
		return nil, llm.Malformed(provider, model, "the model answered with text but no image; check that "+model+" supports image output")
	}
	return res, nil
}

// GenerateImage 以图像生成角色生成一张图。
func (e *Engine) GenerateImage(ctx context.Context, req *llm.GenerationRequest) (*llm.GenerationResult, error) {
	return e.Generate(ctx, llm.RoleImageGeneration, req)
}

// GridResult 拼图生成结果
type GridResult struct {
	Result *llm.GenerationResult
	Grid   llm.GridSpec
	Panels []image.Panel
}

// GenerateGrid 生成一张 rows×cols 拼图并切分为面板，面板按行优先排列。
func (e *Engine) GenerateGrid(ctx context.Context, req *llm.GenerationRequest, grid llm.GridSpec) (*GridResult, error) {
	if !grid.Valid() {
		return nil, llm.NewError(llm.ErrMalformedResponse,
			fmt.Sprintf("invalid grid %dx%d: rows and cols must be at least 1", grid.Rows, grid.Cols))
	}
	res, err := e.GenerateImage(ctx, req)
	if err != nil {
		return nil, err
	}

	data, err := e.imageBytes(ctx, res)
	if err != nil {
		return nil, err
	}
	panels, err := image.SliceGrid(ctx, data, grid.Rows, grid.Cols, e.sliceOpts...)
	if err != nil {
		return nil, llm.Classify(err, res.Provider, res.Model)
	}
	e.metrics.RecordGridSlice(len(panels))
	e.logger.Debug("grid sliced",
		zap.String("model", res.Model),
		zap.Int("rows", grid.Rows),
		zap.Int("cols", grid.Cols))
	return &GridResult{Result: res, Grid: grid, Panels: panels}, nil
}

// imageBytes 取出图像字节：内联 base64 直接解码，否则下载 URL。
func (e *Engine) imageBytes(ctx context.Context, res *llm.GenerationResult) ([]byte, error) {
	img := res.Image
	if img.Data != "" {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			return nil, llm.Malformed(res.Provider, res.Model, "image payload is not valid base64").WithCause(err)
		}
		return data, nil
	}
	if img.URL == "" {
		return nil, llm.Malformed(res.Provider, res.Model, "image has neither data nor URL")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, img.URL, nil)
	if err != nil {
		return nil, llm.Malformed(res.Provider, res.Model, "invalid image URL").WithCause(err)
	}
	status, body, err := providers.Do(e.client, req, res.Provider, res.Model)
	if err != nil {
		return nil, err
	}
	if status >= 400 {
		return nil, llm.ClassifyHTTP(status, providers.ReadErrorMessage(body), res.Provider, res.Model)
	}
	return body, nil
}

// schemaInstruction 把调用方给出的结构提示拼成指令
func schemaInstruction(hint string) string {
	return "The JSON must follow this structure:\n" + strings.TrimSpace(hint)
}

// structuredRequest 复制请求，打开 JSON 模式并附加结构提示。
func structuredRequest(req *llm.GenerationRequest, schemaHint string) *llm.GenerationRequest {
	r := *req
	r.JSONMode = true
	if strings.TrimSpace(schemaHint) != "" {
		r.Parts = append(append([]llm.ContentPart(nil), req.Parts...), llm.TextPart(schemaInstruction(schemaHint)))
	}
	return &r
}

// ParseStructured 以 JSON 模式生成并修复解析输出，返回 map[string]any / []any / 标量。
func (e *Engine) ParseStructured(ctx context.Context, role llm.ModelRole, req *llm.GenerationRequest, schemaHint string) (any, error) {
	var v any
	if err := e.DecodeStructured(ctx, role, req, schemaHint, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeStructured 与 ParseStructured 相同，但解码到调用方给出的类型。
func (e *Engine) DecodeStructured(ctx context.Context, role llm.ModelRole, req *llm.GenerationRequest, schemaHint string, v any) error {
	if req == nil {
		return llm.NewError(llm.ErrUnknown, "generation request is nil")
	}
	res, err := e.Generate(ctx, role, structuredRequest(req, schemaHint))
	if err != nil {
		return err
	}
	if err := jsonrepair.ParseInto(res.Text, v); err != nil {
		e.metrics.RecordStructuredParse(false)
		e.logger.Warn("structured output could not be repaired",
			zap.String("model", res.Model),
			zap.Int("length", len(res.Text)))
		return llm.Classify(err, res.Provider, res.Model)
	}
	e.metrics.RecordStructuredParse(true)
	return nil
}
