// Package image 将模型生成的拼图（一张图包含 rows×cols 个分镜面板）切分为独立图像。
//
// 面板按行优先顺序输出：下标 0 为左上角，下游按位置索引面板。
// 面板尺寸为 floor(W/cols) × floor(H/rows)，余数像素直接丢弃，不做缩放。
package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/genstudio/llm"
)

// Format 面板编码格式
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
)

// Panel 是切分出的单个面板。
type Panel struct {
	Index    int    `json:"index"`
	Row      int    `json:"row"`
	Col      int    `json:"col"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"-"`
}

// Base64 返回面板数据的 base64 编码。
func (p Panel) Base64() string { return base64.StdEncoding.EncodeToString(p.Data) }

// DataURI 返回面板的 data URI。
func (p Panel) DataURI() string { return "data:" + p.MIMEType + ";base64," + p.Base64() }

type options struct {
	format      Format
	jpegQuality int
	parallelism int
}

// Option 配置切分行为。
type Option func(*options)

// WithFormat 设置面板编码格式，默认 PNG。
func WithFormat(f Format) Option {
	return func(o *options) { o.format = f }
}

// WithJPEGQuality 设置 JPEG 质量（1-100）。
func WithJPEGQuality(q int) Option {
	return func(o *options) {
		if q >= 1 && q <= 100 {
			o.jpegQuality = q
		}
	}
}

// WithParallelism 限制并发编码的面板数，<=0 表示不限。
func WithParallelism(n int) Option {
	return func(o *options) { o.parallelism = n }
}

// SliceGrid 解码拼图并切分为 rows×cols 个面板。
func SliceGrid(ctx context.Context, data []byte, rows, cols int, opts ...Option) ([]Panel, error) {
	img, _, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return SliceImage(ctx, img, rows, cols, opts...)
}

// SliceDataURI 与 SliceGrid 相同，输入为 data URI 或裸 base64。
func SliceDataURI(ctx context.Context, uri string, rows, cols int, opts ...Option) ([]Panel, error) {
	data, _, err := DecodeDataURI(uri)
	if err != nil {
		return nil, err
	}
	return SliceGrid(ctx, data, rows, cols, opts...)
}

// SliceImage 切分已解码的图像。
func SliceImage(ctx context.Context, img image.Image, rows, cols int, opts ...Option) ([]Panel, error) {
	o := options{format: FormatPNG, jpegQuality: 92}
	for _, opt := range opts {
		opt(&o)
	}
	if rows < 1 || cols < 1 {
		return nil, llm.NewError(llm.ErrMalformedResponse,
			fmt.Sprintf("invalid grid %dx%d: rows and cols must be at least 1", rows, cols))
	}

	b := img.Bounds()
	pw, ph := b.Dx()/cols, b.Dy()/rows
	if pw == 0 || ph == 0 {
		return nil, llm.NewError(llm.ErrMalformedResponse,
			fmt.Sprintf("image %dx%d is too small for a %dx%d grid", b.Dx(), b.Dy(), rows, cols))
	}

	panels := make([]Panel, rows*cols)
	g, gctx := errgroup.WithContext(ctx)
	if o.parallelism > 0 {
		g.SetLimit(o.parallelism)
	}
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			idx := r*cols + c
			src := image.Rect(c*pw, r*ph, (c+1)*pw, (r+1)*ph).Add(b.Min)
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				tile := image.NewRGBA(image.Rect(0, 0, pw, ph))
				draw.Copy(tile, image.Point{}, img, src, draw.Src, nil)

				data, mime, err := encode(tile, o)
				if err != nil {
					return fmt.Errorf("encode panel %d: %w", idx, err)
				}
				panels[idx] = Panel{
					Index:    idx,
					Row:      r,
					Col:      c,
					Width:    pw,
					Height:   ph,
					MIMEType: mime,
					Data:     data,
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return panels, nil
}

func encode(img image.Image, o options) ([]byte, string, error) {
	var buf bytes.Buffer
	switch o.format {
	case FormatJPEG:
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: o.jpegQuality}); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/jpeg", nil
	default:
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), "image/png", nil
	}
}

// Decode 解码 PNG/JPEG/GIF/BMP/WebP 图像。
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", llm.NewError(llm.ErrMalformedResponse, "composite image is empty")
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", llm.NewError(llm.ErrMalformedResponse, "cannot decode composite image").WithCause(err)
	}
	return img, format, nil
}

// DecodeDataURI 解析 data URI（data:<mime>;base64,<data>）。
// 没有 data: 前缀时按裸 base64 处理，MIME 返回空串。
func DecodeDataURI(uri string) ([]byte, string, error) {
	s := strings.TrimSpace(uri)
	mime := ""
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, "", llm.NewError(llm.ErrMalformedResponse, "data URI has no payload")
		}
		meta := s[len("data:"):comma]
		if !strings.HasSuffix(meta, ";base64") {
			return nil, "", llm.NewError(llm.ErrMalformedResponse, "data URI is not base64 encoded")
		}
		mime = strings.TrimSuffix(meta, ";base64")
		s = s[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	if err != nil {
		return nil, "", llm.NewError(llm.ErrMalformedResponse, "invalid base64 image data").WithCause(err)
	}
	return data, mime, nil
}
