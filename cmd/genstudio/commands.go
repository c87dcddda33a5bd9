package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/genstudio/engine"
	"github.com/BaSui01/genstudio/internal/server"
	"github.com/BaSui01/genstudio/llm"
)

// =============================================================================
// 🔍 resolve
// =============================================================================

func runResolve(args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	list := fs.Bool("list", false, "List the built-in model table")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *list {
		known := llm.KnownModels()
		for _, id := range llm.KnownModelIDs() {
			fmt.Printf("%-36s %s\n", id, known[id])
		}
		return nil
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("resolve requires at least one model ID (or --list)")
	}
	for _, id := range fs.Args() {
		fmt.Printf("%-36s %s\n", id, llm.ResolveProvider(id))
	}
	return nil
}

// =============================================================================
// ✨ generate / structured / grid
// =============================================================================

// promptFlags 生成类子命令共享的请求参数
type promptFlags struct {
	role       string
	prompt     string
	promptFile string
	system     string
	images     multiFlag
	json       bool
	timeout    time.Duration
}

func (p *promptFlags) register(fs *flag.FlagSet, defaultRole llm.ModelRole) {
	fs.StringVar(&p.role, "role", string(defaultRole), "Model role (script_analysis, image_generation, chat_assistant, ...)")
	fs.StringVar(&p.prompt, "prompt", "", "Prompt text")
	fs.StringVar(&p.promptFile, "prompt-file", "", "Read prompt text from file")
	fs.StringVar(&p.system, "system", "", "System instruction")
	fs.Var(&p.images, "image", "Reference image file (repeatable)")
	fs.BoolVar(&p.json, "json", false, "Request a JSON response")
	fs.DurationVar(&p.timeout, "timeout", 3*time.Minute, "Request timeout")
}

// request 按顺序组装：参考图在前，文本指令在后。
func (p *promptFlags) request() (*llm.GenerationRequest, error) {
	text := p.prompt
	if p.promptFile != "" {
		data, err := os.ReadFile(p.promptFile)
		if err != nil {
			return nil, fmt.Errorf("read prompt file: %w", err)
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("--prompt or --prompt-file is required")
	}

	req := &llm.GenerationRequest{SystemInstruction: p.system, JSONMode: p.json}
	for _, path := range p.images {
		img, err := readImage(path)
		if err != nil {
			return nil, err
		}
		req.Parts = append(req.Parts, llm.InlinePart(img.MIMEType, img.Data))
	}
	req.Parts = append(req.Parts, llm.TextPart(text))
	return req, nil
}

func runGenerate(args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	var common commonFlags
	var pf promptFlags
	common.register(fs)
	pf.register(fs, llm.RoleChatAssistant)
	out := fs.String("out", "", "Write the generated image to this file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	role, err := parseRole(pf.role)
	if err != nil {
		return err
	}
	req, err := pf.request()
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(pf.timeout, common.override())
	defer cancel()
	a, err := bootstrap(ctx, &common)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.engine.Generate(ctx, role, req)
	if err != nil {
		return err
	}
	a.logger.Info("generation completed",
		zap.String("provider", string(res.Provider)),
		zap.String("model", res.Model),
		zap.String("credential_id", res.Usage.CredentialID))

	if res.Text != "" {
		fmt.Println(res.Text)
	}
	if res.Image != nil {
		return writeImage(res.Image, *out)
	}
	return nil
}

func runStructured(args []string) error {
	fs := flag.NewFlagSet("structured", flag.ExitOnError)
	var common commonFlags
	var pf promptFlags
	common.register(fs)
	pf.register(fs, llm.RoleScriptAnalysis)
	schema := fs.String("schema", "", "Schema hint describing the expected JSON shape")
	if err := fs.Parse(args); err != nil {
		return err
	}

	role, err := parseRole(pf.role)
	if err != nil {
		return err
	}
	req, err := pf.request()
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(pf.timeout, common.override())
	defer cancel()
	a, err := bootstrap(ctx, &common)
	if err != nil {
		return err
	}
	defer a.close()

	v, err := a.engine.ParseStructured(ctx, role, req, *schema)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runGrid(args []string) error {
	fs := flag.NewFlagSet("grid", flag.ExitOnError)
	var common commonFlags
	var pf promptFlags
	common.register(fs)
	pf.register(fs, llm.RoleImageGeneration)
	rows := fs.Int("rows", 2, "Grid rows")
	cols := fs.Int("cols", 2, "Grid columns")
	outDir := fs.String("out-dir", ".", "Directory for panel files")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req, err := pf.request()
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(pf.timeout, common.override())
	defer cancel()
	a, err := bootstrap(ctx, &common)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.engine.GenerateGrid(ctx, req, llm.GridSpec{Rows: *rows, Cols: *cols})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return err
	}
	for _, p := range res.Panels {
		path := filepath.Join(*outDir, fmt.Sprintf("panel_%02d.%s", p.Index, extensionFor(p.MIMEType)))
		if err := os.WriteFile(path, p.Data, 0o644); err != nil {
			return fmt.Errorf("write panel %d: %w", p.Index, err)
		}
		fmt.Printf("%s (row %d, col %d, %dx%d)\n", path, p.Row, p.Col, p.Width, p.Height)
	}
	return nil
}

// =============================================================================
// 🎬 video
// =============================================================================

func runVideo(args []string) error {
	fs := flag.NewFlagSet("video", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	var (
		model       = fs.String("model", "", "Video model (defaults to the video_generation role)")
		prompt      = fs.String("prompt", "", "Prompt text")
		negative    = fs.String("negative-prompt", "", "Negative prompt")
		firstFrame  = fs.String("image", "", "First frame image file")
		lastFrame   = fs.String("end-image", "", "Last frame image file")
		duration    = fs.Int("duration", 0, "Duration in seconds")
		aspectRatio = fs.String("aspect-ratio", "", "Aspect ratio, e.g. 16:9")
		resolution  = fs.String("resolution", "", "Resolution, e.g. 720p")
		out         = fs.String("out", "", "Write the downloaded video to this file")
		timeout     = fs.Duration("timeout", 35*time.Minute, "Overall timeout")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*prompt) == "" && *firstFrame == "" {
		return fmt.Errorf("--prompt or --image is required")
	}

	req := &engine.VideoRequest{
		Model:           *model,
		Prompt:          *prompt,
		NegativePrompt:  *negative,
		DurationSeconds: *duration,
		AspectRatio:     *aspectRatio,
		Resolution:      *resolution,
	}
	var err error
	if *firstFrame != "" {
		if req.Image, err = readImage(*firstFrame); err != nil {
			return err
		}
	}
	if *lastFrame != "" {
		if req.EndImage, err = readImage(*lastFrame); err != nil {
			return err
		}
	}

	ctx, cancel := commandContext(*timeout, common.override())
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, &common)
	if err != nil {
		return err
	}
	defer a.close()

	job, err := a.engine.RunVideo(ctx, req)
	a.logger.Info("video job finished",
		zap.String("job_id", job.ID),
		zap.String("backend", job.Backend),
		zap.String("state", string(job.State)),
		zap.Int("attempts", job.Attempts),
		zap.Duration("duration", job.Duration()))
	if err != nil {
		return err
	}

	if len(job.Blob) > 0 && *out != "" {
		if err := os.WriteFile(*out, job.Blob, 0o644); err != nil {
			return fmt.Errorf("write video: %w", err)
		}
		fmt.Println(*out)
		return nil
	}
	fmt.Println(job.ResultURL)
	return nil
}

// =============================================================================
// 📊 serve-metrics
// =============================================================================

func runServeMetrics(args []string) error {
	fs := flag.NewFlagSet("serve-metrics", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	addr := fs.String("addr", "", "Listen address (defaults to metrics.addr)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, &common)
	if err != nil {
		return err
	}
	defer a.close()

	srvCfg := server.DefaultConfig()
	srvCfg.Addr = a.cfg.Metrics.Addr
	if *addr != "" {
		srvCfg.Addr = *addr
	}
	handler := server.MetricsHandler(prometheus.DefaultGatherer, func() any { return a.store.Stats() })
	mgr := server.NewManager(handler, srvCfg, a.logger)
	return mgr.Run(ctx)
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// multiFlag 可重复的字符串参数
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

// commandContext 构造带超时和凭据覆盖的 ctx
func commandContext(timeout time.Duration, override llm.CredentialOverride) (context.Context, context.CancelFunc) {
	ctx := llm.WithCredentialOverride(context.Background(), override)
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func parseRole(s string) (llm.ModelRole, error) {
	for _, r := range llm.AllRoles() {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// readImage 读取本地图片并编码为 base64 内联数据
func readImage(path string) (*llm.InlineData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return &llm.InlineData{
		MIMEType: http.DetectContentType(data),
		Data:     base64.StdEncoding.EncodeToString(data),
	}, nil
}

// writeImage 写出生成的图像；只有 URL 时直接打印。
func writeImage(img *llm.InlineImage, path string) error {
	if img.Data == "" {
		fmt.Println(img.URL)
		return nil
	}
	if path == "" {
		fmt.Printf("image returned (%s), use --out to save it\n", img.MIMEType)
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(img.Data)
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}
