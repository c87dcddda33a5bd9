// =============================================================================
// genstudio 主入口
// =============================================================================
// 使用方法:
//
//	genstudio resolve gemini-2.5-flash relay/gemini-pro
//	genstudio generate --role chat_assistant --prompt "hello"
//	genstudio structured --prompt "split into scenes" --schema '{"scenes":[]}'
//	genstudio grid --rows 2 --cols 2 --prompt "four panels" --out-dir ./panels
//	genstudio video --prompt "a cat surfing" --out cat.mp4
//	genstudio serve-metrics --addr :9091
//	genstudio version
// =============================================================================

package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/genstudio/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "resolve":
		err = runResolve(os.Args[2:])
	case "generate":
		err = runGenerate(os.Args[2:])
	case "structured":
		err = runStructured(os.Args[2:])
	case "grid":
		err = runGrid(os.Args[2:])
	case "video":
		err = runVideo(os.Args[2:])
	case "serve-metrics":
		err = runServeMetrics(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("genstudio %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`genstudio - generative media engine

Usage:
  genstudio <command> [options]

Commands:
  resolve        Show the provider a model ID resolves to
  generate       Run one generation request for a role
  structured     Generate JSON and repair it into a structured value
  grid           Generate a grid image and slice it into panels
  video          Submit a video job and wait for the result
  serve-metrics  Serve Prometheus metrics and credential usage
  version        Show version information
  help           Show this help message

Common options:
  --config <path>     Path to configuration file (YAML)
  --env-file <path>   Load environment variables from a .env file (default .env)
  --api-key <key>     Override the credential key for this call
  --base-url <url>    Override the credential base URL for this call

Examples:
  genstudio resolve --list
  genstudio generate --role image_generation --prompt "a red fox" --out fox.png
  genstudio structured --role script_analysis --prompt-file script.txt --schema '{"scenes":[{"title":""}]}'
  genstudio video --model veo-3.0-generate-001 --prompt "waves at dusk" --out waves.mp4`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}
