package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/genstudio/config"
	"github.com/BaSui01/genstudio/engine"
	"github.com/BaSui01/genstudio/internal/metrics"
	"github.com/BaSui01/genstudio/internal/telemetry"
	"github.com/BaSui01/genstudio/llm"
	"github.com/BaSui01/genstudio/llm/credentials"
)

// commonFlags 所有子命令共享的参数
type commonFlags struct {
	configPath string
	envFile    string
	apiKey     string
	secretKey  string
	baseURL    string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Path to configuration file")
	fs.StringVar(&c.envFile, "env-file", ".env", "Path to .env file")
	fs.StringVar(&c.apiKey, "api-key", "", "Override credential API key")
	fs.StringVar(&c.secretKey, "secret-key", "", "Override credential secret key")
	fs.StringVar(&c.baseURL, "base-url", "", "Override credential base URL")
}

// override 返回单次调用的凭据覆盖
func (c *commonFlags) override() llm.CredentialOverride {
	return llm.CredentialOverride{APIKey: c.apiKey, SecretKey: c.secretKey, BaseURL: c.baseURL}
}

// app 持有一次命令执行所需的全部组件
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	engine    *engine.Engine
	store     *credentials.Store
	metrics   *metrics.Collector
	telemetry *telemetry.Providers
	db        *gorm.DB
}

// loadEnvFile 加载 .env；默认文件不存在时忽略。
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && path == ".env" {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// bootstrap 加载配置并构造引擎。调用方负责 close。
func bootstrap(ctx context.Context, flags *commonFlags) (*app, error) {
	if err := loadEnvFile(flags.envFile); err != nil {
		return nil, err
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := initLogger(cfg.Log)
	a := &app{cfg: cfg, logger: logger}

	a.telemetry, err = telemetry.Init(ctx, cfg.Telemetry, logger, telemetry.WithVersion(Version))
	if err != nil {
		logger.Warn("telemetry init failed, continuing without it", zap.Error(err))
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewCollector(cfg.Metrics.Namespace, logger)
	}

	creds := cfg.LLMCredentials()
	if cfg.Database.Enabled {
		a.db, err = credentials.OpenDB(credentials.DBConfig{
			Driver:          cfg.Database.Driver,
			DSN:             cfg.Database.DSN(),
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		}, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		dbCreds, err := credentials.LoadFromDB(ctx, a.db)
		if err != nil {
			a.close()
			return nil, err
		}
		creds = append(creds, dbCreds...)
	}
	a.store = credentials.NewStore(creds, credentials.WithLogger(logger))

	a.engine, err = engine.New(cfg,
		engine.WithLogger(logger),
		engine.WithMetrics(a.metrics),
		engine.WithCredentialStore(a.store),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// close 写回用量并释放资源
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.db != nil {
		if a.store != nil {
			if err := credentials.FlushUsage(ctx, a.db, a.store); err != nil {
				a.logger.Warn("failed to flush credential usage", zap.Error(err))
			}
		}
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown error", zap.Error(err))
	}
	_ = a.logger.Sync()
}
