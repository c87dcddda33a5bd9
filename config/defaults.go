// =============================================================================
// 📦 genstudio 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Models:    DefaultModelsConfig(),
		HTTP:      DefaultHTTPConfig(),
		Video:     DefaultVideoConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Metrics:   DefaultMetricsConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultModelsConfig 返回默认角色模型。音频角色默认不配置。
func DefaultModelsConfig() ModelsConfig {
	return ModelsConfig{
		ScriptAnalysis:  "gemini-2.5-flash",
		ImageGeneration: "gemini-2.5-flash-image",
		VideoGeneration: "veo-3.0-generate-001",
		ChatAssistant:   "gemini-2.5-flash",
	}
}

// DefaultHTTPConfig 返回默认 HTTP 配置
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout: 3 * time.Minute,
	}
}

// DefaultVideoConfig 返回默认视频轮询配置
func DefaultVideoConfig() VideoConfig {
	return VideoConfig{
		PollInterval: 5 * time.Second,
		MaxAttempts:  360,
		MaxWait:      30 * time.Minute,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置（不启用）
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Enabled:         false,
		Driver:          "sqlite",
		Host:            "localhost",
		Name:            "genstudio.db",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     false,
		EnableStacktrace: false,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   false,
		Namespace: "genstudio",
		Addr:      ":9091",
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "genstudio",
		SampleRate:   0.1,
	}
}
