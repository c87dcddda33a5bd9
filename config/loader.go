// =============================================================================
// 📦 genstudio 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("genstudio.yaml").
//	    WithEnvPrefix("GENSTUDIO").
//	    WithValidator((*config.Config).Validate).
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/genstudio/llm"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 genstudio 的完整配置结构
type Config struct {
	// Models 角色到模型的映射
	Models ModelsConfig `yaml:"models" env:"MODELS"`

	// Credentials 静态凭据列表（只能来自 YAML）
	Credentials []CredentialConfig `yaml:"credentials" env:"-"`

	// HTTP 出站 HTTP 客户端配置
	HTTP HTTPConfig `yaml:"http" env:"HTTP"`

	// Video 视频任务轮询配置
	Video VideoConfig `yaml:"video" env:"VIDEO"`

	// Database 凭据数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics Prometheus 配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ModelsConfig 每个角色当前生效的模型 ID
type ModelsConfig struct {
	ScriptAnalysis  string `yaml:"script_analysis" env:"SCRIPT_ANALYSIS"`
	ImageGeneration string `yaml:"image_generation" env:"IMAGE_GENERATION"`
	VideoGeneration string `yaml:"video_generation" env:"VIDEO_GENERATION"`
	AudioGeneration string `yaml:"audio_generation" env:"AUDIO_GENERATION"`
	ChatAssistant   string `yaml:"chat_assistant" env:"CHAT_ASSISTANT"`
}

// RoleModels 转换为 role → model 映射，空值不出现在结果中。
func (m ModelsConfig) RoleModels() map[llm.ModelRole]string {
	out := make(map[llm.ModelRole]string, 5)
	set := func(role llm.ModelRole, model string) {
		if model = strings.TrimSpace(model); model != "" {
			out[role] = model
		}
	}
	set(llm.RoleScriptAnalysis, m.ScriptAnalysis)
	set(llm.RoleImageGeneration, m.ImageGeneration)
	set(llm.RoleVideoGeneration, m.VideoGeneration)
	set(llm.RoleAudioGeneration, m.AudioGeneration)
	set(llm.RoleChatAssistant, m.ChatAssistant)
	return out
}

// CredentialConfig 一条静态凭据
type CredentialConfig struct {
	ID           string `yaml:"id"`
	Provider     string `yaml:"provider"`
	APIKey       string `yaml:"api_key"`
	SecretKey    string `yaml:"secret_key"`
	BaseURL      string `yaml:"base_url"`
	Active       bool   `yaml:"active"`
	RateLimitRPM int    `yaml:"rate_limit_rpm"`
}

// ToCredential 转换为 llm.Credential
func (c CredentialConfig) ToCredential() llm.Credential {
	return llm.Credential{
		ID:           c.ID,
		Provider:     llm.ParseProviderKind(c.Provider),
		Key:          strings.TrimSpace(c.APIKey),
		Secret:       strings.TrimSpace(c.SecretKey),
		BaseURL:      strings.TrimSpace(c.BaseURL),
		IsActive:     c.Active,
		RateLimitRPM: c.RateLimitRPM,
	}
}

// LLMCredentials 返回全部静态凭据
func (c *Config) LLMCredentials() []llm.Credential {
	out := make([]llm.Credential, 0, len(c.Credentials))
	for _, cc := range c.Credentials {
		out = append(out, cc.ToCredential())
	}
	return out
}

// HTTPConfig 出站 HTTP 配置
type HTTPConfig struct {
	// 单次请求超时（图像生成较慢，默认较长）
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 代理地址，支持 http/https/socks5
	ProxyURL string `yaml:"proxy_url" env:"PROXY_URL"`
}

// VideoConfig 视频任务轮询配置
type VideoConfig struct {
	// 轮询间隔
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	// 最大轮询次数
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// 单个任务最长等待时间
	MaxWait time.Duration `yaml:"max_wait" env:"MAX_WAIT"`
	// 只返回结果 URL，不下载视频
	SkipDownload bool `yaml:"skip_download" env:"SKIP_DOWNLOAD"`
}

// DatabaseConfig 凭据数据库配置
type DatabaseConfig struct {
	// 是否从数据库加载凭据
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// MetricsConfig Prometheus 配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// serve-metrics 监听地址
	Addr string `yaml:"addr" env:"ADDR"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "GENSTUDIO",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段，键为 PREFIX_SECTION_FIELD
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration 按 "30s" 形式解析
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// Load 按默认前缀加载配置文件并验证
func Load(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	for role, model := range c.Models.RoleModels() {
		if strings.ContainsAny(model, " \t\n") {
			errs = append(errs, fmt.Sprintf("model id for %s contains whitespace", role))
		}
	}
	for i, cc := range c.Credentials {
		if strings.TrimSpace(cc.Provider) == "" {
			errs = append(errs, fmt.Sprintf("credentials[%d]: provider is required", i))
		}
		if strings.TrimSpace(cc.APIKey) == "" {
			errs = append(errs, fmt.Sprintf("credentials[%d]: api_key is required", i))
		}
		if cc.RateLimitRPM < 0 {
			errs = append(errs, fmt.Sprintf("credentials[%d]: rate_limit_rpm must not be negative", i))
		}
	}

	if c.HTTP.Timeout <= 0 {
		errs = append(errs, "http timeout must be positive")
	}
	if c.Video.PollInterval <= 0 {
		errs = append(errs, "video poll_interval must be positive")
	}
	if c.Video.MaxAttempts <= 0 {
		errs = append(errs, "video max_attempts must be positive")
	}
	if c.Video.MaxWait <= 0 {
		errs = append(errs, "video max_wait must be positive")
	}

	if c.Database.Enabled {
		switch c.Database.Driver {
		case "postgres", "mysql", "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid log level %q", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Sprintf("invalid log format %q", c.Log.Format))
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
