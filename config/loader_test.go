// 配置加载器测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/genstudio/llm"
)

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "gemini-2.5-flash", cfg.Models.ScriptAnalysis)
	assert.Equal(t, 5*time.Second, cfg.Video.PollInterval)
	assert.NoError(t, cfg.Validate())
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genstudio.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoader_LoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
models:
  script_analysis: "deepseek-chat"
  image_generation: "dall-e-3"

credentials:
  - id: "ds-main"
    provider: "deepseek"
    api_key: "sk-ds"
    active: true
  - provider: "gemini"
    api_key: "gk"
    base_url: "https://relay.example.com/v1"
    rate_limit_rpm: 30

http:
  timeout: 90s
  proxy_url: "socks5://127.0.0.1:1080"

video:
  poll_interval: 2s
  max_attempts: 10
  skip_download: true

log:
  level: "debug"
  format: "json"
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "deepseek-chat", cfg.Models.ScriptAnalysis)
	assert.Equal(t, "dall-e-3", cfg.Models.ImageGeneration)
	// 未写的字段保留默认值
	assert.Equal(t, "veo-3.0-generate-001", cfg.Models.VideoGeneration)

	assert.Equal(t, 90*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "socks5://127.0.0.1:1080", cfg.HTTP.ProxyURL)
	assert.Equal(t, 2*time.Second, cfg.Video.PollInterval)
	assert.Equal(t, 10, cfg.Video.MaxAttempts)
	assert.Equal(t, 30*time.Minute, cfg.Video.MaxWait)
	assert.True(t, cfg.Video.SkipDownload)
	assert.Equal(t, "debug", cfg.Log.Level)

	creds := cfg.LLMCredentials()
	require.Len(t, creds, 2)
	assert.Equal(t, llm.Credential{ID: "ds-main", Provider: llm.ProviderDeepSeek, Key: "sk-ds", IsActive: true}, creds[0])
	assert.Equal(t, llm.ProviderGoogle, creds[1].Provider)
	assert.Equal(t, "https://relay.example.com/v1", creds[1].BaseURL)
	assert.Equal(t, 30, creds[1].RateLimitRPM)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("GENSTUDIO_MODELS_CHAT_ASSISTANT", "claude-sonnet-4-5")
	t.Setenv("GENSTUDIO_HTTP_TIMEOUT", "45s")
	t.Setenv("GENSTUDIO_VIDEO_MAX_ATTEMPTS", "12")
	t.Setenv("GENSTUDIO_VIDEO_SKIP_DOWNLOAD", "true")
	t.Setenv("GENSTUDIO_TELEMETRY_SAMPLE_RATE", "0.5")
	t.Setenv("GENSTUDIO_LOG_OUTPUT_PATHS", "stdout, /tmp/genstudio.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "claude-sonnet-4-5", cfg.Models.ChatAssistant)
	assert.Equal(t, 45*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 12, cfg.Video.MaxAttempts)
	assert.True(t, cfg.Video.SkipDownload)
	assert.InDelta(t, 0.5, cfg.Telemetry.SampleRate, 1e-9)
	assert.Equal(t, []string{"stdout", "/tmp/genstudio.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
models:
  script_analysis: "yaml-model"
  chat_assistant: "yaml-chat"
`)
	t.Setenv("GENSTUDIO_MODELS_SCRIPT_ANALYSIS", "env-model")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "env-model", cfg.Models.ScriptAnalysis)
	assert.Equal(t, "yaml-chat", cfg.Models.ChatAssistant)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_MODELS_IMAGE_GENERATION", "gpt-image-1")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, "gpt-image-1", cfg.Models.ImageGeneration)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("GENSTUDIO_VIDEO_POLL_INTERVAL", "soon")
	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("GENSTUDIO_VIDEO_MAX_ATTEMPTS", "0")

	_, err := NewLoader().WithValidator((*Config).Validate).Load()
	assert.Error(t, err)

	_, err = NewLoader().WithValidator(func(*Config) error { return assert.AnError }).Load()
	assert.ErrorIs(t, err, assert.AnError)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/non/existent/path/genstudio.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultModelsConfig(), cfg.Models)
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := writeConfig(t, `
models:
  script_analysis: [invalid
  this is not valid yaml
`)
	_, err := NewLoader().WithConfigPath(path).Load()
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
credentials:
  - provider: "openai"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key is required")
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{name: "zero http timeout", modify: func(c *Config) { c.HTTP.Timeout = 0 }, wantErr: true},
		{name: "negative max wait", modify: func(c *Config) { c.Video.MaxWait = -time.Second }, wantErr: true},
		{name: "bad log level", modify: func(c *Config) { c.Log.Level = "loud" }, wantErr: true},
		{name: "bad log format", modify: func(c *Config) { c.Log.Format = "xml" }, wantErr: true},
		{name: "sample rate above one", modify: func(c *Config) { c.Telemetry.SampleRate = 1.5 }, wantErr: true},
		{name: "model with whitespace", modify: func(c *Config) { c.Models.ChatAssistant = "gpt 4o" }, wantErr: true},
		{
			name: "unsupported driver only when enabled",
			modify: func(c *Config) {
				c.Database.Driver = "oracle"
			},
		},
		{
			name: "unsupported driver enabled",
			modify: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Driver = "oracle"
			},
			wantErr: true,
		},
		{
			name: "negative rate limit",
			modify: func(c *Config) {
				c.Credentials = []CredentialConfig{{Provider: "openai", APIKey: "k", RateLimitRPM: -1}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestModelsConfig_RoleModels(t *testing.T) {
	m := ModelsConfig{ScriptAnalysis: " gemini-2.5-pro ", VideoGeneration: "veo-3.0-generate-001"}
	assert.Equal(t, map[llm.ModelRole]string{
		llm.RoleScriptAnalysis:  "gemini-2.5-pro",
		llm.RoleVideoGeneration: "veo-3.0-generate-001",
	}, m.RoleModels())
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name:     "postgres",
			config:   DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "genstudio", SSLMode: "disable"},
			expected: "host=db port=5432 user=u password=p dbname=genstudio sslmode=disable",
		},
		{
			name:     "mysql",
			config:   DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "genstudio"},
			expected: "u:p@tcp(db:3306)/genstudio?parseTime=true",
		},
		{
			name:     "sqlite",
			config:   DatabaseConfig{Driver: "sqlite", Name: "/var/lib/genstudio.db"},
			expected: "/var/lib/genstudio.db",
		},
		{
			name:     "unknown",
			config:   DatabaseConfig{Driver: "oracle"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}
