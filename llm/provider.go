package llm

import "context"

// Credential 是某个 Provider 的一组访问凭据。
type Credential struct {
	ID       string       `json:"id" yaml:"id"`
	Provider ProviderKind `json:"provider" yaml:"provider"`
	Key      string       `json:"-" yaml:"key"`
	Secret   string       `json:"-" yaml:"secret,omitempty"`
	BaseURL  string       `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	IsActive bool         `json:"is_active" yaml:"is_active"`

	// RateLimitRPM 每分钟请求上限，0 表示不限。
	RateLimitRPM int `json:"rate_limit_rpm,omitempty" yaml:"rate_limit_rpm,omitempty"`
}

// HasBaseURL reports whether the credential points at a custom endpoint.
func (c *Credential) HasBaseURL() bool {
	return c != nil && c.BaseURL != ""
}

// String masks secrets.
func (c Credential) String() string {
	key := ""
	if c.Key != "" {
		key = "***"
	}
	return "Credential{ID:" + c.ID + ", Provider:" + string(c.Provider) + ", Key:" + key + ", BaseURL:" + c.BaseURL + "}"
}

// CredentialStore 按 Provider 解析当前凭据，并接收用量上报。
// 实现必须支持并发调用；ReportUsage 对同一凭据的计数必须是原子的。
type CredentialStore interface {
	// Resolve 返回 Provider 的凭据；找不到时返回 false。
	Resolve(provider ProviderKind) (Credential, bool)

	// ReportUsage 记录一次成功调用。
	ReportUsage(credentialID string)
}

// Transport 是一种线协议的实现，负责把归一化请求发送给某个后端。
// 实现只返回结果，不直接上报用量；用量由分发器依据 GenerationResult.Usage 统一上报。
type Transport interface {
	// Name 返回传输层标识（用于日志与指标）。
	Name() string

	// Generate 发起一次同步生成调用。
	Generate(ctx context.Context, call *Call) (*GenerationResult, error)
}

// Call 是分发器交给传输层的一次调用描述。
type Call struct {
	Model      string
	Provider   ProviderKind
	Credential Credential
	Request    *GenerationRequest
}
