package llm

import (
	"context"
	"encoding/json"
	"strings"
)

type credentialOverrideKey struct{}

// CredentialOverride 用于在单次请求内覆盖 Provider 凭据。
// 注意：该结构仅通过 context 传递，不会从 JSON 反序列化，避免调用方之外的代码注入敏感信息。
type CredentialOverride struct {
	APIKey    string
	SecretKey string
	BaseURL   string
}

func (c CredentialOverride) empty() bool {
	return strings.TrimSpace(c.APIKey) == "" && strings.TrimSpace(c.SecretKey) == "" && strings.TrimSpace(c.BaseURL) == ""
}

func (c CredentialOverride) String() string {
	if c.APIKey == "" && c.SecretKey == "" {
		return "CredentialOverride{BaseURL:" + c.BaseURL + "}"
	}
	return "CredentialOverride{APIKey:***, SecretKey:***, BaseURL:" + c.BaseURL + "}"
}

func (c CredentialOverride) MarshalJSON() ([]byte, error) {
	type masked struct {
		APIKey    string `json:"api_key,omitempty"`
		SecretKey string `json:"secret_key,omitempty"`
		BaseURL   string `json:"base_url,omitempty"`
	}
	out := masked{BaseURL: c.BaseURL}
	if c.APIKey != "" {
		out.APIKey = "***"
	}
	if c.SecretKey != "" {
		out.SecretKey = "***"
	}
	return json.Marshal(out)
}

// WithCredentialOverride 在 ctx 中写入凭据覆盖信息。
// 全部字段为空时不会改变 ctx。
func WithCredentialOverride(ctx context.Context, c CredentialOverride) context.Context {
	if c.empty() {
		return ctx
	}
	return context.WithValue(ctx, credentialOverrideKey{}, c)
}

// CredentialOverrideFromContext 从 ctx 读取凭据覆盖信息。
func CredentialOverrideFromContext(ctx context.Context) (CredentialOverride, bool) {
	v := ctx.Value(credentialOverrideKey{})
	if v == nil {
		return CredentialOverride{}, false
	}
	c, ok := v.(CredentialOverride)
	return c, ok
}

// Apply 将覆盖信息合并到凭据上，非空字段优先。
func (c CredentialOverride) Apply(cred Credential) Credential {
	if k := strings.TrimSpace(c.APIKey); k != "" {
		cred.Key = k
		cred.ID = "override"
	}
	if s := strings.TrimSpace(c.SecretKey); s != "" {
		cred.Secret = s
	}
	if u := strings.TrimSpace(c.BaseURL); u != "" {
		cred.BaseURL = u
	}
	return cred
}
