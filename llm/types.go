package llm

import (
	"encoding/json"
	"strings"
)

// ModelRole 表示一次生成请求在应用中的用途，每个角色在配置中映射到唯一的模型 ID。
type ModelRole string

const (
	RoleScriptAnalysis  ModelRole = "script_analysis"
	RoleImageGeneration ModelRole = "image_generation"
	RoleVideoGeneration ModelRole = "video_generation"
	RoleAudioGeneration ModelRole = "audio_generation"
	RoleChatAssistant   ModelRole = "chat_assistant"
)

// AllRoles 返回全部角色，顺序固定。
func AllRoles() []ModelRole {
	return []ModelRole{
		RoleScriptAnalysis,
		RoleImageGeneration,
		RoleVideoGeneration,
		RoleAudioGeneration,
		RoleChatAssistant,
	}
}

// ProviderKind 是后端厂商/协议族的封闭集合。
type ProviderKind string

const (
	ProviderGoogle    ProviderKind = "google"
	ProviderOpenAI    ProviderKind = "openai"
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderDeepSeek  ProviderKind = "deepseek"
	ProviderXAI       ProviderKind = "xai"
	ProviderJimeng    ProviderKind = "jimeng"
	ProviderJimengWeb ProviderKind = "jimeng_web"
	ProviderQwen      ProviderKind = "qwen"
	ProviderOther     ProviderKind = "other"
)

// ParseProviderKind 将配置中的字符串转换为 ProviderKind，未知值归为 other。
func ParseProviderKind(s string) ProviderKind {
	switch k := ProviderKind(strings.ToLower(strings.TrimSpace(s))); k {
	case ProviderGoogle, ProviderOpenAI, ProviderAnthropic, ProviderDeepSeek,
		ProviderXAI, ProviderJimeng, ProviderJimengWeb, ProviderQwen:
		return k
	case "gemini":
		return ProviderGoogle
	case "claude":
		return ProviderAnthropic
	case "grok":
		return ProviderXAI
	default:
		return ProviderOther
	}
}

// ContentPart 是文本或内联二进制数据的标签联合。
// InlineData 非空时为二进制分片，否则为文本分片。
type ContentPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inline_data,omitempty"`
}

// InlineData 是 base64 编码的二进制内容。
type InlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// TextPart 构造文本分片。
func TextPart(text string) ContentPart {
	return ContentPart{Text: text}
}

// InlinePart 构造内联二进制分片，data 为 base64 字符串。
func InlinePart(mimeType, data string) ContentPart {
	return ContentPart{InlineData: &InlineData{MIMEType: mimeType, Data: data}}
}

// IsInline reports whether the part carries binary data.
func (p ContentPart) IsInline() bool { return p.InlineData != nil }

// DataURI 返回内联分片的 data URI 形式，文本分片返回空串。
func (p ContentPart) DataURI() string {
	if p.InlineData == nil {
		return ""
	}
	return "data:" + p.InlineData.MIMEType + ";base64," + p.InlineData.Data
}

// GenerationRequest 是与厂商无关的生成请求。
// Parts 的顺序有意义：部分传输层将前置分片视为参考上下文，最后一个分片视为指令。
type GenerationRequest struct {
	Parts             []ContentPart `json:"parts"`
	SystemInstruction string        `json:"system_instruction,omitempty"`
	Temperature       *float32      `json:"temperature,omitempty"`
	MaxTokens         int           `json:"max_tokens,omitempty"`
	JSONMode          bool          `json:"json_mode,omitempty"`

	// WantImage 要求后端返回图像（图像生成角色）。
	WantImage bool `json:"want_image,omitempty"`
}

// Text 拼接请求中的全部文本分片。
func (r *GenerationRequest) Text() string {
	var b strings.Builder
	for _, p := range r.Parts {
		if p.IsInline() || p.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(p.Text)
	}
	return b.String()
}

// InlineImage 是从响应中提取的图像。
type InlineImage struct {
	MIMEType string `json:"mime_type,omitempty"`
	Data     string `json:"data,omitempty"` // base64
	URL      string `json:"url,omitempty"`
}

// UsageEvent 描述一次成功调用所使用的凭据，由分发器消费并上报给 CredentialStore。
type UsageEvent struct {
	CredentialID string       `json:"credential_id,omitempty"`
	Provider     ProviderKind `json:"provider"`
	Model        string       `json:"model"`
}

// GenerationResult 是所有传输层必须产出的归一化结果。
type GenerationResult struct {
	Text     string          `json:"text"`
	Raw      json.RawMessage `json:"raw,omitempty"`
	Image    *InlineImage    `json:"image,omitempty"`
	Provider ProviderKind    `json:"provider"`
	Model    string          `json:"model"`
	Usage    UsageEvent      `json:"usage"`
}

// GridSpec 描述拼图的行列数。
type GridSpec struct {
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// Count 返回面板数量。
func (g GridSpec) Count() int { return g.Rows * g.Cols }

// Valid reports whether the grid has at least one cell.
func (g GridSpec) Valid() bool { return g.Rows >= 1 && g.Cols >= 1 }
