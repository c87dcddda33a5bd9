package llm

import (
	"sort"
	"strings"
)

// knownModels 是模型 ID 到 Provider 的显式映射，键为小写。
var knownModels = map[string]ProviderKind{
	// Google
	"gemini-2.5-pro":                 ProviderGoogle,
	"gemini-2.5-flash":               ProviderGoogle,
	"gemini-2.5-flash-lite":          ProviderGoogle,
	"gemini-2.5-flash-image-preview": ProviderGoogle,
	"gemini-2.5-flash-image":         ProviderGoogle,
	"gemini-3-pro-preview":           ProviderGoogle,
	"gemini-3-pro-image-preview":     ProviderGoogle,
	"imagen-4.0-generate-001":        ProviderGoogle,
	"veo-3.0-generate-001":           ProviderGoogle,
	"veo-3.0-fast-generate-001":      ProviderGoogle,
	"veo-3.1-generate-preview":       ProviderGoogle,

	// OpenAI
	"gpt-4o":      ProviderOpenAI,
	"gpt-4o-mini": ProviderOpenAI,
	"gpt-4.1":     ProviderOpenAI,
	"gpt-5":       ProviderOpenAI,
	"o3":          ProviderOpenAI,
	"o4-mini":     ProviderOpenAI,
	"dall-e-3":    ProviderOpenAI,
	"gpt-image-1": ProviderOpenAI,

	// Anthropic
	"claude-sonnet-4-5":          ProviderAnthropic,
	"claude-sonnet-4-5-20250929": ProviderAnthropic,
	"claude-opus-4-1":            ProviderAnthropic,
	"claude-3-7-sonnet-latest":   ProviderAnthropic,

	// DeepSeek
	"deepseek-chat":     ProviderDeepSeek,
	"deepseek-reasoner": ProviderDeepSeek,

	// xAI
	"grok-4":       ProviderXAI,
	"grok-3":       ProviderXAI,
	"grok-2-image": ProviderXAI,

	// 即梦（签名 API 与 Web 逆向 API）
	"jimeng_vgfm_i2v_l20":       ProviderJimeng,
	"jimeng_vgfm_t2v_l20":       ProviderJimeng,
	"jimeng_i2v_first_tail_v30": ProviderJimeng,
	"doubao-seedream-4-0":       ProviderJimeng,
	"jimeng-video-3.0":          ProviderJimengWeb,
	"jimeng-video-s2.0-pro":     ProviderJimengWeb,

	// Qwen / DashScope
	"qwen-max":          ProviderQwen,
	"qwen-plus":         ProviderQwen,
	"qwen-vl-max":       ProviderQwen,
	"wanx2.1-t2i-turbo": ProviderQwen,
	"qwen-image":        ProviderQwen,
}

type markerRule struct {
	marker   string
	provider ProviderKind
}

// 规则按顺序匹配，越具体的标记越靠前。
// relay 标记必须先于厂商名匹配：形如 "relay/gemini-2.5-flash" 的模型走本地代理而不是 Google SDK。
var markerRules = []markerRule{
	{"relay/", ProviderOther},
	{"local/", ProviderOther},
	{"-relay", ProviderOther},
	{"@proxy", ProviderOther},
	{"jimeng-web", ProviderJimengWeb},
	{"jimeng_web", ProviderJimengWeb},
	{"dreamina-web", ProviderJimengWeb},
}

var familyRules = []markerRule{
	{"claude", ProviderAnthropic},
	{"gemini", ProviderGoogle},
	{"imagen", ProviderGoogle},
	{"veo-", ProviderGoogle},
	{"learnlm", ProviderGoogle},
	{"jimeng", ProviderJimeng},
	{"seedance", ProviderJimeng},
	{"seedream", ProviderJimeng},
	{"dreamina", ProviderJimeng},
	{"deepseek", ProviderDeepSeek},
	{"grok", ProviderXAI},
	{"qwen", ProviderQwen},
	{"wanx", ProviderQwen},
	{"wan2", ProviderQwen},
	{"dall-e", ProviderOpenAI},
	{"gpt-", ProviderOpenAI},
	{"chatgpt", ProviderOpenAI},
	{"sora", ProviderOpenAI},
}

// ResolveProvider 将模型 ID 映射到 Provider（大小写不敏感，总能返回结果）。
//
// 顺序：静态表精确匹配 → 特定标记 → 厂商族名 → other。
func ResolveProvider(modelID string) ProviderKind {
	id := strings.ToLower(strings.TrimSpace(modelID))
	if id == "" {
		return ProviderOther
	}
	if p, ok := knownModels[id]; ok {
		return p
	}
	for _, r := range markerRules {
		if strings.Contains(id, r.marker) {
			return r.provider
		}
	}
	for _, r := range familyRules {
		if strings.Contains(id, r.marker) {
			return r.provider
		}
	}
	if isOpenAIReasoningModel(id) {
		return ProviderOpenAI
	}
	return ProviderOther
}

// o1 / o3 / o4-mini 这类 ID 太短，只按前缀匹配。
func isOpenAIReasoningModel(id string) bool {
	if len(id) < 2 || id[0] != 'o' || id[1] < '1' || id[1] > '9' {
		return false
	}
	return len(id) == 2 || id[2] == '-'
}

// KnownModels 返回静态表的副本，键为小写模型 ID。
func KnownModels() map[string]ProviderKind {
	out := make(map[string]ProviderKind, len(knownModels))
	for k, v := range knownModels {
		out[k] = v
	}
	return out
}

// KnownModelIDs 返回排序后的静态表模型 ID。
func KnownModelIDs() []string {
	ids := make([]string, 0, len(knownModels))
	for k := range knownModels {
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return ids
}
