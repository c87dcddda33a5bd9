package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestResolveProvider_StaticTable(t *testing.T) {
	for id, want := range KnownModels() {
		assert.Equal(t, want, ResolveProvider(id), id)
		assert.Equal(t, want, ResolveProvider(strings.ToUpper(id)), id)
		assert.Equal(t, want, ResolveProvider("  "+id+" "), id)
	}
}

func TestResolveProvider_Heuristics(t *testing.T) {
	tests := []struct {
		model string
		want  ProviderKind
	}{
		{"gemini-1.5-pro-002", ProviderGoogle},
		{"imagen-3.0-fast", ProviderGoogle},
		{"veo-2.0-generate-001", ProviderGoogle},
		{"relay/gemini-2.5-flash", ProviderOther},
		{"gemini-2.5-flash-relay", ProviderOther},
		{"local/claude-sonnet", ProviderOther},
		{"gemini-3-pro@proxy", ProviderOther},
		{"jimeng-web-video-2.0", ProviderJimengWeb},
		{"dreamina-web-3.0", ProviderJimengWeb},
		{"jimeng-video-2.1", ProviderJimeng},
		{"seedance-1-0-pro", ProviderJimeng},
		{"claude-haiku-4-5", ProviderAnthropic},
		{"deepseek-v3.2", ProviderDeepSeek},
		{"grok-code-fast-1", ProviderXAI},
		{"qwen3-coder-plus", ProviderQwen},
		{"wan2.2-i2v-plus", ProviderQwen},
		{"gpt-4o-2024-11-20", ProviderOpenAI},
		{"o1", ProviderOpenAI},
		{"o3-mini", ProviderOpenAI},
		{"omni-moderation", ProviderOther},
		{"llama-3.3-70b", ProviderOther},
		{"", ProviderOther},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveProvider(tt.model))
		})
	}
}

func TestResolveProvider_MarkerPreemptsVendorName(t *testing.T) {
	// 同时包含 relay 标记与 gemini 的模型必须走代理
	assert.Equal(t, ProviderGoogle, ResolveProvider("gemini-2.5-flash"))
	assert.Equal(t, ProviderOther, ResolveProvider("relay/gemini-2.5-flash"))
	// web 标记先于 jimeng 族名
	assert.Equal(t, ProviderJimeng, ResolveProvider("jimeng-2.0"))
	assert.Equal(t, ProviderJimengWeb, ResolveProvider("jimeng-web-2.0"))
}

func TestProperty_ResolveProvider_TotalAndCaseInsensitive(t *testing.T) {
	valid := map[ProviderKind]bool{
		ProviderGoogle: true, ProviderOpenAI: true, ProviderAnthropic: true,
		ProviderDeepSeek: true, ProviderXAI: true, ProviderJimeng: true,
		ProviderJimengWeb: true, ProviderQwen: true, ProviderOther: true,
	}
	rapid.Check(t, func(rt *rapid.T) {
		id := rapid.StringMatching(`[A-Za-z0-9./@_-]{0,32}`).Draw(rt, "model")
		got := ResolveProvider(id)
		if !valid[got] {
			rt.Fatalf("unexpected provider %q for %q", got, id)
		}
		if ResolveProvider(strings.ToUpper(id)) != got || ResolveProvider(strings.ToLower(id)) != got {
			rt.Fatalf("resolution of %q is case sensitive", id)
		}
	})
}

func TestParseProviderKind(t *testing.T) {
	assert.Equal(t, ProviderGoogle, ParseProviderKind("Gemini"))
	assert.Equal(t, ProviderAnthropic, ParseProviderKind("claude"))
	assert.Equal(t, ProviderJimengWeb, ParseProviderKind("jimeng_web"))
	assert.Equal(t, ProviderOther, ParseProviderKind("ollama"))
}
