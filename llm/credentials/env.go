package credentials

import (
	"os"
	"strings"

	"github.com/BaSui01/genstudio/llm"
)

// EnvLookup 查找环境变量，返回空串表示未设置。
type EnvLookup func(key string) string

// OSEnv 读取进程环境变量。
func OSEnv(key string) string { return os.Getenv(key) }

type envSpec struct {
	keys    []string
	secrets []string
	baseURL []string
}

// 每个 Provider 的环境变量候选，按顺序取第一个非空值。
var envSpecs = map[llm.ProviderKind]envSpec{
	llm.ProviderGoogle: {
		keys:    []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"},
		baseURL: []string{"GEMINI_BASE_URL"},
	},
	llm.ProviderOpenAI: {
		keys:    []string{"OPENAI_API_KEY"},
		baseURL: []string{"OPENAI_BASE_URL"},
	},
	llm.ProviderAnthropic: {
		keys:    []string{"ANTHROPIC_API_KEY", "CLAUDE_API_KEY"},
		baseURL: []string{"ANTHROPIC_BASE_URL"},
	},
	llm.ProviderDeepSeek: {
		keys:    []string{"DEEPSEEK_API_KEY"},
		baseURL: []string{"DEEPSEEK_BASE_URL"},
	},
	llm.ProviderXAI: {
		keys:    []string{"XAI_API_KEY", "GROK_API_KEY"},
		baseURL: []string{"XAI_BASE_URL"},
	},
	llm.ProviderJimeng: {
		keys:    []string{"JIMENG_ACCESS_KEY", "VOLC_ACCESSKEY"},
		secrets: []string{"JIMENG_SECRET_KEY", "VOLC_SECRETKEY"},
		baseURL: []string{"JIMENG_BASE_URL"},
	},
	llm.ProviderJimengWeb: {
		keys:    []string{"JIMENG_SESSION_ID"},
		baseURL: []string{"JIMENG_WEB_BASE_URL"},
	},
	llm.ProviderQwen: {
		keys:    []string{"DASHSCOPE_API_KEY", "QWEN_API_KEY"},
		baseURL: []string{"DASHSCOPE_BASE_URL"},
	},
	llm.ProviderOther: {
		keys:    []string{"GENSTUDIO_API_KEY"},
		baseURL: []string{"GENSTUDIO_BASE_URL"},
	},
}

// FromEnv 构造环境变量兜底凭据，没有可用 key 时返回 false。
func FromEnv(provider llm.ProviderKind, env EnvLookup) (llm.Credential, bool) {
	if env == nil {
		return llm.Credential{}, false
	}
	spec, ok := envSpecs[provider]
	if !ok {
		return llm.Credential{}, false
	}
	key := first(env, spec.keys)
	if key == "" {
		return llm.Credential{}, false
	}
	return llm.Credential{
		ID:       "env:" + string(provider),
		Provider: provider,
		Key:      key,
		Secret:   first(env, spec.secrets),
		BaseURL:  first(env, spec.baseURL),
		IsActive: true,
	}, true
}

func first(env EnvLookup, names []string) string {
	for _, n := range names {
		if v := strings.TrimSpace(env(n)); v != "" {
			return v
		}
	}
	return ""
}
