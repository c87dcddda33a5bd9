package video

import (
	"net/http"

	"github.com/BaSui01/genstudio/llm"
)

// BackendFor 按 Provider 与凭据选择视频后端。
// Google 未配置 BaseURL 时走 Veo 官方接口，配置了 BaseURL 则视为中转服务。
func BackendFor(provider llm.ProviderKind, cred llm.Credential, model string, client *http.Client) (Backend, error) {
	switch provider {
	case llm.ProviderGoogle:
		if cred.HasBaseURL() {
			return NewRelayBackend(client, provider), nil
		}
		return NewVeoBackend(client, ""), nil
	case llm.ProviderJimeng:
		return NewJimengBackend(client), nil
	case llm.ProviderJimengWeb:
		return NewJimengWebBackend(client), nil
	case llm.ProviderOpenAI, llm.ProviderQwen, llm.ProviderOther:
		return NewRelayBackend(client, provider), nil
	default:
		return nil, llm.Unsupported(provider, model, "video generation")
	}
}
