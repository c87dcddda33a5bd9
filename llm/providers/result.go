package providers

import (
	"encoding/json"

	"github.com/BaSui01/genstudio/llm"
	"github.com/BaSui01/genstudio/llm/extract"
)

// BuildResult 把原始响应体归一化为 GenerationResult。
// 响应体中的安全拒绝字段优先；既没有文本也没有图像时返回 malformed_response。
func BuildResult(call *llm.Call, raw []byte) (*llm.GenerationResult, error) {
	if detail, ok := llm.ClassifyPayload(raw); ok {
		return nil, &llm.Error{
			Kind:     llm.ErrContentPolicyRejected,
			Detail:   detail,
			Provider: call.Provider,
			Model:    call.Model,
		}
	}

	ext := extract.Extract(raw)
	if ext.Text == "" && !ext.HasImage() {
		return nil, llm.Malformed(call.Provider, call.Model, "response contained neither text nor an image")
	}

	res := &llm.GenerationResult{
		Text:     ext.Text,
		Image:    ext.Image,
		Provider: call.Provider,
		Model:    call.Model,
		Usage: llm.UsageEvent{
			CredentialID: call.Credential.ID,
			Provider:     call.Provider,
			Model:        call.Model,
		},
	}
	if json.Valid(raw) {
		res.Raw = append(json.RawMessage(nil), raw...)
	}
	return res, nil
}
