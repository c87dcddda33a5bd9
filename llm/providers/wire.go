package providers

import (
	"strings"

	"github.com/BaSui01/genstudio/llm"
)

// JSONInstruction 追加到最后一个文本分片，要求兼容后端只输出 JSON。
// 并非所有兼容端点都支持 response_format，因此始终以文本形式声明。
const JSONInstruction = "Respond with raw JSON only. Do not wrap it in markdown code fences and do not add any explanation."

// OpenAI 兼容 API 通用类型
// 这些类型被 OpenAI、DeepSeek、xAI、Qwen、Jimeng 以及各类中转服务共用.

// ChatMessage 表示 OpenAI 兼容的消息格式.
// Content 为 string 或 []ContentBlock.
type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// ContentBlock 表示多模态消息中的一个内容块.
type ContentBlock struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL 图像引用，可以是 https URL 或 data URI.
type ImageURL struct {
	URL string `json:"url"`
}

// ResponseFormat 结构化输出声明.
type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatRequest 表示 OpenAI 兼容的聊天完成请求.
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float32        `json:"temperature,omitempty"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	Modalities     []string        `json:"modalities,omitempty"`
	Stream         bool            `json:"stream"`
}

// BuildMessages 将归一化请求转换为消息列表：
// SystemInstruction 成为 system 消息，全部分片合并为一条 user 消息。
// 含图像分片时 content 为内容块数组，纯文本时为字符串。
func BuildMessages(req *llm.GenerationRequest) []ChatMessage {
	msgs := make([]ChatMessage, 0, 2)
	if s := strings.TrimSpace(req.SystemInstruction); s != "" {
		msgs = append(msgs, ChatMessage{Role: "system", Content: s})
	}

	parts := req.Parts
	if req.JSONMode {
		parts = AppendJSONInstruction(parts)
	}

	hasInline := false
	for _, p := range parts {
		if p.IsInline() {
			hasInline = true
			break
		}
	}
	if !hasInline {
		text := (&llm.GenerationRequest{Parts: parts}).Text()
		return append(msgs, ChatMessage{Role: "user", Content: text})
	}

	blocks := make([]ContentBlock, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.IsInline():
			blocks = append(blocks, ContentBlock{Type: "image_url", ImageURL: &ImageURL{URL: p.DataURI()}})
		case p.Text != "":
			blocks = append(blocks, ContentBlock{Type: "text", Text: p.Text})
		}
	}
	return append(msgs, ChatMessage{Role: "user", Content: blocks})
}

// AppendJSONInstruction 返回在最后一个文本分片末尾追加 JSON 指令的副本；
// 没有文本分片时追加一个新的文本分片。原切片不被修改。
func AppendJSONInstruction(parts []llm.ContentPart) []llm.ContentPart {
	out := make([]llm.ContentPart, len(parts))
	copy(out, parts)
	for i := len(out) - 1; i >= 0; i-- {
		if !out[i].IsInline() && out[i].Text != "" {
			out[i].Text = strings.TrimRight(out[i].Text, "\n") + "\n\n" + JSONInstruction
			return out
		}
	}
	return append(out, llm.TextPart(JSONInstruction))
}
