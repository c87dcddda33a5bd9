// Package extract 从各传输层返回的原始响应体中提取文本与内联图像。
//
// 响应形态随后端而异：Gemini 的 candidates/parts、Chat Completions 的 choices、
// Anthropic 的 content 块、DALL-E 风格的 data 数组，以及把图像以 data URI
// 嵌在文本里返回的中转服务。提取按固定顺序的策略列表进行，每个字段取第一个命中的策略。
// 什么都没找到不是错误，调用方需要显式检查结果。
package extract

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/BaSui01/genstudio/llm"
)

// Extraction 提取结果
type Extraction struct {
	Text  string
	Image *llm.InlineImage

	// TextSource / ImageSource 记录命中的策略名，便于日志排查
	TextSource  string
	ImageSource string
}

// HasImage reports whether an image was found.
func (e Extraction) HasImage() bool {
	return e.Image != nil && (e.Image.Data != "" || e.Image.URL != "")
}

// Strategy 是一个提取步骤，只填充 out 中尚为空的字段。
type Strategy struct {
	Name  string
	Apply func(doc gjson.Result, out *Extraction)
}

var dataURIRe = regexp.MustCompile(`data:(image/[A-Za-z0-9.+-]+);base64,([A-Za-z0-9+/]+={0,2})`)

// DefaultStrategies 返回默认策略顺序：
// (a) candidates/parts 内联二进制 → (b) choices[0].message.content →
// (c) 文本中的 data URI → (d) tool call 参数 → (e) data[0].b64_json|url，
// 另附 Gemini 与 Anthropic 的文本字段。
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "candidates_inline_data", Apply: candidatesInlineData},
		{Name: "chat_message_content", Apply: chatMessageContent},
		{Name: "candidates_text", Apply: candidatesText},
		{Name: "anthropic_content_text", Apply: anthropicText},
		{Name: "text_data_uri", Apply: textDataURI},
		{Name: "chat_message_images", Apply: chatMessageImages},
		{Name: "tool_call_arguments", Apply: toolCallArguments},
		{Name: "images_data", Apply: imagesData},
	}
}

var defaultStrategies = DefaultStrategies()

// Extract 使用默认策略提取。非 JSON 输入被当作纯文本。
func Extract(raw []byte) Extraction {
	return ExtractWith(raw, defaultStrategies)
}

// ExtractWith 使用给定策略顺序提取。
func ExtractWith(raw []byte, strategies []Strategy) Extraction {
	var out Extraction
	if len(raw) == 0 {
		return out
	}
	if !gjson.ValidBytes(raw) {
		out.Text = strings.TrimSpace(string(raw))
		out.TextSource = "plain_text"
		textDataURI(gjson.Result{}, &out)
		if out.Image != nil {
			out.ImageSource = "text_data_uri"
		}
		return out
	}
	doc := gjson.ParseBytes(raw)
	for _, s := range strategies {
		s.Apply(doc, &out)
		if out.Text != "" && out.TextSource == "" {
			out.TextSource = s.Name
		}
		if out.Image != nil && out.ImageSource == "" {
			out.ImageSource = s.Name
		}
	}
	return out
}

// Text 是只关心文本时的便捷函数。
func Text(raw []byte) string { return Extract(raw).Text }

// (a) Gemini SDK / REST：candidates[].content.parts[].inlineData|inline_data
func candidatesInlineData(doc gjson.Result, out *Extraction) {
	if out.Image != nil {
		return
	}
	doc.Get("candidates").ForEach(func(_, cand gjson.Result) bool {
		cand.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
			blob := part.Get("inlineData")
			if !blob.Exists() {
				blob = part.Get("inline_data")
			}
			data := blob.Get("data").String()
			if data == "" {
				return true
			}
			mime := blob.Get("mimeType").String()
			if mime == "" {
				mime = blob.Get("mime_type").String()
			}
			out.Image = &llm.InlineImage{MIMEType: mime, Data: data}
			return false
		})
		return out.Image == nil
	})
}

// (b) choices[0].message.content，字符串或内容块数组
func chatMessageContent(doc gjson.Result, out *Extraction) {
	content := doc.Get("choices.0.message.content")
	if !content.Exists() {
		return
	}
	if content.Type == gjson.String {
		if out.Text == "" {
			out.Text = content.String()
		}
		return
	}
	if !content.IsArray() {
		return
	}
	var texts []string
	content.ForEach(func(_, item gjson.Result) bool {
		switch item.Get("type").String() {
		case "text", "output_text":
			if t := item.Get("text").String(); t != "" {
				texts = append(texts, t)
			}
		case "image_url":
			if out.Image == nil {
				out.Image = imageFromURL(item.Get("image_url.url").String())
			}
		}
		return true
	})
	if out.Text == "" && len(texts) > 0 {
		out.Text = strings.Join(texts, "\n")
	}
}

// Gemini 文本：candidates[0].content.parts[].text，跳过 thought 分片
func candidatesText(doc gjson.Result, out *Extraction) {
	if out.Text != "" {
		return
	}
	var texts []string
	doc.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if part.Get("thought").Bool() {
			return true
		}
		if t := part.Get("text").String(); t != "" {
			texts = append(texts, t)
		}
		return true
	})
	out.Text = strings.Join(texts, "")
}

// Anthropic Messages：content[type=text].text
func anthropicText(doc gjson.Result, out *Extraction) {
	if out.Text != "" || doc.Get("choices").Exists() {
		return
	}
	var texts []string
	doc.Get("content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			texts = append(texts, block.Get("text").String())
		}
		return true
	})
	out.Text = strings.Join(texts, "")
}

// (c) 中转服务把图像以 markdown/data URI 形式放在文本里
func textDataURI(_ gjson.Result, out *Extraction) {
	if out.Image != nil || out.Text == "" {
		return
	}
	if m := dataURIRe.FindStringSubmatch(out.Text); m != nil {
		out.Image = &llm.InlineImage{MIMEType: m[1], Data: m[2]}
	}
}

// OpenRouter 风格：choices[0].message.images[].image_url.url
func chatMessageImages(doc gjson.Result, out *Extraction) {
	if out.Image != nil {
		return
	}
	if u := doc.Get("choices.0.message.images.0.image_url.url").String(); u != "" {
		out.Image = imageFromURL(u)
	}
}

// (d) tool call 的函数参数 JSON
func toolCallArguments(doc gjson.Result, out *Extraction) {
	if out.Text != "" {
		return
	}
	args := doc.Get("choices.0.message.tool_calls.0.function.arguments")
	switch {
	case args.Type == gjson.String:
		out.Text = args.String()
	case args.IsObject() || args.IsArray():
		out.Text = args.Raw
	}
}

// (e) DALL-E / gpt-image：data[0].b64_json | data[0].url
func imagesData(doc gjson.Result, out *Extraction) {
	if out.Image != nil {
		return
	}
	first := doc.Get("data.0")
	if !first.Exists() || !first.IsObject() {
		return
	}
	if b64 := first.Get("b64_json").String(); b64 != "" {
		mime := "image/png"
		if f := doc.Get("output_format").String(); f != "" {
			mime = "image/" + f
		}
		out.Image = &llm.InlineImage{MIMEType: mime, Data: b64}
		return
	}
	if u := first.Get("url").String(); u != "" {
		out.Image = imageFromURL(u)
	}
	if out.Text == "" {
		out.Text = first.Get("revised_prompt").String()
	}
}

func imageFromURL(u string) *llm.InlineImage {
	if u == "" {
		return nil
	}
	if m := dataURIRe.FindStringSubmatch(u); m != nil {
		return &llm.InlineImage{MIMEType: m[1], Data: m[2]}
	}
	return &llm.InlineImage{URL: u}
}
