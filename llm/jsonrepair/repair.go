// Package jsonrepair 将模型输出的自由文本解析为 JSON 值。
//
// 模型输出常见的问题：Markdown 代码围栏、前后解释性文字、尾随逗号、输出被截断。
// 修复按阶段进行，每个阶段只在前一阶段失败时执行：
//
//  1. 去掉代码围栏
//  2. 截取最外层数组/对象（数组的起始括号在前时优先）
//  3. 直接解析
//  4. 去掉闭合括号前的尾随逗号
//  5. 用栈补齐未闭合的括号，再去尾随逗号
//  6. 以上都失败时，对未截取的原文重复同样的阶段
package jsonrepair

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/BaSui01/genstudio/llm"
)

var fenceRe = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\r?\n?(.*?)```")

// Parse 解析文本为 JSON 值（map[string]any / []any / 标量）。
// 失败时返回 parse_failure 错误，detail 中带输入的前 100 个字符。
func Parse(text string) (any, error) {
	var v any
	if err := ParseInto(text, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// ParseInto 修复后解码到 v。
func ParseInto(text string, v any) error {
	repaired, err := Repair(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return llm.ParseFailure(text, err)
	}
	return nil
}

// Repair 返回可以被 encoding/json 解析的 JSON 文本。
func Repair(text string) (string, error) {
	unfenced := stripFences(text)

	var lastErr error
	seen := make(map[string]bool, 3)
	for _, candidate := range []string{outermostSpan(unfenced), unfenced, strings.TrimSpace(text)} {
		if candidate == "" || seen[candidate] {
			continue
		}
		seen[candidate] = true
		out, err := repairCandidate(candidate)
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("empty input")
	}
	return "", llm.ParseFailure(text, lastErr)
}

func repairCandidate(s string) (string, error) {
	err := validate(s)
	if err == nil {
		return s, nil
	}
	if fixed := stripTrailingCommas(s); validate(fixed) == nil {
		return fixed, nil
	}
	fixed := stripTrailingCommas(balance(s))
	if verr := validate(fixed); verr != nil {
		return "", err
	}
	return fixed, nil
}

func validate(s string) error {
	var v any
	return json.Unmarshal([]byte(s), &v)
}

// stripFences 去掉 Markdown 代码围栏。未闭合的围栏（截断输出）只去掉开头一行。
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		} else {
			rest = ""
		}
		return strings.TrimSpace(s[:i] + rest)
	}
	return s
}

// outermostSpan 按首个开括号与最后一个对应闭括号截取。
// 闭括号从开括号处开始扫描，忽略字符串字面量中的括号；
// 找不到闭括号时截取到末尾，交给补齐阶段处理。
func outermostSpan(s string) string {
	arr := strings.IndexByte(s, '[')
	obj := strings.IndexByte(s, '{')
	if arr < 0 && obj < 0 {
		return s
	}
	open, closer := obj, byte('}')
	if arr >= 0 && (obj < 0 || arr < obj) {
		open, closer = arr, ']'
	}
	end := lastCloser(s, open, closer)
	if end < 0 {
		return s[open:]
	}
	return s[open : end+1]
}

func lastCloser(s string, from int, closer byte) int {
	last := -1
	inString, escaped := false, false
	for i := from; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
		} else if c == closer {
			last = i
		}
	}
	return last
}

// stripTrailingCommas 删除字符串字面量之外、紧跟在 } ] 或结尾之前的逗号。
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j == len(s) || s[j] == '}' || s[j] == ']' {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// balance 用栈扫描补齐未闭合的字符串与括号。
// 每个 { [ 压入期望的闭括号，匹配的闭括号出栈，结束时按栈序追加剩余闭括号。
func balance(s string) string {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if n := len(stack); n > 0 && stack[n-1] == c {
				stack = stack[:n-1]
			}
		}
	}

	out := s
	if inString {
		if escaped {
			out = out[:len(out)-1]
		}
		out += `"`
	}
	if len(stack) == 0 {
		return out
	}

	// 截断在键或值之间时补一个 null 让结构完整
	trimmed := strings.TrimRightFunc(out, func(r rune) bool { return r < 128 && isSpace(byte(r)) })
	if strings.HasSuffix(trimmed, ":") {
		out = trimmed + "null"
	}

	var b strings.Builder
	b.WriteString(out)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
