// Package providers 提供各传输层共享的线协议类型与 HTTP 辅助函数：
// OpenAI 兼容请求结构、错误响应解析与状态码分类。
package providers
