// Package openaicompat 实现 Chat Completions 协议的传输层，
// 服务于 OpenAI、DeepSeek、xAI、通义千问兼容模式、即梦方舟以及各类中转服务。
package openaicompat
