// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 genstudio 的分发与视频轮询 span、OTel 指标提供全局 TracerProvider 和 MeterProvider。
// 遥测禁用时保持 noop 实现，不连接任何外部服务。
package telemetry
