// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 DAGFlow 的运行与步骤 span 提供 TracerProvider 和 MeterProvider。
// 当遥测功能禁用时，使用 noop 实现，不连接任何外部服务。
package telemetry
