// Package telemetry 初始化检索管道的 OpenTelemetry 追踪端。
// 指标统一走 Prometheus（internal/metrics），此包只配置 OTLP gRPC
// 的 trace exporter 与全局传播器。遥测禁用时不连接任何外部服务，
// 全局 tracer provider 维持 noop。
package telemetry
