// =============================================================================
// FusionRAG OpenTelemetry Tracing Initialization
// =============================================================================
// Wraps OTel SDK setup for the retrieval pipeline's stage spans. Metrics go
// through Prometheus (internal/metrics), so only the trace side is exported
// here. When telemetry is disabled, no exporter is created and the global
// tracer provider stays noop.
// =============================================================================

package telemetry

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/BaSui01/fusionrag/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"
)

// Tracing 持有检索管道的 TracerProvider。
// 遥测禁用时 provider 为 nil，Shutdown 是 no-op。
type Tracing struct {
	provider *sdktrace.TracerProvider
}

// Init 初始化 OTel 追踪端。cfg.Enabled 为 false 时返回 noop
// Tracing，不连接任何外部服务。
//
// 采样器用 ParentBased(TraceIDRatioBased)：HTTP 中间件从请求头
// 提取的上游采样决定优先于本地采样率，保证一次检索的 pipeline
// 各阶段 span 要么全采要么全不采。
func Init(cfg config.TelemetryConfig, logger *zap.Logger) (*Tracing, error) {
	if !cfg.Enabled {
		logger.Info("telemetry disabled, tracer provider stays noop")
		return &Tracing{}, nil
	}

	ctx := context.Background()

	version := buildVersion()
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create otel resource: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info("tracing initialized",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.String("service_name", cfg.ServiceName),
		zap.Float64("sample_rate", cfg.SampleRate),
	)

	return &Tracing{provider: provider}, nil
}

// Shutdown 冲刷未导出的 span 并关闭 exporter。
// 对 noop Tracing（nil provider）调用是安全的。
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	if err := t.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}

// buildVersion 从 Go build info 提取模块版本，取不到时回退 "dev"。
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
