package tracing

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// NewTracer 创建 TracerProvider 并设置为全局 TracerProvider.
//
// 调用方负责在退出前调用 Shutdown 刷新尚未导出的 span.
func NewTracer(cfg *Config, serviceName, serviceVersion string) (*sdktrace.TracerProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if !cfg.Enabled {
		// 不注册导出器，span 只在进程内创建
		return sdktrace.NewTracerProvider(), nil
	}

	if serviceName == "" {
		return nil, ErrEmptyServiceName
	}

	exp, err := otlptracehttp.New(context.Background(), exporterOptions(cfg.OTLP)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateExporter, err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCreateResource, err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.samplingRate()))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, nil
}

// MustNewTracer 创建链路追踪器，失败时 panic.
func MustNewTracer(cfg *Config, serviceName, serviceVersion string) *sdktrace.TracerProvider {
	tp, err := NewTracer(cfg, serviceName, serviceVersion)
	if err != nil {
		panic(err)
	}
	return tp
}

// exporterOptions 根据端点前缀决定是否使用 TLS.
func exporterOptions(cfg *OTLPConfig) []otlptracehttp.Option {
	endpoint := cfg.Endpoint
	secure := false
	if after, ok := strings.CutPrefix(endpoint, "https://"); ok {
		endpoint = after
		secure = true
	} else if after, ok := strings.CutPrefix(endpoint, "http://"); ok {
		endpoint = after
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(strings.TrimSuffix(endpoint, "/")),
	}
	if !secure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	return opts
}
