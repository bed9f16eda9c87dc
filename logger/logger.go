// Package logger 提供结构化日志记录功能.
//
// 对外只暴露 Logger 接口，默认实现基于 zap.
// 调度器等组件接收 Logger 接口，传 nil 表示不记录日志.
package logger

import "context"

// 日志类型常量.
const (
	TypeZap = "zap"
)

// 日志级别常量.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// 输出格式常量.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// 输出目标常量.
const (
	OutputStdout = "stdout"
	OutputStderr = "stderr"
)

// contextKey context 键类型.
type contextKey string

// 预定义的 context key，未启用 OpenTelemetry 时用于传递 trace 信息.
const (
	// TraceIDKey 用于在 context 中存储 traceId.
	TraceIDKey contextKey = "logger:traceId"
	// SpanIDKey 用于在 context 中存储 spanId.
	SpanIDKey contextKey = "logger:spanId"
)

// Field 表示一个日志字段.
type Field struct {
	Key   string
	Value any
}

// Logger 日志记录器接口.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)

	// With 返回附加字段的子 logger.
	With(fields ...Field) Logger
	// WithContext 返回附加 context 中 trace 信息的子 logger.
	WithContext(ctx context.Context) Logger

	Sync() error
	Close() error
}

// ContextWithTraceID 将 traceId 注入到 context.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// ContextWithSpanID 将 spanId 注入到 context.
func ContextWithSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, SpanIDKey, spanID)
}

// NewLogger 创建 logger 实例.
func NewLogger(config *Config) (Logger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.ApplyDefaults()

	switch config.Type {
	case TypeZap:
		return newZapLogger(config)
	default:
		return nil, &ConfigError{Field: "type", Message: "unsupported logger type: " + config.Type}
	}
}

// MustNewLogger 创建 logger 实例，失败时 panic.
func MustNewLogger(config *Config) Logger {
	l, err := NewLogger(config)
	if err != nil {
		panic(err)
	}
	return l
}
